package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

// math.go - математика для расчёта объёмов и уровней защиты
//
// Все функции чистые, без побочных эффектов.

// RoundToLotSize округляет ВНИЗ до кратного lotSize.
// Округление вниз гарантирует, что позиция не превысит лимит.
// lotSize <= 0 означает дробные объёмы: значение возвращается как есть.
//
//   - RoundToLotSize(12.7, 1) = 12
//   - RoundToLotSize(0.123456, 0.001) = 0.123
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	// Компенсация погрешности float: 0.3/0.1 = 2.9999999999999996
	steps := math.Floor(value/lotSize + 1e-9)
	return steps * lotSize
}

// PercentOffset уровень на pct процентов выше (up=true) или ниже base.
// Считается в decimal: уровни сравниваются с ценой на точное равенство.
//
//	PercentOffset(100, 2, false) = 98
//	PercentOffset(100, 5, true)  = 105
func PercentOffset(base, pct float64, up bool) float64 {
	if !IsFinite(base) || !IsFinite(pct) {
		return math.NaN()
	}
	factor := decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100))
	if up {
		factor = decimal.NewFromInt(1).Add(factor)
	} else {
		factor = decimal.NewFromInt(1).Sub(factor)
	}
	return decimal.NewFromFloat(base).Mul(factor).InexactFloat64()
}

// CalculatePNL PnL позиции.
// side: "long" или "short"; quantity всегда положительное.
//
//	LONG:  (current - entry) * qty
//	SHORT: (entry - current) * qty
func CalculatePNL(side string, entryPrice, currentPrice, quantity float64) float64 {
	switch side {
	case "long", "buy":
		return (currentPrice - entryPrice) * quantity
	case "short", "sell":
		return (entryPrice - currentPrice) * quantity
	default:
		return 0
	}
}

// IsFinitePositive true для конечного числа > 0
func IsFinitePositive(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0) && x > 0
}

// IsFinite true для числа без NaN/Inf
func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func Abs(x float64) float64 {
	return math.Abs(x)
}

func Min(a, b float64) float64 {
	return math.Min(a, b)
}

func Max(a, b float64) float64 {
	return math.Max(a, b)
}

// Clamp ограничивает значение диапазоном [min, max]
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
