package models

import (
	"time"

	"riskguard/pkg/utils"
)

// RiskLimits лимиты риска. Заменяются целиком через ConfigureLimits.
type RiskLimits struct {
	MaxPositionSize  float64 `json:"max_position_size"`  // в валюте счёта
	MaxDailyLoss     float64 `json:"max_daily_loss"`     // в валюте счёта, положительное число
	MaxOpenPositions int     `json:"max_open_positions"`
	RiskPerTrade     float64 `json:"risk_per_trade"` // доля капитала, 0.02 = 2%
	LotSize          float64 `json:"lot_size"`       // шаг объёма, 0 = дробные объёмы
	MinOrderValue    float64 `json:"min_order_value"`
}

// DefaultRiskLimits значения по умолчанию
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionSize:  1000,
		MaxDailyLoss:     500,
		MaxOpenPositions: 5,
		RiskPerTrade:     0.02,
		LotSize:          0,
		MinOrderValue:    1,
	}
}

// Validate проверяет все поля разом
func (l RiskLimits) Validate() error {
	var errs utils.ValidationErrors

	if !utils.IsFinitePositive(l.MaxPositionSize) {
		errs.Add("max_position_size", "must be greater than 0")
	}
	if !utils.IsFinitePositive(l.MaxDailyLoss) {
		errs.Add("max_daily_loss", "must be greater than 0")
	}
	if l.MaxOpenPositions < 1 {
		errs.Add("max_open_positions", "must be at least 1")
	}
	if !utils.IsFinitePositive(l.RiskPerTrade) || l.RiskPerTrade > 1 {
		errs.Add("risk_per_trade", "must be in range (0, 1]")
	}
	if !utils.IsFinite(l.LotSize) || l.LotSize < 0 {
		errs.Add("lot_size", "must be 0 or greater")
	}
	if !utils.IsFinite(l.MinOrderValue) || l.MinOrderValue < 0 {
		errs.Add("min_order_value", "must be 0 or greater")
	}

	return ValidationFromFields(errs)
}

// TradingHaltState флаг остановки торговли. Снимается только дневным сбросом.
type TradingHaltState struct {
	Halted    bool       `json:"halted"`
	Reason    string     `json:"reason,omitempty"`
	HaltedAt  *time.Time `json:"halted_at,omitempty"`
	LastReset time.Time  `json:"last_reset"`
}

// Причины отказа риск-менеджера
const (
	RejectHalted            = "trading halted"
	RejectMaxOpenPositions  = "max open positions reached"
	RejectMaxPositionSize   = "order value exceeds max position size"
	RejectBuyingPower       = "insufficient buying power"
	RejectInvalidOrder      = "invalid order"
	RejectBelowMinimumOrder = "buying power below minimum order value"
	RejectZeroSize          = "position size rounds to zero"
)

// RiskDecision результат риск-проверки
type RiskDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func Allow() RiskDecision { return RiskDecision{Allowed: true} }

func Reject(reason string) RiskDecision { return RiskDecision{Reason: reason} }

// Err nil для разрешённого решения, иначе *RiskRejectedError
func (d RiskDecision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RiskRejectedError{Reason: d.Reason}
}

// RiskStatus снимок состояния риск-менеджера для дашборда
type RiskStatus struct {
	Limits        RiskLimits       `json:"limits"`
	Halt          TradingHaltState `json:"halt"`
	DailyPnL      float64          `json:"daily_pnl"`
	LastAccount   *AccountInfo     `json:"last_account,omitempty"`
	OpenPositions int              `json:"open_positions"`
}
