package utils

import (
	"math"
	"testing"
)

// ============================================================
// Тесты RoundToLotSize
// ============================================================

func TestRoundToLotSize(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		lotSize  float64
		expected float64
	}{
		{"whole shares", 12.7, 1, 12},
		{"exact whole", 10, 1, 10},
		{"fractional lot", 0.123456, 0.001, 0.123},
		{"float artefact", 0.3, 0.1, 0.3},
		{"zero value", 0, 1, 0},
		{"fractional allowed", 33.3333, 0, 33.3333},
		{"negative lot", 5.5, -1, 5.5},
		{"below one lot", 0.9, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RoundToLotSize(tt.value, tt.lotSize)
			if !floatEquals(result, tt.expected) {
				t.Errorf("RoundToLotSize(%v, %v) = %v, want %v",
					tt.value, tt.lotSize, result, tt.expected)
			}
		})
	}
}

func TestPercentOffset(t *testing.T) {
	tests := []struct {
		name     string
		base     float64
		pct      float64
		up       bool
		expected float64
	}{
		{"long stop 2%", 100, 2, false, 98},
		{"long take profit 5%", 100, 5, true, 105},
		{"trailing from hwm", 110, 5, false, 104.5},
		{"short stop 3%", 50, 3, true, 51.5},
		{"zero pct", 100, 0, true, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := PercentOffset(tt.base, tt.pct, tt.up)
			if !floatEquals(result, tt.expected) {
				t.Errorf("PercentOffset(%v, %v, %v) = %v, want %v",
					tt.base, tt.pct, tt.up, result, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты CalculatePNL
// ============================================================

func TestCalculatePNL(t *testing.T) {
	tests := []struct {
		name         string
		side         string
		entryPrice   float64
		currentPrice float64
		quantity     float64
		expected     float64
	}{
		{"long profit", "long", 100.0, 110.0, 1.0, 10.0},
		{"long loss", "long", 100.0, 94.0, 10.0, -60.0},
		{"long via buy side", "buy", 100.0, 110.0, 2.0, 20.0},
		{"short profit", "short", 100.0, 90.0, 1.0, 10.0},
		{"short loss", "short", 100.0, 110.0, 1.0, -10.0},
		{"zero quantity", "long", 100.0, 110.0, 0, 0},
		{"unknown side", "flat", 100.0, 110.0, 1.0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculatePNL(tt.side, tt.entryPrice, tt.currentPrice, tt.quantity)
			if !floatEquals(result, tt.expected) {
				t.Errorf("CalculatePNL(%s, %v, %v, %v) = %v, want %v",
					tt.side, tt.entryPrice, tt.currentPrice, tt.quantity,
					result, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты утилит
// ============================================================

func TestIsFinitePositive(t *testing.T) {
	tests := []struct {
		value    float64
		expected bool
	}{
		{1, true},
		{0.0001, true},
		{0, false},
		{-1, false},
		{math.NaN(), false},
		{math.Inf(1), false},
	}

	for _, tt := range tests {
		if got := IsFinitePositive(tt.value); got != tt.expected {
			t.Errorf("IsFinitePositive(%v) = %v, want %v", tt.value, got, tt.expected)
		}
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		value, min, max, expected float64
	}{
		{5, 0, 10, 5},
		{-5, 0, 10, 0},
		{15, 0, 10, 10},
		{0, 0, 10, 0},
		{10, 0, 10, 10},
	}

	for _, tt := range tests {
		result := Clamp(tt.value, tt.min, tt.max)
		if result != tt.expected {
			t.Errorf("Clamp(%v, %v, %v) = %v, want %v",
				tt.value, tt.min, tt.max, result, tt.expected)
		}
	}
}

func BenchmarkRoundToLotSize(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RoundToLotSize(33.333333, 1)
	}
}

// ============================================================
// Вспомогательные функции
// ============================================================

const floatEpsilon = 1e-6

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatEpsilon
}
