package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
)

// ============ StopConfig Tests ============

func TestStopConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       StopConfig
		wantField string // пусто: ошибки быть не должно
	}{
		{
			name: "fixed",
			cfg:  StopConfig{Symbol: "AAPL", Kind: StopKindFixed, EntryPrice: 100, StopPrice: 95},
		},
		{
			name: "percentage with take profit",
			cfg:  StopConfig{Symbol: "BRK.B", Kind: StopKindPercentage, EntryPrice: 100, StopPercentage: 5, TakeProfitPercentage: 10},
		},
		{
			name: "trailing crypto pair",
			cfg:  StopConfig{Symbol: "BTC/USD", Kind: StopKindTrailing, EntryPrice: 60000, TrailingPercentage: 3},
		},
		{
			name:      "fixed without stop price",
			cfg:       StopConfig{Symbol: "AAPL", Kind: StopKindFixed, EntryPrice: 100},
			wantField: "stop_price",
		},
		{
			name:      "fixed with percentage",
			cfg:       StopConfig{Symbol: "AAPL", Kind: StopKindFixed, EntryPrice: 100, StopPrice: 95, StopPercentage: 5},
			wantField: "stop_percentage",
		},
		{
			name:      "percentage of 100",
			cfg:       StopConfig{Symbol: "AAPL", Kind: StopKindPercentage, EntryPrice: 100, StopPercentage: 100},
			wantField: "stop_percentage",
		},
		{
			name:      "trailing with stop price",
			cfg:       StopConfig{Symbol: "AAPL", Kind: StopKindTrailing, EntryPrice: 100, TrailingPercentage: 2, StopPrice: 90},
			wantField: "stop_price",
		},
		{
			name:      "unknown kind",
			cfg:       StopConfig{Symbol: "AAPL", Kind: "bracket", EntryPrice: 100},
			wantField: "kind",
		},
		{
			name:      "lowercase symbol",
			cfg:       StopConfig{Symbol: "aapl", Kind: StopKindFixed, EntryPrice: 100, StopPrice: 95},
			wantField: "symbol",
		},
		{
			name:      "NaN entry",
			cfg:       StopConfig{Symbol: "AAPL", Kind: StopKindFixed, EntryPrice: math.NaN(), StopPrice: 95},
			wantField: "entry_price",
		},
		{
			name:      "both take profit forms",
			cfg:       StopConfig{Symbol: "AAPL", Kind: StopKindFixed, EntryPrice: 100, StopPrice: 95, TakeProfitPrice: 110, TakeProfitPercentage: 10},
			wantField: "take_profit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("неожиданная ошибка: %v", err)
				}
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("ожидалась ValidationError, получено %v", err)
			}
			if _, ok := verr.Fields[tt.wantField]; !ok {
				t.Errorf("ожидалась ошибка поля %q, получено %v", tt.wantField, verr.Fields)
			}
			if !errors.Is(err, ErrValidation) {
				t.Error("ошибка должна соответствовать ErrValidation")
			}
		})
	}
}

func TestValidateTakeProfit(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		pct      float64
		optional bool
		wantErr  bool
	}{
		{"none optional", 0, 0, true, false},
		{"none required", 0, 0, false, true},
		{"price", 110, 0, false, false},
		{"percentage above 100", 0, 150, false, false},
		{"both", 110, 10, true, true},
		{"negative price", -1, 0, true, true},
		{"infinite percentage", 0, math.Inf(1), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTakeProfit(tt.price, tt.pct, tt.optional)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTakeProfit(%v, %v, %v) = %v, wantErr %v", tt.price, tt.pct, tt.optional, err, tt.wantErr)
			}
		})
	}
}

func TestStopConfig_StateHelpers(t *testing.T) {
	cfg := StopConfig{State: StopStateStale, TakeProfitPrice: 120}
	if !cfg.Monitored() || !cfg.HasTakeProfit() {
		t.Errorf("stale конфигурация с тейком должна опрашиваться: %+v", cfg)
	}

	cfg.State = StopStateTriggered
	if cfg.Monitored() {
		t.Error("сработавшая конфигурация не должна опрашиваться")
	}

	if DecisionNone.Hit() || !DecisionStopHit.Hit() || !DecisionTakeProfitHit.Hit() {
		t.Error("неверный Hit для решений")
	}
}

func TestStopConfig_JSONOmitsEmptyOptionalFields(t *testing.T) {
	data, err := json.Marshal(StopConfig{Symbol: "AAPL", Kind: StopKindFixed, StopPrice: 95, EntryPrice: 100, State: StopStateActive})
	if err != nil {
		t.Fatalf("ошибка сериализации: %v", err)
	}

	s := string(data)
	for _, field := range []string{"take_profit_price", "triggered_at", "last_trigger_order_id", "stop_percentage"} {
		if strings.Contains(s, field) {
			t.Errorf("пустое поле %q не должно быть в JSON: %s", field, s)
		}
	}
	for _, field := range []string{`"stop_price":95`, `"state":"active"`, `"entry_price":100`} {
		if !strings.Contains(s, field) {
			t.Errorf("ожидалось %s в JSON: %s", field, s)
		}
	}
}

// ============ RiskLimits Tests ============

func TestRiskLimits_Validate(t *testing.T) {
	if err := DefaultRiskLimits().Validate(); err != nil {
		t.Fatalf("лимиты по умолчанию должны быть валидны: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*RiskLimits)
		field  string
	}{
		{"zero position size", func(l *RiskLimits) { l.MaxPositionSize = 0 }, "max_position_size"},
		{"infinite daily loss", func(l *RiskLimits) { l.MaxDailyLoss = math.Inf(1) }, "max_daily_loss"},
		{"no positions", func(l *RiskLimits) { l.MaxOpenPositions = 0 }, "max_open_positions"},
		{"risk above one", func(l *RiskLimits) { l.RiskPerTrade = 1.5 }, "risk_per_trade"},
		{"negative lot", func(l *RiskLimits) { l.LotSize = -1 }, "lot_size"},
		{"NaN min order", func(l *RiskLimits) { l.MinOrderValue = math.NaN() }, "min_order_value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := DefaultRiskLimits()
			tt.mutate(&limits)

			var verr *ValidationError
			if err := limits.Validate(); !errors.As(err, &verr) {
				t.Fatalf("ожидалась ValidationError, получено %v", err)
			}
			if len(verr.Fields) != 1 {
				t.Errorf("ожидалась одна ошибка, получено %v", verr.Fields)
			}
			if _, ok := verr.Fields[tt.field]; !ok {
				t.Errorf("ожидалась ошибка поля %q, получено %v", tt.field, verr.Fields)
			}
		})
	}
}

func TestRiskDecision_Err(t *testing.T) {
	if err := Allow().Err(); err != nil {
		t.Errorf("разрешённое решение не должно давать ошибку: %v", err)
	}

	err := Reject(RejectHalted).Err()
	if !errors.Is(err, ErrRiskRejected) || !errors.Is(err, ErrTradingHalted) {
		t.Errorf("отказ из-за остановки должен соответствовать ErrRiskRejected и ErrTradingHalted: %v", err)
	}

	err = Reject(RejectMaxOpenPositions).Err()
	if errors.Is(err, ErrTradingHalted) {
		t.Error("отказ по лимиту позиций не является остановкой торговли")
	}
}

// ============ Errors Tests ============

func TestErrorCategories(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"collaborator", &CollaboratorError{Source: "broker", Op: "get_price", Transient: true, Err: cause}, ErrCollaborator},
		{"persistence", &PersistenceError{Op: "save_trade", Err: cause}, ErrPersistence},
		{"invariant", &InvariantViolation{Symbol: "AAPL", Detail: "exit already in flight"}, ErrInvariant},
		{"validation", NewValidationError("bad %s", "input"), ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("context: %w", tt.err)
			if !errors.Is(wrapped, tt.target) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.target)
			}
		})
	}

	collab := &CollaboratorError{Source: "broker", Op: "submit_order", Err: cause}
	if !errors.Is(collab, cause) {
		t.Error("CollaboratorError должна разворачиваться до причины")
	}
	if collab.Retryable() {
		t.Error("непереходная ошибка не должна повторяться")
	}
}

func TestValidationError_ErrorIsDeterministic(t *testing.T) {
	err := &ValidationError{Message: "invalid input", Fields: map[string]string{"b": "two", "a": "one"}}
	want := "validation: invalid input (a: one; b: two)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

// ============ Account / Order Tests ============

func TestPosition_Sides(t *testing.T) {
	tests := []struct {
		qty      float64
		side     string
		exitSide string
		abs      float64
	}{
		{10, PositionSideLong, OrderSideSell, 10},
		{-4, PositionSideShort, OrderSideBuy, 4},
		{0, PositionSideFlat, OrderSideSell, 0},
	}

	for _, tt := range tests {
		p := Position{Symbol: "AAPL", Quantity: tt.qty}
		if p.Side() != tt.side || p.ExitSide() != tt.exitSide || p.AbsQuantity() != tt.abs {
			t.Errorf("qty %v: side=%s exit=%s abs=%v", tt.qty, p.Side(), p.ExitSide(), p.AbsQuantity())
		}
	}
}

func TestOrderStatus(t *testing.T) {
	tests := []struct {
		status string
		final  bool
		failed bool
	}{
		{OrderStatusNew, false, false},
		{OrderStatusPartiallyFilled, false, false},
		{OrderStatusFilled, true, false},
		{OrderStatusRejected, true, true},
		{OrderStatusExpired, true, true},
	}

	for _, tt := range tests {
		if OrderStatusFinal(tt.status) != tt.final || OrderStatusFailed(tt.status) != tt.failed {
			t.Errorf("%s: final=%v failed=%v", tt.status, OrderStatusFinal(tt.status), OrderStatusFailed(tt.status))
		}
	}

	if (OrderResult{Status: OrderStatusFilled}).FullyFilled() != true {
		t.Error("filled ордер должен быть полностью исполнен")
	}
	if got := (OrderRequest{Quantity: 3}).Notional(12.5); got != 37.5 {
		t.Errorf("Notional = %v, want 37.5", got)
	}
}

func TestAccountInfo_DailyPnL(t *testing.T) {
	a := AccountInfo{DailyRealizedPnL: -120, DailyUnrealizedPnL: 45}
	if a.DailyPnL() != -75 {
		t.Errorf("DailyPnL = %v, want -75", a.DailyPnL())
	}
}
