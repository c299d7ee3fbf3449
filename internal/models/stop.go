package models

import (
	"time"

	"riskguard/pkg/utils"
)

// StopKind тип стопа
type StopKind string

const (
	StopKindFixed      StopKind = "fixed"
	StopKindPercentage StopKind = "percentage"
	StopKindTrailing   StopKind = "trailing"
)

func (k StopKind) Valid() bool {
	switch k {
	case StopKindFixed, StopKindPercentage, StopKindTrailing:
		return true
	}
	return false
}

// StopState состояние защитной конфигурации
type StopState string

const (
	StopStateActive    StopState = "active"
	StopStateTriggered StopState = "triggered"
	StopStateRemoved   StopState = "removed"
	StopStateStale     StopState = "stale"
)

// TriggerDecision результат оценки цены
type TriggerDecision string

const (
	DecisionNone          TriggerDecision = "none"
	DecisionStopHit       TriggerDecision = "stop_loss"
	DecisionTakeProfitHit TriggerDecision = "take_profit"
)

// Hit true для решений, требующих выхода
func (d TriggerDecision) Hit() bool {
	return d == DecisionStopHit || d == DecisionTakeProfitHit
}

// StopConfig защитная конфигурация одного символа.
// Процентные поля в пунктах: 2 означает 2%.
type StopConfig struct {
	Symbol string   `json:"symbol"`
	Kind   StopKind `json:"kind"`

	StopPrice          float64 `json:"stop_price,omitempty"`
	StopPercentage     float64 `json:"stop_percentage,omitempty"`
	TrailingPercentage float64 `json:"trailing_percentage,omitempty"`

	TakeProfitPrice      float64 `json:"take_profit_price,omitempty"`
	TakeProfitPercentage float64 `json:"take_profit_percentage,omitempty"`

	EntryPrice    float64 `json:"entry_price"`
	HighWaterMark float64 `json:"high_water_mark"`

	State StopState `json:"state"`

	// LastTriggerOrderID client_order_id выходного ордера; пишется до отправки
	LastTriggerOrderID string          `json:"last_trigger_order_id,omitempty"`
	BrokerOrderID      string          `json:"broker_order_id,omitempty"`
	TriggerReason      TriggerDecision `json:"trigger_reason,omitempty"`
	TriggerPrice       float64         `json:"trigger_price,omitempty"`
	TriggeredAt        *time.Time      `json:"triggered_at,omitempty"`

	LastPrice           float64   `json:"last_price,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	NextPollAt          time.Time `json:"next_poll_at,omitempty"`

	Generation uint64    `json:"generation"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasTakeProfit задан ли тейк-профит
func (c StopConfig) HasTakeProfit() bool {
	return c.TakeProfitPrice > 0 || c.TakeProfitPercentage > 0
}

// Monitored участвует ли конфигурация в опросе цен
func (c StopConfig) Monitored() bool {
	return c.State == StopStateActive || c.State == StopStateStale
}

// Validate проверяет поля, нужные виду стопа; лишние поля тоже ошибка
func (c StopConfig) Validate() error {
	var errs utils.ValidationErrors

	errs.AddError("symbol", utils.ValidateSymbol(c.Symbol))
	errs.AddError("entry_price", utils.ValidatePrice(c.EntryPrice))

	switch c.Kind {
	case StopKindFixed:
		errs.AddError("stop_price", utils.ValidatePrice(c.StopPrice))
		forbid(&errs, "stop_percentage", c.StopPercentage, c.Kind)
		forbid(&errs, "trailing_percentage", c.TrailingPercentage, c.Kind)
	case StopKindPercentage:
		errs.AddError("stop_percentage", utils.ValidatePercentage(c.StopPercentage))
		forbid(&errs, "stop_price", c.StopPrice, c.Kind)
		forbid(&errs, "trailing_percentage", c.TrailingPercentage, c.Kind)
	case StopKindTrailing:
		errs.AddError("trailing_percentage", utils.ValidatePercentage(c.TrailingPercentage))
		forbid(&errs, "stop_price", c.StopPrice, c.Kind)
		forbid(&errs, "stop_percentage", c.StopPercentage, c.Kind)
	default:
		errs.Add("kind", "must be one of fixed, percentage, trailing")
	}

	if err := ValidateTakeProfit(c.TakeProfitPrice, c.TakeProfitPercentage, true); err != nil {
		errs.Add("take_profit", err.Error())
	}

	return ValidationFromFields(errs)
}

// ValidateTakeProfit не более одного из price/pct; optional=false требует ровно один
func ValidateTakeProfit(price, pct float64, optional bool) error {
	switch {
	case price != 0 && pct != 0:
		return NewValidationError("take_profit_price and take_profit_percentage are mutually exclusive")
	case price != 0:
		if err := utils.ValidatePrice(price); err != nil {
			return NewValidationError("take_profit_price: %v", err)
		}
	case pct != 0:
		if !utils.IsFinitePositive(pct) {
			return NewValidationError("take_profit_percentage must be greater than 0")
		}
	case !optional:
		return NewValidationError("take_profit_price or take_profit_percentage is required")
	}
	return nil
}

func forbid(errs *utils.ValidationErrors, field string, v float64, kind StopKind) {
	if v != 0 {
		errs.Add(field, "not allowed for "+string(kind)+" stop")
	}
}

// Evaluation результат оценки одной цены
type Evaluation struct {
	Decision        TriggerDecision `json:"decision"`
	Price           float64         `json:"price"`
	HighWaterMark   float64         `json:"high_water_mark"`
	StopLevel       float64         `json:"stop_level"`
	TakeProfitLevel float64         `json:"take_profit_level,omitempty"`
}
