package models

import "time"

// Стороны ордера
const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

// Типы ордеров
const (
	OrderTypeMarket    = "market"
	OrderTypeLimit     = "limit"
	OrderTypeStop      = "stop"
	OrderTypeStopLimit = "stop_limit"
)

// Статусы ордера
const (
	OrderStatusPending         = "pending"
	OrderStatusNew             = "new"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCancelled       = "cancelled"
	OrderStatusRejected        = "rejected"
	OrderStatusExpired         = "expired"
)

// OrderStatusFinal ордер больше не изменится
func OrderStatusFinal(status string) bool {
	switch status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// OrderStatusFailed ордер завершился без исполнения
func OrderStatusFailed(status string) bool {
	switch status {
	case OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// OrderRequest заявка брокеру
type OrderRequest struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Quantity      float64 `json:"qty"`
	LimitPrice    float64 `json:"limit_price,omitempty"`
	ClientOrderID string  `json:"client_order_id"`
}

// Notional стоимость заявки по цене price
func (r OrderRequest) Notional(price float64) float64 {
	return r.Quantity * price
}

// OrderResult состояние ордера у брокера
type OrderResult struct {
	OrderID        string     `json:"order_id"`
	ClientOrderID  string     `json:"client_order_id"`
	Symbol         string     `json:"symbol"`
	Side           string     `json:"side"`
	Type           string     `json:"type"`
	Quantity       float64    `json:"qty"`
	FilledQuantity float64    `json:"filled_qty"`
	AvgFillPrice   float64    `json:"filled_avg_price"`
	Status         string     `json:"status"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FilledAt       *time.Time `json:"filled_at,omitempty"`
}

// FullyFilled исполнен ли ордер полностью
func (o OrderResult) FullyFilled() bool {
	return o.Status == OrderStatusFilled
}

// TradeRecord запись о выходе по стопу/тейку
type TradeRecord struct {
	ID            int64           `json:"id" db:"id"`
	OrderID       string          `json:"order_id" db:"order_id"`
	ClientOrderID string          `json:"client_order_id" db:"client_order_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Side          string          `json:"side" db:"side"`
	Quantity      float64         `json:"qty" db:"qty"`
	Reason        TriggerDecision `json:"reason" db:"reason"`
	TriggerPrice  float64         `json:"trigger_price" db:"trigger_price"`
	StopLevel     float64         `json:"stop_level" db:"stop_level"`
	EntryPrice    float64         `json:"entry_price" db:"entry_price"`
	Status        string          `json:"status" db:"status"`
	FilledQty     float64         `json:"filled_qty" db:"filled_qty"`
	AvgFillPrice  float64         `json:"filled_avg_price" db:"filled_avg_price"`
	RealizedPnL   *float64        `json:"realized_pnl,omitempty" db:"realized_pnl"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}
