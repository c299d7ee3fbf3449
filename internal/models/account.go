package models

import "time"

// AccountInfo снимок счёта, обновляется каждый цикл мониторинга
type AccountInfo struct {
	Cash               float64   `json:"cash"`
	BuyingPower        float64   `json:"buying_power"`
	PortfolioValue     float64   `json:"portfolio_value"`
	DailyRealizedPnL   float64   `json:"daily_realized_pnl"`
	DailyUnrealizedPnL float64   `json:"daily_unrealized_pnl"`
	OpenPositions      int       `json:"open_positions"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// DailyPnL реализованный + нереализованный PnL за день
func (a AccountInfo) DailyPnL() float64 {
	return a.DailyRealizedPnL + a.DailyUnrealizedPnL
}

// Стороны позиции
const (
	PositionSideLong  = "long"
	PositionSideShort = "short"
	PositionSideFlat  = "flat"
)

// Position открытая позиция. Quantity со знаком: > 0 лонг, < 0 шорт.
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
}

func (p Position) Side() string {
	switch {
	case p.Quantity > 0:
		return PositionSideLong
	case p.Quantity < 0:
		return PositionSideShort
	default:
		return PositionSideFlat
	}
}

// AbsQuantity объём позиции без знака
func (p Position) AbsQuantity() float64 {
	if p.Quantity < 0 {
		return -p.Quantity
	}
	return p.Quantity
}

// ExitSide сторона ордера, закрывающего позицию
func (p Position) ExitSide() string {
	if p.Quantity < 0 {
		return OrderSideBuy
	}
	return OrderSideSell
}

// Bar свеча исторических данных
type Bar struct {
	Time   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}
