package service

import (
	"context"
	"strings"

	"riskguard/internal/models"
)

// TradeService история выходов по стопам и тейкам
type TradeService struct {
	tradeRepo TradeRepositoryInterface
}

// NewTradeService создает новый экземпляр TradeService.
// Без репозитория история пустая.
func NewTradeService(tradeRepo TradeRepositoryInterface) *TradeService {
	return &TradeService{tradeRepo: tradeRepo}
}

// GetTrades последние выходы; symbol фильтрует по символу
func (s *TradeService) GetTrades(ctx context.Context, symbol string, limit int) ([]*models.TradeRecord, error) {
	if s.tradeRepo == nil {
		return []*models.TradeRecord{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol != "" {
		return s.tradeRepo.GetBySymbol(ctx, symbol, limit)
	}
	return s.tradeRepo.GetRecent(ctx, limit)
}
