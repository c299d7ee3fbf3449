package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"riskguard/internal/bot"
	"riskguard/internal/broker"
	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

// StopBroadcaster рассылка списка конфигураций клиентам дашборда
type StopBroadcaster interface {
	BroadcastStops(stops []models.StopConfig)
}

// SetStopRequest запрос на установку стопа
type SetStopRequest struct {
	Symbol             string          `json:"symbol"`
	Kind               models.StopKind `json:"kind"`
	StopPrice          float64         `json:"stop_price,omitempty"`
	StopPercentage     float64         `json:"stop_percentage,omitempty"`
	TrailingPercentage float64         `json:"trailing_percentage,omitempty"`

	TakeProfitPrice      float64 `json:"take_profit_price,omitempty"`
	TakeProfitPercentage float64 `json:"take_profit_percentage,omitempty"`

	// 0 означает взять цену входа из позиции у брокера
	EntryPrice float64 `json:"entry_price,omitempty"`
}

// SetTakeProfitRequest запрос на установку тейк-профита
type SetTakeProfitRequest struct {
	TakeProfitPrice      float64 `json:"take_profit_price,omitempty"`
	TakeProfitPercentage float64 `json:"take_profit_percentage,omitempty"`
}

// StopService операции оператора над реестром стопов.
//
// Реестр принадлежит движку, сервис только валидирует ввод,
// дополняет цену входа из позиции и рассылает обновления.
type StopService struct {
	registry      *bot.StopRegistry
	broker        broker.Broker
	wsHub         StopBroadcaster
	logger        *utils.Logger
	brokerTimeout time.Duration
}

// NewStopService создает новый экземпляр StopService.
// broker может быть nil: тогда entry_price обязателен.
func NewStopService(registry *bot.StopRegistry, b broker.Broker, logger *utils.Logger) *StopService {
	if logger == nil {
		logger = utils.L()
	}
	return &StopService{
		registry:      registry,
		broker:        b,
		logger:        logger.WithComponent("stop_service"),
		brokerTimeout: 5 * time.Second,
	}
}

// SetWebSocketHub устанавливает hub для рассылки изменений
func (s *StopService) SetWebSocketHub(hub StopBroadcaster) {
	s.wsHub = hub
}

// SetStop создает или заменяет конфигурацию символа
func (s *StopService) SetStop(ctx context.Context, req *SetStopRequest) (*models.StopConfig, error) {
	if req == nil {
		return nil, models.NewValidationError("empty request")
	}

	cfg := models.StopConfig{
		Symbol:               strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Kind:                 models.StopKind(strings.ToLower(string(req.Kind))),
		StopPrice:            req.StopPrice,
		StopPercentage:       req.StopPercentage,
		TrailingPercentage:   req.TrailingPercentage,
		TakeProfitPrice:      req.TakeProfitPrice,
		TakeProfitPercentage: req.TakeProfitPercentage,
		EntryPrice:           req.EntryPrice,
	}

	if cfg.EntryPrice == 0 && cfg.Symbol != "" {
		entry, err := s.entryFromPosition(ctx, cfg.Symbol)
		if err != nil {
			return nil, err
		}
		cfg.EntryPrice = entry
	}

	stored, err := s.registry.Set(cfg)
	if err != nil {
		return nil, err
	}

	s.broadcast()
	return &stored, nil
}

// SetTakeProfit заменяет тейк-профит существующей конфигурации
func (s *StopService) SetTakeProfit(symbol string, req *SetTakeProfitRequest) (*models.StopConfig, error) {
	if req == nil {
		return nil, models.NewValidationError("empty request")
	}

	cfg, err := s.registry.SetTakeProfit(symbol, req.TakeProfitPrice, req.TakeProfitPercentage)
	if err != nil {
		return nil, err
	}

	s.broadcast()
	return &cfg, nil
}

// RemoveStop снимает защиту с символа
func (s *StopService) RemoveStop(symbol string) (*models.StopConfig, error) {
	cfg, ok := s.registry.Remove(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrStopNotFound, strings.ToUpper(symbol))
	}

	s.broadcast()
	return &cfg, nil
}

// GetStop возвращает конфигурацию символа
func (s *StopService) GetStop(symbol string) (*models.StopConfig, error) {
	cfg, ok := s.registry.Get(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrStopNotFound, strings.ToUpper(symbol))
	}
	return &cfg, nil
}

// GetStops снимок всех конфигураций, отсортированный по символу
func (s *StopService) GetStops() []models.StopConfig {
	return s.registry.GetAll()
}

func (s *StopService) entryFromPosition(ctx context.Context, symbol string) (float64, error) {
	if s.broker == nil {
		return 0, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.brokerTimeout)
	defer cancel()

	pos, err := s.broker.GetPosition(callCtx, symbol)
	if err != nil {
		if errors.Is(err, broker.ErrPositionNotFound) {
			// без позиции цена входа обязательна, её отсутствие поймает валидация
			return 0, nil
		}
		s.logger.Warn("entry price lookup failed", utils.Symbol(symbol), utils.Err(err))
		return 0, collaboratorErr("get_position", err)
	}
	s.logger.Debug("entry price taken from position", utils.Symbol(symbol), utils.Price(pos.EntryPrice))
	return pos.EntryPrice, nil
}

func (s *StopService) broadcast() {
	if s.wsHub != nil {
		s.wsHub.BroadcastStops(s.registry.GetAll())
	}
}
