package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"riskguard/internal/bot"
	"riskguard/internal/broker"
	"riskguard/internal/models"
	"riskguard/internal/repository"
	"riskguard/pkg/retry"
	"riskguard/pkg/utils"
)

// RiskBroadcaster рассылка состояния риск-менеджера
type RiskBroadcaster interface {
	BroadcastRisk(status *models.RiskStatus)
}

// PositionSizeRequest расчёт объёма позиции.
// Без account берётся текущий снимок счёта у брокера.
type PositionSizeRequest struct {
	Symbol     string              `json:"symbol,omitempty"`
	EntryPrice float64             `json:"entry_price"`
	StopPrice  float64             `json:"stop_price"`
	Account    *models.AccountInfo `json:"account,omitempty"`
}

// PositionSizeResponse результат расчёта
type PositionSizeResponse struct {
	Quantity     float64 `json:"quantity"`
	Notional     float64 `json:"notional"`
	RiskAmount   float64 `json:"risk_amount"`
	RiskPerTrade float64 `json:"risk_per_trade"`
}

// CheckOrderRequest предварительная проверка ордера.
// RefPrice 0 означает взять текущую цену у брокера.
type CheckOrderRequest struct {
	Order    models.OrderRequest `json:"order"`
	RefPrice float64             `json:"ref_price,omitempty"`
}

// RiskService - операции оператора над риск-менеджером.
//
// Логика лимитов живёт в bot.RiskManager. Сервис добавляет:
// - сохранение лимитов в БД и восстановление при старте
// - восстановление дневного PnL из истории сделок
// - получение счёта и позиций у брокера для проверок
// - рассылку состояния через WebSocket
type RiskService struct {
	risk          *bot.RiskManager
	broker        broker.Broker
	settingsRepo  SettingsRepositoryInterface
	tradeRepo     TradeRepositoryInterface
	wsHub         RiskBroadcaster
	logger        *utils.Logger
	brokerTimeout time.Duration
}

// NewRiskService создает новый экземпляр RiskService.
// settingsRepo и tradeRepo могут быть nil (запуск без БД).
func NewRiskService(
	risk *bot.RiskManager,
	b broker.Broker,
	settingsRepo SettingsRepositoryInterface,
	tradeRepo TradeRepositoryInterface,
	logger *utils.Logger,
) *RiskService {
	if logger == nil {
		logger = utils.L()
	}
	return &RiskService{
		risk:          risk,
		broker:        b,
		settingsRepo:  settingsRepo,
		tradeRepo:     tradeRepo,
		logger:        logger.WithComponent("risk_service"),
		brokerTimeout: 5 * time.Second,
	}
}

// SetWebSocketHub устанавливает hub для рассылки изменений
func (s *RiskService) SetWebSocketHub(hub RiskBroadcaster) {
	s.wsHub = hub
}

// Restore загружает сохранённые лимиты и реализованный PnL с момента since.
// Ошибки БД не фатальны: остаются лимиты из конфигурации.
func (s *RiskService) Restore(ctx context.Context, since time.Time) {
	if s.settingsRepo != nil {
		limits, err := s.settingsRepo.GetRiskLimits(ctx)
		switch {
		case errors.Is(err, repository.ErrSettingsNotFound):
		case err != nil:
			s.logger.Warn("failed to load risk limits", utils.Err(err))
		default:
			if err := s.risk.ConfigureLimits(limits); err != nil {
				s.logger.Warn("stored risk limits rejected", utils.Err(err))
			} else {
				s.logger.Info("risk limits restored",
					utils.Float64("max_daily_loss", limits.MaxDailyLoss),
					utils.Float64("max_position_size", limits.MaxPositionSize),
				)
			}
		}
	}

	if s.tradeRepo != nil {
		pnl, err := s.tradeRepo.RealizedPnLSince(ctx, since)
		if err != nil {
			s.logger.Warn("failed to restore daily pnl", utils.Err(err))
			return
		}
		if pnl != 0 {
			if err := s.risk.UpdateDailyPnL(pnl); err != nil {
				s.logger.Warn("restored daily pnl rejected", utils.Err(err))
			}
			s.logger.Info("daily pnl restored", utils.PNL(pnl), utils.Bool("halted", s.risk.IsHalted()))
		}
	}
}

// GetStatus снимок состояния
func (s *RiskService) GetStatus() models.RiskStatus {
	return s.risk.Status()
}

// ConfigureLimits заменяет набор лимитов целиком и сохраняет его
func (s *RiskService) ConfigureLimits(ctx context.Context, limits models.RiskLimits) (*models.RiskStatus, error) {
	if err := s.risk.ConfigureLimits(limits); err != nil {
		return nil, err
	}

	if s.settingsRepo != nil {
		if err := s.settingsRepo.SaveRiskLimits(ctx, limits); err != nil {
			// лимиты уже действуют, ошибка записи только логируется
			s.logger.Error("failed to persist risk limits",
				utils.Err(&models.PersistenceError{Op: "save_risk_limits", Err: err}))
		}
	}

	s.logger.Info("risk limits configured",
		utils.Float64("max_position_size", limits.MaxPositionSize),
		utils.Float64("max_daily_loss", limits.MaxDailyLoss),
		utils.Int("max_open_positions", limits.MaxOpenPositions),
		utils.Float64("risk_per_trade", limits.RiskPerTrade),
	)
	return s.broadcast(), nil
}

// PositionSize объём позиции по риску на сделку
func (s *RiskService) PositionSize(ctx context.Context, req *PositionSizeRequest) (*PositionSizeResponse, error) {
	if req == nil {
		return nil, models.NewValidationError("empty request")
	}

	account := req.Account
	if account == nil {
		var err error
		account, err = s.fetchAccount(ctx)
		if err != nil {
			return nil, err
		}
	}

	qty, err := s.risk.CalculatePositionSize(*account, req.EntryPrice, req.StopPrice)
	if err != nil {
		return nil, err
	}

	limits := s.risk.Limits()
	return &PositionSizeResponse{
		Quantity:     qty,
		Notional:     qty * req.EntryPrice,
		RiskAmount:   qty * utils.Abs(req.EntryPrice-req.StopPrice),
		RiskPerTrade: limits.RiskPerTrade,
	}, nil
}

// CheckOrder риск-проверка ордера по текущему счёту и позициям брокера
func (s *RiskService) CheckOrder(ctx context.Context, req *CheckOrderRequest) (*models.RiskDecision, error) {
	if req == nil {
		return nil, models.NewValidationError("empty request")
	}

	order := req.Order
	order.Symbol = strings.ToUpper(strings.TrimSpace(order.Symbol))
	order.Side = strings.ToLower(order.Side)
	if order.Type == "" {
		order.Type = models.OrderTypeMarket
	}
	if err := utils.ValidateSymbol(order.Symbol); err != nil {
		return nil, models.NewValidationError("%v", err)
	}

	account, err := s.fetchAccount(ctx)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.brokerTimeout)
	defer cancel()

	positions, err := s.broker.GetPositions(callCtx)
	if err != nil {
		return nil, collaboratorErr("get_positions", err)
	}

	refPrice := req.RefPrice
	if refPrice <= 0 && order.LimitPrice <= 0 {
		refPrice, err = s.broker.GetMarketPrice(callCtx, order.Symbol)
		if err != nil {
			return nil, collaboratorErr("get_market_price", err)
		}
	}

	d := s.risk.CheckRisk(order, refPrice, *account, positions)
	if !d.Allowed {
		s.logger.Info("order rejected by risk check",
			utils.Symbol(order.Symbol),
			utils.Side(order.Side),
			utils.Quantity(order.Quantity),
			utils.Reason(d.Reason),
		)
	}
	return &d, nil
}

// Halt ручная остановка торговли до дневного сброса
func (s *RiskService) Halt(reason string) models.RiskStatus {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "manual halt"
	}
	s.risk.Halt(reason)
	return *s.broadcast()
}

// Reset дневной сброс по запросу внешнего планировщика
func (s *RiskService) Reset() models.RiskStatus {
	s.risk.ResetDailyLimits()
	return *s.broadcast()
}

func (s *RiskService) fetchAccount(ctx context.Context) (*models.AccountInfo, error) {
	if s.broker == nil {
		return nil, models.NewValidationError("account is required")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.brokerTimeout)
	defer cancel()

	account, err := s.broker.GetAccount(callCtx)
	if err != nil {
		return nil, collaboratorErr("get_account", err)
	}
	return account, nil
}

func (s *RiskService) broadcast() *models.RiskStatus {
	st := s.risk.Status()
	if s.wsHub != nil {
		s.wsHub.BroadcastRisk(&st)
	}
	return &st
}

func collaboratorErr(op string, err error) error {
	return &models.CollaboratorError{
		Source:    "broker",
		Op:        op,
		Transient: retry.IsRetryable(err),
		Err:       err,
	}
}
