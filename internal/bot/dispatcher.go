package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"riskguard/internal/broker"
	"riskguard/internal/models"
	"riskguard/pkg/retry"
	"riskguard/pkg/utils"
)

// TradeRecorder сохранение истории выходов. Ошибки только логируются.
type TradeRecorder interface {
	SaveTrade(ctx context.Context, trade *models.TradeRecord) error
	UpdateTradeStatus(ctx context.Context, orderID, status string, filledQty, avgFillPrice float64, realizedPnL *float64) error
}

// Trigger сработавшая конфигурация, переданная на исполнение
type Trigger struct {
	Config     models.StopConfig // снимок после перехода в triggered
	Evaluation models.Evaluation
	Position   models.Position
	At         time.Time
}

// DispatcherConfig параметры отправки и подтверждения
type DispatcherConfig struct {
	CallTimeout      time.Duration // таймаут одного запроса к брокеру
	Retry            retry.Config
	FillPollInterval time.Duration
	FillTimeout      time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		CallTimeout:      5 * time.Second,
		Retry:            retry.OrderConfig(),
		FillPollInterval: 500 * time.Millisecond,
		FillTimeout:      30 * time.Second,
	}
}

// OrderDispatcher отправляет выходные ордера по сработавшим стопам.
//
// Выход не проходит риск-проверку: остановка торговли блокирует только
// новые позиции. Не более одного выходного ордера на срабатывание:
//   - client_order_id записывается в реестр до обращения к брокеру;
//   - перед повтором ищется уже принятый брокером ордер с этим id;
//   - повторный Dispatch по символу в работе: InvariantViolation.
type OrderDispatcher struct {
	broker   broker.Broker
	registry *StopRegistry
	risk     *RiskManager
	trades   TradeRecorder
	notifier *Notifier
	logger   *utils.Logger
	cfg      DispatcherConfig

	mu       sync.Mutex
	inFlight map[string]struct{}

	// фоновые подтверждения исполнения
	wg sync.WaitGroup

	newClientOrderID func() string
}

func NewOrderDispatcher(
	b broker.Broker,
	registry *StopRegistry,
	risk *RiskManager,
	trades TradeRecorder,
	notifier *Notifier,
	cfg DispatcherConfig,
	logger *utils.Logger,
) *OrderDispatcher {
	def := DefaultDispatcherConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.FillPollInterval <= 0 {
		cfg.FillPollInterval = def.FillPollInterval
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = def.FillTimeout
	}
	if logger == nil {
		logger = utils.L()
	}

	return &OrderDispatcher{
		broker:           b,
		registry:         registry,
		risk:             risk,
		trades:           trades,
		notifier:         notifier,
		logger:           logger.WithComponent("dispatcher"),
		cfg:              cfg,
		inFlight:         make(map[string]struct{}),
		newClientOrderID: func() string { return uuid.NewString() },
	}
}

// Dispatch отправляет рыночный ордер, закрывающий позицию целиком.
// Контекст должен быть отвязан от остановки планировщика: начатый выход
// доводится до конца.
func (d *OrderDispatcher) Dispatch(ctx context.Context, t Trigger) (*models.OrderResult, error) {
	cfg := t.Config
	log := d.logger.With(utils.Symbol(cfg.Symbol), utils.Generation(cfg.Generation))

	if !d.acquire(cfg.Symbol) {
		err := &models.InvariantViolation{Symbol: cfg.Symbol, Detail: "exit dispatch already in flight"}
		d.failInvariant(cfg, err, log)
		return nil, err
	}
	defer d.release(cfg.Symbol)

	clientOrderID := d.newClientOrderID()
	if err := d.registry.RecordTrigger(cfg.Symbol, cfg.Generation, clientOrderID); err != nil {
		var iv *models.InvariantViolation
		if errors.As(err, &iv) {
			d.failInvariant(cfg, iv, log)
		} else {
			log.Warn("trigger dropped, config changed before dispatch", utils.Err(err))
		}
		return nil, err
	}

	req := models.OrderRequest{
		Symbol:        cfg.Symbol,
		Side:          t.Position.ExitSide(),
		Type:          models.OrderTypeMarket,
		Quantity:      t.Position.AbsQuantity(),
		ClientOrderID: clientOrderID,
	}
	log = log.With(utils.ClientOrderID(clientOrderID), utils.Side(req.Side), utils.Quantity(req.Quantity))

	d.notifyTrigger(t, req)

	adopted := false
	retryCfg := d.cfg.Retry
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("exit order submit failed, retrying",
			utils.Int("attempt", attempt), utils.Err(err), utils.Dur("delay", delay))
	}

	result, err := retry.DoWithResult(ctx, func(attempt int) (*models.OrderResult, error) {
		if attempt > 0 {
			// предыдущая попытка могла дойти до брокера
			if existing := d.findExisting(ctx, req); existing != nil {
				adopted = true
				return existing, nil
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		defer cancel()

		res, err := d.broker.SubmitOrder(callCtx, req)
		if errors.Is(err, broker.ErrDuplicateClientOrderID) {
			if existing := d.findExisting(ctx, req); existing != nil {
				adopted = true
				return existing, nil
			}
			return nil, retry.Permanent(err)
		}
		if err != nil {
			return nil, err
		}
		if models.OrderStatusFailed(res.Status) {
			return nil, retry.Permanent(fmt.Errorf("exit order %s %s", res.OrderID, res.Status))
		}
		return res, nil
	}, retryCfg)

	if err != nil {
		RecordDispatch(cfg.Symbol, "failed")
		d.registry.RecordError(cfg.Symbol, cfg.Generation, "exit order failed: "+err.Error())
		log.Error("exit order failed", utils.Err(err))
		d.notifier.Notify(models.NotificationTypeError, models.SeverityError, cfg.Symbol,
			"Exit order failed: "+err.Error(), map[string]interface{}{"client_order_id": clientOrderID})
		return nil, &models.CollaboratorError{Source: d.broker.Name(), Op: "submit exit order", Err: err}
	}

	outcome := "submitted"
	if adopted {
		outcome = "adopted"
	}
	RecordDispatch(cfg.Symbol, outcome)
	if !t.At.IsZero() {
		DispatchLatency.Observe(float64(time.Since(t.At).Milliseconds()))
	}
	d.registry.RecordOrder(cfg.Symbol, cfg.Generation, result.OrderID)
	log.Info("exit order accepted", utils.OrderID(result.OrderID), utils.String("status", result.Status), utils.Bool("adopted", adopted))

	d.saveTrade(ctx, t, req, result, log)

	if result.FullyFilled() {
		d.handleFill(ctx, t, result, log)
	} else {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.confirmFill(ctx, t, result.OrderID, log)
		}()
	}

	return result, nil
}

// Wait ждёт завершения фоновых подтверждений исполнения
func (d *OrderDispatcher) Wait() {
	d.wg.Wait()
}

// InFlight число выходов в работе
func (d *OrderDispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}

func (d *OrderDispatcher) acquire(symbol string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[symbol]; busy {
		return false
	}
	d.inFlight[symbol] = struct{}{}
	return true
}

func (d *OrderDispatcher) release(symbol string) {
	d.mu.Lock()
	delete(d.inFlight, symbol)
	d.mu.Unlock()
}

// findExisting ищет ордер с нашим client_order_id: сначала напрямую,
// затем среди открытых ордеров символа. Отклонённые и отменённые не подходят.
func (d *OrderDispatcher) findExisting(ctx context.Context, req models.OrderRequest) *models.OrderResult {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	if o, err := d.broker.GetOrderByClientID(callCtx, req.ClientOrderID); err == nil {
		if !models.OrderStatusFailed(o.Status) {
			return o
		}
		return nil
	} else if !errors.Is(err, broker.ErrOrderNotFound) {
		d.logger.Warn("lookup by client order id failed", utils.ClientOrderID(req.ClientOrderID), utils.Err(err))
	}

	open, err := d.broker.GetOpenOrders(callCtx, req.Symbol)
	if err != nil {
		d.logger.Warn("open orders lookup failed", utils.Symbol(req.Symbol), utils.Err(err))
		return nil
	}
	for i := range open {
		if open[i].ClientOrderID == req.ClientOrderID && !models.OrderStatusFailed(open[i].Status) {
			return &open[i]
		}
	}
	return nil
}

// confirmFill опрашивает ордер до финального статуса или таймаута
func (d *OrderDispatcher) confirmFill(ctx context.Context, t Trigger, orderID string, log *utils.Logger) {
	deadline := time.NewTimer(d.cfg.FillTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(d.cfg.FillPollInterval)
	defer ticker.Stop()

	var last *models.OrderResult
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			msg := fmt.Sprintf("exit order %s not filled within %s", orderID, d.cfg.FillTimeout)
			if last != nil {
				msg += fmt.Sprintf(" (status %s, filled %g)", last.Status, last.FilledQuantity)
				d.updateTrade(ctx, last, d.realizePartial(t, last, log), log)
			}
			d.registry.RecordError(t.Config.Symbol, t.Config.Generation, msg)
			log.Warn("exit fill not confirmed", utils.OrderID(orderID), utils.Dur("timeout", d.cfg.FillTimeout))
			d.notifier.Notify(models.NotificationTypeError, models.SeverityWarn, t.Config.Symbol, msg, nil)
			return
		case <-ticker.C:
		}

		callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		o, err := d.broker.GetOrder(callCtx, orderID)
		cancel()
		if err != nil {
			log.Debug("order status poll failed", utils.OrderID(orderID), utils.Err(err))
			continue
		}
		last = o

		switch {
		case o.FullyFilled():
			d.handleFill(ctx, t, o, log)
			return
		case models.OrderStatusFailed(o.Status):
			msg := fmt.Sprintf("exit order %s %s", orderID, o.Status)
			pnl := d.realizePartial(t, o, log)
			if pnl != nil {
				msg += fmt.Sprintf(" after partial fill %g of %g, remaining position unprotected", o.FilledQuantity, t.Position.AbsQuantity())
			}
			d.registry.RecordError(t.Config.Symbol, t.Config.Generation, msg)
			d.updateTrade(ctx, o, pnl, log)
			log.Error("exit order ended without fill", utils.OrderID(orderID), utils.String("status", o.Status))
			d.notifier.Notify(models.NotificationTypeError, models.SeverityError, t.Config.Symbol, msg, nil)
			return
		}
	}
}

// handleFill полный выход: реализованный PnL в риск-менеджер, конфигурация удаляется
func (d *OrderDispatcher) handleFill(ctx context.Context, t Trigger, o *models.OrderResult, log *utils.Logger) {
	pnl := d.realize(t, o, log)
	d.updateTrade(ctx, o, &pnl, log)
	d.registry.CompleteExit(t.Config.Symbol, t.Config.Generation)

	log.Info("exit filled",
		utils.OrderID(o.OrderID),
		utils.Quantity(o.FilledQuantity),
		utils.Price(o.AvgFillPrice),
		utils.PNL(pnl),
	)
	d.notifier.Notify(models.NotificationTypeFill, models.SeverityInfo, t.Config.Symbol,
		fmt.Sprintf("Exit filled: %g @ %g, pnl %.2f", o.FilledQuantity, o.AvgFillPrice, pnl),
		map[string]interface{}{"order_id": o.OrderID, "pnl": pnl})
}

// realize PnL исполненной части выхода в дневной учёт
func (d *OrderDispatcher) realize(t Trigger, o *models.OrderResult, log *utils.Logger) float64 {
	entry := t.Position.EntryPrice
	if entry <= 0 {
		entry = t.Config.EntryPrice
	}
	pnl := utils.CalculatePNL(t.Position.Side(), entry, o.AvgFillPrice, o.FilledQuantity)

	if d.risk != nil {
		if err := d.risk.UpdateDailyPnL(pnl); err != nil {
			log.Error("realized pnl rejected", utils.Err(err))
		}
	}
	return pnl
}

// realizePartial учитывает частичное исполнение ордера, который уже
// не будет подтверждён. nil, если ничего не исполнено.
func (d *OrderDispatcher) realizePartial(t Trigger, o *models.OrderResult, log *utils.Logger) *float64 {
	if o.FilledQuantity <= 0 || o.AvgFillPrice <= 0 {
		return nil
	}
	pnl := d.realize(t, o, log)
	log.Warn("exit partially filled",
		utils.OrderID(o.OrderID),
		utils.String("status", o.Status),
		utils.Quantity(o.FilledQuantity),
		utils.Price(o.AvgFillPrice),
		utils.PNL(pnl),
	)
	return &pnl
}

func (d *OrderDispatcher) failInvariant(cfg models.StopConfig, err *models.InvariantViolation, log *utils.Logger) {
	RecordDispatch(cfg.Symbol, "duplicate")
	log.Error("duplicate exit prevented, removing config", utils.Err(err))
	d.registry.Discard(cfg.Symbol, cfg.Generation, "invariant violation")
	d.notifier.Notify(models.NotificationTypeInvariant, models.SeverityError, cfg.Symbol, err.Error(), nil)
}

func (d *OrderDispatcher) notifyTrigger(t Trigger, req models.OrderRequest) {
	typ := models.NotificationTypeStopLoss
	label := "Stop-loss"
	if t.Evaluation.Decision == models.DecisionTakeProfitHit {
		typ = models.NotificationTypeTakeProfit
		label = "Take-profit"
	}
	d.notifier.Notify(typ, models.SeverityWarn, req.Symbol,
		fmt.Sprintf("%s triggered at %g, %s %g", label, t.Evaluation.Price, req.Side, req.Quantity),
		map[string]interface{}{
			"price":      t.Evaluation.Price,
			"stop_level": t.Evaluation.StopLevel,
			"qty":        req.Quantity,
		})
}

func (d *OrderDispatcher) saveTrade(ctx context.Context, t Trigger, req models.OrderRequest, o *models.OrderResult, log *utils.Logger) {
	if d.trades == nil {
		return
	}
	level := t.Evaluation.StopLevel
	if t.Evaluation.Decision == models.DecisionTakeProfitHit {
		level = t.Evaluation.TakeProfitLevel
	}
	record := &models.TradeRecord{
		OrderID:       o.OrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		Reason:        t.Evaluation.Decision,
		TriggerPrice:  t.Evaluation.Price,
		StopLevel:     level,
		EntryPrice:    t.Position.EntryPrice,
		Status:        o.Status,
		FilledQty:     o.FilledQuantity,
		AvgFillPrice:  o.AvgFillPrice,
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()
	if err := d.trades.SaveTrade(callCtx, record); err != nil {
		log.Error("trade record not saved", utils.Err(&models.PersistenceError{Op: "save trade", Err: err}))
	}
}

func (d *OrderDispatcher) updateTrade(ctx context.Context, o *models.OrderResult, pnl *float64, log *utils.Logger) {
	if d.trades == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()
	if err := d.trades.UpdateTradeStatus(callCtx, o.OrderID, o.Status, o.FilledQuantity, o.AvgFillPrice, pnl); err != nil {
		log.Error("trade status not updated", utils.Err(&models.PersistenceError{Op: "update trade", Err: err}))
	}
}
