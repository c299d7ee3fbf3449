package bot

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

// RiskManager расчёт объёма позиции, проверки лимитов и дневной стоп торговли.
//
// Состояние защищено RWMutex: проверки (CheckRisk, CanOpenPosition) идут под
// RLock и не меняют состояние, мутации (UpdateDailyPnL, ObserveAccount,
// ResetDailyLimits, ConfigureLimits, Halt) под Lock.
//
// Остановка торговли снимается только дневным сбросом.
type RiskManager struct {
	mu sync.RWMutex

	limits models.RiskLimits
	halt   models.TradingHaltState

	// реализованный PnL с последнего сброса (из исполненных выходов)
	dailyRealized decimal.Decimal

	lastAccount   *models.AccountInfo
	openPositions int

	notifier *Notifier
	logger   *utils.Logger
	now      func() time.Time
}

// NewRiskManager создаёт риск-менеджер с проверенными лимитами
func NewRiskManager(limits models.RiskLimits, notifier *Notifier, logger *utils.Logger) (*RiskManager, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = utils.L()
	}

	rm := &RiskManager{
		limits:        limits,
		dailyRealized: decimal.Zero,
		notifier:      notifier,
		logger:        logger.WithComponent("risk"),
		now:           time.Now,
	}
	rm.halt.LastReset = rm.now()
	SetHalted(false)
	return rm, nil
}

// ============ Расчёт объёма ============

// CalculatePositionSize объём позиции по риску на сделку:
//
//	qty = portfolio_value * risk_per_trade / |entry - stop|
//
// Объём ограничивается так, чтобы qty*entry <= max_position_size, и
// округляется вниз до lot_size. Превышение лимита не ошибка: объём урезается.
func (rm *RiskManager) CalculatePositionSize(account models.AccountInfo, entryPrice, stopPrice float64) (float64, error) {
	var errs utils.ValidationErrors
	errs.AddError("entry_price", utils.ValidatePrice(entryPrice))
	errs.AddError("stop_price", utils.ValidatePrice(stopPrice))
	if !utils.IsFinitePositive(account.PortfolioValue) {
		errs.Add("portfolio_value", "must be greater than 0")
	}
	if err := models.ValidationFromFields(errs); err != nil {
		return 0, err
	}
	if entryPrice == stopPrice {
		return 0, models.NewValidationError("entry_price equals stop_price: stop distance must be greater than 0")
	}

	rm.mu.RLock()
	limits := rm.limits
	rm.mu.RUnlock()

	entry := decimal.NewFromFloat(entryPrice)
	distance := entry.Sub(decimal.NewFromFloat(stopPrice)).Abs()
	riskAmount := decimal.NewFromFloat(account.PortfolioValue).Mul(decimal.NewFromFloat(limits.RiskPerTrade))

	qty := riskAmount.Div(distance)
	maxQty := decimal.NewFromFloat(limits.MaxPositionSize).Div(entry)

	if qty.GreaterThan(maxQty) {
		rm.logger.Warn("position size clamped to max position size",
			utils.Float64("risk_qty", qty.InexactFloat64()),
			utils.Float64("max_qty", maxQty.InexactFloat64()),
			utils.Price(entryPrice),
		)
		qty = maxQty
	}

	if limits.LotSize > 0 {
		lot := decimal.NewFromFloat(limits.LotSize)
		qty = qty.Div(lot).Floor().Mul(lot)
	} else {
		// дробные объёмы: усечение до 1e-6, чтобы не выйти за лимит после округления
		qty = qty.Truncate(6)
	}

	result := qty.InexactFloat64()
	if result <= 0 {
		RiskRejections.WithLabelValues(models.RejectZeroSize).Inc()
		return 0, &models.RiskRejectedError{Reason: models.RejectZeroSize}
	}
	return result, nil
}

// ============ Проверки ============

// CanOpenPosition можно ли открыть ещё одну позицию
func (rm *RiskManager) CanOpenPosition(openPositions int, account models.AccountInfo) models.RiskDecision {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var d models.RiskDecision
	switch {
	case rm.halt.Halted:
		d = models.Reject(models.RejectHalted)
	case openPositions >= rm.limits.MaxOpenPositions:
		d = models.Reject(models.RejectMaxOpenPositions)
	case !utils.IsFinite(account.BuyingPower) || account.BuyingPower <= 0 || account.BuyingPower < rm.limits.MinOrderValue:
		d = models.Reject(models.RejectBelowMinimumOrder)
	default:
		d = models.Allow()
	}
	rm.recordDecision(d)
	return d
}

// CheckRisk синхронная проверка ордера без побочных эффектов на состояние.
// refPrice цена для оценки стоимости рыночного ордера.
// Ордер не урезается и не подменяется: либо Allow, либо Reject с причиной.
func (rm *RiskManager) CheckRisk(order models.OrderRequest, refPrice float64, account models.AccountInfo, positions []models.Position) models.RiskDecision {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	d := rm.checkLocked(order, refPrice, account, positions)
	rm.recordDecision(d)
	return d
}

func (rm *RiskManager) checkLocked(order models.OrderRequest, refPrice float64, account models.AccountInfo, positions []models.Position) models.RiskDecision {
	if rm.halt.Halted {
		return models.Reject(models.RejectHalted)
	}

	price := refPrice
	if order.LimitPrice > 0 {
		price = order.LimitPrice
	}
	if utils.ValidateQuantity(order.Quantity) != nil || utils.ValidatePrice(price) != nil ||
		(order.Side != models.OrderSideBuy && order.Side != models.OrderSideSell) {
		return models.Reject(models.RejectInvalidOrder)
	}

	notional := order.Notional(price)
	if notional > rm.limits.MaxPositionSize {
		return models.Reject(models.RejectMaxPositionSize)
	}

	var existing *models.Position
	for i := range positions {
		if positions[i].Symbol == order.Symbol {
			existing = &positions[i]
			break
		}
	}

	// Сокращение позиции не требует покупательной способности и нового слота
	if existing != nil && existing.ExitSide() == order.Side && order.Quantity <= existing.AbsQuantity() {
		return models.Allow()
	}

	if notional > account.BuyingPower {
		return models.Reject(models.RejectBuyingPower)
	}
	if existing == nil && len(positions) >= rm.limits.MaxOpenPositions {
		return models.Reject(models.RejectMaxOpenPositions)
	}
	return models.Allow()
}

func (rm *RiskManager) recordDecision(d models.RiskDecision) {
	if !d.Allowed {
		RiskRejections.WithLabelValues(d.Reason).Inc()
	}
}

// ============ Дневной PnL и остановка ============

// UpdateDailyPnL добавляет реализованный PnL и пересчитывает остановку.
// NaN/Inf останавливают торговлю и возвращают ValidationError.
func (rm *RiskManager) UpdateDailyPnL(realizedDelta float64) error {
	if !utils.IsFinite(realizedDelta) {
		rm.Halt(fmt.Sprintf("non-finite realized pnl update: %v", realizedDelta))
		return models.NewValidationError("realized pnl delta must be finite, got %v", realizedDelta)
	}

	rm.mu.Lock()
	rm.dailyRealized = rm.dailyRealized.Add(decimal.NewFromFloat(realizedDelta))
	total := rm.dailyRealized.InexactFloat64()
	limit := rm.limits.MaxDailyLoss
	halted := total <= -limit &&
		rm.haltLocked(fmt.Sprintf("daily realized loss %.2f reached limit %.2f", -total, limit))
	reason := rm.halt.Reason
	DailyPnL.Set(total)
	rm.mu.Unlock()

	rm.logger.Info("daily pnl updated", utils.PNL(realizedDelta), utils.Float64("daily_realized", total))

	if halted {
		rm.announceHalt(reason)
	}
	return nil
}

// ObserveAccount сохраняет снимок счёта и проверяет дневной убыток
// (реализованный + нереализованный). Нечисловые значения останавливают торговлю.
func (rm *RiskManager) ObserveAccount(account models.AccountInfo) {
	pnl := account.DailyPnL()

	rm.mu.Lock()
	acct := account
	rm.lastAccount = &acct
	rm.openPositions = account.OpenPositions
	limit := rm.limits.MaxDailyLoss
	var halted bool
	switch {
	case !utils.IsFinite(pnl):
		halted = rm.haltLocked("account reported non-finite daily pnl")
	case pnl <= -limit:
		halted = rm.haltLocked(fmt.Sprintf("daily loss %.2f reached limit %.2f", -pnl, limit))
	}
	reason := rm.halt.Reason
	rm.mu.Unlock()

	if halted {
		rm.announceHalt(reason)
	}
}

// Halt останавливает открытие новых позиций. Повторный вызов не меняет причину.
func (rm *RiskManager) Halt(reason string) {
	rm.mu.Lock()
	halted := rm.haltLocked(reason)
	rm.mu.Unlock()

	if halted {
		rm.announceHalt(reason)
	}
}

// haltLocked выставляет остановку под уже взятым mu.
// false, если торговля уже остановлена.
func (rm *RiskManager) haltLocked(reason string) bool {
	if rm.halt.Halted {
		return false
	}
	now := rm.now()
	rm.halt.Halted = true
	rm.halt.Reason = reason
	rm.halt.HaltedAt = &now
	SetHalted(true)
	return true
}

// announceHalt лог и уведомление вне критической секции
func (rm *RiskManager) announceHalt(reason string) {
	rm.logger.Error("trading halted", utils.Reason(reason))
	rm.notifier.Notify(models.NotificationTypeHalt, models.SeverityError, "", "Trading halted: "+reason, nil)
}

// ResetDailyLimits обнуляет накопленный PnL и снимает остановку
func (rm *RiskManager) ResetDailyLimits() {
	rm.mu.Lock()
	wasHalted := rm.halt.Halted
	rm.dailyRealized = decimal.Zero
	rm.halt = models.TradingHaltState{LastReset: rm.now()}
	SetHalted(false)
	DailyPnL.Set(0)
	rm.mu.Unlock()

	rm.logger.Info("daily limits reset", utils.Bool("was_halted", wasHalted))
	rm.notifier.Notify(models.NotificationTypeReset, models.SeverityInfo, "", "Daily risk limits reset", nil)
}

// ConfigureLimits атомарно заменяет набор лимитов.
// Остановка не снимается, даже если новый лимит убытка больше.
func (rm *RiskManager) ConfigureLimits(limits models.RiskLimits) error {
	if err := limits.Validate(); err != nil {
		return err
	}

	rm.mu.Lock()
	rm.limits = limits
	total := rm.dailyRealized.InexactFloat64()
	halted := total <= -limits.MaxDailyLoss &&
		rm.haltLocked(fmt.Sprintf("daily realized loss %.2f exceeds new limit %.2f", -total, limits.MaxDailyLoss))
	reason := rm.halt.Reason
	rm.mu.Unlock()

	rm.logger.Info("risk limits configured",
		utils.Float64("max_position_size", limits.MaxPositionSize),
		utils.Float64("max_daily_loss", limits.MaxDailyLoss),
		utils.Int("max_open_positions", limits.MaxOpenPositions),
		utils.Float64("risk_per_trade", limits.RiskPerTrade),
	)

	if halted {
		rm.announceHalt(reason)
	}
	return nil
}

// ============ Снимки ============

func (rm *RiskManager) Limits() models.RiskLimits {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.limits
}

func (rm *RiskManager) HaltState() models.TradingHaltState {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.halt
}

func (rm *RiskManager) IsHalted() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.halt.Halted
}

// DailyRealizedPnL накопленный реализованный PnL
func (rm *RiskManager) DailyRealizedPnL() float64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.dailyRealized.InexactFloat64()
}

// Status снимок для дашборда
func (rm *RiskManager) Status() models.RiskStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	st := models.RiskStatus{
		Limits:        rm.limits,
		Halt:          rm.halt,
		DailyPnL:      rm.dailyRealized.InexactFloat64(),
		OpenPositions: rm.openPositions,
	}
	if rm.lastAccount != nil {
		acct := *rm.lastAccount
		st.LastAccount = &acct
	}
	if math.IsNaN(st.DailyPnL) {
		st.DailyPnL = 0
	}
	return st
}
