package bot

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"riskguard/internal/models"
	"riskguard/pkg/retry"
	"riskguard/pkg/utils"
)

// RegistryOptions параметры учёта сбоев опроса
type RegistryOptions struct {
	MaxFetchFailures int           // после стольких сбоев подряд конфигурация stale
	BackoffBase      time.Duration // пауза после первого сбоя
	BackoffMax       time.Duration
}

func DefaultRegistryOptions() RegistryOptions {
	return RegistryOptions{
		MaxFetchFailures: 5,
		BackoffBase:      time.Second,
		BackoffMax:       30 * time.Second,
	}
}

// StopRegistry защитные конфигурации, не более одной на символ.
//
// Все изменения идут под одним mutex: внешние Set/Remove и мутации
// планировщика (Observe, Record*) сериализуются. Блокировка не удерживается
// во время запросов к брокеру: планировщик берёт снимок, делает I/O,
// затем применяет результат с проверкой generation.
//
// Generation меняется при каждом Set. Результат, полученный для старого
// поколения, молча отбрасывается.
type StopRegistry struct {
	mu         sync.RWMutex
	configs    map[string]*models.StopConfig
	generation uint64

	opts    RegistryOptions
	backoff retry.Config
	logger  *utils.Logger
	now     func() time.Time
}

func NewStopRegistry(opts RegistryOptions, logger *utils.Logger) *StopRegistry {
	def := DefaultRegistryOptions()
	if opts.MaxFetchFailures <= 0 {
		opts.MaxFetchFailures = def.MaxFetchFailures
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = def.BackoffBase
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	if logger == nil {
		logger = utils.L()
	}

	return &StopRegistry{
		configs: make(map[string]*models.StopConfig),
		opts:    opts,
		backoff: retry.BackoffConfig(opts.BackoffBase, opts.BackoffMax),
		logger:  logger.WithComponent("registry"),
		now:     time.Now,
	}
}

// ============ Внешние операции ============

// Set проверяет и сохраняет конфигурацию, заменяя существующую.
// High-water-mark сбрасывается в entry_price, состояние active.
func (r *StopRegistry) Set(cfg models.StopConfig) (models.StopConfig, error) {
	cfg.Symbol = utils.NormalizeSymbol(cfg.Symbol)
	if err := cfg.Validate(); err != nil {
		return models.StopConfig{}, err
	}

	now := r.now()
	fresh := models.StopConfig{
		Symbol:               cfg.Symbol,
		Kind:                 cfg.Kind,
		StopPrice:            cfg.StopPrice,
		StopPercentage:       cfg.StopPercentage,
		TrailingPercentage:   cfg.TrailingPercentage,
		TakeProfitPrice:      cfg.TakeProfitPrice,
		TakeProfitPercentage: cfg.TakeProfitPercentage,
		EntryPrice:           cfg.EntryPrice,
		HighWaterMark:        cfg.EntryPrice,
		State:                models.StopStateActive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	r.mu.Lock()
	r.generation++
	fresh.Generation = r.generation
	prev, replaced := r.configs[fresh.Symbol]
	r.configs[fresh.Symbol] = &fresh
	r.mu.Unlock()

	fields := []zap.Field{
		utils.Symbol(fresh.Symbol),
		utils.StopKind(string(fresh.Kind)),
		utils.Price(fresh.EntryPrice),
		utils.Generation(fresh.Generation),
	}
	if replaced {
		fields = append(fields, utils.String("previous_state", string(prev.State)))
	}
	r.logger.Info("stop config set", fields...)

	return fresh, nil
}

// SetTakeProfit меняет тейк-профит существующей конфигурации.
// Нужно ровно одно из price/pct.
func (r *StopRegistry) SetTakeProfit(symbol string, price, pct float64) (models.StopConfig, error) {
	symbol = utils.NormalizeSymbol(symbol)
	if err := models.ValidateTakeProfit(price, pct, false); err != nil {
		return models.StopConfig{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[symbol]
	if !ok {
		return models.StopConfig{}, fmt.Errorf("%w: %s", models.ErrStopNotFound, symbol)
	}
	if !cfg.Monitored() {
		return models.StopConfig{}, models.NewValidationError("stop for %s is %s, take-profit can not be changed", symbol, cfg.State)
	}

	cfg.TakeProfitPrice = price
	cfg.TakeProfitPercentage = pct
	cfg.UpdatedAt = r.now()

	r.logger.Info("take profit set",
		utils.Symbol(symbol),
		utils.Float64("take_profit_price", price),
		utils.Float64("take_profit_percentage", pct),
	)
	return *cfg, nil
}

// Remove удаляет конфигурацию. false если её не было.
func (r *StopRegistry) Remove(symbol string) (models.StopConfig, bool) {
	symbol = utils.NormalizeSymbol(symbol)

	r.mu.Lock()
	cfg, ok := r.configs[symbol]
	if ok {
		delete(r.configs, symbol)
	}
	r.mu.Unlock()

	if !ok {
		return models.StopConfig{}, false
	}

	removed := *cfg
	removed.State = models.StopStateRemoved
	r.logger.Info("stop config removed", utils.Symbol(symbol), utils.State(string(cfg.State)))
	return removed, true
}

// Get снимок конфигурации
func (r *StopRegistry) Get(symbol string) (models.StopConfig, bool) {
	symbol = utils.NormalizeSymbol(symbol)

	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[symbol]
	if !ok {
		return models.StopConfig{}, false
	}
	return *cfg, true
}

// GetAll снимки всех конфигураций, по символу
func (r *StopRegistry) GetAll() []models.StopConfig {
	r.mu.RLock()
	result := make([]models.StopConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		result = append(result, *cfg)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result
}

// Counts число конфигураций по состояниям
func (r *StopRegistry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, 3)
	for _, cfg := range r.configs {
		counts[string(cfg.State)]++
	}
	return counts
}

func (r *StopRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}

// ============ Операции планировщика ============

// Due снимки конфигураций, которые пора опрашивать (active/stale, backoff истёк)
func (r *StopRegistry) Due(now time.Time) []models.StopConfig {
	r.mu.RLock()
	result := make([]models.StopConfig, 0, len(r.configs))
	for _, cfg := range r.configs {
		if cfg.Monitored() && !now.Before(cfg.NextPollAt) {
			result = append(result, *cfg)
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result
}

// Observe применяет свежую цену: оценка, обновление high-water-mark и,
// при срабатывании, переход в triggered. Всё под одной блокировкой, поэтому
// второй цикл уже не увидит конфигурацию в active.
//
// ok=false если конфигурация удалена, заменена (другое поколение) или
// уже не отслеживается.
func (r *StopRegistry) Observe(symbol string, generation uint64, price float64, side string) (models.Evaluation, models.StopConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.lookupLocked(symbol, generation)
	if !ok || !cfg.Monitored() {
		return models.Evaluation{}, models.StopConfig{}, false
	}

	ev := Evaluate(*cfg, price, side)
	if !utils.IsFinitePositive(price) {
		return ev, *cfg, true
	}
	now := r.now()

	r.markSuccessLocked(cfg, price, now)
	if cfg.Kind == models.StopKindTrailing {
		cfg.HighWaterMark = ev.HighWaterMark
	}

	if ev.Decision.Hit() {
		if err := r.transitionLocked(cfg, models.StopStateTriggered); err != nil {
			r.logger.Error("trigger transition rejected", utils.Symbol(symbol), utils.Err(err))
			return ev, *cfg, false
		}
		cfg.TriggerReason = ev.Decision
		cfg.TriggerPrice = price
		triggeredAt := now
		cfg.TriggeredAt = &triggeredAt
	}
	cfg.UpdatedAt = now

	return ev, *cfg, true
}

// RecordSuccess цена получена, но оценка не нужна (например, нет позиции)
func (r *StopRegistry) RecordSuccess(symbol string, generation uint64, price float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg, ok := r.lookupLocked(symbol, generation); ok && cfg.Monitored() {
		now := r.now()
		r.markSuccessLocked(cfg, price, now)
		cfg.UpdatedAt = now
	}
}

// RecordFailure учитывает неудачный опрос и откладывает следующий по backoff.
// becameStale=true только на переходе active -> stale.
func (r *StopRegistry) RecordFailure(symbol string, generation uint64, cause error) (cfg models.StopConfig, becameStale bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.lookupLocked(symbol, generation)
	if !ok || !c.Monitored() {
		return models.StopConfig{}, false
	}

	now := r.now()
	c.ConsecutiveFailures++
	if cause != nil {
		c.LastError = cause.Error()
	}
	c.NextPollAt = now.Add(r.backoff.Backoff(c.ConsecutiveFailures - 1))
	c.UpdatedAt = now

	if c.State == models.StopStateActive && c.ConsecutiveFailures >= r.opts.MaxFetchFailures {
		if err := r.transitionLocked(c, models.StopStateStale); err == nil {
			becameStale = true
		}
	}
	return *c, becameStale
}

// RecordTrigger сохраняет client_order_id выходного ордера до отправки брокеру.
// Повторная запись для той же конфигурации: InvariantViolation.
func (r *StopRegistry) RecordTrigger(symbol string, generation uint64, clientOrderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.lookupLocked(symbol, generation)
	if !ok {
		return fmt.Errorf("%w: %s generation %d", models.ErrStopNotFound, symbol, generation)
	}
	if cfg.State != models.StopStateTriggered {
		return &models.InvariantViolation{Symbol: symbol, Detail: "dispatch requested for config in state " + string(cfg.State)}
	}
	if cfg.LastTriggerOrderID != "" {
		return &models.InvariantViolation{
			Symbol: symbol,
			Detail: "exit order already recorded with client_order_id " + cfg.LastTriggerOrderID,
		}
	}

	cfg.LastTriggerOrderID = clientOrderID
	cfg.UpdatedAt = r.now()
	return nil
}

// RecordOrder сохраняет id ордера, принятого брокером
func (r *StopRegistry) RecordOrder(symbol string, generation uint64, brokerOrderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg, ok := r.lookupLocked(symbol, generation); ok {
		cfg.BrokerOrderID = brokerOrderID
		cfg.LastError = ""
		cfg.UpdatedAt = r.now()
	}
}

// RecordError последняя ошибка для отображения на дашборде
func (r *StopRegistry) RecordError(symbol string, generation uint64, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg, ok := r.lookupLocked(symbol, generation); ok {
		cfg.LastError = msg
		cfg.UpdatedAt = r.now()
	}
}

// CompleteExit удаляет конфигурацию после полного исполнения выхода
func (r *StopRegistry) CompleteExit(symbol string, generation uint64) bool {
	return r.removeGeneration(symbol, generation, "exit filled")
}

// Discard удаляет конфигурацию, нарушившую инвариант
func (r *StopRegistry) Discard(symbol string, generation uint64, reason string) bool {
	return r.removeGeneration(symbol, generation, reason)
}

func (r *StopRegistry) removeGeneration(symbol string, generation uint64, reason string) bool {
	r.mu.Lock()
	cfg, ok := r.lookupLocked(symbol, generation)
	if ok {
		if err := r.transitionLocked(cfg, models.StopStateRemoved); err != nil {
			r.logger.Warn("unexpected transition on removal", utils.Symbol(symbol), utils.Err(err))
		}
		delete(r.configs, symbol)
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info("stop config removed", utils.Symbol(symbol), utils.Reason(reason), utils.Generation(generation))
	}
	return ok
}

// ============ Вспомогательные ============

func (r *StopRegistry) lookupLocked(symbol string, generation uint64) (*models.StopConfig, bool) {
	cfg, ok := r.configs[symbol]
	if !ok || cfg.Generation != generation {
		return nil, false
	}
	return cfg, true
}

func (r *StopRegistry) markSuccessLocked(cfg *models.StopConfig, price float64, now time.Time) {
	cfg.LastPrice = price
	cfg.ConsecutiveFailures = 0
	cfg.LastError = ""
	cfg.NextPollAt = time.Time{}

	if cfg.State == models.StopStateStale {
		if err := r.transitionLocked(cfg, models.StopStateActive); err == nil {
			r.logger.Info("stop config recovered from stale", utils.Symbol(cfg.Symbol))
		}
	}
}

func (r *StopRegistry) transitionLocked(cfg *models.StopConfig, to models.StopState) error {
	if !CanTransition(cfg.State, to) {
		return &models.InvariantViolation{
			Symbol: cfg.Symbol,
			Detail: fmt.Sprintf("invalid state transition %s -> %s", cfg.State, to),
		}
	}
	cfg.State = to
	return nil
}
