package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"riskguard/internal/broker"
	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

// Phase фаза цикла мониторинга
type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePolling
	PhaseEvaluating
	PhaseDispatching
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePolling:
		return "polling"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseDispatching:
		return "dispatching"
	default:
		return "unknown"
	}
}

// StreamHub рассылка состояния клиентам дашборда.
// Реализуется internal/websocket.Hub.
type StreamHub interface {
	BroadcastStops(stops []models.StopConfig)
	BroadcastRisk(status *models.RiskStatus)
}

// MonitorConfig параметры планировщика
type MonitorConfig struct {
	Interval     time.Duration
	FetchTimeout time.Duration // таймаут одного запроса цены/позиции
	MaxParallel  int           // одновременных запросов к брокеру
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:     time.Second,
		FetchTimeout: 3 * time.Second,
		MaxParallel:  8,
	}
}

// MonitorStatus снимок для дашборда
type MonitorStatus struct {
	Running           bool           `json:"running"`
	Phase             string         `json:"phase"`
	Interval          string         `json:"interval"`
	Cycles            uint64         `json:"cycles"`
	LastCycleAt       *time.Time     `json:"last_cycle_at,omitempty"`
	LastCycleDuration string         `json:"last_cycle_duration,omitempty"`
	LastReport        *CycleReport   `json:"last_report,omitempty"`
	Stops             map[string]int `json:"stops"`
	DispatchInFlight  int            `json:"dispatch_in_flight"`
}

// CycleReport итог одного цикла
type CycleReport struct {
	Polled    int `json:"polled"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"` // цена есть, позиции нет
	Triggered int `json:"triggered"`
}

// Monitor периодический планировщик: опрос цен, оценка, отправка выходов.
//
// Цикл: Idle → Polling → Evaluating → Dispatching → Idle.
// Один медленный или упавший символ не задерживает остальные: запросы
// идут параллельно с ограничением и таймаутом на каждый.
//
// Остановка кооперативная: Stop не даёт начаться новому циклу и ждёт
// уже начатые выходы и подтверждения исполнения.
type Monitor struct {
	broker     broker.Broker
	registry   *StopRegistry
	risk       *RiskManager
	dispatcher *OrderDispatcher
	notifier   *Notifier
	hub        StreamHub
	logger     *utils.Logger
	cfg        MonitorConfig

	phase   atomic.Int32
	running atomic.Bool
	cycles  atomic.Uint64

	mu           sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
	lastCycleAt  time.Time
	lastDuration time.Duration
	lastReport   *CycleReport

	// выходы, отправленные из циклов
	dispatches errgroup.Group
	// не даёт Stop.Wait начаться до завершения Go в текущем цикле
	cycleMu sync.Mutex
}

func NewMonitor(
	b broker.Broker,
	registry *StopRegistry,
	risk *RiskManager,
	dispatcher *OrderDispatcher,
	notifier *Notifier,
	hub StreamHub,
	cfg MonitorConfig,
	logger *utils.Logger,
) *Monitor {
	def := DefaultMonitorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = def.MaxParallel
	}
	if logger == nil {
		logger = utils.L()
	}

	m := &Monitor{
		broker:     b,
		registry:   registry,
		risk:       risk,
		dispatcher: dispatcher,
		notifier:   notifier,
		hub:        hub,
		logger:     logger.WithComponent("monitor"),
		cfg:        cfg,
	}
	m.dispatches.SetLimit(cfg.MaxParallel)
	return m
}

// ============ Жизненный цикл ============

// Start запускает цикл в отдельной горутине
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running.Load() {
		return errors.New("monitor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running.Store(true)

	go m.loop(runCtx, m.done)

	m.logger.Info("monitor started",
		utils.Dur("interval", m.cfg.Interval),
		utils.Int("max_parallel", m.cfg.MaxParallel),
	)
	return nil
}

// Stop останавливает планировщик и ждёт начатые выходы
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.Wait()
	m.running.Store(false)
	m.logger.Info("monitor stopped", utils.Int64("cycles", int64(m.cycles.Load())))
}

// Wait ждёт отправку выходов и подтверждения исполнения
func (m *Monitor) Wait() {
	m.cycleMu.Lock()
	_ = m.dispatches.Wait()
	m.cycleMu.Unlock()
	m.dispatcher.Wait()
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		// новый цикл не начинается после отмены
		if ctx.Err() != nil {
			return
		}
		m.RunCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ============ Цикл ============

type pollResult struct {
	cfg      models.StopConfig
	price    float64
	position *models.Position
	err      error
}

// RunCycle выполняет один цикл синхронно до фазы отправки.
// Выходы отправляются в фоне; Wait дожидается их.
func (m *Monitor) RunCycle(ctx context.Context) CycleReport {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		CycleDuration.Observe(float64(elapsed.Milliseconds()))
		m.phase.Store(int32(PhaseIdle))
		m.cycles.Add(1)
		UpdateStopCounts(m.registry.Counts())
		m.broadcast()

		m.mu.Lock()
		m.lastCycleAt = start
		m.lastDuration = elapsed
		m.mu.Unlock()
	}()

	// Polling
	m.phase.Store(int32(PhasePolling))
	m.refreshAccount(ctx)
	results := m.poll(ctx, m.registry.Due(start))

	// Evaluating
	m.phase.Store(int32(PhaseEvaluating))
	report := CycleReport{Polled: len(results)}
	var triggers []Trigger
	for _, r := range results {
		if r.err != nil {
			report.Failed++
			// отмена цикла при остановке не считается сбоем брокера
			if ctx.Err() == nil {
				m.handleFailure(r)
			}
			continue
		}
		if r.position == nil || r.position.Side() == models.PositionSideFlat {
			report.Skipped++
			m.registry.RecordSuccess(r.cfg.Symbol, r.cfg.Generation, r.price)
			continue
		}

		ev, updated, ok := m.registry.Observe(r.cfg.Symbol, r.cfg.Generation, r.price, r.position.Side())
		if !ok || !ev.Decision.Hit() {
			continue
		}

		RecordTrigger(updated.Symbol, string(ev.Decision))
		m.logger.Warn("protective level hit",
			utils.Symbol(updated.Symbol),
			utils.Reason(string(ev.Decision)),
			utils.Price(ev.Price),
			utils.Float64("stop_level", ev.StopLevel),
			utils.Float64("high_water_mark", ev.HighWaterMark),
		)
		triggers = append(triggers, Trigger{Config: updated, Evaluation: ev, Position: *r.position, At: time.Now()})
	}
	report.Triggered = len(triggers)

	// Dispatching
	m.phase.Store(int32(PhaseDispatching))
	m.dispatch(ctx, triggers)

	m.mu.Lock()
	rep := report
	m.lastReport = &rep
	m.mu.Unlock()

	return report
}

// refreshAccount снимок счёта в риск-менеджер
func (m *Monitor) refreshAccount(ctx context.Context) {
	if m.risk == nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	acct, err := m.broker.GetAccount(callCtx)
	if err != nil {
		m.logger.Warn("account refresh failed", utils.Err(err))
		return
	}
	m.risk.ObserveAccount(*acct)
}

// poll параллельно запрашивает цену и позицию по каждому символу.
// Ошибка одного символа записывается в его результат и не отменяет остальные.
func (m *Monitor) poll(ctx context.Context, due []models.StopConfig) []pollResult {
	results := make([]pollResult, len(due))

	var g errgroup.Group
	g.SetLimit(m.cfg.MaxParallel)

	for i := range due {
		i := i
		results[i].cfg = due[i]
		g.Go(func() error {
			results[i].price, results[i].position, results[i].err = m.fetch(ctx, due[i].Symbol)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (m *Monitor) fetch(ctx context.Context, symbol string) (float64, *models.Position, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	price, err := m.broker.GetMarketPrice(callCtx, symbol)
	PriceFetchLatency.WithLabelValues(m.broker.Name()).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return 0, nil, fmt.Errorf("get price: %w", err)
	}
	if !utils.IsFinitePositive(price) {
		return 0, nil, fmt.Errorf("get price: invalid price %v", price)
	}

	pos, err := m.broker.GetPosition(callCtx, symbol)
	if errors.Is(err, broker.ErrPositionNotFound) {
		return price, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("get position: %w", err)
	}
	return price, pos, nil
}

func (m *Monitor) handleFailure(r pollResult) {
	PriceFetchErrors.WithLabelValues(r.cfg.Symbol).Inc()

	cfg, becameStale := m.registry.RecordFailure(r.cfg.Symbol, r.cfg.Generation, r.err)
	m.logger.Warn("price fetch failed, symbol skipped this cycle",
		utils.Symbol(r.cfg.Symbol),
		utils.Int("consecutive_failures", cfg.ConsecutiveFailures),
		utils.Err(r.err),
	)

	if becameStale {
		m.logger.Error("stop config is stale", utils.Symbol(r.cfg.Symbol), utils.Err(r.err))
		m.notifier.Notify(models.NotificationTypeStale, models.SeverityWarn, r.cfg.Symbol,
			fmt.Sprintf("No price for %s after %d attempts: %v", r.cfg.Symbol, cfg.ConsecutiveFailures, r.err),
			map[string]interface{}{"consecutive_failures": cfg.ConsecutiveFailures})
	}
}

// dispatch отправляет выходы в фоне. Контекст отвязан от отмены:
// остановка планировщика не прерывает начатый выход.
func (m *Monitor) dispatch(ctx context.Context, triggers []Trigger) {
	if len(triggers) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)

	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	for _, t := range triggers {
		t := t
		m.dispatches.Go(func() error {
			if _, err := m.dispatcher.Dispatch(detached, t); err != nil {
				m.logger.Error("exit dispatch failed", utils.Symbol(t.Config.Symbol), utils.Err(err))
			}
			return nil
		})
	}
}

func (m *Monitor) broadcast() {
	if m.hub == nil {
		return
	}
	m.hub.BroadcastStops(m.registry.GetAll())
	if m.risk != nil {
		st := m.risk.Status()
		m.hub.BroadcastRisk(&st)
	}
}

// ============ Статус ============

func (m *Monitor) Phase() Phase {
	return Phase(m.phase.Load())
}

func (m *Monitor) Status() MonitorStatus {
	st := MonitorStatus{
		Running:          m.running.Load(),
		Phase:            m.Phase().String(),
		Interval:         m.cfg.Interval.String(),
		Cycles:           m.cycles.Load(),
		Stops:            m.registry.Counts(),
		DispatchInFlight: m.dispatcher.InFlight(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lastCycleAt.IsZero() {
		at := m.lastCycleAt
		st.LastCycleAt = &at
		st.LastCycleDuration = m.lastDuration.String()
	}
	if m.lastReport != nil {
		rep := *m.lastReport
		st.LastReport = &rep
	}
	return st
}
