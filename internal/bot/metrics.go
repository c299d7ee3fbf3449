package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики движка защиты
// ============================================================

// ============ Цикл мониторинга ============

// CycleDuration длительность одного цикла (poll + evaluate + dispatch)
var CycleDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "riskguard",
		Subsystem: "monitor",
		Name:      "cycle_duration_ms",
		Help:      "Duration of one monitoring cycle in milliseconds",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	},
)

// PriceFetchLatency время получения цены у брокера
var PriceFetchLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "riskguard",
		Subsystem: "broker",
		Name:      "price_fetch_latency_ms",
		Help:      "Latency of market price requests in milliseconds",
		Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2000},
	},
	[]string{"broker"},
)

// PriceFetchErrors неудачные запросы цены/позиции
var PriceFetchErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "broker",
		Name:      "price_fetch_errors_total",
		Help:      "Failed price or position fetches",
	},
	[]string{"symbol"},
)

// StopsByState число конфигураций по состояниям
var StopsByState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "riskguard",
		Subsystem: "stops",
		Name:      "configs",
		Help:      "Number of protective configs by state",
	},
	[]string{"state"},
)

// ============ Срабатывания и ордера ============

// TriggersTotal срабатывания стопов и тейков
var TriggersTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "stops",
		Name:      "triggers_total",
		Help:      "Number of stop-loss and take-profit triggers",
	},
	[]string{"symbol", "reason"},
)

// DispatchesTotal результаты отправки выходных ордеров
var DispatchesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "orders",
		Name:      "dispatches_total",
		Help:      "Exit order dispatch outcomes",
	},
	[]string{"symbol", "result"}, // submitted, adopted, failed, duplicate
)

// DispatchLatency время от срабатывания до принятия ордера брокером
var DispatchLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "riskguard",
		Subsystem: "orders",
		Name:      "dispatch_latency_ms",
		Help:      "Time from trigger to broker acknowledgement in milliseconds",
		Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
	},
)

// ============ Риск ============

// TradingHalted 1 если торговля остановлена
var TradingHalted = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskguard",
		Subsystem: "risk",
		Name:      "trading_halted",
		Help:      "Trading halt flag (1=halted)",
	},
)

// DailyPnL накопленный реализованный PnL за день
var DailyPnL = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskguard",
		Subsystem: "risk",
		Name:      "daily_realized_pnl",
		Help:      "Accumulated realized PnL since the last daily reset",
	},
)

// RiskRejections отказы риск-менеджера
var RiskRejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "risk",
		Name:      "rejections_total",
		Help:      "Orders or positions rejected by risk checks",
	},
	[]string{"reason"},
)

// ============ Буферы ============

// BufferOverflows потерянные события при переполнении каналов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskguard",
		Subsystem: "runtime",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"},
)

// BufferBacklog заполненность канала в момент переполнения
var BufferBacklog = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "riskguard",
		Subsystem: "runtime",
		Name:      "buffer_backlog_ratio",
		Help:      "Channel fill ratio observed at overflow",
	},
	[]string{"buffer"},
)

// ============ Вспомогательные функции ============

func RecordTrigger(symbol, reason string) {
	TriggersTotal.WithLabelValues(symbol, reason).Inc()
}

func RecordDispatch(symbol, result string) {
	DispatchesTotal.WithLabelValues(symbol, result).Inc()
}

func RecordBufferOverflow(buffer string) {
	BufferOverflows.WithLabelValues(buffer).Inc()
}

func RecordBufferBacklog(buffer string, capacity, length int) {
	if capacity <= 0 {
		return
	}
	BufferBacklog.WithLabelValues(buffer).Set(float64(length) / float64(capacity))
}

func SetHalted(halted bool) {
	if halted {
		TradingHalted.Set(1)
		return
	}
	TradingHalted.Set(0)
}

// UpdateStopCounts выставляет gauge по всем состояниям, отсутствующие = 0
func UpdateStopCounts(counts map[string]int) {
	for _, state := range []string{"active", "triggered", "stale"} {
		StopsByState.WithLabelValues(state).Set(float64(counts[state]))
	}
}
