package handlers

import (
	"net/http"
	"time"

	"riskguard/internal/models"
	"riskguard/internal/service"
)

// StatusHandler состояние движка: планировщик, история выходов, health
//
// Endpoints:
// - GET /api/v1/monitor                  - фаза, число циклов, последний отчет, стопы по состояниям
// - GET /api/v1/trades?symbol=&limit=    - история выходов
// - GET /health                          - liveness
type StatusHandler struct {
	monitor      service.MonitorStatusProvider
	tradeService service.TradeServiceInterface
	risk         service.RiskServiceInterface
	startedAt    time.Time
}

// NewStatusHandler создает новый StatusHandler
func NewStatusHandler(
	monitor service.MonitorStatusProvider,
	tradeService service.TradeServiceInterface,
	risk service.RiskServiceInterface,
) *StatusHandler {
	return &StatusHandler{
		monitor:      monitor,
		tradeService: tradeService,
		risk:         risk,
		startedAt:    time.Now(),
	}
}

// TradesResponse список выходов
type TradesResponse struct {
	Trades []*models.TradeRecord `json:"trades"`
	Total  int                   `json:"total"`
}

// HealthResponse ответ /health
type HealthResponse struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	MonitorRunning bool   `json:"monitor_running"`
	TradingHalted  bool   `json:"trading_halted"`
}

// GetMonitor возвращает состояние планировщика
// GET /api/v1/monitor
func (h *StatusHandler) GetMonitor(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		respondWithError(w, http.StatusServiceUnavailable, CodeInternal, "monitor is not configured")
		return
	}
	respondWithJSON(w, http.StatusOK, h.monitor.Status())
}

// GetTrades возвращает историю выходов
// GET /api/v1/trades
func (h *StatusHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	if h.tradeService == nil {
		respondWithJSON(w, http.StatusOK, TradesResponse{Trades: []*models.TradeRecord{}})
		return
	}

	trades, err := h.tradeService.GetTrades(r.Context(), r.URL.Query().Get("symbol"), parseLimit(r, 50))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to get trades: "+err.Error())
		return
	}
	if trades == nil {
		trades = []*models.TradeRecord{}
	}
	respondWithJSON(w, http.StatusOK, TradesResponse{Trades: trades, Total: len(trades)})
}

// Health liveness для оркестратора
// GET /health
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(h.startedAt).Truncate(time.Second).String(),
	}
	if h.monitor != nil {
		resp.MonitorRunning = h.monitor.Status().Running
	}
	if h.risk != nil {
		resp.TradingHalted = h.risk.GetStatus().Halt.Halted
	}
	respondWithJSON(w, http.StatusOK, resp)
}
