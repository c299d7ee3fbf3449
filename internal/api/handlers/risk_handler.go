package handlers

import (
	"net/http"

	"riskguard/internal/models"
	"riskguard/internal/service"
)

// RiskHandler отвечает за лимиты и остановку торговли
//
// Endpoints:
// - GET /api/v1/risk                  - лимиты, флаг остановки, дневной PnL
// - PUT /api/v1/risk/limits           - заменить набор лимитов
// - POST /api/v1/risk/position-size   - расчет объема позиции
// - POST /api/v1/risk/check           - предварительная проверка ордера
// - POST /api/v1/risk/halt            - ручная остановка торговли
// - POST /api/v1/risk/reset           - дневной сброс (вызывается и внешним планировщиком)
type RiskHandler struct {
	riskService service.RiskServiceInterface
}

// NewRiskHandler создает новый RiskHandler с внедрением зависимости
func NewRiskHandler(riskService service.RiskServiceInterface) *RiskHandler {
	return &RiskHandler{
		riskService: riskService,
	}
}

// HaltRequest тело запроса ручной остановки
type HaltRequest struct {
	Reason string `json:"reason"`
}

// GetRisk возвращает состояние риск-менеджера
// GET /api/v1/risk
func (h *RiskHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.riskService.GetStatus())
}

// ConfigureLimits заменяет лимиты целиком
// PUT /api/v1/risk/limits
//
// Request Body:
//
//	{
//	  "max_position_size": 5000,
//	  "max_daily_loss": 500,
//	  "max_open_positions": 5,
//	  "risk_per_trade": 0.02
//	}
//
// HTTP коды:
// - 200 OK: лимиты применены
// - 422 Unprocessable Entity: набор невалиден, действующие лимиты не меняются
func (h *RiskHandler) ConfigureLimits(w http.ResponseWriter, r *http.Request) {
	var limits models.RiskLimits
	if !decodeJSON(w, r, &limits) {
		return
	}

	status, err := h.riskService.ConfigureLimits(r.Context(), limits)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// PositionSize считает объем позиции по риску на сделку
// POST /api/v1/risk/position-size
//
// Request Body: {"entry_price": 100, "stop_price": 95, "account": {...}}
// account необязателен, без него берется снимок счета у брокера.
func (h *RiskHandler) PositionSize(w http.ResponseWriter, r *http.Request) {
	var req service.PositionSizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.riskService.PositionSize(r.Context(), &req)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// CheckOrder проверяет ордер перед отправкой
// POST /api/v1/risk/check
//
// HTTP коды:
// - 200 OK: {"allowed": true}
// - 422 Unprocessable Entity: {"allowed": false, "reason": "..."} при отказе
// - 422 Unprocessable Entity: ErrorResponse при невалидном вводе
// - 502 Bad Gateway: брокер недоступен
func (h *RiskHandler) CheckOrder(w http.ResponseWriter, r *http.Request) {
	var req service.CheckOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	decision, err := h.riskService.CheckOrder(r.Context(), &req)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusUnprocessableEntity
	}
	respondWithJSON(w, status, decision)
}

// Halt останавливает открытие новых позиций. Защитные выходы продолжают работать.
// POST /api/v1/risk/halt
//
// Тело необязательно: {"reason": "news event"}
func (h *RiskHandler) Halt(w http.ResponseWriter, r *http.Request) {
	var req HaltRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	respondWithJSON(w, http.StatusOK, h.riskService.Halt(req.Reason))
}

// Reset сбрасывает дневные счетчики и снимает остановку
// POST /api/v1/risk/reset
func (h *RiskHandler) Reset(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.riskService.Reset())
}
