package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"riskguard/internal/models"
	"riskguard/internal/service"
)

// StopHandler отвечает за защитные конфигурации (stop-loss / take-profit)
//
// Endpoints:
// - POST /api/v1/stops                          - установить стоп для символа
// - GET /api/v1/stops                           - все конфигурации со state и last_error
// - GET /api/v1/stops/{symbol}                  - конфигурация символа
// - DELETE /api/v1/stops/{symbol}               - снять защиту
// - POST /api/v1/stops/{symbol}/take-profit     - добавить/изменить тейк-профит
type StopHandler struct {
	stopService service.StopServiceInterface
}

// NewStopHandler создает новый StopHandler с внедрением зависимости
func NewStopHandler(stopService service.StopServiceInterface) *StopHandler {
	return &StopHandler{
		stopService: stopService,
	}
}

// StopsResponse список конфигураций
type StopsResponse struct {
	Stops []models.StopConfig `json:"stops"`
	Total int                 `json:"total"`
}

// SetStop устанавливает или заменяет стоп
// POST /api/v1/stops
//
// Request Body:
//
//	{
//	  "symbol": "AAPL",
//	  "kind": "trailing",
//	  "trailing_percentage": 3,
//	  "take_profit_percentage": 8,
//	  "entry_price": 185.2
//	}
//
// HTTP коды:
// - 200 OK: конфигурация сохранена, в ответе полная конфигурация
// - 400 Bad Request: невалидный JSON
// - 422 Unprocessable Entity: невалидные параметры
// - 502 Bad Gateway: не удалось получить позицию у брокера
func (h *StopHandler) SetStop(w http.ResponseWriter, r *http.Request) {
	var req service.SetStopRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cfg, err := h.stopService.SetStop(r.Context(), &req)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, cfg)
}

// GetStops возвращает все конфигурации
// GET /api/v1/stops
func (h *StopHandler) GetStops(w http.ResponseWriter, r *http.Request) {
	stops := h.stopService.GetStops()
	if stops == nil {
		stops = []models.StopConfig{}
	}
	respondWithJSON(w, http.StatusOK, StopsResponse{Stops: stops, Total: len(stops)})
}

// GetStop возвращает конфигурацию символа
// GET /api/v1/stops/{symbol}
func (h *StopHandler) GetStop(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.stopService.GetStop(mux.Vars(r)["symbol"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, cfg)
}

// RemoveStop снимает защиту символа
// DELETE /api/v1/stops/{symbol}
//
// HTTP коды:
// - 200 OK: снято, в ответе последняя конфигурация в состоянии removed
// - 404 Not Found: для символа нет конфигурации
func (h *StopHandler) RemoveStop(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.stopService.RemoveStop(mux.Vars(r)["symbol"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "stop removed", Data: cfg})
}

// SetTakeProfit добавляет тейк-профит к существующему стопу
// POST /api/v1/stops/{symbol}/take-profit
//
// Request Body: {"take_profit_price": 210} или {"take_profit_percentage": 8}
//
// HTTP коды:
// - 200 OK
// - 404 Not Found: стоп для символа не установлен
// - 422 Unprocessable Entity: не задан ни один параметр или уровень невалиден
func (h *StopHandler) SetTakeProfit(w http.ResponseWriter, r *http.Request) {
	var req service.SetTakeProfitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cfg, err := h.stopService.SetTakeProfit(mux.Vars(r)["symbol"], &req)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, cfg)
}
