package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"riskguard/internal/models"
)

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Коды ошибок API
const (
	CodeInvalidJSON  = "INVALID_JSON"
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeRiskRejected = "RISK_REJECTED"
	CodeBrokerError  = "BROKER_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
)

// maxBodyBytes ограничение тела запроса
const maxBodyBytes = 1 << 16

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

// respondWithError отправляет JSON ошибку
func respondWithError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// respondWithServiceError переводит доменную ошибку в HTTP ответ
//
// ValidationError -> 422 (с полями), конфигурация не найдена -> 404,
// отказ риск-менеджера -> 422, сбой брокера -> 502, остальное -> 500.
func respondWithServiceError(w http.ResponseWriter, err error) {
	var ve *models.ValidationError
	var rr *models.RiskRejectedError

	switch {
	case errors.As(err, &ve):
		respondWithJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  ve.Message,
			Code:   CodeValidation,
			Fields: ve.Fields,
		})
	case errors.Is(err, models.ErrStopNotFound):
		respondWithError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.As(err, &rr):
		respondWithJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "order rejected by risk manager",
			Code:    CodeRiskRejected,
			Details: rr.Reason,
		})
	case errors.Is(err, models.ErrCollaborator):
		respondWithJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:   "broker request failed",
			Code:    CodeBrokerError,
			Details: err.Error(),
		})
	default:
		respondWithError(w, http.StatusInternalServerError, CodeInternal, err.Error())
	}
}

// decodeJSON читает тело запроса, false если ответ об ошибке уже отправлен
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondWithJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    CodeInvalidJSON,
			Details: err.Error(),
		})
		return false
	}
	return true
}

// parseLimit читает ?limit=, некорректное значение заменяется на def
func parseLimit(r *http.Request, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def
	}
	if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
		return parsed
	}
	return def
}
