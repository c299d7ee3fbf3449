package websocket

import (
	"time"

	"riskguard/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeStopsUpdate - полный список защитных конфигураций.
	// Отправляется после каждого цикла мониторинга и при изменениях оператором.
	MessageTypeStopsUpdate MessageType = "stopsUpdate"

	// MessageTypeRiskUpdate - состояние риск-менеджера (лимиты, остановка, дневной PnL)
	MessageTypeRiskUpdate MessageType = "riskUpdate"

	// MessageTypeNotification - новое уведомление
	// (срабатывание стопа/тейка, исполнение, stale, остановка, сброс, ошибки)
	MessageTypeNotification MessageType = "notification"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// StopsUpdateMessage - снимок реестра стопов.
// Для каждой конфигурации видны state и last_error.
type StopsUpdateMessage struct {
	BaseMessage
	Data []models.StopConfig `json:"data"`
}

// RiskUpdateMessage - снимок риск-менеджера
type RiskUpdateMessage struct {
	BaseMessage
	Data *models.RiskStatus `json:"data"`
}

// NotificationMessage - сообщение о новом уведомлении
type NotificationMessage struct {
	BaseMessage
	Data *models.Notification `json:"data"`
}

// NewStopsUpdateMessage создает сообщение со списком конфигураций
func NewStopsUpdateMessage(stops []models.StopConfig) *StopsUpdateMessage {
	if stops == nil {
		stops = []models.StopConfig{}
	}
	return &StopsUpdateMessage{
		BaseMessage: BaseMessage{Type: MessageTypeStopsUpdate, Timestamp: time.Now()},
		Data:        stops,
	}
}

// NewRiskUpdateMessage создает сообщение с состоянием рисков
func NewRiskUpdateMessage(status *models.RiskStatus) *RiskUpdateMessage {
	return &RiskUpdateMessage{
		BaseMessage: BaseMessage{Type: MessageTypeRiskUpdate, Timestamp: time.Now()},
		Data:        status,
	}
}

// NewNotificationMessage создает сообщение с уведомлением
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{Type: MessageTypeNotification, Timestamp: time.Now()},
		Data:        notif,
	}
}
