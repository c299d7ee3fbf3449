package models

import "time"

// Notification уведомление о событии для дашборда и истории
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`
	Severity  string                 `json:"severity" db:"severity"`
	Symbol    string                 `json:"symbol,omitempty" db:"symbol"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // JSONB в БД
}

// Типы уведомлений
const (
	NotificationTypeStopLoss   = "STOP_LOSS"   // сработал стоп
	NotificationTypeTakeProfit = "TAKE_PROFIT" // сработал тейк-профит
	NotificationTypeFill       = "FILL"        // выход исполнен
	NotificationTypeStale      = "STALE"       // нет цены N циклов подряд
	NotificationTypeHalt       = "HALT"        // торговля остановлена
	NotificationTypeReset      = "RESET"       // дневной сброс лимитов
	NotificationTypeError      = "ERROR"       // ошибка брокера или ордера
	NotificationTypeInvariant  = "INVARIANT"   // нарушение инварианта
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
