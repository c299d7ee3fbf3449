package bot

import (
	"time"

	"riskguard/internal/models"
)

// defaultNotificationBuffer размер буфера канала уведомлений
const defaultNotificationBuffer = 256

// Notifier очередь уведомлений движка.
// Отправка неблокирующая: при переполнении событие теряется и пишется метрика.
// Канал читает сервис уведомлений (сохранение в БД и рассылка в WebSocket).
//
// Методы безопасны для nil-получателя.
type Notifier struct {
	ch  chan *models.Notification
	now func() time.Time
}

func NewNotifier(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = defaultNotificationBuffer
	}
	return &Notifier{
		ch:  make(chan *models.Notification, buffer),
		now: time.Now,
	}
}

// C канал для чтения уведомлений
func (n *Notifier) C() <-chan *models.Notification {
	if n == nil {
		return nil
	}
	return n.ch
}

// Notify ставит уведомление в очередь. false если очередь переполнена.
func (n *Notifier) Notify(typ, severity, symbol, message string, meta map[string]interface{}) bool {
	if n == nil {
		return false
	}
	return tryEnqueueNotification(n.ch, &models.Notification{
		Timestamp: n.now(),
		Type:      typ,
		Severity:  severity,
		Symbol:    symbol,
		Message:   message,
		Meta:      meta,
	})
}
