package bot

import "riskguard/internal/models"

// tryEnqueueNotification неблокирующая отправка уведомления.
// Возвращает false и пишет метрики, если канал переполнен.
func tryEnqueueNotification(ch chan *models.Notification, notif *models.Notification) bool {
	if ch == nil || notif == nil {
		return false
	}

	select {
	case ch <- notif:
		return true
	default:
		RecordBufferOverflow("notification")
		RecordBufferBacklog("notification", cap(ch), len(ch))
		return false
	}
}
