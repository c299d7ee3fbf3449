package service

import (
	"context"
	"strings"
	"sync"

	"riskguard/internal/models"
	"riskguard/pkg/utils"
)

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(notif *models.Notification)
}

// Лимиты выборки журнала
const (
	defaultNotificationLimit = 100
	maxNotificationLimit     = 500
)

// NotificationService журнал событий движка.
//
// Отвечает за:
// - чтение очереди уведомлений движка (bot.Notifier)
// - сохранение в БД (ошибки записи только логируются)
// - broadcast через WebSocket
// - выдачу журнала с фильтрацией по типам
//
// Без БД журнал держит последние события в памяти.
type NotificationService struct {
	notificationRepo NotificationRepositoryInterface
	wsHub            WebSocketBroadcaster
	logger           *utils.Logger

	mu     sync.Mutex
	recent []*models.Notification // новые в конце
	keep   int
}

// NewNotificationService создает новый экземпляр NotificationService.
// notificationRepo может быть nil.
func NewNotificationService(notificationRepo NotificationRepositoryInterface, logger *utils.Logger) *NotificationService {
	if logger == nil {
		logger = utils.L()
	}
	return &NotificationService{
		notificationRepo: notificationRepo,
		logger:           logger.WithComponent("notifications"),
		keep:             defaultNotificationLimit,
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// Run читает очередь уведомлений до отмены ctx.
// После отмены дочитывает то, что уже в буфере.
func (s *NotificationService) Run(ctx context.Context, in <-chan *models.Notification) {
	for {
		select {
		case n, ok := <-in:
			if !ok {
				return
			}
			s.handle(n)
		case <-ctx.Done():
			for {
				select {
				case n, ok := <-in:
					if !ok {
						return
					}
					s.handle(n)
				default:
					return
				}
			}
		}
	}
}

func (s *NotificationService) handle(n *models.Notification) {
	if n == nil {
		return
	}
	if err := s.CreateNotification(n); err != nil {
		s.logger.Error("failed to store notification",
			utils.String("type", n.Type),
			utils.Symbol(n.Symbol),
			utils.Err(err),
		)
	}
}

// CreateNotification сохраняет уведомление и рассылает его клиентам.
// Рассылка выполняется и при ошибке записи в БД.
func (s *NotificationService) CreateNotification(notif *models.Notification) error {
	s.remember(notif)

	var err error
	if s.notificationRepo != nil {
		if createErr := s.notificationRepo.Create(notif); createErr != nil {
			err = &models.PersistenceError{Op: "create_notification", Err: createErr}
		}
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(notif)
	}

	return err
}

// GetNotifications возвращает уведомления, новые сверху.
// Пустой types означает все типы.
func (s *NotificationService) GetNotifications(types []string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}

	normalizedTypes := make([]string, 0, len(types))
	for _, t := range types {
		normalized := strings.ToUpper(strings.TrimSpace(t))
		if normalized != "" && isValidNotificationType(normalized) {
			normalizedTypes = append(normalizedTypes, normalized)
		}
	}

	if s.notificationRepo == nil {
		return s.fromMemory(normalizedTypes, limit), nil
	}
	if len(normalizedTypes) > 0 {
		return s.notificationRepo.GetByTypes(normalizedTypes, limit)
	}
	return s.notificationRepo.GetRecent(limit)
}

// GetNotificationCount возвращает общее количество уведомлений.
func (s *NotificationService) GetNotificationCount() (int, error) {
	if s.notificationRepo == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.recent), nil
	}
	return s.notificationRepo.Count()
}

// CleanupOld удаляет уведомления, оставляя только последние N записей.
func (s *NotificationService) CleanupOld(keepCount int) (int64, error) {
	if keepCount <= 0 {
		keepCount = defaultNotificationLimit
	}
	if s.notificationRepo == nil {
		return 0, nil
	}
	return s.notificationRepo.KeepRecent(keepCount)
}

func (s *NotificationService) remember(n *models.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent = append(s.recent, n)
	if len(s.recent) > s.keep {
		s.recent = append(s.recent[:0], s.recent[len(s.recent)-s.keep:]...)
	}
}

func (s *NotificationService) fromMemory(types []string, limit int) []*models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*models.Notification, 0, limit)
	for i := len(s.recent) - 1; i >= 0 && len(result) < limit; i-- {
		n := s.recent[i]
		if len(types) > 0 && !containsString(types, n.Type) {
			continue
		}
		result = append(result, n)
	}
	return result
}

// isValidNotificationType проверяет, является ли тип допустимым.
func isValidNotificationType(notifType string) bool {
	switch notifType {
	case models.NotificationTypeStopLoss,
		models.NotificationTypeTakeProfit,
		models.NotificationTypeFill,
		models.NotificationTypeStale,
		models.NotificationTypeHalt,
		models.NotificationTypeReset,
		models.NotificationTypeError,
		models.NotificationTypeInvariant:
		return true
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
