package service

import (
	"context"
	"sync"
	"time"

	"riskguard/internal/models"
	"riskguard/internal/repository"
)

// ============ Mock NotificationRepository ============

type MockNotificationRepository struct {
	mu            sync.Mutex
	notifications []*models.Notification
	createErr     error
	getErr        error
	lastTypes     []string
	nextID        int
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{
		notifications: make([]*models.Notification, 0),
		nextID:        1,
	}
}

func (m *MockNotificationRepository) Create(notif *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	notif.ID = m.nextID
	m.nextID++
	m.notifications = append(m.notifications, notif)
	return nil
}

func (m *MockNotificationRepository) GetRecent(limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if limit <= 0 || limit > len(m.notifications) {
		limit = len(m.notifications)
	}
	start := len(m.notifications) - limit
	return m.notifications[start:], nil
}

func (m *MockNotificationRepository) GetByTypes(types []string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.lastTypes = types
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}
	var result []*models.Notification
	for _, n := range m.notifications {
		if typeSet[n.Type] {
			result = append(result, n)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (m *MockNotificationRepository) Count() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return 0, m.getErr
	}
	return len(m.notifications), nil
}

func (m *MockNotificationRepository) KeepRecent(keepCount int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.notifications) <= keepCount {
		return 0, nil
	}
	deleted := int64(len(m.notifications) - keepCount)
	m.notifications = m.notifications[len(m.notifications)-keepCount:]
	return deleted, nil
}

func (m *MockNotificationRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifications)
}

// ============ Mock SettingsRepository ============

type MockSettingsRepository struct {
	limits  *models.RiskLimits
	getErr  error
	saveErr error
	saved   int
}

func NewMockSettingsRepository() *MockSettingsRepository {
	return &MockSettingsRepository{}
}

func (m *MockSettingsRepository) GetRiskLimits(ctx context.Context) (models.RiskLimits, error) {
	if m.getErr != nil {
		return models.RiskLimits{}, m.getErr
	}
	if m.limits == nil {
		return models.RiskLimits{}, repository.ErrSettingsNotFound
	}
	return *m.limits, nil
}

func (m *MockSettingsRepository) SaveRiskLimits(ctx context.Context, limits models.RiskLimits) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.limits = &limits
	m.saved++
	return nil
}

// ============ Mock TradeRepository ============

type MockTradeRepository struct {
	trades    []*models.TradeRecord
	pnlSince  float64
	getErr    error
	lastSince time.Time
}

func NewMockTradeRepository() *MockTradeRepository {
	return &MockTradeRepository{}
}

func (m *MockTradeRepository) GetRecent(ctx context.Context, limit int) ([]*models.TradeRecord, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if limit > len(m.trades) {
		limit = len(m.trades)
	}
	return m.trades[:limit], nil
}

func (m *MockTradeRepository) GetBySymbol(ctx context.Context, symbol string, limit int) ([]*models.TradeRecord, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var result []*models.TradeRecord
	for _, t := range m.trades {
		if t.Symbol == symbol && len(result) < limit {
			result = append(result, t)
		}
	}
	return result, nil
}

func (m *MockTradeRepository) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	m.lastSince = since
	if m.getErr != nil {
		return 0, m.getErr
	}
	return m.pnlSince, nil
}

// ============ Mock WebSocket Hub ============

type MockHub struct {
	mu            sync.Mutex
	notifications []*models.Notification
	stops         [][]models.StopConfig
	risk          []*models.RiskStatus
}

func (h *MockHub) BroadcastNotification(notif *models.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifications = append(h.notifications, notif)
}

func (h *MockHub) BroadcastStops(stops []models.StopConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops = append(h.stops, stops)
}

func (h *MockHub) BroadcastRisk(status *models.RiskStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.risk = append(h.risk, status)
}

func (h *MockHub) notificationCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.notifications)
}
