package handlers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"riskguard/internal/bot"
	"riskguard/internal/models"
	"riskguard/internal/service"
)

// ============ Mock Stop Service ============

// MockStopService мок для StopServiceInterface
type MockStopService struct {
	mu     sync.Mutex
	stops  map[string]*models.StopConfig
	setErr error
	last   *service.SetStopRequest
}

func NewMockStopService() *MockStopService {
	return &MockStopService{stops: make(map[string]*models.StopConfig)}
}

func (m *MockStopService) SetStop(ctx context.Context, req *service.SetStopRequest) (*models.StopConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.last = req
	if m.setErr != nil {
		return nil, m.setErr
	}
	if req.Symbol == "" {
		return nil, &models.ValidationError{Message: "invalid input", Fields: map[string]string{"symbol": "required"}}
	}
	cfg := &models.StopConfig{
		Symbol:     strings.ToUpper(req.Symbol),
		Kind:       req.Kind,
		StopPrice:  req.StopPrice,
		EntryPrice: req.EntryPrice,
		State:      models.StopStateActive,
	}
	m.stops[cfg.Symbol] = cfg
	return cfg, nil
}

func (m *MockStopService) SetTakeProfit(symbol string, req *service.SetTakeProfitRequest) (*models.StopConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.stops[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrStopNotFound, symbol)
	}
	if req.TakeProfitPrice <= 0 && req.TakeProfitPercentage <= 0 {
		return nil, models.NewValidationError("take profit price or percentage is required")
	}
	cfg.TakeProfitPrice = req.TakeProfitPrice
	cfg.TakeProfitPercentage = req.TakeProfitPercentage
	return cfg, nil
}

func (m *MockStopService) RemoveStop(symbol string) (*models.StopConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.stops[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrStopNotFound, symbol)
	}
	delete(m.stops, cfg.Symbol)
	cfg.State = models.StopStateRemoved
	return cfg, nil
}

func (m *MockStopService) GetStop(symbol string) (*models.StopConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.stops[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrStopNotFound, symbol)
	}
	return cfg, nil
}

func (m *MockStopService) GetStops() []models.StopConfig {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.stops) == 0 {
		return nil
	}
	result := make([]models.StopConfig, 0, len(m.stops))
	for _, cfg := range m.stops {
		result = append(result, *cfg)
	}
	return result
}

// ============ Mock Risk Service ============

// MockRiskService мок для RiskServiceInterface
type MockRiskService struct {
	mu         sync.Mutex
	status     models.RiskStatus
	decision   models.RiskDecision
	sizeResp   *service.PositionSizeResponse
	err        error
	lastCheck  *service.CheckOrderRequest
	haltReason string
}

func NewMockRiskService() *MockRiskService {
	return &MockRiskService{
		status:   models.RiskStatus{Limits: models.DefaultRiskLimits()},
		decision: models.Allow(),
	}
}

func (m *MockRiskService) GetStatus() models.RiskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *MockRiskService) ConfigureLimits(ctx context.Context, limits models.RiskLimits) (*models.RiskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	if limits.MaxPositionSize <= 0 {
		return nil, &models.ValidationError{Message: "invalid input", Fields: map[string]string{"max_position_size": "must be positive"}}
	}
	m.status.Limits = limits
	st := m.status
	return &st, nil
}

func (m *MockRiskService) PositionSize(ctx context.Context, req *service.PositionSizeRequest) (*service.PositionSizeResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	return m.sizeResp, nil
}

func (m *MockRiskService) CheckOrder(ctx context.Context, req *service.CheckOrderRequest) (*models.RiskDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastCheck = req
	if m.err != nil {
		return nil, m.err
	}
	d := m.decision
	return &d, nil
}

func (m *MockRiskService) Halt(reason string) models.RiskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.haltReason = reason
	now := time.Now()
	m.status.Halt = models.TradingHaltState{Halted: true, Reason: reason, HaltedAt: &now}
	return m.status
}

func (m *MockRiskService) Reset() models.RiskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status.Halt = models.TradingHaltState{LastReset: time.Now()}
	m.status.DailyPnL = 0
	return m.status
}

// ============ Mock Notification Service ============

// MockNotificationService мок для NotificationServiceInterface
type MockNotificationService struct {
	mu            sync.Mutex
	notifications []*models.Notification
	getErr        error
	nextID        int
}

func NewMockNotificationService() *MockNotificationService {
	return &MockNotificationService{nextID: 1}
}

// AddNotification добавляет уведомление в мок
func (m *MockNotificationService) AddNotification(typ, severity, symbol, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notifications = append(m.notifications, &models.Notification{
		ID:        m.nextID,
		Timestamp: time.Now(),
		Type:      typ,
		Severity:  severity,
		Symbol:    symbol,
		Message:   message,
	})
	m.nextID++
}

func (m *MockNotificationService) GetNotifications(types []string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	result := make([]*models.Notification, 0)
	for i := len(m.notifications) - 1; i >= 0 && len(result) < limit; i-- {
		n := m.notifications[i]
		if len(types) > 0 && !contains(types, n.Type) {
			continue
		}
		result = append(result, n)
	}
	return result, nil
}

func (m *MockNotificationService) GetNotificationCount() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifications), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ============ Mock Trade Service ============

// MockTradeService мок для TradeServiceInterface
type MockTradeService struct {
	trades     []*models.TradeRecord
	err        error
	lastSymbol string
	lastLimit  int
}

func (m *MockTradeService) GetTrades(ctx context.Context, symbol string, limit int) ([]*models.TradeRecord, error) {
	m.lastSymbol = symbol
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.trades, nil
}

// ============ Mock Monitor ============

// MockMonitor мок для MonitorStatusProvider
type MockMonitor struct {
	status bot.MonitorStatus
}

func (m *MockMonitor) Status() bot.MonitorStatus {
	return m.status
}
