package service

import (
	"context"
	"time"

	"riskguard/internal/bot"
	"riskguard/internal/models"
	"riskguard/internal/repository"
)

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Create(notif *models.Notification) error
	GetRecent(limit int) ([]*models.Notification, error)
	GetByTypes(types []string, limit int) ([]*models.Notification, error)
	Count() (int, error)
	KeepRecent(keepCount int) (int64, error)
}

// SettingsRepositoryInterface определяет интерфейс репозитория настроек
type SettingsRepositoryInterface interface {
	GetRiskLimits(ctx context.Context) (models.RiskLimits, error)
	SaveRiskLimits(ctx context.Context, limits models.RiskLimits) error
}

// TradeRepositoryInterface определяет интерфейс репозитория сделок
type TradeRepositoryInterface interface {
	GetRecent(ctx context.Context, limit int) ([]*models.TradeRecord, error)
	GetBySymbol(ctx context.Context, symbol string, limit int) ([]*models.TradeRecord, error)
	RealizedPnLSince(ctx context.Context, since time.Time) (float64, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ NotificationRepositoryInterface = (*repository.NotificationRepository)(nil)
var _ SettingsRepositoryInterface = (*repository.SettingsRepository)(nil)
var _ TradeRepositoryInterface = (*repository.TradeRepository)(nil)
var _ bot.TradeRecorder = (*repository.TradeRepository)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// StopServiceInterface определяет интерфейс сервиса защитных конфигураций
type StopServiceInterface interface {
	SetStop(ctx context.Context, req *SetStopRequest) (*models.StopConfig, error)
	SetTakeProfit(symbol string, req *SetTakeProfitRequest) (*models.StopConfig, error)
	RemoveStop(symbol string) (*models.StopConfig, error)
	GetStop(symbol string) (*models.StopConfig, error)
	GetStops() []models.StopConfig
}

// RiskServiceInterface определяет интерфейс сервиса рисков
type RiskServiceInterface interface {
	GetStatus() models.RiskStatus
	ConfigureLimits(ctx context.Context, limits models.RiskLimits) (*models.RiskStatus, error)
	PositionSize(ctx context.Context, req *PositionSizeRequest) (*PositionSizeResponse, error)
	CheckOrder(ctx context.Context, req *CheckOrderRequest) (*models.RiskDecision, error)
	Halt(reason string) models.RiskStatus
	Reset() models.RiskStatus
}

// NotificationServiceInterface определяет интерфейс сервиса уведомлений
type NotificationServiceInterface interface {
	GetNotifications(types []string, limit int) ([]*models.Notification, error)
	GetNotificationCount() (int, error)
}

// TradeServiceInterface определяет интерфейс сервиса истории выходов
type TradeServiceInterface interface {
	GetTrades(ctx context.Context, symbol string, limit int) ([]*models.TradeRecord, error)
}

// MonitorStatusProvider состояние планировщика
type MonitorStatusProvider interface {
	Status() bot.MonitorStatus
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ StopServiceInterface = (*StopService)(nil)
var _ RiskServiceInterface = (*RiskService)(nil)
var _ NotificationServiceInterface = (*NotificationService)(nil)
var _ TradeServiceInterface = (*TradeService)(nil)
var _ MonitorStatusProvider = (*bot.Monitor)(nil)
