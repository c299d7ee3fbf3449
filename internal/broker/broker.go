// Package broker абстракция брокера: котировки, позиции, счёт и ордера.
package broker

import (
	"context"
	"errors"
	"fmt"

	"riskguard/internal/models"
)

// Broker унифицированный интерфейс брокера.
// Все методы блокирующие и должны вызываться с контекстом, ограниченным по времени.
type Broker interface {
	// Name имя брокера (alpaca, paper)
	Name() string

	// GetMarketPrice последняя цена сделки по символу
	GetMarketPrice(ctx context.Context, symbol string) (float64, error)

	// GetPosition позиция по символу, ErrPositionNotFound если её нет
	GetPosition(ctx context.Context, symbol string) (*models.Position, error)

	// GetPositions все открытые позиции
	GetPositions(ctx context.Context) ([]models.Position, error)

	// GetAccount снимок счёта с дневным PnL
	GetAccount(ctx context.Context) (*models.AccountInfo, error)

	// SubmitOrder отправляет ордер. Повтор с тем же ClientOrderID
	// возвращает ErrDuplicateClientOrderID и не создаёт второй ордер.
	SubmitOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error)

	// GetOrder ордер по id брокера
	GetOrder(ctx context.Context, orderID string) (*models.OrderResult, error)

	// GetOrderByClientID ордер по client_order_id, ErrOrderNotFound если нет
	GetOrderByClientID(ctx context.Context, clientOrderID string) (*models.OrderResult, error)

	// GetOpenOrders незавершённые ордера; пустой symbol означает все символы
	GetOpenOrders(ctx context.Context, symbol string) ([]models.OrderResult, error)

	// CancelOrder отменяет ордер
	CancelOrder(ctx context.Context, orderID string) error

	// GetHistoricalData свечи (timeframe: 1Min, 1Hour, 1Day)
	GetHistoricalData(ctx context.Context, symbol, timeframe string, limit int) ([]models.Bar, error)

	// Close освобождает соединения
	Close() error
}

var (
	ErrPositionNotFound       = errors.New("position not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrDuplicateClientOrderID = errors.New("client order id already used")
)

// BrokerError ошибка ответа брокера
type BrokerError struct {
	Broker    string
	Op        string
	Status    int // HTTP статус, 0 для сетевых ошибок
	Message   string
	Transient bool
	Original  error
}

func (e *BrokerError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: %d %s", e.Broker, e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Broker, e.Op, e.Message)
}

// Unwrap для errors.Is/As по исходной ошибке
func (e *BrokerError) Unwrap() error {
	return e.Original
}

// Is любая ошибка брокера относится к категории ErrCollaborator
func (e *BrokerError) Is(target error) bool {
	return target == models.ErrCollaborator
}

// Retryable используется pkg/retry: 429, 5xx и сетевые ошибки
func (e *BrokerError) Retryable() bool {
	return e.Transient
}

// IsTransientStatus временные HTTP статусы
func IsTransientStatus(status int) bool {
	return status == 429 || status >= 500
}
