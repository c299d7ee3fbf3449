package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"riskguard/internal/models"
)

// Ошибки репозитория сделок
var (
	ErrTradeNotFound = errors.New("trade not found")
)

const tradeColumns = `id, order_id, client_order_id, symbol, side, qty, reason, trigger_price, stop_level, entry_price,
		status, filled_qty, filled_avg_price, realized_pnl, created_at, updated_at`

// TradeRepository - работа с таблицей trades (выходы по стопам и тейкам)
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// SaveTrade создает запись о выходе
func (r *TradeRepository) SaveTrade(ctx context.Context, trade *models.TradeRecord) error {
	query := `
		INSERT INTO trades (order_id, client_order_id, symbol, side, qty, reason, trigger_price, stop_level, entry_price,
			status, filled_qty, filled_avg_price, realized_pnl, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	now := time.Now()
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = now
	}
	trade.UpdatedAt = now

	return r.db.QueryRowContext(ctx, query,
		trade.OrderID,
		trade.ClientOrderID,
		trade.Symbol,
		trade.Side,
		trade.Quantity,
		string(trade.Reason),
		trade.TriggerPrice,
		trade.StopLevel,
		trade.EntryPrice,
		trade.Status,
		trade.FilledQty,
		trade.AvgFillPrice,
		trade.RealizedPnL,
		trade.CreatedAt,
		trade.UpdatedAt,
	).Scan(&trade.ID)
}

// UpdateTradeStatus обновляет статус и исполнение по ID ордера брокера
func (r *TradeRepository) UpdateTradeStatus(ctx context.Context, orderID, status string, filledQty, avgFillPrice float64, realizedPnL *float64) error {
	query := `
		UPDATE trades
		SET status = $1, filled_qty = $2, filled_avg_price = $3, realized_pnl = COALESCE($4, realized_pnl), updated_at = $5
		WHERE order_id = $6`

	result, err := r.db.ExecContext(ctx, query, status, filledQty, avgFillPrice, realizedPnL, time.Now(), orderID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrTradeNotFound
	}

	return nil
}

// GetByOrderID возвращает сделку по ID ордера брокера
func (r *TradeRepository) GetByOrderID(ctx context.Context, orderID string) (*models.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE order_id = $1`

	trade, err := scanTrade(r.db.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}

	return trade, nil
}

// GetRecent возвращает последние N сделок
func (r *TradeRepository) GetRecent(ctx context.Context, limit int) ([]*models.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades ORDER BY created_at DESC LIMIT $1`
	return r.query(ctx, query, limit)
}

// GetBySymbol возвращает сделки по символу, новые первыми
func (r *TradeRepository) GetBySymbol(ctx context.Context, symbol string, limit int) ([]*models.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE symbol = $1 ORDER BY created_at DESC LIMIT $2`
	return r.query(ctx, query, symbol, limit)
}

// RealizedPnLSince суммарный реализованный PnL с момента since
func (r *TradeRepository) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	query := `SELECT COALESCE(SUM(realized_pnl), 0) FROM trades WHERE updated_at >= $1 AND realized_pnl IS NOT NULL`

	var total float64
	if err := r.db.QueryRowContext(ctx, query, since).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// DeleteOlderThan удаляет сделки старше указанного времени
func (r *TradeRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM trades WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *TradeRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.TradeRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.TradeRecord
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return trades, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*models.TradeRecord, error) {
	trade := &models.TradeRecord{}
	var reason string
	err := row.Scan(
		&trade.ID,
		&trade.OrderID,
		&trade.ClientOrderID,
		&trade.Symbol,
		&trade.Side,
		&trade.Quantity,
		&reason,
		&trade.TriggerPrice,
		&trade.StopLevel,
		&trade.EntryPrice,
		&trade.Status,
		&trade.FilledQty,
		&trade.AvgFillPrice,
		&trade.RealizedPnL,
		&trade.CreatedAt,
		&trade.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	trade.Reason = models.TriggerDecision(reason)
	return trade, nil
}
