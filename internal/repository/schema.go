package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements идемпотентное создание таблиц
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id               BIGSERIAL PRIMARY KEY,
		order_id         TEXT NOT NULL UNIQUE,
		client_order_id  TEXT NOT NULL,
		symbol           TEXT NOT NULL,
		side             TEXT NOT NULL,
		qty              DOUBLE PRECISION NOT NULL,
		reason           TEXT NOT NULL,
		trigger_price    DOUBLE PRECISION NOT NULL,
		stop_level       DOUBLE PRECISION NOT NULL,
		entry_price      DOUBLE PRECISION NOT NULL,
		status           TEXT NOT NULL,
		filled_qty       DOUBLE PRECISION NOT NULL DEFAULT 0,
		filled_avg_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		realized_pnl     DOUBLE PRECISION,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_symbol_created ON trades (symbol, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_updated ON trades (updated_at)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id        BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		type      TEXT NOT NULL,
		severity  TEXT NOT NULL,
		symbol    TEXT,
		message   TEXT NOT NULL,
		meta      JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_timestamp ON notifications (timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS settings (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		risk_limits JSONB,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema создаёт недостающие таблицы и индексы
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
