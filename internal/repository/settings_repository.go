package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"riskguard/internal/models"
)

// Ошибки репозитория настроек
var (
	ErrSettingsNotFound = errors.New("settings not found")
)

// SettingsRepository - лимиты риска в таблице settings (всегда id=1, одна запись)
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository создает новый экземпляр репозитория
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetRiskLimits возвращает сохранённые лимиты.
// ErrSettingsNotFound если оператор их ещё не менял.
func (r *SettingsRepository) GetRiskLimits(ctx context.Context) (models.RiskLimits, error) {
	var limits models.RiskLimits
	var limitsJSON []byte

	err := r.db.QueryRowContext(ctx, `SELECT risk_limits FROM settings WHERE id = 1`).Scan(&limitsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return limits, ErrSettingsNotFound
		}
		return limits, err
	}

	if len(limitsJSON) == 0 {
		return limits, ErrSettingsNotFound
	}
	if err := json.Unmarshal(limitsJSON, &limits); err != nil {
		return limits, err
	}
	return limits, nil
}

// SaveRiskLimits сохраняет лимиты (upsert)
func (r *SettingsRepository) SaveRiskLimits(ctx context.Context, limits models.RiskLimits) error {
	limitsJSON, err := json.Marshal(limits)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO settings (id, risk_limits, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET risk_limits = EXCLUDED.risk_limits, updated_at = EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, query, limitsJSON, time.Now())
	return err
}
