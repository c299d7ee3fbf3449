package bot

import (
	"context"
	"time"

	"riskguard/pkg/utils"
)

// DailyResetScheduler сбрасывает дневные лимиты риска на границе торгового дня
type DailyResetScheduler struct {
	risk   *RiskManager
	at     utils.ClockTime
	loc    *time.Location
	logger *utils.Logger
	now    func() time.Time

	// after заменяется в тестах
	after func(d time.Duration) <-chan time.Time
}

func NewDailyResetScheduler(risk *RiskManager, at utils.ClockTime, loc *time.Location, logger *utils.Logger) *DailyResetScheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = utils.L()
	}
	return &DailyResetScheduler{
		risk:   risk,
		at:     at,
		loc:    loc,
		logger: logger.WithComponent("daily_reset"),
		now:    time.Now,
		after:  time.After,
	}
}

// Run блокируется до отмены ctx
func (s *DailyResetScheduler) Run(ctx context.Context) {
	for {
		now := s.now()
		next := utils.NextOccurrence(now, s.at, s.loc)
		s.logger.Info("next daily reset scheduled", utils.String("at", next.Format(time.RFC3339)))

		select {
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(now)):
			s.ResetIfDue()
		}
	}
}

// ResetIfDue сбрасывает лимиты, если с последней границы дня сброса ещё не было.
// Возвращает true, если сброс выполнен.
func (s *DailyResetScheduler) ResetIfDue() bool {
	boundary := utils.LastOccurrence(s.now(), s.at, s.loc)
	if !s.risk.HaltState().LastReset.Before(boundary) {
		return false
	}
	s.risk.ResetDailyLimits()
	return true
}
