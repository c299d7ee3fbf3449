package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config экспоненциальный backoff с jitter:
//
//	delay = min(InitialDelay * Multiplier^attempt, MaxDelay) ± jitter
type Config struct {
	// MaxAttempts общее число попыток, включая первую. <= 0 означает 1.
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// JitterFactor 0.0 - 1.0, доля случайной вариации задержки
	JitterFactor float64

	// RetryIf решает, повторять ли ошибку. По умолчанию IsRetryable.
	RetryIf func(error) bool

	// OnRetry вызывается перед ожиданием очередной попытки
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig для обычных запросов к брокеру: 3 попытки, 200ms → 400ms
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// OrderConfig для выходных ордеров: больше попыток, короткие паузы
func OrderConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     3 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// BackoffConfig только для расчёта пауз между опросами упавшего символа
// (без jitter, чтобы интервалы были предсказуемы)
func BackoffConfig(base, max time.Duration) Config {
	return Config{
		MaxAttempts:  1,
		InitialDelay: base,
		MaxDelay:     max,
		Multiplier:   2.0,
	}
}

func (c *Config) normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
	if c.RetryIf == nil {
		c.RetryIf = IsRetryable
	}
}

// Backoff задержка после attempt-й неудачи (attempt с 0), не больше MaxDelay
func (c Config) Backoff(attempt int) time.Duration {
	c.normalize()
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if delay > float64(c.MaxDelay) || math.IsInf(delay, 0) {
		delay = float64(c.MaxDelay)
	}

	if c.JitterFactor > 0 {
		delay += delay * c.JitterFactor * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Do выполняет operation до MaxAttempts раз.
// operation получает номер попытки (с 0): перед повтором вызывающий может
// проверить, не выполнилась ли предыдущая попытка на стороне брокера.
// Возвращает последнюю ошибку.
func Do(ctx context.Context, operation func(attempt int) error, cfg Config) error {
	_, err := DoWithResult(ctx, func(attempt int) (struct{}, error) {
		return struct{}{}, operation(attempt)
	}, cfg)
	return err
}

// DoWithResult то же, что Do, для операций с результатом
func DoWithResult[T any](ctx context.Context, operation func(attempt int) (T, error), cfg Config) (T, error) {
	cfg.normalize()

	var zero T
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, unwrapPermanent(lastErr)
			}
			return zero, err
		}

		result, err := operation(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) || attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := cfg.Backoff(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, unwrapPermanent(lastErr)
		}
	}

	return zero, unwrapPermanent(lastErr)
}

// ============ Классификация ошибок ============

// RetryableError ошибка, знающая, можно ли её повторять
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable false для отмены контекста и ошибок с Retryable() == false.
// Остальные ошибки считаются временными.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return true
}

// PermanentError помечает ошибку как неповторяемую
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string   { return e.Err.Error() }
func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent оборачивает err, чтобы Do не повторял операцию
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func unwrapPermanent(err error) error {
	var p *PermanentError
	if errors.As(err, &p) && p == err {
		return p.Err
	}
	return err
}
