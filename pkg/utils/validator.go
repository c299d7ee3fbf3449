package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// validator.go - проверка пользовательского ввода (символы, цены, проценты)

var (
	ErrInvalidSymbol     = errors.New("invalid symbol")
	ErrInvalidPrice      = errors.New("price must be a finite number greater than 0")
	ErrInvalidPercentage = errors.New("percentage must be in range (0, 100)")
	ErrInvalidQuantity   = errors.New("quantity must be a finite number greater than 0")
)

// Тикеры акций (AAPL, BRK.B) и криптопары брокера (BTC/USD)
var symbolPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9./]{0,14}$`)

// NormalizeSymbol приводит символ к верхнему регистру без пробелов
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidateSymbol проверяет уже нормализованный символ
func ValidateSymbol(symbol string) error {
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

func IsValidSymbol(symbol string) bool {
	return ValidateSymbol(NormalizeSymbol(symbol)) == nil
}

func ValidatePrice(price float64) error {
	if !IsFinitePositive(price) {
		return ErrInvalidPrice
	}
	return nil
}

func ValidateQuantity(qty float64) error {
	if !IsFinitePositive(qty) {
		return ErrInvalidQuantity
	}
	return nil
}

// ValidatePercentage проценты в пунктах: 2 означает 2%
func ValidatePercentage(pct float64) error {
	if !IsFinitePositive(pct) || pct >= 100 {
		return ErrInvalidPercentage
	}
	return nil
}

// ============ ValidationErrors ============

// FieldError ошибка конкретного поля
type FieldError struct {
	Field   string
	Message string
}

// ValidationErrors накапливает ошибки по полям, чтобы вернуть их разом
type ValidationErrors []FieldError

func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, FieldError{Field: field, Message: message})
}

// AddError добавляет err, если он не nil
func (v *ValidationErrors) AddError(field string, err error) {
	if err != nil {
		v.Add(field, err.Error())
	}
}

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

// Fields карта поле -> сообщение (для details в JSON-ответе)
func (v ValidationErrors) Fields() map[string]string {
	out := make(map[string]string, len(v))
	for _, e := range v {
		out[e.Field] = e.Message
	}
	return out
}
