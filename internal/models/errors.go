package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"riskguard/pkg/utils"
)

// Категории ошибок. Проверяются через errors.Is, конкретные типы несут детали.
var (
	ErrValidation    = errors.New("validation error")
	ErrRiskRejected  = errors.New("risk rejected")
	ErrCollaborator  = errors.New("collaborator error")
	ErrPersistence   = errors.New("persistence error")
	ErrInvariant     = errors.New("invariant violation")
	ErrStopNotFound  = errors.New("stop config not found")
	ErrTradingHalted = errors.New("trading halted")
)

// ValidationError неверный ввод оператора (HTTP 422)
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ValidationFromFields собирает ValidationError из ошибок по полям, nil если их нет
func ValidationFromFields(errs utils.ValidationErrors) error {
	if !errs.HasErrors() {
		return nil
	}
	return &ValidationError{Message: "invalid input", Fields: errs.Fields()}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation: " + e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation: " + e.Message + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// RiskRejectedError ордер или позиция не прошли риск-проверку
type RiskRejectedError struct {
	Reason string
}

func (e *RiskRejectedError) Error() string { return "risk rejected: " + e.Reason }

func (e *RiskRejectedError) Is(target error) bool {
	if target == ErrRiskRejected {
		return true
	}
	return target == ErrTradingHalted && e.Reason == RejectHalted
}

// CollaboratorError сбой брокера или другого внешнего сервиса
type CollaboratorError struct {
	Source    string // broker, database
	Op        string
	Transient bool
	Err       error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Source, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error        { return e.Err }
func (e *CollaboratorError) Is(target error) bool { return target == ErrCollaborator }

// Retryable используется pkg/retry
func (e *CollaboratorError) Retryable() bool { return e.Transient }

// PersistenceError ошибка записи истории; только логируется
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string        { return "persistence " + e.Op + ": " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error        { return e.Err }
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// InvariantViolation нарушение внутреннего инварианта (например, повторный выход по символу)
type InvariantViolation struct {
	Symbol string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation for %s: %s", e.Symbol, e.Detail)
}

func (e *InvariantViolation) Is(target error) bool { return target == ErrInvariant }
