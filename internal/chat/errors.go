package chat

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInputEmpty               Kind = "input_empty"
	KindPlanUnavailable          Kind = "plan_unavailable"
	KindValidationRejected       Kind = "validation_rejected"
	KindExecutionFailed          Kind = "execution_failed"
	KindRepairValidationRejected Kind = "repair_validation_rejected"
	KindRepairUnavailable        Kind = "repair_unavailable"
	KindRepairExecutionFailed    Kind = "repair_execution_failed"
)

// Error is a user-facing pipeline failure. Issues, SQL and EngineError are
// carried verbatim so callers can show exactly what was rejected and why.
type Error struct {
	Kind        Kind
	State       State
	Message     string
	Issues      []string
	SQL         string
	EngineError string
	// RepairEngineError is set when the repaired SQL failed as well.
	RepairEngineError string
}

func (e *Error) Error() string {
	if e.EngineError != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.EngineError)
	}
	return e.Message
}

// Retryable reports failures that depend on generator availability rather
// than on the question itself.
func (e *Error) Retryable() bool {
	return e.Kind == KindPlanUnavailable || e.Kind == KindRepairUnavailable
}

// AsError unwraps err to a pipeline *Error.
func AsError(err error) (*Error, bool) {
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return chatErr, true
	}
	return nil, false
}
