package executor

import (
	"errors"
	"fmt"

	"github.com/ChuLiYu/beaver-raft/pkg/types"
)

// ErrIllegalContext is returned (wrapped in IllegalContextError) when
// Execute or Schedule is called outside of a COMMAND.
var ErrIllegalContext = errors.New("executor: callbacks can only be scheduled during command execution")

var (
	errEmptyOperationName = errors.New("executor: operation name must not be empty")
	errNilHandler         = errors.New("executor: handler must not be nil")
)

// UnknownOperationError is fatal to the caller: apply received an
// OperationID with no registered handler.
type UnknownOperationError struct {
	Operation types.OperationID
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("executor: unknown operation %q", e.Operation.Name)
}

// ApplicationError wraps a handler panic or error. Post-op tasks have
// already drained by the time this is returned to the caller.
type ApplicationError struct {
	Operation types.OperationID
	Cause     error
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("executor: operation %q failed: %v", e.Operation.Name, e.Cause)
}

func (e *ApplicationError) Unwrap() error {
	return e.Cause
}

// IllegalContextError indicates a programmer error: Execute or Schedule
// was called while the current operation is not a COMMAND (including
// outside of apply/tick entirely).
type IllegalContextError struct {
	Method string
}

func (e *IllegalContextError) Error() string {
	return fmt.Sprintf("executor: %s: %v", e.Method, ErrIllegalContext)
}

func (e *IllegalContextError) Unwrap() error {
	return ErrIllegalContext
}
