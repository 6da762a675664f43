package engine

import (
	"errors"
	"fmt"

	"github.com/dukex/stepflow/pkg/persistence"
)

// Configuration errors are returned to the caller. Runtime failures inside a step
// are recorded on the instance instead.
var (
	ErrTemplateNotFound   = persistence.ErrTemplateNotFound
	ErrInstanceNotFound   = persistence.ErrInstanceNotFound
	ErrApprovalNotFound   = persistence.ErrApprovalNotFound
	ErrApprovalNotPending = persistence.ErrApprovalNotPending

	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidTemplate    = errors.New("invalid workflow template")
	ErrNoSteps            = errors.New("workflow template has no steps")
	ErrStepNotFound       = errors.New("step not found in template")
	ErrUnknownStepType    = errors.New("unknown step type")
	ErrChainDepthExceeded = errors.New("step chain depth exceeded")

	ErrInstanceNotActive = errors.New("workflow instance is not active")
	ErrStepNotCurrent    = errors.New("step is not the current step of the instance")

	ErrActionFailure       = errors.New("automation action failed")
	ErrNotificationFailure = errors.New("notification delivery failed")
	ErrInvalidCondition    = errors.New("condition step has no conditions")
	ErrTimeoutExceeded     = errors.New("step timeout exceeded")
)

// StepError carries the instance and step an engine operation failed on.
type StepError struct {
	Op         string
	InstanceID string
	StepID     string
	Err        error
}

func (e *StepError) Error() string {
	if e.StepID == "" {
		return fmt.Sprintf("%s instance %s: %v", e.Op, e.InstanceID, e.Err)
	}

	return fmt.Sprintf("%s instance %s step %s: %v", e.Op, e.InstanceID, e.StepID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsNotFound reports whether err names a template, instance or approval that does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrInstanceNotFound) ||
		errors.Is(err, ErrApprovalNotFound) ||
		errors.Is(err, ErrStepNotFound)
}

// IsValidationError reports whether err was caused by malformed caller input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidTemplate) ||
		errors.Is(err, ErrNoSteps)
}

// IsConflictError reports whether err means the instance moved on before the call applied.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrInstanceNotActive) ||
		errors.Is(err, ErrStepNotCurrent) ||
		errors.Is(err, ErrApprovalNotPending) ||
		errors.Is(err, persistence.ErrInstanceConflict)
}
