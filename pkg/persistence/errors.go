// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrTemplateNotFound indicates no template exists for the tenant and id.
	ErrTemplateNotFound = errors.New("workflow template not found")

	// ErrInstanceNotFound indicates no instance exists for the tenant and id.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrApprovalNotFound indicates the step has no approval record.
	ErrApprovalNotFound = errors.New("workflow approval not found")

	// ErrApprovalNotPending indicates the approval was already decided.
	ErrApprovalNotPending = errors.New("workflow approval is not pending")

	// ErrInstanceConflict indicates the instance was no longer in the expected state
	// when a transition was attempted.
	ErrInstanceConflict = errors.New("workflow instance changed concurrently")
)

// InstanceError wraps instance-scoped errors with additional context.
type InstanceError struct {
	Op         string // Operation being performed (e.g., "Transition", "Decide")
	TenantID   string
	InstanceID string
	StepID     string // Step ID if applicable
	Err        error
}

func (e *InstanceError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s operation failed for instance %s step %s: %v", e.Op, e.InstanceID, e.StepID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for instance errors.
func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, tenantID, instanceID string, err error) *InstanceError {
	return &InstanceError{Op: op, TenantID: tenantID, InstanceID: instanceID, Err: err}
}

// NewStepError creates a new instance error scoped to one step.
func NewStepError(op, tenantID, instanceID, stepID string, err error) *InstanceError {
	return &InstanceError{Op: op, TenantID: tenantID, InstanceID: instanceID, StepID: stepID, Err: err}
}

func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

func IsApprovalNotFound(err error) bool {
	return errors.Is(err, ErrApprovalNotFound)
}

func IsApprovalNotPending(err error) bool {
	return errors.Is(err, ErrApprovalNotPending)
}

func IsInstanceConflict(err error) bool {
	return errors.Is(err, ErrInstanceConflict)
}
