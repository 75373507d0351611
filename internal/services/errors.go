package services

import (
	"errors"
	"fmt"

	"authorization-service/internal/repository"
)

var (
	ErrWorkflowNotFound      = errors.New("workflow not found")
	ErrStepNotFound          = errors.New("workflow step not found")
	ErrRuleNotFound          = errors.New("matrix rule not found")
	ErrDelegationNotFound    = errors.New("delegation not found")
	ErrNotificationNotFound  = errors.New("notification not found")
	ErrWorkflowClosed        = errors.New("workflow is already closed")
	ErrStepNotActive         = errors.New("step is not the active step of the workflow")
	ErrStepAlreadyDecided    = errors.New("step has already been decided")
	ErrStepNotApproved       = errors.New("step is not approved")
	ErrLaterApprovalExists   = errors.New("a later step has already been approved")
	ErrUnauthorizedApprover  = errors.New("user is not authorized to act on this step")
	ErrSelfApproval          = errors.New("requester cannot decide their own workflow")
	ErrNotRequester          = errors.New("only the requester can cancel a workflow")
	ErrNotDelegator          = errors.New("only the delegator can revoke a delegation")
	ErrNoMatchingRules       = errors.New("no authorization rule matches this workflow")
	ErrAmbiguousDelegation   = errors.New("more than one delegation applies")
	ErrOverlappingDelegation = errors.New("an overlapping delegation already exists")
	ErrNoSupervisor          = errors.New("no supervisor available for escalation")
	ErrNoExecutives          = errors.New("no executives available for final escalation")
	ErrUserNotFound          = errors.New("user not found")
)

// ValidationError reports invalid input on a single field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Kind classifies a service error for transport mapping
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindForbidden
)

// ErrorKind returns the classification of err
func ErrorKind(err error) Kind {
	var ve *ValidationError
	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &ve), errors.Is(err, ErrNoMatchingRules):
		return KindValidation
	case errors.Is(err, ErrWorkflowNotFound),
		errors.Is(err, ErrStepNotFound),
		errors.Is(err, ErrRuleNotFound),
		errors.Is(err, ErrDelegationNotFound),
		errors.Is(err, ErrNotificationNotFound),
		errors.Is(err, repository.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrWorkflowClosed),
		errors.Is(err, ErrStepNotActive),
		errors.Is(err, ErrStepAlreadyDecided),
		errors.Is(err, ErrStepNotApproved),
		errors.Is(err, ErrLaterApprovalExists),
		errors.Is(err, ErrAmbiguousDelegation),
		errors.Is(err, ErrOverlappingDelegation),
		errors.Is(err, repository.ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnauthorizedApprover),
		errors.Is(err, ErrSelfApproval),
		errors.Is(err, ErrNotRequester),
		errors.Is(err, ErrNotDelegator):
		return KindForbidden
	default:
		return KindInternal
	}
}
