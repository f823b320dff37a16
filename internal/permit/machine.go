package permit

import (
	"errors"
	"fmt"
)

// Trigger is a lifecycle action.
type Trigger string

const (
	TriggerSubmit           Trigger = "submit"
	TriggerApprove          Trigger = "approve"
	TriggerReject           Trigger = "reject"
	TriggerRequestExtension Trigger = "request_extension"
	TriggerApproveExtension Trigger = "approve_extension"
	TriggerRejectExtension  Trigger = "reject_extension"
	TriggerSuspend          Trigger = "suspend"
	TriggerResume           Trigger = "resume"
	TriggerClose            Trigger = "close"
	TriggerCancel           Trigger = "cancel"
)

// Triggers lists every trigger.
var Triggers = []Trigger{
	TriggerSubmit, TriggerApprove, TriggerReject, TriggerRequestExtension,
	TriggerApproveExtension, TriggerRejectExtension, TriggerSuspend,
	TriggerResume, TriggerClose, TriggerCancel,
}

// transitions maps state and trigger to the target state. approve targets
// Active only once every required approval is granted; until then the
// permit stays in Pending_Approval.
var transitions = map[Status]map[Trigger]Status{
	StatusDraft: {
		TriggerSubmit: StatusPendingApproval,
		TriggerCancel: StatusCancelled,
	},
	StatusPendingApproval: {
		TriggerApprove: StatusActive,
		TriggerReject:  StatusRejected,
		TriggerCancel:  StatusCancelled,
	},
	StatusActive: {
		TriggerRequestExtension: StatusExtensionRequested,
		TriggerSuspend:          StatusSuspended,
		TriggerClose:            StatusClosed,
		TriggerCancel:           StatusCancelled,
	},
	StatusExtensionRequested: {
		TriggerApproveExtension: StatusActive,
		TriggerRejectExtension:  StatusActive,
	},
	StatusSuspended: {
		TriggerResume: StatusActive,
		TriggerClose:  StatusClosed,
		TriggerCancel: StatusCancelled,
	},
}

// TransitionError reports a trigger fired from a state that does not list it.
type TransitionError struct {
	From    Status
	Trigger Trigger
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a permit in status %s", e.Trigger, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Allowed reports whether trigger is listed for from.
func Allowed(from Status, trigger Trigger) bool {
	_, ok := transitions[from][trigger]
	return ok
}

// Next returns the target state of trigger from the given state.
func Next(from Status, trigger Trigger) (Status, error) {
	to, ok := transitions[from][trigger]
	if !ok {
		return from, &TransitionError{From: from, Trigger: trigger}
	}
	return to, nil
}

// AsTransitionError extracts a TransitionError from err.
func AsTransitionError(err error) (*TransitionError, bool) {
	var te *TransitionError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
