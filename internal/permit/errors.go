package permit

import "errors"

var (
	ErrNotFound           = errors.New("permit not found")
	ErrInvalidTransition  = errors.New("invalid permit transition")
	ErrConcurrentUpdate   = errors.New("permit was modified concurrently")
	ErrNotEditable        = errors.New("permit is not editable in its current status")
	ErrNoPendingApproval  = errors.New("no pending approval for role")
	ErrNoPendingExtension = errors.New("no pending extension request")
	ErrAlreadyClosed      = errors.New("permit already has a closure record")
	ErrRoleNotPermitted   = errors.New("user role cannot sign this approval")
	ErrUnknownReference   = errors.New("referenced site or vendor does not exist")
)
