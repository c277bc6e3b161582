package contract

import "errors"

var (
	ErrModelInvoke   = errors.New("model invoke failed")
	ErrValidation    = errors.New("validation failed")
	ErrTurnNotFound  = errors.New("conversation turn not found")
	ErrNoPendingCall = errors.New("no pending deferred call")
)
