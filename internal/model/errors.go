package model

import "github.com/rotisserie/eris"

// Validation errors: rejected before any state mutation.
var (
	ErrUnknownType   = eris.New("unknown investigator type")
	ErrDuplicateName = eris.New("duplicate investigator name")
	ErrInvalidConfig = eris.New("invalid investigator configuration")
	ErrNoEngine      = eris.New("no rule engine for investigator type")
)

// State-conflict errors: rejected at the guard check.
var (
	ErrNotFound         = eris.New("not found")
	ErrInactive         = eris.New("investigator is inactive")
	ErrAlreadyRunning   = eris.New("investigator is already running")
	ErrInUse            = eris.New("investigator has a running execution")
	ErrExecutionRunning = eris.New("execution is still running")
)
