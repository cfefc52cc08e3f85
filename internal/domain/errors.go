package domain

import "errors"

var (
	// ErrSessionNotFound indicates that no persisted session has the given id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotActive indicates the session has no live process here.
	ErrSessionNotActive = errors.New("session not active")
	// ErrSessionInitializing indicates the live process is still being wired up.
	ErrSessionInitializing = errors.New("session still initializing")
	// ErrInputUnsupported indicates the process has no input surface.
	ErrInputUnsupported = errors.New("session does not support input")
	// ErrAdapterNotFound indicates no adapter is registered for a kind.
	ErrAdapterNotFound = errors.New("kind not found")
	// ErrPolicyDenied indicates the admission policy blocked the request.
	ErrPolicyDenied = errors.New("denied by policy")
	// ErrInvalidArgument indicates a malformed request.
	ErrInvalidArgument = errors.New("invalid argument")
)
