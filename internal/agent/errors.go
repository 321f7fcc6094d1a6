package agent

import "errors"

var (
	// ErrNoProvider is returned when no reasoning backend is configured.
	ErrNoProvider = errors.New("agent: no provider configured")

	// ErrToolNotFound is returned when the model requests a tool that was
	// never registered. This is a protocol fault, not a tool failure.
	ErrToolNotFound = errors.New("agent: tool not found")

	// ErrQuotaExceeded is returned when a tool call would exceed the
	// tool's per-session quota.
	ErrQuotaExceeded = errors.New("agent: tool quota exceeded")

	// ErrReasonTimeout is returned when a reasoning call does not finish
	// within its deadline.
	ErrReasonTimeout = errors.New("agent: reasoning timed out")

	// ErrEmptyResponse is returned when a reasoning turn produces neither
	// text nor a tool call. This is a protocol fault on the provider side.
	ErrEmptyResponse = errors.New("agent: empty reasoning response")

	// ErrSessionCancelled is returned when a session stops because the
	// user asked for it to be cancelled.
	ErrSessionCancelled = errors.New("agent: session cancelled")
)
