package core

import "github.com/m-mizutani/goerr/v2"

// Sentinel errors shared by every component. Call sites wrap them with
// goerr.Wrap and callers match them with errors.Is.
var (
	// ErrValidation reports bad input to the memory store. The operation
	// that returned it did not apply.
	ErrValidation = goerr.New("validation error")

	// ErrFormat reports a malformed envelope or need/command directive.
	ErrFormat = goerr.New("format error")

	// ErrSecurityDenied reports a sandbox rejection.
	ErrSecurityDenied = goerr.New("denied by security restrictions")

	// ErrTransientProvider reports a network or timeout failure against a
	// completion or data provider after retries were exhausted.
	ErrTransientProvider = goerr.New("transient provider error")

	// ErrExecutionTimeout reports a command that exceeded its time bound.
	ErrExecutionTimeout = goerr.New("execution timed out")

	// ErrPersistence reports a durable storage read or write failure.
	ErrPersistence = goerr.New("persistence error")

	// ErrConfiguration reports a missing endpoint, credential or profile.
	// It is never retried.
	ErrConfiguration = goerr.New("configuration error")

	// ErrDepthExceeded reports need re-querying past the configured bound.
	ErrDepthExceeded = goerr.New("maximum need depth exceeded")
)

// Context keys for error values
const (
	KindKey     = "kind"
	PayloadKey  = "payload"
	ToolKey     = "tool"
	AttemptKey  = "attempt"
	StatusKey   = "status"
	EndpointKey = "endpoint"
	QueryKey    = "query"
	DepthKey    = "depth"
)
