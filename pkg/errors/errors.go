// Package errors provides the driver-agnostic error taxonomy the engine and
// task manager use to classify failures: a closed set of Kinds, a structured
// error carrying context, and the retry/surface policy each Kind implies.
package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Kind is the classified error taxonomy every driver maps its backend errors
// onto. Drivers that cannot classify a raw error default to Permanent.
type Kind string

const (
	NotFound           Kind = "NOT_FOUND"
	AlreadyExists      Kind = "ALREADY_EXISTS"
	NotADirectory      Kind = "NOT_A_DIRECTORY"
	NotAFile           Kind = "NOT_A_FILE"
	RangeNotSatisfiable Kind = "RANGE_NOT_SATISFIABLE"
	Auth               Kind = "AUTH"
	QuotaExceeded      Kind = "QUOTA_EXCEEDED"
	RateLimited        Kind = "RATE_LIMITED"
	Transient          Kind = "TRANSIENT"
	Unsupported        Kind = "UNSUPPORTED"
	Cancelled          Kind = "CANCELLED"
	Permanent          Kind = "PERMANENT"
)

// Retryable reports whether the engine should retry an operation that
// failed with this kind.
func (k Kind) Retryable() bool {
	switch k {
	case Transient, RateLimited:
		return true
	default:
		return false
	}
}

// Terminal reports whether this kind ends a task in a state other than Failed.
func (k Kind) Terminal() bool {
	return k == Cancelled
}

// DriverError is the structured error every driver, the registry, and the
// engine return. It always carries a Kind; Component/Operation/Path pin down
// where the failure happened, and Cause preserves the original backend error
// for logging without leaking vendor-specific types into the engine.
type DriverError struct {
	Kind      Kind              `json:"kind"`
	Message   string            `json:"message"`
	Component string            `json:"component,omitempty"`
	Operation string            `json:"operation,omitempty"`
	Path      string            `json:"path,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`
	Stack     string            `json:"stack,omitempty"`

	// NativeCode is the backend's own error code or message, kept for
	// operator diagnostics but never inspected by the engine (§9: "the
	// engine never inspects vendor-specific codes").
	NativeCode string `json:"native_code,omitempty"`
}

// Error implements the error interface.
func (e *DriverError) Error() string {
	if e.Component != "" && e.Operation != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Kind, e.Message)
	}
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *DriverError) Unwrap() error {
	return e.Cause
}

// Is matches another *DriverError by Kind, satisfying errors.Is.
func (e *DriverError) Is(target error) bool {
	other, ok := target.(*DriverError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Retryable reports whether the engine's retry policy applies to this error.
func (e *DriverError) Retryable() bool {
	return e.Kind.Retryable()
}

// New creates a DriverError of the given kind with a message.
func New(kind Kind, message string) *DriverError {
	return &DriverError{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
	}
}

// Wrap classifies an existing error into the given kind, preserving it as
// Cause. Drivers use this at their boundary to translate backend-native
// errors into the closed taxonomy the engine understands.
func Wrap(kind Kind, cause error, message string) *DriverError {
	e := New(kind, message)
	e.Cause = cause
	return e
}

// WithComponent sets the component that produced the error (typically a
// driver kind, e.g. "s3" or "local").
func (e *DriverError) WithComponent(component string) *DriverError {
	e.Component = component
	return e
}

// WithOperation sets the Driver Contract operation that failed.
func (e *DriverError) WithOperation(operation string) *DriverError {
	e.Operation = operation
	return e
}

// WithPath attaches the virtual or inner path the error concerns.
func (e *DriverError) WithPath(path string) *DriverError {
	e.Path = path
	return e
}

// WithNativeCode records the backend's own code or message for diagnostics.
func (e *DriverError) WithNativeCode(code string) *DriverError {
	e.NativeCode = code
	return e
}

// WithContext attaches a free-form key/value for structured logging.
func (e *DriverError) WithContext(key, value string) *DriverError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithStack captures the current call stack; reserved for Permanent
// errors where a developer will want to see where the failure originated.
func (e *DriverError) WithStack() *DriverError {
	e.Stack = captureStack(2)
	return e
}

// JSON renders the error for structured log sinks.
func (e *DriverError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal driver error: %s"}`, err.Error())
	}
	return string(data)
}

func captureStack(skip int) string {
	const depth = 16
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "pkg/errors/errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// Of extracts the Kind from err, returning Permanent for errors the
// taxonomy has never seen: drivers that fail to classify default to
// Permanent.
func Of(err error) Kind {
	if err == nil {
		return ""
	}
	var de *DriverError
	if ok := as(err, &de); ok {
		return de.Kind
	}
	return Permanent
}

// as is a tiny local shim so this package doesn't need to import the
// standard errors package under the same name as this package.
func as(err error, target **DriverError) bool {
	for err != nil {
		if de, ok := err.(*DriverError); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
