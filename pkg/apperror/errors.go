// Package apperror provides the durable-runtime error taxonomy described in
// spec §7: transient errors retried by the durability wrapper, recoverable
// errors surfaced to the guest, and fatal errors that park a worker.
package apperror

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code identifies the broad class of an application error.
type Code string

const (
	// CodeTransient marks an error retried locally per the active retry policy
	// (network blips, transient storage errors).
	CodeTransient Code = "TRANSIENT"
	// CodeRecoverable marks an error surfaced to the guest as a typed result;
	// execution continues.
	CodeRecoverable Code = "RECOVERABLE"
	// CodeNonDeterministicReplay marks a fatal replay divergence: the oplog
	// held an entry whose function name or schema disagrees with what the
	// current code expects.
	CodeNonDeterministicReplay Code = "NONDETERMINISTIC_REPLAY"
	// CodeOplogCorruption marks a fatal payload-hash mismatch or otherwise
	// unreadable oplog entry.
	CodeOplogCorruption Code = "OPLOG_CORRUPTION"
	// CodeFatal covers any other unrecoverable condition; the worker enters Failed.
	CodeFatal Code = "FATAL"

	// CodeInvalidRequest is returned for malformed or disallowed RPC requests
	// (self-RPC, unknown worker, bad idempotency key).
	CodeInvalidRequest Code = "INVALID_REQUEST"
	// CodeNotFound is returned when a worker, component, or oplog entry does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeTimeout is returned when an RPC or storage operation exceeds its deadline.
	CodeTimeout Code = "TIMEOUT"
	// CodeUnavailable is returned when a downstream dependency cannot be reached.
	CodeUnavailable Code = "UNAVAILABLE"
)

// Severity indicates how urgently an error should be surfaced to operators.
type Severity int

const (
	// SeverityWarning is a non-critical condition, logged but not actioned.
	SeverityWarning Severity = iota
	// SeverityError is a standard failure requiring attention.
	SeverityError
	// SeverityCritical requires immediate operator intervention (worker parked).
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Error is the structured error type threaded through the durability
// wrapper, the replay engine, and the RPC fabric.
type Error struct {
	Code      Code
	Message   string
	Details   map[string]any
	Cause     error
	Severity  Severity
	// Retriable marks whether the durability wrapper should re-attempt the
	// effect under the current retry policy before promoting this error to
	// Recoverable.
	Retriable bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// GRPCStatus converts the error into a gRPC status, used at the shard/RPC boundary.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.grpcCode(), e.Message)
}

func (e *Error) grpcCode() codes.Code {
	switch e.Code {
	case CodeInvalidRequest:
		return codes.InvalidArgument
	case CodeNotFound:
		return codes.NotFound
	case CodeTimeout:
		return codes.DeadlineExceeded
	case CodeUnavailable, CodeTransient:
		return codes.Unavailable
	case CodeOplogCorruption, CodeNonDeterministicReplay, CodeFatal:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// New creates an error with SeverityError and no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Details: make(map[string]any), Severity: SeverityError}
}

// Wrap creates an error that preserves an underlying cause.
func Wrap(cause error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Details: make(map[string]any), Severity: SeverityError}
}

// Transient creates a retriable transient error, the shape produced by a
// durability-wrapped effect that failed with a network or storage blip.
func Transient(cause error, message string) *Error {
	return &Error{Code: CodeTransient, Message: message, Cause: cause, Details: make(map[string]any), Severity: SeverityError, Retriable: true}
}

// Fatal creates a SeverityCritical error; the caller should park the worker
// (append Error then Exited) after returning it.
func Fatal(cause error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Details: make(map[string]any), Severity: SeverityCritical}
}

// WithDetails attaches structured context and returns the same error for chaining.
func (e *Error) WithDetails(key string, value any) *Error {
	e.Details[key] = value
	return e
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code Code) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, defaulting to CodeFatal when err is not an *Error.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeFatal
}

// IsRetriable reports whether the durability wrapper should retry err under
// the active retry policy before promoting it to Recoverable.
func IsRetriable(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Retriable
	}
	return false
}

// IsFatal reports whether err should park the worker (NonDeterministicReplay,
// OplogCorruption, or Fatal).
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeNonDeterministicReplay, CodeOplogCorruption, CodeFatal:
		return true
	default:
		return false
	}
}

// ToGRPC converts any error into a gRPC status error for the shard/RPC boundary.
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.GRPCStatus().Err()
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, err.Error())
}

// FromGRPC converts a gRPC error received from a peer executor or the shard
// manager back into an *Error, marking transport-layer failures transient
// per spec §6 ("all transport errors are retriable").
func FromGRPC(err error) *Error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return New(CodeFatal, err.Error())
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return New(CodeInvalidRequest, st.Message())
	case codes.NotFound:
		return New(CodeNotFound, st.Message())
	case codes.DeadlineExceeded:
		return &Error{Code: CodeTimeout, Message: st.Message(), Details: map[string]any{}, Retriable: true}
	case codes.Unavailable, codes.Aborted, codes.ResourceExhausted:
		return &Error{Code: CodeUnavailable, Message: st.Message(), Details: map[string]any{}, Retriable: true}
	default:
		return New(CodeFatal, st.Message())
	}
}

// Predefined sentinel errors used throughout the runtime.
var (
	ErrWorkerNotFound     = New(CodeNotFound, "worker not found")
	ErrSelfRPC            = New(CodeInvalidRequest, "rpc call target equals caller worker id")
	ErrUnexpectedEntry    = New(CodeNonDeterministicReplay, "replay encountered an unexpected oplog entry")
	ErrPayloadHashInvalid = New(CodeOplogCorruption, "downloaded payload hash does not match the stored hash")
	ErrEntryImmutable     = New(CodeFatal, "oplog entries are immutable once appended")
)
