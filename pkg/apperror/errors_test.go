package apperror

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{"no cause", New(CodeNotFound, "worker not found"), "[NOT_FOUND] worker not found"},
		{"with cause", Wrap(errors.New("boom"), CodeFatal, "activation failed"), "[FATAL] activation failed: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, CodeFatal, "wrapped")

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestError_GRPCStatus(t *testing.T) {
	tests := []struct {
		name         string
		code         Code
		expectedCode codes.Code
	}{
		{"invalid request", CodeInvalidRequest, codes.InvalidArgument},
		{"not found", CodeNotFound, codes.NotFound},
		{"timeout", CodeTimeout, codes.DeadlineExceeded},
		{"unavailable", CodeUnavailable, codes.Unavailable},
		{"transient", CodeTransient, codes.Unavailable},
		{"oplog corruption", CodeOplogCorruption, codes.Internal},
		{"nondeterministic replay", CodeNonDeterministicReplay, codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := New(tt.code, "test message").GRPCStatus()
			if st.Code() != tt.expectedCode {
				t.Errorf("GRPCStatus().Code() = %v, want %v", st.Code(), tt.expectedCode)
			}
		})
	}
}

func TestTransient_IsRetriable(t *testing.T) {
	err := Transient(errors.New("connection reset"), "storage write failed")
	if !IsRetriable(err) {
		t.Error("Transient error should be retriable")
	}
	if IsFatal(err) {
		t.Error("Transient error should not be fatal")
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nondeterministic replay", New(CodeNonDeterministicReplay, "x"), true},
		{"oplog corruption", New(CodeOplogCorruption, "x"), true},
		{"fatal", New(CodeFatal, "x"), true},
		{"recoverable", New(CodeRecoverable, "x"), false},
		{"plain error", errors.New("not an apperror"), true}, // CodeOf defaults to CodeFatal
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
		})
	}
}

func TestFromGRPC_MarksTransportErrorsRetriable(t *testing.T) {
	err := FromGRPC(New(CodeUnavailable, "peer unreachable").GRPCStatus().Err())
	if !err.Retriable {
		t.Error("transport-layer gRPC errors must be retriable per spec §6")
	}
}

func TestIs_And_CodeOf(t *testing.T) {
	err := New(CodeNotFound, "worker not found")
	if !Is(err, CodeNotFound) {
		t.Error("Is() should match the error's code")
	}
	if CodeOf(err) != CodeNotFound {
		t.Errorf("CodeOf() = %v, want %v", CodeOf(err), CodeNotFound)
	}
	if CodeOf(errors.New("plain")) != CodeFatal {
		t.Error("CodeOf() should default to CodeFatal for non-apperror errors")
	}
}
