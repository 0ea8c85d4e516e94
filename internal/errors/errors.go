// Package errors provides the recorder's structured error type and its gRPC mapping.
// Codes travel to the inference server and back as google.rpc.ErrorInfo details.
package errors

import (
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Domain is the ErrorInfo domain attached to statuses produced by this module.
const Domain = "engram.recorder"

// Code identifies a class of failure.
type Code string

const (
	Unknown             Code = "UNKNOWN"
	Internal            Code = "INTERNAL"
	InvalidArgument     Code = "INVALID_ARGUMENT"
	NotFound            Code = "NOT_FOUND"
	Unavailable         Code = "UNAVAILABLE"
	Timeout             Code = "TIMEOUT"
	Cancelled           Code = "CANCELLED"
	PermissionDenied    Code = "PERMISSION_DENIED"
	DeviceUnavailable   Code = "DEVICE_UNAVAILABLE"
	WindowNotFound      Code = "WINDOW_NOT_FOUND"
	MultiplexFailure    Code = "MULTIPLEX_FAILURE"
	HandlerMissing      Code = "HANDLER_MISSING"
	DelegateUnavailable Code = "DELEGATE_UNAVAILABLE"
	SessionActive       Code = "SESSION_ACTIVE"
	NoSession           Code = "NO_SESSION"
	RateLimited         Code = "RATE_LIMITED"
)

func (c Code) String() string { return string(c) }

var grpcCodeMap = map[Code]codes.Code{
	Unknown:             codes.Unknown,
	Internal:            codes.Internal,
	InvalidArgument:     codes.InvalidArgument,
	NotFound:            codes.NotFound,
	Unavailable:         codes.Unavailable,
	Timeout:             codes.DeadlineExceeded,
	Cancelled:           codes.Canceled,
	PermissionDenied:    codes.PermissionDenied,
	DeviceUnavailable:   codes.Unavailable,
	WindowNotFound:      codes.NotFound,
	MultiplexFailure:    codes.Internal,
	HandlerMissing:      codes.FailedPrecondition,
	DelegateUnavailable: codes.FailedPrecondition,
	SessionActive:       codes.AlreadyExists,
	NoSession:           codes.FailedPrecondition,
	RateLimited:         codes.ResourceExhausted,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// GRPCStatus returns a gRPC status carrying an ErrorInfo detail.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Error())
	info := &errdetails.ErrorInfo{Reason: string(e.Code), Domain: Domain, Metadata: e.Metadata}
	if withDetails, err := st.WithDetails(info); err == nil {
		return withDetails
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromGRPCError extracts an AppError from a gRPC error if present.
func FromGRPCError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: Unknown, Message: err.Error(), Cause: err}
	}

	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetReason() != "" {
			return &AppError{
				Code:     Code(info.GetReason()),
				Message:  st.Message(),
				Metadata: info.GetMetadata(),
				Cause:    err,
			}
		}
	}

	return &AppError{Code: fromGRPCCode(st.Code()), Message: st.Message(), Cause: err}
}

// fromGRPCCode maps gRPC codes back to our error codes (best effort).
func fromGRPCCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return InvalidArgument
	case codes.NotFound:
		return NotFound
	case codes.Unavailable:
		return Unavailable
	case codes.DeadlineExceeded:
		return Timeout
	case codes.Canceled:
		return Cancelled
	case codes.Internal:
		return Internal
	case codes.PermissionDenied:
		return PermissionDenied
	case codes.ResourceExhausted:
		return RateLimited
	default:
		return Unknown
	}
}

// IsCode checks whether err or anything it wraps is an AppError with code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case Unavailable, Timeout, RateLimited:
		return true
	default:
		return false
	}
}
