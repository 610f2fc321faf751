package loadtest

import "fmt"

// ErrorCode allows us to encapsulate specific failure codes for the load
// testing process. They double as process exit codes.
type ErrorCode int

// Error/exit codes for load testing-related errors.
const (
	NoError ErrorCode = iota
	ErrInvalidConfig
	ErrFailedToGeneratePayload
	ErrFailedToWriteStats
	ErrMetricsServerFailed
	ErrKilled
)

// Error is a way of wrapping the meaningful exit code we want to provide on
// failure.
type Error struct {
	Code     ErrorCode
	Message  string
	Upstream error
}

// Error implements error.
var _ error = (*Error)(nil)

// NewError allows us to create new Error structures from the given code and
// upstream error (can be nil).
func NewError(code ErrorCode, upstream error, additionalInfo ...string) *Error {
	return &Error{
		Code:     code,
		Message:  ErrorMessageForCode(code, additionalInfo...),
		Upstream: upstream,
	}
}

// Error implements error.
func (e Error) Error() string {
	if e.Upstream != nil {
		return fmt.Sprintf("%s. Caused by: %s", e.Message, e.Upstream.Error())
	}
	return e.Message
}

func (e Error) Unwrap() error {
	return e.Upstream
}

// ErrorMessageForCode translates the given error code into a human-readable,
// English message.
func ErrorMessageForCode(code ErrorCode, additionalInfo ...string) string {
	var result string
	switch code {
	case NoError:
		result = "No error"
	case ErrInvalidConfig:
		result = "Invalid configuration"
	case ErrFailedToGeneratePayload:
		result = "Failed to generate payload"
	case ErrFailedToWriteStats:
		result = "Failed to write statistics"
	case ErrMetricsServerFailed:
		result = "Metrics server failed"
	case ErrKilled:
		result = "Process killed"
	default:
		return "Unrecognized error"
	}
	if len(additionalInfo) > 0 {
		result = fmt.Sprintf("%s: %s", result, additionalInfo[0])
	}
	return result
}

// IsErrorCode is a convenience function that attempts to cast the given error
// to an Error struct and checks its error code against the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	switch e := err.(type) {
	case *Error:
		return e.Code == code
	case Error:
		return e.Code == code
	}
	return false
}

// FailureKind classifies the connection-level failures that get turned into
// counters instead of being propagated.
type FailureKind int

const (
	ConnectFailure FailureKind = iota
	SendFailure
	ReceiveFailure
	CloseFailure
)

func (k FailureKind) String() string {
	switch k {
	case ConnectFailure:
		return "connect"
	case SendFailure:
		return "send"
	case ReceiveFailure:
		return "receive"
	case CloseFailure:
		return "close"
	}
	return "unknown"
}
