package wire

// ErrorCode is the wire-level error taxonomy carried by error_answer
// messages. Values are taken verbatim from original_source/src/protocol.h's
// rl_proto_neterror_t so a future adapter speaking the same wire format
// stays binary compatible.
type ErrorCode uint32

const (
	ErrSuccess         ErrorCode = 0
	ErrAccessDenied    ErrorCode = 1
	ErrNotFound        ErrorCode = 2
	ErrNotAFile        ErrorCode = 3
	ErrNotADirectory   ErrorCode = 4
	ErrIOError         ErrorCode = 5
	ErrInvalidValue    ErrorCode = 6
	ErrBadRequest      ErrorCode = 128
	ErrTooManyFiles    ErrorCode = 129
	ErrSpawnFailure    ErrorCode = 254
	ErrUnknown         ErrorCode = 255
)

func (c ErrorCode) String() string {
	switch c {
	case ErrSuccess:
		return "success"
	case ErrAccessDenied:
		return "access_denied"
	case ErrNotFound:
		return "not_found"
	case ErrNotAFile:
		return "not_a_file"
	case ErrNotADirectory:
		return "not_a_directory"
	case ErrIOError:
		return "io_error"
	case ErrInvalidValue:
		return "invalid_value"
	case ErrBadRequest:
		return "bad_request"
	case ErrTooManyFiles:
		return "too_many_files_open"
	case ErrSpawnFailure:
		return "spawn_failure"
	default:
		return "unknown"
	}
}

// WireError is a local error value carrying a wire error code, produced
// when a pending operation completes via error_answer (see §4.4/§7).
type WireError struct {
	Code ErrorCode
}

func (e *WireError) Error() string { return "rlaunch: " + e.Code.String() }

// ErrDeviceNotMounted is the generic failure synthesized for any local
// caller whose operation was still pending when the connection died
// (§4.4, §5 "Cancellation and timeout").
var ErrDeviceNotMounted = &deviceNotMountedError{}

type deviceNotMountedError struct{}

func (*deviceNotMountedError) Error() string { return "rlaunch: device not mounted" }
