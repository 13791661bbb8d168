package pixbuf

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotSupported      = errors.New("operation not supported")
	ErrClosed            = errors.New("buffer closed")
	ErrCodecNotSupported = errors.New("codec not supported by provider")
	ErrProviderNotFound  = errors.New("provider not available")
)

// InitError is fatal to the context being opened: the caller must not call
// Decode and may fall back to another codec or provider.
type InitError struct {
	Codec  Codec
	Reason string
	Err    error
}

func (e *InitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("open %s decoder: %s: %v", e.Codec, e.Reason, e.Err)
	}
	return fmt.Sprintf("open %s decoder: %s", e.Codec, e.Reason)
}

func (e *InitError) Unwrap() error { return e.Err }

func initErr(codec Codec, reason string, err error) *InitError {
	return &InitError{Codec: codec, Reason: reason, Err: err}
}

// DecodeErrorCode classifies decode failures.
type DecodeErrorCode int

const (
	DecodeErrNative        DecodeErrorCode = iota // Native runtime reported an error
	DecodeErrCorrupt                              // Malformed compressed unit
	DecodeErrEmptyUnit                            // Zero-length compressed unit
	DecodeErrBadOutput                            // Unexpected output format or dimensions
	DecodeErrZeroOutput                           // Runtime produced a zero-size picture
	DecodeErrUnknownBuffer                        // Runtime returned a buffer it never announced
	DecodeErrAlphaMerge                           // Alpha plane could not be merged into the picture
)

func (c DecodeErrorCode) String() string {
	switch c {
	case DecodeErrNative:
		return "native error"
	case DecodeErrCorrupt:
		return "corrupt bitstream"
	case DecodeErrEmptyUnit:
		return "empty compressed unit"
	case DecodeErrBadOutput:
		return "unexpected output"
	case DecodeErrZeroOutput:
		return "zero-size output"
	case DecodeErrUnknownBuffer:
		return "unknown buffer"
	case DecodeErrAlphaMerge:
		return "alpha merge failed"
	default:
		return fmt.Sprintf("decode error %d", int(c))
	}
}

// DecodeError is recoverable: the context remains usable for the next unit.
// The failed unit's buffer, if any, has already been routed back through the
// release protocol.
type DecodeError struct {
	Code   DecodeErrorCode
	Detail string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode: " + e.Code.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(code DecodeErrorCode, detail string, err error) *DecodeError {
	return &DecodeError{Code: code, Detail: detail, Err: err}
}

// lifecycleFault reports a caller bug in the buffer ownership protocol:
// releasing a handle twice past convergence, touching pixels after release,
// decoding on a closed context. Continuing would corrupt the release
// invariant, so these trap instead of returning an error.
func lifecycleFault(format string, args ...any) {
	panic(fmt.Sprintf("pixbuf: "+format, args...))
}
