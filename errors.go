package websock

import (
	"errors"
	"fmt"
)

// ProtocolError reports a fatal violation of the wire protocol.
// The connection that produced it cannot be recovered: once frame
// framing is corrupted, every later byte is uninterpretable, so the
// transport is dropped instead of retrying.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "websock: " + e.Reason
}

func protocolErr(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// IsProtocolError reports whether err is a wire protocol violation.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

var (
	ErrWrongMethod             = errors.New("wrong method, the request method must be GET")
	ErrMissingUpgradeHeader    = errors.New("missing Upgrade header")
	ErrInvalidUpgradeHeader    = errors.New("invalid Upgrade header")
	ErrMissingConnectionHeader = errors.New("missing Connection header")
	ErrInvalidConnectionHeader = errors.New("invalid Connection header")
	ErrMissingVersionHeader    = errors.New("missing Sec-WebSocket-Version header")
	ErrInvalidVersionHeader    = errors.New("invalid Sec-WebSocket-Version header, must be 13")
	ErrMissingSecKey           = errors.New("missing Sec-WebSocket-Key header")

	ErrConnClosed = errors.New("connection is closed")
)
