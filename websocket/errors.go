package websocket

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/vitalvas/wsock/protocol"
)

// Message types defined in RFC 6455, section 11.8.
const (
	TextMessage   = protocol.OpText
	BinaryMessage = protocol.OpBinary
)

// Close codes defined in RFC 6455, section 7.4.1.
const (
	CloseNormalClosure           = protocol.CloseNormalClosure
	CloseGoingAway               = protocol.CloseGoingAway
	CloseProtocolError           = protocol.CloseProtocolError
	CloseUnsupportedData         = protocol.CloseUnsupportedData
	CloseNoStatusReceived        = protocol.CloseNoStatusReceived
	CloseAbnormalClosure         = protocol.CloseAbnormalClosure
	CloseInvalidFramePayloadData = protocol.CloseInvalidFramePayloadData
	ClosePolicyViolation         = protocol.ClosePolicyViolation
	CloseMessageTooBig           = protocol.CloseMessageTooBig
	CloseMandatoryExtension      = protocol.CloseMandatoryExtension
	CloseInternalServerErr       = protocol.CloseInternalServerErr
	CloseServiceRestart          = protocol.CloseServiceRestart
	CloseTryAgainLater           = protocol.CloseTryAgainLater
	CloseTLSHandshake            = protocol.CloseTLSHandshake
)

// Errors returned by the websocket package.
var (
	ErrTimeout               = errors.New("websocket: timeout")
	ErrBadScheme             = errors.New("websocket: bad scheme")
	ErrEmptyHost             = errors.New("websocket: empty host")
	ErrBadPort               = errors.New("websocket: bad port")
	ErrTLSConfigForPlaintext = errors.New("websocket: TLS config must be nil for ws:// URL")
	ErrMessageTooBig         = errors.New("websocket: message too big")
	ErrProxyScheme           = errors.New("websocket: unsupported proxy scheme")

	ErrNotOpen            = protocol.ErrNotOpen
	ErrBadHandshake       = protocol.ErrBadHandshake
	ErrInvalidMessageType = protocol.ErrInvalidMessageType
	ErrInvalidCloseCode   = protocol.ErrInvalidCloseCode
)

// CloseError describes how a connection ended when it did not end with a
// clean close handshake.
type CloseError = protocol.CloseError

// ProtocolError is reported when the server violates RFC 6455.
type ProtocolError = protocol.ProtocolError

// HandshakeError is returned when the opening handshake does not complete.
// A server rejection carries StatusCode, Header and Body; network and
// protocol failures carry Err.
type HandshakeError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Err        error
}

func (e *HandshakeError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("websocket: handshake rejected: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	case e.Err != nil:
		return "websocket: handshake failed: " + e.Err.Error()
	default:
		return "websocket: handshake failed"
	}
}

func (e *HandshakeError) Unwrap() error {
	if e.Err == nil {
		return ErrBadHandshake
	}
	return e.Err
}

// IsCloseError returns true if the error is a CloseError with one of the specified codes.
// Close codes are defined in RFC 6455, section 7.4.1.
func IsCloseError(err error, codes ...int) bool {
	var closeErr *CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	return slices.Contains(codes, closeErr.Code)
}

// IsUnexpectedCloseError returns true if the error is a CloseError with a code
// NOT in the expected codes list. Close codes are defined in RFC 6455, section 7.4.1.
func IsUnexpectedCloseError(err error, expectedCodes ...int) bool {
	var closeErr *CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	return !slices.Contains(expectedCodes, closeErr.Code)
}
