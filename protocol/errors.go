package protocol

import "errors"

// Errors returned by the protocol engine.
var (
	ErrNotOpen                   = errors.New("websocket: connection not open")
	ErrBadHandshake              = errors.New("websocket: bad handshake")
	ErrHandshakeTooLarge         = errors.New("websocket: handshake response too large")
	ErrRequestSent               = errors.New("websocket: opening request already sent")
	ErrInvalidEvent              = errors.New("websocket: invalid event")
	ErrInvalidMessageType        = errors.New("websocket: invalid message type")
	ErrInvalidCloseCode          = errors.New("websocket: invalid close code")
	ErrInvalidUTF8               = errors.New("websocket: invalid UTF-8 in text payload")
	ErrReservedBits              = errors.New("websocket: reserved bits set")
	ErrInvalidOpcode             = errors.New("websocket: invalid opcode")
	ErrMaskedFrame               = errors.New("websocket: masked frame from server")
	ErrFrameTooLarge             = errors.New("websocket: frame length out of range")
	ErrFragmentedControlFrame    = errors.New("websocket: fragmented control frame")
	ErrControlFramePayloadTooBig = errors.New("websocket: control frame payload too big")
	ErrUnexpectedContinuation    = errors.New("websocket: unexpected continuation frame")
	ErrExpectedContinuation      = errors.New("websocket: expected continuation frame")
)

// ProtocolError is returned by Engine.Receive when the peer violates RFC 6455.
// Code is the close status the client should send before dropping the connection.
type ProtocolError struct {
	Code int
	Err  error
}

func (e *ProtocolError) Error() string {
	return e.Err.Error() + " (" + CloseCodeString(e.Code) + ")"
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolError(code int, err error) *ProtocolError {
	return &ProtocolError{Code: code, Err: err}
}
