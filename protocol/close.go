package protocol

import (
	"encoding/binary"
	"strconv"
	"unicode/utf8"
)

// Close codes defined in RFC 6455, section 7.4.1.
const (
	CloseNormalClosure           = 1000
	CloseGoingAway               = 1001
	CloseProtocolError           = 1002
	CloseUnsupportedData         = 1003
	CloseNoStatusReceived        = 1005
	CloseAbnormalClosure         = 1006
	CloseInvalidFramePayloadData = 1007
	ClosePolicyViolation         = 1008
	CloseMessageTooBig           = 1009
	CloseMandatoryExtension      = 1010
	CloseInternalServerErr       = 1011
	CloseServiceRestart          = 1012
	CloseTryAgainLater           = 1013
	CloseTLSHandshake            = 1015
)

// maxCloseReasonSize is the control frame payload limit minus the 2-byte status code.
const maxCloseReasonSize = maxControlFramePayloadSize - 2

// CloseError represents a WebSocket close condition.
type CloseError struct {
	Code int
	Text string

	// Err is the local cause, if any, for closures that did not originate
	// from a close frame sent by the peer.
	Err error
}

func (e *CloseError) Error() string {
	s := "websocket: close " + CloseCodeString(e.Code)
	if e.Text != "" {
		s += " " + e.Text
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

// CloseCodeString returns the close code followed by a short description.
func CloseCodeString(code int) string {
	switch code {
	case CloseNormalClosure:
		return "1000 (normal)"
	case CloseGoingAway:
		return "1001 (going away)"
	case CloseProtocolError:
		return "1002 (protocol error)"
	case CloseUnsupportedData:
		return "1003 (unsupported data)"
	case CloseNoStatusReceived:
		return "1005 (no status)"
	case CloseAbnormalClosure:
		return "1006 (abnormal closure)"
	case CloseInvalidFramePayloadData:
		return "1007 (invalid payload)"
	case ClosePolicyViolation:
		return "1008 (policy violation)"
	case CloseMessageTooBig:
		return "1009 (message too big)"
	case CloseMandatoryExtension:
		return "1010 (mandatory extension)"
	case CloseInternalServerErr:
		return "1011 (internal server error)"
	case CloseServiceRestart:
		return "1012 (service restart)"
	case CloseTryAgainLater:
		return "1013 (try again later)"
	case CloseTLSHandshake:
		return "1015 (TLS handshake)"
	default:
		return strconv.Itoa(code)
	}
}

// isValidCloseCode reports whether code may appear in a close frame on the wire
// per RFC 6455, section 7.4. Codes 1005, 1006 and 1015 are reserved for local use.
func isValidCloseCode(code int) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1014:
		return true
	case code >= 3000 && code <= 4999:
		return true
	}
	return false
}

// FormatCloseMessage formats closeCode and text as a WebSocket close message
// per RFC 6455, section 5.5.1. CloseNoStatusReceived yields an empty body.
func FormatCloseMessage(closeCode int, text string) []byte {
	if closeCode == CloseNoStatusReceived {
		return []byte{}
	}
	buf := make([]byte, 2+len(text))
	binary.BigEndian.PutUint16(buf, uint16(closeCode))
	copy(buf[2:], text)
	return buf
}

// ParseCloseMessage decodes a close frame payload received from the peer.
func ParseCloseMessage(payload []byte) (code int, text string, err error) {
	switch len(payload) {
	case 0:
		return CloseNoStatusReceived, "", nil
	case 1:
		return 0, "", ErrInvalidCloseCode
	}

	code = int(binary.BigEndian.Uint16(payload))
	if !isValidCloseCode(code) {
		return 0, "", ErrInvalidCloseCode
	}
	if !utf8.Valid(payload[2:]) {
		return 0, "", ErrInvalidUTF8
	}
	return code, string(payload[2:]), nil
}

// ValidateClose checks that code and reason can be sent in a close frame.
// CloseNoStatusReceived is accepted and produces a close frame without a body.
func ValidateClose(code int, reason string) error {
	if code != CloseNoStatusReceived && !isValidCloseCode(code) {
		return ErrInvalidCloseCode
	}
	if code == CloseNoStatusReceived && reason != "" {
		return ErrInvalidCloseCode
	}
	if len(reason) > maxCloseReasonSize {
		return ErrControlFramePayloadTooBig
	}
	if !utf8.ValidString(reason) {
		return ErrInvalidUTF8
	}
	return nil
}
