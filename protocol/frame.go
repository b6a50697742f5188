package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"io"
)

var randReader io.Reader = rand.Reader

// Opcodes defined in RFC 6455, section 11.8.
const (
	OpContinuation = 0
	OpText         = 1
	OpBinary       = 2
	OpClose        = 8
	OpPing         = 9
	OpPong         = 10
)

// Frame header constants per RFC 6455, section 5.2.
const (
	maxFrameHeaderSize         = 14  // 2 bytes base + 8 bytes extended length + 4 bytes mask
	maxControlFramePayloadSize = 125 // RFC 6455, section 5.5: control frame payload <= 125 bytes

	finalBit = 1 << 7
	rsv1Bit  = 1 << 6
	rsv2Bit  = 1 << 5
	rsv3Bit  = 1 << 4
	rsvBits  = rsv1Bit | rsv2Bit | rsv3Bit

	maskBit = 1 << 7

	opcodeMask     = 0x0f
	payloadLenMask = 0x7f
	payloadLen16   = 126
	payloadLen64   = 127
)

// Frame is a single decoded WebSocket frame.
type Frame struct {
	Opcode  int
	Final   bool
	Payload []byte
}

func isControl(opcode int) bool {
	return opcode >= OpClose
}

type frameHeader struct {
	opcode int
	final  bool
	rsv    byte
	masked bool
	mask   [4]byte
	length int64
}

// parseHeader decodes a frame header from the start of b.
// It returns n == 0 when b does not yet hold the complete header.
func parseHeader(b []byte) (h frameHeader, n int, err error) {
	if len(b) < 2 {
		return h, 0, nil
	}

	h.final = b[0]&finalBit != 0
	h.rsv = b[0] & rsvBits
	h.opcode = int(b[0] & opcodeMask)
	h.masked = b[1]&maskBit != 0
	h.length = int64(b[1] & payloadLenMask)
	n = 2

	switch h.length {
	case payloadLen16:
		if len(b) < n+2 {
			return h, 0, nil
		}
		h.length = int64(binary.BigEndian.Uint16(b[n:]))
		n += 2
	case payloadLen64:
		if len(b) < n+8 {
			return h, 0, nil
		}
		length := binary.BigEndian.Uint64(b[n:])
		if length>>63 != 0 {
			return h, 0, ErrFrameTooLarge
		}
		h.length = int64(length)
		n += 8
	}

	if h.masked {
		if len(b) < n+4 {
			return h, 0, nil
		}
		copy(h.mask[:], b[n:n+4])
		n += 4
	}

	return h, n, nil
}

// AppendFrame appends the wire encoding of f to dst. When mask is non-nil the
// payload is masked with it, as required for client-to-server frames.
func AppendFrame(dst []byte, f Frame, mask *[4]byte) []byte {
	b0 := byte(f.Opcode)
	if f.Final {
		b0 |= finalBit
	}

	var b1 byte
	if mask != nil {
		b1 = maskBit
	}

	payloadLen := len(f.Payload)
	switch {
	case payloadLen <= 125:
		dst = append(dst, b0, b1|byte(payloadLen))
	case payloadLen <= 65535:
		dst = append(dst, b0, b1|payloadLen16)
		dst = binary.BigEndian.AppendUint16(dst, uint16(payloadLen))
	default:
		dst = append(dst, b0, b1|payloadLen64)
		dst = binary.BigEndian.AppendUint64(dst, uint64(payloadLen))
	}

	if mask == nil {
		return append(dst, f.Payload...)
	}

	dst = append(dst, mask[:]...)
	start := len(dst)
	dst = append(dst, f.Payload...)
	maskBytes(mask[:], 0, dst[start:])
	return dst
}

// ParseFrame decodes one complete frame from the start of b, unmasking the
// payload if needed. It returns n == 0 when b does not yet hold the whole frame.
func ParseFrame(b []byte) (f Frame, n int, err error) {
	h, hn, err := parseHeader(b)
	if err != nil || hn == 0 {
		return f, 0, err
	}
	if h.rsv != 0 {
		return f, 0, ErrReservedBits
	}
	if !validOpcode(h.opcode) {
		return f, 0, ErrInvalidOpcode
	}
	if int64(len(b)-hn) < h.length {
		return f, 0, nil
	}

	end := hn + int(h.length)
	f.Opcode = h.opcode
	f.Final = h.final
	f.Payload = append([]byte(nil), b[hn:end]...)
	if h.masked {
		maskBytes(h.mask[:], 0, f.Payload)
	}
	return f, end, nil
}

func validOpcode(opcode int) bool {
	switch opcode {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

// maskBytes applies XOR masking to data per RFC 6455, section 5.3.
// The mask is a 4-byte value, applied cyclically to each byte of the payload.
func maskBytes(mask []byte, pos int, data []byte) int {
	for i := range data {
		data[i] ^= mask[(pos+i)%4]
	}
	return (pos + len(data)) % 4
}

func newMaskKey() *[4]byte {
	var key [4]byte
	_, _ = io.ReadFull(randReader, key[:])
	return &key
}
