package protocol

import (
	"errors"
	"fmt"
	"slices"

	"github.com/eapache/queue"
)

// State is the lifecycle state of an Engine.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateLocalClosing
	StateRemoteClosing
	StateClosed
	StateRejecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateLocalClosing:
		return "local-closing"
	case StateRemoteClosing:
		return "remote-closing"
	case StateClosed:
		return "closed"
	case StateRejecting:
		return "rejecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Engine is a client-side RFC 6455 state machine that performs no I/O. Bytes
// read from the network go into Receive, which yields events; events passed to
// Send yield bytes to write.
//
// An Engine is not safe for concurrent use.
type Engine struct {
	state        State
	challengeKey string
	subprotocols []string

	buf     []byte
	pending *queue.Queue
	failed  error

	// inbound frame in progress
	inFrame   bool
	frame     frameHeader
	remaining int64

	// inbound message in progress; 0 when between messages
	msgOpcode int
	recvText  utf8Validator

	// outbound fragmented message in progress
	sendOpcode int
	sendText   utf8Validator

	rejectRemaining int64
	rejectChunks    *chunkedDecoder // non-nil for a chunked rejection body
}

// NewEngine returns an engine ready to send the opening Request.
func NewEngine() *Engine {
	return &Engine{pending: queue.New()}
}

// State returns the current state.
func (e *Engine) State() State {
	return e.state
}

// Send converts ev into bytes to be written to the transport.
func (e *Engine) Send(ev Event) ([]byte, error) {
	switch ev := ev.(type) {
	case Request:
		if e.state != StateConnecting || e.challengeKey != "" {
			return nil, ErrRequestSent
		}
		e.challengeKey = generateChallengeKey()
		e.subprotocols = ev.Subprotocols
		return writeRequest(ev, e.challengeKey), nil

	case TextMessage:
		return e.sendData(OpText, ev.Data, ev.MessageFinished)

	case BytesMessage:
		return e.sendData(OpBinary, ev.Data, ev.MessageFinished)

	case Ping:
		return e.sendControl(OpPing, ev.Payload)

	case Pong:
		return e.sendControl(OpPong, ev.Payload)

	case CloseConnection:
		return e.sendClose(ev)

	default:
		return nil, fmt.Errorf("%w: %T", ErrInvalidEvent, ev)
	}
}

func (e *Engine) sendData(opcode int, data []byte, final bool) ([]byte, error) {
	if e.state != StateOpen {
		return nil, ErrNotOpen
	}

	frameOpcode := opcode
	if e.sendOpcode != 0 {
		if e.sendOpcode != opcode {
			return nil, ErrExpectedContinuation
		}
		frameOpcode = OpContinuation
	}

	if opcode == OpText {
		if !e.sendText.write(data) || (final && !e.sendText.finish()) {
			e.sendText = utf8Validator{}
			return nil, ErrInvalidUTF8
		}
	}

	if final {
		e.sendOpcode = 0
	} else {
		e.sendOpcode = opcode
	}

	frame := Frame{Opcode: frameOpcode, Final: final, Payload: data}
	return AppendFrame(make([]byte, 0, maxFrameHeaderSize+len(data)), frame, newMaskKey()), nil
}

func (e *Engine) sendControl(opcode int, payload []byte) ([]byte, error) {
	if e.state != StateOpen {
		return nil, ErrNotOpen
	}
	if len(payload) > maxControlFramePayloadSize {
		return nil, ErrControlFramePayloadTooBig
	}
	frame := Frame{Opcode: opcode, Final: true, Payload: payload}
	return AppendFrame(nil, frame, newMaskKey()), nil
}

func (e *Engine) sendClose(ev CloseConnection) ([]byte, error) {
	if err := ValidateClose(ev.Code, ev.Reason); err != nil {
		return nil, err
	}

	switch e.state {
	case StateOpen:
		e.state = StateLocalClosing
	case StateRemoteClosing:
		e.state = StateClosed
	default:
		return nil, ErrNotOpen
	}

	var payload []byte
	if ev.Code != CloseNoStatusReceived {
		payload = FormatCloseMessage(ev.Code, ev.Reason)
	}
	frame := Frame{Opcode: OpClose, Final: true, Payload: payload}
	return AppendFrame(nil, frame, newMaskKey()), nil
}

// Receive feeds bytes read from the transport into the engine and returns the
// events they complete. A nil data slice signals end of stream. After a
// *ProtocolError is returned the engine accepts no further input.
func (e *Engine) Receive(data []byte) ([]Event, error) {
	if e.failed != nil {
		return nil, e.failed
	}

	if data == nil {
		e.receiveEOF()
	} else {
		e.buf = append(e.buf, data...)
		if err := e.process(); err != nil {
			e.failed = err
			e.buf = nil
		}
	}

	events := make([]Event, 0, e.pending.Length())
	for e.pending.Length() > 0 {
		events = append(events, e.pending.Remove().(Event))
	}
	return events, e.failed
}

func (e *Engine) receiveEOF() {
	if e.state == StateRejecting {
		if e.rejectChunks != nil {
			// Chunk framing is never handed out as body data.
			e.buf = nil
		}
		e.pending.Add(RejectData{Data: e.takeBuf(), BodyFinished: true})
		e.state = StateClosed
	}
}

func (e *Engine) process() error {
	for {
		switch e.state {
		case StateConnecting:
			if e.challengeKey == "" {
				return protocolError(CloseProtocolError, fmt.Errorf("%w: data before request", ErrBadHandshake))
			}
			done, err := e.processHandshake()
			if err != nil || !done {
				return err
			}

		case StateRejecting:
			return e.processRejectBody()

		case StateOpen, StateLocalClosing:
			return e.processFrames()

		default:
			// Anything after the peer's close frame is ignored.
			e.buf = nil
			return nil
		}
	}
}

func (e *Engine) processHandshake() (bool, error) {
	resp, n, err := readResponseHead(e.buf)
	if err != nil {
		return false, protocolError(CloseProtocolError, err)
	}
	if n == 0 {
		return false, nil
	}
	e.buf = e.buf[n:]

	if resp.StatusCode != 101 {
		e.rejectRemaining = resp.ContentLength
		if slices.Contains(resp.TransferEncoding, "chunked") {
			e.rejectChunks = &chunkedDecoder{}
		}
		hasBody := resp.ContentLength != 0
		e.pending.Add(RejectConnection{StatusCode: resp.StatusCode, Header: resp.Header, HasBody: hasBody})
		if hasBody {
			e.state = StateRejecting
		} else {
			e.state = StateClosed
		}
		return true, nil
	}

	subprotocol, err := validateAccept(resp, e.challengeKey, e.subprotocols)
	if err != nil {
		return false, protocolError(CloseProtocolError, err)
	}

	e.state = StateOpen
	e.pending.Add(AcceptConnection{Subprotocol: subprotocol, Header: resp.Header})
	return true, nil
}

func (e *Engine) processRejectBody() error {
	if len(e.buf) == 0 {
		return nil
	}

	if e.rejectChunks != nil {
		data, n, done, err := e.rejectChunks.decode(e.buf)
		e.buf = e.buf[n:]
		if err != nil {
			return protocolError(CloseProtocolError, err)
		}
		if len(data) > 0 || done {
			e.pending.Add(RejectData{Data: data, BodyFinished: done})
		}
		if done {
			e.state = StateClosed
			e.buf = nil
		}
		return nil
	}

	// Unknown length: the body runs until end of stream.
	if e.rejectRemaining < 0 {
		e.pending.Add(RejectData{Data: e.takeBuf()})
		return nil
	}

	n := min(int64(len(e.buf)), e.rejectRemaining)
	data := append([]byte(nil), e.buf[:n]...)
	e.buf = e.buf[n:]
	e.rejectRemaining -= n

	finished := e.rejectRemaining == 0
	e.pending.Add(RejectData{Data: data, BodyFinished: finished})
	if finished {
		e.state = StateClosed
		e.buf = nil
	}
	return nil
}

func (e *Engine) processFrames() error {
	for e.state == StateOpen || e.state == StateLocalClosing {
		if !e.inFrame {
			h, n, err := parseHeader(e.buf)
			if err != nil {
				return protocolError(CloseProtocolError, err)
			}
			if n == 0 {
				return nil
			}
			if err := e.checkHeader(h); err != nil {
				return err
			}
			e.buf = e.buf[n:]
			e.inFrame = true
			e.frame = h
			e.remaining = h.length
		}

		if isControl(e.frame.opcode) {
			if int64(len(e.buf)) < e.remaining {
				return nil
			}
			payload := append([]byte(nil), e.buf[:e.remaining]...)
			e.buf = e.buf[e.remaining:]
			e.inFrame = false
			if err := e.handleControl(e.frame.opcode, payload); err != nil {
				return err
			}
			continue
		}

		n := min(int64(len(e.buf)), e.remaining)
		if n == 0 && e.remaining > 0 {
			return nil
		}
		chunk := append([]byte(nil), e.buf[:n]...)
		e.buf = e.buf[n:]
		e.remaining -= n

		frameDone := e.remaining == 0
		if frameDone {
			e.inFrame = false
		}
		if err := e.handleData(chunk, frameDone, frameDone && e.frame.final); err != nil {
			return err
		}
	}

	e.buf = nil
	return nil
}

// checkHeader enforces the framing rules of RFC 6455, section 5 for frames
// sent by a server.
func (e *Engine) checkHeader(h frameHeader) error {
	if h.rsv != 0 {
		return protocolError(CloseProtocolError, ErrReservedBits)
	}
	if h.masked {
		return protocolError(CloseProtocolError, ErrMaskedFrame)
	}

	switch h.opcode {
	case OpClose, OpPing, OpPong:
		if !h.final {
			return protocolError(CloseProtocolError, ErrFragmentedControlFrame)
		}
		if h.length > maxControlFramePayloadSize {
			return protocolError(CloseProtocolError, ErrControlFramePayloadTooBig)
		}
	case OpText, OpBinary:
		if e.msgOpcode != 0 {
			return protocolError(CloseProtocolError, ErrExpectedContinuation)
		}
		e.msgOpcode = h.opcode
	case OpContinuation:
		if e.msgOpcode == 0 {
			return protocolError(CloseProtocolError, ErrUnexpectedContinuation)
		}
	default:
		return protocolError(CloseProtocolError, ErrInvalidOpcode)
	}
	return nil
}

func (e *Engine) handleData(chunk []byte, frameDone, messageDone bool) error {
	opcode := e.msgOpcode
	if messageDone {
		e.msgOpcode = 0
	}

	if opcode == OpText {
		if !e.recvText.write(chunk) || (messageDone && !e.recvText.finish()) {
			return protocolError(CloseInvalidFramePayloadData, ErrInvalidUTF8)
		}
		e.pending.Add(TextMessage{Data: chunk, FrameFinished: frameDone, MessageFinished: messageDone})
		return nil
	}

	e.pending.Add(BytesMessage{Data: chunk, FrameFinished: frameDone, MessageFinished: messageDone})
	return nil
}

func (e *Engine) handleControl(opcode int, payload []byte) error {
	switch opcode {
	case OpPing:
		e.pending.Add(Ping{Payload: payload})
	case OpPong:
		e.pending.Add(Pong{Payload: payload})
	case OpClose:
		code, reason, err := ParseCloseMessage(payload)
		if err != nil {
			if errors.Is(err, ErrInvalidUTF8) {
				return protocolError(CloseInvalidFramePayloadData, err)
			}
			return protocolError(CloseProtocolError, err)
		}
		if e.state == StateLocalClosing {
			e.state = StateClosed
		} else {
			e.state = StateRemoteClosing
		}
		e.pending.Add(CloseConnection{Code: code, Reason: reason})
	}
	return nil
}

func (e *Engine) takeBuf() []byte {
	b := e.buf
	e.buf = nil
	return b
}
