package websocket

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/vitalvas/wsock/protocol"
)

// receiveChunkSize is the size of a single transport read.
const receiveChunkSize = 4 << 10

// assembly accumulates the frames of one message.
type assembly struct {
	messageType int
	data        []byte
}

func (a *assembly) reset() {
	a.messageType = 0
	a.data = nil
}

// readLoop is the only reader of the transport. It runs until the
// connection terminates.
func (c *Conn) readLoop() {
	var (
		buf = make([]byte, receiveChunkSize)
		msg assembly
	)

	for {
		n, err := c.netConn.Read(buf)
		if n > 0 && c.receive(buf[:n], &msg) {
			return
		}
		if err != nil {
			c.readFailed(err, &msg)
			return
		}
	}
}

// receive feeds data to the engine and dispatches the resulting events.
// It reports whether the connection has terminated.
func (c *Conn) receive(data []byte, msg *assembly) bool {
	c.engineMu.Lock()
	events, err := c.engine.Receive(data)
	c.engineMu.Unlock()

	for _, ev := range events {
		if c.dispatch(ev, msg) {
			return true
		}
	}

	if err != nil {
		var perr *protocol.ProtocolError
		code := CloseProtocolError
		if errors.As(err, &perr) {
			code = perr.Code
		}
		c.fail(code, err)
		return true
	}
	return false
}

func (c *Conn) dispatch(ev protocol.Event, msg *assembly) bool {
	switch ev := ev.(type) {
	case protocol.AcceptConnection:
		c.mu.Lock()
		c.subprotocol = ev.Subprotocol
		c.state = stateOpen
		c.mu.Unlock()
		c.logger.Debug("handshake accepted", zap.String("subprotocol", ev.Subprotocol))
		c.resolveHandshake(nil)

	case protocol.RejectConnection:
		c.reject = &HandshakeError{StatusCode: ev.StatusCode, Header: ev.Header}
		if !ev.HasBody {
			c.terminate(CloseAbnormalClosure, "", c.reject)
			return true
		}

	case protocol.RejectData:
		if c.reject == nil {
			return false
		}
		if len(c.reject.Body) < c.maxMessageSize {
			c.reject.Body = append(c.reject.Body, ev.Data...)
		}
		if ev.BodyFinished {
			c.terminate(CloseAbnormalClosure, "", c.reject)
			return true
		}

	case protocol.TextMessage:
		return c.assemble(msg, TextMessage, ev.Data, ev.MessageFinished)

	case protocol.BytesMessage:
		return c.assemble(msg, BinaryMessage, ev.Data, ev.MessageFinished)

	case protocol.Ping:
		ctx, cancel := context.WithTimeout(context.Background(), controlWriteWait)
		err := c.write(ctx, ev.Response())
		cancel()
		if err != nil && !errors.Is(err, ErrNotOpen) {
			c.logger.Debug("pong failed", zap.Error(err))
		}

	case protocol.Pong:
		c.logger.Debug("pong received")

	case protocol.CloseConnection:
		c.acknowledgeClose(ev)
		c.terminate(ev.Code, ev.Reason, nil)
		return true
	}

	return false
}

// assemble appends a message chunk and delivers the message once complete.
// It reports whether the connection has terminated.
func (c *Conn) assemble(msg *assembly, messageType int, data []byte, finished bool) bool {
	if len(msg.data)+len(data) > c.maxMessageSize {
		msg.reset()
		c.fail(CloseMessageTooBig, ErrMessageTooBig)
		return true
	}

	msg.messageType = messageType
	msg.data = append(msg.data, data...)
	if !finished {
		return false
	}

	m := message{messageType: msg.messageType, data: msg.data}
	if m.data == nil {
		m.data = []byte{}
	}
	msg.reset()

	if !c.deliver(m) {
		c.terminate(CloseAbnormalClosure, "", &CloseError{Code: CloseAbnormalClosure, Err: errAborted})
		return true
	}
	return false
}

var errAborted = errors.New("websocket: connection aborted")

// deliver pushes m onto the message queue, blocking while it is full. After
// a local close, messages that do not fit are dropped so that the server's
// close acknowledgement is still read. It returns false if the connection
// was aborted while waiting.
func (c *Conn) deliver(m message) bool {
	select {
	case c.messages <- m:
		return true
	default:
	}

	select {
	case c.messages <- m:
	case <-c.closing:
		c.logger.Debug("message dropped after close", zap.Int("size", len(m.data)))
	case <-c.aborted:
		return false
	}
	return true
}

// acknowledgeClose echoes the server's close frame unless a close frame was
// already sent.
func (c *Conn) acknowledgeClose(ev protocol.CloseConnection) {
	ctx, cancel := context.WithTimeout(context.Background(), controlWriteWait)
	defer cancel()

	err := c.write(ctx, ev.Response())
	if err != nil && !errors.Is(err, ErrNotOpen) {
		c.logger.Debug("close acknowledgement failed", zap.Error(err))
	}
}

// fail closes the connection after a local protocol failure: it sends a
// close frame with code without waiting for the answer.
func (c *Conn) fail(code int, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), controlWriteWait)
	defer cancel()

	if c.isOpen() {
		if err := c.write(ctx, protocol.CloseConnection{Code: code}); err != nil && !errors.Is(err, ErrNotOpen) {
			c.logger.Debug("close failed", zap.Error(err))
		}
	}

	// A malformed rejection keeps the status the server sent.
	if c.reject != nil {
		c.reject.Err = cause
		c.terminate(code, "", c.reject)
		return
	}

	var perr *protocol.ProtocolError
	if errors.As(cause, &perr) {
		c.terminate(code, "", cause)
		return
	}
	c.terminate(code, "", &CloseError{Code: code, Err: cause})
}

// readFailed handles a transport read error or end of stream.
func (c *Conn) readFailed(err error, msg *assembly) {
	c.engineMu.Lock()
	events, _ := c.engine.Receive(nil)
	c.engineMu.Unlock()

	for _, ev := range events {
		if c.dispatch(ev, msg) {
			return
		}
	}

	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	select {
	case <-c.aborted:
		err = errAborted
	default:
	}
	c.terminate(CloseAbnormalClosure, "", &CloseError{Code: CloseAbnormalClosure, Err: err})
}

func (c *Conn) resolveHandshake(err error) {
	c.handshakeOnce.Do(func() {
		c.handshakeErr = err
		close(c.handshakeDone)
	})
}

// terminate moves the connection to the closed state. cause is nil for a
// clean close handshake. Only the first call has any effect.
func (c *Conn) terminate(code int, reason string, cause error) {
	c.terminateOnce.Do(func() {
		c.mu.Lock()
		opened := c.state != stateConnecting
		c.state = stateClosed
		c.closeCode = code
		c.closeReason = reason
		c.closeErr = cause
		c.mu.Unlock()

		c.abort()

		if !opened {
			var herr *HandshakeError
			if !errors.As(cause, &herr) {
				herr = &HandshakeError{Err: cause}
			}
			c.resolveHandshake(herr)
		}

		if cause != nil && opened {
			c.logger.Warn("connection closed abnormally", zap.Int("code", code), zap.Error(cause))
		} else {
			c.logger.Debug("connection closed", zap.Int("code", code), zap.String("reason", reason))
		}

		close(c.messages)
		close(c.done)
	})
}
