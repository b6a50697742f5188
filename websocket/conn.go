package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitalvas/wsock/protocol"
)

// controlWriteWait bounds writes of control frames issued by the reader.
const controlWriteWait = 5 * time.Second

type connState int

const (
	stateConnecting connState = iota
	stateOpen
	stateCloseSent
	stateClosed
)

type message struct {
	messageType int
	data        []byte
}

type connConfig struct {
	id               uint64
	host             string
	path             string
	requestID        string
	maxMessageSize   int
	messageQueueSize int
	logger           *zap.Logger
}

// Conn is a client WebSocket connection.
//
// A background goroutine reads from the network for the whole lifetime of
// the connection. It answers pings, acknowledges close frames and queues
// complete messages for Receive. When the queue is full it stops reading,
// which pushes back on the server.
//
// All methods are safe for concurrent use. Concurrent Send calls are
// serialized; concurrent Receive calls each get a distinct message in order.
type Conn struct {
	id             uint64
	host           string
	path           string
	requestID      string
	maxMessageSize int
	logger         *zap.Logger
	netConn        net.Conn

	engineMu sync.Mutex // guards engine
	engine   *protocol.Engine

	writeSem chan struct{} // one slot; serializes frames on the wire

	messages chan message

	handshakeOnce sync.Once
	handshakeDone chan struct{}
	handshakeErr  error
	reject        *HandshakeError // owned by the reader

	closingOnce sync.Once
	closing     chan struct{} // closed after the local close frame is sent

	abortOnce sync.Once
	aborted   chan struct{} // closed when the transport is force-closed

	terminateOnce sync.Once
	done          chan struct{} // closed when the reader has exited

	mu          sync.Mutex
	state       connState
	subprotocol string
	closeCode   int
	closeReason string
	closeErr    error
}

// newConn wraps netConn and starts the reader goroutine.
func newConn(netConn net.Conn, engine *protocol.Engine, cfg connConfig) *Conn {
	c := &Conn{
		id:             cfg.id,
		host:           cfg.host,
		path:           cfg.path,
		requestID:      cfg.requestID,
		maxMessageSize: cfg.maxMessageSize,
		logger:         cfg.logger.With(zap.Uint64("conn_id", cfg.id)),
		netConn:        netConn,
		engine:         engine,
		writeSem:       make(chan struct{}, 1),
		messages:       make(chan message, cfg.messageQueueSize),
		handshakeDone:  make(chan struct{}),
		closing:        make(chan struct{}),
		aborted:        make(chan struct{}),
		done:           make(chan struct{}),
	}

	go c.readLoop()

	return c
}

// ID returns the connection identifier assigned by the Dialer's Counter.
func (c *Conn) ID() uint64 {
	return c.id
}

// Host returns the Host header sent in the opening handshake.
func (c *Conn) Host() string {
	return c.host
}

// Path returns the request target: path plus query.
func (c *Conn) Path() string {
	return c.path
}

// RequestID returns the request ID sent in the handshake, or an empty
// string when Dialer.RequestIDHeader was not set.
func (c *Conn) RequestID() string {
	return c.requestID
}

// Subprotocol returns the negotiated subprotocol for the connection.
func (c *Conn) Subprotocol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subprotocol
}

// CloseCode returns the close code once the connection is closed, or 0
// while it is open.
func (c *Conn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// CloseReason returns the close reason once the connection is closed.
func (c *Conn) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// Done returns a channel that is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.netConn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

func (c *Conn) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateOpen
}

// Send writes a message with the given message type and payload.
// It returns ErrNotOpen once a close frame has been sent or received.
func (c *Conn) Send(ctx context.Context, messageType int, data []byte) error {
	var ev protocol.Event
	switch messageType {
	case TextMessage:
		ev = protocol.TextMessage{Data: data, FrameFinished: true, MessageFinished: true}
	case BinaryMessage:
		ev = protocol.BytesMessage{Data: data, FrameFinished: true, MessageFinished: true}
	default:
		return ErrInvalidMessageType
	}

	if !c.isOpen() {
		return ErrNotOpen
	}
	return c.write(ctx, ev)
}

// SendText writes a text message.
func (c *Conn) SendText(ctx context.Context, text string) error {
	return c.Send(ctx, TextMessage, []byte(text))
}

// SendBinary writes a binary message.
func (c *Conn) SendBinary(ctx context.Context, data []byte) error {
	return c.Send(ctx, BinaryMessage, data)
}

// Ping sends a ping with the given application data. The pong is consumed
// by the reader.
func (c *Conn) Ping(ctx context.Context, data []byte) error {
	if !c.isOpen() {
		return ErrNotOpen
	}
	return c.write(ctx, protocol.Ping{Payload: data})
}

// Receive returns the next message. It blocks until a message is available,
// the connection is closed or ctx is done.
//
// After a clean close handshake Receive returns io.EOF once the queue is
// drained. If the connection ended abnormally it returns the cause instead:
// a *CloseError for transport loss or an oversized message, or a
// *ProtocolError when the server broke the protocol.
func (c *Conn) Receive(ctx context.Context) (messageType int, data []byte, err error) {
	select {
	case m, ok := <-c.messages:
		if !ok {
			return 0, nil, c.endOfStream()
		}
		return m.messageType, m.data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *Conn) endOfStream() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	return io.EOF
}

// Close performs the close handshake: it sends a close frame with code and
// reason and waits until the server acknowledges it or ctx is done. On
// timeout the transport is force-closed and an error wrapping ErrTimeout is
// returned. Calling Close on a closed connection is a no-op, and only the
// first call sends a close frame.
func (c *Conn) Close(ctx context.Context, code int, reason string) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == stateClosed {
		return nil
	}

	if err := protocol.ValidateClose(code, reason); err != nil {
		return err
	}

	err := c.write(ctx, protocol.CloseConnection{Code: code, Reason: reason})
	switch {
	case err == nil:
		c.mu.Lock()
		if c.state == stateOpen {
			c.state = stateCloseSent
		}
		c.mu.Unlock()
		c.closingOnce.Do(func() { close(c.closing) })
		c.logger.Debug("close sent", zap.Int("code", code), zap.String("reason", reason))
	case errors.Is(err, ErrNotOpen):
		// A close frame is already on the wire; wait for the reader.
	default:
		c.abort()
		<-c.done
		if ctx.Err() != nil {
			return fmt.Errorf("%w: close handshake: %w", ErrTimeout, err)
		}
		return err
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.abort()
		<-c.done
		return fmt.Errorf("%w: close handshake: %w", ErrTimeout, ctx.Err())
	}
}

// write serializes ev and writes it to the transport. ctx bounds both the
// wait for other writers and the write itself. A failed write may leave a
// partial frame on the wire, so the connection is aborted.
func (c *Conn) write(ctx context.Context, ev protocol.Event) error {
	select {
	case c.writeSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.writeSem }()

	c.engineMu.Lock()
	b, err := c.engine.Send(ev)
	c.engineMu.Unlock()
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.netConn.SetWriteDeadline(deadline)
		defer c.netConn.SetWriteDeadline(time.Time{})
	}

	if _, err := c.netConn.Write(b); err != nil {
		c.logger.Debug("write failed", zap.Error(err))
		c.abort()
		return err
	}
	return nil
}

// abort force-closes the transport. The reader observes the failure and
// terminates the connection.
func (c *Conn) abort() {
	c.abortOnce.Do(func() {
		close(c.aborted)
		_ = c.netConn.Close()
	})
}
