package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitalvas/wsock/protocol"
)

// Default connection settings.
const (
	DefaultMessageQueueSize  = 1
	DefaultMaxMessageSize    = 1 << 20
	DefaultConnectTimeout    = 60 * time.Second
	DefaultDisconnectTimeout = 60 * time.Second
)

// DefaultDialer is a dialer with all fields set to the default values.
var DefaultDialer = &Dialer{}

// Dialer contains options for connecting to a WebSocket server.
// Zero values select the defaults above.
type Dialer struct {
	// NetDialContext specifies the dial function for creating TCP connections.
	NetDialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// Proxy specifies a function to return a proxy for a given Request.
	// http:// proxies are used with CONNECT, socks5:// proxies through SOCKS5.
	Proxy func(*http.Request) (*url.URL, error)

	// TLSClientConfig specifies the TLS configuration for wss:// URLs. When
	// nil, the system defaults are used. It must be nil for ws:// URLs.
	TLSClientConfig *tls.Config

	// Subprotocols specifies the client's requested subprotocols.
	Subprotocols []string

	// Header holds extra handshake request headers. Headers owned by the
	// protocol, such as Sec-WebSocket-Key, are overwritten.
	Header http.Header

	// RequestIDHeader, when set, names a header that carries a generated
	// UUIDv7 in the handshake request. See Conn.RequestID.
	RequestIDHeader string

	// MessageQueueSize is the number of received messages buffered before
	// the connection stops reading from the network.
	MessageQueueSize int

	// MaxMessageSize is the largest message accepted, in bytes. Larger
	// messages close the connection with CloseMessageTooBig.
	MaxMessageSize int

	// ConnectTimeout bounds dialing and the opening handshake.
	ConnectTimeout time.Duration

	// DisconnectTimeout bounds the close handshake performed by Open.
	DisconnectTimeout time.Duration

	// Logger receives connection lifecycle logs. Defaults to a no-op logger.
	Logger *zap.Logger

	// IDs assigns connection identifiers. When nil, the Dialer uses a
	// private Counter.
	IDs *Counter

	idsOnce sync.Once
}

func (d *Dialer) messageQueueSize() int {
	if d.MessageQueueSize > 0 {
		return d.MessageQueueSize
	}
	return DefaultMessageQueueSize
}

func (d *Dialer) maxMessageSize() int {
	if d.MaxMessageSize > 0 {
		return d.MaxMessageSize
	}
	return DefaultMaxMessageSize
}

func (d *Dialer) connectTimeout() time.Duration {
	if d.ConnectTimeout > 0 {
		return d.ConnectTimeout
	}
	return DefaultConnectTimeout
}

func (d *Dialer) disconnectTimeout() time.Duration {
	if d.DisconnectTimeout > 0 {
		return d.DisconnectTimeout
	}
	return DefaultDisconnectTimeout
}

func (d *Dialer) logger() *zap.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return zap.NewNop()
}

func (d *Dialer) nextID() uint64 {
	d.idsOnce.Do(func() {
		if d.IDs == nil {
			d.IDs = &Counter{}
		}
	})
	return d.IDs.Next()
}

// Open connects to urlStr, calls fn with the connection and closes the
// connection when fn returns or panics.
//
// Dialing and the opening handshake are bounded by ConnectTimeout, and a
// timeout is reported as ErrTimeout. The close handshake is bounded by
// DisconnectTimeout and runs even when ctx is cancelled. A failed close is
// reported as ErrTimeout, joined after fn's own error when fn failed.
func (d *Dialer) Open(ctx context.Context, urlStr string, fn func(*Conn) error) (err error) {
	conn, err := d.DialContext(ctx, urlStr)
	if err != nil {
		return err
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.disconnectTimeout())
		defer cancel()

		closeErr := conn.Close(closeCtx, CloseNormalClosure, "")
		if closeErr == nil {
			return
		}
		if !errors.Is(closeErr, ErrTimeout) {
			closeErr = fmt.Errorf("%w: close: %w", ErrTimeout, closeErr)
		}
		if err == nil {
			err = closeErr
		} else {
			err = errors.Join(err, closeErr)
		}
	}()

	return fn(conn)
}

// Open connects with DefaultDialer. See Dialer.Open.
func Open(ctx context.Context, urlStr string, fn func(*Conn) error) error {
	return DefaultDialer.Open(ctx, urlStr, fn)
}

// DialContext connects to urlStr and performs the opening handshake per
// RFC 6455, section 4.1. The caller must Close the returned connection.
//
// Invalid arguments are reported before any network activity. Network and
// handshake failures are reported as *HandshakeError, and exceeding
// ConnectTimeout as ErrTimeout; in both cases the transport is closed.
func (d *Dialer) DialContext(ctx context.Context, urlStr string) (*Conn, error) {
	t, err := parseTarget(urlStr)
	if err != nil {
		return nil, err
	}
	if !t.secure && d.TLSClientConfig != nil {
		return nil, ErrTLSConfigForPlaintext
	}

	ctx, cancel := context.WithTimeout(ctx, d.connectTimeout())
	defer cancel()

	id := d.nextID()
	logger := d.logger().With(zap.String("url", urlStr))
	logger.Debug("connecting", zap.Uint64("conn_id", id))

	netConn, err := d.dial(ctx, t)
	if err != nil {
		return nil, connectError(ctx, err)
	}

	req := protocol.Request{
		Host:         t.hostHeader(),
		Target:       t.resource,
		Subprotocols: d.Subprotocols,
		Header:       d.Header.Clone(),
	}

	var requestID string
	if d.RequestIDHeader != "" {
		requestID = uuid.Must(uuid.NewV7()).String()
		if req.Header == nil {
			req.Header = make(http.Header)
		}
		req.Header.Set(d.RequestIDHeader, requestID)
	}

	conn := newConn(netConn, protocol.NewEngine(), connConfig{
		id:               id,
		host:             req.Host,
		path:             t.resource,
		requestID:        requestID,
		maxMessageSize:   d.maxMessageSize(),
		messageQueueSize: d.messageQueueSize(),
		logger:           logger,
	})

	if err := conn.write(ctx, req); err != nil {
		conn.abort()
		<-conn.done
		return nil, connectError(ctx, err)
	}

	select {
	case <-conn.handshakeDone:
	case <-ctx.Done():
		conn.abort()
		<-conn.done
		return nil, connectError(ctx, ctx.Err())
	}

	if conn.handshakeErr != nil {
		return nil, conn.handshakeErr
	}
	return conn, nil
}

// connectError translates a failure of the connect phase.
func connectError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: connect: %w", ErrTimeout, err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return &HandshakeError{Err: err}
	}
}
