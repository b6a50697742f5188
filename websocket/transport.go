package websocket

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// dial opens the transport to t: a TCP connection, optionally through a
// proxy, wrapped in TLS for wss:// targets.
func (d *Dialer) dial(ctx context.Context, t *target) (net.Conn, error) {
	// Check for proxy configuration.
	var proxyURL *url.URL
	if d.Proxy != nil {
		var err error
		proxyURL, err = d.Proxy(&http.Request{URL: t.httpURL()})
		if err != nil {
			return nil, err
		}
	}

	var (
		netConn net.Conn
		err     error
	)
	switch {
	case proxyURL != nil:
		netConn, err = d.dialProxy(ctx, proxyURL, t.addr())
	case d.NetDialContext != nil:
		netConn, err = d.NetDialContext(ctx, "tcp", t.addr())
	default:
		var dialer net.Dialer
		netConn, err = dialer.DialContext(ctx, "tcp", t.addr())
	}
	if err != nil {
		return nil, err
	}

	if !t.secure {
		return netConn, nil
	}

	tlsConn, err := d.handshakeTLS(ctx, netConn, t.host)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	return tlsConn, nil
}

func (d *Dialer) dialProxy(ctx context.Context, proxyURL *url.URL, hostPort string) (net.Conn, error) {
	switch proxyURL.Scheme {
	case "http":
		return d.dialConnectProxy(ctx, proxyURL, hostPort)
	case "socks5", "socks5h":
		return dialSOCKSProxy(ctx, proxyURL, hostPort)
	default:
		return nil, ErrProxyScheme
	}
}

func dialSOCKSProxy(ctx context.Context, proxyURL *url.URL, hostPort string) (net.Conn, error) {
	dialer, err := proxy.FromURL(proxyURL, &net.Dialer{})
	if err != nil {
		return nil, err
	}
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, "tcp", hostPort)
	}
	return dialer.Dial("tcp", hostPort)
}

// dialConnectProxy tunnels through an HTTP proxy with the CONNECT method.
func (d *Dialer) dialConnectProxy(ctx context.Context, proxyURL *url.URL, hostPort string) (net.Conn, error) {
	proxyHost := proxyURL.Host
	if proxyURL.Port() == "" {
		proxyHost = net.JoinHostPort(proxyURL.Hostname(), "80")
	}

	var (
		proxyConn net.Conn
		err       error
	)
	if d.NetDialContext != nil {
		proxyConn, err = d.NetDialContext(ctx, "tcp", proxyHost)
	} else {
		var dialer net.Dialer
		proxyConn, err = dialer.DialContext(ctx, "tcp", proxyHost)
	}
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = proxyConn.SetDeadline(deadline)
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: hostPort},
		Host:   hostPort,
		Header: make(http.Header),
	}

	if proxyURL.User != nil {
		username := proxyURL.User.Username()
		password, _ := proxyURL.User.Password()
		auth := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		connectReq.Header.Set("Proxy-Authorization", "Basic "+auth)
	}

	if err := connectReq.Write(proxyConn); err != nil {
		proxyConn.Close()
		return nil, err
	}

	// The server does not speak until the tunnel is used, so the buffered
	// reader cannot consume bytes past the CONNECT response.
	br := bufio.NewReader(proxyConn)
	resp, err := http.ReadResponse(br, connectReq)
	if err != nil {
		proxyConn.Close()
		return nil, err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		proxyConn.Close()
		return nil, errors.New("websocket: proxy CONNECT failed: " + resp.Status)
	}

	_ = proxyConn.SetDeadline(time.Time{})
	return proxyConn, nil
}

func (d *Dialer) handshakeTLS(ctx context.Context, netConn net.Conn, serverName string) (net.Conn, error) {
	tlsConfig := d.TLSClientConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	} else {
		tlsConfig = tlsConfig.Clone()
	}

	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = serverName
	}

	tlsConn := tls.Client(netConn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}
