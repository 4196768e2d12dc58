package fetch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
)

// utlsTransport speaks HTTP/1.1 over a uTLS connection so the TLS
// handshake looks like the profile's browser. Plain http requests go
// through the fallback transport.
type utlsTransport struct {
	hello    utls.ClientHelloID
	insecure bool
	timeout  time.Duration
	fallback http.RoundTripper
}

func newUTLSTransport(hello utls.ClientHelloID, insecure bool, timeout time.Duration, fallback http.RoundTripper) *utlsTransport {
	return &utlsTransport{
		hello:    hello,
		insecure: insecure,
		timeout:  timeout,
		fallback: fallback,
	}
}

func (t *utlsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.fallback.RoundTrip(req)
	}

	addr := req.URL.Host
	if req.URL.Port() == "" {
		addr = net.JoinHostPort(req.URL.Hostname(), "443")
	}

	dialer := &net.Dialer{Timeout: t.timeout}
	rawConn, err := dialer.DialContext(req.Context(), "tcp", addr)
	if err != nil {
		return nil, err
	}

	conn, err := t.handshake(req.Context(), rawConn, req.URL.Hostname())
	if err != nil {
		rawConn.Close()
		return nil, err
	}

	if deadline, ok := req.Context().Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	out := req.Clone(req.Context())
	out.Close = true
	if err := out.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading response: %w", err)
	}
	resp.Body = &connBody{ReadCloser: resp.Body, conn: conn}
	return resp, nil
}

// handshake offers the profile's ClientHello with ALPN pinned to
// http/1.1, since the response is read with an HTTP/1.1 parser
func (t *utlsTransport) handshake(ctx context.Context, rawConn net.Conn, serverName string) (*utls.UConn, error) {
	spec, err := utls.UTLSIdToSpec(t.hello)
	if err != nil {
		return nil, fmt.Errorf("building %s hello: %w", t.hello.Str(), err)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	conn := utls.UClient(rawConn, &utls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: t.insecure,
	}, utls.HelloCustom)
	if err := conn.ApplyPreset(&spec); err != nil {
		return nil, fmt.Errorf("applying %s hello: %w", t.hello.Str(), err)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("uTLS handshake failed: %w", err)
	}
	return conn, nil
}

// connBody closes the connection with the body
type connBody struct {
	io.ReadCloser
	conn net.Conn
}

func (b *connBody) Close() error {
	err := b.ReadCloser.Close()
	b.conn.Close()
	return err
}

// contextTransport binds every request to ctx so cancelling ctx aborts an
// in-flight fetch
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.ctx.Err(); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req.WithContext(t.ctx))
}
