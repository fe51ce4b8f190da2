package session

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/lithammer/shortuuid/v4"

	"github.com/kynetic-io/wsframe/wserrors"
)

// Dial opens a client-side WebSocket connection to the given ws:// URL,
// performs the RFC 6455 Section 4 opening handshake, and returns a Conn
// wrapping a frame.Reader/frame.Writer pair in client mode. A wss:// URL is
// rejected with an illegal-state error: Dial has no TLS dialer.
//
// TLS, connection pooling, and redirects are not handled here
// (spec.md's "out of scope" collaborators); this keeps the handshake to
// what the codec needs to get a live connection.
func Dial(ctx context.Context, rawURL string, opts *Options) (*Conn, error) {
	opts = opts.withDefaults()

	scheme, host, path, err := parseWSURL(rawURL)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	var netConn net.Conn
	if scheme == "wss" {
		return nil, wserrors.New(wserrors.KindIllegalState, "websocket: wss:// requires a TLS dialer, none configured")
	}
	netConn, err = d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, wserrors.Wrap(wserrors.KindIO, err, "dial %s", host)
	}

	key := make([]byte, 16)
	if _, err := rand.Read(key); err != nil {
		_ = netConn.Close()
		return nil, wserrors.Wrap(wserrors.KindIO, err, "generate Sec-WebSocket-Key")
	}
	wsKey := base64.StdEncoding.EncodeToString(key)

	req := fmt.Sprintf("GET %s HTTP/1.1\r\n", path)
	req += fmt.Sprintf("Host: %s\r\n", host)
	req += "Upgrade: websocket\r\n"
	req += "Connection: Upgrade\r\n"
	req += fmt.Sprintf("Sec-WebSocket-Key: %s\r\n", wsKey)
	req += "Sec-WebSocket-Version: 13\r\n"
	if len(opts.Subprotocols) > 0 {
		req += "Sec-WebSocket-Protocol: " + strings.Join(opts.Subprotocols, ", ") + "\r\n"
	}
	req += "\r\n"

	if _, err := netConn.Write([]byte(req)); err != nil {
		_ = netConn.Close()
		return nil, wserrors.Wrap(wserrors.KindIO, err, "write handshake request")
	}

	reader := bufio.NewReaderSize(netConn, opts.ReadBufferSize)
	resp, err := http.ReadResponse(reader, &http.Request{Method: http.MethodGet})
	if err != nil {
		_ = netConn.Close()
		return nil, wserrors.Wrap(wserrors.KindIO, err, "read handshake response")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		_ = netConn.Close()
		return nil, wserrors.New(wserrors.KindProtocol, fmt.Sprintf("websocket: handshake failed: status %d", resp.StatusCode))
	}
	if !headerContainsToken(resp.Header.Get("Upgrade"), "websocket") {
		_ = netConn.Close()
		return nil, wserrors.New(wserrors.KindProtocol, "websocket: server response missing Upgrade: websocket")
	}

	writer := bufio.NewWriterSize(netConn, opts.WriteBufferSize)
	return newConn(netConn, reader, writer, true, shortuuid.New()), nil
}

func parseWSURL(rawURL string) (scheme, host, path string, err error) {
	switch {
	case strings.HasPrefix(rawURL, "ws://"):
		scheme = "ws"
		rawURL = strings.TrimPrefix(rawURL, "ws://")
	case strings.HasPrefix(rawURL, "wss://"):
		scheme = "wss"
		rawURL = strings.TrimPrefix(rawURL, "wss://")
	default:
		return "", "", "", wserrors.New(wserrors.KindIllegalState, "websocket: invalid URL scheme, want ws:// or wss://")
	}

	parts := strings.SplitN(rawURL, "/", 2)
	host = parts[0]
	path = "/"
	if len(parts) > 1 {
		path = "/" + parts[1]
	}
	return scheme, host, path, nil
}
