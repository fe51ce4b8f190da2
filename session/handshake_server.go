// Package session supplies the HTTP upgrade handshake, ping/pong/close
// policy, and connection object that spec.md's frame codec assumes a
// surrounding session layer provides. None of this is part of the codec's
// invariants; it exists so frame.Reader and frame.Writer have a real
// caller to drive them end to end.
package session

import (
	"bufio"
	"crypto/sha1" //nolint:gosec // SHA-1 required by RFC 6455 Section 1.3, not for security.
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/lithammer/shortuuid/v4"

	"github.com/kynetic-io/wsframe/wserrors"
)

// websocketGUID is the magic string RFC 6455 Section 1.3 mixes into the
// client's key to compute Sec-WebSocket-Accept.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const (
	defaultReadBufferSize  = 4096
	defaultWriteBufferSize = 4096
)

// Options configures the upgrade handshake (server side) or dial (client
// side).
type Options struct {
	// Subprotocols is the list of subprotocols this endpoint supports.
	Subprotocols []string

	// CheckOrigin verifies the Origin header on a server-side upgrade.
	// nil allows all origins.
	CheckOrigin func(*http.Request) bool

	ReadBufferSize  int
	WriteBufferSize int
}

func (o *Options) withDefaults() *Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.ReadBufferSize == 0 {
		out.ReadBufferSize = defaultReadBufferSize
	}
	if out.WriteBufferSize == 0 {
		out.WriteBufferSize = defaultWriteBufferSize
	}
	return &out
}

// Upgrade performs the server-side RFC 6455 Section 4 opening handshake
// over an already-accepted HTTP request, hijacks the connection, and
// returns a Conn wrapping a frame.Reader/frame.Writer pair in server mode.
func Upgrade(w http.ResponseWriter, r *http.Request, opts *Options) (*Conn, error) {
	opts = opts.withDefaults()

	if r.Method != http.MethodGet {
		return nil, wserrors.New(wserrors.KindProtocol, "websocket: method must be GET")
	}
	if !headerContainsToken(r.Header.Get("Upgrade"), "websocket") {
		return nil, wserrors.New(wserrors.KindProtocol, "websocket: missing or invalid Upgrade header")
	}
	if !headerContainsToken(r.Header.Get("Connection"), "upgrade") {
		return nil, wserrors.New(wserrors.KindProtocol, "websocket: missing or invalid Connection header")
	}
	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return nil, wserrors.New(wserrors.KindProtocol, "websocket: unsupported WebSocket version")
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, wserrors.New(wserrors.KindProtocol, "websocket: missing Sec-WebSocket-Key header")
	}
	if opts.CheckOrigin != nil && !opts.CheckOrigin(r) {
		return nil, wserrors.New(wserrors.KindIllegalState, "websocket: origin check failed")
	}

	subprotocol := negotiateSubprotocol(r, opts.Subprotocols)
	accept := computeAcceptKey(key)

	w.Header().Set("Upgrade", "websocket")
	w.Header().Set("Connection", "Upgrade")
	w.Header().Set("Sec-WebSocket-Accept", accept)
	if subprotocol != "" {
		w.Header().Set("Sec-WebSocket-Protocol", subprotocol)
	}
	w.WriteHeader(http.StatusSwitchingProtocols)

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return nil, wserrors.New(wserrors.KindIllegalState, "websocket: cannot hijack connection")
	}

	netConn, bufrw, err := hijacker.Hijack()
	if err != nil {
		return nil, wserrors.Wrap(wserrors.KindIO, err, "hijack connection")
	}
	if err := bufrw.Flush(); err != nil {
		_ = netConn.Close()
		return nil, wserrors.Wrap(wserrors.KindIO, err, "flush 101 response")
	}

	var reader *bufio.Reader
	if bufrw.Reader.Size() >= opts.ReadBufferSize {
		reader = bufrw.Reader
	} else {
		reader = bufio.NewReaderSize(netConn, opts.ReadBufferSize)
	}
	writer := bufio.NewWriterSize(netConn, opts.WriteBufferSize)

	return newConn(netConn, reader, writer, false, shortuuid.New()), nil
}

func computeAcceptKey(key string) string {
	h := sha1.New() //nolint:gosec // RFC 6455 mandates SHA-1 here.
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func negotiateSubprotocol(r *http.Request, serverProtos []string) string {
	if len(serverProtos) == 0 {
		return ""
	}
	clientProtos := strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",")
	for _, clientProto := range clientProtos {
		clientProto = strings.TrimSpace(clientProto)
		for _, serverProto := range serverProtos {
			if clientProto == serverProto {
				return clientProto
			}
		}
	}
	return ""
}

func headerContainsToken(header, token string) bool {
	header = strings.ToLower(header)
	token = strings.ToLower(token)
	for _, h := range strings.Split(header, ",") {
		if strings.TrimSpace(h) == token {
			return true
		}
	}
	return false
}

// CheckSameOrigin is a default origin checker suitable for production use:
// it requires the Origin header (when present) to match the request host.
func CheckSameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return origin == scheme+"://"+r.Host
}
