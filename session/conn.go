package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kynetic-io/wsframe/frame"
	"github.com/kynetic-io/wsframe/wserrors"
	"github.com/kynetic-io/wsframe/wslog"
)

// ErrConnClosed is returned by Serve once a CLOSE frame has completed the
// closing handshake for this connection.
var ErrConnClosed = errors.New("websocket: connection closed")

// MessageHandler receives one application message's streaming payload.
// It must fully read and close payload before returning, per the codec's
// listener-close contract (frame.Listener.OnMessage).
type MessageHandler func(c *Conn, payload *frame.PayloadReader, typ frame.MessageType) error

// Conn couples one frame.Reader and one frame.Writer to a single
// net.Conn. It is the "external collaborator" spec.md's codec assumes:
// the HTTP upgrade, ping/pong/close policy, and connection lifecycle the
// codec itself stays out of.
type Conn struct {
	netConn net.Conn
	reader  *frame.Reader
	writer  *frame.Writer
	id      string
	log     zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

func newConn(netConn net.Conn, r *bufio.Reader, w *bufio.Writer, isClient bool, id string) *Conn {
	return &Conn{
		netConn: netConn,
		reader:  frame.NewReader(r, isClient),
		writer:  frame.NewWriter(w, isClient),
		id:      id,
		log:     wslog.Conn(id),
	}
}

// ID returns the connection's locally-generated identifier, used to
// correlate log lines across a connection's lifetime.
func (c *Conn) ID() string { return c.id }

// Serve drives frame.Reader.ReadMessage in a loop, forwarding each data
// message to onMessage and applying this package's control-frame policy:
// PING is answered with PONG automatically (spec.md Section 9's
// recommendation that auto-reply live at the session layer), PONG is
// logged, and CLOSE completes the closing handshake and returns
// ErrConnClosed. Serve returns when the peer closes, a protocol/I/O error
// occurs, or ctx is found done. ctx is checked before each ReadMessage
// call; a ReadMessage already blocked on the connection is not interrupted
// by it.
func (c *Conn) Serve(ctx context.Context, onMessage MessageHandler) error {
	pol := &policyListener{c: c, onMessage: onMessage}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.reader.ReadMessage(pol); err != nil {
			if pol.closeReceived {
				return ErrConnClosed
			}
			c.log.Error().Err(err).Msg("read message failed")
			return err
		}
		if pol.closeReceived {
			return ErrConnClosed
		}
	}
}

// policyListener adapts a MessageHandler into a frame.Listener, applying
// the ping/pong/close policy this layer owns.
type policyListener struct {
	c             *Conn
	onMessage     MessageHandler
	closeReceived bool
}

func (p *policyListener) OnMessage(payload *frame.PayloadReader, typ frame.MessageType) error {
	return p.onMessage(p.c, payload, typ)
}

func (p *policyListener) OnPing(payload []byte) {
	p.c.log.Debug().Int("len", len(payload)).Msg("ping received, sending pong")
	if err := p.c.writer.WritePong(payload); err != nil {
		p.c.log.Warn().Err(err).Msg("failed to send pong")
	}
}

func (p *policyListener) OnPong(payload []byte) {
	p.c.log.Debug().Int("len", len(payload)).Msg("pong received")
}

func (p *policyListener) OnClose(code uint16, reason []byte) {
	p.c.log.Info().Uint16("code", code).Bytes("reason", reason).Msg("close received")
	p.closeReceived = true
	p.c.reader.Close()
	_ = p.c.writer.WriteClose(code, nil)
	_ = p.c.netConn.Close()
}

// SendMessage writes a single-shot data message (see frame.Writer.SendMessage).
func (c *Conn) SendMessage(payload []byte, typ frame.MessageType) error {
	return c.writer.SendMessage(payload, typ)
}

// NewMessageWriter begins a streamed message (see frame.Writer.NewMessageWriter).
func (c *Conn) NewMessageWriter(typ frame.MessageType) (*frame.MessageWriter, error) {
	return c.writer.NewMessageWriter(typ)
}

// Ping sends a PING control frame.
func (c *Conn) Ping(payload []byte) error {
	return c.writer.WritePing(payload)
}

// Close performs the RFC 6455 closing handshake: it sends a CLOSE frame
// with the given code and reason, marks the reader closed, and closes the
// underlying connection. Safe to call more than once.
func (c *Conn) Close(code uint16, reason []byte) error {
	c.closeOnce.Do(func() {
		c.reader.Close()
		c.closeErr = c.writer.WriteClose(code, reason)
		if cerr := c.netConn.Close(); cerr != nil && c.closeErr == nil {
			c.closeErr = cerr
		}
	})
	return c.closeErr
}

// ReadAll blocks for exactly one application message and returns its
// payload buffered in memory, for callers that don't need the streaming
// pull interface (small messages, simple request/response protocols).
// Large messages should instead call Serve with a MessageHandler that
// streams payload directly.
func (c *Conn) ReadAll() (frame.MessageType, []byte, error) {
	var typ frame.MessageType
	var data []byte
	var readErr error

	err := c.reader.ReadMessage(bufferListener{
		onMessage: func(p *frame.PayloadReader, t frame.MessageType) error {
			typ = t
			data, readErr = io.ReadAll(p)
			if cerr := p.Close(); cerr != nil && readErr == nil {
				readErr = cerr
			}
			return readErr
		},
		onPing: func(payload []byte) { _ = c.writer.WritePong(payload) },
		onClose: func(code uint16, reason []byte) {
			c.reader.Close()
			_ = c.writer.WriteClose(code, nil)
			readErr = wserrors.Wrap(wserrors.KindIllegalState, ErrConnClosed, "close received (code=%d)", code)
		},
	})
	if err != nil {
		return 0, nil, err
	}
	return typ, data, readErr
}

// bufferListener is a one-shot frame.Listener built from closures, used by
// ReadAll so it doesn't need a dedicated named type per call site.
type bufferListener struct {
	onMessage func(*frame.PayloadReader, frame.MessageType) error
	onPing    func([]byte)
	onPong    func([]byte)
	onClose   func(uint16, []byte)
}

func (b bufferListener) OnMessage(p *frame.PayloadReader, t frame.MessageType) error {
	return b.onMessage(p, t)
}
func (b bufferListener) OnPing(payload []byte) {
	if b.onPing != nil {
		b.onPing(payload)
	}
}
func (b bufferListener) OnPong(payload []byte) {
	if b.onPong != nil {
		b.onPong(payload)
	}
}
func (b bufferListener) OnClose(code uint16, reason []byte) {
	if b.onClose != nil {
		b.onClose(code, reason)
	}
}
