package frame

import (
	"io"
	"sync"

	"github.com/kynetic-io/wsframe/wserrors"
)

// flusher is implemented by sinks that buffer writes (e.g. *bufio.Writer).
// Writer.flush is a no-op for sinks that don't.
type flusher interface {
	Flush() error
}

// Writer encodes application messages and control frames onto an outbound
// byte stream, per RFC 6455. All sink-mutating operations are serialized
// under an exclusive lock scoped to one frame write, so a control frame
// can be injected between the fragments of a streamed message without
// interleaving bytes within a single frame.
type Writer struct {
	dst      io.Writer
	isClient bool

	mu           sync.Mutex
	closed       bool
	activeWriter bool

	scratch [maxMaskScratch]byte
}

// NewWriter wraps dst as a frame Writer. isClient selects whether outbound
// frames are masked (client) or left unmasked (server), per RFC 6455
// Section 5.1.
func NewWriter(dst io.Writer, isClient bool) *Writer {
	return &Writer{dst: dst, isClient: isClient}
}

// WritePing emits a final PING control frame. payload must be <=125 bytes.
func (w *Writer) WritePing(payload []byte) error {
	return w.writeControl(OpPing, payload)
}

// WritePong emits a final PONG control frame. payload must be <=125 bytes.
func (w *Writer) WritePong(payload []byte) error {
	return w.writeControl(OpPong, payload)
}

func (w *Writer) writeControl(op Opcode, payload []byte) error {
	if len(payload) > maxControlPayload {
		return wserrors.New(wserrors.KindIllegalState, "control frame payload exceeds 125 bytes")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return wserrors.New(wserrors.KindIllegalState, "writer is closed")
	}

	return w.writeFrameLocked(true, op, payload)
}

// WriteClose emits a CLOSE control frame. The payload is empty when
// code==0 and reason==nil, a 2-byte big-endian code when code!=0 and
// reason==nil, or the code followed by UTF-8 reason when both are set.
// code==0 with a non-nil reason is an illegal argument: there is no slot
// to put the reason in without a code. After emission the sink is closed
// if it implements io.Closer, and the Writer transitions to its closed
// state; further operations fail.
func (w *Writer) WriteClose(code uint16, reason []byte) error {
	if code == 0 && reason != nil {
		return wserrors.ErrCloseArgument
	}

	var payload []byte
	switch {
	case code == 0:
		payload = nil
	case reason == nil:
		payload = []byte{byte(code >> 8), byte(code)}
	default:
		payload = make([]byte, 2+len(reason))
		payload[0] = byte(code >> 8)
		payload[1] = byte(code)
		copy(payload[2:], reason)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return wserrors.New(wserrors.KindIllegalState, "writer is closed")
	}

	err := w.writeFrameLocked(true, OpClose, payload)
	w.closed = true
	if c, ok := w.dst.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// SendMessage emits one data message as a single FIN frame. Fails with an
// illegal-state error if a streamed MessageWriter is currently active.
func (w *Writer) SendMessage(payload []byte, typ MessageType) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return wserrors.New(wserrors.KindIllegalState, "writer is closed")
	}
	if w.activeWriter {
		return wserrors.New(wserrors.KindIllegalState, "a streamed message writer is active")
	}

	return w.writeFrameLocked(true, Opcode(typ), payload)
}

// NewMessageWriter begins a streamed message of the given type and returns
// a push-sink for its fragments. Fails with an illegal-state error if
// another streamed writer is already active.
func (w *Writer) NewMessageWriter(typ MessageType) (*MessageWriter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, wserrors.New(wserrors.KindIllegalState, "writer is closed")
	}
	if w.activeWriter {
		return nil, wserrors.New(wserrors.KindIllegalState, "a streamed message writer is active")
	}

	w.activeWriter = true
	return &MessageWriter{w: w, opcode: Opcode(typ), firstFrame: true}, nil
}

// writeFrameLocked emits one frame. Caller must hold w.mu.
func (w *Writer) writeFrameLocked(fin bool, op Opcode, payload []byte) error {
	masked := w.isClient

	if _, err := w.dst.Write([]byte{encodeHeaderByte0(fin, op)}); err != nil {
		return wserrors.Wrap(wserrors.KindIO, err, "write frame header")
	}

	if err := writeLength(w.dst, uint64(len(payload)), masked); err != nil {
		return wserrors.Wrap(wserrors.KindIO, err, "write payload length")
	}

	if !masked {
		if len(payload) > 0 {
			if _, err := w.dst.Write(payload); err != nil {
				return wserrors.Wrap(wserrors.KindIO, err, "write payload")
			}
		}
		return w.flush()
	}

	key, err := newMaskKey()
	if err != nil {
		return wserrors.Wrap(wserrors.KindIO, err, "generate mask key")
	}
	if _, err := w.dst.Write(key[:]); err != nil {
		return wserrors.Wrap(wserrors.KindIO, err, "write mask key")
	}

	offset := 0
	for off := 0; off < len(payload); {
		n := len(payload) - off
		if n > maxMaskScratch {
			n = maxMaskScratch
		}
		copy(w.scratch[:n], payload[off:off+n])
		offset = ToggleMask(w.scratch[:n], key, offset)
		if _, err := w.dst.Write(w.scratch[:n]); err != nil {
			return wserrors.Wrap(wserrors.KindIO, err, "write masked payload")
		}
		off += n
	}

	return w.flush()
}

func (w *Writer) flush() error {
	if f, ok := w.dst.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// MessageWriter is the push-sink returned by Writer.NewMessageWriter. Each
// Write emits one non-final fragment; Close emits the zero-length final
// fragment (FIN set, opcode CONTINUATION, or the message's own opcode if no
// fragment was written) and releases the Writer for its next operation.
type MessageWriter struct {
	w          *Writer
	opcode     Opcode
	firstFrame bool
	closed     bool
}

// Write emits p as one non-final fragment. The first call uses the
// message's opcode (TEXT or BINARY); subsequent calls use CONTINUATION.
func (mw *MessageWriter) Write(p []byte) (int, error) {
	if mw.closed {
		return 0, wserrors.New(wserrors.KindIllegalState, "message writer is closed")
	}

	mw.w.mu.Lock()
	defer mw.w.mu.Unlock()

	op := OpContinuation
	if mw.firstFrame {
		op = mw.opcode
		mw.firstFrame = false
	}

	if err := mw.w.writeFrameLocked(false, op, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush flushes the underlying sink without emitting a frame.
func (mw *MessageWriter) Flush() error {
	mw.w.mu.Lock()
	defer mw.w.mu.Unlock()
	return mw.w.flush()
}

// Close emits the zero-length final fragment that terminates the message
// (CONTINUATION, or the message's own opcode if Write was never called) and
// returns the owning Writer to its idle state.
func (mw *MessageWriter) Close() error {
	if mw.closed {
		return nil
	}
	mw.closed = true

	mw.w.mu.Lock()
	defer mw.w.mu.Unlock()

	op := OpContinuation
	if mw.firstFrame {
		// No fragment was ever written: this message is a single empty
		// frame of its own opcode.
		op = mw.opcode
	}

	err := mw.w.writeFrameLocked(true, op, nil)
	mw.w.activeWriter = false
	return err
}
