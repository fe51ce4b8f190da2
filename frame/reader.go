package frame

import (
	"encoding/binary"
	"io"

	"github.com/kynetic-io/wsframe/wserrors"
)

// Reader decodes an inbound byte stream into whole application messages,
// per RFC 6455. One Reader expects exactly one consumer: ReadMessage
// blocks on the underlying source and must not be called concurrently with
// itself or with a PayloadReader returned by a prior call.
type Reader struct {
	src      io.Reader
	isClient bool

	closed        bool
	messageClosed bool

	cur            header
	frameRemaining uint64
	maskOffset     int

	listener Listener
	scratch  [maxMaskScratch]byte
}

// NewReader wraps src as a frame Reader. isClient selects which masking
// direction is enforced on inbound frames: a client reader rejects masked
// frames, a server reader rejects unmasked ones (RFC 6455 Section 5.1).
func NewReader(src io.Reader, isClient bool) *Reader {
	return &Reader{src: src, isClient: isClient}
}

// Close marks the reader terminal. Safe to call more than once. Called by
// the session layer once a CLOSE frame has been processed and no further
// reads should be attempted.
func (r *Reader) Close() {
	r.closed = true
}

// ReadMessage blocks until one complete application message has been
// delivered to l via exactly one OnMessage call, or until an error (a
// protocol violation, an I/O failure, or a broken listener contract)
// occurs. Any control frames encountered before the first data frame are
// dispatched to l's hooks, do not count as a message, and do not end the
// call: reading continues with the next frame.
func (r *Reader) ReadMessage(l Listener) error {
	if r.closed {
		return wserrors.New(wserrors.KindIllegalState, "reader is closed")
	}

	r.listener = l
	defer func() { r.listener = nil }()

	h, err := r.readUntilNonControl()
	if err != nil {
		return err
	}

	if h.opcode != OpText && h.opcode != OpBinary {
		return wserrors.ErrExpectedContinuation(byte(h.opcode))
	}

	r.cur = h
	r.frameRemaining = h.length
	r.maskOffset = 0
	r.messageClosed = false

	stream := &PayloadReader{r: r}
	if err := l.OnMessage(stream, MessageType(h.opcode)); err != nil {
		return err
	}

	if !r.messageClosed {
		return wserrors.ErrListenerDidNotDraw
	}

	return nil
}

// readUntilNonControl repeatedly parses frame headers, dispatching control
// frames to readControlFrame, and returns the first non-control header
// (leaving the reader positioned at the start of that frame's payload).
func (r *Reader) readUntilNonControl() (header, error) {
	for {
		h, err := readHeader(r.src, r.isClient)
		if err != nil {
			return header{}, err
		}

		if !h.isControl() {
			return h, nil
		}

		if err := r.readControlFrame(h); err != nil {
			return header{}, err
		}
	}
}

// readControlFrame drains a control frame's payload (always <=125 bytes)
// and dispatches it to the active listener's hook.
func (r *Reader) readControlFrame(h header) error {
	payload := make([]byte, h.length)
	if _, err := io.ReadFull(r.src, payload); err != nil {
		return wserrors.Wrap(wserrors.KindIO, err, "read control frame payload")
	}
	if h.masked {
		ToggleMask(payload, h.mask, 0)
	}

	switch h.opcode {
	case OpPing:
		r.listener.OnPing(payload)
	case OpPong:
		r.listener.OnPong(payload)
	case OpClose:
		var code uint16
		var reason []byte
		if len(payload) >= 2 {
			code = binary.BigEndian.Uint16(payload[:2])
			reason = payload[2:]
		}
		r.listener.OnClose(code, reason)
	default:
		return wserrors.ErrUnknownControlOpcode(byte(h.opcode))
	}

	return nil
}

// PayloadReader streams one application message's payload across
// fragments. It shares frame state with its owning Reader (the "nested
// inner class" of spec.md Section 9, modeled here as an explicit back
// reference) so Close can mutate the reader's position in the byte stream.
type PayloadReader struct {
	r *Reader
}

// Read returns up to len(p) bytes of the message payload, transparently
// crossing fragment boundaries and skipping interleaved control frames.
// Masked reads are routed through a fixed scratch buffer so a single Read
// call never needs to buffer more than maxMaskScratch bytes to unmask.
func (pr *PayloadReader) Read(p []byte) (int, error) {
	r := pr.r

	for r.frameRemaining == 0 {
		if r.cur.fin {
			return 0, io.EOF
		}

		h, err := r.readUntilNonControl()
		if err != nil {
			return 0, err
		}
		if h.opcode != OpContinuation {
			return 0, wserrors.ErrExpectedContinuation(byte(h.opcode))
		}

		r.cur = h
		r.frameRemaining = h.length
		r.maskOffset = 0
	}

	want := len(p)
	if uint64(want) > r.frameRemaining {
		want = int(r.frameRemaining)
	}

	if !r.cur.masked {
		n, err := io.ReadFull(r.src, p[:want])
		r.frameRemaining -= uint64(n)
		if err != nil {
			return n, wserrors.Wrap(wserrors.KindIO, err, "read frame payload")
		}
		return n, nil
	}

	if want > maxMaskScratch {
		want = maxMaskScratch
	}

	n, err := io.ReadFull(r.src, r.scratch[:want])
	if err != nil {
		return 0, wserrors.Wrap(wserrors.KindIO, err, "read masked frame payload")
	}
	r.maskOffset = ToggleMask(r.scratch[:n], r.cur.mask, r.maskOffset)
	copy(p, r.scratch[:n])
	r.frameRemaining -= uint64(n)
	return n, nil
}

// Close drains any unread bytes of the current message (skipping the rest
// of the current frame plus any subsequent frames, including interleaved
// control frames, up to and including the frame with FIN set) and marks
// the stream closed so the owning Reader can accept the next ReadMessage
// call. Closing an already-closed stream, or closing after the Reader
// itself was closed, is a no-op beyond marking the stream closed.
func (pr *PayloadReader) Close() error {
	r := pr.r

	if r.messageClosed {
		return nil
	}
	if r.closed {
		r.messageClosed = true
		return nil
	}

	for {
		if r.frameRemaining > 0 {
			if _, err := io.CopyN(io.Discard, r.src, int64(r.frameRemaining)); err != nil {
				return wserrors.Wrap(wserrors.KindIO, err, "skip frame payload")
			}
			r.frameRemaining = 0
		}

		if r.cur.fin {
			break
		}

		h, err := r.readUntilNonControl()
		if err != nil {
			return err
		}
		if h.opcode != OpContinuation {
			return wserrors.ErrExpectedContinuation(byte(h.opcode))
		}
		r.cur = h
		r.frameRemaining = h.length
	}

	r.messageClosed = true
	return nil
}
