package frame

// Listener is how a Reader hands decoded frames to its session layer.
// A single ReadMessage call may deliver any number of OnPing/OnPong/
// OnClose callbacks for control frames it encounters while looking for
// the next message, but fires OnMessage at most once. A ReadMessage that
// returns an error may already have called OnMessage (for example when a
// later fragment of the message is malformed).
//
// OnMessage must fully consume and Close the given PayloadReader before
// returning: ReadMessage checks this immediately afterward and fails with
// an illegal-state error if the stream wasn't closed. This is the
// linearizability contract spec.md Section 9 calls out: the next
// ReadMessage may not begin until the prior payload stream is drained and
// released.
type Listener interface {
	// OnMessage delivers one application message's payload as a streaming
	// reader that spans fragments and transparently skips interleaved
	// control frames. typ is TextMessage or BinaryMessage.
	OnMessage(payload *PayloadReader, typ MessageType) error
	// OnPing delivers a drained PING control frame payload (<=125 bytes).
	OnPing(payload []byte)
	// OnPong delivers a drained PONG control frame payload (<=125 bytes).
	OnPong(payload []byte)
	// OnClose delivers a parsed CLOSE frame: a status code (0 if the frame
	// carried no code) and the UTF-8 reason that followed it, if any.
	OnClose(code uint16, reason []byte)
}
