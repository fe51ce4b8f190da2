package frame

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kynetic-io/wsframe/wserrors"
)

// cmpRecordedMessage lets cmp.Diff compare recordedMessage despite its
// fields being unexported (it's a test-only type private to this package).
var cmpRecordedMessage = cmp.AllowUnexported(recordedMessage{})

func TestSendMessage_ServerUnmasked(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	if err := w.SendMessage([]byte("Hello"), TextMessage); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	want := []byte{0x81, 0x05, 'H', 'e', 'l', 'l', 'o'}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("got % x, want % x", buf.Bytes(), want)
	}
}

func TestSendMessage_ClientMasked(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)

	if err := w.SendMessage([]byte("Hello"), TextMessage); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	out := buf.Bytes()
	if out[0] != 0x81 || out[1] != 0x85 {
		t.Fatalf("bad header: % x", out[:2])
	}

	r := NewReader(bytes.NewReader(out), false)
	l := &captureListener{}
	if err := r.ReadMessage(l); err != nil {
		t.Fatalf("round-trip ReadMessage: %v", err)
	}
	want := recordedMessage{typ: TextMessage, data: []byte("Hello")}
	if diff := cmp.Diff(want, l.messages[0], cmpRecordedMessage); diff != "" {
		t.Errorf("recorded message mismatch (-want +got):\n%s", diff)
	}
}

func TestSendMessage_LongPayloadUsesExtended16Length(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 5000)
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	if err := w.SendMessage(payload, BinaryMessage); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	out := buf.Bytes()
	if out[1] != lenExtended16 {
		t.Fatalf("got length byte %d, want sentinel %d", out[1], lenExtended16)
	}
}

func TestStreamedMessageWriter_Fragments(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	mw, err := w.NewMessageWriter(TextMessage)
	if err != nil {
		t.Fatalf("NewMessageWriter: %v", err)
	}
	if _, err := mw.Write([]byte("Hel")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := mw.Write([]byte("lo")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r := NewReader(bytes.NewReader(buf.Bytes()), true)
	l := &captureListener{}
	if err := r.ReadMessage(l); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	want := recordedMessage{typ: TextMessage, data: []byte("Hello")}
	if diff := cmp.Diff(want, l.messages[0], cmpRecordedMessage); diff != "" {
		t.Errorf("recorded message mismatch (-want +got):\n%s", diff)
	}
}

func TestNewMessageWriter_RejectsConcurrentActive(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	if _, err := w.NewMessageWriter(TextMessage); err != nil {
		t.Fatalf("first NewMessageWriter: %v", err)
	}
	if _, err := w.NewMessageWriter(TextMessage); !wserrors.Is(err, wserrors.KindIllegalState) {
		t.Fatalf("got %v, want illegal state", err)
	}
}

func TestSendMessage_RejectedWhileStreamedWriterActive(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	if _, err := w.NewMessageWriter(BinaryMessage); err != nil {
		t.Fatalf("NewMessageWriter: %v", err)
	}
	if err := w.SendMessage([]byte("x"), TextMessage); !wserrors.Is(err, wserrors.KindIllegalState) {
		t.Fatalf("got %v, want illegal state", err)
	}
}

func TestWritePing_RejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	payload := make([]byte, 126)
	if err := w.WritePing(payload); !wserrors.Is(err, wserrors.KindIllegalState) {
		t.Fatalf("got %v, want illegal state", err)
	}
}

func TestWriteClose_IllegalArgumentWithReasonButNoCode(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	if err := w.WriteClose(0, []byte("bye")); !wserrors.Is(err, wserrors.KindIllegalState) {
		t.Fatalf("got %v, want illegal state", err)
	}
}

func TestWriteClose_EmptyPayloadAndClosesWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	if err := w.WriteClose(0, nil); err != nil {
		t.Fatalf("WriteClose: %v", err)
	}

	want := []byte{0x88, 0x00}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("got % x, want % x", buf.Bytes(), want)
	}

	if err := w.SendMessage([]byte("x"), TextMessage); !wserrors.Is(err, wserrors.KindIllegalState) {
		t.Fatalf("write after close: got %v, want illegal state", err)
	}
}

func TestWriteClose_CodeAndReason(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, false)

	if err := w.WriteClose(1000, []byte("bye")); err != nil {
		t.Fatalf("WriteClose: %v", err)
	}

	out := buf.Bytes()
	want := append([]byte{0x88, 5, 0x03, 0xE8}, []byte("bye")...)
	if !bytes.Equal(out, want) {
		t.Errorf("got % x, want % x", out, want)
	}
}

func TestWriterReader_RoundTripAcrossFragmentation(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, true)

	mw, err := w.NewMessageWriter(BinaryMessage)
	if err != nil {
		t.Fatal(err)
	}
	parts := [][]byte{[]byte("abc"), []byte("defgh"), []byte("ij")}
	for _, p := range parts {
		if _, err := mw.Write(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	if err := w.WritePing([]byte("keepalive")); err != nil {
		t.Fatal(err)
	}

	r := NewReader(bytes.NewReader(buf.Bytes()), false)
	l := &captureListener{}
	if err := r.ReadMessage(l); err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	want := recordedMessage{typ: BinaryMessage, data: []byte("abcdefghij")}
	if diff := cmp.Diff(want, l.messages[0], cmpRecordedMessage); diff != "" {
		t.Errorf("recorded message mismatch (-want +got):\n%s", diff)
	}

	// The trailing PING has no data frame after it, so the reader drains
	// it via OnPing and then hits end-of-stream looking for the next
	// header: that surfaces as an I/O error, not a second message.
	if err := r.ReadMessage(l); !wserrors.Is(err, wserrors.KindIO) {
		t.Fatalf("got %v, want I/O error after trailing control frame", err)
	}
	if len(l.pings) != 1 || string(l.pings[0]) != "keepalive" {
		t.Errorf("got pings %v", l.pings)
	}
}
