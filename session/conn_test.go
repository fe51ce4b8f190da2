package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/kynetic-io/wsframe/frame"
)

func TestConn_ServeDeliversTextMessage(t *testing.T) {
	received := make(chan string, 1)

	server := newTestServer(t, func(c *Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Serve(ctx, func(_ *Conn, payload *frame.PayloadReader, typ frame.MessageType) error {
			data, err := io.ReadAll(payload)
			if err != nil {
				_ = payload.Close()
				return err
			}
			if typ == frame.TextMessage {
				received <- string(data)
			}
			return payload.Close()
		})
	})

	client := dialTestServer(t, server)
	if err := client.SendMessage([]byte("streamed"), frame.TextMessage); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	select {
	case got := <-received:
		if got != "streamed" {
			t.Errorf("got %q, want streamed", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server to process message")
	}

	_ = client.Close(1000, nil)
}

func TestConn_PingDoesNotDisruptSubsequentMessages(t *testing.T) {
	received := make(chan string, 1)

	server := newTestServer(t, func(c *Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Serve(ctx, func(_ *Conn, payload *frame.PayloadReader, typ frame.MessageType) error {
			data, err := io.ReadAll(payload)
			if err != nil {
				_ = payload.Close()
				return err
			}
			received <- string(data)
			return payload.Close()
		})
	})

	client := dialTestServer(t, server)
	if err := client.Ping([]byte("are-you-there")); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := client.SendMessage([]byte("after-ping"), frame.TextMessage); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	select {
	case got := <-received:
		if got != "after-ping" {
			t.Errorf("got %q, want after-ping", got)
		}
	case <-time.After(time.Second):
		t.Fatal("server never processed the message following the PING")
	}

	_ = client.Close(1000, nil)
}

func TestConn_CloseCompletesHandshake(t *testing.T) {
	serverClosed := make(chan struct{})

	server := newTestServer(t, func(c *Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err := c.Serve(ctx, func(_ *Conn, payload *frame.PayloadReader, _ frame.MessageType) error {
			return payload.Close()
		})
		if err == ErrConnClosed {
			close(serverClosed)
		}
	})

	client := dialTestServer(t, server)
	if err := client.Close(1000, []byte("bye")); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-serverClosed:
	case <-time.After(time.Second):
		t.Fatal("server did not observe the closing handshake")
	}
}

func TestConn_IDIsStableAndNonEmpty(t *testing.T) {
	server := newTestServer(t, func(c *Conn) {
		if c.ID() == "" {
			t.Error("server conn has empty ID")
		}
		_ = c.Close(1000, nil)
	})

	client := dialTestServer(t, server)
	if client.ID() == "" {
		t.Error("client conn has empty ID")
	}
	first := client.ID()
	if client.ID() != first {
		t.Error("ID() is not stable across calls")
	}
}
