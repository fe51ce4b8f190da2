// Command wschat is a minimal broadcast chat server built on hub.Hub: each
// connection's messages are decoded as JSON and rebroadcast to every
// connected client, the sender included.
package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli/v3"

	"github.com/rs/zerolog/log"

	"github.com/kynetic-io/wsframe/frame"
	"github.com/kynetic-io/wsframe/hub"
	"github.com/kynetic-io/wsframe/session"
	"github.com/kynetic-io/wsframe/wsconfig"
	"github.com/kynetic-io/wsframe/wslog"
)

// chatMessage is the JSON envelope exchanged with clients.
type chatMessage struct {
	Type      string    `json:"type"` // "join", "message", "leave"
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func main() {
	cmd := &cli.Command{
		Name:  "wschat",
		Usage: "WebSocket broadcast chat server",
		Flags: wsconfig.Flags(altsrc.StringSourcer("")),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			wslog.Init(cmd.Bool("dev"))

			h := hub.NewHub()
			go h.Run()
			defer h.Close()

			opts := &session.Options{
				ReadBufferSize:  cmd.Int("read-buffer-size"),
				WriteBufferSize: cmd.Int("write-buffer-size"),
			}
			if cmd.Bool("dev") {
				opts.CheckOrigin = func(*http.Request) bool { return true }
			} else {
				opts.CheckOrigin = session.CheckSameOrigin
			}

			mux := http.NewServeMux()
			mux.HandleFunc("/ws", chatHandler(h, opts))

			addr := cmd.String("listen-addr")
			log.Info().Str("addr", addr).Msg("wschat listening")
			return http.ListenAndServe(addr, mux) //nolint:gosec // demo binary, no write timeouts needed
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("wschat exited")
	}
}

func chatHandler(h *hub.Hub, opts *session.Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := session.Upgrade(w, r, opts)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		username := r.URL.Query().Get("username")
		if username == "" {
			username = "anonymous"
		}

		connLog := log.With().Str("conn_id", conn.ID()).Str("username", username).Logger()
		connLog.Info().Msg("user connected")

		h.Register(conn)
		defer func() {
			h.Unregister(conn)
			connLog.Info().Msg("user disconnected")
			_ = h.BroadcastJSON(chatMessage{
				Type: "leave", Username: username,
				Text: username + " left the chat", Timestamp: time.Now(),
			})
		}()

		_ = h.BroadcastJSON(chatMessage{
			Type: "join", Username: username,
			Text: username + " joined the chat", Timestamp: time.Now(),
		})

		err = conn.Serve(r.Context(), func(c *session.Conn, payload *frame.PayloadReader, typ frame.MessageType) error {
			data, readErr := io.ReadAll(payload)
			if readErr != nil {
				_ = payload.Close()
				return readErr
			}
			if closeErr := payload.Close(); closeErr != nil {
				return closeErr
			}

			var msg chatMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				connLog.Warn().Err(err).Msg("dropping non-JSON message")
				return nil
			}
			msg.Type = "message"
			msg.Username = username
			msg.Timestamp = time.Now()

			return h.BroadcastJSON(msg)
		})
		if err != nil && err != session.ErrConnClosed {
			connLog.Warn().Err(err).Msg("connection ended")
		}
	}
}
