// Command wsecho is a minimal WebSocket echo server: it upgrades every
// request on /ws and writes each received message back to its sender,
// reading the whole payload into memory before replying.
package main

import (
	"context"
	"io"
	"net/http"
	"os"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli/v3"

	"github.com/rs/zerolog/log"

	"github.com/kynetic-io/wsframe/frame"
	"github.com/kynetic-io/wsframe/session"
	"github.com/kynetic-io/wsframe/wsconfig"
	"github.com/kynetic-io/wsframe/wslog"
)

func main() {
	cmd := &cli.Command{
		Name:  "wsecho",
		Usage: "WebSocket echo server",
		Flags: wsconfig.Flags(altsrc.StringSourcer("")),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			wslog.Init(cmd.Bool("dev"))

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
			mux.HandleFunc("/ws", echoHandler(opts))

			addr := cmd.String("listen-addr")
			log.Info().Str("addr", addr).Msg("wsecho listening")
			return http.ListenAndServe(addr, mux) //nolint:gosec // demo binary, no write timeouts needed
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("wsecho exited")
	}
}

func echoHandler(opts *session.Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := session.Upgrade(w, r, opts)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		connLog := log.With().Str("conn_id", conn.ID()).Logger()
		connLog.Info().Str("remote", r.RemoteAddr).Msg("client connected")

		err = conn.Serve(r.Context(), func(c *session.Conn, payload *frame.PayloadReader, typ frame.MessageType) error {
			data, readErr := io.ReadAll(payload)
			if readErr != nil {
				_ = payload.Close()
				return readErr
			}
			if closeErr := payload.Close(); closeErr != nil {
				return closeErr
			}

			connLog.Debug().Stringer("type", typ).Int("len", len(data)).Msg("echoing message")
			return c.SendMessage(data, typ)
		})
		if err != nil && err != session.ErrConnClosed {
			connLog.Warn().Err(err).Msg("connection ended")
		}
	}
}
