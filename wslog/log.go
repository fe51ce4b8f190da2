// Package wslog configures the structured logger shared by session and hub,
// following the zerolog conventions used throughout this pack's CLI
// services (e.g. tzrikka-timpani's request-scoped loggers).
package wslog

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets the package-level logger used throughout this module
// (github.com/rs/zerolog/log.Logger, the convention cmd/wsecho and
// cmd/wschat build on). pretty selects a human-readable console writer
// for local development; otherwise logs are JSON on stderr, matching
// production defaults elsewhere in this stack.
func Init(pretty bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if pretty {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		cw := zerolog.ConsoleWriter{Out: os.Stdout}
		log.Logger = zerolog.New(cw).With().Timestamp().Logger()
		zerolog.DefaultContextLogger = &log.Logger
		return
	}

	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log.Logger
}

// Conn returns a child logger tagged with a connection ID, for the session
// and hub packages to attach to every log line about one connection.
func Conn(connID string) zerolog.Logger {
	return log.Logger.With().Str("conn_id", connID).Logger()
}
