// Package wsconfig defines the CLI flags shared by this module's demo
// binaries, following the flags-plus-config-file pattern used across this
// stack's services: every flag can be set by CLI argument, environment
// variable, or a TOML config file, in that order of precedence.
package wsconfig

import (
	"errors"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

const (
	DefaultListenAddr       = ":8080"
	DefaultReadBufferSize   = 4096
	DefaultWriteBufferSize  = 4096
	DefaultMaxMessageBytes  = 1 << 20 // 1 MiB
)

// Flags defines the CLI flags read by cmd/wsecho and cmd/wschat.
// configFilePath points at an optional TOML config file; flags fall back
// to it, then to their Value, in cli/v3's normal precedence order.
func Flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "listen-addr",
			Usage: "address to listen on for WebSocket upgrades",
			Value: DefaultListenAddr,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSFRAME_LISTEN_ADDR"),
				toml.TOML("server.listen_addr", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "read-buffer-size",
			Usage: "bufio.Reader size for each connection's frame stream",
			Value: DefaultReadBufferSize,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSFRAME_READ_BUFFER_SIZE"),
				toml.TOML("server.read_buffer_size", configFilePath),
			),
			Validator: validatePositive,
		},
		&cli.IntFlag{
			Name:  "write-buffer-size",
			Usage: "bufio.Writer size for each connection's frame stream",
			Value: DefaultWriteBufferSize,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSFRAME_WRITE_BUFFER_SIZE"),
				toml.TOML("server.write_buffer_size", configFilePath),
			),
			Validator: validatePositive,
		},
		&cli.IntFlag{
			Name:  "max-message-bytes",
			Usage: "maximum application message size (parsed and validated; not enforced by wsecho or wschat)",
			Value: DefaultMaxMessageBytes,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSFRAME_MAX_MESSAGE_BYTES"),
				toml.TOML("server.max_message_bytes", configFilePath),
			),
			Validator: validatePositive,
		},
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "human-readable console logging instead of JSON, and permissive origin checks",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSFRAME_DEV"),
				toml.TOML("server.dev", configFilePath),
			),
		},
	}
}

func validatePositive(v int) error {
	if v <= 0 {
		return errors.New("must be positive")
	}
	return nil
}
