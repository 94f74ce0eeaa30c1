// Package logger configures the global zerolog logger. Request paths log
// through a per-device child logger so every line carries the device id.
package logger

import (
	"os"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var once sync.Once

// Init initialises the global logger exactly once. Console output gets a
// human-readable colored writer when stdout is a terminal, JSON otherwise.
func Init(level string) {
	once.Do(func() {
		lvl := zerolog.InfoLevel
		if parsed, err := zerolog.ParseLevel(level); err == nil && level != "" {
			lvl = parsed
		}
		zerolog.SetGlobalLevel(lvl)
		zerolog.TimeFieldFormat = time.RFC3339

		if isatty.IsTerminal(os.Stdout.Fd()) {
			log.Logger = log.Output(zerolog.ConsoleWriter{
				Out:        colorable.NewColorableStdout(),
				TimeFormat: "01-02 15:04:05",
			})
		}
	})
}

// Device returns a child logger bound to a device id.
func Device(device string) *zerolog.Logger {
	l := log.With().Str("device", device).Logger()
	return &l
}
