package vfs

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// Trace enable flag.
	Trace bool

	// Logger receives trace output.
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
)

// Tracef is a debug helper. fs may be nil.
func Tracef(fs FileSystem, format string, v ...interface{}) {
	if !Trace {
		return
	}
	ev := Logger.Debug()
	if fs != nil {
		ev = ev.Str("fs", fs.String())
	}
	ev.Msg(fmt.Sprintf(strings.TrimRight(format, " \t\r\n"), v...))
}
