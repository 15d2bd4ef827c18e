// Package logging constructs the per-component loggers. Each server
// component gets its own colored prefix so interleaved connection logs
// stay readable.
package logging

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	gologme "github.com/gologme/log"
)

// New builds a leveled logger with a bracketed, colored component tag.
func New(out io.Writer, tag string, colorize func(format string, a ...interface{}) string, level string) *gologme.Logger {
	if colorize == nil {
		colorize = color.CyanString
	}
	logger := gologme.New(out, fmt.Sprintf("[ %s ] ", colorize(tag)), gologme.LstdFlags|gologme.Lmsgprefix)
	switch level {
	case "trace":
		logger.EnableLevel("trace")
		fallthrough
	case "debug":
		logger.EnableLevel("debug")
		fallthrough
	default:
		logger.EnableLevel("info")
		logger.EnableLevel("warn")
		logger.EnableLevel("error")
	}
	return logger
}
