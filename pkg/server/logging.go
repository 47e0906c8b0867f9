package server

import (
	"os"
	"strings"

	"github.com/phuslu/log"
)

// NewLogger builds the root logger from config. Format "console" gets
// the colored human writer on stderr; anything else emits JSON lines.
func NewLogger(cfg LoggingConfig) *log.Logger {
	logger := &log.Logger{
		Level:      parseLevel(cfg.Level),
		TimeFormat: "2006-01-02T15:04:05Z07:00",
	}
	if strings.EqualFold(cfg.Format, "console") {
		logger.Writer = &log.ConsoleWriter{
			ColorOutput:    true,
			EndWithMessage: true,
		}
	} else {
		logger.Writer = log.IOWriter{Writer: os.Stderr}
	}
	return logger
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "trace":
		return log.TraceLevel
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
