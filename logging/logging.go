package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pion/logging"

	"vehiclediag/utils"
)

// Scopes handed to the components that log
const (
	ScopeDriver    = "driver"
	ScopeTransport = "isotp"
	ScopeECU       = "ecu"
	ScopeCLI       = "cli"
)

// NewLoggerFactory returns a pion logger factory writing to w (stderr when nil) at the given level.
func NewLoggerFactory(level string, w io.Writer) (logging.LoggerFactory, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}
	f := logging.NewDefaultLoggerFactory()
	f.Writer = w
	f.DefaultLogLevel = lvl
	return f, nil
}

// ParseLevel maps a level name to a pion log level
func ParseLevel(level string) (logging.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "disabled", "off":
		return logging.LogLevelDisabled, nil
	case "error", "":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	default:
		return logging.LogLevelDisabled, fmt.Errorf("%w: unknown log level %q", utils.ErrInvalidInput, level)
	}
}

// Discard returns a logger that drops everything, for callers that pass none
func Discard() logging.LeveledLogger {
	f := logging.NewDefaultLoggerFactory()
	f.Writer = io.Discard
	f.DefaultLogLevel = logging.LogLevelDisabled
	return f.NewLogger("discard")
}
