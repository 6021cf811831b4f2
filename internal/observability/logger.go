// Package observability holds the process-wide loggers.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by commands. It is a no-op until
// InitCLILogger or ConfigureCLILogger runs.
var CLILogger = zap.NewNop()

// Log formats accepted by ConfigureCLILogger.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// InitCLILogger installs a console logger on stderr named name. Verbose
// lowers the level to debug.
func InitCLILogger(name string, verbose bool) {
	level := "info"
	if verbose {
		level = "debug"
	}
	logger, err := NewLogger(name, level, FormatConsole)
	if err != nil {
		CLILogger = zap.NewNop()
		return
	}
	CLILogger = logger
}

// ConfigureCLILogger replaces CLILogger according to the logging config.
func ConfigureCLILogger(name, level, format string) error {
	logger, err := NewLogger(name, level, format)
	if err != nil {
		return err
	}
	CLILogger = logger
	return nil
}

// NewLogger builds a stderr logger. Console output omits timestamps and
// callers so it reads like plain CLI text.
func NewLogger(name, level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var enc zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatConsole:
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.TimeKey = ""
		cfg.CallerKey = ""
		cfg.NameKey = ""
		cfg.LevelKey = ""
		enc = zapcore.NewConsoleEncoder(cfg)
	case FormatJSON:
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	default:
		return nil, fmt.Errorf("invalid log format %q (expected %s or %s)", format, FormatConsole, FormatJSON)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), lvl)
	return zap.New(core).Named(name), nil
}

// Sync flushes CLILogger, ignoring the EINVAL stderr returns on some
// platforms.
func Sync() {
	_ = CLILogger.Sync()
}
