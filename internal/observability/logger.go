// Package observability holds the process-wide loggers.
package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by CLI commands. It is a no-op logger until
// InitCLILogger runs.
var CLILogger = zap.NewNop()

// InitCLILogger configures CLILogger for a command-line run.
//
// Output is human-readable console encoding on stderr so that stdout stays
// reserved for plan and record output. Verbose enables debug tracing.
func InitCLILogger(name string, verbose bool) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	InitCLILoggerAt(name, level)
}

// InitCLILoggerAt configures CLILogger with an explicit minimum level.
func InitCLILoggerAt(name string, level zapcore.Level) {
	CLILogger = NewCLILogger(name, level, zapcore.Lock(os.Stderr))
}

// NewCLILogger builds a console logger that writes to ws.
func NewCLILogger(name string, level zapcore.Level, ws zapcore.WriteSyncer) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""
	encCfg.NameKey = ""
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, zap.NewAtomicLevelAt(level))
	return zap.New(core).Named(name)
}

// ParseLevel converts a level name ("debug", "info", "warn", "error") to a
// zap level. Unknown names map to info.
func ParseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
