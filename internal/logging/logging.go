// Package logging provides structured logging with zap.
package logging

import (
	"os"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	globalLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path
}

// New builds a logger and the level that controls it, without touching the
// global logger. Unknown levels fall back to info.
func New(cfg Config) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	atom := zap.NewAtomicLevelAt(level)

	out := cfg.OutputPath
	if out == "" {
		out = "stderr"
	}
	sink, _, err := zap.Open(out)
	if err != nil {
		return nil, atom, err
	}

	var enc zapcore.Encoder
	if cfg.Format == "console" {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		if out == "stderr" || out == "stdout" {
			ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(ec)
	} else {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	core := zapcore.NewCore(enc, sink, atom)
	return zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel), zap.ErrorOutput(zapcore.Lock(os.Stderr))), atom, nil
}

// Init replaces the global logger.
func Init(cfg Config) error {
	logger, atom, err := New(cfg)
	if err != nil {
		return err
	}
	globalLogger = logger
	globalLevel = atom
	return nil
}

// Sync flushes any buffered log entries.
func Sync() error {
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}

// SetLevel changes the global log level at runtime. Invalid names are ignored.
func SetLevel(level string) {
	if l, err := zapcore.ParseLevel(level); err == nil {
		globalLevel.SetLevel(l)
	}
}

// Level reports the global log level.
func Level() zapcore.Level {
	return globalLevel.Level()
}

// L returns the global logger.
func L() *zap.Logger {
	if globalLogger == nil {
		globalLogger, _ = zap.NewProduction()
	}
	return globalLogger
}

// Named returns a child of the global logger for one component. Children
// follow SetLevel.
func Named(component string) *zap.Logger {
	return L().Named(component)
}

// Instance tags a log line with the Lychee instance name.
func Instance(name string) zap.Field {
	return zap.String("instance", name)
}

// Path tags a log line with a filesystem path.
func Path(p string) zap.Field {
	return zap.String("path", p)
}

// Size logs a byte count in human-readable form.
func Size(key string, n int64) zap.Field {
	if n < 0 {
		n = 0
	}
	return zap.String(key, humanize.IBytes(uint64(n)))
}
