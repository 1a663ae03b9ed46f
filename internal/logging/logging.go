// Package logging builds the structured logr.Logger every component
// constructor takes, mirroring the teacher's pkg/util/log.CreateLogger
// shape (name, level, optional file destination) but wired directly through
// github.com/go-logr/zapr instead of the teacher's pkg/util/zap wrapper,
// which wraps sigs.k8s.io/controller-runtime/pkg/log/zap — a file absent
// from the retrieved pack (see DESIGN.md: controller-runtime is dropped,
// zapr.NewLogger over a plain *zap.Logger reproduces the same CreateLogger
// contract without it).
package logging

import (
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the teacher's 0=info/1=debug loglevel knob, extended with a
// warn/error floor for the config surface's "log level" key (spec.md §6).
type Level int

const (
	LevelDebug Level = -1
	LevelInfo  Level = 0
	LevelWarn  Level = 1
	LevelError Level = 2
)

// ParseLevel maps the config surface's log level strings to a Level,
// ignoring case.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// New builds a named logr.Logger at level, optionally duplicating output to
// filepath (empty means stderr only), matching the teacher's CreateLogger
// signature closely enough that callers migrate without surprises.
func New(name string, level Level, filepath string) logr.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(level))

	var opts []zap.Option
	if filepath != "" {
		if f, err := os.OpenFile(filepath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644); err == nil {
			opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
				enc := zapcore.NewJSONEncoder(cfg.EncoderConfig)
				fileCore := zapcore.NewCore(enc, zapcore.AddSync(f), cfg.Level)
				return zapcore.NewTee(core, fileCore)
			}))
		}
	}

	zl, err := cfg.Build(opts...)
	if err != nil {
		// zap.NewProductionConfig().Build only fails on a malformed encoder
		// config, which never happens with the literal config above.
		zl = zap.NewNop()
	}
	logger := zapr.NewLogger(zl)
	if name != "" {
		logger = logger.WithName(name)
	}
	return logger
}

// Discard is the logr.Logger used by tests and by components constructed
// without an explicit logger.
func Discard() logr.Logger { return logr.Discard() }
