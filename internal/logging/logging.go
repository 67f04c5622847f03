// Package logging builds the process-wide zap logger.
package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level names accepted by New.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

// toZapLevel maps a level name to zapcore.Level. Unknown names log at info.
func toZapLevel(name string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newConsoleCore(w io.Writer, level zapcore.Level) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	return zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(zapcore.AddSync(w)), zap.NewAtomicLevelAt(level))
}

// New returns a console logger writing to stdout at the named level.
func New(level string) *zap.SugaredLogger {
	return NewWriter(os.Stdout, level)
}

// NewWriter is New with an explicit destination.
func NewWriter(w io.Writer, level string) *zap.SugaredLogger {
	return zap.New(newConsoleCore(w, toZapLevel(level))).Sugar()
}
