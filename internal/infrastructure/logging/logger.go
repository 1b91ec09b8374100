package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field keys shared by the presence and stream loggers.
const (
	KeySessionID = "session_id"
	KeyTabID     = "tab_id"
	KeyAttempt   = "attempt"
)

// Config defines logger configuration.
type Config struct {
	Level       string // debug, info, warn, error
	Development bool
	OutputPaths []string
}

// New builds a zap logger. Production loggers write sampled JSON; development
// loggers write colored console lines with stack traces on warnings.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.MessageKey = "message"
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	return zc.Build()
}

// FromLevel builds a logger for level. An unknown level falls back to info
// rather than failing startup.
func FromLevel(level string, development bool) *zap.Logger {
	logger, err := New(Config{Level: level, Development: development})
	if err == nil {
		return logger
	}
	logger, err = New(Config{Level: "info", Development: development})
	if err != nil {
		return zap.NewNop()
	}
	logger.Warn("Unknown log level, using info", zap.String("level", level))
	return logger
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// SessionID tags a line with the session it concerns.
func SessionID(id string) zap.Field {
	return zap.String(KeySessionID, id)
}

// TabID tags a line with the tab it concerns.
func TabID(id string) zap.Field {
	return zap.String(KeyTabID, id)
}

// Attempt tags a line with a reconnect attempt number.
func Attempt(n int) zap.Field {
	return zap.Int(KeyAttempt, n)
}
