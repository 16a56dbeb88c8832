package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig is the subset of internal/config.Config the logger
// bootstrap needs, kept as its own type so this package doesn't import
// internal/config back.
type LoggerConfig struct {
	Level       string
	Development bool
}

// NewLogger builds dispatchd's structured logger: JSON-encoded,
// ISO8601 timestamps, level from cfg.Level in production, or a
// colorized console encoder when cfg.Development is set (local runs).
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	if cfg.Development {
		return newDevelopmentLogger(), nil
	}

	zcfg := zap.NewProductionConfig()
	zcfg.OutputPaths = []string{"stdout"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	zcfg.Encoding = "json"
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger, nil
}

func newDevelopmentLogger() *zap.Logger {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, _ := zcfg.Build()
	return logger
}
