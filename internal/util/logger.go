package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// InitLogger initializes the global logger. Every entry carries the service
// name and environment so shipped logs can be told apart.
func InitLogger(env string) error {
	l, err := newLogger(env)
	if err != nil {
		return err
	}
	logger = l
	zap.ReplaceGlobals(logger)
	return nil
}

func newLogger(env string, opts ...zap.Option) (*zap.Logger, error) {
	var config zap.Config
	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	opts = append(opts, zap.Fields(
		zap.String("service", serviceName),
		zap.String("env", envName(env)),
	))
	return config.Build(opts...)
}

func envName(env string) string {
	if env == "" {
		return "development"
	}
	return env
}

// GetLogger returns the global logger, falling back to a development logger
// when InitLogger has not run (tests, tools).
func GetLogger() *zap.Logger {
	if logger == nil {
		l, err := newLogger("development")
		if err != nil {
			l = zap.NewNop()
		}
		logger = l
	}
	return logger
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
