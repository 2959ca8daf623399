package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(t *testing.T, env string) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	l, err := newLogger(env, zap.WrapCore(func(zapcore.Core) zapcore.Core { return core }))
	require.NoError(t, err)
	return l, logs
}

func TestLoggerTagsService(t *testing.T) {
	tests := []struct {
		env     string
		wantEnv string
	}{
		{"production", "production"},
		{"staging", "staging"},
		{"", "development"},
	}

	for _, tt := range tests {
		t.Run(tt.wantEnv, func(t *testing.T) {
			l, logs := observed(t, tt.env)
			l.Info("Order created", zap.String("order_id", "ord-1"))

			require.Equal(t, 1, logs.Len())
			fields := logs.All()[0].ContextMap()
			assert.Equal(t, "booking-service", fields["service"])
			assert.Equal(t, tt.wantEnv, fields["env"])
			assert.Equal(t, "ord-1", fields["order_id"])
		})
	}
}

func TestGetLoggerFallback(t *testing.T) {
	saved := logger
	logger = nil
	t.Cleanup(func() { logger = saved })

	l := GetLogger()
	require.NotNil(t, l)
	assert.Same(t, l, GetLogger())
}
