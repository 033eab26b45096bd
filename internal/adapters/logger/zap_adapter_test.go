package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/timkado/api/course-data-layer/pkg/contextkeys"
)

func TestZapAdapterAddsContextAndPairFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	adapter := NewZapAdapterFrom(zap.New(core))

	ctx := context.WithValue(context.Background(), contextkeys.RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, contextkeys.TabIDKey, "tab-a")
	adapter.With("component", "session").Info(ctx, "bootstrapped", "status", "logged_in", "error", errors.New("boom"), "orphan")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "tab-a", fields["tab_id"])
	assert.Equal(t, "session", fields["component"])
	assert.Equal(t, "logged_in", fields["status"])
	assert.Equal(t, "boom", fields["error"])
	assert.Equal(t, "orphan", fields["orphan_field_4"])
}

func TestZapAdapterRespectsLevel(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	adapter := NewZapAdapterFrom(zap.New(core))

	adapter.Debug(context.Background(), "hidden")
	adapter.Info(context.Background(), "hidden")
	adapter.Warn(context.Background(), "shown")
	adapter.Error(context.Background(), "shown")

	assert.Equal(t, 2, logs.Len())
}
