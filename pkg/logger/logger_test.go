package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContextAddsRequestFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	ctx := ContextWith(context.Background(), RequestIDKey, "sess-1.7")
	ctx = ContextWith(ctx, SourceKey, "orders")
	ctx = ContextWith(ctx, PoolKey, "orders-pool")

	FromContext(ctx, base).Info("dispatched")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "sess-1.7", fields["request_id"])
	assert.Equal(t, "orders", fields["source"])
	assert.Equal(t, "orders-pool", fields["pool"])
	assert.NotContains(t, fields, "atomic_request_id")
}

func TestFromContextWithoutValues(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	FromContext(context.Background(), base).Debug("plain")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestInitReplacesGlobalLogger(t *testing.T) {
	prev := Get()
	t.Cleanup(func() {
		mu.Lock()
		globalLogger = prev
		mu.Unlock()
	})

	require.NoError(t, Init(Config{Level: "warn", Encoding: "console"}))
	assert.NotSame(t, prev, Get())
	assert.False(t, Get().Core().Enabled(zap.InfoLevel))
	assert.True(t, Get().Core().Enabled(zap.WarnLevel))

	assert.Error(t, Init(Config{Level: "loud"}))
	assert.False(t, Get().Core().Enabled(zap.InfoLevel), "a failed init keeps the current logger")
}
