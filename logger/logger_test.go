package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestKeyValueFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core))

	log.With("component", "frontier").Warn("task abandoned",
		"url", "https://example.com/a",
		"attempts", 3,
		"error", errors.New("boom"),
	)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "task abandoned", entry.Message)

	ctx := entry.ContextMap()
	assert.Equal(t, "frontier", ctx["component"])
	assert.Equal(t, "https://example.com/a", ctx["url"])
	assert.EqualValues(t, 3, ctx["attempts"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestDanglingKey(t *testing.T) {
	fields := toZapFields([]any{"orphan"})
	require.Len(t, fields, 1)
	assert.Equal(t, "dangling_key", fields[0].Key)
}

func TestLevelOf(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, levelOf("DEBUG"))
	assert.Equal(t, zapcore.InfoLevel, levelOf("verbose"))
}
