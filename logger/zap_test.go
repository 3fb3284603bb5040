package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_Fields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core))

	l.Warn("verification failed", map[string]any{
		"payer": "P1",
		"err":   errors.New("boom"),
	})

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "verification failed", entries[0].Message)

	ctx := entries[0].ContextMap()
	assert.Equal(t, "P1", ctx["payer"])
	assert.Equal(t, "boom", ctx["err"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLevel("debug").String())
	assert.Equal(t, "info", parseLevel("nonsense").String())
	assert.Equal(t, "error", parseLevel("error").String())
}

func TestOrNoop(t *testing.T) {
	assert.IsType(t, NoopLogger{}, OrNoop(nil))
	z := FromZap(zap.NewNop())
	assert.Same(t, z, OrNoop(z))
}
