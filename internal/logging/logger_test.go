package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf, JSON: true})
	require.NotNil(t, logger)

	t.Run("Levels", func(t *testing.T) {
		for _, log := range []func(string, ...any){logger.Debug, logger.Info, logger.Warn, logger.Error} {
			buf.Reset()
			log("some msg")
			assert.Contains(t, buf.String(), "some msg")
		}
	})

	t.Run("DynamicLevel", func(t *testing.T) {
		logger.SetLevel(LevelError)
		assert.Equal(t, LevelError, logger.GetLevel())

		buf.Reset()
		logger.Info("should not appear")
		assert.Zero(t, buf.Len())

		logger.SetLevel(LevelDebug)
	})

	t.Run("WithComponent", func(t *testing.T) {
		buf.Reset()
		logger.WithComponent("reconcile").Info("msg")
		assert.Contains(t, buf.String(), "reconcile")
	})

	t.Run("WithFields", func(t *testing.T) {
		buf.Reset()
		logger.WithFields(map[string]any{"iface": "bond0"}).Info("msg")
		assert.Contains(t, buf.String(), "iface")
		assert.Contains(t, buf.String(), "bond0")
	})
}

func TestConsoleHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	logger.WithComponent("Netstate").Info("apply done", "checkpoint", "abc", "reason", "two words")
	line := buf.String()

	assert.Contains(t, line, "netstate[")
	assert.Contains(t, line, "[info] netstate: apply done")
	assert.Contains(t, line, "checkpoint=abc")
	assert.Contains(t, line, `reason="two words"`)
	assert.False(t, strings.Contains(line, "component="))
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug": LevelDebug, "": LevelInfo, "INFO": LevelInfo,
		"warning": LevelWarn, "error": LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestDefaultLogger(t *testing.T) {
	require.NotNil(t, Default())

	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = &buf
	SetDefault(New(cfg))

	Info("info")
	Warn("warn")
	Error("error")
	Errorf("error %s", "formatted")
	WithComponent("comp").Info("comp msg")

	assert.NotZero(t, buf.Len())
}
