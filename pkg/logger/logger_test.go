package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/unraid-agent/pkg/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("WARN"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestInitAndNamed(t *testing.T) {
	cfg := config.LogConfig{
		Level:   "debug",
		Format:  "console",
		Path:    t.TempDir(),
		MaxSize: 10,
		MaxAge:  1,
	}
	require.NoError(t, Init(cfg))

	l := Named("test")
	require.NotNil(t, l)
	l.Info("logger smoke test")
	assert.NoError(t, func() error { Sync(); return nil }())
}
