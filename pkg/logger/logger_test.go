package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	req := require.New(t)

	req.Equal(zapcore.DebugLevel, parseLevel("DEBUG"))
	req.Equal(zapcore.WarnLevel, parseLevel("warning"))
	req.Equal(zapcore.ErrorLevel, parseLevel("error"))
	req.Equal(zapcore.InfoLevel, parseLevel("verbose"))
}

func TestNew_RespectsLevel(t *testing.T) {
	req := require.New(t)

	log, err := New("warn")
	req.NoError(err)

	req.False(log.Core().Enabled(zapcore.InfoLevel))
	req.True(log.Core().Enabled(zapcore.WarnLevel))
	req.NotNil(log.WithConnection("conn-1", "user-1"))
}

func TestWithContext_OmitsAnonymousUser(t *testing.T) {
	req := require.New(t)

	core, logs := observer.New(zapcore.InfoLevel)
	log := &Logger{Logger: zap.New(core)}

	log.WithContext("corr-1", "").Info("anonymous")
	log.WithContext("corr-2", "alice").Info("authenticated")

	entries := logs.All()
	req.Len(entries, 2)
	req.Equal("corr-1", entries[0].ContextMap()["correlation_id"])
	req.NotContains(entries[0].ContextMap(), "user_id")
	req.Equal("alice", entries[1].ContextMap()["user_id"])
}

func TestSetGlobal(t *testing.T) {
	req := require.New(t)

	previous := Global()
	t.Cleanup(func() { SetGlobal(previous) })

	nop := NewNop()
	SetGlobal(nop)
	req.Same(nop, Global())
}
