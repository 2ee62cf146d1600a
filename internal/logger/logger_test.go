package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok, s)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("verbose")
	require.False(t, ok)
}

// TestContextLogger checks that names and fields travel with the context.
func TestContextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	ctx := ToContext(context.Background(), NewWithWriter(zapcore.DebugLevel, &buf))
	ctx = WithName(ctx, "plgpack")
	ctx = WithKV(ctx, "stage", "fetch")

	InfoKV(ctx, "Downloading upstream binary", "version", "2024.1.2")
	DebugKV(ctx, "Compressor output", "stdout", "")

	out := buf.String()
	require.Contains(t, out, "plgpack")
	require.Contains(t, out, "Downloading upstream binary")
	require.Contains(t, out, `"stage": "fetch"`)
	require.Contains(t, out, `"version": "2024.1.2"`)
	require.Contains(t, out, "Compressor output")
}

// TestFromContext_FallsBackToShared returns the shared logger for bare contexts.
func TestFromContext_FallsBackToShared(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))
}
