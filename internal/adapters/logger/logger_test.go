package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradingEngine/internal/ports"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		" Warn ":  LevelWarn,
		"error":   LevelError,
		"verbose": LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatJSON, ParseFormat("JSON"))
	assert.Equal(t, FormatText, ParseFormat("text"))
	assert.Equal(t, FormatText, ParseFormat("logfmt"))
}

func TestStdLogger_FiltersAndFormats(t *testing.T) {
	var buf bytes.Buffer
	l := NewStdLogger(LevelInfo, &buf)
	ctx := context.Background()

	l.Debug(ctx, "hidden")
	l.Info(ctx, "Order executed", ports.Fields{"symbol": "BTCUSDT", "orderID": "ORD1"})
	l.Error(ctx, errors.New("boom"), "Failed to place order", ports.Fields{"b": 2}, ports.Fields{"a": 1, "b": 3})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], "[INFO] Order executed | orderID=ORD1 symbol=BTCUSDT"), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "[ERROR] Failed to place order | error: boom | a=1 b=3"), lines[1])
}

func TestJSONLogger_EmitsStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelWarn, FormatJSON, &buf)
	ctx := context.Background()

	l.Info(ctx, "hidden")
	l.Warn(ctx, "Order rejected by risk manager", ports.Fields{"check": "leverage", "symbol": "ETHUSDT"})
	l.Error(ctx, errors.New("timeout"), "Market data phase failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "WARN", first["level"])
	assert.Equal(t, "Order rejected by risk manager", first["msg"])
	assert.Equal(t, "leverage", first["check"])
	assert.Equal(t, "ETHUSDT", first["symbol"])

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "ERROR", second["level"])
	assert.Equal(t, "timeout", second["error"])
}
