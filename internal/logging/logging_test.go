package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONOutsideDevelopment(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "wallet-api", "info", "production")

	l.Info("credited", "reference", "fund_abc")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "wallet-api", rec["service"])
	assert.Equal(t, "fund_abc", rec["reference"])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "wallet-api", "warn", "development")

	l.Info("dropped")
	assert.Empty(t, buf.String())

	l.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, "wallet-api", "debug", "production")
	ctx := WithLogger(context.Background(), base)

	ctx, l := WithAttrs(ctx, "reference", "fund_1")
	l.Info("first")
	FromContext(ctx).Info("second")

	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte(`"reference":"fund_1"`)))
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))
}
