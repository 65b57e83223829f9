package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /payments/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"reference":"` + r.URL.Query().Get("reference") +
			`","status":"pending","amount":5000,"currency":"NGN"},"error":null}`))
	})
	mux.HandleFunc("POST /payments/fallback", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"data":{"reference":"` + r.URL.Query().Get("reference") +
			`","outcome":"credited","amount":5000,"settled":true},"error":null}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	srv := fakeAPI(t)

	out, err := run(t, "status", "fund_abc", "--api-url", srv.URL, "--token", "t")
	require.NoError(t, err)
	assert.Contains(t, out, "status:    pending")
	assert.Contains(t, out, "5000 NGN")
}

func TestWatchCommand_FallsBack(t *testing.T) {
	srv := fakeAPI(t)

	out, err := run(t, "watch", "fund_abc", "--api-url", srv.URL, "--token", "t", "-n", "2", "-i", "1ms")
	require.NoError(t, err)
	assert.Contains(t, out, "polling -> fallback after 2 checks")
	assert.Contains(t, out, "outcome:   credited")
}

func TestFallbackCommand_JSON(t *testing.T) {
	srv := fakeAPI(t)

	out, err := run(t, "fallback", "fund_abc", "--api-url", srv.URL, "--token", "t", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"outcome": "credited"`)
	assert.Contains(t, out, `"settled": true`)
}

func TestStatusCommand_RequiresReference(t *testing.T) {
	_, err := run(t, "status")
	assert.Error(t, err)
}
