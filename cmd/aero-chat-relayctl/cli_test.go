package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMetrics = `# HELP aero_chat_relay_events_total Internal event counters.
# TYPE aero_chat_relay_events_total counter
aero_chat_relay_events_total{event="private_messages_routed"} 7
aero_chat_relay_events_total{event="calls_initiated"} 2
# HELP aero_chat_relay_sessions_active Currently connected sessions.
# TYPE aero_chat_relay_sessions_active gauge
aero_chat_relay_sessions_active 3
# HELP go_goroutines Number of goroutines that currently exist.
# TYPE go_goroutines gauge
go_goroutines 12
`

type fakeRelay struct {
	ready   bool
	history string
	token   string
}

func (f *fakeRelay) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, body string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"ok":true}`)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !f.ready {
			writeJSON(w, http.StatusServiceUnavailable, `{"ready":false,"error":"store: connection refused"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"ready":true}`)
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"commit":"abc123","buildTime":"2024-05-01T00:00:00Z"}`)
	})
	mux.HandleFunc("GET /webrtc/ice", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Origin") == "https://evil.example.com" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		writeJSON(w, http.StatusOK, `{"iceServers":[{"urls":["stun:stun.example.com:3478"]}]}`)
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(sampleMetrics))
	})
	mux.HandleFunc("GET /api/calls/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth-Token") != f.token {
			writeJSON(w, http.StatusUnauthorized, `{"msg":"Invalid token"}`)
			return
		}
		writeJSON(w, http.StatusOK, f.history)
	})
	return mux
}

func startFakeRelay(t *testing.T, f *fakeRelay) string {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestHealthReady(t *testing.T) {
	url := startFakeRelay(t, &fakeRelay{ready: true})

	stdout, _, err := executeCLI(t, "--url", url, "health")
	require.NoError(t, err)
	assert.Contains(t, stdout, "healthz: ok")
	assert.Contains(t, stdout, "readyz: ready")
}

func TestHealthNotReady(t *testing.T) {
	url := startFakeRelay(t, &fakeRelay{ready: false})

	stdout, _, err := executeCLI(t, "--url", url, "health")
	require.Error(t, err)
	assert.Contains(t, stdout, "readyz: not ready")
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "store: connection refused")
}

func TestURLFromEnv(t *testing.T) {
	url := startFakeRelay(t, &fakeRelay{ready: true})
	t.Setenv(envURL, url)

	stdout, _, err := executeCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "commit: abc123")
	assert.Contains(t, stdout, "build time: 2024-05-01T00:00:00Z")
}

func TestVersionJSON(t *testing.T) {
	url := startFakeRelay(t, &fakeRelay{})

	stdout, _, err := executeCLI(t, "--url", url, "version", "--json")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(stdout)))
	assert.Contains(t, stdout, `"commit": "abc123"`)
}

func TestICE(t *testing.T) {
	url := startFakeRelay(t, &fakeRelay{})

	stdout, _, err := executeCLI(t, "--url", url, "ice")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"stun:stun.example.com:3478"`)

	_, _, err = executeCLI(t, "--url", url, "ice", "--origin", "https://evil.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestStats(t *testing.T) {
	url := startFakeRelay(t, &fakeRelay{})

	stdout, _, err := executeCLI(t, "--url", url, "stats")
	require.NoError(t, err)
	assert.Regexp(t, `calls_initiated\s+2`, stdout)
	assert.Regexp(t, `private_messages_routed\s+7`, stdout)
	assert.Regexp(t, `sessions_active\s+3`, stdout)
	assert.NotContains(t, stdout, "go_goroutines")
}

func TestHistoryRequiresToken(t *testing.T) {
	url := startFakeRelay(t, &fakeRelay{})
	t.Setenv(envToken, "")

	_, _, err := executeCLI(t, "--url", url, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token is required")
}

func TestHistoryTable(t *testing.T) {
	f := &fakeRelay{
		token: "tok",
		history: `[
			{"id":"2","caller":{"id":"b","username":"bob"},"callee":{"id":"a","username":"alice"},"status":"finished",
			 "startTime":"2024-05-01T10:00:00Z","endTime":"2024-05-01T10:01:30Z"},
			{"id":"1","caller":{"id":"a","username":"alice"},"callee":{"id":"b","username":"bob"},"status":"rejected",
			 "startTime":"2024-05-01T09:00:00Z"}
		]`,
	}
	url := startFakeRelay(t, f)

	stdout, _, err := executeCLI(t, "--url", url, "history", "--token", "tok")
	require.NoError(t, err)
	assert.Contains(t, stdout, "STARTED")
	assert.Regexp(t, `2024-05-01T10:00:00Z\s+bob\s+alice\s+finished\s+1m30s`, stdout)
	assert.Regexp(t, `2024-05-01T09:00:00Z\s+alice\s+bob\s+rejected\s+-`, stdout)
}

func TestHistoryTokenFromEnvAndJSON(t *testing.T) {
	f := &fakeRelay{token: "env-tok", history: `[]`}
	url := startFakeRelay(t, f)
	t.Setenv(envToken, "env-tok")

	stdout, _, err := executeCLI(t, "--url", url, "history")
	require.NoError(t, err)
	assert.Contains(t, stdout, "no calls")

	stdout, _, err = executeCLI(t, "--url", url, "history", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, stdout)
}

func TestHistoryUnauthorized(t *testing.T) {
	url := startFakeRelay(t, &fakeRelay{token: "right"})

	_, _, err := executeCLI(t, "--url", url, "history", "--token", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "Invalid token")
}
