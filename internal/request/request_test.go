package request_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/surge/internal/clock"
	"github.com/wesleyorama2/surge/internal/request"
)

func TestTemplate_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tpl     request.Template
		wantErr bool
	}{
		{"valid get", request.Template{Method: "GET", URL: "http://localhost:8083/health"}, false},
		{"default method", request.Template{URL: "https://example.com"}, false},
		{"lowercase method", request.Template{Method: "post", URL: "https://example.com"}, false},
		{"missing url", request.Template{Method: "GET"}, true},
		{"bad scheme", request.Template{URL: "ftp://example.com"}, true},
		{"no host", request.Template{URL: "http:///path"}, true},
		{"bad method", request.Template{Method: "FETCH", URL: "http://example.com"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tpl.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExecute_Success(t *testing.T) {
	var gotUA, gotHeader, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotUA = r.Header.Get("User-Agent")
		gotHeader = r.Header.Get("X-Test")
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	exec := request.NewExecutor(request.DefaultClientConfig(), clock.Real())
	defer exec.CloseIdleConnections()

	out := exec.Execute(context.Background(), request.Template{
		URL:     server.URL + "/health",
		Headers: map[string]string{"X-Test": "yes"},
	})

	require.NoError(t, out.Err)
	assert.Equal(t, http.StatusOK, out.StatusCode)
	assert.True(t, out.HasStatus())
	assert.False(t, out.Failed())
	assert.Equal(t, int64(len(`{"status":"ok"}`)), out.BytesReceived)
	assert.GreaterOrEqual(t, out.Duration, 5*time.Millisecond)
	assert.Equal(t, http.MethodGet, gotMethod)
	assert.Equal(t, request.DefaultUserAgent, gotUA)
	assert.Equal(t, "yes", gotHeader)
}

func TestExecute_ServerErrorIsNotTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	exec := request.NewExecutor(request.DefaultClientConfig(), nil)
	out := exec.Execute(context.Background(), request.Template{Method: "GET", URL: server.URL})

	assert.NoError(t, out.Err)
	assert.Equal(t, http.StatusInternalServerError, out.StatusCode)
	assert.True(t, out.Failed())
}

func TestExecute_UnreachableReturnsErrorWithinTimeout(t *testing.T) {
	// Reserve a port and close it so connections are refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := request.DefaultClientConfig()
	cfg.Timeout = 500 * time.Millisecond
	exec := request.NewExecutor(cfg, clock.Real())

	start := time.Now()
	out := exec.Execute(context.Background(), request.Template{URL: "http://" + addr + "/"})
	elapsed := time.Since(start)

	assert.Error(t, out.Err)
	assert.False(t, out.HasStatus())
	assert.True(t, out.Failed())
	assert.Less(t, elapsed, cfg.Timeout+250*time.Millisecond)
}

func TestExecute_TimeoutBoundsStalledServer(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	cfg := request.DefaultClientConfig()
	cfg.Timeout = 100 * time.Millisecond
	exec := request.NewExecutor(cfg, clock.Real())

	start := time.Now()
	out := exec.Execute(context.Background(), request.Template{URL: server.URL})

	assert.Error(t, out.Err)
	assert.Equal(t, 0, out.StatusCode)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNewExecutor_NonPositiveTimeoutUsesDefault(t *testing.T) {
	cfg := request.DefaultClientConfig()
	cfg.Timeout = 0
	assert.Equal(t, request.DefaultTimeout, request.NewExecutor(cfg, nil).Timeout())

	cfg.Timeout = -time.Second
	assert.Equal(t, request.DefaultTimeout, request.NewExecutor(cfg, nil).Timeout())
}

func TestExecute_BuildError(t *testing.T) {
	exec := request.NewExecutor(request.DefaultClientConfig(), nil)
	out := exec.Execute(context.Background(), request.Template{Method: "GET", URL: "http://[::1"})

	assert.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "failed to build request")
}

func TestExecute_BodyIsSent(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	exec := request.NewExecutor(request.DefaultClientConfig(), nil)
	out := exec.Execute(context.Background(), request.Template{Method: "POST", URL: server.URL, Body: `{"a":1}`})

	require.NoError(t, out.Err)
	assert.Equal(t, http.StatusCreated, out.StatusCode)
	assert.Equal(t, `{"a":1}`, string(body))
}
