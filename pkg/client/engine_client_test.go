package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Header http.Header
	Body   []byte
}

func setupServer(t *testing.T, status int, response string) (EngineClient, *capturedRequest) {
	t.Helper()

	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.Path = r.URL.Path
		captured.Query = map[string]string{}
		for key := range r.URL.Query() {
			captured.Query[key] = r.URL.Query().Get(key)
		}
		captured.Header = r.Header.Clone()
		captured.Body, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, response)
	}))
	t.Cleanup(server.Close)

	return NewEngineClient(server.URL), captured
}

func TestHealth(t *testing.T) {
	c, captured := setupServer(t, http.StatusOK, "ok")
	require.NoError(t, c.Health(context.Background()))
	assert.Equal(t, "/healthz", captured.Path)
}

func TestHealthFailure(t *testing.T) {
	c, _ := setupServer(t, http.StatusServiceUnavailable, "down")
	assert.Error(t, c.Health(context.Background()))
}

func TestHealthUnreachable(t *testing.T) {
	c := NewEngineClient("http://127.0.0.1:1")
	assert.Error(t, c.Health(context.Background()))
}

func TestInvokePinnedVersion(t *testing.T) {
	c, captured := setupServer(t, http.StatusOK, `{"ok":true}`)

	result, err := c.Invoke(context.Background(), "checkout", "v1", InvokeRequest{
		Method:  "POST",
		Path:    "/orders",
		Headers: map[string]string{"X-Trace": "abc"},
		Body:    []byte(`{"sku":"a"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, "/invoke/checkout/v1/orders", captured.Path)
	assert.Equal(t, "POST", captured.Method)
	assert.Equal(t, "abc", captured.Header.Get("X-Trace"))
	assert.Equal(t, `{"sku":"a"}`, string(captured.Body))

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(result.Body))
	assert.Equal(t, "application/json", result.Headers.Get("Content-Type"))
}

func TestInvokeActiveVersion(t *testing.T) {
	c, captured := setupServer(t, http.StatusOK, "hi")

	_, err := c.InvokeActive(context.Background(), "checkout", InvokeRequest{Method: "GET", Path: "/"})
	require.NoError(t, err)

	assert.Equal(t, "/f/checkout", captured.Path)
	assert.Equal(t, "GET", captured.Method)
}

func TestInvokeDefaultsToPost(t *testing.T) {
	c, captured := setupServer(t, http.StatusOK, "")

	_, err := c.Invoke(context.Background(), "checkout", "v1", InvokeRequest{})
	require.NoError(t, err)

	assert.Equal(t, "POST", captured.Method)
	assert.Equal(t, "/invoke/checkout/v1", captured.Path)
}

func TestStatus(t *testing.T) {
	c, captured := setupServer(t, http.StatusOK, `{
		"warm_contexts": 3,
		"in_flight": 1,
		"queued": 2,
		"scheduled_triggers": 1,
		"routes": {"checkout": "v7"},
		"dropped_sink_records": 4
	}`)

	status, err := c.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/status", captured.Path)
	assert.Equal(t, 3, status.WarmContexts)
	assert.Equal(t, 1, status.InFlight)
	assert.Equal(t, 2, status.Queued)
	assert.Equal(t, 1, status.Scheduled)
	assert.Equal(t, "v7", status.Routes["checkout"])
	assert.Equal(t, int64(4), status.DroppedSinks)
}

func TestStatusNon200(t *testing.T) {
	c, _ := setupServer(t, http.StatusInternalServerError, "boom")
	_, err := c.Status(context.Background())
	assert.Error(t, err)
}

func TestLogs(t *testing.T) {
	c, captured := setupServer(t, http.StatusOK, `{"deployment":"checkout/v1","logs":["line 1","line 2"]}`)

	logs, err := c.Logs(context.Background(), "checkout", "v1", 10*time.Minute, 50)
	require.NoError(t, err)

	assert.Equal(t, "/logs/checkout/v1", captured.Path)
	assert.Equal(t, "50", captured.Query["tail"])

	since, parseErr := time.Parse(time.RFC3339, captured.Query["since"])
	require.NoError(t, parseErr)
	assert.WithinDuration(t, time.Now().Add(-10*time.Minute), since, 5*time.Second)

	assert.Equal(t, []string{"line 1", "line 2"}, logs)
}

func TestLogsWithoutFilters(t *testing.T) {
	c, captured := setupServer(t, http.StatusOK, `{"deployment":"checkout/v1","logs":[]}`)

	logs, err := c.Logs(context.Background(), "checkout", "v1", 0, 0)
	require.NoError(t, err)

	assert.Empty(t, logs)
	assert.Empty(t, captured.Query)
}

func TestInvalidate(t *testing.T) {
	c, captured := setupServer(t, http.StatusOK, `{"invalidated":2}`)

	n, err := c.Invalidate(context.Background(), "checkout", "v1")
	require.NoError(t, err)

	assert.Equal(t, "/admin/invalidate", captured.Path)
	assert.Equal(t, "POST", captured.Method)
	assert.Equal(t, "application/json", captured.Header.Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(captured.Body, &body))
	assert.Equal(t, "checkout", body["function_id"])
	assert.Equal(t, "v1", body["version_id"])

	assert.Equal(t, 2, n)
}
