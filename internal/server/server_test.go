package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/augur/internal/config"
	"github.com/aristath/augur/internal/di"
	"github.com/aristath/augur/internal/scheduler"
	testutil "github.com/aristath/augur/internal/testing"
)

type testServer struct {
	container *di.Container
	url       string
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		DataDir:  t.TempDir(),
		LogLevel: "info",
		Port:     0,
		ML: config.MLConfig{
			Enabled:   true,
			AutoTrain: false,
			Epochs:    2,
			ModelName: "stock-predictor",
		},
		Cache: config.CacheConfig{
			TTL:             time.Minute,
			MaxEntries:      16,
			CleanupSchedule: "0 */5 * * * *",
		},
	}
	log := zerolog.New(nil).Level(zerolog.Disabled)

	container, jobs, err := di.Wire(cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	s := New(Config{
		Log:       log,
		Container: container,
		Jobs:      []scheduler.Job{jobs.CacheCleanup, jobs.CheckDatabase},
		DataDir:   cfg.DataDir,
	})
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &testServer{container: container, url: srv.URL}
}

func getJSON(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t)

	code, body := getJSON(t, ts.url+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "augur", body["service"])
	assert.Equal(t, "ready", body["forecast_status"])
	assert.Equal(t, true, body["ml_enabled"])

	require.NoError(t, ts.container.ForecastDB.Close())
	code, body = getJSON(t, ts.url+"/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	// one request so the HTTP counter has a sample
	_, _ = getJSON(t, ts.url+"/health")

	resp, err := http.Get(ts.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(raw)
	assert.Contains(t, text, `augur_forecast_status{status="ready"} 1`)
	assert.Contains(t, text, `augur_http_requests_total{method="GET",status="200"}`)
	assert.Contains(t, text, "go_goroutines")
}

func TestForecastRoutesMounted(t *testing.T) {
	ts := setupTestServer(t)

	body := `{"ticker":"AAPL","prices":[100,101,102,103,104,105]}`
	resp, err := http.Post(ts.url+"/api/forecast/predict", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	code, status := getJSON(t, ts.url+"/api/forecast/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", status["data"].(map[string]interface{})["status"])
}

func TestSystemStats(t *testing.T) {
	ts := setupTestServer(t)

	code, body := getJSON(t, ts.url+"/api/system/stats")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "cpu_percent")
	assert.Contains(t, body, "memory_percent")
	assert.Greater(t, body["goroutines"].(float64), 0.0)
	assert.Greater(t, body["data_dir_mb"].(float64), 0.0)

	code, body = getJSON(t, ts.url+"/api/system/database")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "forecast", body["name"])
	assert.Equal(t, "durable", body["profile"])
	assert.Equal(t, 0.0, body["models"])
}

func TestJobRoutes(t *testing.T) {
	ts := setupTestServer(t)

	code, body := getJSON(t, ts.url+"/api/system/jobs")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["jobs"], 2)

	resp, err := http.Post(ts.url+"/api/system/jobs/prediction_cache_cleanup", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.url+"/api/system/jobs/does_not_exist", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	ts := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.url+"/api/events/stream?types=FORECAST_STATUS_CHANGED", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first := readSSE(t, reader)
	assert.Equal(t, "connected", first["type"])

	// subscribed before "connected" was written
	go ts.container.Orchestrator.Train(context.Background(), testutil.WavePrices(60), 1)

	var statuses []string
	for len(statuses) < 2 {
		event := readSSE(t, reader)
		require.Equal(t, "FORECAST_STATUS_CHANGED", event["type"])
		assert.Equal(t, "forecasting", event["module"])
		statuses = append(statuses, event["data"].(map[string]interface{})["status"].(string))
	}
	assert.Equal(t, []string{"training", "model-ready"}, statuses)
}

func readSSE(t *testing.T, reader *bufio.Reader) map[string]interface{} {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload))
		return payload
	}
}
