package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/augur/internal/modules/forecasting"
	testutil "github.com/aristath/augur/internal/testing"
)

type testEnv struct {
	orchestrator *forecasting.Orchestrator
	repo         *forecasting.ModelRepository
	router       chi.Router
}

func setupTestEnv(t *testing.T, mlEnabled bool) *testEnv {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)

	db := testutil.NewTestDB(t, "forecast")

	repo := forecasting.NewModelRepository(db.Conn())
	model := forecasting.NewModelLifecycle(
		forecasting.NewSequenceBuilder(),
		forecasting.NewFallbackPredictor(),
		repo,
		forecasting.NewProgressTracker(),
		logger,
		forecasting.ModelOptions{Seed: 7},
	)
	orchestrator := forecasting.NewOrchestrator(model, nil, forecasting.Options{
		MLEnabled: mlEnabled,
		Epochs:    2,
	}, logger)
	t.Cleanup(orchestrator.Close)

	router := chi.NewRouter()
	NewHandler(orchestrator, repo, logger).RegisterRoutes(router)

	return &testEnv{orchestrator: orchestrator, repo: repo, router: router}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var response map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	}
	return w, response
}

func TestHandlePredict(t *testing.T) {
	env := setupTestEnv(t, false)

	w, response := env.do(t, "POST", "/forecast/predict", map[string]interface{}{
		"ticker": "AAPL",
		"prices": []float64{100, 100, 100, 100, 100, 100},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, response, "metadata")

	data := response["data"].(map[string]interface{})
	assert.Equal(t, "AAPL", data["ticker"])
	prediction := data["prediction"].(map[string]interface{})
	assert.Equal(t, 100.0, prediction["predicted_price"])
	assert.Equal(t, 70.0, prediction["confidence"])
	assert.Equal(t, "down", prediction["direction"])
	assert.Equal(t, "statistical", prediction["method"])
}

func TestHandlePredict_Validation(t *testing.T) {
	env := setupTestEnv(t, false)

	tests := []struct {
		name  string
		body  interface{}
		field string
	}{
		{"missing ticker", map[string]interface{}{"prices": []float64{1, 2, 3, 4, 5}}, "Ticker"},
		{"too few prices", map[string]interface{}{"ticker": "AAPL", "prices": []float64{1, 2, 3}}, "Prices"},
		{"no prices", map[string]interface{}{"ticker": "AAPL"}, "Prices"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := env.do(t, "POST", "/forecast/predict", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			fields := response["fields"].(map[string]interface{})
			assert.Contains(t, fields, tt.field)
		})
	}

	req := httptest.NewRequest("POST", "/forecast/predict", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleTrain(t *testing.T) {
	env := setupTestEnv(t, true)

	w, response := env.do(t, "POST", "/forecast/train", map[string]interface{}{
		"prices": testutil.WavePrices(60),
		"epochs": 2,
	})
	require.Equal(t, http.StatusOK, w.Code)

	data := response["data"].(map[string]interface{})
	assert.Equal(t, true, data["success"])
	assert.Equal(t, 2.0, data["epochs"])
	assert.Contains(t, data, "duration_ms")
	assert.Equal(t, forecasting.StatusModelReady, env.orchestrator.Status())

	w, response = env.do(t, "GET", "/forecast/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := response["data"].(map[string]interface{})
	assert.Equal(t, "model-ready", status["status"])
	assert.Equal(t, "trained", status["model_state"])
	assert.Equal(t, true, status["ml_enabled"])
	assert.Contains(t, status, "last_train")
}

func TestHandleTrain_Failures(t *testing.T) {
	t.Run("insufficient data", func(t *testing.T) {
		env := setupTestEnv(t, true)
		w, response := env.do(t, "POST", "/forecast/train", map[string]interface{}{"prices": testutil.WavePrices(20)})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		data := response["data"].(map[string]interface{})
		assert.Equal(t, "insufficient-data", data["reason"])
	})

	t.Run("ml disabled", func(t *testing.T) {
		env := setupTestEnv(t, false)
		w, response := env.do(t, "POST", "/forecast/train", map[string]interface{}{"prices": testutil.WavePrices(60)})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		data := response["data"].(map[string]interface{})
		assert.Equal(t, "unavailable", data["reason"])
	})

	t.Run("epochs out of range", func(t *testing.T) {
		env := setupTestEnv(t, true)
		w, _ := env.do(t, "POST", "/forecast/train", map[string]interface{}{"prices": testutil.WavePrices(60), "epochs": 5000})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleGetProgress(t *testing.T) {
	env := setupTestEnv(t, true)

	w, response := env.do(t, "GET", "/forecast/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := response["data"].(map[string]interface{})
	assert.Nil(t, data["progress"])
	assert.Equal(t, false, data["active"])

	env.orchestrator.Train(context.Background(), testutil.WavePrices(60), 2)

	_, response = env.do(t, "GET", "/forecast/progress", nil)
	data = response["data"].(map[string]interface{})
	progress := data["progress"].(map[string]interface{})
	assert.Equal(t, "completed", progress["phase"])
	assert.Equal(t, false, data["active"])
}

func TestModelRoutes(t *testing.T) {
	env := setupTestEnv(t, true)

	// nothing trained yet
	w, _ := env.do(t, "POST", "/forecast/models/save", map[string]interface{}{"name": "first"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = env.do(t, "POST", "/forecast/models/load", map[string]interface{}{"name": "missing-model"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, forecasting.StatusReady, env.orchestrator.Status())

	require.True(t, env.orchestrator.Train(context.Background(), testutil.WavePrices(60), 1).Success)

	w, _ = env.do(t, "POST", "/forecast/models/save", map[string]interface{}{"name": "first"})
	assert.Equal(t, http.StatusOK, w.Code)

	// empty name falls back to the default model name
	w, response := env.do(t, "POST", "/forecast/models/save", map[string]interface{}{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, forecasting.DefaultModelName, response["data"].(map[string]interface{})["name"])

	w, response = env.do(t, "GET", "/forecast/models", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := response["data"].(map[string]interface{})
	assert.Equal(t, 2.0, data["count"])

	w, response = env.do(t, "POST", "/forecast/models/load", map[string]interface{}{"name": "first"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "model-ready", response["data"].(map[string]interface{})["status"])

	w, _ = env.do(t, "DELETE", "/forecast/models/first", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = env.do(t, "DELETE", "/forecast/models/first", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestModelRoutes_NoCatalog(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	orchestrator := forecasting.NewOrchestrator(nil, nil, forecasting.Options{}, logger)
	handler := NewHandler(orchestrator, nil, logger)

	req := httptest.NewRequest("GET", "/forecast/models", nil)
	w := httptest.NewRecorder()
	handler.HandleListModels(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
