// Package handlers provides HTTP handlers for price forecasting.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/aristath/augur/internal/modules/forecasting"
)

// Forecaster is the orchestrator surface served over HTTP
type Forecaster interface {
	Predict(ctx context.Context, prices []float64, ticker string) *forecasting.PredictionRecord
	Train(ctx context.Context, prices []float64, epochs int) forecasting.TrainResult
	Status() forecasting.Status
	MLEnabled() bool
	ModelState() forecasting.ModelState
	LastTrainResult() (forecasting.TrainResult, bool)
	Progress() (forecasting.TrainingProgress, bool)
	SubscribeProgress() (<-chan forecasting.TrainingProgress, func())
	Save(ctx context.Context, name string) bool
	Load(ctx context.Context, name string) bool
}

// ModelCatalog lists and removes persisted models
type ModelCatalog interface {
	List(ctx context.Context) ([]forecasting.ModelRecord, error)
	Delete(ctx context.Context, name string) error
}

// Handler handles forecasting HTTP requests
type Handler struct {
	forecaster Forecaster
	catalog    ModelCatalog
	validate   *validator.Validate
	log        zerolog.Logger
}

// NewHandler creates a new forecasting handler. catalog may be nil, in which
// case the model listing routes report 503.
func NewHandler(forecaster Forecaster, catalog ModelCatalog, log zerolog.Logger) *Handler {
	return &Handler{
		forecaster: forecaster,
		catalog:    catalog,
		validate:   validator.New(),
		log:        log.With().Str("handler", "forecasting").Logger(),
	}
}

// PredictRequest represents a prediction request
type PredictRequest struct {
	Ticker string    `json:"ticker" validate:"required,max=32"`
	Prices []float64 `json:"prices" validate:"required,min=5"`
}

// TrainRequest represents an explicit training request
type TrainRequest struct {
	Prices []float64 `json:"prices" validate:"required"`
	Epochs int       `json:"epochs" default:"30" validate:"gte=1,lte=1000"`
}

// ModelRequest names a persisted model
type ModelRequest struct {
	Name string `json:"name" default:"stock-predictor" validate:"required,max=64"`
}

// StatusResponse describes the forecasting state
type StatusResponse struct {
	Status     forecasting.Status       `json:"status"`
	MLEnabled  bool                     `json:"ml_enabled"`
	ModelState forecasting.ModelState   `json:"model_state"`
	LastTrain  *forecasting.TrainResult `json:"last_train,omitempty"`
}

// HandlePredict handles POST /api/forecast/predict
func (h *Handler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if !h.decode(w, r, &req) {
		return
	}

	record := h.forecaster.Predict(r.Context(), req.Prices, req.Ticker)
	if record == nil {
		h.writeError(w, http.StatusUnprocessableEntity, "not enough prices for a prediction")
		return
	}

	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"ticker":     req.Ticker,
		"prediction": record,
	}))
}

// HandleTrain handles POST /api/forecast/train. The request blocks until the
// run finishes; progress is available on the progress routes meanwhile.
func (h *Handler) HandleTrain(w http.ResponseWriter, r *http.Request) {
	var req TrainRequest
	if !h.decode(w, r, &req) {
		return
	}

	result := h.forecaster.Train(r.Context(), req.Prices, req.Epochs)
	if !result.Success {
		h.log.Warn().
			Str("reason", string(result.Reason)).
			Str("error", result.Error).
			Msg("Training request failed")
	}

	status := http.StatusOK
	switch result.Reason {
	case forecasting.ReasonInsufficientData:
		status = http.StatusUnprocessableEntity
	case forecasting.ReasonUnavailable:
		status = http.StatusServiceUnavailable
	case forecasting.ReasonTrainingException:
		status = http.StatusInternalServerError
	}
	h.writeJSON(w, status, envelope(result))
}

// HandleGetStatus handles GET /api/forecast/status
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:     h.forecaster.Status(),
		MLEnabled:  h.forecaster.MLEnabled(),
		ModelState: h.forecaster.ModelState(),
	}
	if last, ok := h.forecaster.LastTrainResult(); ok {
		resp.LastTrain = &last
	}
	h.writeJSON(w, http.StatusOK, envelope(resp))
}

// HandleGetProgress handles GET /api/forecast/progress
func (h *Handler) HandleGetProgress(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"progress": nil,
		"active":   false,
	}
	if p, ok := h.forecaster.Progress(); ok {
		data["progress"] = p
		data["active"] = !p.Done()
	}
	h.writeJSON(w, http.StatusOK, envelope(data))
}

// HandleSaveModel handles POST /api/forecast/models/save
func (h *Handler) HandleSaveModel(w http.ResponseWriter, r *http.Request) {
	var req ModelRequest
	if !h.decode(w, r, &req) {
		return
	}

	if !h.forecaster.Save(r.Context(), req.Name) {
		h.writeError(w, http.StatusConflict, "model could not be saved")
		return
	}
	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{"name": req.Name, "saved": true}))
}

// HandleLoadModel handles POST /api/forecast/models/load
func (h *Handler) HandleLoadModel(w http.ResponseWriter, r *http.Request) {
	var req ModelRequest
	if !h.decode(w, r, &req) {
		return
	}

	if !h.forecaster.Load(r.Context(), req.Name) {
		h.writeError(w, http.StatusNotFound, "model could not be loaded")
		return
	}
	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"name":   req.Name,
		"loaded": true,
		"status": h.forecaster.Status(),
	}))
}

// HandleListModels handles GET /api/forecast/models
func (h *Handler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		h.writeError(w, http.StatusServiceUnavailable, "model storage is not configured")
		return
	}

	models, err := h.catalog.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list models")
		h.writeError(w, http.StatusInternalServerError, "failed to list models")
		return
	}
	h.writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"models": models,
		"count":  len(models),
	}))
}

// HandleDeleteModel handles DELETE /api/forecast/models/{name}
func (h *Handler) HandleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		h.writeError(w, http.StatusServiceUnavailable, "model storage is not configured")
		return
	}

	name := chi.URLParam(r, "name")
	if err := h.catalog.Delete(r.Context(), name); err != nil {
		if errors.Is(err, forecasting.ErrModelNotFound) {
			h.writeError(w, http.StatusNotFound, "model not found")
			return
		}
		h.log.Error().Err(err).Str("name", name).Msg("Failed to delete model")
		h.writeError(w, http.StatusInternalServerError, "failed to delete model")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads the JSON body into req, applies struct defaults and validates
// it. On failure the error response has already been written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.log.Debug().Err(err).Msg("Failed to decode request body")
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := defaults.Set(req); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err := h.validate.StructCtx(r.Context(), req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  "validation failed",
				"fields": fieldErrors(verrs),
			})
			return false
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func fieldErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out[fe.Field()] = "is required"
		case "min", "gte":
			out[fe.Field()] = "must be at least " + fe.Param()
		case "max", "lte":
			out[fe.Field()] = "must be at most " + fe.Param()
		default:
			out[fe.Field()] = "failed validation: " + fe.Tag()
		}
	}
	return out
}

func envelope(data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
