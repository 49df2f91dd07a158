package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all forecasting routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/forecast", func(r chi.Router) {
		r.Post("/predict", h.HandlePredict)
		r.Post("/train", h.HandleTrain)
		r.Get("/status", h.HandleGetStatus)

		// Training progress
		r.Get("/progress", h.HandleGetProgress)
		r.Get("/progress/ws", h.HandleProgressWebSocket)

		// Persistence
		r.Get("/models", h.HandleListModels)
		r.Post("/models/save", h.HandleSaveModel)
		r.Post("/models/load", h.HandleLoadModel)
		r.Delete("/models/{name}", h.HandleDeleteModel)
	})
}
