// Package events provides event management functionality.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	ErrorOccurred EventType = "ERROR_OCCURRED"

	// Forecasting lifecycle
	ForecastStatusChanged EventType = "FORECAST_STATUS_CHANGED"
	TrainingProgressed    EventType = "TRAINING_PROGRESSED"
	ModelPersisted        EventType = "MODEL_PERSISTED"
)

// AllEventTypes lists every event type a stream client can subscribe to
var AllEventTypes = []EventType{
	ErrorOccurred,
	ForecastStatusChanged,
	TrainingProgressed,
	ModelPersisted,
}

// Event represents a system event
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Module    string         `json:"module"`
}

// GetTypedData converts the Data map to the typed EventData registered for
// the event type. Returns nil for unknown types or undecodable data.
func (e *Event) GetTypedData() EventData {
	if e.Data == nil {
		return nil
	}

	var data EventData
	switch e.Type {
	case ForecastStatusChanged:
		data = &ForecastStatusChangedData{}
	case TrainingProgressed:
		data = &TrainingProgressedData{}
	case ModelPersisted:
		data = &ModelPersistedData{}
	case ErrorOccurred:
		data = &ErrorEventData{}
	default:
		return nil
	}

	if err := convertMapToStruct(e.Data, data); err != nil {
		return nil
	}
	return data
}
