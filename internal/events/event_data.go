package events

import "encoding/json"

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// ForecastStatusChangedData contains data for ForecastStatusChanged events
type ForecastStatusChangedData struct {
	Status   string `json:"status"`
	Previous string `json:"previous"`
}

// EventType returns the event type for ForecastStatusChangedData
func (d *ForecastStatusChangedData) EventType() EventType {
	return ForecastStatusChanged
}

// TrainingProgressedData contains data for TrainingProgressed events
type TrainingProgressedData struct {
	RunID   string  `json:"run_id"`
	Phase   string  `json:"phase"`
	Epoch   int     `json:"epoch"`
	Epochs  int     `json:"epochs"`
	Loss    float64 `json:"loss"`
	MAE     float64 `json:"mae"`
	ValLoss float64 `json:"val_loss"`
	ValMAE  float64 `json:"val_mae"`
	Message string  `json:"message,omitempty"`
}

// EventType returns the event type for TrainingProgressedData
func (d *TrainingProgressedData) EventType() EventType {
	return TrainingProgressed
}

// ModelPersistedData contains data for ModelPersisted events
type ModelPersistedData struct {
	Name    string `json:"name"`
	Action  string `json:"action"` // "save" or "load"
	Success bool   `json:"success"`
}

// EventType returns the event type for ModelPersistedData
func (d *ModelPersistedData) EventType() EventType {
	return ModelPersisted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string         `json:"error"`
	Context map[string]any `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// convertMapToStruct converts a map to a struct through its JSON form
func convertMapToStruct(m map[string]any, v any) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, v)
}

// convertEventDataToMap converts typed EventData to a map for the bus
func convertEventDataToMap(data EventData) map[string]any {
	if data == nil {
		return nil
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return nil
	}
	return result
}
