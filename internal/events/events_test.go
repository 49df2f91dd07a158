package events

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeAndEmit(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var received []*Event
	unsubscribe := bus.Subscribe(ForecastStatusChanged, func(e *Event) {
		received = append(received, e)
	})

	bus.Emit(ForecastStatusChanged, "forecasting", map[string]any{"status": "ready"})
	bus.Emit(ModelPersisted, "forecasting", map[string]any{"name": "x"})

	require.Len(t, received, 1)
	assert.Equal(t, ForecastStatusChanged, received[0].Type)
	assert.Equal(t, "forecasting", received[0].Module)
	assert.Equal(t, "ready", received[0].Data["status"])
	assert.False(t, received[0].Timestamp.IsZero())

	unsubscribe()
	unsubscribe() // idempotent
	assert.Equal(t, 0, bus.SubscriberCount(ForecastStatusChanged))

	bus.Emit(ForecastStatusChanged, "forecasting", nil)
	assert.Len(t, received, 1)
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	called := false
	bus.Subscribe(ErrorOccurred, func(*Event) { panic("bad handler") })
	bus.Subscribe(ErrorOccurred, func(*Event) { called = true })

	assert.NotPanics(t, func() {
		bus.Emit(ErrorOccurred, "test", nil)
	})
	assert.True(t, called)
}

func TestBus_ConcurrentEmit(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	count := 0
	bus.Subscribe(TrainingProgressed, func(*Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(TrainingProgressed, "forecasting", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, count)
}

func TestManager_EmitTyped(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.InfoLevel)
	bus := NewBus(log)
	manager := NewManager(bus, log)

	var got *Event
	bus.Subscribe(TrainingProgressed, func(e *Event) { got = e })

	manager.EmitTyped(TrainingProgressed, "forecasting", &TrainingProgressedData{
		RunID:  "run-1",
		Phase:  "epoch",
		Epoch:  3,
		Epochs: 30,
		Loss:   0.25,
	})

	require.NotNil(t, got)
	typed, ok := got.GetTypedData().(*TrainingProgressedData)
	require.True(t, ok)
	assert.Equal(t, "run-1", typed.RunID)
	assert.Equal(t, 3, typed.Epoch)
	assert.Equal(t, 30, typed.Epochs)
	assert.InDelta(t, 0.25, typed.Loss, 1e-12)

	// Progress is logged at debug level only
	assert.Empty(t, buf.String())

	manager.EmitTyped(ForecastStatusChanged, "forecasting", &ForecastStatusChangedData{Status: "ready", Previous: "initializing"})
	assert.Contains(t, buf.String(), "FORECAST_STATUS_CHANGED")
	assert.Contains(t, buf.String(), "Event emitted")
}

func TestManager_EmitError(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	manager := NewManager(bus, zerolog.Nop())

	var got *Event
	bus.Subscribe(ErrorOccurred, func(e *Event) { got = e })

	manager.EmitError("forecasting", errors.New("disk full"), map[string]any{"name": "stock-predictor"})

	require.NotNil(t, got)
	typed, ok := got.GetTypedData().(*ErrorEventData)
	require.True(t, ok)
	assert.Equal(t, "disk full", typed.Error)
	assert.Equal(t, "stock-predictor", typed.Context["name"])
}

func TestEvent_GetTypedData(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		check func(t *testing.T, data EventData)
	}{
		{
			name:  "status changed",
			event: Event{Type: ForecastStatusChanged, Data: map[string]any{"status": "model-ready", "previous": "training"}},
			check: func(t *testing.T, data EventData) {
				d := data.(*ForecastStatusChangedData)
				assert.Equal(t, "model-ready", d.Status)
				assert.Equal(t, "training", d.Previous)
			},
		},
		{
			name:  "model persisted",
			event: Event{Type: ModelPersisted, Data: map[string]any{"name": "m", "action": "load", "success": false}},
			check: func(t *testing.T, data EventData) {
				d := data.(*ModelPersistedData)
				assert.Equal(t, "m", d.Name)
				assert.Equal(t, "load", d.Action)
				assert.False(t, d.Success)
			},
		},
		{
			name:  "unknown type",
			event: Event{Type: EventType("SOMETHING_ELSE"), Data: map[string]any{"a": 1}},
			check: func(t *testing.T, data EventData) { assert.Nil(t, data) },
		},
		{
			name:  "nil data",
			event: Event{Type: ModelPersisted},
			check: func(t *testing.T, data EventData) { assert.Nil(t, data) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, tt.event.GetTypedData())
		})
	}
}

func TestEventData_EventTypes(t *testing.T) {
	assert.Equal(t, ForecastStatusChanged, (&ForecastStatusChangedData{}).EventType())
	assert.Equal(t, TrainingProgressed, (&TrainingProgressedData{}).EventType())
	assert.Equal(t, ModelPersisted, (&ModelPersistedData{}).EventType())
	assert.Equal(t, ErrorOccurred, (&ErrorEventData{}).EventType())
	assert.Len(t, AllEventTypes, 4)
}
