package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/augur/internal/events"
)

func TestEventsStream_UnsubscribesOnDisconnect(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	handler := NewEventsStreamHandler(bus, zerolog.Nop())
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, "connected", readSSE(t, reader)["type"])
	for _, eventType := range events.AllEventTypes {
		assert.Equal(t, 1, bus.SubscriberCount(eventType))
	}

	bus.Emit(events.ModelPersisted, "forecasting", map[string]any{"name": "m", "action": "save", "success": true})
	event := readSSE(t, reader)
	assert.Equal(t, "MODEL_PERSISTED", event["type"])

	cancel()
	resp.Body.Close()

	assert.Eventually(t, func() bool {
		return bus.SubscriberCount(events.ModelPersisted) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestEventsStream_Heartbeat(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	handler := NewEventsStreamHandler(bus, zerolog.Nop())
	handler.heartbeat = 20 * time.Millisecond
	srv := httptest.NewServer(handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?types=TRAINING_PROGRESSED", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	assert.Equal(t, "connected", readSSE(t, reader)["type"])
	assert.Equal(t, 1, bus.SubscriberCount(events.TrainingProgressed))
	assert.Equal(t, 0, bus.SubscriberCount(events.ModelPersisted))
	assert.Equal(t, "heartbeat", readSSE(t, reader)["type"])
}

func TestEventsStream_RejectsNonGet(t *testing.T) {
	handler := NewEventsStreamHandler(events.NewBus(zerolog.Nop()), zerolog.Nop())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
