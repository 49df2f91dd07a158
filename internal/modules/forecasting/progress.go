package forecasting

import (
	"strconv"
	"sync"
	"time"
)

// TrainingPhase names where a training run currently is
type TrainingPhase string

const (
	PhaseStarted   TrainingPhase = "started"
	PhaseEpoch     TrainingPhase = "epoch"
	PhaseCompleted TrainingPhase = "completed"
	PhaseFailed    TrainingPhase = "failed"
)

// TrainingProgress is one progress update of a training run
type TrainingProgress struct {
	RunID     string        `json:"run_id"`
	Phase     TrainingPhase `json:"phase"`
	Epoch     int           `json:"epoch"`
	Epochs    int           `json:"epochs"`
	Loss      float64       `json:"loss"`
	MAE       float64       `json:"mae"`
	ValLoss   float64       `json:"val_loss"`
	ValMAE    float64       `json:"val_mae"`
	Message   string        `json:"message,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Done reports whether this is the last update of its run
func (p TrainingProgress) Done() bool {
	return p.Phase == PhaseCompleted || p.Phase == PhaseFailed
}

const subscriberBuffer = 16

// ProgressTracker records training progress so callers can consume it at
// their own pace: either by polling Latest or by subscribing to a channel.
// Slow subscribers lose intermediate epochs, never the terminal update.
type ProgressTracker struct {
	mu     sync.RWMutex
	latest *TrainingProgress
	subs   map[int]chan TrainingProgress
	nextID int
	closed bool
}

// NewProgressTracker creates an empty tracker
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{subs: make(map[int]chan TrainingProgress)}
}

// Latest returns the most recent update, if any run has reported yet.
func (t *ProgressTracker) Latest() (TrainingProgress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.latest == nil {
		return TrainingProgress{}, false
	}
	return *t.latest, true
}

// Subscribe returns a channel of future updates and a cancel function that
// closes it. Cancel is safe to call more than once.
func (t *ProgressTracker) Subscribe() (<-chan TrainingProgress, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan TrainingProgress, subscriberBuffer)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if sub, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(sub)
			}
		})
	}
}

// Close ends every subscription. Later publishes only update Latest.
func (t *ProgressTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}

func (t *ProgressTracker) publish(p TrainingProgress) {
	if t == nil {
		return
	}
	p.UpdatedAt = time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.latest = &p
	for _, ch := range t.subs {
		deliver(ch, p, p.Done())
	}
}

// deliver never blocks. A terminal update displaces the oldest queued one
// when the buffer is full.
func deliver(ch chan TrainingProgress, p TrainingProgress, terminal bool) {
	select {
	case ch <- p:
		return
	default:
	}
	if !terminal {
		return
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- p:
	default:
	}
}

func (t *ProgressTracker) started(runID string, epochs, examples int) {
	t.publish(TrainingProgress{
		RunID:   runID,
		Phase:   PhaseStarted,
		Epochs:  epochs,
		Message: "training on " + strconv.Itoa(examples) + " examples",
	})
}

func (t *ProgressTracker) epoch(runID string, epochs int, m epochMetrics) {
	t.publish(TrainingProgress{
		RunID:   runID,
		Phase:   PhaseEpoch,
		Epoch:   m.Epoch,
		Epochs:  epochs,
		Loss:    m.Loss,
		MAE:     m.MAE,
		ValLoss: m.ValLoss,
		ValMAE:  m.ValMAE,
	})
}

func (t *ProgressTracker) finished(result *TrainResult) {
	p := TrainingProgress{
		RunID:   result.RunID,
		Phase:   PhaseCompleted,
		Epoch:   result.Epochs,
		Epochs:  result.Epochs,
		Loss:    result.FinalLoss,
		MAE:     result.FinalMAE,
		ValLoss: result.FinalValLoss,
		ValMAE:  result.FinalValMAE,
	}
	if !result.Success {
		p.Phase = PhaseFailed
		p.Message = string(result.Reason)
		if result.Error != "" {
			p.Message += ": " + result.Error
		}
	}
	t.publish(p)
}
