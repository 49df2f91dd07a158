package forecasting

import (
	"testing"

	"github.com/rs/zerolog"

	testutil "github.com/aristath/augur/internal/testing"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func wavePrices(n int) []float64 { return testutil.WavePrices(n) }

func constantPrices(n int, value float64) []float64 { return testutil.ConstantPrices(n, value) }

func linearPrices(n int, start, step float64) []float64 { return testutil.LinearPrices(n, start, step) }

func newTestRepository(t *testing.T) *ModelRepository {
	t.Helper()

	db := testutil.NewTestDB(t, "forecast")
	return NewModelRepository(db.Conn())
}

func newTestModel(store ModelStore, progress *ProgressTracker) *ModelLifecycle {
	return NewModelLifecycle(
		NewSequenceBuilder(),
		NewFallbackPredictor(),
		store,
		progress,
		testLogger(),
		ModelOptions{Seed: 42},
	)
}
