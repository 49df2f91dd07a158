package forecasting

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomSequence(rng *rand.Rand) Sequence {
	var seq Sequence
	for t := range seq {
		for f := range seq[t] {
			seq[t][f] = rng.Float64()
		}
	}
	return seq
}

func TestNetwork_ZeroNetworkOutputsHalf(t *testing.T) {
	n := newNetwork(FeatureCount, 4, 3)
	var seq Sequence
	assert.Equal(t, 0.5, n.forward(&seq, n.newCache(SequenceLength)))
}

func TestNetwork_OutputInUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n := newDefaultNetwork(rng)
	cache := n.newCache(SequenceLength)

	for i := 0; i < 10; i++ {
		seq := randomSequence(rng)
		y := n.forward(&seq, cache)
		assert.Greater(t, y, 0.0)
		assert.Less(t, y, 1.0)
	}
}

// Backpropagated gradients must match central finite differences.
func TestNetwork_GradientsMatchFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	n := newNetwork(FeatureCount, 5, 4)
	for _, p := range n.params {
		for i := range p.value {
			p.value[i] = (rng.Float64()*2 - 1) * 0.5
		}
	}
	seq := randomSequence(rng)
	target := 0.3
	cache := n.newCache(SequenceLength)

	loss := func() float64 {
		d := n.forward(&seq, cache) - target
		return 0.5 * d * d
	}

	n.zeroGrad()
	y := n.forward(&seq, cache)
	n.backward(y-target, cache)

	const eps = 1e-6
	for _, p := range n.params {
		analytic := append([]float64(nil), p.grad...)
		for i := range p.value {
			orig := p.value[i]
			p.value[i] = orig + eps
			plus := loss()
			p.value[i] = orig - eps
			minus := loss()
			p.value[i] = orig

			numeric := (plus - minus) / (2 * eps)
			assert.InDelta(t, numeric, analytic[i], 1e-6+1e-4*math.Abs(numeric), "%s[%d]", p.name, i)
		}
	}
}

func TestNetwork_FitReducesLoss(t *testing.T) {
	set, err := NewSequenceBuilder().PrepareTraining(wavePrices(80))
	require.NoError(t, err)

	n := newDefaultNetwork(rand.New(rand.NewSource(5)))
	cache := n.newCache(SequenceLength)
	before, _ := n.evaluate(set.Examples, cache)

	var epochs []epochMetrics
	final, err := n.fit(context.Background(), set.Examples, fitConfig{
		epochs:          40,
		batchSize:       BatchSize,
		validationSplit: ValidationSplit,
		rng:             rand.New(rand.NewSource(9)),
		onEpoch:         func(m epochMetrics) { epochs = append(epochs, m) },
	})
	require.NoError(t, err)

	after, _ := n.evaluate(set.Examples, cache)
	assert.Less(t, after, before)
	assert.Len(t, epochs, 40)
	assert.Equal(t, 40, final.Epoch)
	assert.Greater(t, final.ValLoss, 0.0)
	assert.Greater(t, final.MAE, 0.0)
}

func TestNetwork_FitHonoursContext(t *testing.T) {
	set, err := NewSequenceBuilder().PrepareTraining(wavePrices(60))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := newDefaultNetwork(rand.New(rand.NewSource(1)))
	_, err = n.fit(ctx, set.Examples, fitConfig{
		epochs:          5,
		batchSize:       BatchSize,
		validationSplit: ValidationSplit,
		rng:             rand.New(rand.NewSource(1)),
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNetwork_FitWithoutExamples(t *testing.T) {
	n := newDefaultNetwork(rand.New(rand.NewSource(1)))
	_, err := n.fit(context.Background(), nil, fitConfig{epochs: 1, batchSize: BatchSize, rng: rand.New(rand.NewSource(1))})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestNetwork_ClipGradients(t *testing.T) {
	n := newNetwork(FeatureCount, 4, 3)
	for _, p := range n.params {
		for i := range p.grad {
			p.grad[i] = 10
		}
	}

	n.clipGradients(gradClipNorm)

	var sumSq float64
	for _, p := range n.params {
		for _, g := range p.grad {
			sumSq += g * g
		}
	}
	assert.InDelta(t, gradClipNorm, math.Sqrt(sumSq), 1e-9)
}

func TestNetwork_CloneIsIndependent(t *testing.T) {
	n := newDefaultNetwork(rand.New(rand.NewSource(2)))
	c := n.clone()

	original := n.params[0].value[0]
	c.params[0].value[0] += 1
	assert.Equal(t, original, n.params[0].value[0])

	// the mat views of the clone alias its own storage
	assert.Equal(t, c.params[0].value[0], c.wx.At(0, 0))
}

func TestNetwork_SnapshotRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	n := newDefaultNetwork(rng)
	seq := randomSequence(rng)

	restored, err := networkFromSnapshot(n.snapshot())
	require.NoError(t, err)

	assert.Equal(t,
		n.forward(&seq, n.newCache(SequenceLength)),
		restored.forward(&seq, restored.newCache(SequenceLength)),
	)
}

func TestNetwork_SnapshotRejectsIncompatibleShapes(t *testing.T) {
	base := newDefaultNetwork(rand.New(rand.NewSource(4))).snapshot()

	tests := []struct {
		name   string
		mutate func(w *ModelWeights)
	}{
		{"sequence length", func(w *ModelWeights) { w.SequenceLength = 20 }},
		{"feature count", func(w *ModelWeights) { w.InputSize = 5 }},
		{"layer sizes", func(w *ModelWeights) { w.HiddenSize = 0 }},
		{"tensor count", func(w *ModelWeights) { w.Weights = w.Weights[:3] }},
		{"tensor length", func(w *ModelWeights) { w.Weights[1] = w.Weights[1][:2] }},
		{"non-finite", func(w *ModelWeights) { w.Weights[0][0] = math.NaN() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := base
			w.Weights = make([][]float64, len(base.Weights))
			for i := range base.Weights {
				w.Weights[i] = append([]float64(nil), base.Weights[i]...)
			}
			tt.mutate(&w)

			_, err := networkFromSnapshot(w)
			assert.ErrorIs(t, err, ErrIncompatibleModel)
		})
	}
}
