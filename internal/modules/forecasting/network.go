package forecasting

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Network hyper-parameters. The architecture is an implementation detail; only
// the input shape (SequenceLength x FeatureCount) is part of the stored format.
const (
	hiddenUnits  = 32
	denseUnits   = 16
	learningRate = 0.001
	adamBeta1    = 0.9
	adamBeta2    = 0.999
	adamEpsilon  = 1e-7
	gradClipNorm = 5.0
)

var errNonFiniteLoss = errors.New("loss is not finite")

// parameter is one trainable tensor stored row-major. The mat views held by
// network alias value and grad, so updates through either are shared.
type parameter struct {
	name  string
	rows  int
	cols  int
	value []float64
	grad  []float64
	m     []float64
	v     []float64
}

func newParameter(name string, rows, cols int) *parameter {
	size := rows * cols
	return &parameter{
		name:  name,
		rows:  rows,
		cols:  cols,
		value: make([]float64, size),
		grad:  make([]float64, size),
		m:     make([]float64, size),
		v:     make([]float64, size),
	}
}

// network is a single tanh recurrent layer feeding a ReLU dense layer and a
// sigmoid output unit:
//
//	h_t = tanh(Wx·x_t + Wh·h_{t-1} + bh)
//	r   = relu(W1·h_T + b1)
//	y   = sigmoid(w2·r + b2)
type network struct {
	inputSize  int
	hiddenSize int
	denseSize  int

	wx, wh, w1 *mat.Dense
	bh, b1, w2 *mat.VecDense
	b2         *mat.VecDense

	gwx, gwh, gw1 *mat.Dense
	gbh, gb1, gw2 *mat.VecDense
	gb2           *mat.VecDense

	params []*parameter
	step   int // Adam time step
}

func newNetwork(inputSize, hiddenSize, denseSize int) *network {
	n := &network{
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		denseSize:  denseSize,
	}

	pwx := newParameter("wx", hiddenSize, inputSize)
	pwh := newParameter("wh", hiddenSize, hiddenSize)
	pbh := newParameter("bh", hiddenSize, 1)
	pw1 := newParameter("w1", denseSize, hiddenSize)
	pb1 := newParameter("b1", denseSize, 1)
	pw2 := newParameter("w2", denseSize, 1)
	pb2 := newParameter("b2", 1, 1)
	n.params = []*parameter{pwx, pwh, pbh, pw1, pb1, pw2, pb2}

	n.wx = mat.NewDense(hiddenSize, inputSize, pwx.value)
	n.wh = mat.NewDense(hiddenSize, hiddenSize, pwh.value)
	n.bh = mat.NewVecDense(hiddenSize, pbh.value)
	n.w1 = mat.NewDense(denseSize, hiddenSize, pw1.value)
	n.b1 = mat.NewVecDense(denseSize, pb1.value)
	n.w2 = mat.NewVecDense(denseSize, pw2.value)
	n.b2 = mat.NewVecDense(1, pb2.value)

	n.gwx = mat.NewDense(hiddenSize, inputSize, pwx.grad)
	n.gwh = mat.NewDense(hiddenSize, hiddenSize, pwh.grad)
	n.gbh = mat.NewVecDense(hiddenSize, pbh.grad)
	n.gw1 = mat.NewDense(denseSize, hiddenSize, pw1.grad)
	n.gb1 = mat.NewVecDense(denseSize, pb1.grad)
	n.gw2 = mat.NewVecDense(denseSize, pw2.grad)
	n.gb2 = mat.NewVecDense(1, pb2.grad)

	return n
}

// newDefaultNetwork creates the model network with Glorot-uniform weights
func newDefaultNetwork(rng *rand.Rand) *network {
	n := newNetwork(FeatureCount, hiddenUnits, denseUnits)
	glorot(rng, n.params[0].value, FeatureCount, hiddenUnits)
	glorot(rng, n.params[1].value, hiddenUnits, hiddenUnits)
	glorot(rng, n.params[3].value, hiddenUnits, denseUnits)
	glorot(rng, n.params[5].value, denseUnits, 1)
	return n
}

func glorot(rng *rand.Rand, dst []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range dst {
		dst[i] = (rng.Float64()*2 - 1) * limit
	}
}

// clone deep-copies the weights. Optimizer state starts fresh.
func (n *network) clone() *network {
	c := newNetwork(n.inputSize, n.hiddenSize, n.denseSize)
	for i, p := range n.params {
		copy(c.params[i].value, p.value)
	}
	return c
}

// forwardCache holds the activations of one sequence pass. It is reused
// across examples within a single fit or predict call.
type forwardCache struct {
	xs   []*mat.VecDense // inputs per step
	hs   []*mat.VecDense // hs[0] is the zero state, hs[t+1] the state after step t
	tmpH *mat.VecDense
	z1   *mat.VecDense
	r    *mat.VecDense
	y    float64

	// backward scratch
	dh, dhPrev, da *mat.VecDense
	dz1            *mat.VecDense
}

func (n *network) newCache(steps int) *forwardCache {
	c := &forwardCache{
		xs:     make([]*mat.VecDense, steps),
		hs:     make([]*mat.VecDense, steps+1),
		tmpH:   mat.NewVecDense(n.hiddenSize, nil),
		z1:     mat.NewVecDense(n.denseSize, nil),
		r:      mat.NewVecDense(n.denseSize, nil),
		dh:     mat.NewVecDense(n.hiddenSize, nil),
		dhPrev: mat.NewVecDense(n.hiddenSize, nil),
		da:     mat.NewVecDense(n.hiddenSize, nil),
		dz1:    mat.NewVecDense(n.denseSize, nil),
	}
	for t := range c.xs {
		c.xs[t] = mat.NewVecDense(n.inputSize, nil)
	}
	for t := range c.hs {
		c.hs[t] = mat.NewVecDense(n.hiddenSize, nil)
	}
	return c
}

// forward runs one sequence through the network and returns the sigmoid output.
func (n *network) forward(seq *Sequence, c *forwardCache) float64 {
	c.hs[0].Zero()
	for t := range seq {
		x := c.xs[t]
		copy(x.RawVector().Data, seq[t][:])

		a := c.hs[t+1]
		a.MulVec(n.wx, x)
		c.tmpH.MulVec(n.wh, c.hs[t])
		a.AddVec(a, c.tmpH)
		a.AddVec(a, n.bh)
		raw := a.RawVector().Data
		for i := range raw {
			raw[i] = math.Tanh(raw[i])
		}
	}

	last := c.hs[len(seq)]
	c.z1.MulVec(n.w1, last)
	c.z1.AddVec(c.z1, n.b1)
	z1 := c.z1.RawVector().Data
	r := c.r.RawVector().Data
	for i, z := range z1 {
		r[i] = math.Max(0, z)
	}

	z2 := mat.Dot(n.w2, c.r) + n.b2.AtVec(0)
	c.y = sigmoid(z2)
	return c.y
}

// backward accumulates gradients for the pass stored in c, given dL/dy.
func (n *network) backward(dy float64, c *forwardCache) {
	y := c.y
	dz2 := dy * y * (1 - y)

	n.gw2.AddScaledVec(n.gw2, dz2, c.r)
	n.gb2.SetVec(0, n.gb2.AtVec(0)+dz2)

	// dz1 = (w2 * dz2) ⊙ relu'(z1)
	c.dz1.ScaleVec(dz2, n.w2)
	dz1 := c.dz1.RawVector().Data
	z1 := c.z1.RawVector().Data
	for i := range dz1 {
		if z1[i] <= 0 {
			dz1[i] = 0
		}
	}

	steps := len(c.xs)
	n.gw1.RankOne(n.gw1, 1, c.dz1, c.hs[steps])
	n.gb1.AddVec(n.gb1, c.dz1)
	c.dh.MulVec(n.w1.T(), c.dz1)

	for t := steps; t >= 1; t-- {
		h := c.hs[t].RawVector().Data
		dh := c.dh.RawVector().Data
		da := c.da.RawVector().Data
		for i := range da {
			da[i] = dh[i] * (1 - h[i]*h[i])
		}

		n.gwx.RankOne(n.gwx, 1, c.da, c.xs[t-1])
		n.gwh.RankOne(n.gwh, 1, c.da, c.hs[t-1])
		n.gbh.AddVec(n.gbh, c.da)

		c.dhPrev.MulVec(n.wh.T(), c.da)
		c.dh, c.dhPrev = c.dhPrev, c.dh
	}
}

func (n *network) zeroGrad() {
	for _, p := range n.params {
		for i := range p.grad {
			p.grad[i] = 0
		}
	}
}

// clipGradients rescales all gradients when their global L2 norm exceeds maxNorm
func (n *network) clipGradients(maxNorm float64) {
	var sumSq float64
	for _, p := range n.params {
		norm := floats.Norm(p.grad, 2)
		sumSq += norm * norm
	}
	total := math.Sqrt(sumSq)
	if total <= maxNorm || total == 0 {
		return
	}
	scale := maxNorm / total
	for _, p := range n.params {
		floats.Scale(scale, p.grad)
	}
}

// adamStep applies one Adam update from the accumulated gradients
func (n *network) adamStep(lr float64) {
	n.step++
	correction1 := 1 - math.Pow(adamBeta1, float64(n.step))
	correction2 := 1 - math.Pow(adamBeta2, float64(n.step))

	for _, p := range n.params {
		for i, g := range p.grad {
			p.m[i] = adamBeta1*p.m[i] + (1-adamBeta1)*g
			p.v[i] = adamBeta2*p.v[i] + (1-adamBeta2)*g*g
			mHat := p.m[i] / correction1
			vHat := p.v[i] / correction2
			p.value[i] -= lr * mHat / (math.Sqrt(vHat) + adamEpsilon)
		}
	}
}

func (n *network) finite() bool {
	for _, p := range n.params {
		if floats.HasNaN(p.value) {
			return false
		}
		for _, v := range p.value {
			if math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// epochMetrics are the per-epoch training and validation figures
type epochMetrics struct {
	Epoch   int
	Loss    float64
	MAE     float64
	ValLoss float64
	ValMAE  float64
}

// fitConfig controls one call to fit
type fitConfig struct {
	epochs          int
	batchSize       int
	validationSplit float64
	rng             *rand.Rand
	onEpoch         func(epochMetrics)
}

// fit trains the network in place with shuffled mini-batches. The trailing
// validationSplit fraction of the examples is held out before shuffling.
func (n *network) fit(ctx context.Context, examples []TrainingExample, cfg fitConfig) (epochMetrics, error) {
	valCount := int(float64(len(examples)) * cfg.validationSplit)
	trainCount := len(examples) - valCount
	if trainCount < 1 {
		return epochMetrics{}, fmt.Errorf("%w: no examples left for training", ErrInsufficientData)
	}
	train := examples[:trainCount]
	validation := examples[trainCount:]

	cache := n.newCache(SequenceLength)
	order := make([]int, trainCount)
	for i := range order {
		order[i] = i
	}

	var last epochMetrics
	for epoch := 0; epoch < cfg.epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}

		cfg.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var sumLoss, sumAbs float64
		for start := 0; start < trainCount; start += cfg.batchSize {
			end := min(start+cfg.batchSize, trainCount)
			batch := float64(end - start)

			n.zeroGrad()
			for _, idx := range order[start:end] {
				ex := &train[idx]
				y := n.forward(&ex.Sequence, cache)
				diff := y - ex.Target
				sumLoss += diff * diff
				sumAbs += math.Abs(diff)
				n.backward(2*diff/batch, cache)
			}
			n.clipGradients(gradClipNorm)
			n.adamStep(learningRate)
		}

		metrics := epochMetrics{
			Epoch: epoch + 1,
			Loss:  sumLoss / float64(trainCount),
			MAE:   sumAbs / float64(trainCount),
		}
		if len(validation) > 0 {
			metrics.ValLoss, metrics.ValMAE = n.evaluate(validation, cache)
		}

		if math.IsNaN(metrics.Loss) || math.IsInf(metrics.Loss, 0) || !n.finite() {
			return metrics, fmt.Errorf("epoch %d: %w", metrics.Epoch, errNonFiniteLoss)
		}

		last = metrics
		if cfg.onEpoch != nil {
			cfg.onEpoch(metrics)
		}
	}

	return last, nil
}

// evaluate returns MSE and MAE over the examples without touching gradients
func (n *network) evaluate(examples []TrainingExample, cache *forwardCache) (float64, float64) {
	var sumLoss, sumAbs float64
	for i := range examples {
		diff := n.forward(&examples[i].Sequence, cache) - examples[i].Target
		sumLoss += diff * diff
		sumAbs += math.Abs(diff)
	}
	count := float64(len(examples))
	return sumLoss / count, sumAbs / count
}

// ModelWeights is the persisted form of the network weights
type ModelWeights struct {
	SequenceLength int         `msgpack:"sequence_length"`
	InputSize      int         `msgpack:"input_size"`
	HiddenSize     int         `msgpack:"hidden_size"`
	DenseSize      int         `msgpack:"dense_size"`
	Weights        [][]float64 `msgpack:"weights"`
}

func (n *network) snapshot() ModelWeights {
	weights := make([][]float64, len(n.params))
	for i, p := range n.params {
		weights[i] = append([]float64(nil), p.value...)
	}
	return ModelWeights{
		SequenceLength: SequenceLength,
		InputSize:      n.inputSize,
		HiddenSize:     n.hiddenSize,
		DenseSize:      n.denseSize,
		Weights:        weights,
	}
}

// networkFromSnapshot rebuilds a network, rejecting snapshots whose input
// shape differs from the current constants or whose tensors are malformed.
func networkFromSnapshot(s ModelWeights) (*network, error) {
	if s.SequenceLength != SequenceLength || s.InputSize != FeatureCount {
		return nil, fmt.Errorf("%w: stored %dx%d, expected %dx%d",
			ErrIncompatibleModel, s.SequenceLength, s.InputSize, SequenceLength, FeatureCount)
	}
	if s.HiddenSize <= 0 || s.DenseSize <= 0 {
		return nil, fmt.Errorf("%w: invalid layer sizes %d/%d", ErrIncompatibleModel, s.HiddenSize, s.DenseSize)
	}

	n := newNetwork(s.InputSize, s.HiddenSize, s.DenseSize)
	if len(s.Weights) != len(n.params) {
		return nil, fmt.Errorf("%w: %d tensors, expected %d", ErrIncompatibleModel, len(s.Weights), len(n.params))
	}
	for i, p := range n.params {
		if len(s.Weights[i]) != len(p.value) {
			return nil, fmt.Errorf("%w: tensor %s has %d values, expected %d",
				ErrIncompatibleModel, p.name, len(s.Weights[i]), len(p.value))
		}
		copy(p.value, s.Weights[i])
	}
	if !n.finite() {
		return nil, fmt.Errorf("%w: non-finite weights", ErrIncompatibleModel)
	}
	return n, nil
}
