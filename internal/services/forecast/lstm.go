package forecast

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"FinFusion/internal/domain/models"
	"FinFusion/internal/domain/service"
)

var _ service.PriceModel = (*LSTM)(nil)

const (
	inputDim  = 2 // normalized log return, normalized log volume change
	clipNorm  = 5.0
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// LSTM is a single-layer LSTM regressor over bar returns and volume changes
// that predicts the next return.
type LSTM struct {
	hidden      int
	seqLen      int
	epochs      int
	lr          float64
	evalWindows int
	seed        int64
	batchSize   int
	maxSamples  int
}

type LSTMOption func(*LSTM)

func WithHidden(n int) LSTMOption       { return func(m *LSTM) { m.hidden = n } }
func WithSeqLen(n int) LSTMOption       { return func(m *LSTM) { m.seqLen = n } }
func WithEpochs(n int) LSTMOption       { return func(m *LSTM) { m.epochs = n } }
func WithLearningRate(v float64) LSTMOption {
	return func(m *LSTM) { m.lr = v }
}
func WithEvalWindows(n int) LSTMOption { return func(m *LSTM) { m.evalWindows = n } }
func WithSeed(s int64) LSTMOption      { return func(m *LSTM) { m.seed = s } }

// WithMaxSamples bounds training to the most recent n windows.
func WithMaxSamples(n int) LSTMOption { return func(m *LSTM) { m.maxSamples = n } }

func NewLSTM(opts ...LSTMOption) *LSTM {
	m := &LSTM{
		hidden:      8,
		seqLen:      60,
		epochs:      30,
		lr:          0.01,
		evalWindows: 20,
		seed:        7,
		batchSize:   32,
		maxSamples:  256,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MinBars is the history needed for one fit.
func (m *LSTM) MinBars() int { return m.seqLen + m.evalWindows + 1 }

type sample struct {
	start  int
	target float64
}

func (m *LSTM) Forecast(symbol string, bars []models.Bar, horizon int) (models.PriceForecast, error) {
	if horizon <= 0 {
		return models.PriceForecast{}, fmt.Errorf("invalid horizon %d", horizon)
	}
	if len(bars) < m.MinBars() {
		return models.PriceForecast{}, fmt.Errorf("lstm: %d bars, need %d: %w", len(bars), m.MinBars(), ErrInsufficientHistory)
	}

	feats, retMean, retSD := barFeatures(bars)

	samples := make([]sample, 0, len(feats)-m.seqLen)
	for s := 0; s+m.seqLen < len(feats); s++ {
		samples = append(samples, sample{start: s, target: feats[s+m.seqLen][0]})
	}
	train := samples
	if m.maxSamples > 0 && len(train) > m.maxSamples {
		train = train[len(train)-m.maxSamples:]
	}

	net := newNetwork(m.hidden, rand.New(rand.NewSource(m.seed)))
	opt := newAdam(len(net.theta), m.lr)

	initLoss := net.loss(feats, train, m.seqLen)
	if !finite(initLoss) {
		return models.PriceForecast{}, fmt.Errorf("lstm: initial loss %v: %w", initLoss, ErrNotConverged)
	}

	grad := make([]float64, len(net.theta))
	for epoch := 0; epoch < m.epochs; epoch++ {
		for b := 0; b < len(train); b += m.batchSize {
			end := min(b+m.batchSize, len(train))
			for i := range grad {
				grad[i] = 0
			}
			for _, s := range train[b:end] {
				net.backward(feats[s.start:s.start+m.seqLen], s.target, grad)
			}
			floats.Scale(1/float64(end-b), grad)
			if norm := floats.Norm(grad, 2); norm > clipNorm {
				floats.Scale(clipNorm/norm, grad)
			}
			opt.step(net.theta, grad)
		}
	}

	trainLoss := net.loss(feats, train, m.seqLen)
	if !finite(trainLoss) {
		return models.PriceForecast{}, fmt.Errorf("lstm: loss %v: %w", trainLoss, ErrNotConverged)
	}
	if trainLoss >= initLoss {
		return models.PriceForecast{}, fmt.Errorf("lstm: loss %.6f did not improve on %.6f: %w", trainLoss, initLoss, ErrNotConverged)
	}

	// dispersion of errors over the latest windows
	eval := samples[len(samples)-m.evalWindows:]
	errs := make([]float64, len(eval))
	actual := make([]float64, len(eval))
	for i, s := range eval {
		pred := net.predict(feats[s.start : s.start+m.seqLen])
		errs[i] = pred - s.target
		actual[i] = s.target
	}
	confidence := 0.0
	if sdActual := stat.StdDev(actual, nil); sdActual > 0 {
		confidence = clamp01(1 - stat.StdDev(errs, nil)/sdActual)
	}

	// roll the window forward with neutral volume
	window := make([][inputDim]float64, m.seqLen)
	copy(window, feats[len(feats)-m.seqLen:])
	last := bars[len(bars)-1].Close
	price := last
	path := make([]float64, horizon)
	for h := 0; h < horizon; h++ {
		next := net.predict(window)
		price *= math.Exp(next*retSD + retMean)
		path[h] = price
		window = append(window[1:], [inputDim]float64{next, 0})
	}

	return models.PriceForecast{
		Symbol:          symbol,
		Horizon:         horizon,
		LastPrice:       last,
		Path:            path,
		ConfidenceScore: confidence,
		Params: models.LSTMParams{
			Hidden:    m.hidden,
			SeqLen:    m.seqLen,
			Epochs:    m.epochs,
			InitLoss:  initLoss,
			TrainLoss: trainLoss,
		},
		FittedAt: time.Now(),
	}, nil
}

// barFeatures returns z-scored (log return, log volume change) pairs plus the
// return normalization.
func barFeatures(bars []models.Bar) ([][inputDim]float64, float64, float64) {
	n := len(bars) - 1
	rets := make([]float64, n)
	vols := make([]float64, n)
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Close > 0 && bars[i].Close > 0 {
			rets[i-1] = math.Log(bars[i].Close / bars[i-1].Close)
		}
		vols[i-1] = math.Log((bars[i].Volume + 1) / (bars[i-1].Volume + 1))
	}
	rm, rs := meanSD(rets)
	vm, vs := meanSD(vols)

	out := make([][inputDim]float64, n)
	for i := range out {
		out[i] = [inputDim]float64{(rets[i] - rm) / rs, (vols[i] - vm) / vs}
	}
	return out, rm, rs
}

func meanSD(x []float64) (float64, float64) {
	m, sd := stat.MeanStdDev(x, nil)
	if sd == 0 || math.IsNaN(sd) {
		sd = 1
	}
	return m, sd
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func clamp01(v float64) float64 { return math.Max(0, math.Min(1, v)) }

// network holds all trainable weights in theta:
// W (4H x (D+H)) | b (4H) | Wy (H) | by (1). Gate order is i, f, o, g.
type network struct {
	h     int
	theta []float64
	w     []float64
	b     []float64
	wy    []float64
	by    []float64
}

func newNetwork(hidden int, rng *rand.Rand) *network {
	cols := inputDim + hidden
	nw, nb := 4*hidden*cols, 4*hidden
	theta := make([]float64, nw+nb+hidden+1)
	n := &network{
		h:     hidden,
		theta: theta,
		w:     theta[:nw],
		b:     theta[nw : nw+nb],
		wy:    theta[nw+nb : nw+nb+hidden],
		by:    theta[nw+nb+hidden:],
	}
	scale := 1 / math.Sqrt(float64(hidden))
	for i := range n.w {
		n.w[i] = (rng.Float64()*2 - 1) * scale
	}
	for i := range n.wy {
		n.wy[i] = (rng.Float64()*2 - 1) * scale
	}
	for j := hidden; j < 2*hidden; j++ {
		n.b[j] = 1 // forget gate
	}
	return n
}

// step caches one timestep for backprop.
type step struct {
	in         []float64 // x concatenated with h_prev
	i, f, o, g []float64
	c, cPrev   []float64
	tanhC      []float64
}

func (n *network) forward(seq [][inputDim]float64) ([]step, []float64) {
	H := n.h
	cols := inputDim + H
	h := make([]float64, H)
	c := make([]float64, H)
	steps := make([]step, len(seq))
	for t, x := range seq {
		in := make([]float64, cols)
		in[0], in[1] = x[0], x[1]
		copy(in[inputDim:], h)

		s := step{
			in:    in,
			i:     make([]float64, H),
			f:     make([]float64, H),
			o:     make([]float64, H),
			g:     make([]float64, H),
			c:     make([]float64, H),
			cPrev: c,
			tanhC: make([]float64, H),
		}
		for k := 0; k < H; k++ {
			s.i[k] = sigmoid(floats.Dot(n.w[k*cols:(k+1)*cols], in) + n.b[k])
			s.f[k] = sigmoid(floats.Dot(n.w[(H+k)*cols:(H+k+1)*cols], in) + n.b[H+k])
			s.o[k] = sigmoid(floats.Dot(n.w[(2*H+k)*cols:(2*H+k+1)*cols], in) + n.b[2*H+k])
			s.g[k] = math.Tanh(floats.Dot(n.w[(3*H+k)*cols:(3*H+k+1)*cols], in) + n.b[3*H+k])
		}
		h = make([]float64, H)
		for k := 0; k < H; k++ {
			s.c[k] = s.f[k]*c[k] + s.i[k]*s.g[k]
			s.tanhC[k] = math.Tanh(s.c[k])
			h[k] = s.o[k] * s.tanhC[k]
		}
		c = s.c
		steps[t] = s
	}
	return steps, h
}

func (n *network) predict(seq [][inputDim]float64) float64 {
	_, h := n.forward(seq)
	return floats.Dot(n.wy, h) + n.by[0]
}

func (n *network) loss(feats [][inputDim]float64, samples []sample, seqLen int) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, s := range samples {
		d := n.predict(feats[s.start:s.start+seqLen]) - s.target
		sum += d * d
	}
	return sum / float64(len(samples))
}

// backward accumulates the squared-error gradient of one sequence into grad.
func (n *network) backward(seq [][inputDim]float64, target float64, grad []float64) {
	H := n.h
	cols := inputDim + H
	nw, nb := len(n.w), len(n.b)
	gw, gb := grad[:nw], grad[nw:nw+nb]
	gwy, gby := grad[nw+nb:nw+nb+H], grad[nw+nb+H:]

	steps, h := n.forward(seq)
	dy := 2 * (floats.Dot(n.wy, h) + n.by[0] - target)
	gby[0] += dy
	floats.AddScaled(gwy, dy, h)

	dh := make([]float64, H)
	floats.AddScaled(dh, dy, n.wy)
	dc := make([]float64, H)
	dz := make([]float64, 4*H)

	for t := len(steps) - 1; t >= 0; t-- {
		s := steps[t]
		for k := 0; k < H; k++ {
			do := dh[k] * s.tanhC[k]
			dc[k] += dh[k] * s.o[k] * (1 - s.tanhC[k]*s.tanhC[k])
			di := dc[k] * s.g[k]
			dg := dc[k] * s.i[k]
			df := dc[k] * s.cPrev[k]
			dz[k] = di * s.i[k] * (1 - s.i[k])
			dz[H+k] = df * s.f[k] * (1 - s.f[k])
			dz[2*H+k] = do * s.o[k] * (1 - s.o[k])
			dz[3*H+k] = dg * (1 - s.g[k]*s.g[k])
			dc[k] *= s.f[k]
		}

		dIn := make([]float64, cols)
		for r := 0; r < 4*H; r++ {
			row := n.w[r*cols : (r+1)*cols]
			floats.AddScaled(gw[r*cols:(r+1)*cols], dz[r], s.in)
			floats.AddScaled(dIn, dz[r], row)
			gb[r] += dz[r]
		}
		copy(dh, dIn[inputDim:])
	}
}

type adam struct {
	lr   float64
	m, v []float64
	t    int
}

func newAdam(n int, lr float64) *adam {
	return &adam{lr: lr, m: make([]float64, n), v: make([]float64, n)}
}

func (a *adam) step(theta, grad []float64) {
	a.t++
	c1 := 1 - math.Pow(adamBeta1, float64(a.t))
	c2 := 1 - math.Pow(adamBeta2, float64(a.t))
	for i, g := range grad {
		a.m[i] = adamBeta1*a.m[i] + (1-adamBeta1)*g
		a.v[i] = adamBeta2*a.v[i] + (1-adamBeta2)*g*g
		theta[i] -= a.lr * (a.m[i] / c1) / (math.Sqrt(a.v[i]/c2) + adamEps)
	}
}
