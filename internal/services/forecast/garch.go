package forecast

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"FinFusion/internal/domain/models"
	"FinFusion/internal/domain/service"
)

var _ service.VolatilityModel = (*GARCH)(nil)

const (
	z95 = 1.96
	z99 = 2.58
)

// GARCH is a GARCH(1,1) model fit by Gaussian maximum likelihood.
type GARCH struct {
	minReturns    int
	maxIterations int
}

type GARCHOption func(*GARCH)

func WithMinReturns(n int) GARCHOption {
	return func(g *GARCH) {
		if n > 0 {
			g.minReturns = n
		}
	}
}

func WithMaxIterations(n int) GARCHOption {
	return func(g *GARCH) {
		if n > 0 {
			g.maxIterations = n
		}
	}
}

func NewGARCH(opts ...GARCHOption) *GARCH {
	g := &GARCH{minReturns: 50, maxIterations: 2000}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// params maps the unconstrained optimizer vector to (omega, alpha, beta).
// omega = exp(x0); alpha+beta = sigmoid(x1) < 1 split by sigmoid(x2).
func params(x []float64) (omega, alpha, beta float64) {
	omega = math.Exp(x[0])
	p := sigmoid(x[1])
	share := sigmoid(x[2])
	return omega, p * share, p * (1 - share)
}

func sigmoid(v float64) float64 { return 1 / (1 + math.Exp(-v)) }

func logit(p float64) float64 { return math.Log(p / (1 - p)) }

// variances runs the GARCH recursion seeded with the sample variance.
func variances(eps []float64, omega, alpha, beta, seed float64) []float64 {
	out := make([]float64, len(eps))
	prev := seed
	prevEps := 0.0
	for t := range eps {
		if t == 0 {
			out[t] = seed
		} else {
			out[t] = omega + alpha*prevEps*prevEps + beta*prev
		}
		prev, prevEps = out[t], eps[t]
	}
	return out
}

func negLogLikelihood(eps []float64, omega, alpha, beta, seed float64) float64 {
	var nll float64
	for t, s2 := range variances(eps, omega, alpha, beta, seed) {
		if s2 <= 0 || math.IsNaN(s2) || math.IsInf(s2, 0) {
			return math.MaxFloat64
		}
		nll += 0.5 * (math.Log(2*math.Pi) + math.Log(s2) + eps[t]*eps[t]/s2)
	}
	return nll
}

func (g *GARCH) Forecast(symbol string, returns []float64, horizon int) (models.VolatilityForecast, error) {
	if horizon <= 0 {
		return models.VolatilityForecast{}, fmt.Errorf("invalid horizon %d", horizon)
	}
	if len(returns) < g.minReturns {
		return models.VolatilityForecast{}, fmt.Errorf("garch: %d returns, need %d: %w", len(returns), g.minReturns, ErrInsufficientHistory)
	}

	mean, sd := stat.MeanStdDev(returns, nil)
	if sd == 0 || math.IsNaN(sd) {
		return models.VolatilityForecast{}, fmt.Errorf("garch: zero variance: %w", ErrNotConverged)
	}
	eps := make([]float64, len(returns))
	for i, r := range returns {
		eps[i] = r - mean
	}
	seed := sd * sd

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			omega, alpha, beta := params(x)
			return negLogLikelihood(eps, omega, alpha, beta, seed)
		},
	}
	x0 := []float64{math.Log(seed * 0.05), logit(0.95), logit(0.05 / 0.95)}
	settings := &optimize.Settings{
		MajorIterations: g.maxIterations,
		FuncEvaluations: g.maxIterations * 4,
	}

	res, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if res == nil || (err != nil && !limitReached(res.Status)) {
		return models.VolatilityForecast{}, fmt.Errorf("garch: optimize: %v: %w", err, ErrNotConverged)
	}

	omega, alpha, beta := params(res.X)
	ll := -res.F
	if math.IsNaN(ll) || math.IsInf(ll, 0) || res.F == math.MaxFloat64 {
		return models.VolatilityForecast{}, fmt.Errorf("garch: non-finite likelihood: %w", ErrNotConverged)
	}
	if alpha+beta >= 1 || omega <= 0 {
		return models.VolatilityForecast{}, fmt.Errorf("garch: omega=%g alpha+beta=%g: %w", omega, alpha+beta, ErrNotConverged)
	}

	s2 := variances(eps, omega, alpha, beta, seed)
	resid := make([]float64, len(eps))
	for i := range eps {
		resid[i] = eps[i] / math.Sqrt(s2[i])
	}
	residSD := stat.StdDev(resid, nil)
	n := math.Sqrt(float64(len(eps)))

	last := len(eps) - 1
	next := omega + alpha*eps[last]*eps[last] + beta*s2[last]

	out := models.VolatilityForecast{
		Symbol:     symbol,
		Horizon:    horizon,
		PerStepVol: make([]float64, horizon),
		Bands:      make([]models.VolatilityBand, horizon),
		Params: models.GARCHParams{
			Omega:         omega,
			Alpha:         alpha,
			Beta:          beta,
			Persistence:   alpha + beta,
			LogLikelihood: ll,
		},
		FittedAt: time.Now(),
	}
	for h := 0; h < horizon; h++ {
		if h > 0 {
			next = omega + (alpha+beta)*next
		}
		vol := math.Sqrt(next)
		out.PerStepVol[h] = vol
		out.Bands[h] = models.VolatilityBand{
			Lower95: math.Max(0, vol*(1-z95*residSD/n)),
			Upper95: vol * (1 + z95*residSD/n),
			Lower99: math.Max(0, vol*(1-z99*residSD/n)),
			Upper99: vol * (1 + z99*residSD/n),
		}
	}
	return out, nil
}

func limitReached(s optimize.Status) bool {
	return s == optimize.IterationLimit || s == optimize.FunctionEvaluationLimit
}
