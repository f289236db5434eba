package indicators

// Config holds indicator periods and classification thresholds.
type Config struct {
	RSIPeriod       int
	MACDFast        int
	MACDSlow        int
	MACDSignal      int
	EMAPeriods      []int
	BollingerPeriod int
	BollingerK      float64
	ATRPeriod       int
	ADXPeriod       int
	SARStep         float64
	SARMax          float64
	Thresholds      Thresholds
}

// Thresholds drive Classify.
type Thresholds struct {
	ADXStrong      float64
	ADXWeak        float64
	RegimeWindow   int
	RegimeHigh     float64
	RegimeElevated float64
	RegimeLow      float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{ADXStrong: 25, ADXWeak: 20, RegimeWindow: 20, RegimeHigh: 1.5, RegimeElevated: 1.2, RegimeLow: 0.8}
}

func DefaultConfig() Config {
	return Config{
		RSIPeriod:       14,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
		EMAPeriods:      []int{9, 21, 50, 200},
		BollingerPeriod: 20,
		BollingerK:      2,
		ATRPeriod:       14,
		ADXPeriod:       14,
		SARStep:         0.02,
		SARMax:          0.2,
		Thresholds:      DefaultThresholds(),
	}
}
