package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		EvaluateRPS     float64       `yaml:"evaluate_rps"`
		EvaluateBurst   float64       `yaml:"evaluate_burst"`
	} `yaml:"server"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		Output     string `yaml:"output"`
		TimeFormat string `yaml:"time_format"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`

	Symbols   []string `yaml:"symbols"`
	Exchanges struct {
		Binance ExchangeConfig `yaml:"binance"`
		Bybit   ExchangeConfig `yaml:"bybit"`
		OKX     ExchangeConfig `yaml:"okx"`
	} `yaml:"exchanges"`
	Supervisor struct {
		BackoffMin    time.Duration `yaml:"backoff_min"`
		BackoffMax    time.Duration `yaml:"backoff_max"`
		BackoffFactor float64       `yaml:"backoff_factor"`
		Jitter        float64       `yaml:"jitter"`
		OutputBuffer  int           `yaml:"output_buffer"`
	} `yaml:"supervisor"`
	Pipeline struct {
		Shards      int `yaml:"shards"`
		ShardBuffer int `yaml:"shard_buffer"`
		// MaxRPS conflates ticker and book updates per venue and symbol; 0 keeps all
		MaxRPS int `yaml:"max_rps"`
	} `yaml:"pipeline"`
	Aggregator struct {
		TradeBuffer           int           `yaml:"trade_buffer"`
		StaleAfter            time.Duration `yaml:"stale_after"`
		MinArbitrageSpreadPct float64       `yaml:"min_arbitrage_spread_pct"`
		SnapshotInterval      time.Duration `yaml:"snapshot_interval"`
	} `yaml:"aggregator"`
	Bars struct {
		Timeframes     []string `yaml:"timeframes"`
		Capacity       int      `yaml:"capacity"`
		BackfillLimit  int      `yaml:"backfill_limit"`
		BackfillSource string   `yaml:"backfill_source"` // none, clickhouse, binance
	} `yaml:"bars"`
	Indicators IndicatorConfig `yaml:"indicators"`
	Forecast   ForecastConfig  `yaml:"forecast"`
	Risk       RiskConfig      `yaml:"risk"`

	Kafka struct {
		Enabled        bool     `yaml:"enabled"`
		Brokers        []string `yaml:"brokers"`
		SignalsTopic   string   `yaml:"signals_topic"`
		ProposalsTopic string   `yaml:"proposals_topic"`
		MarketTopic    string   `yaml:"market_topic"`
		LogsTopic      string   `yaml:"logs_topic"`
		RequiredAcks   int      `yaml:"required_acks"`
		Compression    string   `yaml:"compression"`
		Producer       struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		Prefix   string        `yaml:"prefix"`
		TTL      time.Duration `yaml:"ttl"`
		Queue    struct {
			Enabled       bool          `yaml:"enabled"`
			Prefix        string        `yaml:"prefix"`
			Workers       int           `yaml:"workers"`
			RetryLimit    int           `yaml:"retry_limit"`
			RetryDelay    time.Duration `yaml:"retry_delay"`
			ProposalsList string        `yaml:"proposals_list"`
			ApprovedList  string        `yaml:"approved_list"`
		} `yaml:"queue"`
	} `yaml:"redis"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
		BarsTable        string        `yaml:"bars_table"`
	} `yaml:"clickhouse"`
	BinanceREST struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"binance_rest"`
}

type ExchangeConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	Depth        int           `yaml:"depth"`
	Buffer       int           `yaml:"buffer"`
}

type IndicatorConfig struct {
	RSIPeriod       int     `yaml:"rsi_period"`
	MACDFast        int     `yaml:"macd_fast"`
	MACDSlow        int     `yaml:"macd_slow"`
	MACDSignal      int     `yaml:"macd_signal"`
	EMAPeriods      []int   `yaml:"ema_periods"`
	BollingerPeriod int     `yaml:"bollinger_period"`
	BollingerK      float64 `yaml:"bollinger_k"`
	ATRPeriod       int     `yaml:"atr_period"`
	ADXPeriod       int     `yaml:"adx_period"`
	ADXStrong       float64 `yaml:"adx_strong"`
	ADXWeak         float64 `yaml:"adx_weak"`
	RegimeWindow    int     `yaml:"regime_window"`
	RegimeHigh      float64 `yaml:"regime_high"`
	RegimeElevated  float64 `yaml:"regime_elevated"`
	RegimeLow       float64 `yaml:"regime_low"`
}

type ForecastConfig struct {
	Timeframe     string        `yaml:"timeframe"`
	RefitInterval time.Duration `yaml:"refit_interval"`
	TTL           time.Duration `yaml:"ttl"`
	Horizon       int           `yaml:"horizon"`
	Workers       int           `yaml:"workers"`
	Bars          int           `yaml:"bars"`
	GARCH         struct {
		MinReturns    int `yaml:"min_returns"`
		MaxIterations int `yaml:"max_iterations"`
	} `yaml:"garch"`
	LSTM struct {
		Hidden       int     `yaml:"hidden"`
		SeqLen       int     `yaml:"seq_len"`
		Epochs       int     `yaml:"epochs"`
		LearningRate float64 `yaml:"learning_rate"`
		EvalWindows  int     `yaml:"eval_windows"`
		Seed         int64   `yaml:"seed"`
	} `yaml:"lstm"`
}

type RiskConfig struct {
	AccountBalance float64 `yaml:"account_balance"`
	RegimeRiskPct  struct {
		Low      float64 `yaml:"low"`
		Normal   float64 `yaml:"normal"`
		Elevated float64 `yaml:"elevated"`
		High     float64 `yaml:"high"`
	} `yaml:"regime_risk_pct"`
	SLATRMultiplier      float64   `yaml:"sl_atr_multiplier"`
	TPMultipliers        []float64 `yaml:"tp_multipliers"`
	MarginCeiling        float64   `yaml:"margin_ceiling"`
	PortfolioRiskBudget  float64   `yaml:"portfolio_risk_budget"`
	CorrelationThreshold float64   `yaml:"correlation_threshold"`
	CorrelationWindow    int       `yaml:"correlation_window"`
	MaxLeverage          float64   `yaml:"max_leverage"`
	QuantityStep         float64   `yaml:"quantity_step"`
	DailyLossLimit       float64   `yaml:"daily_loss_limit"`
	MaxDrawdown          float64   `yaml:"max_drawdown"`
	Timeframe            string    `yaml:"timeframe"`
	Trailing             struct {
		Method        string  `yaml:"method"` // atr, percent, parabolic
		ActivationATR float64 `yaml:"activation_atr"`
		ATRMult       float64 `yaml:"atr_mult"`
		Percent       float64 `yaml:"percent"`
		BreakevenATR  float64 `yaml:"breakeven_atr"`
	} `yaml:"trailing"`
}

// Default returns a configuration with every documented default filled in.
// Load unmarshals on top of it, so a YAML file only needs the keys it changes.
func Default() *Config {
	c := &Config{Environment: "development"}

	c.Server.Port = 8080
	c.Server.ReadTimeout = 10 * time.Second
	c.Server.WriteTimeout = 10 * time.Second
	c.Server.ShutdownTimeout = 15 * time.Second
	c.Server.EvaluateRPS = 5
	c.Server.EvaluateBurst = 10

	c.Log.Level = "info"
	c.Log.Format = "json"
	c.Log.Output = "stdout"

	c.Metrics.Enabled = true
	c.Metrics.Path = "/metrics"

	c.Symbols = []string{"BTC/USDT", "ETH/USDT"}
	c.Exchanges.Binance = ExchangeConfig{Enabled: true, URL: "wss://stream.binance.com:9443/stream", PingInterval: 3 * time.Minute, ReadTimeout: time.Minute, Depth: 10, Buffer: 1024}
	c.Exchanges.Bybit = ExchangeConfig{Enabled: true, URL: "wss://stream.bybit.com/v5/public/spot", PingInterval: 20 * time.Second, ReadTimeout: time.Minute, Depth: 10, Buffer: 1024}
	c.Exchanges.OKX = ExchangeConfig{Enabled: true, URL: "wss://ws.okx.com:8443/ws/v5/public", PingInterval: 25 * time.Second, ReadTimeout: time.Minute, Depth: 10, Buffer: 1024}

	c.Supervisor.BackoffMin = 500 * time.Millisecond
	c.Supervisor.BackoffMax = 30 * time.Second
	c.Supervisor.BackoffFactor = 2
	c.Supervisor.Jitter = 0.5
	c.Supervisor.OutputBuffer = 4096

	c.Pipeline.Shards = 8
	c.Pipeline.ShardBuffer = 1024

	c.Aggregator.TradeBuffer = 1000
	c.Aggregator.StaleAfter = 30 * time.Second
	c.Aggregator.MinArbitrageSpreadPct = 0.1
	c.Aggregator.SnapshotInterval = time.Second

	c.Bars.Timeframes = []string{"1m", "5m", "1h"}
	c.Bars.Capacity = 500
	c.Bars.BackfillLimit = 500
	c.Bars.BackfillSource = "none"

	c.Indicators = IndicatorConfig{
		RSIPeriod: 14, MACDFast: 12, MACDSlow: 26, MACDSignal: 9,
		EMAPeriods:      []int{9, 21, 50, 200},
		BollingerPeriod: 20, BollingerK: 2,
		ATRPeriod: 14, ADXPeriod: 14, ADXStrong: 25, ADXWeak: 20,
		RegimeWindow: 20, RegimeHigh: 1.5, RegimeElevated: 1.2, RegimeLow: 0.8,
	}

	c.Forecast.Timeframe = "1m"
	c.Forecast.RefitInterval = 5 * time.Minute
	c.Forecast.TTL = 15 * time.Minute
	c.Forecast.Horizon = 5
	c.Forecast.Workers = 4
	c.Forecast.Bars = 300
	c.Forecast.GARCH.MinReturns = 50
	c.Forecast.GARCH.MaxIterations = 2000
	c.Forecast.LSTM.Hidden = 8
	c.Forecast.LSTM.SeqLen = 60
	c.Forecast.LSTM.Epochs = 30
	c.Forecast.LSTM.LearningRate = 0.01
	c.Forecast.LSTM.EvalWindows = 20
	c.Forecast.LSTM.Seed = 7

	r := &c.Risk
	r.AccountBalance = 10000
	r.RegimeRiskPct.Low = 3
	r.RegimeRiskPct.Normal = 2
	r.RegimeRiskPct.Elevated = 1.5
	r.RegimeRiskPct.High = 1
	r.SLATRMultiplier = 2
	r.TPMultipliers = []float64{2, 3, 4}
	r.MarginCeiling = 0.8
	r.PortfolioRiskBudget = 0.06
	r.CorrelationThreshold = 0.7
	r.CorrelationWindow = 30
	r.MaxLeverage = 10
	r.QuantityStep = 0.0001
	r.DailyLossLimit = 0.05
	r.MaxDrawdown = 0.25
	r.Timeframe = "1h"
	r.Trailing.Method = "atr"
	r.Trailing.ActivationATR = 1
	r.Trailing.ATRMult = 1.5
	r.Trailing.Percent = 0.02
	r.Trailing.BreakevenATR = 1

	c.Kafka.Brokers = []string{"localhost:9092"}
	c.Kafka.SignalsTopic = "finfusion.signals"
	c.Kafka.ProposalsTopic = "finfusion.proposals"
	c.Kafka.LogsTopic = "finfusion.logs"
	c.Kafka.RequiredAcks = -1
	c.Kafka.Compression = "snappy"
	c.Kafka.Producer.MaxAttempts = 5
	c.Kafka.Producer.Linger = 10 * time.Millisecond
	c.Kafka.Producer.BatchBytes = 1 << 20
	c.Kafka.Producer.BatchSize = 100
	c.Kafka.Producer.WriteTimeout = 10 * time.Second
	c.Kafka.Producer.ReadTimeout = 10 * time.Second
	c.Kafka.Consumer.GroupID = "finfusion-gate"
	c.Kafka.Consumer.Workers = 4
	c.Kafka.Consumer.BufferSize = 256
	c.Kafka.Consumer.RetryMax = 3
	c.Kafka.Consumer.BackoffMin = 200 * time.Millisecond
	c.Kafka.Consumer.BackoffMax = 5 * time.Second
	c.Kafka.Consumer.MinBytes = 1
	c.Kafka.Consumer.MaxBytes = 10 << 20

	c.Redis.Addr = "localhost:6379"
	c.Redis.Prefix = "finfusion"
	c.Redis.TTL = time.Minute
	c.Redis.Queue.Prefix = "finfusion:queue"
	c.Redis.Queue.Workers = 2
	c.Redis.Queue.RetryLimit = 3
	c.Redis.Queue.RetryDelay = 10 * time.Second
	c.Redis.Queue.ProposalsList = "signal.proposed"
	c.Redis.Queue.ApprovedList = "signal.approved"

	c.ClickHouse.Host = "localhost"
	c.ClickHouse.Port = 9000
	c.ClickHouse.Database = "finfusion"
	c.ClickHouse.User = "default"
	c.ClickHouse.DialTimeout = 5 * time.Second
	c.ClickHouse.ReadTimeout = 30 * time.Second
	c.ClickHouse.MaxExecutionTime = 60 * time.Second
	c.ClickHouse.BarsTable = "bars"

	c.BinanceREST.BaseURL = "https://api.binance.com"
	c.BinanceREST.Timeout = 10 * time.Second

	return c
}

// Load reads and parses a YAML configuration file over Default().
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("FINFUSION_SYMBOLS"); v != "" {
		c.Symbols = splitList(v)
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var validTimeframes = map[string]bool{"1s": true, "1m": true, "5m": true, "15m": true, "1h": true, "4h": true}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols cannot be empty")
	}
	for _, s := range c.Symbols {
		if !strings.Contains(s, "/") {
			return fmt.Errorf("symbol %q must be BASE/QUOTE", s)
		}
	}
	if !c.Exchanges.Binance.Enabled && !c.Exchanges.Bybit.Enabled && !c.Exchanges.OKX.Enabled {
		return fmt.Errorf("at least one exchange must be enabled")
	}
	if c.Supervisor.BackoffMin <= 0 || c.Supervisor.BackoffMax < c.Supervisor.BackoffMin {
		return fmt.Errorf("supervisor backoff must satisfy 0 < backoff_min <= backoff_max")
	}
	if c.Pipeline.Shards <= 0 {
		return fmt.Errorf("pipeline.shards must be positive")
	}
	if len(c.Bars.Timeframes) == 0 {
		return fmt.Errorf("bars.timeframes cannot be empty")
	}
	for _, tf := range c.Bars.Timeframes {
		if !validTimeframes[tf] {
			return fmt.Errorf("bars.timeframes: unknown timeframe %q", tf)
		}
	}
	if !contains(c.Bars.Timeframes, c.Forecast.Timeframe) {
		return fmt.Errorf("forecast.timeframe %q must be one of bars.timeframes", c.Forecast.Timeframe)
	}
	if !contains(c.Bars.Timeframes, c.Risk.Timeframe) {
		return fmt.Errorf("risk.timeframe %q must be one of bars.timeframes", c.Risk.Timeframe)
	}
	if c.Redis.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("redis.queue requires redis.enabled")
	}
	if c.Bars.Capacity <= 0 {
		return fmt.Errorf("bars.capacity must be positive")
	}
	switch c.Bars.BackfillSource {
	case "none", "clickhouse", "binance":
	default:
		return fmt.Errorf("bars.backfill_source must be 'none', 'clickhouse' or 'binance', got '%s'", c.Bars.BackfillSource)
	}
	if c.Risk.AccountBalance <= 0 {
		return fmt.Errorf("risk.account_balance must be positive")
	}
	if c.Risk.SLATRMultiplier <= 0 {
		return fmt.Errorf("risk.sl_atr_multiplier must be positive")
	}
	if len(c.Risk.TPMultipliers) == 0 {
		return fmt.Errorf("risk.tp_multipliers cannot be empty")
	}
	if c.Risk.MarginCeiling <= 0 || c.Risk.MarginCeiling > 1 {
		return fmt.Errorf("risk.margin_ceiling must be in (0, 1]")
	}
	if c.Risk.PortfolioRiskBudget <= 0 || c.Risk.PortfolioRiskBudget > 1 {
		return fmt.Errorf("risk.portfolio_risk_budget must be in (0, 1]")
	}
	if c.Risk.MaxLeverage < 1 {
		return fmt.Errorf("risk.max_leverage must be >= 1")
	}
	switch c.Risk.Trailing.Method {
	case "atr", "percent", "parabolic":
	default:
		return fmt.Errorf("risk.trailing.method must be 'atr', 'percent' or 'parabolic', got '%s'", c.Risk.Trailing.Method)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
