package di

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"FinFusion/internal/domain/models"
	drepo "FinFusion/internal/domain/repository"
	"FinFusion/internal/handler/api"
	"FinFusion/internal/middleware"
	internalrepo "FinFusion/internal/repository"
	"FinFusion/internal/service/exchange"
	imetrics "FinFusion/internal/service/metrics"
	"FinFusion/internal/service/ratelimit"
	"FinFusion/internal/services/aggregator"
	"FinFusion/internal/services/bars"
	"FinFusion/internal/services/forecast"
	"FinFusion/internal/services/indicators"
	"FinFusion/internal/services/risk"
	"FinFusion/internal/usecase"
	"FinFusion/pkg/cache"
	pkgch "FinFusion/pkg/clickhouse"
	"FinFusion/pkg/config"
	xhttp "FinFusion/pkg/http"
	pkgkafka "FinFusion/pkg/kafka"
	"FinFusion/pkg/logger"
	"FinFusion/pkg/metrics"
	"FinFusion/pkg/queue"
	"FinFusion/pkg/server"
)

func noop() {}

// ProvideRegistry creates the process registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pkgkafka.SetMetricsRegisterer(reg)
	return reg
}

// ProvideMetrics creates the Prometheus recorder for the market pipeline.
func ProvideMetrics(reg *prometheus.Registry) drepo.Metrics {
	return metrics.NewWithRegisterer(reg)
}

func ProvideAPIMetrics(reg *prometheus.Registry) *imetrics.APIMetrics {
	return imetrics.NewAPIMetrics(reg)
}

// ProvideKafkaProducer returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, noop, nil
	}
	k := cfg.Kafka
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithClientID("finfusion"),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithMaxAttempts(k.Producer.MaxAttempts),
		pkgkafka.WithBatching(k.Producer.BatchSize, k.Producer.BatchBytes, k.Producer.Linger),
		pkgkafka.WithWriteTimeout(k.Producer.WriteTimeout),
		pkgkafka.WithAsync(k.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the process logger. With Kafka enabled, error lines
// are also aggregated and shipped to the logs topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, func(), error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if producer == nil || cfg.Kafka.LogsTopic == "" {
		return l, noop, nil
	}
	l.AddCollector(&logger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          cfg.Kafka.LogsTopic,
		Publisher:      internalrepo.NewKafkaLogPublisher(producer),
		PublishTimeout: 5 * time.Second,
	})
	return l, l.RemoveCollector, nil
}

// ProvideRedis connects to Redis when enabled and returns nil otherwise.
func ProvideRedis(cfg *config.Config) (*cache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, noop, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rc, err := cache.NewRedisCache(ctx,
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideCache uses Redis when connected and an in-process LRU otherwise.
func ProvideCache(rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(10000))
	}
	return rc
}

// ProvideQueue returns nil unless the Redis work queue is enabled. Jobs
// are registered by the app before it starts.
func ProvideQueue(cfg *config.Config, rc *cache.RedisCache, l *logger.Logger) *queue.Queue {
	qc := cfg.Redis.Queue
	if rc == nil || !qc.Enabled {
		return nil
	}
	return queue.NewRedisQueue(rc.Client(), l,
		queue.WithPrefix(qc.Prefix),
		queue.WithWorkers(qc.Workers),
		queue.WithRetry(qc.RetryLimit, qc.RetryDelay),
	)
}

func ProvideSnapshotStore(cfg *config.Config, c cache.Service) drepo.SnapshotStore {
	return internalrepo.NewCacheSnapshotStore(c, cfg.Redis.TTL)
}

// ProvideLimiter shares the signal budget across replicas through Redis
// when it is enabled.
func ProvideLimiter(cfg *config.Config, c cache.Service) ratelimit.Limiter {
	rps, burst := cfg.Server.EvaluateRPS, cfg.Server.EvaluateBurst
	if !cfg.Redis.Enabled || rps <= 0 {
		return ratelimit.NewTokenBucket(rps, burst)
	}
	window := time.Duration(math.Max(1, burst/rps) * float64(time.Second))
	return ratelimit.NewWindow(c, int64(math.Max(1, burst)), window)
}

func exchangeOptions(ec config.ExchangeConfig) []exchange.Option {
	opts := []exchange.Option{
		exchange.WithPingInterval(ec.PingInterval),
		exchange.WithReadTimeout(ec.ReadTimeout),
		exchange.WithDepth(ec.Depth),
		exchange.WithBuffer(ec.Buffer),
	}
	if ec.URL != "" {
		opts = append(opts, exchange.WithURL(ec.URL))
	}
	return opts
}

func ProvideAdapters(cfg *config.Config, m drepo.Metrics, l *logger.Logger) []drepo.FeedAdapter {
	var adapters []drepo.FeedAdapter
	if ec := cfg.Exchanges.Binance; ec.Enabled {
		adapters = append(adapters, exchange.NewBinance(m, l, exchangeOptions(ec)...))
	}
	if ec := cfg.Exchanges.Bybit; ec.Enabled {
		adapters = append(adapters, exchange.NewBybit(m, l, exchangeOptions(ec)...))
	}
	if ec := cfg.Exchanges.OKX; ec.Enabled {
		adapters = append(adapters, exchange.NewOKX(m, l, exchangeOptions(ec)...))
	}
	return adapters
}

func ProvideFeedSupervisor(cfg *config.Config, adapters []drepo.FeedAdapter, m drepo.Metrics, l *logger.Logger) *usecase.FeedSupervisor {
	s := cfg.Supervisor
	return usecase.NewFeedSupervisor(adapters, cfg.Symbols, m, l.With(logger.String("component", "supervisor")),
		usecase.WithBackoff(s.BackoffMin, s.BackoffMax, s.BackoffFactor, s.Jitter),
		usecase.WithOutputBuffer(s.OutputBuffer),
	)
}

func ProvideBarCache(cfg *config.Config) (*bars.Cache, error) {
	tfs := make([]models.Timeframe, 0, len(cfg.Bars.Timeframes))
	for _, raw := range cfg.Bars.Timeframes {
		tf, err := models.ParseTimeframe(raw)
		if err != nil {
			return nil, fmt.Errorf("bars: %w", err)
		}
		tfs = append(tfs, tf)
	}
	return bars.New(tfs, cfg.Bars.Capacity), nil
}

func ProvideAggregator(cfg *config.Config) *aggregator.Aggregator {
	return aggregator.New(
		aggregator.WithTradeBuffer(cfg.Aggregator.TradeBuffer),
		aggregator.WithStaleAfter(cfg.Aggregator.StaleAfter),
	)
}

func ProvideIndicatorConfig(cfg *config.Config) indicators.Config {
	ic := cfg.Indicators
	c := indicators.DefaultConfig()
	c.RSIPeriod = ic.RSIPeriod
	c.MACDFast, c.MACDSlow, c.MACDSignal = ic.MACDFast, ic.MACDSlow, ic.MACDSignal
	if len(ic.EMAPeriods) > 0 {
		c.EMAPeriods = ic.EMAPeriods
	}
	c.BollingerPeriod, c.BollingerK = ic.BollingerPeriod, ic.BollingerK
	c.ATRPeriod, c.ADXPeriod = ic.ATRPeriod, ic.ADXPeriod
	c.Thresholds = indicators.Thresholds{
		ADXStrong:      ic.ADXStrong,
		ADXWeak:        ic.ADXWeak,
		RegimeWindow:   ic.RegimeWindow,
		RegimeHigh:     ic.RegimeHigh,
		RegimeElevated: ic.RegimeElevated,
		RegimeLow:      ic.RegimeLow,
	}
	return c
}

func ProvideRiskConfig(cfg *config.Config, ic indicators.Config) (risk.Config, error) {
	rc := cfg.Risk
	c := risk.DefaultConfig()
	c.RegimeRiskPct = map[models.VolatilityRegime]float64{
		models.RegimeLow:      rc.RegimeRiskPct.Low,
		models.RegimeNormal:   rc.RegimeRiskPct.Normal,
		models.RegimeElevated: rc.RegimeRiskPct.Elevated,
		models.RegimeHigh:     rc.RegimeRiskPct.High,
	}
	c.ATRPeriod = ic.ATRPeriod
	c.SLATRMultiplier = rc.SLATRMultiplier
	c.TPMultipliers = rc.TPMultipliers
	c.MarginCeiling = rc.MarginCeiling
	c.PortfolioRiskBudget = rc.PortfolioRiskBudget
	c.CorrelationThreshold = rc.CorrelationThreshold
	c.CorrelationWindow = rc.CorrelationWindow
	c.MaxLeverage = rc.MaxLeverage
	c.QuantityStep = rc.QuantityStep
	c.DailyLossLimit = rc.DailyLossLimit
	c.MaxDrawdown = rc.MaxDrawdown
	c.Thresholds = ic.Thresholds

	tf, err := models.ParseTimeframe(rc.Timeframe)
	if err != nil {
		return risk.Config{}, fmt.Errorf("risk: %w", err)
	}
	c.Timeframe = tf

	switch m := risk.TrailingMethod(rc.Trailing.Method); m {
	case risk.TrailATR, risk.TrailPercent, risk.TrailParabolic:
		c.Trailing.Method = m
	default:
		return risk.Config{}, fmt.Errorf("risk: unknown trailing method %q", rc.Trailing.Method)
	}
	c.Trailing.ActivationATR = rc.Trailing.ActivationATR
	c.Trailing.ATRMult = rc.Trailing.ATRMult
	c.Trailing.Percent = rc.Trailing.Percent
	c.Trailing.BreakevenATR = rc.Trailing.BreakevenATR
	c.Trailing.SARStep, c.Trailing.SARMax = ic.SARStep, ic.SARMax
	return c, nil
}

func ProvidePortfolio(cfg *config.Config, rc risk.Config) *risk.Portfolio {
	return risk.NewPortfolio(cfg.Risk.AccountBalance, rc)
}

func ProvideGate(rc risk.Config, p *risk.Portfolio, bc *bars.Cache) *risk.Gate {
	return risk.NewGate(rc, p, bc)
}

func ProvideForecastEngine(cfg *config.Config, l *logger.Logger) *forecast.Engine {
	fc := cfg.Forecast
	vol := forecast.NewGARCH(
		forecast.WithMinReturns(fc.GARCH.MinReturns),
		forecast.WithMaxIterations(fc.GARCH.MaxIterations),
	)
	price := forecast.NewLSTM(
		forecast.WithHidden(fc.LSTM.Hidden),
		forecast.WithSeqLen(fc.LSTM.SeqLen),
		forecast.WithEpochs(fc.LSTM.Epochs),
		forecast.WithLearningRate(fc.LSTM.LearningRate),
		forecast.WithEvalWindows(fc.LSTM.EvalWindows),
		forecast.WithSeed(fc.LSTM.Seed),
	)
	return forecast.NewEngine(vol, price,
		forecast.WithHorizon(fc.Horizon),
		forecast.WithTTL(fc.TTL),
		forecast.WithLogger(l.With(logger.String("component", "forecast"))),
	)
}

// ProvideNotifier logs every approved signal and forwards it to Kafka and
// the Redis work queue when they are enabled.
func ProvideNotifier(cfg *config.Config, producer *pkgkafka.Producer, q *queue.Queue, l *logger.Logger) drepo.Notifier {
	sinks := internalrepo.MultiNotifier{internalrepo.NewLogNotifier(l)}
	if producer != nil && cfg.Kafka.SignalsTopic != "" {
		sinks = append(sinks, internalrepo.NewKafkaNotifier(producer, cfg.Kafka.SignalsTopic))
	}
	if q != nil && cfg.Redis.Queue.ApprovedList != "" {
		sinks = append(sinks, internalrepo.NewQueueNotifier(q, cfg.Redis.Queue.ApprovedList))
	}
	return internalrepo.ApprovedOnly(sinks)
}

// ProvideEventPublisher returns nil unless a market topic is configured.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) drepo.EventPublisher {
	if producer == nil || cfg.Kafka.MarketTopic == "" {
		return nil
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.MarketTopic, nil)
}

func ProvideMarketProcessor(cfg *config.Config, agg *aggregator.Aggregator, bc *bars.Cache, p *risk.Portfolio, rc risk.Config, pub drepo.EventPublisher, m drepo.Metrics, l *logger.Logger) *usecase.MarketProcessor {
	opts := []usecase.ProcessorOption{usecase.WithPositions(p, rc.Timeframe, 100)}
	if pub != nil {
		opts = append(opts, usecase.WithEventPublisher(pub, cfg.Kafka.Producer.BatchSize, time.Second, 4096))
	}
	return usecase.NewMarketProcessor(agg, bc, m, l.With(logger.String("component", "processor")), opts...)
}

func ProvidePipeline(cfg *config.Config, proc *usecase.MarketProcessor, m drepo.Metrics, l *logger.Logger) *middleware.RealtimePipeline {
	return middleware.NewRealtimePipeline(proc, m,
		middleware.WithShards(cfg.Pipeline.Shards),
		middleware.WithShardBuffer(cfg.Pipeline.ShardBuffer),
		middleware.WithMaxRPS(cfg.Pipeline.MaxRPS),
		middleware.WithLogger(l.With(logger.String("component", "pipeline"))),
	)
}

func ProvideSignalService(cfg *config.Config, gate *risk.Gate, p *risk.Portfolio, rc risk.Config, bc *bars.Cache, n drepo.Notifier, m drepo.Metrics, l *logger.Logger) *usecase.SignalService {
	return usecase.NewSignalService(gate, p, bc, n, rc.Timeframe, cfg.Bars.Capacity, m, l.With(logger.String("component", "signals")))
}

func ProvideMarketView(agg *aggregator.Aggregator, bc *bars.Cache, engine *forecast.Engine, sup *usecase.FeedSupervisor, ic indicators.Config) *usecase.MarketView {
	return usecase.NewMarketView(agg, bc, engine, sup, ic)
}

func ProvideForecastScheduler(cfg *config.Config, engine *forecast.Engine, bc *bars.Cache, store drepo.SnapshotStore, m drepo.Metrics, l *logger.Logger) (*usecase.ForecastScheduler, error) {
	tf, err := models.ParseTimeframe(cfg.Forecast.Timeframe)
	if err != nil {
		return nil, fmt.Errorf("forecast: %w", err)
	}
	return usecase.NewForecastScheduler(engine, bc, cfg.Symbols, tf, cfg.Forecast.Bars, m, l.With(logger.String("component", "scheduler")),
		usecase.WithRefitInterval(cfg.Forecast.RefitInterval),
		usecase.WithWorkers(cfg.Forecast.Workers),
		usecase.WithSnapshotStore(store),
	), nil
}

func ProvideSnapshotPublisher(cfg *config.Config, agg *aggregator.Aggregator, sup *usecase.FeedSupervisor, store drepo.SnapshotStore, m drepo.Metrics, l *logger.Logger) *usecase.SnapshotPublisher {
	return usecase.NewSnapshotPublisher(agg, sup, store, cfg.Aggregator.SnapshotInterval, m, l.With(logger.String("component", "snapshots")))
}

// ProvideBarProvider selects the backfill source; "none" yields nil.
func ProvideBarProvider(cfg *config.Config) (drepo.BarProvider, func(), error) {
	switch cfg.Bars.BackfillSource {
	case "", "none":
		return nil, noop, nil
	case "binance":
		client := xhttp.NewClient(
			xhttp.WithBaseURL(cfg.BinanceREST.BaseURL),
			xhttp.WithTimeout(cfg.BinanceREST.Timeout),
		)
		return internalrepo.NewBinanceBarProvider(client), noop, nil
	case "clickhouse":
		ch := cfg.ClickHouse
		ctx, cancel := context.WithTimeout(context.Background(), ch.DialTimeout+time.Second)
		defer cancel()
		client, err := pkgch.NewClient(ctx,
			pkgch.WithHost(ch.Host),
			pkgch.WithPort(ch.Port),
			pkgch.WithDatabase(ch.Database),
			pkgch.WithCredentials(ch.User, ch.Password),
			pkgch.WithMaxConnections(4, 2),
			pkgch.WithHTTP(ch.UseHTTP),
			pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
			pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse client: %w", err)
		}
		provider, err := internalrepo.NewClickHouseBarProvider(client, ch.BarsTable)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return provider, func() { _ = client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown backfill source %q", cfg.Bars.BackfillSource)
}

func ProvideBackfiller(cfg *config.Config, provider drepo.BarProvider, bc *bars.Cache, l *logger.Logger) *usecase.Backfiller {
	return usecase.NewBackfiller(provider, bc, cfg.Symbols, cfg.Bars.BackfillLimit, l.With(logger.String("component", "backfill")))
}

// ProvideConsumer returns nil unless Kafka is enabled with a proposals
// topic.
func ProvideConsumer(cfg *config.Config, svc *usecase.SignalService, m drepo.Metrics, l *logger.Logger) (*pkgkafka.Consumer, error) {
	k := cfg.Kafka
	if !k.Enabled || k.ProposalsTopic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l.With(logger.String("component", "consumer")),
		pkgkafka.WithConsumerBrokers(k.Brokers),
		pkgkafka.WithConsumerGroupID(k.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(k.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(k.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(k.Consumer.RetryMax, k.Consumer.BackoffMin, k.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(k.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(k.Consumer.MinBytes, k.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	if err := consumer.RegisterHandler(usecase.NewSignalProposalsHandler(k.ProposalsTopic, svc, m, l)); err != nil {
		return nil, err
	}
	consumer.SetHook(usecase.NewProposalsHook(time.Second, m, l))
	return consumer, nil
}

func ProvideHandlers(cfg *config.Config, view *usecase.MarketView, svc *usecase.SignalService, bc *bars.Cache, limiter ratelimit.Limiter, c cache.Service, am *imetrics.APIMetrics, l *logger.Logger) []xhttp.Handler {
	return []xhttp.Handler{
		api.NewMarketHandler(view, am, l, api.WithResponseCache(c, cfg.Aggregator.SnapshotInterval)),
		api.NewSignalsHandler(svc, bc, limiter, am, l),
	}
}

func ProvideHTTPServer(cfg *config.Config, handlers []xhttp.Handler, reg *prometheus.Registry, l *logger.Logger) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(true),
	}
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	opts = append(opts, xhttp.WithMetrics(path, reg, reg))
	return xhttp.NewServer(l.With(logger.String("component", "http")), handlers, opts...)
}

// ProvideApp assembles the process lifecycle: backfill first, then the
// feed, pipeline, schedulers, consumers and HTTP server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	backfill *usecase.Backfiller,
	sup *usecase.FeedSupervisor,
	pipe *middleware.RealtimePipeline,
	proc *usecase.MarketProcessor,
	sched *usecase.ForecastScheduler,
	snaps *usecase.SnapshotPublisher,
	consumer *pkgkafka.Consumer,
	q *queue.Queue,
	svc *usecase.SignalService,
	m drepo.Metrics,
	srv *xhttp.Server,
) *server.App {
	app := server.New(l, server.WithShutdownTimeout(cfg.Server.ShutdownTimeout))
	app.Setup("backfill", backfill.Run)
	app.Go("feeds", sup.Run)
	app.Go("pipeline", func(ctx context.Context) error { return pipe.Run(ctx, sup.Events()) })
	app.Go("event-publisher", proc.RunPublisher)
	app.Go("forecast", sched.Run)
	app.Go("snapshots", snaps.Run)
	if consumer != nil {
		app.Go("kafka-consumer", consumer.Run)
	}
	if q != nil {
		if topic := cfg.Redis.Queue.ProposalsList; topic != "" {
			app.Setup("redis-queue-jobs", func(context.Context) error {
				return q.Register(usecase.NewSignalProposalsHandler(topic, svc, m, l))
			})
		}
		app.Go("redis-queue", q.Run)
	}
	app.Go("http", srv.Run)
	return app
}
