package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	drepo "ChartFeed/internal/domain/repository"
	"ChartFeed/internal/handler/api"
	"ChartFeed/internal/handler/ws"
	internalrepo "ChartFeed/internal/repository"
	"ChartFeed/internal/service/ratelimit"
	"ChartFeed/internal/service/remote"
	"ChartFeed/internal/usecase"
	"ChartFeed/pkg/cache"
	pkgch "ChartFeed/pkg/clickhouse"
	"ChartFeed/pkg/config"
	xhttp "ChartFeed/pkg/http"
	pkgkafka "ChartFeed/pkg/kafka"
	applogger "ChartFeed/pkg/logger"
	"ChartFeed/pkg/metrics"
	"ChartFeed/pkg/queue"
	"ChartFeed/pkg/server"
)

// ProvideLogger builds the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
}

// ProvideRegistry returns the process-wide Prometheus registry.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) drepo.Metrics {
	return metrics.New(reg)
}

// ProvideRemoteClient creates the HTTP client of the remote candle store.
func ProvideRemoteClient(cfg *config.Config) *remote.Client {
	return remote.New(cfg.Remote.URL, cfg.Remote.Timeout)
}

// ProvideTileStore serves tiles from the remote API.
func ProvideTileStore(c *remote.Client) drepo.TileStore {
	return c
}

// ProvideClickHouseClient connects only when the clickhouse backend is
// selected; otherwise it returns nil.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Remote.Backend != "clickhouse" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	if cfg.ClickHouse.InitSchema {
		if err := client.InitSchema(ctx, internalrepo.CandlesSchema); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return client, nil
}

// ProvideCandlePager picks the paging backend.
func ProvideCandlePager(cfg *config.Config, c *remote.Client, ch *pkgch.Client, l *applogger.Logger) drepo.CandlePager {
	if ch != nil {
		return internalrepo.NewCHCandlePager(ch, cfg.ClickHouse.Table, l)
	}
	return c
}

// ProvideRedisStore connects the shared L2 when enabled; otherwise nil.
func ProvideRedisStore(cfg *config.Config) (*cache.RedisStore, error) {
	if !cfg.Cache.Redis.Enabled {
		return nil, nil
	}
	host, port, err := cfg.RedisHostPort()
	if err != nil {
		return nil, err
	}
	store, err := cache.NewRedisStore(
		cache.WithRedisHost(host),
		cache.WithRedisPort(port),
		cache.WithRedisPassword(cfg.Cache.Redis.Password),
		cache.WithRedisDB(cfg.Cache.Redis.DB),
		cache.WithRedisPrefix(cfg.Cache.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis store: %w", err)
	}
	return store, nil
}

// ProvideTileCache creates the shared tile cache.
func ProvideTileCache(cfg *config.Config, store drepo.TileStore, l2 *cache.RedisStore, l *applogger.Logger, m drepo.Metrics) *usecase.TileCache {
	opts := []usecase.TileCacheOption{
		usecase.WithMaxTiles(cfg.Cache.MaxTiles),
		usecase.WithFetchTimeout(cfg.Cache.FetchTimeout),
		usecase.WithTileCacheLogger(l),
		usecase.WithTileCacheMetrics(m),
	}
	if l2 != nil {
		opts = append(opts, usecase.WithL2(l2, cfg.Cache.Redis.TTL))
	}
	return usecase.NewTileCache(store, opts...)
}

func ProvideTilesUseCase(c *usecase.TileCache) *usecase.TilesUseCase {
	return usecase.NewTilesUseCase(c)
}

// ProvideKafkaProducer creates a producer when kafka is enabled; otherwise nil.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.Producer.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideEventPublisher publishes evictions to kafka, or drops them.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) drepo.EventPublisher {
	if producer == nil {
		return internalrepo.NopEventPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topics.Evictions)
}

func ProvideHub(l *applogger.Logger) *ws.Hub {
	return ws.NewHub(l)
}

// ProvideSessionManager wires eviction events to the socket hub and the
// event publisher.
func ProvideSessionManager(
	cfg *config.Config,
	pager drepo.CandlePager,
	hub *ws.Hub,
	pub drepo.EventPublisher,
	l *applogger.Logger,
	m drepo.Metrics,
) *usecase.SessionManager {
	return usecase.NewSessionManager(pager,
		usecase.WithSessionLogger(l),
		usecase.WithSessionMetrics(m),
		usecase.WithSessionListener(usecase.FanoutListener{hub, usecase.NewPublishingListener(pub, l)}),
		usecase.WithWindowDefaults(cfg.Window.Capacity, cfg.Window.BatchSize),
		usecase.WithWindowOptions(usecase.WithDebounce(cfg.Window.Debounce)),
	)
}

func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond)
}

// ProvideWarmQueue builds the redis job queue for tile warming; nil when
// disabled.
func ProvideWarmQueue(cfg *config.Config, l2 *cache.RedisStore, tc *usecase.TileCache, l *applogger.Logger) *queue.RedisQueue {
	if !cfg.Cache.Warm.Enabled || l2 == nil {
		return nil
	}
	q := queue.NewRedisQueue(l, l2.Client(), queue.Config{
		Workers:    cfg.Cache.Warm.Workers,
		RetryLimit: cfg.Cache.Warm.RetryLimit,
	}, queue.WithKeyPrefix(cfg.Cache.Redis.Prefix+":warm"))
	q.RegisterJob(usecase.NewWarmTilesJob(tc, l))
	return q
}

// ProvideFileUpdateHandler invalidates tiles on file update events.
func ProvideFileUpdateHandler(cfg *config.Config, tc *usecase.TileCache, q *queue.RedisQueue, l *applogger.Logger, m drepo.Metrics) *usecase.FileUpdateHandler {
	var opts []usecase.FileUpdateOption
	if q != nil {
		opts = append(opts, usecase.WithWarmQueue(q, cfg.Cache.Warm.Timeframes, cfg.Cache.Warm.Latest))
	}
	return usecase.NewFileUpdateHandler(cfg.Kafka.Topics.FileUpdates, tc, l, m, opts...)
}

// ProvideKafkaConsumer creates a consumer when kafka is enabled; otherwise nil.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideHTTPServer registers every handler on the shared echo server.
func ProvideHTTPServer(
	cfg *config.Config,
	l *applogger.Logger,
	reg *prometheus.Registry,
	tiles *usecase.TilesUseCase,
	sessions *usecase.SessionManager,
	rl *ratelimit.Limiter,
	hub *ws.Hub,
) (*xhttp.Server, error) {
	if err := api.Setup(reg); err != nil {
		return nil, fmt.Errorf("api setup: %w", err)
	}

	handlers := []xhttp.Handler{
		api.NewTilesEchoHandler(l, tiles),
		api.NewSessionsEchoHandler(l, sessions, rl, hub),
		ws.NewHandler(hub, sessions, l, cfg.Server.CORSOrigins),
	}
	return xhttp.NewServer(l, handlers,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
		xhttp.WithPrometheus(reg, reg),
	), nil
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	httpServer *xhttp.Server,
	rl *ratelimit.Limiter,
	consumer *pkgkafka.Consumer,
	fh *usecase.FileUpdateHandler,
	q *queue.RedisQueue,
	producer *pkgkafka.Producer,
	l2 *cache.RedisStore,
	ch *pkgch.Client,
) *server.App {
	opts := []server.Option{
		server.WithSweeper(server.Sweeper{
			Name:     "ratelimit",
			Interval: time.Minute,
			Run:      func() { rl.Sweep(cfg.RateLimit.IdleTTL) },
		}),
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer, fh))
	}
	if q != nil {
		opts = append(opts, server.WithQueue(q))
	}
	if producer != nil {
		opts = append(opts, server.WithCloser("kafka producer", producer))
	}
	if l2 != nil {
		opts = append(opts, server.WithCloser("redis", l2))
	}
	if ch != nil {
		opts = append(opts, server.WithCloser("clickhouse", ch))
	}
	return server.New(cfg, l, httpServer, opts...)
}
