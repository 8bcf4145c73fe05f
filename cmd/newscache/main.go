// The newscache binary wires the cache engine together: article sources,
// an entry store backend, the refresh coordinator, the scheduler, and the
// HTTP read surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"

	"github.com/illmade-knight/go-newscache/pkg/archive"
	"github.com/illmade-knight/go-newscache/pkg/entrystore"
	"github.com/illmade-knight/go-newscache/pkg/microservice"
	"github.com/illmade-knight/go-newscache/pkg/news"
	"github.com/illmade-knight/go-newscache/pkg/refresh"
)

type appConfig struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort string `env:"HTTP_PORT" envDefault:":8080"`

	TopicsFile string `env:"TOPICS_FILE" envDefault:"topics.yaml"`

	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"1h"`
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" envDefault:"1h"`
	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`

	// CacheBackend selects the entry store: memory, redis or firestore.
	CacheBackend  string        `env:"CACHE_BACKEND" envDefault:"memory"`
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	ProjectID     string        `env:"GCP_PROJECT_ID"`
	Collection    string        `env:"FIRESTORE_COLLECTION" envDefault:"news-cache"`
	Credentials   string        `env:"GOOGLE_CREDENTIALS_FILE"`
	JanitorSweep  time.Duration `env:"MEMORY_JANITOR_SWEEP" envDefault:"10m"`

	NaverClientID     string `env:"NAVER_CLIENT_ID"`
	NaverClientSecret string `env:"NAVER_CLIENT_SECRET"`
	SourceMaxItems    int    `env:"SOURCE_MAX_ITEMS" envDefault:"12"`

	// ArchiveBucket enables GCS snapshot archiving when set.
	ArchiveBucket string `env:"ARCHIVE_BUCKET"`
	ArchivePrefix string `env:"ARCHIVE_PREFIX" envDefault:"news-snapshots"`

	// RefreshSubscriptionID enables the Pub/Sub refresh trigger when set.
	RefreshSubscriptionID string `env:"REFRESH_SUBSCRIPTION_ID"`
}

type topicsFile struct {
	Topics []refresh.Topic `yaml:"topics"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var cfg appConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	topics, err := loadTopics(cfg.TopicsFile)
	if err != nil {
		return err
	}
	logger.Info().Int("topics", len(topics)).Str("backend", cfg.CacheBackend).Msg("Configuration loaded.")

	var clientOpts []option.ClientOption
	if cfg.Credentials != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Credentials))
	}

	store, err := buildStore(ctx, &cfg, clientOpts, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sources, err := buildSources(&cfg, logger)
	if err != nil {
		return err
	}

	coordinator, err := refresh.NewCoordinator(refresh.CoordinatorConfig{
		TTL:          cfg.CacheTTL,
		FetchTimeout: cfg.FetchTimeout,
	}, sources, store, logger)
	if err != nil {
		return err
	}
	defer func() { _ = coordinator.Close() }()

	reader, err := refresh.NewReader(refresh.ReaderConfig{RequestTimeout: cfg.FetchTimeout}, store, coordinator, logger)
	if err != nil {
		return err
	}

	var archiver refresh.EntryArchiver
	if cfg.ArchiveBucket != "" {
		storageClient, err := storage.NewClient(ctx, clientOpts...)
		if err != nil {
			return fmt.Errorf("create storage client: %w", err)
		}
		defer func() { _ = storageClient.Close() }()
		gcsArchiver, err := archive.NewGCSArchiver(archive.NewGCSClientAdapter(storageClient), archive.GCSArchiverConfig{
			BucketName:   cfg.ArchiveBucket,
			ObjectPrefix: cfg.ArchivePrefix,
		}, logger)
		if err != nil {
			return err
		}
		defer func() { _ = gcsArchiver.Close() }()
		archiver = gcsArchiver
	}

	scheduler, err := refresh.NewScheduler(refresh.SchedulerConfig{Interval: cfg.RefreshInterval}, topics, coordinator, archiver, logger)
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	// Warm the cache so the first requests after startup do not all pay the
	// fallback-fetch latency.
	scheduler.TriggerAll(ctx)

	var trigger *refresh.PubsubTrigger
	if cfg.RefreshSubscriptionID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		defer func() { _ = pubsubClient.Close() }()
		trigger, err = refresh.NewPubsubTrigger(&refresh.PubsubTriggerConfig{
			SubscriptionID: cfg.RefreshSubscriptionID,
		}, pubsubClient, scheduler, logger)
		if err != nil {
			return err
		}
		if err := trigger.Start(ctx); err != nil {
			return err
		}
	}

	server := microservice.NewServer(logger, cfg.HTTPPort)
	microservice.RegisterNewsRoutes(server.Mux(), reader, topics, logger)
	if err := server.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown error.")
	}
	if trigger != nil {
		_ = trigger.Stop(shutdownCtx)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Scheduler shutdown error.")
	}
	return nil
}

// loadTopics reads the topic list from the YAML config file.
func loadTopics(path string) ([]refresh.Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topics file %s: %w", path, err)
	}
	var parsed topicsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse topics file %s: %w", path, err)
	}
	if len(parsed.Topics) == 0 {
		return nil, fmt.Errorf("topics file %s lists no topics", path)
	}
	return parsed.Topics, nil
}

// buildStore constructs the configured entry store backend.
func buildStore(ctx context.Context, cfg *appConfig, opts []option.ClientOption, logger zerolog.Logger) (entrystore.EntryStore, error) {
	switch cfg.CacheBackend {
	case "memory":
		return entrystore.NewInMemoryStore(cfg.JanitorSweep), nil
	case "redis":
		return entrystore.NewRedisStore(ctx, &entrystore.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
	case "firestore":
		client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("create firestore client: %w", err)
		}
		return entrystore.NewFirestoreStore(&entrystore.FirestoreConfig{
			ProjectID:      cfg.ProjectID,
			CollectionName: cfg.Collection,
		}, client, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend: %q (valid: memory, redis, firestore)", cfg.CacheBackend)
	}
}

// buildSources constructs the closed provider set selected by configuration.
// Google News is always on; Naver joins when credentials are supplied.
func buildSources(cfg *appConfig, logger zerolog.Logger) ([]news.ArticleSource, error) {
	sources := []news.ArticleSource{
		news.NewGoogleNewsSource(news.GoogleNewsConfig{MaxItems: cfg.SourceMaxItems}, logger),
	}
	if cfg.NaverClientID != "" && cfg.NaverClientSecret != "" {
		naver, err := news.NewNaverSource(news.NaverConfig{
			ClientID:     cfg.NaverClientID,
			ClientSecret: cfg.NaverClientSecret,
			MaxItems:     cfg.SourceMaxItems,
			Timeout:      cfg.FetchTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		// Naver first: the original deployment treats it as the primary
		// provider and merge order follows source order.
		sources = append([]news.ArticleSource{naver}, sources...)
	} else {
		logger.Warn().Msg("Naver credentials not set, running with Google News only.")
	}
	return sources, nil
}
