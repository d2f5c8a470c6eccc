package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mediashop/api/internal/platform/cache"
	"github.com/mediashop/api/internal/platform/config"
	pfirestore "github.com/mediashop/api/internal/platform/firestore"
	"github.com/mediashop/api/internal/platform/idempotency"
	"github.com/mediashop/api/internal/platform/jobs"
	"github.com/mediashop/api/internal/platform/locking"
	"github.com/mediashop/api/internal/platform/secrets"
	platformstorage "github.com/mediashop/api/internal/platform/storage"
	"github.com/mediashop/api/internal/repositories"
	firestoreRepo "github.com/mediashop/api/internal/repositories/firestore"
	"github.com/mediashop/api/internal/repositories/memory"
	"github.com/mediashop/api/internal/services"
)

const (
	pubsubEmulatorEnv     = "PUBSUB_EMULATOR_HOST"
	secretHealthReference = "secret://system/healthz?version=latest"
)

// backends holds the infrastructure clients shared by the services. Optional pieces stay nil
// when their configuration is empty.
type backends struct {
	registry     repositories.Registry
	locker       locking.Locker
	idempotency  idempotency.Store
	productCache services.ProductCache
	events       services.OrderEventPublisher
	archive      services.CallbackArchive

	firestoreProvider *pfirestore.Provider
	firestoreClient   *firestore.Client
	redis             redis.UniversalClient
	pubsub            *pubsub.Client
	topic             *pubsub.Topic
	storage           *cloudstorage.Client
	archiveBucket     string
}

func openBackends(ctx context.Context, logger *zap.Logger, cfg config.Config) (*backends, error) {
	b := &backends{}
	if err := b.openStore(ctx, logger, cfg); err != nil {
		b.Close(logger)
		return nil, err
	}
	if err := b.openRedis(ctx, logger, cfg.Redis); err != nil {
		b.Close(logger)
		return nil, err
	}
	if err := b.openEvents(ctx, logger, cfg.PubSub); err != nil {
		b.Close(logger)
		return nil, err
	}
	if err := b.openArchive(ctx, logger, cfg.Storage); err != nil {
		b.Close(logger)
		return nil, err
	}
	return b, nil
}

func (b *backends) openStore(ctx context.Context, logger *zap.Logger, cfg config.Config) error {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		b.registry = memory.NewRegistry(memory.NewStore())
		b.idempotency = idempotency.NewMemoryStore()
		return nil
	case config.StoreDriverFirestore:
		var opts []pfirestore.ProviderOption
		if credentialsFile := strings.TrimSpace(cfg.Firebase.CredentialsFile); credentialsFile != "" {
			opts = append(opts, pfirestore.WithCredentialsFile(credentialsFile))
		}
		provider := pfirestore.NewProvider(cfg.Firestore, opts...)
		client, err := provider.Client(ctx)
		if err != nil {
			return fmt.Errorf("firestore client: %w", err)
		}
		b.firestoreProvider = provider
		b.firestoreClient = client
		registry, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			return fmt.Errorf("firestore registry: %w", err)
		}
		b.registry = registry
		b.idempotency = idempotency.NewFirestoreStore(client)
		return nil
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// openRedis switches locking, idempotency and product caching to Redis when an address is set.
func (b *backends) openRedis(ctx context.Context, logger *zap.Logger, cfg config.RedisConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		logger.Info("redis not configured; order locks are process local")
		b.locker = locking.NewKeyedMutex()
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping: %w", err)
	}
	b.redis = client

	locker, err := locking.NewRedisLocker(client,
		locking.WithLockTTL(cfg.LockTTL),
		locking.WithLockWait(cfg.LockWait),
		locking.WithKeyPrefix(cfg.KeyPrefix+":lock"),
	)
	if err != nil {
		return fmt.Errorf("redis locker: %w", err)
	}
	b.locker = locker
	b.idempotency = idempotency.NewRedisStore(client, cfg.KeyPrefix+":idem")

	productCache, err := cache.NewProductCache(client, cfg.KeyPrefix+":product", cfg.CacheTTL)
	if err != nil {
		return fmt.Errorf("product cache: %w", err)
	}
	b.productCache = productCache
	return nil
}

func (b *backends) openEvents(ctx context.Context, logger *zap.Logger, cfg config.PubSubConfig) error {
	if strings.TrimSpace(cfg.ProjectID) == "" || strings.TrimSpace(cfg.OrderEventsTopic) == "" {
		logger.Info("pubsub not configured; order events are not published")
		return nil
	}
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" && os.Getenv(pubsubEmulatorEnv) == "" {
		_ = os.Setenv(pubsubEmulatorEnv, host)
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client: %w", err)
	}
	b.pubsub = client
	b.topic = client.Topic(cfg.OrderEventsTopic)
	publisher, err := jobs.NewPubSubOrderEventPublisher(b.topic)
	if err != nil {
		return err
	}
	b.events = publisher
	return nil
}

func (b *backends) openArchive(ctx context.Context, logger *zap.Logger, cfg config.StorageConfig) error {
	bucket := strings.TrimSpace(cfg.CallbackArchiveBucket)
	if bucket == "" {
		logger.Info("callback archive bucket not configured; raw callbacks are not archived")
		return nil
	}
	client, err := cloudstorage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("storage client: %w", err)
	}
	b.storage = client
	b.archiveBucket = bucket
	writer, err := platformstorage.NewGCSWriter(client)
	if err != nil {
		return err
	}
	archive, err := platformstorage.NewCallbackArchive(writer, bucket)
	if err != nil {
		return err
	}
	b.archive = archive
	return nil
}

// Close flushes pending publishes and closes every opened client.
func (b *backends) Close(logger *zap.Logger) {
	if b == nil {
		return
	}
	if b.topic != nil {
		b.topic.Stop()
	}
	if b.pubsub != nil {
		if err := b.pubsub.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	if b.storage != nil {
		if err := b.storage.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}
	if b.firestoreProvider != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}
}

func newSystemService(b *backends, fetcher *secrets.Fetcher, build services.BuildInfo) (services.SystemService, error) {
	checks := make([]repositories.DependencyCheck, 0, 5)
	if b != nil && b.firestoreClient != nil {
		checks = append(checks, repositories.FirestoreCheck(b.firestoreClient))
	}
	if b != nil && b.redis != nil {
		checks = append(checks, repositories.RedisLockCheck(b.redis))
	}
	if b != nil && b.topic != nil {
		checks = append(checks, repositories.OrderEventsTopicCheck(b.topic))
	}
	if b != nil && b.storage != nil && b.archiveBucket != "" {
		checks = append(checks, repositories.CallbackArchiveCheck(b.storage.Bucket(b.archiveBucket)))
	}
	if fetcher != nil {
		checks = append(checks, repositories.SecretManagerCheck(fetcher, secretHealthReference))
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
	})
}
