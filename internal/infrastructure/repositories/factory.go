package repositories

import (
	"context"
	"time"

	"overlaycast/internal/core/ports"
	"overlaycast/internal/infrastructure/distributed"
	firestorerepo "overlaycast/internal/infrastructure/repositories/firestore"
	"overlaycast/internal/infrastructure/repositories/memory"
	redisrepo "overlaycast/internal/infrastructure/repositories/redis"
	"overlaycast/pkg/config"
	locks "overlaycast/pkg/distributed"
	"overlaycast/pkg/retry"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory picks the event store backend. When the configured
// backend cannot be reached it falls back to memory.
type RepositoryFactory struct {
	backend    string
	instanceID string
	events     ports.EventRepository
	locks      *locks.LockManager
	logger     *zap.SugaredLogger
}

// NewRepositoryFactory connects the configured backend.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		backend:    config.BackendMemory,
		instanceID: uuid.NewString(),
		logger:     logger,
	}

	connect := retry.DefaultConfig()
	connect.MaxAttempts = cfg.Storage.ConnectAttempts
	connect.InitialDelay = cfg.Storage.ConnectBackoff
	connect.MaxDelay = 10 * time.Second

	switch cfg.Storage.Backend {
	case config.BackendRedis:
		client, err := retry.RetryWithResult(ctx, connect, func(ctx context.Context) (*redis.Client, error) {
			return redisrepo.NewRedisClient(redisrepo.ClientOptions{
				Address:  cfg.Redis.Address,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				PoolSize: cfg.Redis.PoolSize,
				Prefix:   cfg.Redis.Prefix,
			}, logger)
		})
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			break
		}
		bus := distributed.NewEventBus(client, factory.instanceID, cfg.Redis.Prefix, logger)
		factory.events = redisrepo.NewRedisEventRepository(client, bus, cfg.Redis.Prefix, logger)
		factory.locks = locks.NewLockManager(client, cfg.Redis.Prefix+"lock:")
		factory.backend = config.BackendRedis

	case config.BackendFirestore:
		client, err := retry.RetryWithResult(ctx, connect, func(ctx context.Context) (*gcfirestore.Client, error) {
			return firestorerepo.NewFirestoreClient(ctx, firestorerepo.ClientOptions{
				ProjectID:         cfg.Firestore.ProjectID,
				CredentialsFile:   cfg.Firestore.CredentialsFile,
				CredentialsBase64: cfg.Firestore.CredentialsBase64,
			}, logger)
		})
		if err != nil {
			logger.Warnw("failed to initialize Firestore, falling back to memory repositories",
				"error", err,
			)
			break
		}
		factory.events = firestorerepo.NewFirestoreEventRepository(client, cfg.Firestore.Collection, logger)
		factory.backend = config.BackendFirestore
	}

	if factory.events == nil {
		factory.events = memory.NewMemoryEventRepository()
	}
	logger.Infow("event repository ready",
		"backend", factory.backend,
		"instance_id", factory.instanceID,
	)

	return factory, nil
}

// Backend reports the backend actually in use.
func (f *RepositoryFactory) Backend() string {
	return f.backend
}

func (f *RepositoryFactory) InstanceID() string {
	return f.instanceID
}

// LockManager returns cross-instance locks, or nil when the backend is not
// shared through Redis.
func (f *RepositoryFactory) LockManager() *locks.LockManager {
	return f.locks
}

func (f *RepositoryFactory) EventRepository() ports.EventRepository {
	return f.events
}

func (f *RepositoryFactory) Close() error {
	return f.events.Close()
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	return f.events.HealthCheck(ctx)
}
