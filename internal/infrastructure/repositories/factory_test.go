package repositories

import (
	"context"
	"testing"
	"time"

	"overlaycast/internal/infrastructure/repositories/memory"
	"overlaycast/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewRepositoryFactory_Memory(t *testing.T) {
	cfg := config.DefaultConfig()
	f, err := NewRepositoryFactory(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, config.BackendMemory, f.Backend())
	assert.NotEmpty(t, f.InstanceID())
	assert.IsType(t, &memory.MemoryEventRepository{}, f.EventRepository())
	assert.NoError(t, f.HealthCheck(context.Background()))
}

func TestNewRepositoryFactory_RedisUnreachableFallsBack(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = config.BackendRedis
	// reserved port, nothing listens there
	cfg.Redis.Address = "127.0.0.1:1"
	cfg.Storage.ConnectAttempts = 2
	cfg.Storage.ConnectBackoff = time.Millisecond

	f, err := NewRepositoryFactory(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, config.BackendMemory, f.Backend())
	assert.Nil(t, f.LockManager())
}
