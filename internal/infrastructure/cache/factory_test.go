package cache

import (
	"testing"

	"github.com/erp/backoffice/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyStoreFactory_CreateStore(t *testing.T) {
	t.Run("redis disabled uses memory", func(t *testing.T) {
		store, err := NewIdempotencyStoreFactory(config.RedisConfig{Enabled: false}).CreateStore()
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &InMemoryIdempotencyStore{}, store)
	})

	t.Run("redis enabled but unreachable falls back", func(t *testing.T) {
		store, err := NewIdempotencyStoreFactory(config.RedisConfig{Enabled: true, Host: "localhost", Port: 6379}).CreateStore()
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &InMemoryIdempotencyStore{}, store)
	})

	t.Run("fallback disabled returns an error", func(t *testing.T) {
		store, err := NewIdempotencyStoreFactory(
			config.RedisConfig{Enabled: true, Host: "localhost", Port: 6379},
			WithInMemoryFallback(false),
		).CreateStore()
		require.Error(t, err)
		assert.Nil(t, store)
	})
}
