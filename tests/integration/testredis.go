package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	redisContainer   testcontainers.Container
	redisContainerMu sync.Mutex
	redisAddr        string
)

// NewTestRedis returns a client on a package-wide Redis container with an empty
// keyspace. The client is closed on test cleanup.
func NewTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	redisContainerMu.Lock()
	defer redisContainerMu.Unlock()

	ctx := context.Background()
	if redisContainer == nil {
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
			},
			Started: true,
		})
		require.NoError(t, err, "Failed to start Redis container")

		endpoint, err := container.Endpoint(ctx, "")
		require.NoError(t, err, "Failed to get Redis endpoint")
		redisContainer = container
		redisAddr = endpoint
	}

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	require.NoError(t, client.FlushAll(ctx).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// CleanupRedisContainer terminates the shared Redis container. Called from TestMain.
func CleanupRedisContainer() {
	redisContainerMu.Lock()
	defer redisContainerMu.Unlock()

	if redisContainer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = redisContainer.Terminate(ctx)
		redisContainer = nil
		redisAddr = ""
	}
}
