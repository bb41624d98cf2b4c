// Package testinfra starts throwaway Postgres and Redis containers for tests
package testinfra

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Postgres starts a PostgreSQL container and returns its connection URL.
// The test is skipped under -short or when no container runtime is available.
func Postgres(t *testing.T) string {
	t.Helper()
	container := start(t, testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "user",
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "sprout",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	})

	host, err := container.Host(context.Background())
	require.NoError(t, err)
	mapped, err := container.MappedPort(context.Background(), "5432")
	require.NoError(t, err)
	port, err := strconv.Atoi(mapped.Port())
	require.NoError(t, err)
	return fmt.Sprintf("postgres://user:password@%s:%d/sprout?sslmode=disable", host, port)
}

// Redis starts a Redis container and returns its host and port
func Redis(t *testing.T) (string, int) {
	t.Helper()
	container := start(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	})
	host, err := container.Host(context.Background())
	require.NoError(t, err)
	mapped, err := container.MappedPort(context.Background(), "6379")
	require.NoError(t, err)
	port, err := strconv.Atoi(mapped.Port())
	require.NoError(t, err)
	return host, port
}

func start(t *testing.T, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()
	if testing.Short() {
		t.Skip("container tests skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start %s", req.Image)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })
	return container
}
