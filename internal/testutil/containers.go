//go:build integration

// Package testutil starts throwaway backing services for integration tests.
// Each container is started once per test binary.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type container struct {
	once     sync.Once
	endpoint string
	err      error
}

var (
	postgres container
	mongo    container
	redis    container
)

func start(t *testing.T, c *container, image, port string, env map[string]string, waitFor ...wait.Strategy) string {
	t.Helper()
	c.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		opts := []testcontainers.ContainerCustomizer{
			testcontainers.WithExposedPorts(port),
			testcontainers.WithWaitStrategy(waitFor...),
		}
		if len(env) > 0 {
			opts = append(opts, testcontainers.WithEnv(env))
		}

		ctr, err := testcontainers.Run(ctx, image, opts...)
		if err != nil {
			c.err = err
			return
		}
		t.Cleanup(func() { testcontainers.CleanupContainer(t, ctr) })

		endpoint, err := ctr.Endpoint(ctx, "")
		if err != nil {
			_ = ctr.Terminate(context.Background())
			c.err = err
			return
		}
		c.endpoint = endpoint
	})
	if c.err != nil {
		t.Fatalf("start %s: %v", image, c.err)
	}
	return c.endpoint
}

// PostgresDSN returns a DSN for a running postgres:16 container.
func PostgresDSN(t *testing.T) string {
	endpoint := start(t, &postgres, "postgres:16", "5432/tcp",
		map[string]string{
			"POSTGRES_USER":     "coachd",
			"POSTGRES_PASSWORD": "coachd",
			"POSTGRES_DB":       "coachd_test",
		},
		wait.ForListeningPort("5432/tcp"),
		wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	)
	return fmt.Sprintf("postgres://coachd:coachd@%s/coachd_test?sslmode=disable", endpoint)
}

// MongoURI returns a URI for a running mongo:7 container.
func MongoURI(t *testing.T) string {
	endpoint := start(t, &mongo, "mongo:7", "27017/tcp", nil,
		wait.ForListeningPort("27017/tcp"),
		wait.ForLog("mongod startup complete"),
	)
	return "mongodb://" + endpoint
}

// RedisAddr returns host:port of a running redis container.
func RedisAddr(t *testing.T) string {
	return start(t, &redis, "redis:7", "6379/tcp", nil,
		wait.ForListeningPort("6379/tcp"),
		wait.ForLog("Ready to accept connections"),
	)
}
