//go:build integration

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/store/storetest"
)

func TestRedisConformance(t *testing.T) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("docker/container runtime unavailable: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker/container runtime unavailable: %v", err)
	}
	defer func() { _ = ctr.Terminate(ctx) }()

	host, _ := ctr.Host(ctx)
	port, _ := ctr.MappedPort(ctx, "6379")
	s, err := Open(ctx, Config{Addr: fmt.Sprintf("%s:%s", host, port.Port()), Prefix: "it"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	storetest.Run(t, storetest.Harness{
		New: func(t *testing.T) storetest.Backend {
			if err := s.client.FlushDB(ctx).Err(); err != nil {
				t.Fatalf("flush: %v", err)
			}
			return s
		},
		TTL: 400 * time.Millisecond,
	})
}
