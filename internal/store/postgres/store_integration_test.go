//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/store/storetest"
)

func TestPostgresConformance(t *testing.T) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("docker/container runtime unavailable: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "eventhub",
			"POSTGRES_DB":       "eventhub",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker/container runtime unavailable: %v", err)
	}
	defer func() { _ = ctr.Terminate(ctx) }()

	host, _ := ctr.Host(ctx)
	port, _ := ctr.MappedPort(ctx, "5432")
	dsn := fmt.Sprintf("postgres://postgres:eventhub@%s:%s/eventhub?sslmode=disable", host, port.Port())

	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	storetest.Run(t, storetest.Harness{
		New: func(t *testing.T) storetest.Backend {
			if _, err := s.pool.Exec(ctx, `TRUNCATE eventhub_checkpoints, eventhub_leases, eventhub_members`); err != nil {
				t.Fatalf("truncate: %v", err)
			}
			return s
		},
		TTL: 400 * time.Millisecond,
	})
}
