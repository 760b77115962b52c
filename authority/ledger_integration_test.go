//go:build integration

package authority

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Run with: go test -tags=integration -timeout 120s -run TestPostgresLedgerWithRealPostgres ./authority/...
func TestPostgresLedgerWithRealPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate postgres container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer pool.Close()

	ledger := NewPostgresLedger(pool)
	if err := ledger.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema error: %v", err)
	}
	// Idempotent.
	if err := ledger.EnsureSchema(ctx); err != nil {
		t.Fatalf("second EnsureSchema error: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)
	if err := ledger.Record(ctx, sampleSettlement("n1", base)); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if err := ledger.Record(ctx, sampleSettlement("n2", base.Add(time.Second))); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	dup := sampleSettlement("n1", base)
	dup.Transaction = "0xother"
	if err := ledger.Record(ctx, dup); !errors.Is(err, ErrDuplicateSettlement) {
		t.Fatalf("expected ErrDuplicateSettlement, got %v", err)
	}

	list, err := ledger.List(ctx, 10)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(list) != 2 || list[0].Nonce != "n2" || list[1].Nonce != "n1" {
		t.Fatalf("unexpected list %#v", list)
	}
	if !list[1].SettledAt.Equal(base) {
		t.Fatalf("expected settledAt %v, got %v", base, list[1].SettledAt)
	}
}
