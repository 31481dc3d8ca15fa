package config

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/correlator-io/retail-analytics/migrations"
)

const (
	occurrenceCount = 2
	startUpTimeOut  = 120 * time.Second
	kafkaImage      = "confluentinc/confluent-local:7.5.0"
)

type (
	// TestDatabase encapsulates test database resources for cleanup.
	TestDatabase struct {
		Container  *postgres.PostgresContainer
		Connection *sql.DB
		URL        string
	}

	// TestKafka encapsulates a single-node Kafka broker for integration tests.
	TestKafka struct {
		Container *kafka.KafkaContainer
		Brokers   []string
	}
)

// SetupTestDatabase creates a PostgreSQL container and applies the embedded migrations.
//
// Usage:
//
//	func TestWarehouse(t *testing.T) {
//		if testing.Short() {
//			t.Skip("skipping integration test in short mode")
//		}
//		ctx := context.Background()
//		testDB := config.SetupTestDatabase(ctx, t)
//		t.Cleanup(func() {
//			_ = testDB.Connection.Close()
//			_ = testcontainers.TerminateContainer(testDB.Container)
//		})
//	}
//
// Cleanup is the caller's responsibility using t.Cleanup().
func SetupTestDatabase(ctx context.Context, t *testing.T) *TestDatabase {
	t.Helper()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("retail_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(occurrenceCount).
				WithStartupTimeout(startUpTimeOut),
		),
	)
	require.NoError(t, err, "Failed to start postgres container")
	require.NotNil(t, pgContainer, "postgres container is nil")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	conn, err := sql.Open("postgres", connStr)
	require.NoError(t, err, "Failed to open database")

	if err := migrations.Up(ctx, conn, ""); err != nil {
		_ = conn.Close()
		_ = testcontainers.TerminateContainer(pgContainer)

		t.Fatalf("Failed to run migrations: %v", err)
	}

	return &TestDatabase{
		Container:  pgContainer,
		Connection: conn,
		URL:        connStr,
	}
}

// SetupTestKafka starts a single-node KRaft broker and returns its bootstrap addresses.
// Cleanup is the caller's responsibility using t.Cleanup().
func SetupTestKafka(ctx context.Context, t *testing.T) *TestKafka {
	t.Helper()

	container, err := kafka.Run(ctx, kafkaImage, kafka.WithClusterID("retail-test"))
	require.NoError(t, err, "Failed to start kafka container")

	brokers, err := container.Brokers(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(container)

		t.Fatalf("Failed to resolve kafka brokers: %v", err)
	}

	return &TestKafka{
		Container: container,
		Brokers:   brokers,
	}
}
