package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hiveagent/warden/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container and returns its native address.
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return container, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(Options{Addr: addr})
	require.NoError(t, err)
	defer func() { require.NoError(t, sink.Close()) }()

	start := history.NewEvent(history.EventStart, "hive_agent-retrieval")
	start.PID = 777
	start.Port = 6005
	require.NoError(t, sink.Send(ctx, start))

	failed := history.NewEvent(history.EventLaunchFailed, "hive_agent-retrieval")
	failed.Message = "executable missing"
	require.NoError(t, sink.Send(ctx, failed))

	var count uint64
	require.NoError(t, sink.conn.QueryRow(ctx,
		"SELECT COUNT(*) FROM service_history WHERE service = ?", "hive_agent-retrieval").Scan(&count))
	assert.Equal(t, uint64(2), count)
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	if testing.Short() {
		t.Skip("dials a non-existent host")
	}
	_, err := New(Options{Addr: "invalid-host:9000"})
	assert.Error(t, err)
}
