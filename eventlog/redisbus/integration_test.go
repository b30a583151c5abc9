package redisbus_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/runflow/engine/eventlog"
	"github.com/runflow/engine/eventlog/redisbus"
)

var testRedis *redis.Client

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	testRedis = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	if err := testRedis.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ping redis: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	_ = testRedis.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func uniqueRunID(t *testing.T) string {
	return fmt.Sprintf("run-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestAppendPersistsAndAssignsSeq(t *testing.T) {
	log, err := redisbus.New(testRedis)
	require.NoError(t, err)
	ctx := context.Background()
	runID := uniqueRunID(t)

	e1, err := log.Append(ctx, runID, eventlog.TypeRunStarted, json.RawMessage(`{}`))
	require.NoError(t, err)
	e2, err := log.Append(ctx, runID, eventlog.TypeNodeStarted, json.RawMessage(`{}`))
	require.NoError(t, err)

	assert.Equal(t, int64(1), e1.Seq)
	assert.Equal(t, int64(2), e2.Seq)

	history, err := log.History(ctx, runID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, eventlog.TypeRunStarted, history[0].Type)
	assert.Equal(t, eventlog.TypeNodeStarted, history[1].Type)
}

func TestSubscribeReplaysThenTails(t *testing.T) {
	log, err := redisbus.New(testRedis)
	require.NoError(t, err)
	ctx := context.Background()
	runID := uniqueRunID(t)

	_, err = log.Append(ctx, runID, eventlog.TypeRunStarted, json.RawMessage(`{}`))
	require.NoError(t, err)

	sub, err := log.Subscribe(ctx, runID, 0)
	require.NoError(t, err)
	defer sub.Close()

	e1, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e1.Seq)

	result := make(chan eventlog.Event, 1)
	go func() {
		e, err := sub.Next(context.Background())
		if err == nil {
			result <- e
		}
	}()

	_, err = log.Append(ctx, runID, eventlog.TypeRunCompleted, json.RawMessage(`{}`))
	require.NoError(t, err)

	select {
	case e := <-result:
		assert.Equal(t, int64(2), e.Seq)
		assert.Equal(t, eventlog.TypeRunCompleted, e.Type)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for live notification")
	}
}
