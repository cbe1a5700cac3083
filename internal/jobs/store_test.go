package jobs

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestRedis は Redis コンテナを起動してクライアントを返します。
func newTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping redis integration test in short mode")
	}
	if !isDockerAvailable() {
		t.Skip("Docker not available")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opt, err := goredis.ParseURL(uri)
	require.NoError(t, err)

	client := goredis.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func isDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.Client().Ping(ctx)
	return err == nil
}

func TestStoreLifecycle(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	store := NewStore(client, time.Minute)

	t.Run("missing record", func(t *testing.T) {
		record, err := store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, record)

		err = store.UpdateProgress(ctx, "missing", ProgressInfo{Percent: 10})
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("queued to done", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, &Record{
			JobID:     "job-1",
			Operation: "export",
			Status:    StatusQueued,
		}))

		require.NoError(t, store.MarkRunning(ctx, "job-1"))
		require.NoError(t, store.UpdateProgress(ctx, "job-1", ProgressInfo{Percent: 40, Stage: "render", Message: "2/5"}))

		record, err := store.Get(ctx, "job-1")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, StatusRunning, record.Status)
		assert.Equal(t, 40, record.Progress.Percent)
		assert.Equal(t, "2/5", record.Progress.Message)
		assert.False(t, record.ExpiresAt.IsZero())

		require.NoError(t, store.MarkDone(ctx, "job-1", "/api/jobs/job-1/download", map[string]any{"totalPages": 5}))
		record, err = store.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, StatusSucceeded, record.Status)
		assert.Equal(t, 100, record.Progress.Percent)
		assert.Equal(t, "/api/jobs/job-1/download", record.DownloadURL)
		assert.True(t, record.Status.Terminal())

		ttl, err := client.TTL(ctx, jobKey("job-1")).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
	})

	t.Run("failed keeps unit id", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, &Record{JobID: "job-2", Status: StatusRunning}))
		require.NoError(t, store.MarkFailed(ctx, "job-2", &ErrorInfo{Code: "PAGE_RENDER_FAILED", Message: "x", UnitID: "u-3"}))

		record, err := store.Get(ctx, "job-2")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, record.Status)
		require.NotNil(t, record.Error)
		assert.Equal(t, "u-3", record.Error.UnitID)
	})

	t.Run("concurrent progress updates", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, &Record{JobID: "job-3", Status: StatusRunning}))
		done := make(chan error, 8)
		for i := 0; i < 8; i++ {
			go func(p int) {
				done <- store.UpdateProgress(ctx, "job-3", ProgressInfo{Percent: p, Stage: "render"})
			}(i * 10)
		}
		for i := 0; i < 8; i++ {
			require.NoError(t, <-done)
		}
		record, err := store.Get(ctx, "job-3")
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, record.Status)
		assert.Equal(t, "render", record.Progress.Stage)
	})
}

func TestSubscriptionReceivesUpdates(t *testing.T) {
	client := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewStore(client, time.Minute)

	require.NoError(t, store.Upsert(ctx, &Record{JobID: "job-sse", Status: StatusQueued}))

	sub := newSubscription(ctx, store, "job-sse")
	require.NoError(t, sub.Err())
	defer sub.Close()

	require.NoError(t, store.MarkRunning(ctx, "job-sse"))
	require.NoError(t, store.MarkCanceled(ctx, "job-sse"))

	var statuses []Status
	timeout := time.After(5 * time.Second)
	for len(statuses) < 2 {
		select {
		case record, ok := <-sub.Records():
			require.True(t, ok)
			statuses = append(statuses, record.Status)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", statuses)
		}
	}
	assert.Equal(t, []Status{StatusRunning, StatusCanceled}, statuses)
}
