package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type builderFunc func(ctx context.Context, task BuildTask) error

func (f builderFunc) Build(ctx context.Context, task BuildTask) error { return f(ctx, task) }

func TestWorkerPool_DispatchRunsBuilder(t *testing.T) {
	var (
		mu    sync.Mutex
		built []string
	)
	done := make(chan struct{}, 2)
	builder := builderFunc(func(_ context.Context, task BuildTask) error {
		mu.Lock()
		built = append(built, task.IndexID)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	pool := NewWorkerPool("test", 2, 10, builder, nil)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.NoError(t, pool.Dispatch(context.Background(), BuildTask{IndexID: "idx-1"}))
	require.NoError(t, pool.Dispatch(context.Background(), BuildTask{IndexID: "idx-2"}))

	for range 2 {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("builder was not called")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"idx-1", "idx-2"}, built)
}

func TestWorkerPool_FailureHandler(t *testing.T) {
	failed := make(chan BuildTask, 1)
	builder := builderFunc(func(context.Context, BuildTask) error { return errors.New("builder down") })
	pool := NewWorkerPool("test", 1, 1, builder, func(_ context.Context, task BuildTask, err error) {
		assert.EqualError(t, err, "builder down")
		failed <- task
	})
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.NoError(t, pool.Dispatch(context.Background(), BuildTask{IndexID: "idx-9"}))
	select {
	case task := <-failed:
		assert.Equal(t, "idx-9", task.IndexID)
	case <-time.After(2 * time.Second):
		t.Fatal("failure handler was not called")
	}

	require.Eventually(t, func() bool {
		h := pool.Health()
		return len(h.WorkerStats) == 1 && h.WorkerStats[0].TasksFailed == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerPool_QueueFullAndStopped(t *testing.T) {
	// Not started: nothing drains the queue.
	pool := NewWorkerPool("test", 1, 1, builderFunc(func(context.Context, BuildTask) error { return nil }), nil)

	require.NoError(t, pool.Dispatch(context.Background(), BuildTask{IndexID: "a"}))
	assert.ErrorIs(t, pool.Dispatch(context.Background(), BuildTask{IndexID: "b"}), ErrQueueFull)

	pool.Stop()
	assert.NotPanics(t, pool.Stop)
	assert.ErrorIs(t, pool.Dispatch(context.Background(), BuildTask{IndexID: "c"}), ErrStopped)
	assert.False(t, pool.Health().IsHealthy)
}

func TestWorkerPool_StartTwice(t *testing.T) {
	pool := NewWorkerPool("test", 2, 1, builderFunc(func(context.Context, BuildTask) error { return nil }), nil)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	h := pool.Health()
	assert.True(t, h.IsHealthy)
	assert.Equal(t, 2, h.TotalWorkers)
	assert.Equal(t, 1, h.QueueSize)
}

func TestHTTPBuilder(t *testing.T) {
	t.Run("posts task", func(t *testing.T) {
		var got BuildTask
		var raw map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/build-index", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &got))
			require.NoError(t, json.Unmarshal(body, &raw))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		b := NewHTTPBuilder(srv.URL+"/", time.Second)
		err := b.Build(context.Background(), BuildTask{OrganizationID: "org-1", IndexID: "idx-1", BuildID: "b-1", DataSources: []string{"Slack"}})
		require.NoError(t, err)
		assert.Equal(t, "org-1", got.OrganizationID)
		assert.Equal(t, "b-1", raw["buildId"], "builder echoes buildId in its reports")
		assert.Equal(t, []string{"Slack"}, got.DataSources)
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no capacity", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		err := NewHTTPBuilder(srv.URL, time.Second).Build(context.Background(), BuildTask{})
		assert.ErrorContains(t, err, "builder returned 503: no capacity")
	})
}

type fakePusher struct {
	key    string
	values []any
	err    error
}

func (f *fakePusher) LPush(_ context.Context, key string, values ...any) *redis.IntCmd {
	f.key = key
	f.values = append(f.values, values...)
	return redis.NewIntResult(int64(len(f.values)), f.err)
}

func TestRedisDispatcher(t *testing.T) {
	pusher := &fakePusher{}
	d := NewRedisDispatcher(pusher, "merlinn:index:builds")

	err := d.Dispatch(context.Background(), BuildTask{IndexID: "idx-1", DataSources: []string{"Jira"}})
	require.NoError(t, err)
	assert.Equal(t, "merlinn:index:builds", pusher.key)
	require.Len(t, pusher.values, 1)

	var task BuildTask
	require.NoError(t, json.Unmarshal(pusher.values[0].([]byte), &task))
	assert.Equal(t, "idx-1", task.IndexID)

	pusher.err = errors.New("READONLY")
	assert.ErrorContains(t, d.Dispatch(context.Background(), BuildTask{}), "READONLY")
}
