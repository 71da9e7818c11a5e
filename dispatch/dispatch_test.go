package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/chorus/jobs/errors"
)

type recordingBackend struct {
	mu   sync.Mutex
	reqs []Request
	err  error
}

func (b *recordingBackend) Submit(_ context.Context, req Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.reqs = append(b.reqs, req)
	return nil
}

func (b *recordingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reqs)
}

func TestKey(t *testing.T) {
	key := Key("JobPlan.run", "42")
	assert.Equal(t, "JobPlan.run:42", key)

	prefix, id, ok := SplitKey(key)
	require.True(t, ok)
	assert.Equal(t, "JobPlan.run", prefix)
	assert.Equal(t, "42", id)
}

func TestEnqueueIfNotQueued_StateMachine(t *testing.T) {
	backend := &recordingBackend{}
	d := New(backend, nil, nil)
	ctx := context.Background()
	key := Key("JobPlan.run", "1")

	assert.Equal(t, Idle, d.StateOf(key))

	queued, err := d.EnqueueIfNotQueued(ctx, key, "plan.run", map[string]string{"plan_id": "1"})
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Equal(t, Queued, d.StateOf(key))

	queued, err = d.EnqueueIfNotQueued(ctx, key, "plan.run", map[string]string{"plan_id": "1"})
	require.NoError(t, err)
	assert.False(t, queued, "second enqueue while queued is a no-op")
	assert.Equal(t, 1, backend.count())

	d.MarkStarted(key)
	assert.Equal(t, Idle, d.StateOf(key))

	queued, err = d.EnqueueIfNotQueued(ctx, key, "plan.run", nil)
	require.NoError(t, err)
	assert.True(t, queued, "key is free again once execution started")
	assert.Equal(t, 2, backend.count())

	assert.JSONEq(t, `{"plan_id":"1"}`, string(backend.reqs[0].Payload))
	assert.JSONEq(t, `{}`, string(backend.reqs[1].Payload))

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Accepted)
	assert.Equal(t, uint64(1), stats.Absorbed)
	assert.Equal(t, uint64(1), stats.Started)
}

func TestEnqueueIfNotQueued_DistinctKeys(t *testing.T) {
	backend := &recordingBackend{}
	d := New(backend, nil, nil)

	for _, id := range []string{"1", "2", "3"} {
		queued, err := d.EnqueueIfNotQueued(context.Background(), Key("JobPlan.run", id), "plan.run", nil)
		require.NoError(t, err)
		assert.True(t, queued)
	}
	assert.Equal(t, 3, backend.count())
}

func TestEnqueueIfNotQueued_Concurrent(t *testing.T) {
	var submits atomic.Int32
	backend := BackendFunc(func(context.Context, Request) error {
		submits.Add(1)
		return nil
	})
	d := New(backend, nil, nil)

	const callers = 64
	var wg sync.WaitGroup
	var accepted atomic.Int32
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := d.EnqueueIfNotQueued(context.Background(), "DataSource.refresh:7", "data_source.refresh", nil)
			assert.NoError(t, err)
			if ok {
				accepted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(1), submits.Load())
}

func TestEnqueueIfNotQueued_BackendFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	backend := &recordingBackend{err: errors.New("connection refused")}
	d := New(backend, nil, zap.New(core).Sugar())
	key := Key("JobPlan.run", "5")

	queued, err := d.EnqueueIfNotQueued(context.Background(), key, "plan.run", nil)
	require.Error(t, err)
	assert.False(t, queued)
	assert.True(t, errors.IsRetryable(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, Idle, d.StateOf(key), "failed enqueue must not leave the key queued")
	assert.Equal(t, 1, logs.FilterMessage("Dispatch failed, key released").Len())

	backend.err = nil
	queued, err = d.EnqueueIfNotQueued(context.Background(), key, "plan.run", nil)
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestEnqueueIfNotQueued_InvalidInput(t *testing.T) {
	d := New(&recordingBackend{}, nil, nil)

	_, err := d.EnqueueIfNotQueued(context.Background(), "", "plan.run", nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = d.EnqueueIfNotQueued(context.Background(), "k:1", "plan.run", json.RawMessage(`{not json`))
	assert.Error(t, err)
	assert.False(t, d.Pending("k:1"))
}

func TestMarkStarted_UnknownKey(t *testing.T) {
	d := New(&recordingBackend{}, nil, nil)
	d.MarkStarted("never:queued")
	d.MarkStarted("")
	assert.Equal(t, uint64(0), d.Stats().Started)
}

func TestMemoryTokens(t *testing.T) {
	tokens := NewMemoryTokens()
	assert.True(t, tokens.TryAcquire("a"))
	assert.False(t, tokens.TryAcquire("a"))
	assert.True(t, tokens.TryAcquire("b"))
	assert.ElementsMatch(t, []string{"a", "b"}, tokens.Keys())

	tokens.Release("a")
	assert.False(t, tokens.Has("a"))
	assert.True(t, tokens.TryAcquire("a"))
}

func TestRateLimitedBackend(t *testing.T) {
	inner := &recordingBackend{}
	limited := NewRateLimitedBackend(inner, 0.001, 2)
	d := New(limited, nil, nil)
	ctx := context.Background()

	for _, id := range []string{"1", "2"} {
		ok, err := d.EnqueueIfNotQueued(ctx, Key("JobPlan.run", id), "plan.run", nil)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := d.EnqueueIfNotQueued(ctx, Key("JobPlan.run", "3"), "plan.run", nil)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.False(t, d.Pending(Key("JobPlan.run", "3")))
	assert.Equal(t, 2, inner.count())
}

type handoffBackend struct {
	recordingBackend
}

func (b *handoffBackend) HandsOff() bool { return true }

func TestEnqueueIfNotQueued_HandoffReleasesOnAccept(t *testing.T) {
	ctx := context.Background()
	key := Key("JobPlan.run", "7")

	for name, backend := range map[string]Backend{
		"direct":       &handoffBackend{},
		"rate limited": NewRateLimitedBackend(&handoffBackend{}, 1000, 10),
	} {
		t.Run(name, func(t *testing.T) {
			d := New(backend, nil, nil)
			require.True(t, d.HandsOff())

			for i := 0; i < 2; i++ {
				queued, err := d.EnqueueIfNotQueued(ctx, key, "plan.run", nil)
				require.NoError(t, err)
				assert.True(t, queued, "request %d is accepted", i+1)
				assert.False(t, d.Pending(key))
			}
			assert.Equal(t, uint64(2), d.Stats().Accepted)
		})
	}

	local := New(NewRateLimitedBackend(&recordingBackend{}, 1000, 10), nil, nil)
	assert.False(t, local.HandsOff())
}

func TestMarkQueued(t *testing.T) {
	ctx := context.Background()
	d := New(&recordingBackend{}, nil, nil)
	key := Key("JobPlan.run", "8")

	queued, err := d.EnqueueIfNotQueued(ctx, key, "plan.run", nil)
	require.NoError(t, err)
	require.True(t, queued)

	d.MarkStarted(key)
	assert.True(t, d.MarkQueued(key), "a retry holds the key again")
	assert.True(t, d.Pending(key))

	queued, err = d.EnqueueIfNotQueued(ctx, key, "plan.run", nil)
	require.NoError(t, err)
	assert.False(t, queued, "requests while the retry waits are absorbed")

	assert.False(t, d.MarkQueued(key), "key already held")
	assert.False(t, d.MarkQueued(""))
}
