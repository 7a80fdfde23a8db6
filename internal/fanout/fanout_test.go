package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhub/internal/tasks"
)

type fakeRedis struct {
	mu        sync.Mutex
	published []string
	values    map[string]string
	ttls      map[string]time.Duration
	failSet   error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, channel+"|"+string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return redis.NewStatusResult("", f.failSet)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) latest(key string) (tasks.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.values[key]
	if !ok {
		return tasks.Snapshot{}, false
	}
	var s tasks.Snapshot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return tasks.Snapshot{}, false
	}
	return s, true
}

func TestPublishWritesChannelAndKey(t *testing.T) {
	rdb := newFakeRedis()
	p := NewPublisher(rdb, WithChannel("c"), WithKey("k"), WithTTL(time.Minute))

	reg := tasks.NewRegistry()
	reg.Start("a", &tasks.Meta{Label: "A"})

	require.NoError(t, p.Publish(context.Background(), reg.Snapshot()))

	require.Len(t, rdb.published, 1)
	assert.Contains(t, rdb.published[0], `c|{"tasks":[{"id":"a"`)
	assert.Equal(t, time.Minute, rdb.ttls["k"])
	s, ok := rdb.latest("k")
	require.True(t, ok)
	assert.Equal(t, 1, s.Pending)
}

func TestPublishReturnsRedisError(t *testing.T) {
	rdb := newFakeRedis()
	rdb.failSet = errors.New("READONLY")
	p := NewPublisher(rdb)

	assert.EqualError(t, p.Publish(context.Background(), tasks.Snapshot{}), "READONLY")
}

func TestRunMirrorsRegistry(t *testing.T) {
	rdb := newFakeRedis()
	p := NewPublisher(rdb)
	reg := tasks.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx, reg)
	}()

	reg.Start("job-1", &tasks.Meta{Type: "page"})
	reg.Succeed("job-1", "Fetched")

	assert.Eventually(t, func() bool {
		s, ok := rdb.latest(DefaultKey)
		return ok && len(s.Tasks) == 1 && s.Tasks[0].Status == tasks.StatusSuccess
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestOfferKeepsOnlyNewest(t *testing.T) {
	p := NewPublisher(newFakeRedis())

	p.offer(tasks.Snapshot{Total: 1})
	p.offer(tasks.Snapshot{Total: 2})
	p.offer(tasks.Snapshot{Total: 3})

	got := <-p.pending
	assert.Equal(t, 3, got.Total)
	select {
	case extra := <-p.pending:
		t.Fatalf("unexpected buffered snapshot %+v", extra)
	default:
	}
}
