package relay_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/parley-ai/parley/internal/relay"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRegistry_CancelActive(t *testing.T) {
	t.Parallel()

	reg := relay.NewRegistry()
	key := relay.Key{UserID: "u1", ThreadID: "t1"}

	ctx, h := relay.NewHandle(context.Background())
	reg.Register(key, h)

	assert.True(t, reg.Cancel(key))
	assert.True(t, h.Cancelled())
	assert.Error(t, ctx.Err())

	// Entry removed; cancelling again is a miss
	assert.False(t, reg.Cancel(key))
	assert.Zero(t, reg.Len())
}

func TestRegistry_CancelMiss(t *testing.T) {
	t.Parallel()

	reg := relay.NewRegistry()
	assert.False(t, reg.Cancel(relay.Key{UserID: "u1", ThreadID: "t1"}))
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	t.Parallel()

	reg := relay.NewRegistry()
	key := relay.Key{UserID: "u1", ThreadID: "t1"}

	_, h := relay.NewHandle(context.Background())
	defer h.Cancel()
	reg.Register(key, h)

	reg.Unregister(key)
	reg.Unregister(key)
	assert.Zero(t, reg.Len())
	assert.False(t, h.Cancelled())
}

func TestRegistry_LastWriterWins(t *testing.T) {
	t.Parallel()

	reg := relay.NewRegistry()
	key := relay.Key{UserID: "u1", ThreadID: "t1"}

	_, h1 := relay.NewHandle(context.Background())
	defer h1.Cancel()
	_, h2 := relay.NewHandle(context.Background())

	reg.Register(key, h1)
	reg.Register(key, h2)

	// Cancel hits the currently registered handle only
	assert.True(t, reg.Cancel(key))
	assert.True(t, h2.Cancelled())
	assert.False(t, h1.Cancelled())
	assert.Zero(t, reg.Len())
}

func TestRegistry_DebugKeysIndependent(t *testing.T) {
	t.Parallel()

	reg := relay.NewRegistry()
	real := relay.Key{UserID: "u1", ThreadID: "t1"}
	debug := relay.Key{UserID: "u1", ThreadID: "t1", Debug: true}

	_, hr := relay.NewHandle(context.Background())
	defer hr.Cancel()
	_, hd := relay.NewHandle(context.Background())

	reg.Register(real, hr)
	reg.Register(debug, hd)

	assert.True(t, reg.Cancel(debug))
	assert.True(t, hd.Cancelled())
	assert.False(t, hr.Cancelled())
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	reg := relay.NewRegistry()
	key := relay.Key{UserID: "u1", ThreadID: "t1"}

	var wg sync.WaitGroup
	var handles []*relay.Handle
	var mu sync.Mutex

	for range 50 {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, h := relay.NewHandle(context.Background())
			mu.Lock()
			handles = append(handles, h)
			mu.Unlock()
			reg.Register(key, h)
		}()
		go func() {
			defer wg.Done()
			reg.Cancel(key)
		}()
		go func() {
			defer wg.Done()
			reg.Unregister(key)
		}()
	}
	wg.Wait()

	// No duplicates possible with a single key; drain whatever is left.
	reg.Unregister(key)
	assert.Zero(t, reg.Len())

	// Release every derived context.
	mu.Lock()
	for _, h := range handles {
		h.Cancel()
	}
	mu.Unlock()
}

func TestHandle_CancelTwice(t *testing.T) {
	t.Parallel()

	_, h := relay.NewHandle(context.Background())
	assert.False(t, h.Cancelled())
	h.Cancel()
	h.Cancel()
	assert.True(t, h.Cancelled())
}
