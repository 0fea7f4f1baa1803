package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/matst80/portrelay/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*redisStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st, err := newRedisStateStore(mr.Addr(), "", 0)
	require.NoError(t, err)
	return st, mr
}

// flushWrites waits until every write queued before it has run.
func flushWrites(t *testing.T, st *redisStateStore) {
	t.Helper()
	done := make(chan struct{})
	st.enqueue("flush", func(context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("redis writes did not drain")
	}
}

func TestRedisStateStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := newRedisStateStore(addr, "", 0)
	assert.Error(t, err)
}

func TestRedisStateStoreSessions(t *testing.T) {
	st, mr := newTestRedisStore(t)
	ctx := context.Background()

	st.SessionStarted(testInfo("s1", time.Now()))
	flushWrites(t, st)
	key := st.sessionKey("s1")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, st.keyTTL, mr.TTL(key))

	sessions := st.listSessions(ctx)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Equal(t, st.instanceID, sessions[0].Instance)

	st.SessionEnded(relay.Report{SessionInfo: testInfo("s1", time.Now()), ToUpstream: relay.Outcome{Bytes: 5}})
	flushWrites(t, st)
	assert.False(t, mr.Exists(key))
	assert.Empty(t, st.listSessions(ctx))
	require.NoError(t, st.close())
}

func TestRedisStateStoreSeesOtherInstances(t *testing.T) {
	a, mr := newTestRedisStore(t)
	b, err := newRedisStateStore(mr.Addr(), "", 0)
	require.NoError(t, err)
	b.instanceID = a.instanceID + "-b"
	ctx := context.Background()

	a.SessionStarted(testInfo("one", time.Now().Add(-time.Second)))
	b.SessionStarted(testInfo("two", time.Now()))
	flushWrites(t, a)
	flushWrites(t, b)
	a.heartbeat(ctx)
	b.heartbeat(ctx)

	sessions := a.listSessions(ctx)
	require.Len(t, sessions, 2)
	assert.Equal(t, "one", sessions[0].ID)
	assert.Equal(t, b.instanceID, sessions[1].Instance)

	st := a.getStats(ctx)
	assert.Equal(t, 1, st.Active, "top-level counters are local")
	require.Len(t, st.Instances, 2)
	require.NotNil(t, st.Fleet)
	assert.Equal(t, 2, st.Fleet.Active)
	assert.Equal(t, int64(2), st.Fleet.Total)

	require.NoError(t, b.close())
	assert.False(t, mr.Exists(b.instanceKey()))
	assert.False(t, mr.Exists(b.sessionKey("two")))
	assert.Len(t, a.listSessions(ctx), 1)
	require.NoError(t, a.close())
}

func TestRedisHeartbeatRefreshesTTL(t *testing.T) {
	st, mr := newTestRedisStore(t)
	ctx := context.Background()

	st.SessionStarted(testInfo("s1", time.Now()))
	flushWrites(t, st)
	mr.FastForward(20 * time.Second)
	st.heartbeat(ctx)
	assert.Equal(t, st.keyTTL, mr.TTL(st.sessionKey("s1")))
	assert.Equal(t, st.keyTTL, mr.TTL(st.instanceKey()))
	assert.Equal(t, "1", mr.HGet(st.instanceKey(), "active"))

	// a dead instance disappears once its keys expire
	mr.FastForward(31 * time.Second)
	assert.False(t, mr.Exists(st.sessionKey("s1")))
	assert.False(t, mr.Exists(st.instanceKey()))
	require.NoError(t, st.close())
}

func TestRedisListSessionsFallsBackToLocal(t *testing.T) {
	st, mr := newTestRedisStore(t)
	st.SessionStarted(testInfo("s1", time.Now()))
	mr.Close()

	sessions := st.listSessions(context.Background())
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Equal(t, 1, st.getStats(context.Background()).Active)
}

func TestParseInstanceStats(t *testing.T) {
	in := parseInstanceStats("x", map[string]string{
		"active": "2", "total": "7", "failed": "1", "bytes_up": "100", "bytes_down": "nope",
		"updated": "2024-01-02T03:04:05Z",
	})
	assert.Equal(t, "x", in.Instance)
	assert.Equal(t, 2, in.Active)
	assert.Equal(t, int64(7), in.Total)
	assert.Equal(t, int64(100), in.BytesUp)
	assert.Equal(t, int64(0), in.BytesDown)
	assert.Equal(t, 2024, in.Updated.Year())
}

func TestRedisSessionEventsDoNotWaitForRedis(t *testing.T) {
	st, mr := newTestRedisStore(t)
	mr.Close()

	start := time.Now()
	st.SessionStarted(testInfo("s1", time.Now()))
	st.SessionEnded(relay.Report{SessionInfo: testInfo("s1", time.Now())})
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, int64(1), st.getStats(context.Background()).Total)
	require.NoError(t, st.close())
}

func TestRedisSessionEventsDropWhenQueueFull(t *testing.T) {
	// no writer drains this queue
	st := &redisStateStore{
		serverState: newServerState(),
		instanceID:  "stalled",
		writes:      make(chan func(context.Context), 1),
		done:        make(chan struct{}),
		keyTTL:      time.Second,
	}
	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			st.SessionStarted(testInfo(fmt.Sprint(i), time.Now()))
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("session events blocked on a stalled writer")
	}
	assert.Len(t, st.writes, 1)
	assert.Len(t, st.serverState.listSessions(context.Background()), 10)
}

func TestRedisCloseFlushesQueuedWrites(t *testing.T) {
	st, mr := newTestRedisStore(t)
	other, err := newRedisStateStore(mr.Addr(), "", 0)
	require.NoError(t, err)
	other.instanceID = st.instanceID + "-other"

	other.SessionStarted(testInfo("kept", time.Now()))
	st.SessionStarted(testInfo("s1", time.Now()))
	require.NoError(t, st.close())
	assert.False(t, mr.Exists(st.sessionKey("s1")))

	flushWrites(t, other)
	assert.True(t, mr.Exists(other.sessionKey("kept")))
	require.NoError(t, other.close())
}
