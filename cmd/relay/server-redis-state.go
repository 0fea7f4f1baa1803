package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/matst80/portrelay/internal/obs"
	"github.com/matst80/portrelay/internal/proto"
	"github.com/matst80/portrelay/internal/relay"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "portrelay:"

// redisStateStore publishes this instance's sessions and counters to Redis
// so several relays can be watched from one dashboard. Every key carries a
// TTL refreshed by the heartbeat; nothing outlives a dead instance.
type redisStateStore struct {
	*serverState // local view, authoritative for this instance

	client     *redis.Client
	instanceID string

	// session writes run on one background writer, in order
	writes  chan func(ctx context.Context)
	done    chan struct{}
	drained chan struct{}
	stopped sync.Once

	heartbeatInterval time.Duration
	keyTTL            time.Duration
	opTimeout         time.Duration
}

func newRedisStateStore(addr, password string, db int) (*redisStateStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	host, _ := os.Hostname()
	r := &redisStateStore{
		serverState:       newServerState(),
		client:            rdb,
		instanceID:        fmt.Sprintf("portrelay-%s-%d", host, time.Now().UnixNano()),
		writes:            make(chan func(context.Context), writeQueueSize),
		done:              make(chan struct{}),
		drained:           make(chan struct{}),
		heartbeatInterval: 10 * time.Second,
		keyTTL:            30 * time.Second,
		opTimeout:         2 * time.Second,
	}
	go r.writer()
	return r, nil
}

const writeQueueSize = 1024

// enqueue hands op to the writer without blocking. When the queue is full
// or the store is closed the write is dropped; the heartbeat and key TTLs
// bound how stale Redis can get.
func (r *redisStateStore) enqueue(event string, op func(ctx context.Context)) {
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.writes <- op:
	default:
		obs.Error("redis.queue_full", obs.Fields{"event": event, "instance": r.instanceID})
	}
}

func (r *redisStateStore) writer() {
	defer close(r.drained)
	run := func(op func(context.Context)) {
		ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
		defer cancel()
		op(ctx)
	}
	for {
		select {
		case op := <-r.writes:
			run(op)
		case <-r.done:
			for {
				select {
				case op := <-r.writes:
					run(op)
				default:
					return
				}
			}
		}
	}
}

var _ StateStore = (*redisStateStore)(nil)

func (r *redisStateStore) sessionKey(id string) string {
	return keyPrefix + "session:" + r.instanceID + ":" + id
}

func (r *redisStateStore) instanceKey() string { return keyPrefix + "instance:" + r.instanceID }

func (r *redisStateStore) SessionStarted(info relay.SessionInfo) {
	r.serverState.SessionStarted(info)
	data, err := json.Marshal(recordFromInfo(info, r.instanceID))
	if err != nil {
		obs.Error("redis.session.marshal", obs.Fields{"err": err.Error(), "session": info.ID})
		return
	}
	key := r.sessionKey(info.ID)
	r.enqueue("session.set", func(ctx context.Context) {
		if err := r.client.Set(ctx, key, data, r.keyTTL).Err(); err != nil {
			obs.Error("redis.session.set", obs.Fields{"err": err.Error(), "session": info.ID})
		}
	})
}

func (r *redisStateStore) SessionEnded(rep relay.Report) {
	r.serverState.SessionEnded(rep)
	key := r.sessionKey(rep.ID)
	r.enqueue("session.del", func(ctx context.Context) {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			obs.Error("redis.session.del", obs.Fields{"err": err.Error(), "session": rep.ID})
		}
	})
}

// startMaintenance launches the periodic heartbeat until ctx is done.
func (r *redisStateStore) startMaintenance(ctx context.Context) {
	r.heartbeat(ctx)
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.heartbeat(ctx)
		}
	}
}

// heartbeat publishes the instance counters and extends the TTL of every
// locally owned session key.
func (r *redisStateStore) heartbeat(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	snap := r.snapshot(r.instanceID)
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, r.instanceKey(), map[string]any{
		"active":     snap.Active,
		"total":      snap.Total,
		"failed":     snap.Failed,
		"bytes_up":   snap.BytesUp,
		"bytes_down": snap.BytesDown,
		"updated":    snap.Updated.Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, r.instanceKey(), r.keyTTL)
	for _, rec := range r.serverState.listSessions(ctx) {
		pipe.Expire(ctx, r.sessionKey(rec.ID), r.keyTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		obs.Error("redis.heartbeat", obs.Fields{"err": err.Error(), "instance": r.instanceID})
	}
}

func (r *redisStateStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (r *redisStateStore) fleet(ctx context.Context) ([]proto.InstanceStats, error) {
	keys, err := r.scanKeys(ctx, keyPrefix+"instance:*")
	if err != nil {
		return nil, err
	}
	out := make([]proto.InstanceStats, 0, len(keys))
	for _, key := range keys {
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue // expired between SCAN and HGETALL
		}
		out = append(out, parseInstanceStats(key[len(keyPrefix+"instance:"):], fields))
	}
	return out, nil
}

func parseInstanceStats(instance string, fields map[string]string) proto.InstanceStats {
	num := func(k string) int64 {
		n, _ := strconv.ParseInt(fields[k], 10, 64)
		return n
	}
	updated, _ := time.Parse(time.RFC3339Nano, fields["updated"])
	return proto.InstanceStats{
		Instance:  instance,
		Active:    int(num("active")),
		Total:     num("total"),
		Failed:    num("failed"),
		BytesUp:   num("bytes_up"),
		BytesDown: num("bytes_down"),
		Updated:   updated,
	}
}

func (r *redisStateStore) getStats(ctx context.Context) Stats {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	fleet, err := r.fleet(ctx)
	if err != nil {
		obs.Error("redis.stats", obs.Fields{"err": err.Error()})
	}
	return statsFrom(r.snapshot(r.instanceID), fleet)
}

// listSessions returns the sessions of every instance in the fleet, falling
// back to the local view when Redis is unavailable.
func (r *redisStateStore) listSessions(ctx context.Context) []proto.SessionRecord {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()
	keys, err := r.scanKeys(ctx, keyPrefix+"session:*")
	if err == nil && len(keys) == 0 {
		return []proto.SessionRecord{}
	}
	var vals []any
	if err == nil {
		vals, err = r.client.MGet(ctx, keys...).Result()
	}
	if err != nil {
		obs.Error("redis.sessions", obs.Fields{"err": err.Error()})
		return r.serverState.listSessions(ctx)
	}
	out := make([]proto.SessionRecord, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var rec proto.SessionRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			obs.Error("redis.unmarshal_session", obs.Fields{"err": err.Error()})
			continue
		}
		out = append(out, rec)
	}
	sortSessions(out)
	return out
}

// close flushes queued writes, removes this instance's keys and closes
// the client.
func (r *redisStateStore) close() error {
	r.stopped.Do(func() { close(r.done) })
	<-r.drained
	ctx, cancel := context.WithTimeout(context.Background(), r.opTimeout)
	defer cancel()
	keys := []string{r.instanceKey()}
	for _, rec := range r.serverState.listSessions(ctx) {
		keys = append(keys, r.sessionKey(rec.ID))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		obs.Error("redis.close", obs.Fields{"err": err.Error(), "instance": r.instanceID})
	}
	return r.client.Close()
}
