package main

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/matst80/portrelay/internal/proto"
	"github.com/matst80/portrelay/internal/relay"
	"go.uber.org/atomic"
)

// serverState is the in-memory StateStore for a single relay process.
type serverState struct {
	mu       sync.Mutex
	sessions map[string]proto.SessionRecord
	closing  bool
	ready    bool

	total     atomic.Int64
	failed    atomic.Int64
	bytesUp   atomic.Int64
	bytesDown atomic.Int64
}

func newServerState() *serverState {
	return &serverState{sessions: make(map[string]proto.SessionRecord)}
}

var _ StateStore = (*serverState)(nil)

func (s *serverState) SessionStarted(info relay.SessionInfo) {
	s.total.Inc()
	s.mu.Lock()
	s.sessions[info.ID] = recordFromInfo(info, "")
	s.mu.Unlock()
}

func (s *serverState) SessionEnded(r relay.Report) {
	s.mu.Lock()
	delete(s.sessions, r.ID)
	s.mu.Unlock()
	s.bytesUp.Add(r.ToUpstream.Bytes)
	s.bytesDown.Add(r.ToClient.Bytes)
	if sessionFailed(r) {
		s.failed.Inc()
	}
}

func (s *serverState) setClosing(closing bool) { s.mu.Lock(); s.closing = closing; s.mu.Unlock() }
func (s *serverState) setReady(ready bool)     { s.mu.Lock(); s.ready = ready; s.mu.Unlock() }
func (s *serverState) isClosing() bool         { s.mu.Lock(); defer s.mu.Unlock(); return s.closing }
func (s *serverState) isReady() bool           { s.mu.Lock(); defer s.mu.Unlock(); return s.ready }

func (s *serverState) snapshot(instance string) proto.InstanceStats {
	s.mu.Lock()
	active := len(s.sessions)
	s.mu.Unlock()
	return proto.InstanceStats{
		Instance:  instance,
		Active:    active,
		Total:     s.total.Load(),
		Failed:    s.failed.Load(),
		BytesUp:   s.bytesUp.Load(),
		BytesDown: s.bytesDown.Load(),
		Updated:   time.Now().UTC(),
	}
}

func (s *serverState) getStats(context.Context) Stats {
	return statsFrom(s.snapshot(""), nil)
}

func (s *serverState) listSessions(context.Context) []proto.SessionRecord {
	s.mu.Lock()
	out := make([]proto.SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		out = append(out, rec)
	}
	s.mu.Unlock()
	sortSessions(out)
	return out
}

func (s *serverState) close() error { return nil }

func sortSessions(recs []proto.SessionRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Started.Equal(recs[j].Started) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].Started.Before(recs[j].Started)
	})
}
