package main

import (
	"context"

	"github.com/matst80/portrelay/internal/proto"
	"github.com/matst80/portrelay/internal/relay"
)

// StateStore is the session registry behind the admin API. It receives
// every session lifecycle event from the relay.
type StateStore interface {
	relay.Tracker
	setClosing(closing bool)
	setReady(ready bool)
	isClosing() bool
	isReady() bool
	// stats helpers (not exported outside package main)
	getStats(ctx context.Context) Stats
	listSessions(ctx context.Context) []proto.SessionRecord
	close() error
}
