package main

import (
	"github.com/matst80/portrelay/internal/proto"
	"github.com/matst80/portrelay/internal/relay"
)

func recordFromInfo(info relay.SessionInfo, instance string) proto.SessionRecord {
	return proto.SessionRecord{
		ID:       info.ID,
		Instance: instance,
		Client:   info.Client,
		Target:   info.Target,
		Upstream: info.Upstream,
		Started:  info.Started,
	}
}

// sessionFailed reports whether a finished session counts as a failure.
// Benign resets and cancellations do not.
func sessionFailed(r relay.Report) bool {
	return r.SetupErr != nil || !r.ToUpstream.OK() || !r.ToClient.OK()
}
