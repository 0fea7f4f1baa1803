package relay

import (
	"context"
	"net"
	"time"

	"github.com/gofrs/uuid"
	"github.com/matst80/portrelay/internal/obs"
)

// SessionInfo identifies one accepted client for the lifetime of its session.
type SessionInfo struct {
	ID       string
	Client   string
	Target   string
	Upstream string // resolved address, empty until connected
	Started  time.Time
}

// Report is handed to the Tracker once a session is finished.
// SetupErr is set when the upstream never connected; the outcomes are
// then zero.
type Report struct {
	SessionInfo
	Ended      time.Time
	SetupErr   error
	ToUpstream Outcome
	ToClient   Outcome
}

// Tracker observes session lifecycles. Implementations must be safe for
// concurrent use and must not block.
type Tracker interface {
	SessionStarted(info SessionInfo)
	SessionEnded(r Report)
}

type nopTracker struct{}

func (nopTracker) SessionStarted(SessionInfo) {}
func (nopTracker) SessionEnded(Report)        {}

func newSessionID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return time.Now().UTC().Format("20060102T150405.000000000")
	}
	return id.String()
}

// handleSession owns client from accept to close.
func (s *Server) handleSession(ctx context.Context, client net.Conn) {
	defer client.Close()
	if tcp, ok := client.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	info := SessionInfo{
		ID:      newSessionID(),
		Client:  client.RemoteAddr().String(),
		Target:  s.cfg.Target,
		Started: time.Now(),
	}
	obs.Info("session.new", obs.Fields{"client": info.Client, "session": info.ID})
	obs.SessionsTotal.Inc()
	obs.ActiveSessions.Inc()
	s.tracker.SessionStarted(info)

	report := Report{SessionInfo: info}
	defer func() {
		report.Ended = time.Now()
		obs.ActiveSessions.Dec()
		obs.SessionDurationSecond.Observe(report.Ended.Sub(info.Started).Seconds())
		s.tracker.SessionEnded(report)
	}()

	addr, err := Resolve(ctx, s.resolver, s.cfg.Target)
	if err != nil {
		obs.Error("session.resolve_error", obs.Fields{"client": info.Client, "target": s.cfg.Target, "err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("resolve").Inc()
		report.SetupErr = err
		return
	}
	upstream, err := s.connector.Connect(ctx, addr)
	if err != nil {
		obs.Error("session.upstream_error", obs.Fields{"client": info.Client, "upstream": addr, "err": err.Error()})
		obs.ErrorsTotal.WithLabelValues("connect").Inc()
		report.SetupErr = err
		return
	}
	report.Upstream = addr
	obs.Debug("session.connected", obs.Fields{"client": info.Client, "upstream": addr, "session": info.ID})

	report.ToUpstream, report.ToClient = Relay(client, upstream, s.cfg.BufferSize)
	s.reportOutcome(info.Client, report.ToUpstream)
	s.reportOutcome(info.Client, report.ToClient)
}

func (s *Server) reportOutcome(client string, o Outcome) {
	obs.BytesTotal.WithLabelValues(o.Direction.Label()).Add(float64(o.Bytes))
	switch o.Status {
	case StatusFailed:
		obs.Error("session.transfer_error", obs.Fields{"direction": o.Direction.String(), "client": client, "bytes": o.Bytes, "err": o.Err.Error()})
		obs.ErrorsTotal.WithLabelValues("transfer").Inc()
		return
	case StatusReset:
		obs.ResetsTotal.WithLabelValues(o.Direction.Label()).Inc()
	}
	if s.cfg.Verbose {
		obs.Info("session.transfer", obs.Fields{"direction": o.Direction.String(), "client": client, "bytes": o.Bytes, "status": o.Status.String()})
	}
}
