package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matst80/portrelay/internal/obs"
	"github.com/matst80/portrelay/internal/ratelimit"
	"github.com/matst80/portrelay/internal/relay"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		obs.Error("config", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	obs.SetFormat(cfg.LogFormat)
	obs.EnableDebug(cfg.Debug)
	undo, _ := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		obs.Debug("maxprocs", obs.Fields{"detail": fmt.Sprintf(format, args...)})
	}))
	defer undo()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obs.Error("relay.exit", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
}

func newResolver(cfg *Config) (relay.Resolver, error) {
	if cfg.Resolver == "dns" {
		return relay.NewDNSResolver(cfg.DNSConfig)
	}
	return relay.SystemResolver{}, nil
}

// run binds the listener, then serves until ctx is done or something fatal
// happens. Bind failures return before anything is served.
func run(ctx context.Context, cfg *Config) error {
	obs.Info("relay.start", obs.Fields{"bind": cfg.bindEndpoint().String(), "remote": cfg.Remote, "resolver": cfg.Resolver, "metrics": cfg.MetricsAddr})
	state, err := newStateStore(cfg.Redis)
	if err != nil {
		return err
	}
	defer func() {
		if err := state.close(); err != nil {
			obs.Error("state.close", obs.Fields{"err": err.Error()})
		}
	}()

	resolver, err := newResolver(cfg)
	if err != nil {
		return err
	}
	opts := []relay.Option{
		relay.WithResolver(resolver),
		relay.WithConnector(relay.TCPConnector{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}),
		relay.WithTracker(state),
	}
	var limiter *ratelimit.RateLimiter
	if cfg.Rate > 0 || cfg.GlobalRate > 0 {
		limiter = ratelimit.NewRateLimiter(cfg.GlobalRate, cfg.Rate, cfg.Burst)
		opts = append(opts, relay.WithLimiter(limiter))
	}
	srv, err := relay.NewServer(cfg.relayConfig(), opts...)
	if err != nil {
		return err
	}
	ln, err := srv.Listen(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return startMetricsServer(gctx, cfg.MetricsAddr, state, cfg.Remote) })
	}
	if limiter != nil {
		g.Go(func() error { runLimiterCleanup(gctx, limiter, time.Minute); return nil })
	}
	if rs, ok := state.(*redisStateStore); ok {
		g.Go(func() error { rs.startMaintenance(gctx); return nil })
	}
	g.Go(func() error { return srv.Serve(gctx, ln) })
	g.Go(func() error {
		<-gctx.Done()
		state.setClosing(true)
		obs.Info("relay.shutdown.signal", obs.Fields{})
		return nil
	})

	state.setReady(true)
	obs.Info("relay.ready", obs.Fields{"addr": ln.Addr().String()})

	err = g.Wait()
	drainSessions(srv, cfg.GracePeriod)
	obs.Info("relay.shutdown.complete", obs.Fields{})
	return err
}

func drainSessions(srv *relay.Server, grace time.Duration) {
	done := make(chan struct{})
	go func() {
		srv.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		obs.Info("relay.shutdown.grace_expired", obs.Fields{"grace": grace.String()})
	}
}

func runLimiterCleanup(ctx context.Context, limiter *ratelimit.RateLimiter, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if removed := limiter.CleanupIdle(interval); removed > 0 {
				obs.Debug("ratelimit.cleanup", obs.Fields{"removed": removed, "remaining": limiter.Clients()})
			}
		}
	}
}
