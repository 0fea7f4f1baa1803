// Command probe exercises a running relay end to end. With -serve it is a
// small upstream that greets each client and echoes what it receives; without
// it, it dials the relay, sends a payload, half-closes and reports what came
// back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/matst80/portrelay/internal/obs"
)

func main() {
	flag.Parse()
	obs.EnableDebug(cfg.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Serve {
		ln, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			obs.Error("probe.listen", obs.Fields{"err": err.Error(), "addr": cfg.Listen})
			os.Exit(1)
		}
		obs.Info("probe.upstream.listening", obs.Fields{"addr": ln.Addr().String()})
		if err := serveUpstream(ctx, ln, []byte(cfg.Greeting)); err != nil {
			obs.Error("probe.upstream", obs.Fields{"err": err.Error()})
			os.Exit(1)
		}
		return
	}

	failed := 0
	for i := 0; i < cfg.Count && ctx.Err() == nil; i++ {
		res, err := probe(ctx, cfg.Addr, []byte(cfg.Payload), cfg.Timeout)
		if err != nil {
			failed++
			obs.Error("probe.fail", obs.Fields{"seq": i, "addr": cfg.Addr, "err": err.Error()})
			continue
		}
		obs.Info("probe.ok", obs.Fields{"seq": i, "addr": cfg.Addr, "sent": res.Sent, "received": len(res.Reply), "rtt_ms": res.RTT.Milliseconds()})
		obs.Debug("probe.reply", obs.Fields{"seq": i, "reply": string(res.Reply)})
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// Result is what one probe observed.
type Result struct {
	Sent  int
	Reply []byte
	RTT   time.Duration
}

// probe sends payload through the relay at addr, half-closes and reads until
// the relay closes the connection.
func probe(ctx context.Context, addr string, payload []byte, timeout time.Duration) (Result, error) {
	start := time.Now()
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Result{}, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer c.Close()
	_ = c.SetDeadline(start.Add(timeout))

	n, err := c.Write(payload)
	if err != nil {
		return Result{Sent: n}, fmt.Errorf("write: %w", err)
	}
	if tcp, ok := c.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
	reply, err := io.ReadAll(c)
	if err != nil && !isReset(err) {
		return Result{Sent: n, Reply: reply}, fmt.Errorf("read: %w", err)
	}
	return Result{Sent: n, Reply: reply, RTT: time.Since(start)}, nil
}

func isReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED)
}

// serveUpstream greets every accepted client, then echoes its input until the
// client half-closes. It returns nil once ctx is done.
func serveUpstream(ctx context.Context, ln net.Listener, greeting []byte) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.Close()
			if _, err := c.Write(greeting); err != nil {
				obs.Debug("probe.upstream.write", obs.Fields{"err": err.Error()})
				return
			}
			n, err := io.Copy(c, c)
			obs.Debug("probe.upstream.done", obs.Fields{"client": c.RemoteAddr().String(), "echoed": n, "err": errString(err)})
		}()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
