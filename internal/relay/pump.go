package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/matst80/portrelay/internal/obs"
)

// DefaultBufferSize is the per-pump read size.
const DefaultBufferSize = 1024

type Direction int

const (
	ClientToUpstream Direction = iota
	UpstreamToClient
)

func (d Direction) String() string {
	if d == ClientToUpstream {
		return "client->upstream"
	}
	return "upstream->client"
}

// Label is the metrics label for the direction.
func (d Direction) Label() string {
	if d == ClientToUpstream {
		return obs.ToUpstream
	}
	return obs.ToClient
}

// Status is how a pump ended.
type Status int

const (
	StatusEOF       Status = iota // read side closed cleanly
	StatusReset                   // peer reset or aborted; treated as EOF
	StatusCancelled               // sibling pump ended first
	StatusFailed                  // read or write error
)

func (s Status) String() string {
	switch s {
	case StatusEOF:
		return "eof"
	case StatusReset:
		return "reset"
	case StatusCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Outcome is the result of one pump. Err is set only for StatusFailed.
type Outcome struct {
	Direction Direction
	Bytes     int64
	Status    Status
	Err       error
}

func (o Outcome) OK() bool { return o.Status != StatusFailed }

// Relay runs both pumps between client and upstream until either side
// ends, then closes both connections. It returns once both pumps have
// returned.
func Relay(client, upstream net.Conn, bufSize int) (toUpstream, toClient Outcome) {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	cancel := NewSignal()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		toClient = Pump(UpstreamToClient, upstream, client, cancel, bufSize)
	}()
	go func() {
		defer wg.Done()
		toUpstream = Pump(ClientToUpstream, client, upstream, cancel, bufSize)
	}()
	wg.Wait()
	_ = client.Close()
	_ = upstream.Close()
	return toUpstream, toClient
}

// After cancel is observed a pump keeps delivering whatever its source
// still yields: reads completing within drainIdle of each other, for at
// most drainLimit in total.
const (
	drainIdle  = 20 * time.Millisecond
	drainLimit = 250 * time.Millisecond
)

type readResult struct {
	n   int
	err error
}

// Pump copies src to dst until src ends, a write fails or cancel fires.
// It always fires cancel on return. Bytes src has already received when
// cancel fires are still delivered. A read still blocked when the drain
// gives up is left to the caller to unblock by closing src.
func Pump(dir Direction, src io.Reader, dst io.Writer, cancel *Signal, bufSize int) Outcome {
	defer cancel.Fire()

	buf := make([]byte, bufSize)
	reads := make(chan readResult)
	next := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)
	go readLoop(src, buf, reads, next, stop)

	out := Outcome{Direction: dir}
	var (
		idle     *time.Timer // armed once cancel is observed
		deadline time.Time
	)
	for {
		var r readResult
		if idle == nil {
			select {
			case r = <-reads:
			case <-cancel.Done():
				deadline = time.Now().Add(drainLimit)
				if d, ok := src.(interface{ SetReadDeadline(time.Time) error }); ok {
					_ = d.SetReadDeadline(deadline)
				}
				idle = time.NewTimer(drainIdle)
				defer idle.Stop()
				continue
			}
		} else {
			select {
			case r = <-reads:
			case <-idle.C:
				out.Status = StatusCancelled
				return out
			}
		}

		if r.n > 0 {
			if _, err := dst.Write(buf[:r.n]); err != nil {
				out.Status = StatusFailed
				out.Err = fmt.Errorf("write %s: %w", dir, err)
				return out
			}
			out.Bytes += int64(r.n)
		}
		if r.err != nil {
			switch {
			case errors.Is(r.err, io.EOF):
				out.Status = StatusEOF
			case isBenignReset(r.err):
				out.Status = StatusReset
			case idle != nil && errors.Is(r.err, os.ErrDeadlineExceeded):
				out.Status = StatusCancelled
			default:
				out.Status = StatusFailed
				out.Err = fmt.Errorf("read %s: %w", dir, r.err)
			}
			return out
		}
		if idle != nil {
			if time.Now().After(deadline) {
				out.Status = StatusCancelled
				return out
			}
			idle.Reset(drainIdle)
		}
		next <- struct{}{}
	}
}

// readLoop owns the blocking reads for one pump. buf is handed back and
// forth in lockstep: the pump may use it between a result and next.
func readLoop(src io.Reader, buf []byte, reads chan<- readResult, next <-chan struct{}, stop <-chan struct{}) {
	for {
		n, err := src.Read(buf)
		select {
		case reads <- readResult{n: n, err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
		select {
		case <-next:
		case <-stop:
			return
		}
	}
}

func isBenignReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED)
}
