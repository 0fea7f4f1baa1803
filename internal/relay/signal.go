package relay

import "sync"

// Signal is a one-shot broadcast. Every receiver of Done is woken by the
// first Fire; later calls are no-ops.
type Signal struct {
	once sync.Once
	done chan struct{}
}

func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

func (s *Signal) Fire() { s.once.Do(func() { close(s.done) }) }

func (s *Signal) Done() <-chan struct{} { return s.done }

func (s *Signal) Fired() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
