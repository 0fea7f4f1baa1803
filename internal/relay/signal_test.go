package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignalFireIsIdempotent(t *testing.T) {
	s := NewSignal()
	assert.False(t, s.Fired())

	s.Fire()
	s.Fire()
	assert.True(t, s.Fired())
}

func TestSignalWakesAllSubscribers(t *testing.T) {
	s := NewSignal()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-s.Done()
		}()
	}

	var fires sync.WaitGroup
	for i := 0; i < 8; i++ {
		fires.Add(1)
		go func() {
			defer fires.Done()
			s.Fire()
		}()
	}
	fires.Wait()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscribers not woken")
	}
}
