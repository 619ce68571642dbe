package live

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

type SubscriberState int32

const (
	SubscriberOk SubscriberState = iota
	SubscriberDelete
)

// Subscriber is one live-stream connection. Chunks is closed when the
// stream ends; Err then tells why.
type Subscriber struct {
	ID       string
	HandleID string
	// Config is the active config at subscribe time. Frames always use the
	// config that is active when they are processed.
	Config domain.SessionConfig

	chunks chan []byte
	state  atomic.Int32
	drops  atomic.Int32
	sent   atomic.Uint64

	relay     *relay
	closeOnce sync.Once
	err       error
}

func newSubscriber(buffer int, handleID string, cfg domain.SessionConfig) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	return &Subscriber{
		ID:       uuid.NewString(),
		HandleID: handleID,
		Config:   cfg,
		chunks:   make(chan []byte, buffer),
	}
}

func (s *Subscriber) Chunks() <-chan []byte { return s.chunks }

// Err is valid once Chunks is closed.
func (s *Subscriber) Err() error { return s.err }

func (s *Subscriber) Sent() uint64 { return s.sent.Load() }

func (s *Subscriber) GetState() SubscriberState {
	return SubscriberState(s.state.Load())
}

func (s *Subscriber) MarkDelete() {
	s.state.Store(int32(SubscriberDelete))
}

// trySend never blocks. It reports false when the buffer is full.
func (s *Subscriber) trySend(chunk []byte) bool {
	select {
	case s.chunks <- chunk:
		s.drops.Store(0)
		s.sent.Add(1)
		return true
	default:
		return false
	}
}

// close must only run under the relay's write lock so no send races it.
func (s *Subscriber) close(err error) {
	s.closeOnce.Do(func() {
		s.MarkDelete()
		s.err = err
		close(s.chunks)
	})
}
