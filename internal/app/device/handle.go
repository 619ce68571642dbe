package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pranavraj012/squatformanalysis/internal/core"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

type readResult struct {
	frame *domain.Frame
	err   error
}

// Handle is the ownership token for the open capture device. Reads are
// serialised; a read abandoned by its caller stays pending and its frame is
// handed to the next caller.
type Handle struct {
	id          string
	src         core.Source
	readTimeout time.Duration
	// onAbandon hands a stalled handle back to its manager.
	onAbandon   func(*Handle)

	readMu  sync.Mutex
	pending chan readResult

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	failed    atomic.Bool
	frames    atomic.Uint64
}

func newHandle(src core.Source, readTimeout time.Duration, onAbandon func(*Handle)) *Handle {
	return &Handle{
		id:          uuid.NewString(),
		src:         src,
		readTimeout: readTimeout,
		onAbandon:   onAbandon,
		done:        make(chan struct{}),
	}
}

func (h *Handle) ID() string { return h.id }

// Done is closed once the handle is released.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Failed reports whether a read failed or timed out. A failed handle is
// replaced on the next Acquire; one that timed out is released at once.
func (h *Handle) Failed() bool { return h.failed.Load() }

func (h *Handle) Frames() uint64 { return h.frames.Load() }

func (h *Handle) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Next returns the next device frame. It never races another reader.
func (h *Handle) Next(ctx context.Context) (*domain.Frame, error) {
	if h.closed() {
		return nil, core.ErrSourceClosed
	}
	h.readMu.Lock()
	defer h.readMu.Unlock()
	if h.closed() {
		return nil, core.ErrSourceClosed
	}

	ch := h.pending
	if ch == nil {
		ch = make(chan readResult, 1)
		h.pending = ch
		go func() {
			f, err := h.src.Next(context.Background())
			ch <- readResult{frame: f, err: err}
		}()
	}

	var timeout <-chan time.Time
	if h.readTimeout > 0 {
		timer := time.NewTimer(h.readTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-ch:
		h.pending = nil
		if r.err != nil {
			if h.closed() {
				return nil, core.ErrSourceClosed
			}
			h.failed.Store(true)
			return nil, r.err
		}
		h.frames.Add(1)
		return r.frame, nil
	case <-timeout:
		h.abandon()
		return nil, fmt.Errorf("%w: no frame within %s", core.ErrReadFailure, h.readTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, core.ErrSourceClosed
	}
}

// abandon gives up on a device that stopped producing frames. The source is
// closed through the manager so the handle and the lock go together.
func (h *Handle) abandon() {
	h.failed.Store(true)
	if h.onAbandon != nil {
		h.onAbandon(h)
		return
	}
	_ = h.Close()
}

// Close releases the device. It does not wait for the read lock: the source
// unblocks a pending read itself and keeps its buffers alive until it returns.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
		h.closeErr = h.src.Close()
	})
	return h.closeErr
}
