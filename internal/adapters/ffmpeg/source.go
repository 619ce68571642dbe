package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pranavraj012/squatformanalysis/internal/core"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

// rawSource slices a stream of packed frames into domain.Frames.
// A live source never reports ErrEndOfStream: running dry is a read failure.
type rawSource struct {
	r      *bufio.Reader
	width  int
	height int
	order  domain.ColorOrder
	live   bool

	stop func()
	reap func() error

	readMu    sync.Mutex
	closed    atomic.Bool
	eos       bool
	closeOnce sync.Once
}

func newRawSource(r io.Reader, width, height int, order domain.ColorOrder, live bool, stop func(), reap func() error) *rawSource {
	return &rawSource{
		r:      bufio.NewReaderSize(r, domain.Size(width, height)),
		width:  width,
		height: height,
		order:  order,
		live:   live,
		stop:   stop,
		reap:   reap,
	}
}

func (s *rawSource) Next(ctx context.Context) (*domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.closed.Load() {
		return nil, core.ErrSourceClosed
	}
	if s.eos {
		return nil, core.ErrEndOfStream
	}

	buf := make([]byte, domain.Size(s.width, s.height))
	if _, err := io.ReadFull(s.r, buf); err != nil {
		if s.closed.Load() {
			return nil, core.ErrSourceClosed
		}
		if errors.Is(err, io.EOF) && !s.live {
			if s.reap != nil {
				if werr := s.reap(); werr != nil {
					return nil, fmt.Errorf("%w: decoder exited: %v", core.ErrReadFailure, werr)
				}
			}
			s.eos = true
			return nil, core.ErrEndOfStream
		}
		return nil, fmt.Errorf("%w: %v", core.ErrReadFailure, err)
	}
	return domain.NewFrame(s.width, s.height, s.order, buf)
}

// Close stops the producer, waits for an in-flight Next to return and then
// reaps the process.
func (s *rawSource) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.stop != nil {
			s.stop()
		}
		s.readMu.Lock()
		defer s.readMu.Unlock()
		if s.reap != nil {
			_ = s.reap()
		}
	})
	return nil
}

// prime blocks until one whole frame is buffered, the stream ends or timeout elapses.
func (s *rawSource) prime(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		s.readMu.Lock()
		defer s.readMu.Unlock()
		_, err := s.r.Peek(domain.Size(s.width, s.height))
		done <- err
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		if s.stop != nil {
			s.stop()
		}
		<-done
		return fmt.Errorf("no frame within %s", timeout)
	}
}

type fileSource struct {
	*rawSource
	info core.StreamInfo
}

func (f *fileSource) Info() core.StreamInfo { return f.info }
