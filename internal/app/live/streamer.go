package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pranavraj012/squatformanalysis/internal/app/device"
	"github.com/pranavraj012/squatformanalysis/internal/app/session"
	"github.com/pranavraj012/squatformanalysis/internal/core"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

type Options struct {
	// Pacing is slept between frames to bound CPU use.
	Pacing      time.Duration
	JPEGQuality int
	Buffer      int
	Policy      Policy
}

// Status is a point-in-time view of the live side.
type Status struct {
	DeviceOpen  bool   `json:"deviceOpen"`
	Handle      string `json:"handle,omitempty"`
	Streaming   bool   `json:"streaming"`
	Subscribers int    `json:"subscribers"`
	Frames      uint64 `json:"frames"`
}

// Streamer runs at most one producer per open device handle. The producer
// reads each frame once, analyses it with the config active at that moment,
// encodes it and offers the chunk to every subscriber.
type Streamer struct {
	devices *device.Manager
	configs *session.Store
	metrics *MetricsHub
	opts    Options

	mu     sync.Mutex
	relay  *relay
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewStreamer(devices *device.Manager, configs *session.Store, metrics *MetricsHub, opts Options) *Streamer {
	if opts.Buffer < 1 {
		opts.Buffer = 8
	}
	if opts.Policy == nil {
		opts.Policy = DropPolicy{MaxDrops: 100}
	}
	if metrics == nil {
		metrics = NewMetricsHub(1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Streamer{
		devices: devices,
		configs: configs,
		metrics: metrics,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Streamer) Metrics() *MetricsHub { return s.metrics }

// Subscribe acquires the device (opening it if needed) and attaches a new
// subscriber to its producer.
func (s *Streamer) Subscribe(ctx context.Context) (*Subscriber, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, core.ErrSourceClosed
	}

	h, err := s.devices.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	cfg, ok := s.configs.Current()
	if !ok {
		cfg = domain.DefaultSessionConfig()
	}
	sub := newSubscriber(s.opts.Buffer, h.ID(), cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, core.ErrSourceClosed
	}
	r := s.relay
	if r == nil || r.handle != h {
		if r != nil {
			r.cancel()
		}
		logger := log.With().Str("module", "live").Logger()
		r = newRelay(s.ctx, h, s.opts.Policy, logger)
		s.relay = r
		go s.produce(r)
	}
	r.add(sub)
	r.logger.Info().Str("subscriber", sub.ID).Int("subscribers", r.count()).Msg("subscriber attached")
	return sub, nil
}

// Unsubscribe detaches sub. The device stays open.
func (s *Streamer) Unsubscribe(sub *Subscriber) {
	if sub == nil || sub.relay == nil {
		return
	}
	sub.relay.removeOne(sub)
	sub.relay.logger.Info().Str("subscriber", sub.ID).Uint64("sent", sub.Sent()).Msg("subscriber detached")
}

func (s *Streamer) Status() Status {
	var st Status
	if h, ok := s.devices.Current(); ok {
		st.DeviceOpen = true
		st.Handle = h.ID()
		st.Frames = h.Frames()
	}
	s.mu.Lock()
	r := s.relay
	s.mu.Unlock()
	if r != nil {
		st.Streaming = true
		st.Subscribers = r.count()
	}
	return st
}

// Shutdown ends every stream. It does not release the device.
func (s *Streamer) Shutdown() {
	s.mu.Lock()
	s.closed = true
	r := s.relay
	s.relay = nil
	s.mu.Unlock()

	s.cancel()
	if r != nil {
		r.closeAll(core.ErrSourceClosed)
	}
}

// idle detaches r when nobody listens. Subscribe attaches under the same
// lock, so no subscriber can be added to an idled relay.
func (s *Streamer) idle(r *relay) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.count() > 0 {
		return false
	}
	if s.relay == r {
		s.relay = nil
	}
	r.cancel()
	return true
}

func (s *Streamer) stop(r *relay, err error) {
	s.mu.Lock()
	if s.relay == r {
		s.relay = nil
	}
	s.mu.Unlock()
	r.cancel()
	r.closeAll(err)
}

func (s *Streamer) produce(r *relay) {
	r.logger.Info().Msg("producer started")
	var seq uint64
	for {
		if s.idle(r) {
			r.logger.Info().Uint64("frames", seq).Msg("no subscribers, producer idle")
			return
		}

		frame, err := r.handle.Next(r.ctx)
		if err != nil {
			if r.ctx.Err() != nil {
				s.stop(r, core.ErrSourceClosed)
				return
			}
			if errors.Is(err, core.ErrSourceClosed) {
				r.logger.Info().Msg("device released, ending streams")
				s.stop(r, fmt.Errorf("%w: %w", core.ErrSourceExhausted, err))
				return
			}
			r.logger.Error().Err(err).Msg("device read failed, ending streams")
			s.stop(r, fmt.Errorf("%w: %v", core.ErrSourceExhausted, err))
			return
		}
		seq++

		chunk, fm, err := s.render(r.ctx, frame)
		if err != nil {
			if r.ctx.Err() != nil {
				s.stop(r, core.ErrSourceClosed)
				return
			}
			r.logger.Error().Err(err).Uint64("seq", seq).Msg("frame processing failed, ending streams")
			s.stop(r, err)
			return
		}
		fm.Handle = r.handle.ID()
		fm.Seq = seq
		r.forward(chunk)
		s.metrics.Publish(fm)

		if s.opts.Pacing > 0 {
			timer := time.NewTimer(s.opts.Pacing)
			select {
			case <-timer.C:
			case <-r.ctx.Done():
				timer.Stop()
			}
		}
	}
}

// render runs one device frame through the live stage and encodes it.
func (s *Streamer) render(ctx context.Context, frame *domain.Frame) ([]byte, FrameMetrics, error) {
	active, err := s.configs.Live()
	if err != nil {
		return nil, FrameMetrics{}, err
	}
	in, err := frame.Convert(active.Stage.InputOrder())
	if err != nil {
		return nil, FrameMetrics{}, fmt.Errorf("%w: %v", core.ErrAnalysisFailure, err)
	}
	res, err := active.Stage.Process(ctx, in)
	if err != nil {
		if !errors.Is(err, core.ErrAnalysisFailure) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", core.ErrAnalysisFailure, err)
		}
		return nil, FrameMetrics{}, err
	}
	if res.Frame == nil {
		return nil, FrameMetrics{}, fmt.Errorf("%w: stage returned no frame", core.ErrAnalysisFailure)
	}
	payload, err := EncodeJPEG(res.Frame, s.opts.JPEGQuality)
	if err != nil {
		return nil, FrameMetrics{}, err
	}
	return Chunk(payload), FrameMetrics{
		Mode:         active.Config.Mode,
		ExerciseType: active.Config.ExerciseType,
		Generation:   active.Generation,
		Metrics:      res.Metrics,
		At:           time.Now(),
	}, nil
}
