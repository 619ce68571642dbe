package live

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pranavraj012/squatformanalysis/internal/app/device"
	"github.com/pranavraj012/squatformanalysis/internal/app/session"
	"github.com/pranavraj012/squatformanalysis/internal/core"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

// genSource produces solid BGR frames until closed or failAfter reads.
type genSource struct {
	failAfter int64
	reads     atomic.Int64
	closed    chan struct{}
	once      sync.Once
}

func newGenSource(failAfter int64) *genSource {
	return &genSource{failAfter: failAfter, closed: make(chan struct{})}
}

func (g *genSource) Next(ctx context.Context) (*domain.Frame, error) {
	select {
	case <-g.closed:
		return nil, core.ErrSourceClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Millisecond):
	}
	n := g.reads.Add(1)
	if g.failAfter > 0 && n > g.failAfter {
		return nil, fmt.Errorf("%w: unplugged", core.ErrReadFailure)
	}
	return domain.NewFrame(16, 16, domain.OrderBGR, bytes.Repeat([]byte{0, 0, 200}, 16*16))
}

func (g *genSource) Close() error {
	g.once.Do(func() { close(g.closed) })
	return nil
}

type recordStage struct {
	cfg   domain.SessionConfig
	calls *atomic.Int64
}

func (s *recordStage) InputOrder() domain.ColorOrder { return domain.OrderRGB }

func (s *recordStage) Process(_ context.Context, f *domain.Frame) (core.Result, error) {
	s.calls.Add(1)
	if f.Order() != domain.OrderRGB {
		return core.Result{}, fmt.Errorf("%w: got %s", core.ErrAnalysisFailure, f.Order())
	}
	return core.Result{Frame: f, Metrics: string(s.cfg.Mode)}, nil
}

type recordFactory struct {
	calls atomic.Int64
}

func (f *recordFactory) NewStage(cfg domain.SessionConfig) (core.Stage, error) {
	return &recordStage{cfg: cfg, calls: &f.calls}, nil
}

type fixture struct {
	streamer *Streamer
	devices  *device.Manager
	configs  *session.Store
	factory  *recordFactory
	source   *genSource
}

func newFixture(t *testing.T, failAfter int64, opts Options) *fixture {
	t.Helper()
	src := newGenSource(failAfter)
	devices := device.NewManager(device.OpenerFunc(func(context.Context) (core.Source, error) {
		return src, nil
	}), device.Options{})
	factory := &recordFactory{}
	configs := session.NewStore(factory)
	s := NewStreamer(devices, configs, NewMetricsHub(64), opts)
	t.Cleanup(func() {
		s.Shutdown()
		_ = devices.Release()
	})
	return &fixture{streamer: s, devices: devices, configs: configs, factory: factory, source: src}
}

func nextChunk(t *testing.T, sub *Subscriber) []byte {
	t.Helper()
	select {
	case chunk, ok := <-sub.Chunks():
		if !ok {
			t.Fatalf("stream ended: %v", sub.Err())
		}
		return chunk
	case <-time.After(2 * time.Second):
		t.Fatal("no chunk within 2s")
	}
	return nil
}

func waitClosed(t *testing.T, sub *Subscriber) error {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Chunks():
			if !ok {
				return sub.Err()
			}
		case <-deadline:
			t.Fatal("stream did not end")
		}
	}
}

func TestFirstChunkIsJPEG(t *testing.T) {
	f := newFixture(t, 0, Options{})
	if _, err := f.configs.Set(domain.ModeBeginner, "squat"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	sub, err := f.streamer.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	chunk := nextChunk(t, sub)

	head := []byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")
	if !bytes.HasPrefix(chunk, head) || !bytes.HasSuffix(chunk, []byte("\r\n")) {
		t.Fatalf("bad chunk framing: %q", chunk[:min(len(chunk), 48)])
	}
	payload := chunk[len(head) : len(chunk)-2]
	if len(payload) == 0 {
		t.Fatal("empty payload")
	}
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("payload is not jpeg: %v", err)
	}
	if img.Bounds().Dx() != 16 {
		t.Fatalf("image width %d", img.Bounds().Dx())
	}
}

func TestDisconnectKeepsDeviceOpen(t *testing.T) {
	f := newFixture(t, 0, Options{})
	a, err := f.streamer.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe a: %v", err)
	}
	b, err := f.streamer.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe b: %v", err)
	}
	nextChunk(t, a)
	nextChunk(t, b)

	f.streamer.Unsubscribe(a)
	if err := waitClosed(t, a); !errors.Is(err, core.ErrSubscriberDisconnected) {
		t.Fatalf("a ended with %v", err)
	}
	if !f.devices.IsOpen() {
		t.Fatal("device closed by a subscriber disconnect")
	}
	for i := 0; i < 3; i++ {
		nextChunk(t, b)
	}
	if f.devices.Opens() != 1 {
		t.Fatalf("device opened %d times", f.devices.Opens())
	}
}

func TestDeviceStaysOpenWhenLastSubscriberLeaves(t *testing.T) {
	f := newFixture(t, 0, Options{})
	sub, _ := f.streamer.Subscribe(context.Background())
	nextChunk(t, sub)
	f.streamer.Unsubscribe(sub)

	deadline := time.Now().Add(2 * time.Second)
	for f.streamer.Status().Streaming {
		if time.Now().After(deadline) {
			t.Fatal("producer did not go idle")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !f.devices.IsOpen() {
		t.Fatal("device released without explicit stop")
	}

	again, err := f.streamer.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	nextChunk(t, again)
	if f.devices.Opens() != 1 {
		t.Fatalf("device reopened (%d opens)", f.devices.Opens())
	}
}

func TestConfigChangeVisibleToNextFrame(t *testing.T) {
	f := newFixture(t, 0, Options{})
	updates, stop := f.streamer.Metrics().Listen()
	defer stop()

	sub, _ := f.streamer.Subscribe(context.Background())
	go func() {
		for range sub.Chunks() {
		}
	}()

	waitMode := func(want domain.Mode) uint64 {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case m := <-updates:
				if m.Mode == want {
					return m.Generation
				}
			case <-deadline:
				t.Fatalf("never saw mode %s", want)
			}
		}
	}
	first := waitMode(domain.ModeBeginner)

	if _, err := f.configs.Set(domain.ModePro, "squat"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	gen := waitMode(domain.ModePro)
	if gen <= first {
		t.Fatalf("generation %d not newer than %d", gen, first)
	}

	// The first frame read after the commit, and every later one, uses it.
	for i := 0; i < 5; i++ {
		select {
		case m := <-updates:
			if m.Mode != domain.ModePro {
				t.Fatalf("stale mode %s after commit", m.Mode)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no metrics")
		}
	}
}

func TestDeviceFailureEndsStreams(t *testing.T) {
	f := newFixture(t, 3, Options{})
	sub, err := f.streamer.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := waitClosed(t, sub); !errors.Is(err, core.ErrSourceExhausted) {
		t.Fatalf("stream ended with %v, want ErrSourceExhausted", err)
	}
}

func TestStopEndsStream(t *testing.T) {
	f := newFixture(t, 0, Options{})
	sub, _ := f.streamer.Subscribe(context.Background())
	nextChunk(t, sub)
	if err := f.devices.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := waitClosed(t, sub); !errors.Is(err, core.ErrSourceExhausted) {
		t.Fatalf("stream ended with %v", err)
	}
}

func TestSlowSubscriberIsKicked(t *testing.T) {
	f := newFixture(t, 0, Options{Buffer: 1, Pacing: 2 * time.Millisecond, Policy: DropPolicy{MaxDrops: 3}})
	slow, _ := f.streamer.Subscribe(context.Background())
	fast, _ := f.streamer.Subscribe(context.Background())

	stopFast := make(chan struct{})
	defer close(stopFast)
	var got atomic.Int64
	go func() {
		for {
			select {
			case _, ok := <-fast.Chunks():
				if !ok {
					return
				}
				got.Add(1)
			case <-stopFast:
				return
			}
		}
	}()

	if err := waitClosedWithoutReading(t, slow); !errors.Is(err, core.ErrSubscriberDisconnected) {
		t.Fatalf("slow subscriber ended with %v", err)
	}
	if fast.GetState() != SubscriberOk || got.Load() == 0 {
		t.Fatalf("fast subscriber affected by slow one (state %d, got %d)", fast.GetState(), got.Load())
	}
}

// waitClosedWithoutReading polls state so the buffer stays full.
func waitClosedWithoutReading(t *testing.T, sub *Subscriber) error {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for sub.GetState() != SubscriberDelete {
		if time.Now().After(deadline) {
			t.Fatal("slow subscriber never kicked")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return waitClosed(t, sub)
}

func TestEachFrameAnalysedOnce(t *testing.T) {
	f := newFixture(t, 0, Options{})
	a, _ := f.streamer.Subscribe(context.Background())
	b, _ := f.streamer.Subscribe(context.Background())
	for i := 0; i < 5; i++ {
		nextChunk(t, a)
		nextChunk(t, b)
	}
	f.streamer.Shutdown()
	waitClosed(t, a)
	waitClosed(t, b)
	if calls, reads := f.factory.calls.Load(), f.source.reads.Load(); calls > reads {
		t.Fatalf("%d analysis calls for %d device reads", calls, reads)
	}
}

func TestSubscribeDeviceUnavailable(t *testing.T) {
	devices := device.NewManager(device.OpenerFunc(func(context.Context) (core.Source, error) {
		return nil, errors.New("no camera")
	}), device.Options{})
	s := NewStreamer(devices, session.NewStore(&recordFactory{}), nil, Options{})
	defer s.Shutdown()
	if _, err := s.Subscribe(context.Background()); !errors.Is(err, core.ErrDeviceUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if s.Status().Streaming || devices.IsOpen() {
		t.Fatal("half-open state after failed subscribe")
	}
}

func TestEncodeJPEGHonoursOrder(t *testing.T) {
	// Pure red expressed in BGR order.
	f, _ := domain.NewFrame(8, 8, domain.OrderBGR, bytes.Repeat([]byte{0, 0, 255}, 64))
	data, err := EncodeJPEG(f, 95)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r, g, b, _ := img.At(4, 4).RGBA()
	if r>>8 < 200 || g>>8 > 60 || b>>8 > 60 {
		t.Fatalf("pixel = %d,%d,%d, want red", r>>8, g>>8, b>>8)
	}
}

func TestDropPolicy(t *testing.T) {
	p := DropPolicy{MaxDrops: 2}
	if p.OnBackPressure(nil, 1) != DropFrame {
		t.Fatal("first drop should drop")
	}
	if p.OnBackPressure(nil, 2) != KickSubscriber {
		t.Fatal("limit should kick")
	}
	if (DropPolicy{}).OnBackPressure(nil, 1000) != DropFrame {
		t.Fatal("zero limit should never kick")
	}
}

func TestMetricsHubDropsForSlowListener(t *testing.T) {
	h := NewMetricsHub(1)
	ch, stop := h.Listen()
	h.Publish(FrameMetrics{Seq: 1})
	h.Publish(FrameMetrics{Seq: 2})
	if m := <-ch; m.Seq != 1 {
		t.Fatalf("seq = %d", m.Seq)
	}
	stop()
	stop()
	if h.Len() != 0 {
		t.Fatal("listener not removed")
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed")
	}
}
