package orch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/pranavraj012/squatformanalysis/internal/adapters/storage"
	"github.com/pranavraj012/squatformanalysis/internal/app/device"
	"github.com/pranavraj012/squatformanalysis/internal/app/live"
	"github.com/pranavraj012/squatformanalysis/internal/app/session"
	"github.com/pranavraj012/squatformanalysis/internal/app/transcode"
	"github.com/pranavraj012/squatformanalysis/internal/core"
	"github.com/pranavraj012/squatformanalysis/internal/core/mocks"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

type loopSource struct {
	once   sync.Once
	closed chan struct{}
}

func (s *loopSource) Next(ctx context.Context) (*domain.Frame, error) {
	select {
	case <-s.closed:
		return nil, core.ErrSourceClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return domain.NewFrame(4, 4, domain.OrderBGR, make([]byte, domain.Size(4, 4)))
}

func (s *loopSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type clipSource struct {
	left int
}

func (s *clipSource) Next(context.Context) (*domain.Frame, error) {
	if s.left == 0 {
		return nil, core.ErrEndOfStream
	}
	s.left--
	return domain.NewFrame(4, 4, domain.OrderBGR, make([]byte, domain.Size(4, 4)))
}

func (s *clipSource) Close() error { return nil }

func (s *clipSource) Info() core.StreamInfo {
	return core.StreamInfo{Width: 4, Height: 4, FrameRate: "25/1", FrameCount: 3}
}

type clipOpener struct{ frames int }

func (o clipOpener) Open(context.Context, string) (core.FileSource, error) {
	return &clipSource{left: o.frames}, nil
}

// fileSink writes one byte per frame and publishes the file on Commit.
type fileSink struct {
	path string
	buf  bytes.Buffer
}

func (s *fileSink) Order() domain.ColorOrder { return domain.OrderBGR }

func (s *fileSink) Write(*domain.Frame) error { return s.buf.WriteByte('f') }

func (s *fileSink) Commit() error { return os.WriteFile(s.path, s.buf.Bytes(), 0o644) }

func (s *fileSink) Abort() error { return nil }

type fileSinkOpener struct{}

func (fileSinkOpener) Open(_ context.Context, path string, _ core.SinkSpec) (core.Sink, error) {
	return &fileSink{path: path}, nil
}

func passthroughFactory(t *testing.T) *mocks.MockStageFactory {
	t.Helper()
	ctrl := gomock.NewController(t)
	factory := mocks.NewMockStageFactory(ctrl)
	factory.EXPECT().NewStage(gomock.Any()).AnyTimes().DoAndReturn(func(domain.SessionConfig) (core.Stage, error) {
		stage := mocks.NewMockStage(ctrl)
		stage.EXPECT().InputOrder().Return(domain.OrderRGB).AnyTimes()
		stage.EXPECT().Process(gomock.Any(), gomock.Any()).AnyTimes().DoAndReturn(
			func(_ context.Context, f *domain.Frame) (core.Result, error) {
				return core.Result{Frame: f}, nil
			})
		return stage, nil
	})
	return factory
}

func newOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.New(filepath.Join(dir, "uploads"), filepath.Join(dir, "outputs"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	devices := device.NewManager(device.OpenerFunc(func(context.Context) (core.Source, error) {
		return &loopSource{closed: make(chan struct{})}, nil
	}), device.Options{})
	configs := session.NewStore(passthroughFactory(t))
	o := &Orchestrator{
		Devices:  devices,
		Configs:  configs,
		Streamer: live.NewStreamer(devices, configs, nil, live.Options{Pacing: time.Millisecond}),
		Jobs:     transcode.NewService(transcode.NewTranscoder(clipOpener{frames: 3}, fileSinkOpener{}, "libx264"), nil),
		Storage:  store,
	}
	t.Cleanup(o.Shutdown)
	return o
}

func TestSetModeRejectsUnknownMode(t *testing.T) {
	o := newOrchestrator(t)
	if _, err := o.SetMode("Expert", "squat"); !errors.Is(err, domain.ErrInvalidMode) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := o.Configs.Current(); ok {
		t.Fatal("rejected mode was committed")
	}
	cfg, err := o.SetMode("", "")
	if err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if cfg.Mode != domain.ModeBeginner || cfg.ExerciseType != "squat" || !cfg.Mirrored {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestStartStopCameraIsIdempotent(t *testing.T) {
	o := newOrchestrator(t)
	if err := o.StopCamera(); err != nil {
		t.Fatalf("StopCamera on closed device: %v", err)
	}
	for i := 0; i < 2; i++ {
		ex, err := o.StartCamera(context.Background(), "Plank")
		if err != nil {
			t.Fatalf("StartCamera: %v", err)
		}
		if ex != "plank" {
			t.Fatalf("exercise = %q", ex)
		}
	}
	if o.Devices.Opens() != 1 || !o.Devices.IsOpen() {
		t.Fatalf("opens = %d, open = %v", o.Devices.Opens(), o.Devices.IsOpen())
	}
	for i := 0; i < 2; i++ {
		if err := o.StopCamera(); err != nil {
			t.Fatalf("StopCamera: %v", err)
		}
	}
	if o.Devices.IsOpen() {
		t.Fatal("device still open")
	}
	if o.Status().Exercise != "plank" {
		t.Fatalf("status = %+v", o.Status())
	}
}

func TestWatchAndLeave(t *testing.T) {
	o := newOrchestrator(t)
	sub, err := o.Watch(context.Background(), "squat")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	chunk := <-sub.Chunks()
	if !bytes.HasPrefix(chunk, []byte("--"+live.Boundary+"\r\n")) {
		t.Fatalf("chunk starts with %q", chunk[:16])
	}
	o.Leave(sub)
	if !o.Devices.IsOpen() {
		t.Fatal("leaving closed the device")
	}
}

func TestUploadProducesArtifact(t *testing.T) {
	o := newOrchestrator(t)
	res, err := o.Upload(context.Background(), UploadRequest{
		Filename: "../My Clip.mp4",
		Body:     strings.NewReader("not really a video"),
		Mode:     "Pro",
		Exercise: "Squat",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Original != "/uploads/My_Clip.mp4" || res.Processed != "/outputs/processed_squat_My_Clip.mp4" {
		t.Fatalf("paths = %s, %s", res.Original, res.Processed)
	}
	if res.ExerciseType != "squat" || res.Job.Status != domain.JobSucceeded || res.Job.FramesDone != 3 {
		t.Fatalf("result = %+v", res)
	}
	out, err := o.Storage.LookupOutput("processed_squat_My_Clip.mp4")
	if err != nil {
		t.Fatalf("LookupOutput: %v", err)
	}
	if data, _ := os.ReadFile(out); string(data) != "fff" {
		t.Fatalf("artifact has %q", data)
	}
	if _, ok := o.Configs.Current(); ok {
		t.Fatal("upload replaced the live config")
	}
}

func TestUploadRejectsBadInputBeforeSaving(t *testing.T) {
	o := newOrchestrator(t)
	cases := []struct {
		name string
		req  UploadRequest
		want error
	}{
		{"mode", UploadRequest{Filename: "a.mp4", Body: strings.NewReader("x"), Mode: "Expert"}, domain.ErrInvalidMode},
		{"filename", UploadRequest{Filename: "../..", Body: strings.NewReader("x")}, storage.ErrInvalidName},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := o.Upload(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
	entries, _ := os.ReadDir(o.Storage.UploadDir())
	if len(entries) != 0 {
		t.Fatalf("upload area has %d entries", len(entries))
	}
}

func TestTranscodeMissingInput(t *testing.T) {
	o := newOrchestrator(t)
	_, err := o.Transcode(context.Background(), filepath.Join(t.TempDir(), "none.mp4"), "out.mp4", "Beginner", "squat")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}
