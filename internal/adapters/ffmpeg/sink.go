package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pranavraj012/squatformanalysis/internal/core"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

const (
	DefaultCodec = "libx264"
	partSuffix   = ".part"

	// yuv420p needs even dimensions; odd sources gain one padded row or column.
	evenPad = "pad=ceil(iw/2)*2:ceil(ih/2)*2"
)

// SinkArgs builds the encode argument list writing an mp4 to out.
func SinkArgs(out string, spec core.SinkSpec) []string {
	codec := spec.Codec
	if codec == "" {
		codec = DefaultCodec
	}
	rate := spec.FrameRate
	if ParseRate(rate) <= 0 {
		rate = "30"
	}
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo",
		"-pix_fmt", spec.Order.PixFmt(),
		"-s", fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"-r", rate,
		"-i", "pipe:0",
		"-an",
		"-vf", evenPad,
		"-c:v", codec,
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-f", "mp4",
		out,
	}
}

// Encoder opens ffmpeg encoding sinks.
type Encoder struct {
	Binary string
}

func (e Encoder) Open(ctx context.Context, path string, spec core.SinkSpec) (core.Sink, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return nil, fmt.Errorf("%w: sink dimensions %dx%d", core.ErrWriteFailure, spec.Width, spec.Height)
	}
	if spec.Order != domain.OrderRGB && spec.Order != domain.OrderBGR {
		spec.Order = domain.OrderBGR
	}
	binary := e.Binary
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	part, err := createPart(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrWriteFailure, err)
	}
	proc, p, err := startProcess(ctx, binary, SinkArgs(part, spec), true, false)
	if err != nil {
		_ = removeFile(part)
		return nil, fmt.Errorf("%w: %v", core.ErrWriteFailure, err)
	}
	return &sink{proc: proc, stdin: p.stdin, path: path, part: part, spec: spec}, nil
}

// createPart reserves a partial file next to path that no other sink shares.
func createPart(path string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*"+partSuffix)
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

type sink struct {
	proc  *process
	stdin io.WriteCloser
	path  string
	part  string
	spec  core.SinkSpec

	mu   sync.Mutex
	done bool
}

func (s *sink) Order() domain.ColorOrder { return s.spec.Order }

func (s *sink) Write(f *domain.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return fmt.Errorf("%w: sink finalised", core.ErrWriteFailure)
	}
	if f.Order() != s.spec.Order {
		return fmt.Errorf("%w: frame is %s, sink expects %s", core.ErrWriteFailure, f.Order(), s.spec.Order)
	}
	if f.Width() != s.spec.Width || f.Height() != s.spec.Height {
		return fmt.Errorf("%w: frame is %dx%d, sink expects %dx%d", core.ErrWriteFailure, f.Width(), f.Height(), s.spec.Width, s.spec.Height)
	}
	if _, err := s.stdin.Write(f.Pix()); err != nil {
		if msg := s.proc.stderr.String(); msg != "" {
			return fmt.Errorf("%w: %v: %s", core.ErrWriteFailure, err, msg)
		}
		return fmt.Errorf("%w: %v", core.ErrWriteFailure, err)
	}
	return nil
}

// Commit flushes the encoder and moves the finished file into place.
func (s *sink) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return fmt.Errorf("%w: sink finalised", core.ErrWriteFailure)
	}
	s.done = true
	closeErr := s.stdin.Close()
	if err := s.proc.wait(); err != nil {
		removeFile(s.part)
		return fmt.Errorf("%w: encoder: %v", core.ErrWriteFailure, err)
	}
	if closeErr != nil {
		removeFile(s.part)
		return fmt.Errorf("%w: %v", core.ErrWriteFailure, closeErr)
	}
	if err := os.Rename(s.part, s.path); err != nil {
		removeFile(s.part)
		return fmt.Errorf("%w: %v", core.ErrWriteFailure, err)
	}
	return nil
}

// Abort kills the encoder and removes the partial output. Safe to call twice.
func (s *sink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	_ = s.stdin.Close()
	s.proc.stop()
	_ = s.proc.wait()
	return removeFile(s.part)
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
