package ffmpeg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pranavraj012/squatformanalysis/internal/core"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

const defaultOpenTimeout = 5 * time.Second

// CaptureConfig describes the live capture device.
type CaptureConfig struct {
	Binary      string
	Device      string
	InputFormat string
	Width       int
	Height      int
	OpenTimeout time.Duration
}

// LiveArgs builds the ffmpeg argument list that turns the device into packed
// bgr24 frames on stdout.
func LiveArgs(cfg CaptureConfig) []string {
	size := fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	switch cfg.InputFormat {
	case "":
	case "v4l2":
		args = append(args, "-f", "v4l2", "-video_size", size)
	default:
		args = append(args, "-f", cfg.InputFormat)
	}
	return append(args,
		"-i", cfg.Device,
		"-an",
		"-vf", "scale="+strconv.Itoa(cfg.Width)+":"+strconv.Itoa(cfg.Height),
		"-f", "rawvideo",
		"-pix_fmt", domain.OrderBGR.PixFmt(),
		"pipe:1",
	)
}

// Capture opens the configured device through ffmpeg.
type Capture struct {
	cfg CaptureConfig
}

func NewCapture(cfg CaptureConfig) *Capture {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 640, 480
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	return &Capture{cfg: cfg}
}

// Open starts capture and waits for the first frame, so a returned source
// is known to be producing. The process is not bound to ctx; it lives until Close.
func (c *Capture) Open(ctx context.Context) (core.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(c.cfg.Device) == "" {
		return nil, fmt.Errorf("%w: no device configured", core.ErrDeviceUnavailable)
	}
	proc, p, err := startProcess(context.Background(), c.cfg.Binary, LiveArgs(c.cfg), false, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDeviceUnavailable, err)
	}
	src := newRawSource(p.stdout, c.cfg.Width, c.cfg.Height, domain.OrderBGR, true, proc.stop, proc.wait)
	if err := src.prime(c.cfg.OpenTimeout); err != nil {
		proc.stop()
		werr := proc.wait()
		if werr != nil {
			err = fmt.Errorf("%v: %v", err, werr)
		}
		return nil, fmt.Errorf("%w: %s: %v", core.ErrDeviceUnavailable, c.cfg.Device, err)
	}
	log.Info().Str("module", "ffmpeg").Str("device", c.cfg.Device).Int("width", c.cfg.Width).Int("height", c.cfg.Height).Msg("capture opened")
	return src, nil
}

// FileArgs builds the decode argument list for the first video stream of path.
func FileArgs(path string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", path,
		"-map", "0:v:0",
		"-an",
		"-fps_mode", "passthrough",
		"-f", "rawvideo",
		"-pix_fmt", domain.OrderBGR.PixFmt(),
		"pipe:1",
	}
}

// Decoder opens video files as finite frame sources.
type Decoder struct {
	FFmpeg  string
	FFprobe string
}

func (d Decoder) Open(ctx context.Context, path string) (core.FileSource, error) {
	probe, err := Probe(ctx, d.FFprobe, path)
	if err != nil {
		return nil, err
	}
	info, err := probe.StreamInfo()
	if err != nil {
		return nil, err
	}
	binary := d.FFmpeg
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	proc, p, err := startProcess(ctx, binary, FileArgs(path), false, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrFileUnreadable, err)
	}
	src := newRawSource(p.stdout, info.Width, info.Height, domain.OrderBGR, false, proc.stop, proc.wait)
	log.Debug().Str("module", "ffmpeg").Str("path", path).Str("rate", info.FrameRate).Int("frames", info.FrameCount).Msg("decoder opened")
	return &fileSource{rawSource: src, info: info}, nil
}
