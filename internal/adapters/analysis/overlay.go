package analysis

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync/atomic"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/pranavraj012/squatformanalysis/internal/core"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

var overlayColor = color.RGBA{R: 255, G: 255, B: 0, A: 255}

// OverlayMetrics is what the built-in stage reports per frame.
type OverlayMetrics struct {
	Exercise string      `json:"exercise"`
	Mode     domain.Mode `json:"mode"`
	Frame    int64       `json:"frame"`
	Mirrored bool        `json:"mirrored"`
}

// OverlayFactory builds stages that stamp the active configuration onto
// every frame. It stands in for a pose worker when none is configured.
type OverlayFactory struct{}

func (OverlayFactory) NewStage(cfg domain.SessionConfig) (core.Stage, error) {
	return &overlayStage{cfg: cfg}, nil
}

type overlayStage struct {
	cfg    domain.SessionConfig
	frames atomic.Int64
}

func (s *overlayStage) InputOrder() domain.ColorOrder { return domain.OrderRGB }

func (s *overlayStage) Process(ctx context.Context, f *domain.Frame) (core.Result, error) {
	if err := ctx.Err(); err != nil {
		return core.Result{}, err
	}
	if f.Order() != domain.OrderRGB {
		return core.Result{}, fmt.Errorf("%w: overlay wants rgb, got %s", core.ErrAnalysisFailure, f.Order())
	}
	n := s.frames.Add(1)
	if s.cfg.Mirrored {
		f = f.Mirror()
	}

	img := f.Image()
	drawLines(img, []string{
		fmt.Sprintf("%s | %s", strings.ToUpper(s.cfg.ExerciseType), s.cfg.Mode),
		fmt.Sprintf("frame %d", n),
	})

	out, err := domain.FrameFromImage(img, domain.OrderRGB)
	if err != nil {
		return core.Result{}, fmt.Errorf("%w: %v", core.ErrAnalysisFailure, err)
	}
	return core.Result{
		Frame: out,
		Metrics: OverlayMetrics{
			Exercise: s.cfg.ExerciseType,
			Mode:     s.cfg.Mode,
			Frame:    n,
			Mirrored: s.cfg.Mirrored,
		},
	}, nil
}

func drawLines(img *image.RGBA, lines []string) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(overlayColor),
		Face: face,
	}
	for i, line := range lines {
		d.Dot = fixed.Point26_6{
			X: fixed.I(10),
			Y: fixed.I(20 + i*(face.Height+4)),
		}
		d.DrawString(line)
	}
}
