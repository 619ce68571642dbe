package analysis

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/pranavraj012/squatformanalysis/internal/core"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

func solidFrame(t *testing.T, w, h int, order domain.ColorOrder, px []byte) *domain.Frame {
	t.Helper()
	f, err := domain.NewFrame(w, h, order, bytes.Repeat(px, w*h))
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	return f
}

func TestOverlayStageAnnotates(t *testing.T) {
	cfg := domain.DefaultSessionConfig()
	cfg.Mirrored = false
	stage, err := OverlayFactory{}.NewStage(cfg)
	if err != nil {
		t.Fatalf("NewStage: %v", err)
	}
	if stage.InputOrder() != domain.OrderRGB {
		t.Fatalf("input order = %s", stage.InputOrder())
	}
	in := solidFrame(t, 160, 60, domain.OrderRGB, []byte{0, 0, 0})

	for i := int64(1); i <= 3; i++ {
		res, err := stage.Process(context.Background(), in)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if !res.Frame.SameShape(in) || res.Frame.Order() != domain.OrderRGB {
			t.Fatalf("result shape %dx%d %s", res.Frame.Width(), res.Frame.Height(), res.Frame.Order())
		}
		if bytes.Equal(res.Frame.Pix(), in.Pix()) {
			t.Fatal("overlay left the frame untouched")
		}
		m, ok := res.Metrics.(OverlayMetrics)
		if !ok {
			t.Fatalf("metrics type %T", res.Metrics)
		}
		if m.Frame != i || m.Exercise != "squat" || m.Mode != domain.ModeBeginner {
			t.Fatalf("metrics = %+v", m)
		}
	}
	if in.Pix()[0] != 0 {
		t.Fatal("input frame was modified")
	}
}

func TestOverlayStageMirrors(t *testing.T) {
	cfg := domain.DefaultSessionConfig()
	stage, _ := OverlayFactory{}.NewStage(cfg)

	// Left half red, right half blue, tall enough that the bottom row is free of text.
	w, h := 4, 40
	pix := make([]byte, domain.Size(w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * domain.Channels
			if x < w/2 {
				pix[i] = 255
			} else {
				pix[i+2] = 255
			}
		}
	}
	in, _ := domain.NewFrame(w, h, domain.OrderRGB, pix)
	res, err := stage.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	last := (h - 1) * w * domain.Channels
	if got := res.Frame.Pix()[last : last+3]; !bytes.Equal(got, []byte{0, 0, 255}) {
		t.Fatalf("bottom-left pixel = %v, want blue after mirroring", got)
	}
}

func TestOverlayStageRejectsBGR(t *testing.T) {
	stage, _ := OverlayFactory{}.NewStage(domain.DefaultSessionConfig())
	_, err := stage.Process(context.Background(), solidFrame(t, 2, 2, domain.OrderBGR, []byte{1, 2, 3}))
	if !errors.Is(err, core.ErrAnalysisFailure) {
		t.Fatalf("err = %v, want ErrAnalysisFailure", err)
	}
}
