package transcode

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/pranavraj012/squatformanalysis/internal/core"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

const defaultQueue = 4

// SourceOpener opens an input file for decoding.
type SourceOpener interface {
	Open(ctx context.Context, path string) (core.FileSource, error)
}

// SinkOpener opens an output artifact for encoding.
type SinkOpener interface {
	Open(ctx context.Context, path string, spec core.SinkSpec) (core.Sink, error)
}

type Request struct {
	InputPath  string
	OutputPath string
	Config     domain.SessionConfig
	// Stage analyses every frame of this job and nothing else.
	Stage core.Stage
	// Progress, when set, is called after each written frame. total is 0
	// when the container does not declare a frame count.
	Progress func(done, total int)
}

type Result struct {
	OutputPath string
	Frames     int
	Info       core.StreamInfo
}

// Transcoder runs one file through the analysis stage into a new artifact.
// Frames are written in input order, each analysed exactly once.
type Transcoder struct {
	sources SourceOpener
	sinks   SinkOpener
	codec   string
	queue   int
}

func NewTranscoder(sources SourceOpener, sinks SinkOpener, codec string) *Transcoder {
	return &Transcoder{sources: sources, sinks: sinks, codec: codec, queue: defaultQueue}
}

// Transcode blocks until the artifact is committed or the job fails. On
// failure nothing is left at OutputPath.
func (t *Transcoder) Transcode(ctx context.Context, req Request) (Result, error) {
	if req.Stage == nil {
		return Result{}, fmt.Errorf("%w: no stage", core.ErrAnalysisFailure)
	}
	src, err := t.sources.Open(ctx, req.InputPath)
	if err != nil {
		return Result{}, classify(ctx, err)
	}
	defer src.Close()

	info := src.Info()
	sink, err := t.sinks.Open(ctx, req.OutputPath, core.SinkSpec{
		Width:     info.Width,
		Height:    info.Height,
		FrameRate: info.FrameRate,
		Codec:     t.codec,
		Order:     domain.OrderBGR,
	})
	if err != nil {
		return Result{}, classify(ctx, err)
	}

	frames := make(chan *domain.Frame, t.queue)
	written := 0
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(frames)
		for {
			f, err := src.Next(gctx)
			if errors.Is(err, core.ErrEndOfStream) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case frames <- f:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		for f := range frames {
			out, err := analyse(gctx, req.Stage, f, sink.Order())
			if err != nil {
				return err
			}
			if err := sink.Write(out); err != nil {
				return err
			}
			written++
			if req.Progress != nil {
				req.Progress(written, info.FrameCount)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		_ = sink.Abort()
		return Result{}, classify(ctx, err)
	}
	if err := ctx.Err(); err != nil {
		_ = sink.Abort()
		return Result{}, classify(ctx, err)
	}
	if err := sink.Commit(); err != nil {
		return Result{}, classify(ctx, err)
	}
	return Result{OutputPath: req.OutputPath, Frames: written, Info: info}, nil
}

// analyse converts f for the stage, runs it and converts the annotated frame
// to the sink's order.
func analyse(ctx context.Context, stage core.Stage, f *domain.Frame, order domain.ColorOrder) (*domain.Frame, error) {
	in, err := f.Convert(stage.InputOrder())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrAnalysisFailure, err)
	}
	res, err := stage.Process(ctx, in)
	if err != nil {
		if errors.Is(err, core.ErrAnalysisFailure) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", core.ErrAnalysisFailure, err)
	}
	if res.Frame == nil || !res.Frame.SameShape(f) {
		return nil, fmt.Errorf("%w: stage changed frame shape", core.ErrAnalysisFailure)
	}
	return res.Frame.Convert(order)
}

// classify maps a pipeline error onto the transcode failure kinds.
func classify(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %v", core.ErrCanceled, ctx.Err())
	case errors.Is(err, core.ErrReadFailure):
		return fmt.Errorf("%w: %w", core.ErrFileUnreadable, err)
	default:
		return err
	}
}
