package core

import (
	"context"

	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

// Source yields raw frames. Next blocks until a frame is decoded.
// Close is idempotent, safe after a failed Next and may be called while
// Next blocks; the blocked call then returns.
type Source interface {
	Next(ctx context.Context) (*domain.Frame, error)
	Close() error
}

// StreamInfo is discovered when a file source is opened.
type StreamInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	// FrameRate is the rational rate as reported, e.g. "30000/1001".
	FrameRate string  `json:"frameRate"`
	FPS       float64 `json:"fps"`
	// FrameCount is 0 when the container does not declare it.
	FrameCount int    `json:"frameCount"`
	Codec      string `json:"codec"`
}

// FileSource is a finite Source. Next returns ErrEndOfStream once the file
// is exhausted and on every call after that.
type FileSource interface {
	Source
	Info() StreamInfo
}

// SinkSpec configures an output sink.
type SinkSpec struct {
	Width     int
	Height    int
	FrameRate string
	Codec     string
	Order     domain.ColorOrder
}

// Sink accepts frames in order. Commit finalises the artifact; Abort discards
// whatever was written. After either call further writes fail.
type Sink interface {
	Order() domain.ColorOrder
	Write(f *domain.Frame) error
	Commit() error
	Abort() error
}
