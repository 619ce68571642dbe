package core

import (
	"context"

	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

//go:generate mockgen -destination=mocks/mock_stage.go -package=mocks . Stage,StageFactory

// Result is the output of one analysis call. Metrics are passed through untouched.
type Result struct {
	Frame   *domain.Frame
	Metrics any
}

// Stage analyses frames for one logical session. It may keep running
// counters between calls. Callers must convert frames to InputOrder first;
// the returned frame is in the same order.
type Stage interface {
	InputOrder() domain.ColorOrder
	Process(ctx context.Context, f *domain.Frame) (Result, error)
}

// StageFactory creates a fresh Stage bound to cfg.
type StageFactory interface {
	NewStage(cfg domain.SessionConfig) (Stage, error)
}
