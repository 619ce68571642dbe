package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/pranavraj012/squatformanalysis/internal/app/live"
)

// StartCamera opens the capture device if needed and records the exercise
// hint. Calling it while the camera runs changes nothing but the hint.
func (o *Orchestrator) StartCamera(ctx context.Context, exercise string) (string, error) {
	exercise = normalizeHint(exercise)
	o.setExercise(exercise)
	h, err := o.Devices.Acquire(ctx)
	if err != nil {
		return exercise, err
	}
	log.Info().Str("module", "orch").Str("handle", h.ID()).Str("exercise", exercise).Msg("camera started")
	return exercise, nil
}

// StopCamera releases the device. Live streams on it end. Stopping a
// stopped camera succeeds.
func (o *Orchestrator) StopCamera() error {
	open := o.Devices.IsOpen()
	if err := o.Devices.Release(); err != nil {
		return err
	}
	if open {
		log.Info().Str("module", "orch").Msg("camera stopped")
	}
	return nil
}

// Watch attaches a live subscriber. exercise is only a hint.
func (o *Orchestrator) Watch(ctx context.Context, exercise string) (*live.Subscriber, error) {
	if exercise != "" {
		o.setExercise(normalizeHint(exercise))
	}
	return o.Streamer.Subscribe(ctx)
}

// Leave detaches a subscriber whose connection went away.
func (o *Orchestrator) Leave(sub *live.Subscriber) {
	o.Streamer.Unsubscribe(sub)
}

// Metrics subscribes to per-frame metrics of the live stream.
func (o *Orchestrator) Metrics() (<-chan live.FrameMetrics, func()) {
	return o.Streamer.Metrics().Listen()
}
