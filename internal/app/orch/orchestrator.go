package orch

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pranavraj012/squatformanalysis/internal/adapters/storage"
	"github.com/pranavraj012/squatformanalysis/internal/app/device"
	"github.com/pranavraj012/squatformanalysis/internal/app/live"
	"github.com/pranavraj012/squatformanalysis/internal/app/session"
	"github.com/pranavraj012/squatformanalysis/internal/app/transcode"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

// Orchestrator is the context object handed to the transport. It binds the
// device lifecycle, the config store, the live streamer and the transcode
// jobs; nothing below it is a package-level singleton.
type Orchestrator struct {
	Devices  *device.Manager
	Configs  *session.Store
	Streamer *live.Streamer
	Jobs     *transcode.Service
	Storage  *storage.Storage
	// MaxUpload caps an uploaded file in bytes; 0 means unlimited.
	MaxUpload int64

	mu       sync.Mutex
	exercise string
}

// SetMode replaces the active live configuration.
func (o *Orchestrator) SetMode(mode, exercise string) (domain.SessionConfig, error) {
	m, err := domain.ParseMode(mode)
	if err != nil {
		return domain.SessionConfig{}, err
	}
	cfg, err := o.Configs.Set(m, exercise)
	if err != nil {
		return domain.SessionConfig{}, err
	}
	o.setExercise(cfg.ExerciseType)
	return cfg, nil
}

// Exercise is the last exercise hint given by a client.
func (o *Orchestrator) Exercise() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.exercise == "" {
		return domain.DefaultExercise
	}
	return o.exercise
}

func (o *Orchestrator) setExercise(exercise string) {
	o.mu.Lock()
	o.exercise = exercise
	o.mu.Unlock()
}

// ServiceStatus is reported by the status endpoint.
type ServiceStatus struct {
	Live     live.Status           `json:"live"`
	Config   *domain.SessionConfig `json:"config,omitempty"`
	Exercise string                `json:"exerciseType"`
	Metrics  int                   `json:"metricsListeners"`
}

func (o *Orchestrator) Status() ServiceStatus {
	st := ServiceStatus{
		Live:     o.Streamer.Status(),
		Exercise: o.Exercise(),
		Metrics:  o.Streamer.Metrics().Len(),
	}
	if cfg, ok := o.Configs.Current(); ok {
		st.Config = &cfg
	}
	return st
}

// Shutdown ends every live stream and releases the device.
func (o *Orchestrator) Shutdown() {
	o.Streamer.Shutdown()
	if err := o.Devices.Release(); err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("release device on shutdown")
	}
}

func normalizeHint(exercise string) string {
	e, err := domain.NormalizeExercise(exercise)
	if err != nil {
		return domain.DefaultExercise
	}
	return e
}
