package session

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pranavraj012/squatformanalysis/internal/core"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

// Active pairs a committed config with the live stage built for it.
type Active struct {
	Config     domain.SessionConfig
	Stage      core.Stage
	Generation uint64
}

// Store holds the process-wide active configuration. Set replaces it
// wholesale; readers always see a config and stage that belong together.
type Store struct {
	factory core.StageFactory

	mu     sync.RWMutex
	active *Active
	gen    uint64
}

func NewStore(factory core.StageFactory) *Store {
	return &Store{factory: factory}
}

// Set builds the live config (mirrored) and commits it.
func (s *Store) Set(mode domain.Mode, exercise string) (domain.SessionConfig, error) {
	cfg, err := domain.NewSessionConfig(mode, exercise, true)
	if err != nil {
		return domain.SessionConfig{}, err
	}
	stage, err := s.factory.NewStage(cfg)
	if err != nil {
		return domain.SessionConfig{}, fmt.Errorf("%w: %v", core.ErrAnalysisFailure, err)
	}

	s.mu.Lock()
	s.gen++
	s.active = &Active{Config: cfg, Stage: stage, Generation: s.gen}
	gen := s.gen
	s.mu.Unlock()

	log.Info().Str("module", "session").Str("mode", string(cfg.Mode)).Str("exercise", cfg.ExerciseType).Uint64("generation", gen).Msg("active config replaced")
	return cfg, nil
}

// Current returns the committed config, if any has been set.
func (s *Store) Current() (domain.SessionConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return domain.SessionConfig{}, false
	}
	return s.active.Config, true
}

// Live returns the active config and stage for the next live frame. When
// nothing was configured yet the Beginner default is installed first.
func (s *Store) Live() (Active, error) {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()
	if active != nil {
		return *active, nil
	}

	cfg := domain.DefaultSessionConfig()
	stage, err := s.factory.NewStage(cfg)
	if err != nil {
		return Active{}, fmt.Errorf("%w: %v", core.ErrAnalysisFailure, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		s.gen++
		s.active = &Active{Config: cfg, Stage: stage, Generation: s.gen}
		log.Info().Str("module", "session").Msg("no config set, using beginner default")
	}
	return *s.active, nil
}

// Snapshot builds an unmirrored config and its own stage for one transcode
// job. The active config is left untouched.
func (s *Store) Snapshot(mode domain.Mode, exercise string) (domain.SessionConfig, core.Stage, error) {
	cfg, err := domain.NewSessionConfig(mode, exercise, false)
	if err != nil {
		return domain.SessionConfig{}, nil, err
	}
	stage, err := s.factory.NewStage(cfg)
	if err != nil {
		return domain.SessionConfig{}, nil, fmt.Errorf("%w: %v", core.ErrAnalysisFailure, err)
	}
	return cfg, stage, nil
}
