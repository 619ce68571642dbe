package transcode

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pranavraj012/squatformanalysis/internal/core"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

const (
	progressSaveInterval = 500 * time.Millisecond
	// maxRetainedJobs bounds finished records kept in memory when they
	// could not be handed to the store.
	maxRetainedJobs = 256
)

// Store persists job records.
type Store interface {
	Save(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, error)
	List(ctx context.Context, limit int) ([]domain.Job, error)
}

// JobSpec describes one upload to transcode.
type JobSpec struct {
	InputPath  string
	OutputPath string
	// Original and Processed are the public paths reported to clients.
	Original  string
	Processed string
	Config    domain.SessionConfig
	Stage     core.Stage
}

type jobEntry struct {
	mu        sync.Mutex
	job       domain.Job
	cancel    context.CancelFunc
	lastSaved time.Time
}

func (e *jobEntry) snapshot() domain.Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job
}

// Service runs transcode jobs and keeps their records.
type Service struct {
	transcoder *Transcoder
	store      Store

	mu       sync.RWMutex
	jobs     map[string]*jobEntry
	finished []string
}

// NewService wires the transcoder to an optional store. Running jobs are
// tracked in memory; finished ones are read back from the store. Without a
// store the most recent finished records stay in memory.
func NewService(t *Transcoder, store Store) *Service {
	return &Service{transcoder: t, store: store, jobs: make(map[string]*jobEntry)}
}

// Run transcodes spec synchronously and returns the final job record.
// Cancelling ctx or calling Cancel aborts the job.
func (s *Service) Run(ctx context.Context, spec JobSpec) (domain.Job, error) {
	now := time.Now().UTC()
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entry := &jobEntry{
		job: domain.Job{
			ID:           uuid.NewString(),
			Original:     spec.Original,
			Processed:    spec.Processed,
			Mode:         spec.Config.Mode,
			ExerciseType: spec.Config.ExerciseType,
			Status:       domain.JobRunning,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		cancel: cancel,
	}
	s.mu.Lock()
	s.jobs[entry.job.ID] = entry
	s.mu.Unlock()

	logger := log.With().Str("module", "transcode").Str("job", entry.job.ID).Logger()
	logger.Info().Str("input", spec.InputPath).Str("mode", string(spec.Config.Mode)).Str("exercise", spec.Config.ExerciseType).Msg("job started")
	_ = s.persist(ctx, entry.snapshot())

	res, err := s.transcoder.Transcode(jobCtx, Request{
		InputPath:  spec.InputPath,
		OutputPath: spec.OutputPath,
		Config:     spec.Config,
		Stage:      spec.Stage,
		Progress: func(done, total int) {
			entry.mu.Lock()
			entry.job.FramesDone = done
			entry.job.FramesTotal = total
			entry.job.UpdatedAt = time.Now().UTC()
			save := time.Since(entry.lastSaved) >= progressSaveInterval
			if save {
				entry.lastSaved = time.Now()
			}
			job := entry.job
			entry.mu.Unlock()
			if save {
				_ = s.persist(ctx, job)
			}
		},
	})

	entry.mu.Lock()
	entry.job.UpdatedAt = time.Now().UTC()
	switch {
	case err == nil:
		entry.job.Status = domain.JobSucceeded
		entry.job.FramesDone = res.Frames
		if entry.job.FramesTotal == 0 {
			entry.job.FramesTotal = res.Frames
		}
	case errors.Is(err, core.ErrCanceled):
		entry.job.Status = domain.JobCanceled
		entry.job.Error = err.Error()
	default:
		entry.job.Status = domain.JobFailed
		entry.job.Error = err.Error()
	}
	entry.cancel = nil
	job := entry.job
	entry.mu.Unlock()

	// The request may be gone; the final record is still written.
	s.retire(job.ID, s.persist(context.WithoutCancel(ctx), job))
	if err != nil {
		logger.Error().Err(err).Int("frames", job.FramesDone).Msg("job failed")
		return job, err
	}
	logger.Info().Int("frames", job.FramesDone).Str("output", res.OutputPath).Msg("job finished")
	return job, nil
}

func (s *Service) persist(ctx context.Context, job domain.Job) bool {
	if s.store == nil {
		return false
	}
	if err := s.store.Save(ctx, job); err != nil {
		log.Warn().Err(err).Str("module", "transcode").Str("job", job.ID).Msg("save job record")
		return false
	}
	return true
}

// retire drops a finished job from memory once the store holds it, and
// otherwise keeps at most maxRetainedJobs of them.
func (s *Service) retire(id string, saved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if saved {
		delete(s.jobs, id)
		return
	}
	s.finished = append(s.finished, id)
	for len(s.finished) > maxRetainedJobs {
		delete(s.jobs, s.finished[0])
		s.finished = s.finished[1:]
	}
}

// Tracked counts job records held in memory.
func (s *Service) Tracked() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Cancel aborts a running job. It reports false for unknown or finished jobs.
func (s *Service) Cancel(id string) bool {
	s.mu.RLock()
	entry, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	entry.mu.Lock()
	cancel := entry.cancel
	entry.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	log.Info().Str("module", "transcode").Str("job", id).Msg("job cancel requested")
	return true
}

func (s *Service) Get(ctx context.Context, id string) (domain.Job, error) {
	s.mu.RLock()
	entry, ok := s.jobs[id]
	s.mu.RUnlock()
	if ok {
		return entry.snapshot(), nil
	}
	if s.store != nil {
		return s.store.Get(ctx, id)
	}
	return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
}

// List returns jobs newest first.
func (s *Service) List(ctx context.Context, limit int) ([]domain.Job, error) {
	if s.store != nil {
		return s.store.List(ctx, limit)
	}
	s.mu.RLock()
	jobs := make([]domain.Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		jobs = append(jobs, e.snapshot())
	}
	s.mu.RUnlock()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
