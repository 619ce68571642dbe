package orch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/rs/zerolog/log"

	"github.com/pranavraj012/squatformanalysis/internal/adapters/storage"
	"github.com/pranavraj012/squatformanalysis/internal/app/transcode"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

const (
	UploadsRoute = "/uploads/"
	OutputsRoute = "/outputs/"
)

type UploadRequest struct {
	Filename string
	Body     io.Reader
	Mode     string
	Exercise string
}

// UploadResult carries the public paths of both stored files.
type UploadResult struct {
	Original     string     `json:"original"`
	Processed    string     `json:"processed"`
	ExerciseType string     `json:"exerciseType"`
	Job          domain.Job `json:"job"`
}

// Upload stores the file and transcodes it with a config snapshot taken now.
// The call returns once the artifact is complete or the job failed.
func (o *Orchestrator) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		return UploadResult{}, err
	}
	name := storage.SecureFilename(req.Filename)
	if name == "" {
		return UploadResult{}, fmt.Errorf("%w: %q", storage.ErrInvalidName, req.Filename)
	}
	cfg, stage, err := o.Configs.Snapshot(mode, req.Exercise)
	if err != nil {
		return UploadResult{}, err
	}

	inPath, err := o.Storage.SaveUpload(name, req.Body, o.MaxUpload)
	if err != nil {
		return UploadResult{}, err
	}
	outName := storage.OutputName(cfg.ExerciseType, name)
	outPath, err := o.Storage.OutputPath(outName)
	if err != nil {
		return UploadResult{}, err
	}
	log.Info().Str("module", "orch").Str("file", name).Str("exercise", cfg.ExerciseType).Msg("upload stored")

	res := UploadResult{
		Original:     path.Join(UploadsRoute, name),
		Processed:    path.Join(OutputsRoute, outName),
		ExerciseType: cfg.ExerciseType,
	}
	res.Job, err = o.Jobs.Run(ctx, transcode.JobSpec{
		InputPath:  inPath,
		OutputPath: outPath,
		Original:   res.Original,
		Processed:  res.Processed,
		Config:     cfg,
		Stage:      stage,
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

// Transcode runs an already stored file, for the command line.
func (o *Orchestrator) Transcode(ctx context.Context, inPath, outPath, mode, exercise string) (domain.Job, error) {
	m, err := domain.ParseMode(mode)
	if err != nil {
		return domain.Job{}, err
	}
	if _, err := os.Stat(inPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Job{}, fmt.Errorf("%w: %s", storage.ErrNotFound, inPath)
		}
		return domain.Job{}, err
	}
	cfg, stage, err := o.Configs.Snapshot(m, exercise)
	if err != nil {
		return domain.Job{}, err
	}
	return o.Jobs.Run(ctx, transcode.JobSpec{
		InputPath:  inPath,
		OutputPath: outPath,
		Original:   inPath,
		Processed:  outPath,
		Config:     cfg,
		Stage:      stage,
	})
}

func (o *Orchestrator) Job(ctx context.Context, id string) (domain.Job, error) {
	return o.Jobs.Get(ctx, id)
}

func (o *Orchestrator) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	return o.Jobs.List(ctx, limit)
}

// CancelJob reports whether a running job was told to stop.
func (o *Orchestrator) CancelJob(id string) bool {
	return o.Jobs.Cancel(id)
}
