package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pranavraj012/squatformanalysis/internal/adapters/analysis"
	"github.com/pranavraj012/squatformanalysis/internal/adapters/ffmpeg"
	"github.com/pranavraj012/squatformanalysis/internal/adapters/jobstore"
	"github.com/pranavraj012/squatformanalysis/internal/adapters/storage"
	"github.com/pranavraj012/squatformanalysis/internal/app/device"
	"github.com/pranavraj012/squatformanalysis/internal/app/live"
	"github.com/pranavraj012/squatformanalysis/internal/app/orch"
	"github.com/pranavraj012/squatformanalysis/internal/app/session"
	"github.com/pranavraj012/squatformanalysis/internal/app/transcode"
	"github.com/pranavraj012/squatformanalysis/internal/config"
	"github.com/pranavraj012/squatformanalysis/internal/core"
)

type services struct {
	orch   *orch.Orchestrator
	jobs   *jobstore.Store
	worker *analysis.Worker
}

// buildServices wires every component from cfg. The caller owns Close.
func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	svc := &services{}

	store, err := storage.New(cfg.Storage.UploadDir, cfg.Storage.OutputDir)
	if err != nil {
		return nil, err
	}

	var factory core.StageFactory = analysis.OverlayFactory{}
	if len(cfg.Analysis.WorkerCommand) > 0 {
		w, err := analysis.StartWorker(cfg.Analysis.WorkerCommand, cfg.Analysis.Timeout)
		if err != nil {
			return nil, err
		}
		svc.worker = w
		factory = w
	} else {
		log.Info().Str("module", "main").Msg("no analysis worker configured, using built-in overlay")
	}

	var records transcode.Store
	if cfg.Storage.Database != "" {
		db, err := jobstore.Open(cfg.Storage.Database)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.jobs = db
		records = db
		n, err := db.FailInterrupted(ctx)
		if err != nil {
			svc.Close()
			return nil, fmt.Errorf("mark interrupted jobs: %w", err)
		}
		if n > 0 {
			log.Warn().Str("module", "main").Int64("jobs", n).Msg("marked interrupted jobs as failed")
		}
	}

	capture := ffmpeg.NewCapture(ffmpeg.CaptureConfig{
		Binary:      cfg.FFmpeg.Binary,
		Device:      cfg.Camera.Device,
		InputFormat: cfg.Camera.InputFormat,
		Width:       cfg.Camera.Width,
		Height:      cfg.Camera.Height,
	})
	devices := device.NewManager(capture, device.Options{
		LockPath:    cfg.Camera.LockPath,
		ReadTimeout: cfg.Stream.ReadTimeout,
	})
	configs := session.NewStore(factory)
	streamer := live.NewStreamer(devices, configs, live.NewMetricsHub(16), live.Options{
		Pacing:      cfg.Stream.Pacing,
		JPEGQuality: cfg.Stream.JPEGQuality,
		Buffer:      cfg.Stream.SubscriberBuffer,
		Policy:      live.DropPolicy{MaxDrops: cfg.Stream.MaxDrops},
	})
	transcoder := transcode.NewTranscoder(
		ffmpeg.Decoder{FFmpeg: cfg.FFmpeg.Binary, FFprobe: cfg.FFmpeg.FFprobe},
		ffmpeg.Encoder{Binary: cfg.FFmpeg.Binary},
		cfg.FFmpeg.Codec,
	)

	svc.orch = &orch.Orchestrator{
		Devices:   devices,
		Configs:   configs,
		Streamer:  streamer,
		Jobs:      transcode.NewService(transcoder, records),
		Storage:   store,
		MaxUpload: cfg.Upload.MaxBytes,
	}
	return svc, nil
}

func (s *services) Close() {
	if s.orch != nil {
		s.orch.Shutdown()
	}
	if s.worker != nil {
		if err := s.worker.Close(); err != nil {
			log.Warn().Err(err).Str("module", "main").Msg("stop analysis worker")
		}
	}
	if s.jobs != nil {
		if err := s.jobs.Close(); err != nil {
			log.Warn().Err(err).Str("module", "main").Msg("close job store")
		}
	}
}
