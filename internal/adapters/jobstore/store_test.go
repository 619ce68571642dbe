package jobstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "db", "jobs.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleJob(id string, created time.Time) domain.Job {
	return domain.Job{
		ID:           id,
		Original:     "/uploads/" + id + ".mp4",
		Processed:    "/outputs/processed_squat_" + id + ".mp4",
		Mode:         domain.ModeBeginner,
		ExerciseType: "squat",
		Status:       domain.JobQueued,
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

func TestSaveAndGet(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	job := sampleJob("a", now)
	if err := store.Save(ctx, job); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	job.Status = domain.JobFailed
	job.FramesDone = 4
	job.FramesTotal = 10
	job.Error = "output write failed"
	job.UpdatedAt = now.Add(time.Second)
	if err := store.Save(ctx, job); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.JobFailed || got.FramesDone != 4 || got.FramesTotal != 10 || got.Error != "output write failed" {
		t.Fatalf("unexpected job %#v", got)
	}
	if !got.CreatedAt.Equal(now) || !got.UpdatedAt.Equal(now.Add(time.Second)) {
		t.Fatalf("timestamps %v / %v", got.CreatedAt, got.UpdatedAt)
	}
	if got.Mode != domain.ModeBeginner || got.ExerciseType != "squat" {
		t.Fatalf("config not persisted: %#v", got)
	}
}

func TestGetMissing(t *testing.T) {
	store := openStore(t)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		if err := store.Save(ctx, sampleJob(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	jobs, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(jobs) != 3 || jobs[0].ID != "new" || jobs[2].ID != "old" {
		t.Fatalf("unexpected order %v", jobs)
	}
	limited, err := store.List(ctx, 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("List(2) = %d jobs, %v", len(limited), err)
	}
}

func TestFailInterrupted(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now()

	running := sampleJob("running", now)
	running.Status = domain.JobRunning
	done := sampleJob("done", now)
	done.Status = domain.JobSucceeded
	for _, job := range []domain.Job{sampleJob("queued", now), running, done} {
		if err := store.Save(ctx, job); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	n, err := store.FailInterrupted(ctx)
	if err != nil {
		t.Fatalf("FailInterrupted: %v", err)
	}
	if n != 2 {
		t.Fatalf("affected = %d, want 2", n)
	}
	got, _ := store.Get(ctx, "running")
	if got.Status != domain.JobFailed || got.Error == "" {
		t.Fatalf("running job not failed: %#v", got)
	}
	kept, _ := store.Get(ctx, "done")
	if kept.Status != domain.JobSucceeded {
		t.Fatalf("finished job touched: %#v", kept)
	}
}

func TestReopenKeepsJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Save(context.Background(), sampleJob("keep", time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(context.Background(), "keep"); err != nil {
		t.Fatalf("job lost across reopen: %v", err)
	}
}

func TestProgress(t *testing.T) {
	job := domain.Job{Status: domain.JobRunning, FramesDone: 5, FramesTotal: 10}
	if p := job.Progress(); p != 0.5 {
		t.Fatalf("progress = %v", p)
	}
	job.FramesTotal = 0
	if p := job.Progress(); p != -1 {
		t.Fatalf("unknown total progress = %v", p)
	}
}
