package domain

import (
	"errors"
	"time"
)

var ErrJobNotFound = errors.New("job not found")

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// Terminal reports whether the job can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCanceled
}

// Job is the record of one transcode run.
type Job struct {
	ID           string    `json:"id"`
	Original     string    `json:"original"`
	Processed    string    `json:"processed"`
	Mode         Mode      `json:"mode"`
	ExerciseType string    `json:"exerciseType"`
	Status       JobStatus `json:"status"`
	FramesDone   int       `json:"framesDone"`
	FramesTotal  int       `json:"framesTotal"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Progress is the completed fraction, or -1 when the total is unknown.
func (j Job) Progress() float64 {
	if j.Status == JobSucceeded {
		return 1
	}
	if j.FramesTotal <= 0 {
		return -1
	}
	p := float64(j.FramesDone) / float64(j.FramesTotal)
	if p > 1 {
		p = 1
	}
	return p
}
