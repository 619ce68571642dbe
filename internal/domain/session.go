package domain

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultExercise = "squat"
	MaxExerciseLen  = 36
)

var ErrExerciseTooLong = errors.New("exercise type too long")

// SessionConfig is the analysis configuration applied to frames.
// Values are never mutated after construction; a new one replaces the old.
type SessionConfig struct {
	Mode         Mode       `json:"mode"`
	ExerciseType string     `json:"exerciseType"`
	Thresholds   Thresholds `json:"thresholds"`
	Mirrored     bool       `json:"mirrored"`
}

// NewSessionConfig derives thresholds from mode so the pair is always consistent.
func NewSessionConfig(mode Mode, exercise string, mirrored bool) (SessionConfig, error) {
	if mode != ModeBeginner && mode != ModePro {
		return SessionConfig{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	exercise, err := NormalizeExercise(exercise)
	if err != nil {
		return SessionConfig{}, err
	}
	return SessionConfig{
		Mode:         mode,
		ExerciseType: exercise,
		Thresholds:   ThresholdsFor(mode),
		Mirrored:     mirrored,
	}, nil
}

// DefaultSessionConfig is what live streaming falls back to before any configuration.
func DefaultSessionConfig() SessionConfig {
	cfg, _ := NewSessionConfig(ModeBeginner, DefaultExercise, true)
	return cfg
}

func NormalizeExercise(exercise string) (string, error) {
	exercise = strings.ToLower(strings.TrimSpace(exercise))
	if exercise == "" {
		return DefaultExercise, nil
	}
	if len(exercise) > MaxExerciseLen {
		return "", ErrExerciseTooLong
	}
	return exercise, nil
}
