package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidMode = errors.New("invalid mode")

// Mode selects one of the two fixed threshold presets.
type Mode string

const (
	ModeBeginner Mode = "Beginner"
	ModePro      Mode = "Pro"
)

// ParseMode accepts the mode names case-insensitively. An empty value means Beginner.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "beginner":
		return ModeBeginner, nil
	case "pro":
		return ModePro, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Range is an inclusive angle interval in degrees.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Thresholds is the parameter set handed to the analysis stage.
type Thresholds struct {
	Mode Mode `json:"mode"`

	HipKneeNormal     Range `json:"hipKneeNormal"`
	HipKneeTransition Range `json:"hipKneeTransition"`
	HipKneePass       Range `json:"hipKneePass"`

	Hip   Range      `json:"hip"`
	Ankle float64    `json:"ankle"`
	Knee  [3]float64 `json:"knee"`

	OffsetAngle      float64 `json:"offsetAngle"`
	InactiveSeconds  float64 `json:"inactiveSeconds"`
	FrameCountThresh int     `json:"frameCountThresh"`
}

func BeginnerThresholds() Thresholds {
	return Thresholds{
		Mode:              ModeBeginner,
		HipKneeNormal:     Range{Min: 0, Max: 32},
		HipKneeTransition: Range{Min: 35, Max: 65},
		HipKneePass:       Range{Min: 70, Max: 95},
		Hip:               Range{Min: 10, Max: 50},
		Ankle:             45,
		Knee:              [3]float64{50, 70, 95},
		OffsetAngle:       35,
		InactiveSeconds:   15,
		FrameCountThresh:  50,
	}
}

func ProThresholds() Thresholds {
	return Thresholds{
		Mode:              ModePro,
		HipKneeNormal:     Range{Min: 0, Max: 32},
		HipKneeTransition: Range{Min: 35, Max: 65},
		HipKneePass:       Range{Min: 80, Max: 95},
		Hip:               Range{Min: 15, Max: 50},
		Ankle:             30,
		Knee:              [3]float64{50, 80, 95},
		OffsetAngle:       35,
		InactiveSeconds:   15,
		FrameCountThresh:  50,
	}
}

// ThresholdsFor derives the preset for mode. Unknown modes get Beginner.
func ThresholdsFor(mode Mode) Thresholds {
	if mode == ModePro {
		return ProThresholds()
	}
	return BeginnerThresholds()
}
