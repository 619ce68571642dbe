package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pranavraj012/squatformanalysis/internal/core"
)

// ProbeResult is the subset of ffprobe JSON used to configure decoding.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

type ProbeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NBFrames     string `json:"nb_frames"`

	Tags         map[string]string `json:"tags"`
	SideDataList []ProbeSideData   `json:"side_data_list"`
}

type ProbeSideData struct {
	SideDataType string  `json:"side_data_type"`
	Rotation     float64 `json:"rotation"`
}

// Rotation returns the display rotation in degrees, normalised to [0, 360).
// The display matrix wins over the legacy rotate tag.
func (s ProbeStream) Rotation() int {
	deg := 0.0
	found := false
	for _, sd := range s.SideDataList {
		if sd.Rotation != 0 {
			deg, found = sd.Rotation, true
			break
		}
	}
	if !found {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s.Tags["rotate"]), 64); err == nil {
			deg = v
		}
	}
	r := int(math.Round(deg)) % 360
	if r < 0 {
		r += 360
	}
	return r
}

type ProbeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

// Probe runs ffprobe against path. A missing or unreadable file yields
// core.ErrFileUnreadable; a file ffprobe cannot parse yields core.ErrUnsupportedFormat.
func Probe(ctx context.Context, binary, path string) (ProbeResult, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return ProbeResult{}, fmt.Errorf("%w: empty path", core.ErrFileUnreadable)
	}
	if _, err := os.Stat(path); err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %v", core.ErrFileUnreadable, err)
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return ProbeResult{}, fmt.Errorf("%w: ffprobe: %s", core.ErrUnsupportedFormat, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return ProbeResult{}, fmt.Errorf("ffprobe: %w", err)
	}
	return ParseProbe(output)
}

func ParseProbe(output []byte) (ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return ProbeResult{}, fmt.Errorf("%w: ffprobe parse: %v", core.ErrUnsupportedFormat, err)
	}
	return result, nil
}

// VideoStream returns the first video stream.
func (r ProbeResult) VideoStream() (ProbeStream, bool) {
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "video") {
			return stream, true
		}
	}
	return ProbeStream{}, false
}

// StreamInfo converts the first video stream into decoder settings. ffmpeg
// auto-rotates on decode, so a quarter-turn swaps the reported dimensions.
func (r ProbeResult) StreamInfo() (core.StreamInfo, error) {
	stream, ok := r.VideoStream()
	if !ok {
		return core.StreamInfo{}, fmt.Errorf("%w: no video stream", core.ErrUnsupportedFormat)
	}
	if stream.Width <= 0 || stream.Height <= 0 {
		return core.StreamInfo{}, fmt.Errorf("%w: video stream has no dimensions", core.ErrUnsupportedFormat)
	}
	rate := stream.RFrameRate
	fps := ParseRate(rate)
	if fps <= 0 {
		rate = stream.AvgFrameRate
		fps = ParseRate(rate)
	}
	if fps <= 0 {
		return core.StreamInfo{}, fmt.Errorf("%w: unknown frame rate", core.ErrUnsupportedFormat)
	}
	count, _ := strconv.Atoi(strings.TrimSpace(stream.NBFrames))
	width, height := stream.Width, stream.Height
	if rot := stream.Rotation(); rot == 90 || rot == 270 {
		width, height = height, width
	}
	return core.StreamInfo{
		Width:      width,
		Height:     height,
		FrameRate:  rate,
		FPS:        fps,
		FrameCount: count,
		Codec:      stream.CodecName,
	}, nil
}

// ParseRate parses "num/den" or a plain decimal. Invalid input yields 0.
func ParseRate(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	num, den, found := strings.Cut(value, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// FormatRate renders fps as an ffmpeg rate argument, falling back to 30.
func FormatRate(fps float64) string {
	if fps <= 0 {
		return "30"
	}
	return strconv.FormatFloat(fps, 'f', -1, 64)
}
