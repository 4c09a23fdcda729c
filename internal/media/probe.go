package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrFFprobeExecution is returned when the ffprobe command fails.
var ErrFFprobeExecution = errors.New("ffprobe execution failed")

// Prober inspects a media file and returns its timeline.
type Prober interface {
	Probe(ctx context.Context, path string) (*Timeline, error)
}

// FFprobeProber implements Prober using the ffprobe CLI.
type FFprobeProber struct {
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFprobeProber creates a new FFprobeProber.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobeProber(ffprobePath string) *FFprobeProber {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobeProber{ffprobePath: ffprobePath}
}

// Probe runs ffprobe and converts its JSON report into a Timeline.
func (p *FFprobeProber) Probe(ctx context.Context, path string) (*Timeline, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=format_name,duration:stream=index,codec_name,codec_type,width,height:stream_tags=rotate:stream_side_data=rotation",
		"-of", "json",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, strings.TrimSpace(stderr.String()))
	}

	return parseProbeOutput(path, stdout.Bytes())
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

type probeStream struct {
	Index     int               `json:"index"`
	CodecName string            `json:"codec_name"`
	CodecType string            `json:"codec_type"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Tags      map[string]string `json:"tags"`
	SideData  []struct {
		Rotation *float64 `json:"rotation"`
	} `json:"side_data_list"`
}

// parseProbeOutput converts ffprobe JSON output into a root Timeline.
func parseProbeOutput(path string, data []byte) (*Timeline, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	duration, err := parseSeconds(out.Format.Duration)
	if err != nil {
		return nil, fmt.Errorf("parse duration: %w", err)
	}

	tracks := make([]Track, 0, len(out.Streams))
	for _, s := range out.Streams {
		tracks = append(tracks, Track{
			Index:    s.Index,
			Type:     TrackType(s.CodecType),
			Codec:    s.CodecName,
			Width:    s.Width,
			Height:   s.Height,
			Rotation: streamRotation(s),
		})
	}

	return NewTimeline(path, out.Format.FormatName, duration, tracks), nil
}

// streamRotation prefers the legacy rotate tag and falls back to the display
// matrix side data, which is expressed counter-clockwise.
func streamRotation(s probeStream) int {
	if v, ok := s.Tags["rotate"]; ok {
		if deg, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return normalizeRotation(deg)
		}
	}
	for _, sd := range s.SideData {
		if sd.Rotation != nil {
			return normalizeRotation(-int(math.Round(*sd.Rotation)))
		}
	}
	return 0
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

// parseSeconds converts a decimal seconds string into a Duration.
func parseSeconds(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "N/A" {
		return 0, errors.New("duration missing")
	}
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if secs < 0 {
		return 0, fmt.Errorf("negative duration %q", value)
	}
	return time.Duration(math.Round(secs * float64(time.Second))), nil
}
