package media

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPreset is returned when a preset name is not recognised.
var ErrUnknownPreset = errors.New("unknown export preset")

// Preset selects how samples are written during export.
type Preset string

const (
	// PresetPassthrough copies samples without re-encoding.
	PresetPassthrough Preset = "passthrough"
	// PresetStandard re-encodes with H.264/AAC compression.
	PresetStandard Preset = "standard"
)

// ParsePreset converts a configuration value into a Preset.
func ParsePreset(s string) (Preset, error) {
	switch Preset(strings.ToLower(strings.TrimSpace(s))) {
	case PresetPassthrough:
		return PresetPassthrough, nil
	case PresetStandard, "":
		return PresetStandard, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPreset, s)
	}
}

// SelectPreset picks the preset for one export. Intermediate renders made while
// background compression is active use passthrough, so compression happens
// only once on the final pass.
func SelectPreset(backgroundCompression, finalPass bool, configured Preset) Preset {
	if backgroundCompression && !finalPass {
		return PresetPassthrough
	}
	if configured == "" {
		return PresetStandard
	}
	return configured
}

// Container is the output file type of an export.
type Container string

const (
	// ContainerMP4 writes an MPEG-4 file.
	ContainerMP4 Container = "mp4"
	// ContainerMOV writes a QuickTime file.
	ContainerMOV Container = "mov"
)

// Extension returns the file extension including the dot.
func (c Container) Extension() string {
	if c == "" {
		return ".mp4"
	}
	return "." + string(c)
}
