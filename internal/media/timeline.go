package media

import (
	"errors"
	"fmt"
	"time"
)

// Static errors for timeline composition.
var (
	// ErrInvalidRange is returned when a trim range falls outside the timeline.
	ErrInvalidRange = errors.New("invalid trim range")
	// ErrUnsupportedTrack is returned when a track cannot be carried into a trimmed copy.
	ErrUnsupportedTrack = errors.New("unsupported track type")
	// ErrUnreadableTrack is returned when a track has no decodable codec.
	ErrUnreadableTrack = errors.New("unreadable track")
	// ErrNilTimeline is returned when no source timeline is provided.
	ErrNilTimeline = errors.New("source timeline is nil")
)

// TrackType is the media type of a single track.
type TrackType string

const (
	// TrackVideo is a video track.
	TrackVideo TrackType = "video"
	// TrackAudio is an audio track.
	TrackAudio TrackType = "audio"
	// TrackSubtitle is a subtitle track.
	TrackSubtitle TrackType = "subtitle"
	// TrackData is a timed metadata track (timecode, camera metadata).
	TrackData TrackType = "data"
	// TrackAttachment is an attachment stream (fonts, cover art in mkv).
	TrackAttachment TrackType = "attachment"
)

// trimmable reports whether samples of this track type can be range-inserted.
func (t TrackType) trimmable() bool {
	switch t {
	case TrackVideo, TrackAudio, TrackSubtitle, TrackData:
		return true
	default:
		return false
	}
}

// Track describes one constituent track of a timeline.
type Track struct {
	// Index is the stream index inside the root source container.
	Index int
	// Type is the media type.
	Type TrackType
	// Codec is the codec name reported by the prober.
	Codec string
	// Width and Height are set for video tracks.
	Width  int
	Height int
	// Rotation is the display orientation in degrees, normalized to [0, 360).
	Rotation int
}

// TrimRange selects the half-open interval [Start, End) of a timeline.
type TrimRange struct {
	Start time.Duration
	End   time.Duration
}

// Duration returns the length of the range.
func (r TrimRange) Duration() time.Duration {
	return r.End - r.Start
}

// Validate checks 0 <= Start <= End <= duration.
func (r TrimRange) Validate(duration time.Duration) error {
	if r.Start < 0 || r.End < r.Start || r.End > duration {
		return fmt.Errorf("%w: [%s, %s) outside [0, %s]", ErrInvalidRange, r.Start, r.End, duration)
	}
	return nil
}

// CoverFrameMargin keeps a cover frame off the final, possibly partial frame.
const CoverFrameMargin = 40 * time.Millisecond

// ClampCover clamps the source position at into [Start, End-CoverFrameMargin].
// Ranges shorter than the margin clamp to Start.
func ClampCover(at time.Duration, rng TrimRange) time.Duration {
	last := max(rng.Start, rng.End-CoverFrameMargin)
	return min(max(at, rng.Start), last)
}

// Timeline is an immutable view of a media asset's tracks over a time range.
// A probed source has a nil Source and a Range covering its full duration.
// Trimmed copies reference their parent and carry a Range expressed against
// the root source file.
type Timeline struct {
	// Path is the root source file.
	Path string
	// Container is the demuxer format name reported by the prober.
	Container string
	// Duration is the playable length of this timeline.
	Duration time.Duration
	// Tracks lists the tracks carried by this timeline.
	Tracks []Track
	// Range is the interval of the root source this timeline covers.
	Range TrimRange
	// Source is the parent timeline for trimmed copies.
	Source *Timeline
}

// NewTimeline builds a root timeline covering the whole file.
func NewTimeline(path, container string, duration time.Duration, tracks []Track) *Timeline {
	return &Timeline{
		Path:      path,
		Container: container,
		Duration:  duration,
		Tracks:    append([]Track(nil), tracks...),
		Range:     TrimRange{Start: 0, End: duration},
	}
}

// IsTrimmed reports whether the timeline is a trimmed copy.
func (t *Timeline) IsTrimmed() bool {
	return t.Source != nil
}

// VideoTrack returns the last video track, which carries the orientation used
// for display. It returns false when the timeline has no video.
func (t *Timeline) VideoTrack() (Track, bool) {
	for i := len(t.Tracks) - 1; i >= 0; i-- {
		if t.Tracks[i].Type == TrackVideo {
			return t.Tracks[i], true
		}
	}
	return Track{}, false
}

// CompositionError reports that a trimmed copy could not be built.
type CompositionError struct {
	Path  string
	Range TrimRange
	Err   error
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("compose %s [%s, %s): %v", e.Path, e.Range.Start, e.Range.End, e.Err)
}

func (e *CompositionError) Unwrap() error {
	return e.Err
}

// BuildTrimmedCopy returns a timeline containing only [start, end) of every
// track of tl. Track types and orientation are preserved. A zero-length range
// yields a zero-duration timeline.
func BuildTrimmedCopy(tl *Timeline, start, end time.Duration) (*Timeline, error) {
	rng := TrimRange{Start: start, End: end}
	if tl == nil {
		return nil, &CompositionError{Range: rng, Err: ErrNilTimeline}
	}
	if err := rng.Validate(tl.Duration); err != nil {
		return nil, &CompositionError{Path: tl.Path, Range: rng, Err: err}
	}

	tracks := make([]Track, 0, len(tl.Tracks))
	for _, track := range tl.Tracks {
		if !track.Type.trimmable() {
			return nil, &CompositionError{
				Path:  tl.Path,
				Range: rng,
				Err:   fmt.Errorf("%w: stream %d is %q", ErrUnsupportedTrack, track.Index, track.Type),
			}
		}
		if track.Codec == "" && (track.Type == TrackVideo || track.Type == TrackAudio) {
			return nil, &CompositionError{
				Path:  tl.Path,
				Range: rng,
				Err:   fmt.Errorf("%w: stream %d has no codec", ErrUnreadableTrack, track.Index),
			}
		}
		tracks = append(tracks, track)
	}

	// Reapply the source orientation to the composed video track.
	if src, ok := tl.VideoTrack(); ok {
		for i := len(tracks) - 1; i >= 0; i-- {
			if tracks[i].Type == TrackVideo {
				tracks[i].Rotation = src.Rotation
				break
			}
		}
	}

	offset := tl.Range.Start
	return &Timeline{
		Path:      tl.Path,
		Container: tl.Container,
		Duration:  rng.Duration(),
		Tracks:    tracks,
		Range:     TrimRange{Start: offset + start, End: offset + end},
		Source:    tl,
	}, nil
}
