// Package job provides the Job aggregate for picker export work, the
// repositories that persist it and the session Service that drives crops and
// trim-and-export renders.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/pickerexport/internal/job/id"
	"github.com/maauso/pickerexport/internal/media"
)

// Kind distinguishes image crops from video exports.
type Kind string

const (
	// KindImageCrop crops one picked image.
	KindImageCrop Kind = "IMAGE_CROP"
	// KindVideoExport trims and exports one picked video.
	KindVideoExport Kind = "VIDEO_EXPORT"
)

// IsValid returns true if the kind is known.
func (k Kind) IsValid() bool {
	return k == KindImageCrop || k == KindVideoExport
}

// Status represents the current state of a Job.
type Status string

const (
	// StatusPending indicates the job was accepted but has not started.
	StatusPending Status = "PENDING"
	// StatusExporting indicates the crop or render is running.
	StatusExporting Status = "EXPORTING"
	// StatusCompleted indicates the output was written.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job failed. Fallback jobs still carry an output.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the render was stopped before finishing.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusExporting, StatusFailed, StatusCancelled},
	StatusExporting: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no transition leaves s.
func (s Status) IsTerminal() bool {
	allowed, ok := validTransitions[s]
	return ok && len(allowed) == 0
}

// Job is one crop or export inside a picker session.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// SessionID is the picker session the job belongs to.
	SessionID string
	// Kind says whether this is a crop or an export.
	Kind Kind
	// Status is the current job state.
	Status Status
	// Progress is the percentage of completion (0-100).
	Progress int
	// Error contains any error message if the job failed.
	Error string
	// SourcePath is the picked original.
	SourcePath string
	// OutputPath is the produced file, or SourcePath when Fallback is set.
	OutputPath string
	// CoverPath is the cover frame of a video export.
	CoverPath string
	// TrimStart and TrimEnd bound the exported range of a video.
	TrimStart time.Duration
	TrimEnd   time.Duration
	// Crop is the crop rectangle of an image job.
	Crop media.Rect
	// Fallback is set when the output is the untouched original.
	Fallback bool
	// PushToS3 indicates whether to upload the result to S3.
	PushToS3 bool
	// OutputURL is the S3 URL if PushToS3 was true.
	OutputURL string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new PENDING Job with a generated ID.
func New(sessionID string, kind Kind) *Job {
	return NewWithID(id.Generate(), sessionID, kind)
}

// NewWithID creates a new PENDING Job with the specified ID.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID, sessionID string, kind Kind) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		SessionID: sessionID,
		Kind:      kind,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusExporting:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted:
		j.Progress = 100
		j.CompletedAt = j.UpdatedAt
	case StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from PENDING to EXPORTING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusExporting)
}

// Complete transitions the job to COMPLETED with its output.
func (j *Job) Complete(outputPath, outputURL string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.OutputPath = outputPath
	j.OutputURL = outputURL
	return nil
}

// Fail transitions the job to FAILED with an error message.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// FailWithFallback fails the job and hands back the original source as its
// output, so the picked item is never lost.
func (j *Job) FailWithFallback(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	j.Fallback = true
	j.OutputPath = j.SourcePath
	j.OutputURL = ""
	return nil
}

// Cancel transitions the job to CANCELLED.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress sets the progress percentage (0-100). Progress never moves
// backwards.
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	progress = min(max(progress, 0), 100)
	if progress <= j.Progress {
		return
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
}

// SetCover records the extracted cover frame.
func (j *Job) SetCover(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.CoverPath = path
	j.UpdatedAt = time.Now()
}

// ClearOutput clears generated output paths after cleanup. Fallback outputs
// point at the caller's original and are kept.
func (j *Job) ClearOutput() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.Fallback {
		j.OutputPath = ""
	}
	j.CoverPath = ""
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status.IsTerminal()
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		SessionID:   j.SessionID,
		Kind:        j.Kind,
		Status:      j.Status,
		Progress:    j.Progress,
		Error:       j.Error,
		SourcePath:  j.SourcePath,
		OutputPath:  j.OutputPath,
		CoverPath:   j.CoverPath,
		TrimStart:   j.TrimStart,
		TrimEnd:     j.TrimEnd,
		Crop:        j.Crop,
		Fallback:    j.Fallback,
		PushToS3:    j.PushToS3,
		OutputURL:   j.OutputURL,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
