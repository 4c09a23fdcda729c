package progress

import (
	"log/slog"
	"sync"
)

// counter tracks one category for the current counting cycle.
type counter struct {
	total     int
	completed int
	fired     bool
	success   bool
}

// fraction returns completed/total, defined as 1.0 for an empty category.
func (c counter) fraction() float64 {
	if c.total == 0 {
		return 1.0
	}
	return float64(c.completed) / float64(c.total)
}

// Snapshot is a point-in-time copy of an Aggregator's counters.
type Snapshot struct {
	TotalImages     int  `json:"total_images"`
	CompletedImages int  `json:"completed_images"`
	ImagesDone      bool `json:"images_done"`
	TotalVideos     int  `json:"total_videos"`
	CompletedVideos int  `json:"completed_videos"`
	VideosDone      bool `json:"videos_done"`
	VideosSucceeded bool `json:"videos_succeeded"`
	SinkAttached    bool `json:"sink_attached"`
}

// Aggregator counts outstanding crop and export jobs for one picker session.
// It is created per session and injected into every job of that session.
// All state transitions and sink deliveries are serialized by a single mutex,
// so sinks observe progress in cumulative order.
type Aggregator struct {
	mu     sync.Mutex
	images counter
	videos counter
	sink   Sink
	logger *slog.Logger
}

// New creates an Aggregator reporting to sink. A nil sink is allowed; the
// aggregator never owns the sink's lifetime.
func New(sink Sink, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{sink: sink, logger: logger}
}

// Configure starts a new counting cycle. Both completed counts return to zero
// and the one-shot state is cleared so callbacks can fire again.
func (a *Aggregator) Configure(totalImages, totalVideos int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.images = counter{total: max(totalImages, 0)}
	a.videos = counter{total: max(totalVideos, 0)}

	a.logger.Debug("progress cycle configured",
		slog.Int("total_images", a.images.total),
		slog.Int("total_videos", a.videos.total),
	)
}

// Attach sets the sink for the current session, replacing any previous one.
func (a *Aggregator) Attach(sink Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = sink
}

// Detach drops the sink reference.
func (a *Aggregator) Detach() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = nil
}

// ReportImageDone records one finished image crop. Calls beyond the configured
// total are ignored and never refire the completion callback.
func (a *Aggregator) ReportImageDone() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.images.fired {
		a.logger.Debug("image category already complete, ignoring report",
			slog.Int("completed_images", a.images.completed),
		)
		return
	}
	if a.images.completed < a.images.total {
		a.images.completed++
	}

	a.pushProgressLocked(a.images.fraction())

	if a.images.completed == a.images.total {
		a.fireLocked(CategoryImage, &a.images, true)
	}
}

// ReportVideoDone records a terminal video export. Videos are exported one at a
// time, so a single report settles the video category for this cycle.
func (a *Aggregator) ReportVideoDone(success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.videos.fired {
		a.logger.Debug("video category already complete, ignoring report",
			slog.Bool("success", success),
		)
		return
	}
	if a.videos.completed < a.videos.total {
		a.videos.completed++
	}
	a.fireLocked(CategoryVideo, &a.videos, success)
}

// ReportProgress forwards an intra-job fraction to the sink without touching
// the counters. Values outside [0, 1] are clamped.
func (a *Aggregator) ReportProgress(fraction float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pushProgressLocked(min(max(fraction, 0), 1))
}

// CheckImages fires the image callback when the category has nothing to wait
// for. It reports whether the category is complete.
func (a *Aggregator) CheckImages() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkLocked(CategoryImage, &a.images)
}

// CheckVideos is the video counterpart of CheckImages.
func (a *Aggregator) CheckVideos() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkLocked(CategoryVideo, &a.videos)
}

// Snapshot returns a copy of the current counters.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		TotalImages:     a.images.total,
		CompletedImages: a.images.completed,
		ImagesDone:      a.images.fired,
		TotalVideos:     a.videos.total,
		CompletedVideos: a.videos.completed,
		VideosDone:      a.videos.fired,
		VideosSucceeded: a.videos.fired && a.videos.success,
		SinkAttached:    a.sink != nil,
	}
}

func (a *Aggregator) checkLocked(category Category, c *counter) bool {
	if c.fired {
		return true
	}
	if c.completed < c.total {
		return false
	}
	a.pushProgressLocked(c.fraction())
	a.fireLocked(category, c, true)
	return true
}

func (a *Aggregator) pushProgressLocked(fraction float64) {
	if a.sink != nil {
		a.sink.OnProgress(fraction)
	}
}

// fireLocked delivers the one-shot callback and releases the sink once every
// category of the session has settled.
func (a *Aggregator) fireLocked(category Category, c *counter, success bool) {
	c.fired = true
	c.success = success

	a.logger.Info("progress category complete",
		slog.String("category", string(category)),
		slog.Bool("success", success),
		slog.Int("completed", c.completed),
		slog.Int("total", c.total),
	)

	if a.sink != nil {
		a.sink.OnCategoryDone(category, success)
	}
	if a.images.fired && a.videos.fired {
		a.sink = nil
	}
}
