// Package progress aggregates image-crop and video-export completion for a
// single picker session and forwards fractional progress to an embedding sink.
package progress

import "sync"

// Category identifies one of the independent job classes tracked by an Aggregator.
type Category string

const (
	// CategoryImage covers batched image crops.
	CategoryImage Category = "image"
	// CategoryVideo covers trim-and-export jobs, processed one at a time.
	CategoryVideo Category = "video"
)

// Sink receives progress and completion notifications from an Aggregator.
// Implementations are called while the aggregator holds its lock and must not
// call back into the aggregator.
type Sink interface {
	// OnProgress receives a fraction in [0, 1].
	OnProgress(fraction float64)
	// OnCategoryDone is called at most once per category per counting cycle.
	OnCategoryDone(category Category, success bool)
}

// SinkFuncs adapts optional funcs to the Sink interface. Nil fields are ignored.
type SinkFuncs struct {
	Progress     func(fraction float64)
	CategoryDone func(category Category, success bool)
}

// OnProgress implements Sink.
func (f SinkFuncs) OnProgress(fraction float64) {
	if f.Progress != nil {
		f.Progress(fraction)
	}
}

// OnCategoryDone implements Sink.
func (f SinkFuncs) OnCategoryDone(category Category, success bool) {
	if f.CategoryDone != nil {
		f.CategoryDone(category, success)
	}
}

// Outcome is the recorded completion state of a category.
type Outcome struct {
	Done    bool `json:"done"`
	Success bool `json:"success"`
}

// Recorder is a Sink that keeps the latest notifications for polling clients.
// It is safe for concurrent use.
type Recorder struct {
	mu       sync.RWMutex
	fraction float64
	outcomes map[Category]Outcome
}

// Compile-time check that Recorder implements Sink.
var _ Sink = (*Recorder)(nil)

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{outcomes: make(map[Category]Outcome)}
}

// OnProgress implements Sink.
func (r *Recorder) OnProgress(fraction float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fraction = fraction
}

// OnCategoryDone implements Sink.
func (r *Recorder) OnCategoryDone(category Category, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[category] = Outcome{Done: true, Success: success}
}

// Fraction returns the last reported progress fraction.
func (r *Recorder) Fraction() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fraction
}

// Outcome returns the recorded outcome for a category.
func (r *Recorder) Outcome(category Category) Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outcomes[category]
}

// Tee returns a Sink that forwards every notification to each non-nil sink in
// order.
func Tee(sinks ...Sink) Sink {
	kept := make(teeSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return kept
}

type teeSink []Sink

func (t teeSink) OnProgress(fraction float64) {
	for _, s := range t {
		s.OnProgress(fraction)
	}
}

func (t teeSink) OnCategoryDone(category Category, success bool) {
	for _, s := range t {
		s.OnCategoryDone(category, success)
	}
}
