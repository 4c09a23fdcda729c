package export

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/maauso/pickerexport/internal/media"
)

// Handle tracks one in-flight export. It is safe for concurrent use.
type Handle struct {
	destination string
	preset      media.Preset

	mu     sync.Mutex
	state  State
	render media.Render
	final  Outcome

	progress atomic.Uint64
	result   chan Outcome
	done     chan struct{}
}

func newHandle(destination string, preset media.Preset) *Handle {
	return &Handle{
		destination: destination,
		preset:      preset,
		state:       StatePending,
		result:      make(chan Outcome, 1),
		done:        make(chan struct{}),
	}
}

// Destination returns the path the export writes to.
func (h *Handle) Destination() string {
	return h.destination
}

// Preset returns the preset the export was started with.
func (h *Handle) Preset() media.Preset {
	return h.preset
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Progress returns the last fraction reported for this export.
func (h *Handle) Progress() float64 {
	return math.Float64frombits(h.progress.Load())
}

// Result delivers the terminal outcome exactly once and is then closed.
func (h *Handle) Result() <-chan Outcome {
	return h.result
}

// Done is closed once the export reached a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the export is terminal and returns its outcome. Unlike
// Result it can be called by any number of goroutines.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.final, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Cancel stops the render. It has no effect once the export is terminal.
func (h *Handle) Cancel() {
	h.mu.Lock()
	render := h.render
	terminal := h.state.IsTerminal()
	h.mu.Unlock()

	if render != nil && !terminal {
		render.Cancel()
	}
}

func (h *Handle) start(render media.Render) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.render = render
	h.state = StateExporting
}

func (h *Handle) setProgress(f float64) {
	h.progress.Store(math.Float64bits(f))
}

// finish records the outcome and publishes it. Only the first call has effect.
func (h *Handle) finish(o Outcome) bool {
	h.mu.Lock()
	if h.state.IsTerminal() {
		h.mu.Unlock()
		return false
	}
	h.state = o.State
	h.final = o
	h.mu.Unlock()

	h.result <- o
	close(h.result)
	close(h.done)
	return true
}
