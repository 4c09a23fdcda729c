package job

import (
	"context"
	"sync"
	"time"

	"github.com/maauso/pickerexport/internal/export"
	"github.com/maauso/pickerexport/internal/progress"
)

// Session is one picker flow: a batch of image crops and video exports that
// share a progress aggregator.
type Session struct {
	ID        string
	CreatedAt time.Time

	aggregator *progress.Aggregator
	recorder   *progress.Recorder

	// ctx is cancelled when the session ends. Probing and destination
	// allocation of pending exports run under it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	exports map[string]*export.Handle
	wg      sync.WaitGroup
}

func newSession(sessionID string, aggregator *progress.Aggregator, recorder *progress.Recorder) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:         sessionID,
		CreatedAt:  time.Now(),
		aggregator: aggregator,
		recorder:   recorder,
		ctx:        ctx,
		cancel:     cancel,
		exports:    make(map[string]*export.Handle),
	}
}

// SessionStatus is a read-only view of a session's progress.
type SessionStatus struct {
	ID        string            `json:"id"`
	Progress  float64           `json:"progress"`
	Images    progress.Outcome  `json:"images"`
	Videos    progress.Outcome  `json:"videos"`
	Counters  progress.Snapshot `json:"counters"`
	CreatedAt time.Time         `json:"created_at"`
}

// Aggregator returns the session's progress aggregator.
func (s *Session) Aggregator() *progress.Aggregator {
	return s.aggregator
}

// Status returns the current progress of the session.
func (s *Session) Status() SessionStatus {
	return SessionStatus{
		ID:        s.ID,
		Progress:  s.recorder.Fraction(),
		Images:    s.recorder.Outcome(progress.CategoryImage),
		Videos:    s.recorder.Outcome(progress.CategoryVideo),
		Counters:  s.aggregator.Snapshot(),
		CreatedAt: s.CreatedAt,
	}
}

// begin registers n units of background work. It reports false once the
// session has ended.
func (s *Session) begin(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(n)
	return true
}

func (s *Session) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// trackExport makes h cancellable by the session. An export registered after
// the session ended is cancelled immediately.
func (s *Session) trackExport(jobID string, h *export.Handle) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		h.Cancel()
		return
	}
	s.exports[jobID] = h
	s.mu.Unlock()
}

func (s *Session) untrackExport(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.exports, jobID)
}

func (s *Session) export(jobID string) (*export.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.exports[jobID]
	return h, ok
}

// close ends the session: no new work is accepted, pending exports stop
// before rendering and running exports are cancelled.
func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	handles := make([]*export.Handle, 0, len(s.exports))
	for _, h := range s.exports {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	s.cancel()
	for _, h := range handles {
		h.Cancel()
	}
}
