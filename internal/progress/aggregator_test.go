package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures every delivery in order.
type recordingSink struct {
	mu        sync.Mutex
	fractions []float64
	done      map[Category][]bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(map[Category][]bool)}
}

func (s *recordingSink) OnProgress(fraction float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fractions = append(s.fractions, fraction)
}

func (s *recordingSink) OnCategoryDone(category Category, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[category] = append(s.done[category], success)
}

func (s *recordingSink) calls(category Category) []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.done[category]...)
}

func (s *recordingSink) progress() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.fractions...)
}

func TestAggregator_ImagesFireOnceAfterTotal(t *testing.T) {
	for _, total := range []int{1, 2, 5, 17} {
		sink := newRecordingSink()
		agg := New(sink, nil)
		agg.Configure(total, 1)

		for i := 0; i < total; i++ {
			assert.Empty(t, sink.calls(CategoryImage), "fired early at report %d of %d", i, total)
			agg.ReportImageDone()
		}

		assert.Equal(t, []bool{true}, sink.calls(CategoryImage), "total=%d", total)
	}
}

func TestAggregator_ThreeImagesProgressOrder(t *testing.T) {
	sink := newRecordingSink()
	agg := New(sink, nil)
	agg.Configure(3, 0)

	agg.ReportImageDone()
	agg.ReportImageDone()
	require.Empty(t, sink.calls(CategoryImage))
	agg.ReportImageDone()

	got := sink.progress()
	require.Len(t, got, 3)
	assert.InDelta(t, 1.0/3.0, got[0], 1e-9)
	assert.InDelta(t, 2.0/3.0, got[1], 1e-9)
	assert.InDelta(t, 1.0, got[2], 1e-9)
	assert.Equal(t, []bool{true}, sink.calls(CategoryImage))
}

func TestAggregator_ConcurrentImageReports(t *testing.T) {
	const total = 64
	sink := newRecordingSink()
	agg := New(sink, nil)
	agg.Configure(total, 0)

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.ReportImageDone()
		}()
	}
	wg.Wait()

	assert.Equal(t, []bool{true}, sink.calls(CategoryImage))

	got := sink.progress()
	require.Len(t, got, total)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i], got[i-1], "progress must be cumulative")
	}
	assert.InDelta(t, 1.0, got[len(got)-1], 1e-9)

	snap := agg.Snapshot()
	assert.Equal(t, total, snap.CompletedImages)
	assert.True(t, snap.ImagesDone)
}

func TestAggregator_NoRefireBeyondTotal(t *testing.T) {
	sink := newRecordingSink()
	agg := New(sink, nil)
	agg.Configure(2, 2)

	for i := 0; i < 5; i++ {
		agg.ReportImageDone()
		agg.ReportVideoDone(true)
	}

	assert.Equal(t, []bool{true}, sink.calls(CategoryImage))
	assert.Equal(t, []bool{true}, sink.calls(CategoryVideo))

	snap := agg.Snapshot()
	assert.Equal(t, 2, snap.CompletedImages, "completed count is clamped to total")
	assert.LessOrEqual(t, snap.CompletedVideos, snap.TotalVideos)
}

func TestAggregator_ZeroTotalIsVacuouslyComplete(t *testing.T) {
	sink := newRecordingSink()
	agg := New(sink, nil)
	agg.Configure(0, 1)

	assert.True(t, agg.CheckImages())
	assert.Equal(t, []bool{true}, sink.calls(CategoryImage))
	require.Len(t, sink.progress(), 1)
	assert.InDelta(t, 1.0, sink.progress()[0], 1e-9)

	// A second check never refires.
	assert.True(t, agg.CheckImages())
	assert.Equal(t, []bool{true}, sink.calls(CategoryImage))

	// Pending videos are not vacuously complete.
	assert.False(t, agg.CheckVideos())
	assert.Empty(t, sink.calls(CategoryVideo))
}

func TestAggregator_ZeroTotalReportStillFiresOnce(t *testing.T) {
	sink := newRecordingSink()
	agg := New(sink, nil)
	agg.Configure(0, 1)

	agg.ReportImageDone()
	agg.ReportImageDone()

	assert.Equal(t, []bool{true}, sink.calls(CategoryImage))
	assert.Equal(t, 0, agg.Snapshot().CompletedImages)
}

func TestAggregator_VideoDoneCarriesSuccess(t *testing.T) {
	sink := newRecordingSink()
	agg := New(sink, nil)
	agg.Configure(1, 1)

	agg.ReportVideoDone(false)
	agg.ReportVideoDone(true)

	assert.Equal(t, []bool{false}, sink.calls(CategoryVideo))
	snap := agg.Snapshot()
	assert.True(t, snap.VideosDone)
	assert.False(t, snap.VideosSucceeded)
}

func TestAggregator_ConfigureStartsNewCycle(t *testing.T) {
	sink := newRecordingSink()
	agg := New(sink, nil)
	agg.Configure(1, 1)
	agg.ReportImageDone()

	agg.Configure(1, 1)
	snap := agg.Snapshot()
	assert.Equal(t, 0, snap.CompletedImages)
	assert.False(t, snap.ImagesDone)

	agg.ReportImageDone()
	assert.Equal(t, []bool{true, true}, sink.calls(CategoryImage))
}

func TestAggregator_NegativeTotalsClamped(t *testing.T) {
	agg := New(nil, nil)
	agg.Configure(-3, -1)

	snap := agg.Snapshot()
	assert.Equal(t, 0, snap.TotalImages)
	assert.Equal(t, 0, snap.TotalVideos)
}

func TestAggregator_ReportProgressDoesNotMutateCounters(t *testing.T) {
	sink := newRecordingSink()
	agg := New(sink, nil)
	agg.Configure(2, 1)

	agg.ReportProgress(0.25)
	agg.ReportProgress(-1)
	agg.ReportProgress(7)

	assert.Equal(t, []float64{0.25, 0, 1}, sink.progress())
	snap := agg.Snapshot()
	assert.Equal(t, 0, snap.CompletedImages)
	assert.Equal(t, 0, snap.CompletedVideos)
	assert.False(t, snap.ImagesDone)
}

func TestAggregator_SinkDetachedWhenSessionSettles(t *testing.T) {
	sink := newRecordingSink()
	agg := New(sink, nil)
	agg.Configure(1, 1)

	agg.ReportImageDone()
	assert.True(t, agg.Snapshot().SinkAttached, "video category still outstanding")

	agg.ReportVideoDone(true)
	assert.False(t, agg.Snapshot().SinkAttached)

	// Deliveries after detaching go nowhere.
	agg.ReportProgress(0.5)
	assert.NotContains(t, sink.progress(), 0.5)
}

func TestAggregator_NilSink(t *testing.T) {
	agg := New(nil, nil)
	agg.Configure(1, 1)

	assert.NotPanics(t, func() {
		agg.ReportProgress(0.3)
		agg.ReportImageDone()
		agg.ReportVideoDone(true)
	})
	assert.True(t, agg.Snapshot().ImagesDone)
}

func TestSinkFuncs(t *testing.T) {
	var progressed float64
	var category Category
	sink := SinkFuncs{
		Progress:     func(f float64) { progressed = f },
		CategoryDone: func(c Category, _ bool) { category = c },
	}

	sink.OnProgress(0.4)
	sink.OnCategoryDone(CategoryVideo, true)
	assert.InDelta(t, 0.4, progressed, 1e-9)
	assert.Equal(t, CategoryVideo, category)

	assert.NotPanics(t, func() {
		SinkFuncs{}.OnProgress(1)
		SinkFuncs{}.OnCategoryDone(CategoryImage, true)
	})
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	agg := New(rec, nil)
	agg.Configure(1, 0)

	agg.CheckVideos()
	agg.ReportImageDone()

	assert.InDelta(t, 1.0, rec.Fraction(), 1e-9)
	assert.Equal(t, Outcome{Done: true, Success: true}, rec.Outcome(CategoryImage))
	assert.Equal(t, Outcome{Done: true, Success: true}, rec.Outcome(CategoryVideo))
}

func TestTee(t *testing.T) {
	a, b := NewRecorder(), newRecordingSink()
	agg := New(Tee(a, nil, b), nil)
	agg.Configure(2, 1)

	agg.ReportImageDone()
	agg.ReportImageDone()

	assert.InDelta(t, 1.0, a.Fraction(), 1e-9)
	assert.Equal(t, []float64{0.5, 1.0}, b.progress())
	assert.True(t, a.Outcome(CategoryImage).Done)
	assert.Equal(t, []bool{true}, b.calls(CategoryImage))
}
