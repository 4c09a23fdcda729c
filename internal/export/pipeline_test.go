package export

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/pickerexport/internal/media"
	"github.com/maauso/pickerexport/internal/progress"
	"github.com/maauso/pickerexport/internal/storage"
)

type fakeRender struct {
	fraction atomic.Uint64
	done     chan media.RenderResult
	once     sync.Once
}

func newFakeRender() *fakeRender {
	return &fakeRender{done: make(chan media.RenderResult, 1)}
}

func (r *fakeRender) set(f float64) {
	r.fraction.Store(math.Float64bits(f))
}

func (r *fakeRender) Progress() float64 {
	return math.Float64frombits(r.fraction.Load())
}

func (r *fakeRender) Done() <-chan media.RenderResult {
	return r.done
}

func (r *fakeRender) Cancel() {
	r.finish(media.RenderResult{Status: media.RenderCancelled, Err: context.Canceled})
}

func (r *fakeRender) finish(res media.RenderResult) {
	r.once.Do(func() {
		r.done <- res
		close(r.done)
	})
}

type fakeRenderer struct {
	mu      sync.Mutex
	render  *fakeRender
	err     error
	calls   int
	preset  media.Preset
	tl      *media.Timeline
	onStart func(dest string)
}

func (f *fakeRenderer) Render(_ context.Context, tl *media.Timeline, dest string, preset media.Preset) (media.Render, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.tl = tl
	f.preset = preset
	if f.onStart != nil {
		f.onStart(dest)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.render, nil
}

func (f *fakeRenderer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingReporter struct {
	mu     sync.Mutex
	values []float64
}

func (r *recordingReporter) ReportProgress(f float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, f)
}

func (r *recordingReporter) snapshot() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.values...)
}

func (r *recordingReporter) last() float64 {
	v := r.snapshot()
	if len(v) == 0 {
		return 0
	}
	return v[len(v)-1]
}

func tenSecondTimeline() *media.Timeline {
	return media.NewTimeline("/media/source.mov", "mov", 10*time.Second, []media.Track{
		{Index: 0, Type: media.TrackVideo, Codec: "h264", Width: 1920, Height: 1080, Rotation: 90},
		{Index: 1, Type: media.TrackAudio, Codec: "aac"},
	})
}

func newTestPipeline(t *testing.T, renderer media.Renderer, opts ...PipelineOption) (*Pipeline, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	opts = append([]PipelineOption{WithPollInterval(time.Millisecond)}, opts...)
	return NewPipeline(renderer, store, opts...), store
}

func waitResult(t *testing.T, h *Handle) Outcome {
	t.Helper()
	select {
	case o, ok := <-h.Result():
		require.True(t, ok, "result channel closed without an outcome")
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("export did not resolve")
		return Outcome{}
	}
}

func TestPipeline_CompletedExportReportsProgressAndVideoDone(t *testing.T) {
	render := newFakeRender()
	renderer := &fakeRenderer{render: render}
	p, store := newTestPipeline(t, renderer)

	sink := progress.NewRecorder()
	var doneCalls []bool
	var mu sync.Mutex
	agg := progress.New(progress.SinkFuncs{
		Progress: sink.OnProgress,
		CategoryDone: func(c progress.Category, ok bool) {
			sink.OnCategoryDone(c, ok)
			if c == progress.CategoryVideo {
				mu.Lock()
				doneCalls = append(doneCalls, ok)
				mu.Unlock()
			}
		},
	}, nil)
	agg.Configure(0, 1)

	reporter := &recordingReporter{}
	var completes atomic.Int32
	dest := filepath.Join(store.TempDir(), "trimmed.mp4")

	h, err := p.TrimAndExport(context.Background(), tenSecondTimeline(),
		media.TrimRange{Start: 2 * time.Second, End: 7 * time.Second}, dest,
		Options{
			FinalPass: true,
			Reporter:  multiReporter{reporter, agg},
			OnComplete: func(o Outcome) {
				completes.Add(1)
				agg.ReportVideoDone(o.Succeeded())
			},
		})
	require.NoError(t, err)
	assert.Equal(t, StateExporting, h.State())
	assert.Equal(t, dest, h.Destination())
	assert.Equal(t, 5*time.Second, renderer.tl.Duration)

	render.set(0.3)
	require.Eventually(t, func() bool { return reporter.last() == 0.3 }, time.Second, time.Millisecond)
	render.set(0.6)
	require.Eventually(t, func() bool { return reporter.last() == 0.6 }, time.Second, time.Millisecond)
	render.set(0.5)
	render.finish(media.RenderResult{Status: media.RenderCompleted})

	o := waitResult(t, h)
	assert.Equal(t, StateCompleted, o.State)
	assert.Equal(t, dest, o.Location)
	assert.NoError(t, o.Err)
	assert.Equal(t, StateCompleted, h.State())
	assert.InDelta(t, 1.0, h.Progress(), 1e-9)

	values := reporter.snapshot()
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1], "progress decreased: %v", values)
	}
	assert.Equal(t, 1.0, values[len(values)-1])
	assert.NotContains(t, values, 0.5)

	assert.Equal(t, int32(1), completes.Load())
	mu.Lock()
	assert.Equal(t, []bool{true}, doneCalls)
	mu.Unlock()
	assert.Equal(t, progress.Outcome{Done: true, Success: true}, sink.Outcome(progress.CategoryVideo))

	_, open := <-h.Result()
	assert.False(t, open, "result is single-shot")
}

func TestPipeline_OnCompleteRunsBeforeOutcomeIsPublished(t *testing.T) {
	render := newFakeRender()
	p, store := newTestPipeline(t, &fakeRenderer{render: render})

	var (
		h         *Handle
		stateSeen State
		doneSeen  bool
		err       error
	)
	called := make(chan struct{})
	h, err = p.Export(context.Background(), tenSecondTimeline(), filepath.Join(store.TempDir(), "out.mp4"), Options{
		OnComplete: func(Outcome) {
			stateSeen = h.State()
			select {
			case <-h.Done():
				doneSeen = true
			default:
			}
			close(called)
		},
	})
	require.NoError(t, err)

	render.finish(media.RenderResult{Status: media.RenderCompleted})
	o := waitResult(t, h)

	select {
	case <-called:
	default:
		t.Fatal("OnComplete did not run before the result was delivered")
	}
	assert.Equal(t, StateCompleted, o.State)
	assert.Equal(t, StateExporting, stateSeen)
	assert.False(t, doneSeen)
	assert.Equal(t, StateCompleted, h.State())
}

type multiReporter []ProgressReporter

func (m multiReporter) ReportProgress(f float64) {
	for _, r := range m {
		r.ReportProgress(f)
	}
}

func TestPipeline_FailedExportWrapsError(t *testing.T) {
	render := newFakeRender()
	p, store := newTestPipeline(t, &fakeRenderer{render: render})

	agg := progress.New(nil, nil)
	rec := progress.NewRecorder()
	agg.Attach(rec)
	agg.Configure(0, 1)

	renderErr := &media.FFmpegError{Args: []string{"-i", "x"}, Stderr: "boom", Err: errors.New("exit status 1")}
	var got []Outcome
	var mu sync.Mutex

	h, err := p.Export(context.Background(), tenSecondTimeline(), filepath.Join(store.TempDir(), "out.mp4"), Options{
		OnComplete: func(o Outcome) {
			mu.Lock()
			got = append(got, o)
			mu.Unlock()
			agg.ReportVideoDone(o.Succeeded())
		},
	})
	require.NoError(t, err)

	render.finish(media.RenderResult{Status: media.RenderFailed, Err: renderErr})
	o := waitResult(t, h)

	assert.Equal(t, StateFailed, o.State)
	assert.Empty(t, o.Location)

	var failure *ExportFailure
	require.True(t, errors.As(o.Err, &failure))
	assert.Equal(t, h.Destination(), failure.Destination)

	var ffErr *media.FFmpegError
	assert.True(t, errors.As(o.Err, &ffErr))

	mu.Lock()
	assert.Len(t, got, 1)
	mu.Unlock()
	assert.Equal(t, progress.Outcome{Done: true, Success: false}, rec.Outcome(progress.CategoryVideo))
}

func TestPipeline_CancelledExport(t *testing.T) {
	render := newFakeRender()
	p, store := newTestPipeline(t, &fakeRenderer{render: render})

	rec := progress.NewRecorder()
	agg := progress.New(rec, nil)
	agg.Configure(0, 1)

	var completes atomic.Int32
	h, err := p.Export(context.Background(), tenSecondTimeline(), filepath.Join(store.TempDir(), "out.mp4"), Options{
		OnComplete: func(o Outcome) {
			completes.Add(1)
			agg.ReportVideoDone(o.Succeeded())
		},
	})
	require.NoError(t, err)

	h.Cancel()
	o := waitResult(t, h)

	assert.Equal(t, StateCancelled, o.State)
	assert.ErrorIs(t, o.Err, context.Canceled)
	assert.Equal(t, int32(0), completes.Load(), "completion callback does not fire on cancel")
	assert.False(t, rec.Outcome(progress.CategoryVideo).Done, "no category callback on cancel")
	assert.False(t, agg.Snapshot().VideosDone)

	h.Cancel()
	assert.Equal(t, StateCancelled, h.State())
}

func TestPipeline_DestinationOwnedByOneExport(t *testing.T) {
	first := newFakeRender()
	renderer := &fakeRenderer{render: first}
	p, store := newTestPipeline(t, renderer)
	dest := filepath.Join(store.TempDir(), "shared.mp4")

	h, err := p.Export(context.Background(), tenSecondTimeline(), dest, Options{})
	require.NoError(t, err)

	_, err = p.Export(context.Background(), tenSecondTimeline(), dest, Options{RemoveExisting: true})
	assert.ErrorIs(t, err, storage.ErrDestinationBusy)
	assert.Equal(t, 1, renderer.callCount())

	first.finish(media.RenderResult{Status: media.RenderCompleted})
	waitResult(t, h)

	renderer.render = newFakeRender()
	h2, err := p.Export(context.Background(), tenSecondTimeline(), dest, Options{RemoveExisting: true})
	require.NoError(t, err, "destination is released after the first export resolves")
	h2.Cancel()
	waitResult(t, h2)
}

func TestPipeline_ExistingDestination(t *testing.T) {
	renderer := &fakeRenderer{render: newFakeRender()}
	p, store := newTestPipeline(t, renderer)
	dest := filepath.Join(store.TempDir(), "exists.mp4")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0600))

	_, err := p.Export(context.Background(), tenSecondTimeline(), dest, Options{})
	assert.ErrorIs(t, err, ErrDestinationExists)
	assert.Equal(t, 0, renderer.callCount())

	var existedAtStart bool
	renderer.onStart = func(d string) {
		_, statErr := os.Stat(d)
		existedAtStart = statErr == nil
	}
	h, err := p.Export(context.Background(), tenSecondTimeline(), dest, Options{RemoveExisting: true})
	require.NoError(t, err)
	assert.False(t, existedAtStart, "existing file removed before rendering")
	h.Cancel()
	waitResult(t, h)
}

func TestPipeline_PresetSelection(t *testing.T) {
	tests := []struct {
		name       string
		background bool
		finalPass  bool
		configured media.Preset
		want       media.Preset
	}{
		{"intermediate pass with background compression", true, false, media.PresetStandard, media.PresetPassthrough},
		{"final pass with background compression", true, true, media.PresetStandard, media.PresetStandard},
		{"no background compression", false, false, media.PresetStandard, media.PresetStandard},
		{"configured passthrough", false, true, media.PresetPassthrough, media.PresetPassthrough},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			renderer := &fakeRenderer{render: newFakeRender()}
			p, store := newTestPipeline(t, renderer,
				WithBackgroundCompression(tt.background),
				WithPreset(tt.configured),
			)

			h, err := p.Export(context.Background(), tenSecondTimeline(), filepath.Join(store.TempDir(), "o.mp4"), Options{FinalPass: tt.finalPass})
			require.NoError(t, err)
			assert.Equal(t, tt.want, renderer.preset)
			assert.Equal(t, tt.want, h.Preset())

			h.Cancel()
			waitResult(t, h)
		})
	}
}

func TestPipeline_CompositionErrorSchedulesNothing(t *testing.T) {
	renderer := &fakeRenderer{render: newFakeRender()}
	p, store := newTestPipeline(t, renderer)

	_, err := p.TrimAndExport(context.Background(), tenSecondTimeline(),
		media.TrimRange{Start: 8 * time.Second, End: 12 * time.Second},
		filepath.Join(store.TempDir(), "o.mp4"), Options{})

	var compErr *media.CompositionError
	require.True(t, errors.As(err, &compErr))
	assert.ErrorIs(t, err, media.ErrInvalidRange)
	assert.Equal(t, 0, renderer.callCount())
}

func TestPipeline_RenderStartErrorReleasesDestination(t *testing.T) {
	renderer := &fakeRenderer{err: errors.New("no encoder")}
	p, store := newTestPipeline(t, renderer)
	dest := filepath.Join(store.TempDir(), "o.mp4")

	_, err := p.Export(context.Background(), tenSecondTimeline(), dest, Options{})
	require.Error(t, err)

	claim, err := store.ClaimDestination(context.Background(), dest)
	require.NoError(t, err)
	_ = claim.Release()
}

func TestPipeline_InvalidArguments(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeRenderer{render: newFakeRender()})

	_, err := p.Export(context.Background(), nil, "/tmp/x.mp4", Options{})
	assert.ErrorIs(t, err, media.ErrNilTimeline)

	_, err = p.Export(context.Background(), tenSecondTimeline(), "", Options{})
	assert.ErrorIs(t, err, ErrNoDestination)
}

func TestHandle_WaitFromManyGoroutines(t *testing.T) {
	render := newFakeRender()
	p, store := newTestPipeline(t, &fakeRenderer{render: render})

	h, err := p.Export(context.Background(), tenSecondTimeline(), filepath.Join(store.TempDir(), "o.mp4"), Options{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Outcome, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := h.Wait(context.Background())
			assert.NoError(t, err)
			results[i] = o
		}(i)
	}

	render.finish(media.RenderResult{Status: media.RenderCompleted})
	wg.Wait()

	for _, o := range results {
		assert.Equal(t, StateCompleted, o.State)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o, err := h.Wait(ctx)
	// Done is already closed, so either branch may be chosen.
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	} else {
		assert.Equal(t, StateCompleted, o.State)
	}
}

func TestState_IsTerminal(t *testing.T) {
	assert.False(t, StatePending.IsTerminal())
	assert.False(t, StateExporting.IsTerminal())
	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.True(t, StateCancelled.IsTerminal())
}
