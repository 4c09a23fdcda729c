// Package export schedules asynchronous trim-and-export renders, reports their
// progress and delivers a single terminal outcome per export.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/maauso/pickerexport/internal/media"
	"github.com/maauso/pickerexport/internal/storage"
)

// DefaultPollInterval is how often render progress is sampled.
const DefaultPollInterval = 100 * time.Millisecond

// ProgressReporter receives intra-export progress fractions.
// *progress.Aggregator satisfies it.
type ProgressReporter interface {
	ReportProgress(fraction float64)
}

// DestinationClaimer grants exclusive ownership of an export destination.
type DestinationClaimer interface {
	ClaimDestination(ctx context.Context, path string) (*storage.Claim, error)
}

// Options configures a single export.
type Options struct {
	// RemoveExisting deletes a file already present at the destination.
	RemoveExisting bool
	// FinalPass marks the last render of a picker session. Intermediate renders
	// use passthrough while background compression is on.
	FinalPass bool
	// Reporter receives progress samples. May be nil.
	Reporter ProgressReporter
	// OnComplete fires once when the export completes or fails. It is not
	// called for cancelled exports; read Handle.Result for those.
	// It runs before the outcome is published: the handle still reports
	// StateExporting and Wait must not be called from inside it.
	OnComplete func(Outcome)
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPreset sets the preset used for final renders.
func WithPreset(p media.Preset) PipelineOption {
	return func(pl *Pipeline) {
		pl.preset = p
	}
}

// WithBackgroundCompression enables passthrough for non-final renders.
func WithBackgroundCompression(enabled bool) PipelineOption {
	return func(pl *Pipeline) {
		pl.backgroundCompression = enabled
	}
}

// WithPollInterval sets the progress sampling interval.
func WithPollInterval(d time.Duration) PipelineOption {
	return func(pl *Pipeline) {
		if d > 0 {
			pl.pollInterval = d
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(pl *Pipeline) {
		if l != nil {
			pl.logger = l
		}
	}
}

// Pipeline turns timelines into files on disk.
type Pipeline struct {
	renderer              media.Renderer
	claimer               DestinationClaimer
	preset                media.Preset
	backgroundCompression bool
	pollInterval          time.Duration
	logger                *slog.Logger
}

// NewPipeline creates a Pipeline rendering with renderer and claiming
// destinations through claimer.
func NewPipeline(renderer media.Renderer, claimer DestinationClaimer, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		renderer:     renderer,
		claimer:      claimer,
		preset:       media.PresetStandard,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TrimAndExport builds the [rng.Start, rng.End) copy of source and exports it.
// Composition errors are returned before anything is scheduled.
func (p *Pipeline) TrimAndExport(ctx context.Context, source *media.Timeline, rng media.TrimRange, dest string, opts Options) (*Handle, error) {
	trimmed, err := media.BuildTrimmedCopy(source, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	return p.Export(ctx, trimmed, dest, opts)
}

// Export starts rendering tl to dest and returns without waiting for it.
// Cancelling ctx cancels the render.
func (p *Pipeline) Export(ctx context.Context, tl *media.Timeline, dest string, opts Options) (*Handle, error) {
	if tl == nil {
		return nil, media.ErrNilTimeline
	}
	if dest == "" {
		return nil, ErrNoDestination
	}

	claim, err := p.claimer.ClaimDestination(ctx, dest)
	if err != nil {
		return nil, err
	}

	if err := prepareDestination(dest, opts.RemoveExisting); err != nil {
		_ = claim.Release()
		return nil, err
	}

	preset := media.SelectPreset(p.backgroundCompression, opts.FinalPass, p.preset)
	h := newHandle(dest, preset)

	render, err := p.renderer.Render(ctx, tl, dest, preset)
	if err != nil {
		_ = claim.Release()
		return nil, fmt.Errorf("start export: %w", err)
	}
	h.start(render)

	p.logger.Info("export started",
		slog.String("source", tl.Path),
		slog.String("destination", dest),
		slog.String("preset", string(preset)),
		slog.Duration("duration", tl.Duration),
	)

	go p.watch(h, render, claim, opts)

	return h, nil
}

func prepareDestination(dest string, removeExisting bool) error {
	_, err := os.Stat(dest)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("stat destination: %w", err)
	case !removeExisting:
		return fmt.Errorf("%w: %s", ErrDestinationExists, dest)
	}
	if err := os.Remove(dest); err != nil {
		return fmt.Errorf("remove existing destination: %w", err)
	}
	return nil
}

// watch samples progress until the render resolves, then publishes the outcome.
// The ticker is stopped before the outcome is delivered, so no progress sample
// follows it.
func (p *Pipeline) watch(h *Handle, render media.Render, claim *storage.Claim, opts Options) {
	ticker := time.NewTicker(p.pollInterval)

	last := 0.0
	report := func(f float64) {
		if f <= last {
			return
		}
		last = f
		h.setProgress(f)
		if opts.Reporter != nil {
			opts.Reporter.ReportProgress(f)
		}
	}

	var res media.RenderResult
	for resolved := false; !resolved; {
		select {
		case <-ticker.C:
			report(render.Progress())
		case r, ok := <-render.Done():
			if !ok {
				r = media.RenderResult{Status: media.RenderFailed, Err: ErrRenderLost}
			}
			res = r
			resolved = true
		}
	}
	ticker.Stop()

	outcome := p.outcomeFor(h.destination, res)
	if outcome.State == StateCompleted {
		report(1)
	} else {
		_ = os.Remove(h.destination)
	}

	if err := claim.Release(); err != nil {
		p.logger.Warn("failed to release destination",
			slog.String("destination", h.destination),
			slog.String("error", err.Error()),
		)
	}

	// Observers see the outcome before Result and Wait do.
	if opts.OnComplete != nil && outcome.State != StateCancelled {
		opts.OnComplete(outcome)
	}
	h.finish(outcome)
}

func (p *Pipeline) outcomeFor(dest string, res media.RenderResult) Outcome {
	switch res.Status {
	case media.RenderCompleted:
		p.logger.Info("export completed", slog.String("destination", dest))
		return Outcome{State: StateCompleted, Location: dest}
	case media.RenderCancelled:
		p.logger.Info("export cancelled", slog.String("destination", dest))
		err := res.Err
		if err == nil {
			err = context.Canceled
		}
		return Outcome{State: StateCancelled, Err: err}
	default:
		err := res.Err
		if err == nil {
			err = ErrRenderLost
		}
		p.logger.Error("export failed",
			slog.String("destination", dest),
			slog.String("error", err.Error()),
		)
		return Outcome{State: StateFailed, Err: &ExportFailure{Destination: dest, Err: err}}
	}
}
