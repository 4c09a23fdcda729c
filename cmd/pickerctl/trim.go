package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/maauso/pickerexport/internal/export"
	"github.com/maauso/pickerexport/internal/media"
	"github.com/maauso/pickerexport/internal/progress"
	"github.com/maauso/pickerexport/internal/storage"
)

var errExportCancelled = errors.New("export cancelled")

type trimOptions struct {
	start  time.Duration
	end    time.Duration
	cover  time.Duration
	out    string
	preset string
	force  bool
}

func (o trimOptions) validate() error {
	if o.start < 0 {
		return fmt.Errorf("--start must not be negative, got %s", o.start)
	}
	if o.end != 0 && o.end < o.start {
		return fmt.Errorf("--end %s is before --start %s", o.end, o.start)
	}
	if o.cover < 0 {
		return fmt.Errorf("--cover must not be negative, got %s", o.cover)
	}
	if o.preset != "" {
		if _, err := media.ParsePreset(o.preset); err != nil {
			return err
		}
	}
	return nil
}

func newTrimCommand(cctx *commandContext) *cobra.Command {
	var opts trimOptions

	cmd := &cobra.Command{
		Use:   "trim <source>",
		Short: "Trim a video and export it",
		Long: "Trim a video to [--start, --end) and export it with the configured preset.\n" +
			"An --end of zero keeps everything after --start.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			return runTrim(cmd, cctx, args[0], opts)
		},
	}

	cmd.Flags().DurationVar(&opts.start, "start", 0, "Start of the kept range (e.g. 1.5s)")
	cmd.Flags().DurationVar(&opts.end, "end", 0, "End of the kept range; 0 keeps the rest")
	cmd.Flags().DurationVar(&opts.cover, "cover", 0, "Source position of a cover frame to extract; 0 skips it")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Output file (default <source>_trim.<container>)")
	cmd.Flags().StringVar(&opts.preset, "preset", "", "Export preset: passthrough or standard (default $VIDEO_PRESET)")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Overwrite an existing output file")

	return cmd
}

func runTrim(cmd *cobra.Command, cctx *commandContext, src string, opts trimOptions) error {
	cfg, logger, err := cctx.ensureConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	presetName := cfg.VideoPreset
	if opts.preset != "" {
		presetName = opts.preset
	}
	preset, err := media.ParsePreset(presetName)
	if err != nil {
		return err
	}

	container := media.Container(cfg.VideoContainer)
	out := opts.out
	if out == "" {
		out = defaultOutputPath(src, "_trim", container.Extension())
	} else {
		container = containerForPath(out, container)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return err
	}

	tl, err := media.NewFFprobeProber(cfg.FFprobePath).Probe(ctx, src)
	if err != nil {
		return err
	}
	rng := media.TrimRange{Start: opts.start, End: opts.end}
	if rng.End == 0 {
		rng.End = tl.Duration
	}

	sink := newProgressSink(cmd.ErrOrStderr(), "exporting")
	agg := progress.New(sink, logger)
	agg.Configure(0, 1)

	pipeline := export.NewPipeline(media.NewFFmpegRenderer(cfg.FFmpegPath, container), store,
		export.WithPreset(preset),
		export.WithPollInterval(cfg.ProgressPollInterval),
		export.WithLogger(logger),
	)

	started := time.Now()
	h, err := pipeline.TrimAndExport(ctx, tl, rng, out, export.Options{
		RemoveExisting: opts.force,
		FinalPass:      true,
		Reporter:       agg,
	})
	if err != nil {
		return err
	}

	outcome, err := h.Wait(ctx)
	if err != nil {
		h.Cancel()
		outcome, _ = h.Wait(context.Background())
	}

	switch outcome.State {
	case export.StateCompleted:
		agg.ReportVideoDone(true)
	case export.StateCancelled:
		return errExportCancelled
	default:
		agg.ReportVideoDone(false)
		return outcome.Err
	}

	summary := [][2]string{
		{"Source", src},
		{"Output", outcome.Location},
		{"Range", fmt.Sprintf("%s - %s", formatDuration(rng.Start), formatDuration(rng.End))},
		{"Duration", formatDuration(rng.Duration())},
		{"Preset", string(h.Preset())},
		{"Size", fileSize(outcome.Location)},
		{"Elapsed", formatDuration(time.Since(started))},
	}

	if opts.cover > 0 {
		cover, err := extractCover(ctx, cfg.FFmpegPath, outcome.Location, opts.cover, rng)
		if err != nil {
			logger.Warn("cover extraction failed", slog.String("error", err.Error()))
			cover = "failed"
		}
		summary = append(summary, [2]string{"Cover", cover})
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderSummary(summary))
	return nil
}

// extractCover writes a JPEG beside the export for the frame at the source
// position at, clamped into the trimmed range.
func extractCover(ctx context.Context, ffmpegPath, exported string, at time.Duration, rng media.TrimRange) (string, error) {
	offset := media.ClampCover(at, rng) - rng.Start
	dst := defaultOutputPath(exported, "_cover", ".jpg")
	if err := media.NewFFmpegProcessor(ffmpegPath).ExtractFrame(ctx, exported, offset, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func defaultOutputPath(src, suffix, ext string) string {
	base := strings.TrimSuffix(src, filepath.Ext(src))
	return base + suffix + ext
}

func containerForPath(path string, fallback media.Container) media.Container {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mov":
		return media.ContainerMOV
	case ".mp4", ".m4v":
		return media.ContainerMP4
	default:
		return fallback
	}
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "-"
	}
	return humanize.Bytes(uint64(info.Size()))
}
