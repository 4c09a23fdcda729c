package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// RenderStatus is the terminal status of a render.
type RenderStatus string

const (
	// RenderCompleted means the destination was fully written.
	RenderCompleted RenderStatus = "completed"
	// RenderFailed means the encoder exited with an error.
	RenderFailed RenderStatus = "failed"
	// RenderCancelled means the render was stopped before finishing.
	RenderCancelled RenderStatus = "cancelled"
)

// RenderResult is delivered once when a render reaches a terminal status.
type RenderResult struct {
	Status RenderStatus
	Err    error
}

// Render is an in-flight export of a timeline to a file.
type Render interface {
	// Progress returns the fraction of the timeline written so far, in [0, 1].
	Progress() float64
	// Done yields exactly one RenderResult and is then closed.
	Done() <-chan RenderResult
	// Cancel stops the render. The result reports RenderCancelled.
	Cancel()
}

// Renderer starts asynchronous renders. Render must not block until the
// export finishes.
type Renderer interface {
	Render(ctx context.Context, tl *Timeline, dest string, preset Preset) (Render, error)
}

// FFmpegRenderer implements Renderer by running ffmpeg in the background.
type FFmpegRenderer struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	container  Container
}

// NewFFmpegRenderer creates a renderer writing the given container.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegRenderer(ffmpegPath string, container Container) *FFmpegRenderer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if container == "" {
		container = ContainerMP4
	}
	return &FFmpegRenderer{ffmpegPath: ffmpegPath, container: container}
}

// Render starts ffmpeg for tl and returns immediately.
func (r *FFmpegRenderer) Render(ctx context.Context, tl *Timeline, dest string, preset Preset) (Render, error) {
	if tl == nil {
		return nil, ErrNilTimeline
	}

	args := buildRenderArgs(tl, dest, preset, r.container)

	runCtx, cancel := context.WithCancel(ctx)
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(runCtx, r.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	job := &ffmpegRender{
		cancel: cancel,
		total:  tl.Duration,
		done:   make(chan RenderResult, 1),
	}
	go job.wait(runCtx, cmd, stdout, stderr, args)

	return job, nil
}

// buildRenderArgs assembles the ffmpeg command line for a timeline export.
func buildRenderArgs(tl *Timeline, dest string, preset Preset, container Container) []string {
	args := []string{"-y", "-hide_banner", "-nostdin"}

	if tl.Range.Start > 0 {
		args = append(args, "-ss", formatSeconds(tl.Range.Start))
	}
	args = append(args,
		"-i", tl.Path,
		"-t", formatSeconds(tl.Duration),
	)

	for _, track := range tl.Tracks {
		args = append(args, "-map", fmt.Sprintf("0:%d", track.Index))
	}

	if preset == PresetPassthrough {
		args = append(args, "-c", "copy")
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-preset", "fast",
			"-crf", "23",
			"-pix_fmt", "yuv420p",
			"-c:a", "aac",
			"-b:a", "128k",
			"-c:s", "mov_text",
			"-c:d", "copy",
		)
	}

	args = append(args,
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-nostats",
		"-f", string(container),
		dest,
	)
	return args
}

// formatSeconds renders a duration as decimal seconds for ffmpeg.
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

type ffmpegRender struct {
	cancel   context.CancelFunc
	total    time.Duration
	fraction atomic.Uint64
	done     chan RenderResult
}

func (r *ffmpegRender) Progress() float64 {
	return math.Float64frombits(r.fraction.Load())
}

func (r *ffmpegRender) Done() <-chan RenderResult {
	return r.done
}

func (r *ffmpegRender) Cancel() {
	r.cancel()
}

// advance stores f if it moves progress forward.
func (r *ffmpegRender) advance(f float64) {
	f = min(max(f, 0), 1)
	for {
		cur := r.fraction.Load()
		if f <= math.Float64frombits(cur) {
			return
		}
		if r.fraction.CompareAndSwap(cur, math.Float64bits(f)) {
			return
		}
	}
}

func (r *ffmpegRender) wait(ctx context.Context, cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer, args []string) {
	defer close(r.done)
	defer r.cancel()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if f, ok := parseProgressLine(scanner.Text(), r.total); ok {
			r.advance(f)
		}
	}

	err := cmd.Wait()
	switch {
	case ctx.Err() != nil:
		r.done <- RenderResult{Status: RenderCancelled, Err: ctx.Err()}
	case err != nil:
		r.done <- RenderResult{
			Status: RenderFailed,
			Err:    &FFmpegError{Args: args, Stderr: stderr.String(), Err: err},
		}
	default:
		r.advance(1)
		r.done <- RenderResult{Status: RenderCompleted}
	}
}

// parseProgressLine reads one key=value line of ffmpeg -progress output.
// out_time_us and out_time_ms both carry microseconds.
func parseProgressLine(line string, total time.Duration) (float64, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}
	switch key {
	case "progress":
		if value == "end" {
			return 1, true
		}
	case "out_time_us", "out_time_ms":
		if total <= 0 {
			return 0, false
		}
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		f := float64(time.Duration(us)*time.Microsecond) / float64(total)
		return min(f, 1), true
	}
	return 0, false
}
