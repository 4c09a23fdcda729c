package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/maauso/pickerexport/internal/progress"
)

// newProgressSink returns a progress bar for terminals and a line printer
// for everything else.
func newProgressSink(w io.Writer, label string) progress.Sink {
	if isTerminal(w) {
		return newBarSink(w, label)
	}
	return &lineSink{w: w, label: label, last: -1}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type barSink struct {
	bar *progressbar.ProgressBar
}

func newBarSink(w io.Writer, label string) *barSink {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
	return &barSink{bar: bar}
}

func (s *barSink) OnProgress(fraction float64) {
	_ = s.bar.Set(int(fraction * 100))
}

func (s *barSink) OnCategoryDone(_ progress.Category, success bool) {
	if success {
		_ = s.bar.Finish()
		return
	}
	_ = s.bar.Clear()
}

// lineSink prints one line per ten percent of progress.
type lineSink struct {
	w     io.Writer
	label string
	last  int
}

func (s *lineSink) OnProgress(fraction float64) {
	step := int(fraction*10) * 10
	if step <= s.last {
		return
	}
	s.last = step
	fmt.Fprintf(s.w, "%s: %d%%\n", s.label, step)
}

func (s *lineSink) OnCategoryDone(_ progress.Category, success bool) {
	if success {
		fmt.Fprintf(s.w, "%s: done\n", s.label)
		return
	}
	fmt.Fprintf(s.w, "%s: failed\n", s.label)
}
