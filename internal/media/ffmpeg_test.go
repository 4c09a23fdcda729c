package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// skipIfNoFFmpeg skips the test if ffmpeg or ffprobe is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH, skipping test")
	}
}

// createTestImage creates a simple test image using ffmpeg.
func createTestImage(t *testing.T, path string, width, height int) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=red:s=%dx%d:d=1", width, height),
		"-frames:v", "1",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test image: %v\noutput: %s", err, output)
	}
}

// createTestVideo creates a test video with a solid color and silent audio.
func createTestVideo(t *testing.T, path string, duration float64, color string) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:s=64x64:r=25:d=%.1f", color, duration),
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=44100:cl=mono:d=%.1f", duration),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-g", "25",
		"-c:a", "aac",
		"-shortest",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}

func TestNewFFmpegProcessor(t *testing.T) {
	t.Run("default path", func(t *testing.T) {
		p := NewFFmpegProcessor("")
		if p.ffmpegPath != "ffmpeg" {
			t.Errorf("expected default path 'ffmpeg', got %q", p.ffmpegPath)
		}
	})

	t.Run("custom path", func(t *testing.T) {
		p := NewFFmpegProcessor("/usr/local/bin/ffmpeg")
		if p.ffmpegPath != "/usr/local/bin/ffmpeg" {
			t.Errorf("expected custom path, got %q", p.ffmpegPath)
		}
	})
}

func TestCropImage(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects empty rect", func(t *testing.T) {
		p := NewFFmpegProcessor("")
		err := p.CropImage(ctx, "in.png", "out.png", Rect{Width: 0, Height: 10})
		if err == nil || !strings.Contains(err.Error(), "invalid dimensions") {
			t.Errorf("expected invalid dimensions error, got %v", err)
		}
	})

	t.Run("rejects negative origin", func(t *testing.T) {
		p := NewFFmpegProcessor("")
		err := p.CropImage(ctx, "in.png", "out.png", Rect{X: -1, Width: 10, Height: 10})
		if err == nil || !strings.Contains(err.Error(), "invalid offset") {
			t.Errorf("expected invalid offset error, got %v", err)
		}
	})

	t.Run("crops to rect", func(t *testing.T) {
		skipIfNoFFmpeg(t)

		tmpDir := t.TempDir()
		src := filepath.Join(tmpDir, "photo.png")
		dst := filepath.Join(tmpDir, "cropped.png")
		createTestImage(t, src, 120, 80)

		p := NewFFmpegProcessor("")
		if err := p.CropImage(ctx, src, dst, Rect{X: 10, Y: 5, Width: 40, Height: 30}); err != nil {
			t.Fatalf("CropImage failed: %v", err)
		}
		verifyImageDimensions(t, dst, 40, 30)
	})
}

func TestResizeImageWithPadding(t *testing.T) {
	t.Run("rejects non-positive size", func(t *testing.T) {
		p := NewFFmpegProcessor("")
		err := p.ResizeImageWithPadding(context.Background(), "in.png", "out.png", 0, 64)
		if err == nil {
			t.Error("expected error for zero width")
		}
	})

	t.Run("resize landscape to square with padding", func(t *testing.T) {
		skipIfNoFFmpeg(t)

		tmpDir := t.TempDir()
		src := filepath.Join(tmpDir, "landscape.png")
		dst := filepath.Join(tmpDir, "resized_square.png")
		createTestImage(t, src, 100, 50)

		p := NewFFmpegProcessor("")
		if err := p.ResizeImageWithPadding(context.Background(), src, dst, 64, 64); err != nil {
			t.Fatalf("ResizeImageWithPadding failed: %v", err)
		}
		verifyImageDimensions(t, dst, 64, 64)
	})
}

func TestExtractFrame(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects negative offset", func(t *testing.T) {
		p := NewFFmpegProcessor("")
		if err := p.ExtractFrame(ctx, "video.mp4", -time.Second, "cover.png"); err == nil {
			t.Error("expected error for negative offset")
		}
	})

	t.Run("extracts cover frame", func(t *testing.T) {
		skipIfNoFFmpeg(t)

		tmpDir := t.TempDir()
		videoPath := filepath.Join(tmpDir, "clip.mp4")
		coverPath := filepath.Join(tmpDir, "cover.png")
		createTestVideo(t, videoPath, 2.0, "green")

		p := NewFFmpegProcessor("")
		if err := p.ExtractFrame(ctx, videoPath, 500*time.Millisecond, coverPath); err != nil {
			t.Fatalf("ExtractFrame failed: %v", err)
		}

		data, err := os.ReadFile(coverPath)
		if err != nil {
			t.Fatalf("read cover: %v", err)
		}
		// PNG magic bytes
		if len(data) < 4 || data[0] != 0x89 || data[1] != 0x50 || data[2] != 0x4E || data[3] != 0x47 {
			t.Error("extracted frame is not a valid PNG")
		}
	})

	t.Run("fails with non-existent video", func(t *testing.T) {
		skipIfNoFFmpeg(t)

		p := NewFFmpegProcessor("")
		err := p.ExtractFrame(ctx, "/non/existent/video.mp4", 0, filepath.Join(t.TempDir(), "x.png"))
		if err == nil {
			t.Error("expected error for non-existent video")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		skipIfNoFFmpeg(t)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		p := NewFFmpegProcessor("")
		err := p.ExtractFrame(ctx, "/non/existent/video.mp4", 0, filepath.Join(t.TempDir(), "x.png"))
		if err == nil {
			t.Error("expected error when context is cancelled")
		}
	})
}

func TestFFmpegError(t *testing.T) {
	err := &FFmpegError{
		Args:   []string{"-i", "input.mp4", "-c", "copy", "output.mp4"},
		Stderr: "Error opening input file",
		Err:    fmt.Errorf("exit status 1"),
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "exit status 1") {
		t.Error("Error() should contain underlying error")
	}
	if !strings.Contains(errStr, "Error opening input file") {
		t.Error("Error() should contain stderr")
	}

	unwrapped := err.Unwrap()
	if unwrapped == nil || unwrapped.Error() != "exit status 1" {
		t.Errorf("Unwrap() returned wrong error: %v", unwrapped)
	}
}

// Helper functions

func verifyImageDimensions(t *testing.T, path string, expectedW, expectedH int) {
	t.Helper()

	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		t.Fatalf("ffprobe failed: %v", err)
	}

	var w, h int
	n, err := fmt.Sscanf(string(output), "%dx%d", &w, &h)
	if err != nil || n != 2 {
		t.Fatalf("failed to parse dimensions from ffprobe output: %s", output)
	}

	if w != expectedW || h != expectedH {
		t.Errorf("expected dimensions %dx%d, got %dx%d", expectedW, expectedH, w, h)
	}
}

func getVideoDuration(t *testing.T, path string) float64 {
	t.Helper()

	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		t.Fatalf("ffprobe failed: %v", err)
	}

	var duration float64
	if _, err := fmt.Sscanf(string(output), "%f", &duration); err != nil {
		t.Fatalf("failed to parse duration: %s", output)
	}

	return duration
}
