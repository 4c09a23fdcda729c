// Package media models source timelines and wraps ffmpeg/ffprobe for trimming,
// exporting, cropping and cover-frame extraction.
package media

import (
	"context"
	"time"
)

// Rect is a crop rectangle in source pixels.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Processor defines the still-image operations used by the picker flows.
// Implementations should use ffmpeg or similar tools for media manipulation.
type Processor interface {
	// CropImage cuts rect out of the image at src and writes it to dst.
	CropImage(ctx context.Context, src, dst string, rect Rect) error

	// ResizeImageWithPadding resizes an image to the specified dimensions while
	// maintaining aspect ratio. Black padding is added to fill any remaining space.
	ResizeImageWithPadding(ctx context.Context, src, dst string, w, h int) error

	// ExtractFrame writes the frame displayed at offset at of videoPath to dst.
	// It is used to build cover thumbnails for exported videos.
	ExtractFrame(ctx context.Context, videoPath string, at time.Duration, dst string) error
}
