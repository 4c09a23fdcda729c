// Package server provides the HTTP API for picker sessions.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// CreateSessionRequest is the HTTP request body for starting a session.
type CreateSessionRequest struct {
	// TotalImages is the number of crops the session will submit.
	TotalImages int `json:"total_images" validate:"min=0,max=1000"`
	// TotalVideos is the number of exports the session will submit.
	TotalVideos int `json:"total_videos" validate:"min=0,max=100"`
}

// CategoryResponse is the completion state of one job category.
type CategoryResponse struct {
	Total     int  `json:"total"`
	Completed int  `json:"completed"`
	Done      bool `json:"done"`
	Success   bool `json:"success"`
}

// SessionResponse is the HTTP response describing a session's progress.
type SessionResponse struct {
	// ID is the unique identifier for the session.
	ID string `json:"id"`
	// Progress is the last reported fraction in [0, 1].
	Progress float64 `json:"progress"`
	// Images and Videos report per-category completion.
	Images    CategoryResponse `json:"images"`
	Videos    CategoryResponse `json:"videos"`
	CreatedAt time.Time        `json:"created_at"`
}

// SubmitVideoRequest is the HTTP request body for a trim-and-export.
type SubmitVideoRequest struct {
	// SourcePath is the picked video on the server's filesystem.
	SourcePath string `json:"source_path" validate:"required"`
	// StartMs and EndMs bound the kept range in milliseconds.
	StartMs int64 `json:"start_ms" validate:"min=0"`
	EndMs   int64 `json:"end_ms" validate:"gtefield=StartMs"`
	// CoverMs is the source position of the cover frame. Defaults to StartMs.
	CoverMs *int64 `json:"cover_ms,omitempty" validate:"omitempty,min=0"`
	// FinalPass marks the render that should carry the configured compression.
	FinalPass bool `json:"final_pass"`
	// PushToS3 indicates whether to upload the export to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// ImageRequest is one crop in a SubmitImagesRequest.
type ImageRequest struct {
	SourcePath string `json:"source_path" validate:"required"`
	X          int    `json:"x" validate:"min=0"`
	Y          int    `json:"y" validate:"min=0"`
	Width      int    `json:"width" validate:"required,min=1,max=16384"`
	Height     int    `json:"height" validate:"required,min=1,max=16384"`
	// FitWidth and FitHeight letterbox the crop into a fixed size when both are set.
	FitWidth  int  `json:"fit_width,omitempty" validate:"omitempty,min=1,max=8192"`
	FitHeight int  `json:"fit_height,omitempty" validate:"omitempty,min=1,max=8192"`
	PushToS3  bool `json:"push_to_s3"`
}

// SubmitImagesRequest is the HTTP request body for a batch of crops.
type SubmitImagesRequest struct {
	Images []ImageRequest `json:"images" validate:"required,min=1,dive"`
}

// JobResponse is the HTTP response for job details.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	// Kind is IMAGE_CROP or VIDEO_EXPORT.
	Kind string `json:"kind"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// Error contains any error message if the job failed.
	Error      string `json:"error,omitempty"`
	SourcePath string `json:"source_path"`
	// OutputPath is the exported file, or the source when Fallback is set.
	OutputPath string `json:"output_path,omitempty"`
	CoverPath  string `json:"cover_path,omitempty"`
	Fallback   bool   `json:"fallback"`
	// OutputURL is the S3 URL of the output (if push_to_s3=true and completed).
	OutputURL string    `json:"output_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobListResponse wraps a list of jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
