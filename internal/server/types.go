// Package server provides the HTTP API for the video pipeline: upload grants,
// server-side uploads, playback URLs and thumbnail jobs. DTOs here are kept
// separate from domain types.
package server

import "time"

// CreateGrantRequest is the HTTP request body for an upload grant.
type CreateGrantRequest struct {
	// CoachID owns the video.
	CoachID string `json:"coach_id" validate:"required,max=128"`
	// StudentID is the student the video is about.
	StudentID string `json:"student_id" validate:"required,max=128"`
	// Filename is the client's original filename; it is sanitized into the key.
	Filename string `json:"filename" validate:"required,max=255"`
	// ContentType must be one of the allowed video types.
	ContentType string `json:"content_type" validate:"required"`
	// ContentLength is the exact size of the upload in bytes.
	ContentLength int64 `json:"content_length" validate:"required,min=1"`
}

// GrantResponse is a signed upload request the client performs itself.
type GrantResponse struct {
	Key       string              `json:"key"`
	URL       string              `json:"url"`
	Method    string              `json:"method"`
	Headers   map[string][]string `json:"headers,omitempty"`
	ExpiresAt time.Time           `json:"expires_at"`
	// ExpiresIn is the grant lifetime in seconds.
	ExpiresIn int64 `json:"expires_in"`
	// Multipart advises the client that the file is large enough to upload
	// through the server's multipart endpoint instead.
	Multipart bool `json:"multipart"`
}

// UploadResponse is the HTTP response after a server-side upload.
type UploadResponse struct {
	Key       string `json:"key"`
	Size      int64  `json:"size"`
	Parts     int    `json:"parts"`
	Multipart bool   `json:"multipart"`
}

// PlaybackRequest is the HTTP request body for a playback URL.
type PlaybackRequest struct {
	// Key is a video or thumbnail key under a coach/student prefix.
	Key string `json:"key" validate:"required"`
}

// PlaybackResponse is a read URL and the scheme that signed it.
type PlaybackResponse struct {
	URL       string    `json:"url"`
	Scheme    string    `json:"scheme"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateThumbnailRequest is the HTTP request body for a thumbnail job.
type CreateThumbnailRequest struct {
	VideoID   string `json:"video_id" validate:"required,max=128"`
	SourceKey string `json:"source_key" validate:"required"`
}

// ThumbnailStatusRequest is sent by an external worker to report progress.
type ThumbnailStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=processing complete failed"`
	// Error is the failure reason when Status is failed.
	Error string `json:"error" validate:"required_if=Status failed,max=2048"`
}

// ThumbnailJobResponse is the HTTP response for a thumbnail job.
type ThumbnailJobResponse struct {
	ID         string     `json:"id"`
	VideoID    string     `json:"video_id"`
	SourceKey  string     `json:"source_key"`
	DerivedKey string     `json:"derived_key"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	// ThumbnailURL is a read URL for the thumbnail once the job is complete.
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	URLExpiresAt *time.Time `json:"url_expires_at,omitempty"`
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
	// CDN reports whether playback URLs are CDN-signed.
	CDN bool `json:"cdn"`
}
