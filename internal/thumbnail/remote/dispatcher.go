// Package remote hands thumbnail jobs to an external derivation service over
// HTTP. The service reports back through the job status callback.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/airfobrien/tennispro-sub000/internal/access"
	"github.com/airfobrien/tennispro-sub000/internal/thumbnail"
)

// Static errors for remote dispatch.
var (
	// ErrEndpointRequired is returned when no endpoint URL is provided.
	ErrEndpointRequired = errors.New("remote: endpoint URL is required")
	// ErrServerError is returned when the service returns a 5xx status code.
	ErrServerError = errors.New("remote: server error")
	// ErrRateLimited is returned when the service returns a 429 status code.
	ErrRateLimited = errors.New("remote: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("remote: request failed")
	// ErrRejected is returned when the service answers 2xx but does not accept the job.
	ErrRejected = errors.New("remote: job rejected")
)

var _ thumbnail.Dispatcher = (*Dispatcher)(nil)

// SourceSigner issues read grants for source videos.
type SourceSigner interface {
	DownloadGrant(ctx context.Context, key string) (access.Grant, error)
}

// jobRequest is the body POSTed to the derivation service.
type jobRequest struct {
	JobID       string    `json:"job_id"`
	VideoID     string    `json:"video_id"`
	SourceKey   string    `json:"source_key"`
	DerivedKey  string    `json:"derived_key"`
	SourceURL   string    `json:"source_url"`
	URLExpires  time.Time `json:"source_url_expires_at"`
	CallbackURL string    `json:"callback_url,omitempty"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Quality     int       `json:"quality"`
}

type jobResponse struct {
	Accepted *bool  `json:"accepted,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Dispatcher POSTs jobs to an external derivation endpoint with bearer
// authentication, retrying transient failures with exponential backoff.
type Dispatcher struct {
	endpoint     string
	token        string
	callbackBase string
	signer       SourceSigner
	httpClient   *http.Client
	maxRetries   int
	baseBackoff  time.Duration
}

// Option is a function that configures a Dispatcher.
type Option func(*Dispatcher)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(d *Dispatcher) {
		d.token = token
	}
}

// WithCallbackBase sets the public base URL of this API. The job callback
// URL is {base}/thumbnails/{id}/status.
func WithCallbackBase(base string) Option {
	return func(d *Dispatcher) {
		d.callbackBase = base
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		d.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) {
		d.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(b time.Duration) Option {
	return func(d *Dispatcher) {
		d.baseBackoff = b
	}
}

// NewDispatcher creates a Dispatcher for endpoint. signer produces the
// source URL the service downloads from.
func NewDispatcher(endpoint string, signer SourceSigner, opts ...Option) (*Dispatcher, error) {
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}

	d := &Dispatcher{
		endpoint:    endpoint,
		signer:      signer,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxRetries:  2,
		baseBackoff: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch submits job to the derivation service.
func (d *Dispatcher) Dispatch(ctx context.Context, job *thumbnail.Job) error {
	snap := job.Clone()

	grant, err := d.signer.DownloadGrant(ctx, snap.SourceKey)
	if err != nil {
		return fmt.Errorf("remote: sign source url: %w", err)
	}

	body, err := json.Marshal(jobRequest{
		JobID:       snap.ID,
		VideoID:     snap.VideoID,
		SourceKey:   snap.SourceKey,
		DerivedKey:  snap.DerivedKey,
		SourceURL:   grant.URL,
		URLExpires:  grant.ExpiresAt,
		CallbackURL: d.callbackURL(snap.ID),
		Width:       thumbnail.Width,
		Height:      thumbnail.Height,
		Quality:     thumbnail.Quality,
	})
	if err != nil {
		return fmt.Errorf("remote: marshal request: %w", err)
	}

	var resp jobResponse
	if err := d.doRequestWithRetry(ctx, body, &resp); err != nil {
		return err
	}
	if resp.Accepted != nil && !*resp.Accepted {
		return fmt.Errorf("%w: %s", ErrRejected, resp.Error)
	}
	return nil
}

func (d *Dispatcher) callbackURL(jobID string) string {
	if d.callbackBase == "" {
		return ""
	}
	u, err := url.JoinPath(d.callbackBase, "thumbnails", jobID, "status")
	if err != nil {
		return ""
	}
	return u
}

// doRequestWithRetry performs the POST with exponential backoff retry.
func (d *Dispatcher) doRequestWithRetry(ctx context.Context, body []byte, result any) error {
	var lastErr error
	backoff := d.baseBackoff

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("remote: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := d.doRequest(ctx, body, result)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("remote: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (d *Dispatcher) doRequest(ctx context.Context, body []byte, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("remote: request failed: %w", err)
		}
		return &retryableError{err: fmt.Errorf("remote: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &retryableError{err: fmt.Errorf("remote: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("remote: unmarshal response: %w", err)
		}
	}
	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
