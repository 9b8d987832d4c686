package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/airfobrien/tennispro-sub000/internal/access"
)

// Static errors for grant uploads.
var (
	// ErrNotUploadGrant is returned when PutToGrant is given a read grant.
	ErrNotUploadGrant = errors.New("upload: grant does not authorize uploads")
	// ErrGrantExpired is returned when the grant expired before the request was sent.
	ErrGrantExpired = errors.New("upload: grant has expired")
	// ErrGrantRejected is returned when the object store refuses the write.
	ErrGrantRejected = errors.New("upload: grant rejected")
)

// PutToGrant writes size bytes of body to the URL of an upload grant in one
// request. Headers signed into the grant are sent as issued.
func PutToGrant(ctx context.Context, client *http.Client, grant access.Grant, body io.Reader, size int64) error {
	if grant.Purpose != access.PurposeUpload {
		return fmt.Errorf("%w: purpose %q", ErrNotUploadGrant, grant.Purpose)
	}
	if grant.Expired(time.Now()) {
		return ErrGrantExpired
	}
	if size <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	if client == nil {
		client = http.DefaultClient
	}

	method := grant.Method
	if method == "" {
		method = http.MethodPut
	}

	req, err := http.NewRequestWithContext(ctx, method, grant.URL, io.LimitReader(body, size))
	if err != nil {
		return fmt.Errorf("upload: create request: %w", err)
	}
	for name, values := range grant.Header {
		if http.CanonicalHeaderKey(name) == "Content-Length" {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.ContentLength = size

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("upload: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w with status %d: %s", ErrGrantRejected, resp.StatusCode, string(respBody))
	}

	return nil
}
