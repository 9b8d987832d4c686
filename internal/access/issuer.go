// Package access issues short-lived, signed authorizations for one object key:
// presigned object-store URLs for upload and download, and CDN signed URLs
// for playback when CDN credentials are configured.
package access

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/airfobrien/tennispro-sub000/internal/access/cdn"
	"github.com/airfobrien/tennispro-sub000/internal/storage"
)

// Expiry policy per purpose.
const (
	UploadExpiry    = time.Hour
	DownloadExpiry  = 24 * time.Hour
	ThumbnailExpiry = 7 * 24 * time.Hour
)

// MaxUploadContentLength is the largest body a presigned single-shot upload may carry.
const MaxUploadContentLength int64 = 500 * 1024 * 1024

// AllowedContentTypes lists the video containers accepted for upload.
var AllowedContentTypes = []string{
	"video/mp4",
	"video/quicktime",
	"video/x-msvideo",
	"video/webm",
	"video/x-m4v",
}

// Static errors for grant issuance.
var (
	// ErrKeyRequired is returned when a grant is requested without a key.
	ErrKeyRequired = errors.New("access: object key is required")
	// ErrContentTypeNotAllowed is returned for content types outside AllowedContentTypes.
	ErrContentTypeNotAllowed = errors.New("access: content type not allowed")
	// ErrContentLengthTooLarge is returned when the upload exceeds MaxUploadContentLength.
	ErrContentLengthTooLarge = errors.New("access: content length exceeds maximum")
	// ErrInvalidContentLength is returned for a non-positive content length.
	ErrInvalidContentLength = errors.New("access: content length must be positive")
)

// Purpose says what a grant authorizes.
type Purpose string

const (
	// PurposeUpload authorizes one PUT of the object.
	PurposeUpload Purpose = "upload"
	// PurposeDownload authorizes GETs of a video for playback or download.
	PurposeDownload Purpose = "download"
	// PurposeThumbnail authorizes GETs of a derived thumbnail.
	PurposeThumbnail Purpose = "thumbnail"
)

// Grant is a signed request for one key. It is never persisted and must not
// be reused after ExpiresAt.
type Grant struct {
	Key       string
	Purpose   Purpose
	URL       string
	Method    string
	Header    http.Header
	ExpiresAt time.Time
	ExpiresIn time.Duration
}

// Expired reports whether the grant is no longer valid at now.
func (g Grant) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

// CDNResult is either a signed CDN URL or NotConfigured. Signing failures are
// reported as errors, never as NotConfigured.
type CDNResult struct {
	signed *cdn.SignedURL
}

// NotConfigured is the CDNResult returned when no CDN key pair is available.
func NotConfigured() CDNResult {
	return CDNResult{}
}

// Signed wraps a CDN signed URL.
func Signed(u cdn.SignedURL) CDNResult {
	return CDNResult{signed: &u}
}

// Configured reports whether the result carries a signed URL.
func (r CDNResult) Configured() bool {
	return r.signed != nil
}

// SignedURL returns the signed URL and true, or false when NotConfigured.
func (r CDNResult) SignedURL() (cdn.SignedURL, bool) {
	if r.signed == nil {
		return cdn.SignedURL{}, false
	}
	return *r.signed, true
}

// Scheme names the signing scheme behind a playback URL.
type Scheme string

const (
	// SchemeCDN is a CDN custom-policy signed URL.
	SchemeCDN Scheme = "cdn"
	// SchemePresigned is an object-store presigned URL.
	SchemePresigned Scheme = "presigned"
)

// Playback is a read URL for a video, whichever scheme produced it.
type Playback struct {
	URL       string
	Scheme    Scheme
	ExpiresAt time.Time
}

// Issuer produces grants. It holds no state besides injected credentials.
type Issuer struct {
	presigner storage.Presigner
	cdn       *cdn.Signer
	cdnDomain string
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithCDN enables CDN signed URLs for objects served from domain.
func WithCDN(signer *cdn.Signer, domain string) Option {
	return func(i *Issuer) {
		i.cdn = signer
		i.cdnDomain = strings.TrimSuffix(strings.TrimPrefix(domain, "https://"), "/")
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewIssuer creates an Issuer backed by presigner.
func NewIssuer(presigner storage.Presigner, opts ...Option) *Issuer {
	i := &Issuer{
		presigner: presigner,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// CDNEnabled reports whether CDN signing is configured.
func (i *Issuer) CDNEnabled() bool {
	return i.cdn != nil && i.cdnDomain != ""
}

// ContentTypeAllowed reports whether contentType may be uploaded.
func ContentTypeAllowed(contentType string) bool {
	return slices.Contains(AllowedContentTypes, contentType)
}

// ValidateUpload checks content type and length against the upload limits.
func ValidateUpload(contentType string, contentLength int64) error {
	if !ContentTypeAllowed(contentType) {
		return fmt.Errorf("%w: %q (allowed: %s)", ErrContentTypeNotAllowed, contentType, strings.Join(AllowedContentTypes, ", "))
	}
	if contentLength <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidContentLength, contentLength)
	}
	if contentLength > MaxUploadContentLength {
		return fmt.Errorf("%w: %d > %d bytes", ErrContentLengthTooLarge, contentLength, MaxUploadContentLength)
	}
	return nil
}

// IsValidation reports whether err is a caller-correctable validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrKeyRequired) ||
		errors.Is(err, ErrContentTypeNotAllowed) ||
		errors.Is(err, ErrContentLengthTooLarge) ||
		errors.Is(err, ErrInvalidContentLength)
}

// UploadGrant issues a one-hour PUT grant for key. Validation happens before
// the presigner is contacted.
func (i *Issuer) UploadGrant(ctx context.Context, key, contentType string, contentLength int64) (Grant, error) {
	if key == "" {
		return Grant{}, ErrKeyRequired
	}
	if err := ValidateUpload(contentType, contentLength); err != nil {
		return Grant{}, err
	}

	issued := i.now()
	req, err := i.presigner.PresignPut(ctx, key, contentType, contentLength, UploadExpiry)
	if err != nil {
		i.logger.Error("failed to presign upload",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return Grant{}, err
	}

	return newGrant(key, PurposeUpload, req, issued, UploadExpiry), nil
}

// DownloadGrant issues a 24-hour GET grant for a video.
func (i *Issuer) DownloadGrant(ctx context.Context, key string) (Grant, error) {
	return i.readGrant(ctx, key, PurposeDownload, DownloadExpiry)
}

// ThumbnailGrant issues a 7-day GET grant for a thumbnail.
func (i *Issuer) ThumbnailGrant(ctx context.Context, key string) (Grant, error) {
	return i.readGrant(ctx, key, PurposeThumbnail, ThumbnailExpiry)
}

func (i *Issuer) readGrant(ctx context.Context, key string, purpose Purpose, ttl time.Duration) (Grant, error) {
	if key == "" {
		return Grant{}, ErrKeyRequired
	}

	issued := i.now()
	req, err := i.presigner.PresignGet(ctx, key, ttl)
	if err != nil {
		i.logger.Error("failed to presign download",
			slog.String("key", key),
			slog.String("purpose", string(purpose)),
			slog.String("error", err.Error()),
		)
		return Grant{}, err
	}

	return newGrant(key, purpose, req, issued, ttl), nil
}

func newGrant(key string, purpose Purpose, req storage.PresignedRequest, issued time.Time, ttl time.Duration) Grant {
	return Grant{
		Key:       key,
		Purpose:   purpose,
		URL:       req.URL,
		Method:    req.Method,
		Header:    req.Header,
		ExpiresAt: issued.Add(ttl),
		ExpiresIn: ttl,
	}
}

// CDNURL returns the unsigned CDN URL of key.
func (i *Issuer) CDNURL(key string) string {
	u := url.URL{Scheme: "https", Host: i.cdnDomain, Path: "/" + key}
	return u.String()
}

// SignedVideoURL signs the CDN URL of key for ttl. It returns NotConfigured,
// with a nil error, when no CDN key pair is configured.
func (i *Issuer) SignedVideoURL(key string, ttl time.Duration) (CDNResult, error) {
	if !i.CDNEnabled() {
		return NotConfigured(), nil
	}
	if key == "" {
		return NotConfigured(), ErrKeyRequired
	}

	signed, err := i.cdn.Sign(i.CDNURL(key), ttl)
	if err != nil {
		return NotConfigured(), fmt.Errorf("sign cdn url: %w", err)
	}
	return Signed(signed), nil
}

// PlaybackURL returns a read URL for key: a CDN signed URL when configured,
// otherwise a presigned download grant.
func (i *Issuer) PlaybackURL(ctx context.Context, key string) (Playback, error) {
	res, err := i.SignedVideoURL(key, DownloadExpiry)
	if err != nil {
		return Playback{}, err
	}
	if signed, ok := res.SignedURL(); ok {
		return Playback{URL: signed.URL, Scheme: SchemeCDN, ExpiresAt: signed.ExpiresAt}, nil
	}

	grant, err := i.DownloadGrant(ctx, key)
	if err != nil {
		return Playback{}, err
	}
	return Playback{URL: grant.URL, Scheme: SchemePresigned, ExpiresAt: grant.ExpiresAt}, nil
}

// CacheKey identifies a signing request within its hour-aligned bucket, so
// callers can reuse a URL for identical requests in the same hour.
func CacheKey(key string, now time.Time) string {
	bucket := now.Unix() / int64(time.Hour/time.Second)
	sum := sha256.Sum256([]byte(key + ":" + strconv.FormatInt(bucket, 10)))
	return hex.EncodeToString(sum[:])
}
