// Package cdn signs CloudFront URLs with a custom access policy.
//
// A signed URL carries three query parameters: Policy (the JSON policy,
// base64url without padding), Signature (RSA/SHA-1 over the raw policy JSON,
// same encoding) and Key-Pair-Id.
package cdn

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" // #nosec G505 - CloudFront signed URLs are defined over SHA-1
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Static errors for CDN signing.
var (
	// ErrKeyPairIDRequired is returned when no key pair ID is configured.
	ErrKeyPairIDRequired = errors.New("cdn: key pair ID is required")
	// ErrInvalidPrivateKey is returned when the PEM cannot be parsed as an RSA key.
	ErrInvalidPrivateKey = errors.New("cdn: invalid RSA private key")
	// ErrResourceRequired is returned when signing an empty resource URL.
	ErrResourceRequired = errors.New("cdn: resource URL is required")
	// ErrInvalidTTL is returned when the requested lifetime is not positive.
	ErrInvalidTTL = errors.New("cdn: ttl must be positive")
)

// SignedURL is a CDN URL that grants read access until ExpiresAt.
type SignedURL struct {
	URL       string
	ExpiresAt time.Time
}

type policy struct {
	Statement []statement `json:"Statement"`
}

type statement struct {
	Resource  string    `json:"Resource"`
	Condition condition `json:"Condition"`
}

type condition struct {
	DateLessThan epochTime `json:"DateLessThan"`
}

type epochTime struct {
	EpochTime int64 `json:"AWS:EpochTime"`
}

// Signer produces CDN signed URLs with one key pair.
type Signer struct {
	keyPairID string
	key       *rsa.PrivateKey
	now       func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSigner parses a PEM-encoded RSA private key (PKCS#1 or PKCS#8) and
// returns a Signer for keyPairID.
func NewSigner(keyPairID string, privateKeyPEM []byte, opts ...Option) (*Signer, error) {
	if keyPairID == "" {
		return nil, ErrKeyPairIDRequired
	}
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}

	s := &Signer{keyPairID: keyPairID, key: key, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// KeyPairID returns the public key identifier appended to signed URLs.
func (s *Signer) KeyPairID() string {
	return s.keyPairID
}

// Sign grants access to resourceURL for ttl from now.
func (s *Signer) Sign(resourceURL string, ttl time.Duration) (SignedURL, error) {
	if ttl <= 0 {
		return SignedURL{}, ErrInvalidTTL
	}
	expires := s.now().Add(ttl)
	signed, err := s.SignUntil(resourceURL, expires)
	if err != nil {
		return SignedURL{}, err
	}
	return SignedURL{URL: signed, ExpiresAt: time.Unix(expires.Unix(), 0)}, nil
}

// SignUntil grants access to resourceURL until expires, truncated to whole seconds.
func (s *Signer) SignUntil(resourceURL string, expires time.Time) (string, error) {
	if resourceURL == "" {
		return "", ErrResourceRequired
	}

	doc, err := PolicyDocument(resourceURL, expires)
	if err != nil {
		return "", err
	}

	digest := sha1.Sum(doc) // #nosec G401 - required by the CDN signature scheme
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA1, digest[:])
	if err != nil {
		return "", fmt.Errorf("cdn: sign policy: %w", err)
	}

	sep := "?"
	if strings.Contains(resourceURL, "?") {
		sep = "&"
	}

	return resourceURL + sep +
		"Policy=" + Encode(doc) +
		"&Signature=" + Encode(sig) +
		"&Key-Pair-Id=" + s.keyPairID, nil
}

// PolicyDocument returns the exact JSON policy signed for resourceURL.
// HTML escaping is disabled so the document matches the URL byte for byte.
func PolicyDocument(resourceURL string, expires time.Time) ([]byte, error) {
	p := policy{Statement: []statement{{
		Resource:  resourceURL,
		Condition: condition{DateLessThan: epochTime{EpochTime: expires.Unix()}},
	}}}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("cdn: encode policy: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Encode is standard base64 with '+' -> '-', '/' -> '_' and padding stripped.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidPrivateKey)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPrivateKey, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: key is %T", ErrInvalidPrivateKey, parsed)
	}
	return key, nil
}
