package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airfobrien/tennispro-sub000/internal/access"
	"github.com/airfobrien/tennispro-sub000/internal/access/cdn"
	"github.com/airfobrien/tennispro-sub000/internal/keyspace"
	"github.com/airfobrien/tennispro-sub000/internal/storage"
	"github.com/airfobrien/tennispro-sub000/internal/thumbnail"
	"github.com/airfobrien/tennispro-sub000/internal/upload"
)

const (
	mib        = 1024 * 1024
	videoKey   = "coaches/c1/students/s1/videos/1700000000000-serve.mp4"
	presignURL = "https://videos.s3.example.com/"
)

// fakeStore is an in-memory object store that presigns fake URLs.
type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	parts     map[string]map[int32][]byte
	nextID    int
	presignFn func(key string) error
}

var _ storage.ObjectStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte), parts: make(map[string]map[int32][]byte)}
}

func (s *fakeStore) CreateMultipartUpload(_ context.Context, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := "upload-" + strconv.Itoa(s.nextID)
	s.parts[id] = make(map[int32][]byte)
	return id, nil
}

func (s *fakeStore) UploadPart(_ context.Context, _, uploadID string, partNumber int32, body io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts[uploadID][partNumber] = data
	return "etag-" + strconv.Itoa(int(partNumber)), nil
}

func (s *fakeStore) CompleteMultipartUpload(_ context.Context, key, uploadID string, parts []storage.CompletedPart) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(s.parts[uploadID][p.PartNumber])
	}
	s.objects[key] = buf.Bytes()
	delete(s.parts, uploadID)
	return presignURL + key, nil
}

func (s *fakeStore) AbortMultipartUpload(_ context.Context, _, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.parts, uploadID)
	return nil
}

func (s *fakeStore) PutObject(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeStore) GetObject(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *fakeStore) PresignPut(_ context.Context, key, contentType string, contentLength int64, expires time.Duration) (storage.PresignedRequest, error) {
	if s.presignFn != nil {
		if err := s.presignFn(key); err != nil {
			return storage.PresignedRequest{}, err
		}
	}
	return storage.PresignedRequest{
		URL:    presignURL + key + "?X-Amz-Expires=" + strconv.Itoa(int(expires.Seconds())),
		Method: http.MethodPut,
		Header: http.Header{
			"Content-Type":   {contentType},
			"Content-Length": {strconv.FormatInt(contentLength, 10)},
		},
	}, nil
}

func (s *fakeStore) PresignGet(_ context.Context, key string, expires time.Duration) (storage.PresignedRequest, error) {
	if s.presignFn != nil {
		if err := s.presignFn(key); err != nil {
			return storage.PresignedRequest{}, err
		}
	}
	return storage.PresignedRequest{
		URL:    presignURL + key + "?X-Amz-Expires=" + strconv.Itoa(int(expires.Seconds())),
		Method: http.MethodGet,
	}, nil
}

func (s *fakeStore) object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

func (s *fakeStore) objectKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}

type testEnv struct {
	handlers   *Handlers
	store      *fakeStore
	thumbnails *thumbnail.Service
	workspace  *storage.Workspace
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnv(t *testing.T, issuerOpts ...access.Option) *testEnv {
	t.Helper()
	logger := testLogger()
	store := newFakeStore()

	ws, err := storage.NewWorkspace(t.TempDir())
	require.NoError(t, err)

	manager, err := upload.NewManager(store, upload.WithPartSize(upload.MinMultipartSize), upload.WithLogger(logger))
	require.NoError(t, err)

	svc := thumbnail.NewService(thumbnail.NewMemoryRepository(), logger)
	issuer := access.NewIssuer(store, append([]access.Option{access.WithLogger(logger)}, issuerOpts...)...)

	return &testEnv{
		handlers:   NewHandlers(issuer, manager, svc, ws, logger),
		store:      store,
		thumbnails: svc,
		workspace:  ws,
	}
}

func newTestCDNSigner(t *testing.T) *cdn.Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	signer, err := cdn.NewSigner("APKATEST", keyPEM)
	require.NoError(t, err)
	return signer
}

func (e *testEnv) router() http.Handler {
	return NewRouter(e.handlers, testLogger(), DefaultConfig())
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	env.handlers.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.False(t, resp.CDN)
}

func TestCreateGrant_Success(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.router(), http.MethodPost, "/uploads/grants", CreateGrantRequest{
		CoachID:       "c1",
		StudentID:     "s1",
		Filename:      "my serve.mp4",
		ContentType:   "video/mp4",
		ContentLength: 2 * mib,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp GrantResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	owner, ok := keyspace.ParseVideoKey(resp.Key)
	require.True(t, ok, "grant key should be a video key: %s", resp.Key)
	assert.Equal(t, keyspace.Owner{CoachID: "c1", StudentID: "s1"}, owner)
	assert.True(t, strings.HasSuffix(resp.Key, "-my_serve.mp4"))

	assert.Equal(t, http.MethodPut, resp.Method)
	assert.Contains(t, resp.URL, "X-Amz-Expires=3600")
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, []string{"video/mp4"}, resp.Headers["Content-Type"])
	assert.False(t, resp.Multipart)
}

func TestCreateGrant_LargeFileAdvisesMultipart(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.router(), http.MethodPost, "/uploads/grants", CreateGrantRequest{
		CoachID: "c1", StudentID: "s1", Filename: "match.mov",
		ContentType: "video/quicktime", ContentLength: 200 * mib,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp GrantResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Multipart)
}

func TestCreateGrant_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode string
	}{
		{
			name:     "disallowed content type",
			body:     CreateGrantRequest{CoachID: "c", StudentID: "s", Filename: "a.flv", ContentType: "video/x-flv", ContentLength: 10},
			wantCode: "CONTENT_TYPE_NOT_ALLOWED",
		},
		{
			name:     "too large",
			body:     CreateGrantRequest{CoachID: "c", StudentID: "s", Filename: "a.mp4", ContentType: "video/mp4", ContentLength: access.MaxUploadContentLength + 1},
			wantCode: "CONTENT_LENGTH_TOO_LARGE",
		},
		{
			name:     "missing fields",
			body:     map[string]any{"coach_id": "c", "content_type": "video/mp4"},
			wantCode: "VALIDATION_ERROR",
		},
		{
			name:     "coach ID escapes its prefix",
			body:     CreateGrantRequest{CoachID: "victim/students/x/videos", StudentID: "s1", Filename: "a.mp4", ContentType: "video/mp4", ContentLength: 10},
			wantCode: "INVALID_ID",
		},
		{
			name:     "student ID is a dot segment",
			body:     CreateGrantRequest{CoachID: "c", StudentID: "..", Filename: "a.mp4", ContentType: "video/mp4", ContentLength: 10},
			wantCode: "INVALID_ID",
		},
		{
			name:     "negative length",
			body:     CreateGrantRequest{CoachID: "c", StudentID: "s", Filename: "a.mp4", ContentType: "video/mp4", ContentLength: -1},
			wantCode: "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.store.presignFn = func(string) error {
				t.Error("presigner must not be called for an invalid request")
				return nil
			}

			rec := doJSON(t, env.router(), http.MethodPost, "/uploads/grants", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestCreateGrant_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/uploads/grants", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	env.handlers.CreateGrant(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decodeError(t, rec).Code)
}

func TestCreateGrant_PresignFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.presignFn = func(string) error { return errors.New("no credentials") }

	rec := doJSON(t, env.router(), http.MethodPost, "/uploads/grants", CreateGrantRequest{
		CoachID: "c", StudentID: "s", Filename: "a.mp4", ContentType: "video/mp4", ContentLength: 10,
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "GRANT_FAILED", decodeError(t, rec).Code)
}

func putVideo(t *testing.T, h http.Handler, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUploadVideo_SingleShot(t *testing.T) {
	env := newTestEnv(t)
	body := bytes.Repeat([]byte("v"), 1024)

	rec := putVideo(t, env.router(), "/videos/c1/s1?filename=clip.mp4", "video/mp4", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp UploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Multipart)
	assert.Equal(t, 1, resp.Parts)
	assert.Equal(t, int64(1024), resp.Size)

	stored, ok := env.store.object(resp.Key)
	require.True(t, ok)
	assert.Equal(t, body, stored)

	entries, err := os.ReadDir(env.workspace.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries, "spooled upload should be removed")
}

func TestUploadVideo_Multipart(t *testing.T) {
	env := newTestEnv(t)
	body := make([]byte, 12*mib)
	for i := range body {
		body[i] = byte(i % 251)
	}

	rec := putVideo(t, env.router(), "/videos/c1/s1?filename=match.mp4", "video/mp4; codecs=avc1", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp UploadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Multipart)
	assert.Equal(t, 3, resp.Parts)

	stored, ok := env.store.object(resp.Key)
	require.True(t, ok)
	assert.True(t, bytes.Equal(body, stored), "parts should be reassembled in order")
}

func TestUploadVideo_Rejections(t *testing.T) {
	t.Run("missing filename", func(t *testing.T) {
		env := newTestEnv(t)
		rec := putVideo(t, env.router(), "/videos/c1/s1", "video/mp4", []byte("x"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("escaped slash in coach ID", func(t *testing.T) {
		env := newTestEnv(t)
		rec := putVideo(t, env.router(), "/videos/victim%2Fstudents%2Fx/s1?filename=a.mp4", "video/mp4", []byte("x"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_ID", decodeError(t, rec).Code)
		assert.Empty(t, env.store.objectKeys())
	})

	t.Run("disallowed content type", func(t *testing.T) {
		env := newTestEnv(t)
		rec := putVideo(t, env.router(), "/videos/c1/s1?filename=a.flv", "video/x-flv", []byte("x"))
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
		assert.Equal(t, "CONTENT_TYPE_NOT_ALLOWED", decodeError(t, rec).Code)
	})

	t.Run("empty body", func(t *testing.T) {
		env := newTestEnv(t)
		rec := putVideo(t, env.router(), "/videos/c1/s1?filename=a.mp4", "video/mp4", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, env.store.objectKeys())
	})

	t.Run("body over limit", func(t *testing.T) {
		env := newTestEnv(t)
		env.handlers = NewHandlers(env.handlers.issuer, env.handlers.uploads, env.thumbnails, env.workspace,
			testLogger(), WithMaxUploadBytes(16))
		rec := putVideo(t, env.router(), "/videos/c1/s1?filename=a.mp4", "video/mp4", make([]byte, 32))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Empty(t, env.store.objectKeys())
	})
}

func TestPlayback_PresignedFallback(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.router(), http.MethodPost, "/playback", PlaybackRequest{Key: videoKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp PlaybackResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, string(access.SchemePresigned), resp.Scheme)
	assert.Contains(t, resp.URL, "X-Amz-Expires=86400")
}

func TestPlayback_CDN(t *testing.T) {
	env := newTestEnv(t, access.WithCDN(newTestCDNSigner(t), "d111.cloudfront.net"))

	rec := doJSON(t, env.router(), http.MethodPost, "/playback", PlaybackRequest{Key: videoKey})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp PlaybackResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, string(access.SchemeCDN), resp.Scheme)

	u, err := url.Parse(resp.URL)
	require.NoError(t, err)
	assert.Equal(t, "d111.cloudfront.net", u.Host)
	assert.Equal(t, "/"+videoKey, u.Path)
	q := u.Query()
	assert.NotEmpty(t, q.Get("Policy"))
	assert.NotEmpty(t, q.Get("Signature"))
	assert.Equal(t, "APKATEST", q.Get("Key-Pair-Id"))
}

func TestPlayback_ThumbnailUsesPresign(t *testing.T) {
	env := newTestEnv(t, access.WithCDN(newTestCDNSigner(t), "d111.cloudfront.net"))

	rec := doJSON(t, env.router(), http.MethodPost, "/playback", PlaybackRequest{Key: keyspace.MakeThumbnailKey(videoKey)})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PlaybackResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, string(access.SchemePresigned), resp.Scheme)
	assert.Contains(t, resp.URL, "X-Amz-Expires=604800")
}

func TestPlayback_ForeignKeyRejected(t *testing.T) {
	env := newTestEnv(t)

	rec := doJSON(t, env.router(), http.MethodPost, "/playback", PlaybackRequest{Key: "exports/report.pdf"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_KEY", decodeError(t, rec).Code)
}

func TestThumbnails_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	router := env.router()

	rec := doJSON(t, router, http.MethodPost, "/thumbnails", CreateThumbnailRequest{VideoID: "v1", SourceKey: videoKey})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created ThumbnailJobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, "coaches/c1/students/s1/videos/1700000000000-serve-thumbnail.jpg", created.DerivedKey)
	assert.Empty(t, created.ThumbnailURL)

	rec = doJSON(t, router, http.MethodPost, "/thumbnails/"+created.ID+"/status", ThumbnailStatusRequest{Status: "processing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPost, "/thumbnails/"+created.ID+"/status", ThumbnailStatusRequest{Status: "complete"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/thumbnails/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var done ThumbnailJobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&done))
	assert.Equal(t, "complete", done.Status)
	assert.Contains(t, done.ThumbnailURL, created.DerivedKey)
	require.NotNil(t, done.URLExpiresAt)
}

func TestThumbnails_InvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	router := env.router()

	job, err := env.thumbnails.Request(context.Background(), thumbnail.RequestInput{VideoID: "v1", SourceKey: videoKey})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/thumbnails/"+job.ID+"/status", ThumbnailStatusRequest{Status: "complete"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", decodeError(t, rec).Code)
}

func TestThumbnails_FailRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	router := env.router()

	job, err := env.thumbnails.Request(context.Background(), thumbnail.RequestInput{VideoID: "v1", SourceKey: videoKey})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/thumbnails/"+job.ID+"/status", ThumbnailStatusRequest{Status: "failed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/thumbnails/"+job.ID+"/status", ThumbnailStatusRequest{Status: "failed", Error: "no video stream"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ThumbnailJobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "failed", resp.Status)
	assert.Equal(t, "no video stream", resp.Error)
}

func TestThumbnails_Rejections(t *testing.T) {
	env := newTestEnv(t)
	router := env.router()

	rec := doJSON(t, router, http.MethodPost, "/thumbnails", CreateThumbnailRequest{VideoID: "v1", SourceKey: "random/key.mp4"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_KEY", decodeError(t, rec).Code)

	rec = doJSON(t, router, http.MethodPost, "/thumbnails", CreateThumbnailRequest{VideoID: "v1", SourceKey: keyspace.MakeThumbnailKey(videoKey)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/thumbnails/thumb-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeError(t, rec).Code)

	rec = doJSON(t, router, http.MethodPost, "/thumbnails/thumb-missing/status", ThumbnailStatusRequest{Status: "processing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/thumbnails/thumb-missing/status", ThumbnailStatusRequest{Status: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	env := newTestEnv(t)
	router := env.router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}

func TestCORSMiddleware(t *testing.T) {
	env := newTestEnv(t)

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(env.handlers, testLogger(), cfg)

	// Test with allowed origin
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PUT")

	// Disallowed origin gets no CORS headers
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Test OPTIONS preflight
	req = httptest.NewRequest(http.MethodOptions, "/uploads/grants", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	// Create a handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(testLogger())(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
}
