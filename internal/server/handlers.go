package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/airfobrien/tennispro-sub000/internal/access"
	"github.com/airfobrien/tennispro-sub000/internal/keyspace"
	"github.com/airfobrien/tennispro-sub000/internal/storage"
	"github.com/airfobrien/tennispro-sub000/internal/thumbnail"
	"github.com/airfobrien/tennispro-sub000/internal/upload"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	issuer     *access.Issuer
	uploads    *upload.Manager
	thumbnails *thumbnail.Service
	workspace  *storage.Workspace
	validator  *validator.Validate
	logger     *slog.Logger
	maxUpload  int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes caps the body accepted by the server-side upload
// endpoint. The default is the multipart maximum file size.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	issuer *access.Issuer,
	uploads *upload.Manager,
	thumbnails *thumbnail.Service,
	workspace *storage.Workspace,
	logger *slog.Logger,
	opts ...HandlerOption,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		issuer:     issuer,
		uploads:    uploads,
		thumbnails: thumbnails,
		workspace:  workspace,
		validator:  validator.New(),
		logger:     logger,
		maxUpload:  upload.MaxMultipartFileSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", CDN: h.issuer.CDNEnabled()})
}

// CreateGrant handles POST /uploads/grants requests. The client uploads the
// file itself with the returned signed PUT.
func (h *Handlers) CreateGrant(w http.ResponseWriter, r *http.Request) {
	var req CreateGrantRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := keyspace.ValidateOwner(req.CoachID, req.StudentID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_ID")
		return
	}

	key := keyspace.MakeVideoKey(req.CoachID, req.StudentID, req.Filename)
	grant, err := h.issuer.UploadGrant(r.Context(), key, req.ContentType, req.ContentLength)
	if err != nil {
		if access.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error(), accessErrorCode(err))
			return
		}
		h.logger.Error("failed to issue upload grant",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to issue upload grant", "GRANT_FAILED")
		return
	}

	h.logger.Info("upload grant issued",
		slog.String("key", key),
		slog.Int64("content_length", req.ContentLength),
	)

	writeJSON(w, http.StatusCreated, GrantResponse{
		Key:       grant.Key,
		URL:       grant.URL,
		Method:    grant.Method,
		Headers:   grant.Header,
		ExpiresAt: grant.ExpiresAt,
		ExpiresIn: int64(grant.ExpiresIn.Seconds()),
		Multipart: upload.ShouldUseMultipart(req.ContentLength),
	})
}

// UploadVideo handles PUT /videos/{coachId}/{studentId}?filename= requests.
// The body is spooled to the workspace and uploaded through the manager, in
// parts when it is large enough.
func (h *Handlers) UploadVideo(w http.ResponseWriter, r *http.Request) {
	coachID := r.PathValue("coachId")
	studentID := r.PathValue("studentId")
	filename := r.URL.Query().Get("filename")
	if coachID == "" || studentID == "" || filename == "" {
		writeError(w, http.StatusBadRequest, "coachId, studentId and filename are required", "VALIDATION_ERROR")
		return
	}
	if err := keyspace.ValidateOwner(coachID, studentID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_ID")
		return
	}

	contentType := mediaType(r.Header.Get("Content-Type"))
	if !access.ContentTypeAllowed(contentType) {
		writeError(w, http.StatusUnsupportedMediaType,
			"content type not allowed: "+contentType, "CONTENT_TYPE_NOT_ALLOWED")
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxUpload)
	path, size, err := h.workspace.SaveTemp(r.Context(), "upload", body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds maximum size", "FILE_TOO_LARGE")
			return
		}
		h.logger.Error("failed to spool upload",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read upload", "UPLOAD_FAILED")
		return
	}
	defer func() {
		if err := h.workspace.CleanupTemp(r.Context(), []string{path}); err != nil {
			h.logger.Warn("failed to clean up spooled upload",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}()

	f, err := h.workspace.OpenTemp(r.Context(), path)
	if err != nil {
		h.logger.Error("failed to open spooled upload", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read upload", "UPLOAD_FAILED")
		return
	}
	defer f.Close()

	key := keyspace.MakeVideoKey(coachID, studentID, filename)
	res, err := h.uploads.Upload(r.Context(), upload.Input{
		Key:         key,
		ContentType: contentType,
		Body:        f,
		Size:        size,
		Progress: func(p upload.Progress) error {
			h.logger.Debug("upload progress",
				slog.String("key", key),
				slog.Int("part", p.PartNumber),
				slog.Int("total_parts", p.TotalParts),
				slog.Float64("percentage", p.Percentage),
			)
			return nil
		},
	})
	if err != nil {
		if upload.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("upload failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "upload failed", "UPLOAD_FAILED")
		return
	}

	h.logger.Info("video uploaded",
		slog.String("key", res.Key),
		slog.Int64("size", res.Size),
		slog.Int("parts", res.Parts),
		slog.Bool("multipart", res.Multipart),
	)

	writeJSON(w, http.StatusCreated, UploadResponse{
		Key:       res.Key,
		Size:      res.Size,
		Parts:     res.Parts,
		Multipart: res.Multipart,
	})
}

// Playback handles POST /playback requests. Videos get a CDN URL when one is
// configured; thumbnails always get a presigned URL.
func (h *Handlers) Playback(w http.ResponseWriter, r *http.Request) {
	var req PlaybackRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, ok := keyspace.ParseVideoKey(req.Key); !ok {
		writeError(w, http.StatusBadRequest, "key is not a coach video key", "INVALID_KEY")
		return
	}

	var (
		pb  access.Playback
		err error
	)
	if keyspace.IsThumbnailKey(req.Key) {
		var grant access.Grant
		grant, err = h.issuer.ThumbnailGrant(r.Context(), req.Key)
		pb = access.Playback{URL: grant.URL, Scheme: access.SchemePresigned, ExpiresAt: grant.ExpiresAt}
	} else {
		pb, err = h.issuer.PlaybackURL(r.Context(), req.Key)
	}
	if err != nil {
		h.logger.Error("failed to sign playback url",
			slog.String("key", req.Key),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to sign url", "SIGNING_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, PlaybackResponse{
		URL:       pb.URL,
		Scheme:    string(pb.Scheme),
		ExpiresAt: pb.ExpiresAt,
	})
}

// CreateThumbnail handles POST /thumbnails requests.
func (h *Handlers) CreateThumbnail(w http.ResponseWriter, r *http.Request) {
	var req CreateThumbnailRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, ok := keyspace.ParseVideoKey(req.SourceKey); !ok {
		writeError(w, http.StatusBadRequest, "source_key is not a coach video key", "INVALID_KEY")
		return
	}

	job, err := h.thumbnails.Request(r.Context(), thumbnail.RequestInput{
		VideoID:   req.VideoID,
		SourceKey: req.SourceKey,
	})
	if err != nil {
		h.writeThumbnailError(w, "", err)
		return
	}

	writeJSON(w, http.StatusAccepted, h.jobResponse(r, job))
}

// GetThumbnail handles GET /thumbnails/{id} requests.
func (h *Handlers) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	job, err := h.thumbnails.Get(r.Context(), jobID)
	if err != nil {
		h.writeThumbnailError(w, jobID, err)
		return
	}

	writeJSON(w, http.StatusOK, h.jobResponse(r, job))
}

// UpdateThumbnailStatus handles POST /thumbnails/{id}/status requests from
// an external derivation worker.
func (h *Handlers) UpdateThumbnailStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	var req ThumbnailStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	var (
		job *thumbnail.Job
		err error
	)
	switch thumbnail.Status(req.Status) {
	case thumbnail.StatusProcessing:
		job, err = h.thumbnails.MarkProcessing(r.Context(), jobID)
	case thumbnail.StatusComplete:
		job, err = h.thumbnails.Complete(r.Context(), jobID)
	case thumbnail.StatusFailed:
		job, err = h.thumbnails.Fail(r.Context(), jobID, req.Error)
	default:
		writeError(w, http.StatusBadRequest, "unknown status: "+req.Status, "VALIDATION_ERROR")
		return
	}
	if err != nil {
		h.writeThumbnailError(w, jobID, err)
		return
	}

	writeJSON(w, http.StatusOK, h.jobResponse(r, job))
}

// jobResponse converts a job, attaching a thumbnail URL once it is complete.
func (h *Handlers) jobResponse(r *http.Request, job *thumbnail.Job) ThumbnailJobResponse {
	snap := job.Clone()
	resp := ThumbnailJobResponse{
		ID:         snap.ID,
		VideoID:    snap.VideoID,
		SourceKey:  snap.SourceKey,
		DerivedKey: snap.DerivedKey,
		Status:     string(snap.Status),
		Error:      snap.Error,
		CreatedAt:  snap.CreatedAt,
		UpdatedAt:  snap.UpdatedAt,
	}

	if snap.Status == thumbnail.StatusComplete {
		grant, err := h.issuer.ThumbnailGrant(r.Context(), snap.DerivedKey)
		if err != nil {
			// The job itself is still reported.
			h.logger.Warn("failed to sign thumbnail url",
				slog.String("job_id", snap.ID),
				slog.String("error", err.Error()),
			)
		} else {
			resp.ThumbnailURL = grant.URL
			resp.URLExpiresAt = &grant.ExpiresAt
		}
	}
	return resp
}

func (h *Handlers) writeThumbnailError(w http.ResponseWriter, jobID string, err error) {
	switch {
	case errors.Is(err, thumbnail.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, thumbnail.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error(), "INVALID_TRANSITION")
	case errors.Is(err, thumbnail.ErrVideoIDRequired),
		errors.Is(err, thumbnail.ErrSourceKeyRequired),
		errors.Is(err, thumbnail.ErrSourceIsThumbnail):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	default:
		h.logger.Error("thumbnail job request failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "thumbnail job request failed", "THUMBNAIL_FAILED")
	}
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

func accessErrorCode(err error) string {
	switch {
	case errors.Is(err, access.ErrContentTypeNotAllowed):
		return "CONTENT_TYPE_NOT_ALLOWED"
	case errors.Is(err, access.ErrContentLengthTooLarge):
		return "CONTENT_LENGTH_TOO_LARGE"
	case errors.Is(err, access.ErrInvalidContentLength):
		return "INVALID_CONTENT_LENGTH"
	default:
		return "VALIDATION_ERROR"
	}
}

// mediaType strips parameters such as "; codecs=..." from a Content-Type.
func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
