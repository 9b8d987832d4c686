package upload

import (
	"cmp"
	"slices"
	"sync"

	"github.com/airfobrien/tennispro-sub000/internal/storage"
)

// Progress is reported after each part has been recorded.
type Progress struct {
	PartNumber    int
	TotalParts    int
	UploadedBytes int64
	TotalBytes    int64
	Percentage    float64
}

// ProgressFunc receives upload progress. Returning an error aborts a multipart
// upload. A single-shot upload reports once, after the object is stored, so
// its error is only logged. Calls are serialized, so UploadedBytes never goes
// backwards.
type ProgressFunc func(Progress) error

// session is the state of one multipart upload. It is local to a single
// Upload call and never shared between uploads.
type session struct {
	key        string
	uploadID   string
	totalParts int
	totalBytes int64

	mu       sync.Mutex
	parts    []storage.CompletedPart
	uploaded int64

	abortOnce sync.Once
}

func newSession(key, uploadID string, totalParts int, totalBytes int64) *session {
	return &session{
		key:        key,
		uploadID:   uploadID,
		totalParts: totalParts,
		totalBytes: totalBytes,
		parts:      make([]storage.CompletedPart, 0, totalParts),
	}
}

// record stores a finished part and reports progress. The part entry and the
// byte counter change together under the lock, so progress never covers a
// part that is not yet recorded.
func (s *session) record(part Part, etag string, progress ProgressFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parts = append(s.parts, storage.CompletedPart{PartNumber: int32(part.Number), ETag: etag}) // #nosec G115 - part count is bounded by MaxMultipartFileSize/MinMultipartSize
	s.uploaded += part.Size

	if progress == nil {
		return nil
	}
	return progress(Progress{
		PartNumber:    part.Number,
		TotalParts:    s.totalParts,
		UploadedBytes: s.uploaded,
		TotalBytes:    s.totalBytes,
		Percentage:    percentage(s.uploaded, s.totalBytes),
	})
}

// completedParts returns a copy of the recorded parts sorted by part number.
func (s *session) completedParts() []storage.CompletedPart {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := slices.Clone(s.parts)
	slices.SortFunc(parts, func(a, b storage.CompletedPart) int {
		return cmp.Compare(a.PartNumber, b.PartNumber)
	})
	return parts
}

func percentage(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}
