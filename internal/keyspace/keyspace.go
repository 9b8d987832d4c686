// Package keyspace builds and parses the object keys that encode which coach
// and student own a stored video. It performs no I/O.
package keyspace

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

// ThumbnailSuffix is appended to a video key (minus its extension) to form the
// key of the derived thumbnail.
const ThumbnailSuffix = "-thumbnail.jpg"

var videoKeyPattern = regexp.MustCompile(`^coaches/([^/]+)/students/([^/]+)/videos/[^/]+$`)

// ErrInvalidID is returned by ValidateOwner when an ID cannot be used as a
// single key segment.
var ErrInvalidID = errors.New("keyspace: invalid owner ID")

// ValidID reports whether id can stand as one key segment: non-empty, free of
// '/' and not "." or "..".
func ValidID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsRune(id, '/')
}

// ValidateOwner checks both IDs with ValidID.
func ValidateOwner(coachID, studentID string) error {
	if !ValidID(coachID) {
		return fmt.Errorf("%w: coach ID %q", ErrInvalidID, coachID)
	}
	if !ValidID(studentID) {
		return fmt.Errorf("%w: student ID %q", ErrInvalidID, studentID)
	}
	return nil
}

// Owner identifies the tenant (coach) and sub-resource (student) a video belongs to.
type Owner struct {
	CoachID   string
	StudentID string
}

// SanitizeFilename replaces every character outside [A-Za-z0-9.-] with '_'.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// MakeVideoKey returns the key for a new video uploaded now. Callers validate
// the IDs with ValidateOwner first.
// Format: coaches/{coachID}/students/{studentID}/videos/{unixMillis}-{sanitized filename}
func MakeVideoKey(coachID, studentID, filename string) string {
	return MakeVideoKeyAt(coachID, studentID, filename, time.Now())
}

// MakeVideoKeyAt is MakeVideoKey with an explicit creation time.
func MakeVideoKeyAt(coachID, studentID, filename string, t time.Time) string {
	return fmt.Sprintf("coaches/%s/students/%s/videos/%d-%s",
		coachID, studentID, t.UnixMilli(), SanitizeFilename(filename))
}

// MakeThumbnailKey derives the thumbnail key of a video key by stripping the
// trailing extension of the final path element and appending ThumbnailSuffix.
func MakeThumbnailKey(videoKey string) string {
	dir, file := path.Split(videoKey)
	if i := strings.LastIndexByte(file, '.'); i >= 0 {
		file = file[:i]
	}
	return dir + file + ThumbnailSuffix
}

// ParseVideoKey extracts the owner of a video key. It returns false for any
// key that does not follow the video key layout; that is not an error, the key
// simply is not one of ours.
func ParseVideoKey(key string) (Owner, bool) {
	m := videoKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return Owner{}, false
	}
	return Owner{CoachID: m[1], StudentID: m[2]}, true
}

// IsThumbnailKey reports whether key was produced by MakeThumbnailKey.
func IsThumbnailKey(key string) bool {
	return strings.HasSuffix(key, ThumbnailSuffix)
}
