package upload

import "iter"

// Size limits for uploads.
const (
	// MinMultipartSize is the backend's minimum part size. Smaller files go
	// through a single PUT.
	MinMultipartSize int64 = 5 * 1024 * 1024
	// DefaultPartSize is the part size used when none is configured.
	DefaultPartSize int64 = 10 * 1024 * 1024
	// MaxMultipartFileSize is the largest file accepted for upload.
	MaxMultipartFileSize int64 = 5 * 1024 * 1024 * 1024
	// MaxConcurrentParts bounds the number of part transfers in flight.
	MaxConcurrentParts = 4
)

// Part describes one byte range of a multipart upload.
type Part struct {
	// Number is the 1-based part number.
	Number int
	// Offset is the first byte of the part within the file.
	Offset int64
	// Size is the part length in bytes. Only the last part may be shorter
	// than the part size.
	Size int64
}

// ShouldUseMultipart reports whether a file of size bytes needs a multipart upload.
func ShouldUseMultipart(size int64) bool {
	return size >= MinMultipartSize
}

// PartCount returns ceil(size/partSize), or 0 for non-positive inputs.
func PartCount(size, partSize int64) int {
	if size <= 0 || partSize <= 0 {
		return 0
	}
	return int((size + partSize - 1) / partSize)
}

// Partition yields the parts of a file of size bytes split into partSize
// chunks. Parts are produced on demand and every range over the sequence
// starts again from part 1.
func Partition(size, partSize int64) iter.Seq[Part] {
	return func(yield func(Part) bool) {
		if size <= 0 || partSize <= 0 {
			return
		}
		number := 1
		for offset := int64(0); offset < size; offset += partSize {
			if !yield(Part{Number: number, Offset: offset, Size: min(partSize, size-offset)}) {
				return
			}
			number++
		}
	}
}
