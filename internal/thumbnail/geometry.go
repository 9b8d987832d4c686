package thumbnail

import (
	"math"
	"time"
)

// Thumbnail canvas size and encoding.
const (
	Width  = 320
	Height = 180
	// Quality is the JPEG quality in percent.
	Quality = 80
	// MaxSeek is the latest point a frame is taken from, skipping black
	// leading frames without overshooting short clips.
	MaxSeek = time.Second
)

// Rect is the area of the canvas covered by the scaled source frame.
type Rect struct {
	X, Y          int
	Width, Height int
}

// Letterbox fits a srcW×srcH frame inside a dstW×dstH canvas preserving its
// aspect ratio. The frame is centered; the uncovered bands are the black bars.
// Non-positive source dimensions fill the whole canvas.
func Letterbox(srcW, srcH, dstW, dstH int) Rect {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return Rect{Width: max(dstW, 0), Height: max(dstH, 0)}
	}

	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(dstW) / float64(dstH)

	var w, h int
	if srcAspect > dstAspect {
		// Wider than the canvas: bars top and bottom.
		w = dstW
		h = int(math.Round(float64(dstW) / srcAspect))
	} else {
		w = int(math.Round(float64(dstH) * srcAspect))
		h = dstH
	}
	w = max(w, 1)
	h = max(h, 1)

	return Rect{
		X:      (dstW - w) / 2,
		Y:      (dstH - h) / 2,
		Width:  w,
		Height: h,
	}
}

// SeekOffset returns min(MaxSeek, duration/2).
func SeekOffset(duration time.Duration) time.Duration {
	if duration <= 0 {
		return 0
	}
	return min(MaxSeek, duration/2)
}

// qscale maps a quality percentage onto ffmpeg's JPEG scale, where 2 is the
// best and 31 the worst.
func qscale(quality int) int {
	quality = min(max(quality, 0), 100)
	return 31 - int(math.Round(float64(quality)*29/100))
}
