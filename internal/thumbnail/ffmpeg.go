package thumbnail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Static errors for thumbnail derivation. Every derivation failure wraps
// ErrDerivation so callers can tell it apart from upload failures; a video
// without a thumbnail is still a valid video.
var (
	// ErrDerivation is the class of all extraction failures.
	ErrDerivation = errors.New("thumbnail: derivation failed")
	// ErrMetadataUnavailable is returned when the video's dimensions cannot be read.
	ErrMetadataUnavailable = fmt.Errorf("%w: video metadata unavailable", ErrDerivation)
)

// Extractor renders a thumbnail image from a local video file.
type Extractor interface {
	// Extract writes a Width×Height letterboxed JPEG of videoPath to dstPath.
	Extract(ctx context.Context, videoPath, dstPath string) error
}

// Metadata is what the extractor needs to know about a video.
type Metadata struct {
	Width    int
	Height   int
	Duration time.Duration
}

// Compile-time check that FFmpegExtractor implements Extractor.
var _ Extractor = (*FFmpegExtractor)(nil)

// FFmpegExtractor implements Extractor using the ffmpeg and ffprobe CLIs.
type FFmpegExtractor struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegExtractor creates a new FFmpegExtractor.
// Empty paths default to "ffmpeg" and "ffprobe" (found via PATH).
func NewFFmpegExtractor(ffmpegPath, ffprobePath string) *FFmpegExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegExtractor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Extract probes the video, seeks to SeekOffset of its duration and writes a
// single letterboxed JPEG frame.
func (e *FFmpegExtractor) Extract(ctx context.Context, videoPath, dstPath string) error {
	meta, err := e.Probe(ctx, videoPath)
	if err != nil {
		return err
	}

	rect := Letterbox(meta.Width, meta.Height, Width, Height)
	filter := fmt.Sprintf("scale=%d:%d,setsar=1,pad=%d:%d:%d:%d:black",
		rect.Width, rect.Height, Width, Height, rect.X, rect.Y)
	seek := SeekOffset(meta.Duration)

	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(seek.Seconds(), 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-vf", filter,
		"-q:v", strconv.Itoa(qscale(Quality)),
		dstPath,
	}

	if err := e.runFFmpeg(ctx, args); err != nil {
		return fmt.Errorf("%w: %w", ErrDerivation, err)
	}
	return nil
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads the first video stream's dimensions and the container duration.
// A missing duration is reported as zero; missing dimensions fail with
// ErrMetadataUnavailable.
func (e *FFmpegExtractor) Probe(ctx context.Context, videoPath string) (Metadata, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		videoPath,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Metadata{}, fmt.Errorf("%w: ffprobe cancelled: %w", ErrDerivation, ctx.Err())
		}
		return Metadata{}, fmt.Errorf("%w: ffprobe: %w, stderr: %s", ErrMetadataUnavailable, err, strings.TrimSpace(stderr.String()))
	}

	return parseProbe(stdout.Bytes())
}

func parseProbe(data []byte) (Metadata, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Metadata{}, fmt.Errorf("%w: parse ffprobe output: %w", ErrMetadataUnavailable, err)
	}
	if len(out.Streams) == 0 || out.Streams[0].Width <= 0 || out.Streams[0].Height <= 0 {
		return Metadata{}, fmt.Errorf("%w: no video stream", ErrMetadataUnavailable)
	}

	meta := Metadata{Width: out.Streams[0].Width, Height: out.Streams[0].Height}
	if out.Format.Duration != "" {
		if secs, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil && secs > 0 {
			meta.Duration = time.Duration(secs * float64(time.Second))
		}
	}
	return meta, nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (e *FFmpegExtractor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
