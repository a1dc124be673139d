package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"wafflebrain/internal/metrics"
)

const (
	// Whisper wants mono 16kHz input; everything upstream of transcription
	// normalizes to this.
	audioChannels   = "1"
	audioSampleRate = "16000"

	probeTimeout     = 30 * time.Second
	thumbnailTimeout = 60 * time.Second
	audioTimeout     = 5 * time.Minute
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".m4v":  true,
	".webm": true,
	".avi":  true,
	".mkv":  true,
}

// runFunc executes a command and returns its stdout. Injectable so tests can
// observe invocations without a real ffmpeg binary.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Transcoder shells out to ffmpeg/ffprobe for audio extraction, duration
// probing and thumbnail frames. No codec work happens in-process.
type Transcoder struct {
	ffmpegPath  string
	ffprobePath string
	run         runFunc
}

func NewTranscoder(ffmpegPath, ffprobePath string) *Transcoder {
	return &Transcoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		run:         runCommand,
	}
}

// ExtractAudio writes a mono 16kHz WAV track of videoPath to audioPath.
func (t *Transcoder) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	ctx, cancel := context.WithTimeout(ctx, audioTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-i", videoPath,
		"-vn",
		"-ac", audioChannels,
		"-ar", audioSampleRate,
		"-f", "wav",
		audioPath,
	}
	if _, err := t.run(ctx, t.ffmpegPath, args...); err != nil {
		metrics.TranscoderInvocations.WithLabelValues("extract_audio", "error").Inc()
		return fmt.Errorf("extract audio: %w", err)
	}

	metrics.TranscoderInvocations.WithLabelValues("extract_audio", "success").Inc()
	return nil
}

// ProbeDuration returns the media duration in seconds.
func (t *Transcoder) ProbeDuration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	out, err := t.run(ctx, t.ffprobePath, args...)
	if err != nil {
		metrics.TranscoderInvocations.WithLabelValues("probe_duration", "error").Inc()
		return 0, fmt.Errorf("probe duration: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		metrics.TranscoderInvocations.WithLabelValues("probe_duration", "error").Inc()
		return 0, fmt.Errorf("probe duration: parse %q: %w", strings.TrimSpace(string(out)), err)
	}

	metrics.TranscoderInvocations.WithLabelValues("probe_duration", "success").Inc()
	return duration, nil
}

// ExtractThumbnail writes a single JPEG frame taken offsetSeconds into the
// video.
func (t *Transcoder) ExtractThumbnail(ctx context.Context, videoPath, thumbPath string, offsetSeconds float64) error {
	ctx, cancel := context.WithTimeout(ctx, thumbnailTimeout)
	defer cancel()

	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(offsetSeconds, 'f', 2, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "3",
		thumbPath,
	}
	if _, err := t.run(ctx, t.ffmpegPath, args...); err != nil {
		metrics.TranscoderInvocations.WithLabelValues("extract_thumbnail", "error").Inc()
		return fmt.Errorf("extract thumbnail: %w", err)
	}

	metrics.TranscoderInvocations.WithLabelValues("extract_thumbnail", "success").Inc()
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, tail(stderr.String(), 400))
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// IsVideoPath reports whether a storage object looks like a video upload. A
// reported MIME type wins over the extension when present.
func IsVideoPath(path, contentType string) bool {
	if contentType != "" {
		return strings.HasPrefix(contentType, "video/")
	}
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// ThumbnailPath derives the storage path used for a video's thumbnail frame.
func ThumbnailPath(videoPath string) string {
	ext := filepath.Ext(videoPath)
	return strings.TrimSuffix(videoPath, ext) + "_thumb.jpg"
}

// IsThumbnailPath reports whether a storage object is one of our own
// generated thumbnails, which must never be re-ingested as videos.
func IsThumbnailPath(path string) bool {
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	return strings.HasSuffix(stem, "_thumb")
}
