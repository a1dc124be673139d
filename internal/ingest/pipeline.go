package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wafflebrain/internal/integrations/gcs"
	"wafflebrain/internal/media"
	"wafflebrain/internal/metrics"
	"wafflebrain/internal/services"
	"wafflebrain/internal/storage"
)

const (
	// defaultDurationSeconds stands in when ffprobe cannot read the container.
	defaultDurationSeconds = 30

	// thumbnailOffsetSeconds skips past the usual black first frame. Clips
	// shorter than the offset get a second attempt at the start.
	thumbnailOffsetSeconds = 1.0

	recapMaxTokens       = 160
	recapTranscriptRunes = 4000

	downloadTimeout   = 5 * time.Minute
	uploadTimeout     = 2 * time.Minute
	transcribeTimeout = 5 * time.Minute
	embedTimeout      = time.Minute
	recapTimeout      = time.Minute
	storeTimeout      = 30 * time.Second
)

const recapSystemPrompt = "You summarize short personal video updates shared between friends. " +
	"Write a recap of at most 80 words in a warm, plain tone. " +
	"Mention only what the transcript supports. Reply with the recap text alone."

// Step statuses reported back to the webhook caller and logged per run.
const (
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// errSkipStep marks a step that had nothing to do, such as publishing a
// thumbnail that was never extracted.
var errSkipStep = errors.New("step skipped")

// Transcoder is the slice of media operations the pipeline drives.
// *media.Transcoder satisfies it; tests substitute a fake.
type Transcoder interface {
	ExtractAudio(ctx context.Context, videoPath, audioPath string) error
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ExtractThumbnail(ctx context.Context, videoPath, thumbPath string, offsetSeconds float64) error
}

// MetadataStore is the slice of storage the pipeline writes through.
type MetadataStore interface {
	FindWaffleByLocator(ctx context.Context, locator string) (*storage.Waffle, error)
	UpdateWaffleMedia(ctx context.Context, waffleID, thumbnailURL string, durationSeconds int) error
	UpsertVideoMetadata(ctx context.Context, meta *storage.VideoMetadata) error
}

// StepResult records one step's outcome for the run report.
type StepResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Result is the report for a single pipeline run.
type Result struct {
	Object         string       `json:"object"`
	ContentLocator string       `json:"contentLocator"`
	Steps          []StepResult `json:"steps"`
}

// Pipeline turns an uploaded video object into a VideoMetadata row. Steps run
// in a fixed order; a critical failure aborts the run, anything else is
// logged and the run keeps going with whatever it has.
type Pipeline struct {
	store       MetadataStore
	bucket      gcs.Client
	transcoder  Transcoder
	transcriber services.Transcriber
	embedder    services.Embedder
	completer   services.Completer
	workDir     string
}

func NewPipeline(
	store MetadataStore,
	bucket gcs.Client,
	transcoder Transcoder,
	transcriber services.Transcriber,
	embedder services.Embedder,
	completer services.Completer,
	workDir string,
) *Pipeline {
	return &Pipeline{
		store:       store,
		bucket:      bucket,
		transcoder:  transcoder,
		transcriber: transcriber,
		embedder:    embedder,
		completer:   completer,
		workDir:     workDir,
	}
}

type step struct {
	name     string
	critical bool
	run      func(ctx context.Context) error
}

// run carries the state threaded through one pipeline execution.
type run struct {
	p      *Pipeline
	object string

	videoPath string
	audioPath string
	thumbPath string

	durationSeconds int
	thumbnailObject string
	waffle          *storage.Waffle
	transcript      string
	embedding       []float32
	recap           *string
	locator         string
}

// Process ingests one storage object end to end. The returned Result lists
// every step's outcome even when the run aborts early.
func (p *Pipeline) Process(ctx context.Context, object string) (*Result, error) {
	start := time.Now()
	result := &Result{Object: object, ContentLocator: object}

	dir, err := os.MkdirTemp(p.workDir, "ingest-*")
	if err != nil {
		metrics.IngestionsTotal.WithLabelValues("error").Inc()
		return result, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer removeWorkDir(dir)

	r := &run{
		p:               p,
		object:          object,
		videoPath:       filepath.Join(dir, "video"+filepath.Ext(object)),
		audioPath:       filepath.Join(dir, "audio.wav"),
		thumbPath:       filepath.Join(dir, "thumb.jpg"),
		durationSeconds: defaultDurationSeconds,
		locator:         object,
	}

	steps := []step{
		{name: "download", critical: true, run: r.download},
		{name: "probe_duration", run: r.probeDuration},
		{name: "extract_thumbnail", run: r.extractThumbnail},
		{name: "publish_thumbnail", run: r.publishThumbnail},
		{name: "extract_audio", critical: true, run: r.extractAudio},
		{name: "transcribe", critical: true, run: r.transcribe},
		{name: "embed", critical: true, run: r.embed},
		{name: "generate_recap", run: r.generateRecap},
		{name: "store_metadata", critical: true, run: r.storeMetadata},
	}

	for _, s := range steps {
		err := s.run(ctx)
		switch {
		case err == nil:
			result.Steps = append(result.Steps, StepResult{Name: s.name, Status: StepCompleted})
		case errors.Is(err, errSkipStep):
			result.Steps = append(result.Steps, StepResult{Name: s.name, Status: StepSkipped})
		case s.critical:
			result.Steps = append(result.Steps, StepResult{Name: s.name, Status: StepFailed, Error: err.Error()})
			metrics.IngestionStepFailures.WithLabelValues(s.name, "critical").Inc()
			metrics.IngestionsTotal.WithLabelValues("error").Inc()
			metrics.IngestionDuration.Observe(time.Since(start).Seconds())
			return result, fmt.Errorf("%s: %w", s.name, err)
		default:
			result.Steps = append(result.Steps, StepResult{Name: s.name, Status: StepFailed, Error: err.Error()})
			metrics.IngestionStepFailures.WithLabelValues(s.name, "best_effort").Inc()
			slog.Warn("ingestion step failed, continuing",
				"step", s.name, "object", object, "error", err)
		}
	}

	result.ContentLocator = r.locator
	metrics.IngestionsTotal.WithLabelValues("success").Inc()
	metrics.IngestionDuration.Observe(time.Since(start).Seconds())

	slog.Info("video ingested",
		"object", object,
		"locator", r.locator,
		"duration_seconds", r.durationSeconds,
		"transcript_chars", len(r.transcript),
		"elapsed", time.Since(start))
	return result, nil
}

// removeWorkDir cleans up a run's scratch space. A leftover directory only
// costs disk until the next deploy, so failures are logged, never raised.
func removeWorkDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		slog.Warn("failed to remove ingestion work dir", "dir", dir, "error", err)
	}
}

func (r *run) download(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()
	return r.p.bucket.Download(ctx, r.object, r.videoPath)
}

func (r *run) probeDuration(ctx context.Context) error {
	seconds, err := r.p.transcoder.ProbeDuration(ctx, r.videoPath)
	if err != nil {
		// durationSeconds keeps its default.
		return err
	}
	if seconds > 0 {
		r.durationSeconds = int(math.Round(seconds))
	}
	return nil
}

func (r *run) extractThumbnail(ctx context.Context) error {
	err := r.p.transcoder.ExtractThumbnail(ctx, r.videoPath, r.thumbPath, thumbnailOffsetSeconds)
	if err == nil {
		return nil
	}
	if retryErr := r.p.transcoder.ExtractThumbnail(ctx, r.videoPath, r.thumbPath, 0); retryErr == nil {
		return nil
	}
	return err
}

func (r *run) publishThumbnail(ctx context.Context) error {
	if _, err := os.Stat(r.thumbPath); err != nil {
		return errSkipStep
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	object := media.ThumbnailPath(r.object)
	if err := r.p.bucket.Upload(ctx, r.thumbPath, object, "image/jpeg"); err != nil {
		return err
	}
	r.thumbnailObject = object

	waffle, err := r.p.store.FindWaffleByLocator(ctx, r.object)
	if err != nil {
		return err
	}
	if waffle == nil {
		return nil
	}
	r.waffle = waffle
	return r.p.store.UpdateWaffleMedia(ctx, waffle.ID, object, r.durationSeconds)
}

func (r *run) extractAudio(ctx context.Context) error {
	return r.p.transcoder.ExtractAudio(ctx, r.videoPath, r.audioPath)
}

func (r *run) transcribe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	text, err := r.p.transcriber.Transcribe(ctx, r.audioPath)
	if err != nil {
		return err
	}
	r.transcript = strings.TrimSpace(text)
	return nil
}

func (r *run) embed(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	embedding, err := r.p.embedder.Embed(ctx, r.transcript)
	if err != nil {
		return err
	}
	r.embedding = embedding
	return nil
}

func (r *run) generateRecap(ctx context.Context) error {
	if r.transcript == "" {
		return errSkipStep
	}

	ctx, cancel := context.WithTimeout(ctx, recapTimeout)
	defer cancel()

	recap, err := r.p.completer.Complete(ctx, recapSystemPrompt, buildRecapPrompt(r.transcript), recapMaxTokens)
	if err != nil {
		return err
	}
	recap = strings.TrimSpace(recap)
	if recap == "" {
		return errors.New("recap came back empty")
	}
	r.recap = &recap
	return nil
}

func (r *run) storeMetadata(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	// The webhook path and the locator the app stored can differ in format,
	// so the post's own locator and ID win whenever a post is found.
	waffle := r.waffle
	if waffle == nil {
		found, err := r.p.store.FindWaffleByLocator(ctx, r.object)
		if err != nil {
			return err
		}
		waffle = found
	}

	meta := &storage.VideoMetadata{
		ContentLocator:  r.locator,
		Transcript:      r.transcript,
		Embedding:       r.embedding,
		AIRecap:         r.recap,
		DurationSeconds: &r.durationSeconds,
	}
	if waffle != nil {
		meta.WaffleID = &waffle.ID
		if waffle.ContentLocator != "" {
			r.locator = waffle.ContentLocator
			meta.ContentLocator = waffle.ContentLocator
		}
	}
	if r.thumbnailObject != "" {
		meta.ThumbnailLocator = &r.thumbnailObject
	}
	return r.p.store.UpsertVideoMetadata(ctx, meta)
}

func buildRecapPrompt(transcript string) string {
	runes := []rune(transcript)
	if len(runes) > recapTranscriptRunes {
		transcript = string(runes[:recapTranscriptRunes])
	}
	return fmt.Sprintf("Transcript:\n%s\n\nWrite the recap now.", transcript)
}
