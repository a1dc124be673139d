package services

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"wafflebrain/internal/storage"
)

const (
	styleSampleCap   = 5
	captionNeighbors = 5
	captionCount     = 3
	captionMaxRunes  = 80
	captionMaxTokens = 200
)

const captionSystemPrompt = `You write short, punchy captions for clips in a friends' video diary app. Match the user's personal style. Reply with a JSON array of exactly 3 caption strings, each under 80 characters, and nothing else.`

// AudioExtractor is the slice of the transcoder the caption flow needs.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath, audioPath string) error
}

// CaptionRequest describes an uploaded chunk already written to a local temp
// file by the handler, which also owns its cleanup.
type CaptionRequest struct {
	MediaPath     string
	IsVideo       bool
	StyleCaptions []string
	GroupID       string
	UserID        string
}

// CaptionService suggests captions for a clip the user is about to post.
type CaptionService struct {
	store       storage.Store
	extractor   AudioExtractor
	transcriber Transcriber
	embedder    Embedder
	completer   Completer
}

func NewCaptionService(store storage.Store, extractor AudioExtractor, transcriber Transcriber, embedder Embedder, completer Completer) *CaptionService {
	return &CaptionService{
		store:       store,
		extractor:   extractor,
		transcriber: transcriber,
		embedder:    embedder,
		completer:   completer,
	}
}

// Suggest returns up to 3 caption suggestions. Generation trouble degrades
// to an empty list; only transcoding, transcription and embedding failures
// surface as errors.
func (s *CaptionService) Suggest(ctx context.Context, req CaptionRequest) ([]string, error) {
	audioPath := req.MediaPath
	if req.IsVideo {
		audioPath = strings.TrimSuffix(req.MediaPath, filepath.Ext(req.MediaPath)) + ".wav"
		if err := s.extractor.ExtractAudio(ctx, req.MediaPath, audioPath); err != nil {
			return nil, fmt.Errorf("failed to extract audio from chunk: %w", err)
		}
	}

	transcript, err := s.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to transcribe chunk: %w", err)
	}

	style := s.styleSample(ctx, req)
	scope := s.captionScope(ctx, req)

	embedding, err := s.embedder.Embed(ctx, transcript)
	if err != nil {
		return nil, fmt.Errorf("failed to embed transcript: %w", err)
	}

	var neighborCaptions []string
	neighbors, err := s.store.NearestCaptioned(ctx, embedding, scope, captionNeighbors)
	if err != nil {
		slog.Warn("nearest caption lookup failed", "user_id", req.UserID, "error", err)
	} else {
		for _, n := range neighbors {
			if n.Caption != "" {
				neighborCaptions = append(neighborCaptions, n.Caption)
			}
		}
	}

	content, err := s.completer.Complete(ctx, captionSystemPrompt, buildCaptionPrompt(transcript, style, neighborCaptions), captionMaxTokens)
	if err != nil {
		slog.Warn("caption generation failed", "user_id", req.UserID, "error", err)
		return []string{}, nil
	}

	captions := extractStringArray(content)
	if len(captions) > captionCount {
		captions = captions[:captionCount]
	}
	out := make([]string, 0, len(captions))
	for _, c := range captions {
		out = append(out, capRunes(c, captionMaxRunes))
	}
	return out, nil
}

// styleSample combines the captions the client sent with the user's stored
// recent captions, in-group first, then anywhere, capped at styleSampleCap.
func (s *CaptionService) styleSample(ctx context.Context, req CaptionRequest) []string {
	style := make([]string, 0, styleSampleCap)
	for _, c := range req.StyleCaptions {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		style = append(style, c)
		if len(style) == styleSampleCap {
			return style
		}
	}

	need := styleSampleCap - len(style)
	recent, err := s.store.RecentCaptions(ctx, req.UserID, req.GroupID, need)
	if err != nil {
		slog.Warn("recent caption lookup failed", "user_id", req.UserID, "error", err)
		return style
	}
	if len(recent) == 0 && req.GroupID != "" {
		recent, err = s.store.RecentCaptions(ctx, req.UserID, "", need)
		if err != nil {
			slog.Warn("recent caption lookup failed", "user_id", req.UserID, "error", err)
			return style
		}
	}
	return append(style, recent...)
}

// captionScope bounds neighbor retrieval to the group when the caller is a
// member, and to the caller's own posts otherwise.
func (s *CaptionService) captionScope(ctx context.Context, req CaptionRequest) storage.CaptionScope {
	if req.GroupID == "" {
		return storage.CaptionScope{UserID: req.UserID}
	}

	member, err := s.store.IsGroupMember(ctx, req.GroupID, req.UserID)
	if err != nil {
		slog.Warn("membership check failed, scoping to caller", "user_id", req.UserID, "error", err)
		return storage.CaptionScope{UserID: req.UserID}
	}
	if !member {
		return storage.CaptionScope{UserID: req.UserID}
	}
	return storage.CaptionScope{GroupID: req.GroupID}
}

func buildCaptionPrompt(transcript string, style, neighborCaptions []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Clip transcript:\n%s\n", truncateRunes(transcript, 500))
	if len(style) > 0 {
		sb.WriteString("\nThe user's recent captions, for style:\n")
		for _, c := range style {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	if len(neighborCaptions) > 0 {
		sb.WriteString("\nCaptions friends used on similar clips:\n")
		for _, c := range neighborCaptions {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	sb.WriteString("\nReply with the JSON array of 3 captions now.")
	return sb.String()
}
