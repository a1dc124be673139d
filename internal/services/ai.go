package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"wafflebrain/internal/metrics"
)

// Narrow AI capabilities, one per consumer. Services depend on these rather
// than the OpenAI client so tests can substitute fakes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type Completer interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// CompletionStream yields completion deltas until io.EOF.
type CompletionStream interface {
	Recv() (string, error)
	Close() error
}

type StreamCompleter interface {
	CompleteStream(ctx context.Context, system, user string, maxTokens int) (CompletionStream, error)
}

// AIClient implements all four capabilities over the OpenAI API with bounded
// retry on transient failures.
type AIClient struct {
	client    *openai.Client
	chatModel string
}

func NewAIClient(apiKey, chatModel string) *AIClient {
	return &AIClient{
		client:    openai.NewClient(apiKey),
		chatModel: chatModel,
	}
}

// permanentIfClientError stops the retry loop for non-retryable API errors.
// 429 stays retryable; other 4xx responses will not improve on retry.
func permanentIfClientError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 && apiErr.HTTPStatusCode != 429 {
			return backoff.Permanent(err)
		}
	}
	return err
}

func newRetryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(policy, 3), ctx)
}

func observeAICall(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.OpenAIAPICalls.WithLabelValues(operation, status).Inc()
	metrics.OpenAIAPICallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Embed returns the embedding vector for a piece of text.
func (c *AIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()

	var embedding []float32
	operation := func() error {
		resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.AdaEmbeddingV2,
		})
		if err != nil {
			return permanentIfClientError(err)
		}
		if len(resp.Data) == 0 {
			return backoff.Permanent(errors.New("embedding response contained no data"))
		}
		embedding = resp.Data[0].Embedding
		return nil
	}

	err := backoff.Retry(operation, newRetryPolicy(ctx))
	observeAICall("embedding", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	return embedding, nil
}

// Transcribe sends an audio file through Whisper and returns the plain text.
func (c *AIClient) Transcribe(ctx context.Context, audioPath string) (string, error) {
	start := time.Now()

	var text string
	operation := func() error {
		resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    openai.Whisper1,
			FilePath: audioPath,
		})
		if err != nil {
			return permanentIfClientError(err)
		}
		text = resp.Text
		return nil
	}

	err := backoff.Retry(operation, newRetryPolicy(ctx))
	observeAICall("transcription", start, err)
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}
	return text, nil
}

// Complete runs a buffered chat completion.
func (c *AIClient) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	start := time.Now()

	var content string
	operation := func() error {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.chatModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			MaxTokens:   maxTokens,
			Temperature: 0.7,
		})
		if err != nil {
			return permanentIfClientError(err)
		}
		if len(resp.Choices) == 0 {
			return backoff.Permanent(errors.New("completion response contained no choices"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	}

	err := backoff.Retry(operation, newRetryPolicy(ctx))
	observeAICall("completion", start, err)
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}
	return content, nil
}

type openaiStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openaiStream) Recv() (string, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		// io.EOF passes through untouched to signal end of stream.
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}

// CompleteStream opens a token-streamed chat completion. The stream lives as
// long as ctx, so callers own the deadline.
func (c *AIClient) CompleteStream(ctx context.Context, system, user string, maxTokens int) (CompletionStream, error) {
	start := time.Now()

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.7,
		Stream:      true,
	})
	observeAICall("completion_stream", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to open completion stream: %w", err)
	}
	return &openaiStream{stream: stream}, nil
}
