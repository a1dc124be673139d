package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"wafflebrain/internal/metrics"
	"wafflebrain/internal/storage"
)

// ErrUnknownSearch means no task exists for the requested search ID.
var ErrUnknownSearch = errors.New("unknown search id")

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusStreaming TaskStatus = "streaming"
	StatusComplete  TaskStatus = "complete"
	StatusError     TaskStatus = "error"
)

// AnswerEvent is one push to a stream subscriber. Text always carries the
// full cumulative answer so clients can render it without reassembly.
type AnswerEvent struct {
	Status TaskStatus `json:"status"`
	Text   string     `json:"text,omitempty"`
}

const (
	answerContextRows   = 5
	answerMaxTokens     = 400
	answerTimeout       = 2 * time.Minute
	subscriberBuffer    = 32
	contextExcerptRunes = 300
)

const answerSystemPrompt = `You are the search assistant for a group video diary app. Friends share short video updates called waffles, and you answer questions about what happened in them. Answer directly from the provided transcripts, mention who said what, and keep it under five sentences. If the transcripts do not answer the question, say so briefly.`

const (
	noMatchesAnswer  = "I couldn't find any waffles matching that search. Try different words or a wider date range."
	answerFailedText = "Something went wrong while generating an answer. Please try the search again."
)

type subscriber struct {
	events chan AnswerEvent
}

type searchTask struct {
	id          string
	query       string
	contextRows []storage.SearchResult
	status      TaskStatus
	accumulated string
	subscribers map[*subscriber]struct{}
}

// AnswerBroker owns one generation task per search ID and fans its progress
// out to any number of stream subscribers. Generation never blocks on a slow
// subscriber and never stops because one disconnects.
type AnswerBroker struct {
	mu        sync.Mutex
	tasks     map[string]*searchTask
	completer StreamCompleter
	retention time.Duration
}

// NewAnswerBroker builds a broker that evicts finished tasks after the given
// retention.
func NewAnswerBroker(completer StreamCompleter, retention time.Duration) *AnswerBroker {
	return &AnswerBroker{
		tasks:     make(map[string]*searchTask),
		completer: completer,
		retention: retention,
	}
}

// StartTask registers a task for a fresh search ID and starts generating in
// the background. A duplicate ID is ignored.
func (b *AnswerBroker) StartTask(searchID, query string, rows []storage.SearchResult) {
	b.mu.Lock()
	if _, exists := b.tasks[searchID]; exists {
		b.mu.Unlock()
		return
	}
	task := &searchTask{
		id:          searchID,
		query:       query,
		contextRows: rows,
		status:      StatusPending,
		subscribers: make(map[*subscriber]struct{}),
	}
	b.tasks[searchID] = task
	b.mu.Unlock()

	go b.generate(task)
}

// Subscribe attaches to a task's event stream. The returned cancel func
// detaches the subscriber without affecting generation or other subscribers.
// Attaching to an already-finished task yields exactly one terminal event and
// consumes the task.
func (b *AnswerBroker) Subscribe(searchID string) (<-chan AnswerEvent, func(), error) {
	b.mu.Lock()
	task, ok := b.tasks[searchID]
	if !ok {
		b.mu.Unlock()
		return nil, nil, ErrUnknownSearch
	}

	if task.status == StatusComplete || task.status == StatusError {
		events := make(chan AnswerEvent, 1)
		events <- AnswerEvent{Status: task.status, Text: task.accumulated}
		close(events)
		delete(b.tasks, searchID)
		b.mu.Unlock()
		return events, func() {}, nil
	}

	sub := &subscriber{events: make(chan AnswerEvent, subscriberBuffer)}
	task.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	metrics.AnswerSubscribers.Inc()

	cancel := func() {
		b.mu.Lock()
		if _, attached := task.subscribers[sub]; attached {
			delete(task.subscribers, sub)
			metrics.AnswerSubscribers.Dec()
		}
		b.mu.Unlock()
	}
	return sub.events, cancel, nil
}

// push delivers without ever blocking generation. When a subscriber's buffer
// is full the oldest event is dropped; every event carries the cumulative
// text, so a newer event strictly supersedes a dropped one.
func push(sub *subscriber, ev AnswerEvent) {
	for {
		select {
		case sub.events <- ev:
			return
		default:
			select {
			case <-sub.events:
			default:
			}
		}
	}
}

func (b *AnswerBroker) appendDelta(task *searchTask, delta string) string {
	b.mu.Lock()
	task.status = StatusStreaming
	task.accumulated += delta
	cumulative := task.accumulated
	b.mu.Unlock()
	return cumulative
}

func (b *AnswerBroker) broadcast(task *searchTask, ev AnswerEvent) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(task.subscribers))
	for sub := range task.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		push(sub, ev)
	}
}

// finishTask records the terminal state, delivers it to every subscriber,
// closes their channels, and schedules eviction.
func (b *AnswerBroker) finishTask(task *searchTask, status TaskStatus, text string) {
	b.mu.Lock()
	task.status = status
	task.accumulated = text
	subs := make([]*subscriber, 0, len(task.subscribers))
	for sub := range task.subscribers {
		subs = append(subs, sub)
	}
	task.subscribers = make(map[*subscriber]struct{})
	b.mu.Unlock()

	ev := AnswerEvent{Status: status, Text: text}
	for _, sub := range subs {
		push(sub, ev)
		close(sub.events)
		metrics.AnswerSubscribers.Dec()
	}

	time.AfterFunc(b.retention, func() {
		b.mu.Lock()
		delete(b.tasks, task.id)
		b.mu.Unlock()
	})
}

func (b *AnswerBroker) generate(task *searchTask) {
	if len(task.contextRows) == 0 {
		metrics.AnswerStreamsTotal.WithLabelValues("no_context").Inc()
		b.finishTask(task, StatusComplete, noMatchesAnswer)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), answerTimeout)
	defer cancel()

	stream, err := b.completer.CompleteStream(ctx, answerSystemPrompt, buildAnswerPrompt(task.query, task.contextRows), answerMaxTokens)
	if err != nil {
		slog.Error("failed to open answer stream", "search_id", task.id, "error", err)
		metrics.AnswerStreamsTotal.WithLabelValues("error").Inc()
		b.finishTask(task, StatusError, answerFailedText)
		return
	}
	defer stream.Close()

	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Error("answer stream failed", "search_id", task.id, "error", err)
			metrics.AnswerStreamsTotal.WithLabelValues("error").Inc()
			b.finishTask(task, StatusError, answerFailedText)
			return
		}
		if delta == "" {
			continue
		}
		b.broadcast(task, AnswerEvent{Status: StatusStreaming, Text: b.appendDelta(task, delta)})
	}

	b.mu.Lock()
	final := task.accumulated
	b.mu.Unlock()

	metrics.AnswerStreamsTotal.WithLabelValues("complete").Inc()
	b.finishTask(task, StatusComplete, final)
}

func buildAnswerPrompt(query string, rows []storage.SearchResult) string {
	limit := len(rows)
	if limit > answerContextRows {
		limit = answerContextRows
	}

	var sb strings.Builder
	sb.WriteString("Here are the most relevant waffle transcripts:\n\n")
	for _, r := range rows[:limit] {
		name := r.UserName
		if name == "" {
			name = "Someone"
		}
		fmt.Fprintf(&sb, "- %s on %s: %s\n", name, r.CreatedAt.Format("Jan 2, 2006"), truncateRunes(r.Transcript, contextExcerptRunes))
	}
	fmt.Fprintf(&sb, "\nQuestion: %s", query)
	return sb.String()
}
