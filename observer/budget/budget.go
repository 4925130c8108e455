// Package budget tracks per-run token consumption from lifecycle events and
// flags runs that cross a configured limit. It observes POST_MESSAGE_COMPLETION
// events, counting tokens in the finalized assistant message.
package budget

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/logging"
)

// Counter measures token usage of a text. The default counter is backed by
// tiktoken's cl100k_base encoding, with a length heuristic fallback when the
// encoding cannot be initialized (tiktoken fetches BPE data lazily).
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to the Counter interface.
type CounterFunc func(text string) int

// Count implements Counter.
func (f CounterFunc) Count(text string) int { return f(text) }

type tiktokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		// Rough heuristic when the encoding is unavailable offline.
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Options configures an Observer.
type Options struct {
	// Counter overrides the default tiktoken counter.
	Counter Counter
	// Logger receives budget warnings.
	Logger logging.Logger
}

// WithCounter replaces the token counter.
func WithCounter(c Counter) func(o *Options) {
	return func(o *Options) { o.Counter = c }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Observer accumulates assistant-message token counts per run and logs a
// warning the first time a run crosses the limit. A limit of zero disables
// the warning but totals are still tracked.
type Observer struct {
	limit   int
	counter Counter
	logger  logging.Logger

	mu      sync.Mutex
	totals  map[string]int
	flagged map[string]bool
}

// NewObserver creates a budget observer with the given per-run token limit.
func NewObserver(limit int, optFns ...func(o *Options)) *Observer {
	opts := Options{
		Counter: &tiktokenCounter{},
		Logger:  logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Observer{
		limit:   limit,
		counter: opts.Counter,
		logger:  opts.Logger,
		totals:  make(map[string]int),
		flagged: make(map[string]bool),
	}
}

// OnEvent charges the run for each finalized assistant message. Provider
// reported token counts are preferred; when the provider sent none, the
// message content is counted locally.
func (o *Observer) OnEvent(ev core.Event) error {
	if ev.Type != core.EventPostMessageCompletion {
		return nil
	}
	payload, ok := ev.Payload.(*core.CompletionPayload)
	if !ok {
		return nil
	}

	n := payload.PromptTokens + payload.CompletionTokens
	if n == 0 {
		if payload.Message.Content == "" {
			return nil
		}
		n = o.counter.Count(payload.Message.Content)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.totals[ev.RunID] += n
	total := o.totals[ev.RunID]
	if o.limit > 0 && total > o.limit && !o.flagged[ev.RunID] {
		o.flagged[ev.RunID] = true
		o.logger.Warn("token budget exceeded", "run_id", ev.RunID, "total", total, "limit", o.limit)
	}
	return nil
}

// Total returns the accumulated token count for a run.
func (o *Observer) Total(runID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.totals[runID]
}

// Exceeded reports whether the run has crossed the limit.
func (o *Observer) Exceeded(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flagged[runID]
}
