// Package extractor is the library entry point: it converts a document to
// page images and runs them through the sequential OCR orchestrator.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/neozhu/pdfxtract/internal/config"
	"github.com/neozhu/pdfxtract/internal/document"
	"github.com/neozhu/pdfxtract/internal/domain"
	"github.com/neozhu/pdfxtract/internal/extract"
	"github.com/neozhu/pdfxtract/internal/llm"
	"github.com/neozhu/pdfxtract/internal/observability"
	"github.com/neozhu/pdfxtract/internal/pdf"
)

// Re-export types for the public API
type (
	StreamEvent       = domain.StreamEvent
	EventType         = domain.EventType
	PageRef           = domain.PageRef
	PageResult        = domain.PageResult
	Subscription      = domain.Subscription
	CompletionChannel = domain.CompletionChannel
	RunState          = domain.RunState
	Progress          = domain.Progress
	Artifact          = domain.Artifact
)

// Event type constants
const (
	EventStart          = domain.EventStart
	EventPageProcessing = domain.EventPageProcessing
	EventLLMStreaming   = domain.EventLLMStreaming
	EventPageComplete   = domain.EventPageComplete
	EventPageFailed     = domain.EventPageFailed
	EventCancelled      = domain.EventCancelled
	EventError          = domain.EventError
	EventComplete       = domain.EventComplete
)

// Config holds configuration options for the client
type Config struct {
	APIKey      string        // Key for the selected provider
	Provider    string        // Optional: openrouter (default) or gemini
	Model       string        // Optional: model selector override
	MaxPages    int           // Pages to process; 0 processes every page
	PageTimeout time.Duration // Optional: per-page timeout
	Quality     string        // Optional: high, medium or low
	Logger      *observability.Logger
}

// Client is the main entry point for the extractor library. One client runs
// one document at a time; each Process call gets a fresh run and event
// stream.
type Client struct {
	converter *pdf.Converter
	channel   CompletionChannel
	logger    *observability.Logger
	maxPages  int
	model     string
	closeFn   func() error

	mu   sync.Mutex
	orch *extract.Orchestrator
	stop chan struct{} // closed when the current event stream is abandoned
}

const eventBuffer = 100

// NewClient creates a client from the environment (.env, OPENROUTER_API_KEY,
// LLM_MODEL, OCR_MAX_PAGES, ...).
func NewClient() (*Client, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, domain.ConfigError("Failed to load configuration", err)
	}

	apiKey, err := cfg.APIKey()
	if err != nil {
		return nil, domain.ConfigError(err.Error(), nil)
	}

	return NewClientWithConfig(&Config{
		APIKey:      apiKey,
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		MaxPages:    cfg.OCR.MaxPages,
		PageTimeout: cfg.LLM.PageTimeout,
		Quality:     cfg.Conversion.Quality,
	})
}

// NewClientWithConfig creates a client backed by the configured provider.
func NewClientWithConfig(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, domain.ConfigError("API key is required", nil)
	}

	var (
		streamer llm.Streamer
		closeFn  func() error
	)
	switch cfg.Provider {
	case "", "openrouter":
		streamer = llm.NewClient(cfg.APIKey, cfg.Model, llm.WithLogger(cfg.Logger))
	case "gemini":
		g, err := llm.NewGeminiClient(context.Background(), cfg.APIKey, cfg.Model, cfg.Logger)
		if err != nil {
			return nil, err
		}
		streamer, closeFn = g, g.Close
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown provider %q", cfg.Provider), nil)
	}

	channel := llm.NewChannel(streamer, llm.ChannelOptions{PageTimeout: cfg.PageTimeout}, cfg.Logger)
	c := NewClientWithChannel(channel, cfg)
	c.closeFn = closeFn
	return c, nil
}

// NewClientWithChannel creates a client over a caller-supplied completion
// channel. cfg.APIKey is ignored.
func NewClientWithChannel(channel CompletionChannel, cfg *Config) *Client {
	opts := pdf.DefaultOptions()
	if cfg.Quality != "" {
		opts.Quality = cfg.Quality
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Client{
		converter: pdf.NewConverter(opts, logger),
		channel:   channel,
		logger:    logger,
		orch:      extract.NewOrchestrator(channel, extract.Options{Logger: logger}),
		maxPages:  cfg.MaxPages,
		model:     cfg.Model,
	}
}

// Process converts the document at path and starts extraction. The returned
// channel streams the events of this run and is closed once the run is
// terminal; the terminal event is always the last one delivered. Events
// stop when the next Process call or Close abandons the stream. Cancelling
// ctx cancels the run; pages already extracted stay available via Markdown.
func (c *Client) Process(ctx context.Context, path string) (<-chan StreamEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.orch.State().Phase == domain.PhaseRunning {
		return nil, domain.InvariantError("Process called during a live run", domain.ErrRunInProgress)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, domain.ValidationError("Document not found", err)
	}

	images, err := c.converter.Convert(ctx, path)
	if err != nil {
		return nil, err
	}
	source, err := pdf.NewPageSource(images)
	if err != nil {
		return nil, err
	}

	maxPages := c.maxPages
	if maxPages <= 0 {
		maxPages = source.Len()
	}

	events := make(chan domain.StreamEvent, eventBuffer)
	orch := extract.NewOrchestrator(c.channel, extract.Options{Events: events, Logger: c.logger})
	if _, err := orch.Start(domain.RunConfig{Pages: source.Pages(), MaxPages: maxPages, Model: c.model}); err != nil {
		return nil, err
	}

	if c.stop != nil {
		close(c.stop)
	}
	stop := make(chan struct{})
	c.orch, c.stop = orch, stop

	out := make(chan StreamEvent, eventBuffer)
	go c.forward(ctx, orch, events, out, stop)
	return out, nil
}

// forward copies run events to out until the run is terminal and its events
// are drained. A terminal event dropped by a full buffer is re-delivered from
// the orchestrator.
func (c *Client) forward(ctx context.Context, orch *extract.Orchestrator, events <-chan domain.StreamEvent, out chan<- StreamEvent, stop <-chan struct{}) {
	defer close(out)

	cancelled := ctx.Done()
	cancel := func() {
		cancelled = nil
		if err := orch.Cancel(); err != nil && !errors.Is(err, domain.ErrNotRunning) {
			c.logger.Warn().Err(err).Msg("Failed to cancel run")
		}
	}

	sawTerminal := false
	deliver := func(ev StreamEvent) bool {
		if ev.Type.Terminal() {
			sawTerminal = true
		}
		for {
			select {
			case out <- ev:
				return true
			case <-stop:
				return false
			case <-cancelled:
				cancel()
			}
		}
	}

	done := orch.Done()
	for {
		select {
		case ev := <-events:
			if !deliver(ev) {
				return
			}
		case <-cancelled:
			cancel()
		case <-stop:
			return
		case <-done:
			for {
				select {
				case ev := <-events:
					if !deliver(ev) {
						return
					}
				default:
					if !sawTerminal {
						if ev, ok := orch.TerminalEvent(); ok {
							deliver(ev)
						}
					}
					return
				}
			}
		}
	}
}

func (c *Client) current() *extract.Orchestrator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orch
}

// Wait blocks until the current run is terminal.
func (c *Client) Wait(ctx context.Context) (RunState, error) {
	return c.current().Wait(ctx)
}

// Progress reports settled pages against the run total.
func (c *Client) Progress() Progress {
	return c.current().Progress()
}

// Markdown returns the document extracted so far.
func (c *Client) Markdown() string {
	return c.current().Snapshot()
}

// Export writes the document extracted so far to dir as <source base>.md.
func (c *Client) Export(ctx context.Context, dir, source string) (*Artifact, error) {
	return document.NewFileSink(dir).Export(ctx, c.current().Snapshot(), source)
}

// Close cancels a live run, ends the event stream and cleans up resources.
func (c *Client) Close() error {
	c.mu.Lock()
	if err := c.orch.Cancel(); err != nil && !errors.Is(err, domain.ErrNotRunning) {
		c.logger.Warn().Err(err).Msg("Failed to cancel run")
	}
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.mu.Unlock()

	err := c.converter.Cleanup()
	if c.closeFn != nil {
		if cerr := c.closeFn(); err == nil {
			err = cerr
		}
	}
	return err
}
