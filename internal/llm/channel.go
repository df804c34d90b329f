package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neozhu/pdfxtract/internal/domain"
	"github.com/neozhu/pdfxtract/internal/observability"
)

const defaultChunkBuffer = 100

// ChannelOptions configures a Channel.
type ChannelOptions struct {
	// PageTimeout bounds a single call. Zero means no timeout.
	PageTimeout time.Duration
	// BufferSize is the capacity of the chunk channel handed to subscribers.
	BufferSize int
}

// Channel adapts a Streamer to domain.CompletionChannel. It runs at most one
// call at a time and converts every page-level fault into a failed
// PageResult.
type Channel struct {
	streamer Streamer
	opts     ChannelOptions
	logger   *observability.Logger

	mu     sync.Mutex
	seq    uint64
	active *activeCall
}

type activeCall struct {
	id     uint64
	page   int
	cancel context.CancelFunc
}

// NewChannel creates a completion channel over streamer.
func NewChannel(streamer Streamer, opts ChannelOptions, logger *observability.Logger) *Channel {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultChunkBuffer
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Channel{
		streamer: streamer,
		opts:     opts,
		logger:   logger,
	}
}

// Invoke starts the completion call for page.
func (c *Channel) Invoke(ctx context.Context, page domain.PageRef, model string) (*domain.Subscription, error) {
	c.mu.Lock()
	if c.active != nil {
		busy := c.active.page
		c.mu.Unlock()
		return nil, domain.InvariantError(fmt.Sprintf("cannot invoke page %d while page %d is in flight", page.Index+1, busy+1), domain.ErrChannelBusy)
	}

	callCtx, cancel := context.WithCancel(ctx)
	timeoutCtx := callCtx
	if c.opts.PageTimeout > 0 {
		var cancelTimeout context.CancelFunc
		timeoutCtx, cancelTimeout = context.WithTimeout(callCtx, c.opts.PageTimeout)
		parent := cancel
		cancel = func() {
			cancelTimeout()
			parent()
		}
	}

	c.seq++
	call := &activeCall{id: c.seq, page: page.Index, cancel: cancel}
	c.active = call
	c.mu.Unlock()

	chunks := make(chan string, c.opts.BufferSize)
	result := make(chan domain.PageResult, 1)

	go c.run(timeoutCtx, callCtx, call, page, model, chunks, result)

	return &domain.Subscription{Chunks: chunks, Result: result}, nil
}

// CancelActive aborts the in-flight call, if any. The slot is free as soon
// as this returns.
func (c *Channel) CancelActive() {
	c.mu.Lock()
	call := c.active
	c.active = nil
	c.mu.Unlock()

	if call != nil {
		c.logger.Debug().Int("page", call.page+1).Msg("Cancelling active completion call")
		call.cancel()
	}
}

func (c *Channel) run(ctx, callCtx context.Context, call *activeCall, page domain.PageRef, model string, chunks chan<- string, result chan<- domain.PageResult) {
	start := time.Now()

	inner := make(chan string)
	forwarded := make(chan string, 1)
	go func() {
		var sb strings.Builder
		for chunk := range inner {
			sb.WriteString(chunk)
			select {
			case chunks <- chunk:
			default:
				// Chunks are for live display only; the full text is kept here.
			}
		}
		forwarded <- sb.String()
	}()

	err := c.stream(ctx, page, model, inner)
	close(inner)
	text := <-forwarded

	res := domain.PageResult{Index: page.Index}
	switch {
	case err == nil:
		res.Markdown = text
	case callCtx.Err() != nil:
		res.Failed = true
		res.ErrorMessage = "cancelled"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Failed = true
		res.ErrorMessage = fmt.Sprintf("timeout after %s", c.opts.PageTimeout)
	default:
		res.Failed = true
		res.ErrorMessage = err.Error()
	}

	c.logger.Debug().
		Int("page", page.Index+1).
		Bool("failed", res.Failed).
		Str("error", res.ErrorMessage).
		Dur("duration", time.Since(start)).
		Msg("Completion call settled")

	c.release(call)
	call.cancel()

	close(chunks)
	result <- res
	close(result)
}

func (c *Channel) stream(ctx context.Context, page domain.PageRef, model string, chunks chan<- string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("completion call panicked: %v", r)
		}
	}()
	return c.streamer.Stream(ctx, page, model, chunks)
}

func (c *Channel) release(call *activeCall) {
	c.mu.Lock()
	if c.active == call {
		c.active = nil
	}
	c.mu.Unlock()
}

var _ domain.CompletionChannel = (*Channel)(nil)
