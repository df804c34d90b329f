package extract

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/neozhu/pdfxtract/internal/domain"
	"github.com/neozhu/pdfxtract/internal/observability"
)

// Options configures an Orchestrator.
type Options struct {
	// Events receives run events. Sends never block; events are dropped
	// when the buffer is full.
	Events chan<- domain.StreamEvent
	Logger *observability.Logger
}

// Orchestrator drives the pages of a run through a CompletionChannel one at
// a time, in index order. Call N+1 is issued only from the settlement of
// call N.
type Orchestrator struct {
	channel domain.CompletionChannel
	events  chan<- domain.StreamEvent
	logger  *observability.Logger

	mu  sync.Mutex
	run *RunContext
}

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// NewOrchestrator creates an idle orchestrator.
func NewOrchestrator(channel domain.CompletionChannel, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Orchestrator{
		channel: channel,
		events:  opts.Events,
		logger:  logger.WithOperation("ocr_run"),
	}
}

// Start begins a new run and issues the call for page 0. A previous run in a
// terminal state is replaced; a running one is left untouched and an
// invariant error is returned.
func (o *Orchestrator) Start(cfg domain.RunConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run != nil && o.run.state.Phase == domain.PhaseRunning {
		return "", domain.InvariantError(fmt.Sprintf("run %s is still running", o.run.id), domain.ErrRunInProgress)
	}

	run := newRunContext(cfg, o.logger)
	o.run = run

	run.logger.Info().
		Int("pages", len(cfg.Pages)).
		Int("total", run.total).
		Str("model", cfg.Model).
		Msg("Starting run")

	if run.total < len(cfg.Pages) {
		run.logger.Info().
			Int("skipped", len(cfg.Pages)-run.total).
			Msgf("Only the first %d pages will be processed", run.total)
	}

	o.emit(run, domain.StreamEvent{
		Type:    domain.EventStart,
		Payload: fmt.Sprintf("Starting extraction of %d of %d pages", run.total, len(cfg.Pages)),
	})

	if err := o.dispatch(run, 0); err != nil {
		return run.id, err
	}
	return run.id, nil
}

// Cancel stops the running run. The in-flight call is aborted and no further
// page is scheduled; pages already settled stay in the snapshot.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	run := o.run
	if run == nil || run.state.Phase != domain.PhaseRunning {
		return domain.InvariantError("cancel needs a running run", domain.ErrNotRunning)
	}

	page := run.state.CurrentIndex
	run.finish(domain.PhaseCancelled, "")
	o.channel.CancelActive()

	run.logger.Info().
		Int("page", page+1).
		Int("settled", run.doc.Len()).
		Msg("Run cancelled")

	o.conclude(run, domain.StreamEvent{
		Type:       domain.EventCancelled,
		PageNumber: page + 1,
		Payload:    fmt.Sprintf("Cancelled after %d of %d pages", run.doc.Len(), run.total),
	})
	return nil
}

// OnPageSettled is the settlement entry point for the current run.
func (o *Orchestrator) OnPageSettled(result domain.PageResult) {
	o.mu.Lock()
	run := o.run
	o.mu.Unlock()

	if run == nil {
		o.logger.Debug().Int("page", result.Index+1).Msg("Dropping settlement with no run")
		return
	}
	o.settle(run, result)
}

func (o *Orchestrator) settle(run *RunContext, result domain.PageResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	log := run.logger.With().Int("page", result.Index+1).Logger()

	if o.run != run {
		log.Debug().Msg("Dropping settlement from a superseded run")
		return
	}
	if run.state.Phase != domain.PhaseRunning {
		log.Debug().Str("phase", run.state.Phase.String()).Msg("Dropping late settlement")
		return
	}

	current := run.state.CurrentIndex
	switch {
	case result.Index < current:
		log.Warn().Int("current", current+1).Msg("Dropping duplicate settlement")
		return
	case result.Index > current:
		o.fail(run, domain.InvariantError(
			fmt.Sprintf("settlement for page %d while page %d is running", result.Index+1, current+1),
			domain.ErrOutOfOrder))
		return
	}

	if err := run.doc.Append(result); err != nil {
		o.fail(run, err)
		return
	}

	if result.Failed {
		log.Warn().Str("error", result.ErrorMessage).Msg("Page failed")
		o.emit(run, domain.StreamEvent{
			Type:       domain.EventPageFailed,
			PageNumber: result.Index + 1,
			Payload:    result.ErrorMessage,
		})
	} else {
		log.Info().Int("chars", len(result.Markdown)).Msg("Page complete")
		o.emit(run, domain.StreamEvent{
			Type:       domain.EventPageComplete,
			PageNumber: result.Index + 1,
			Payload:    fmt.Sprintf("Completed page %d", result.Index+1),
		})
	}

	next := result.Index + 1
	if next >= run.total {
		run.state.CurrentIndex = next
		run.finish(domain.PhaseCompleted, "")

		failed := run.doc.Failed()
		log.Info().
			Int("succeeded", run.total-failed).
			Int("failed", failed).
			Dur("duration", time.Since(run.startedAt)).
			Msg("Run complete")
		o.conclude(run, domain.StreamEvent{
			Type: domain.EventComplete,
			Payload: fmt.Sprintf("Extraction complete: %d/%d pages successful in %v",
				run.total-failed, run.total, time.Since(run.startedAt).Round(time.Millisecond)),
		})
		return
	}

	run.state.CurrentIndex = next
	_ = o.dispatch(run, next)
}

// dispatch issues the call for page index. Must be called with o.mu held.
func (o *Orchestrator) dispatch(run *RunContext, index int) error {
	page := run.config.Pages[index]

	sub, err := o.channel.Invoke(run.ctx, page, run.config.Model)
	if err != nil {
		err = domain.InvariantError(fmt.Sprintf("cannot schedule page %d", index+1), err)
		o.fail(run, err)
		return err
	}

	run.logger.Debug().Int("page", index+1).Msg("Processing page")
	o.emit(run, domain.StreamEvent{
		Type:       domain.EventPageProcessing,
		PageNumber: index + 1,
		Payload:    fmt.Sprintf("Processing page %d of %d", index+1, run.total),
	})

	go o.watch(run, index, sub)
	return nil
}

// watch forwards the chunks of one call as events and hands its result to
// settle.
func (o *Orchestrator) watch(run *RunContext, index int, sub *domain.Subscription) {
	for chunk := range sub.Chunks {
		o.emitChunk(run, index, chunk)
	}

	result, ok := <-sub.Result
	if !ok {
		result = domain.PageResult{Index: index, Failed: true, ErrorMessage: "completion call ended without a result"}
	}
	o.settle(run, result)
}

// fail moves run to Failed. Must be called with o.mu held.
func (o *Orchestrator) fail(run *RunContext, err error) {
	if !run.finish(domain.PhaseFailed, err.Error()) {
		return
	}
	o.channel.CancelActive()

	run.logger.Error().
		Int("page", run.state.CurrentIndex+1).
		Err(err).
		Msg("Run failed")
	o.conclude(run, domain.StreamEvent{
		Type:       domain.EventError,
		PageNumber: run.state.CurrentIndex + 1,
		Payload:    err.Error(),
	})
}

// emitChunk forwards a streamed chunk while run is still the live run. The
// check and the send share the lock so no chunk follows the terminal event.
func (o *Orchestrator) emitChunk(run *RunContext, index int, chunk string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run != run || run.state.Phase != domain.PhaseRunning {
		return
	}
	o.emit(run, domain.StreamEvent{
		Type:       domain.EventLLMStreaming,
		PageNumber: index + 1,
		Payload:    chunk,
	})
}

// conclude records the terminal event of run, offers it to the event
// channel and releases waiters. Must be called with o.mu held, after finish.
func (o *Orchestrator) conclude(run *RunContext, event domain.StreamEvent) {
	event = o.stamp(run, event)
	run.terminal = &event
	o.send(event)
	run.seal()
}

// State returns the current run state.
func (o *Orchestrator) State() domain.RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return domain.RunState{Phase: domain.PhaseIdle}
	}
	return o.run.state
}

// RunID returns the ID of the current run, or "" when idle.
func (o *Orchestrator) RunID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return ""
	}
	return o.run.id
}

// Progress reports settled pages against the run total.
func (o *Orchestrator) Progress() domain.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return domain.Progress{}
	}
	return o.run.progress()
}

// Snapshot returns the document accumulated so far.
func (o *Orchestrator) Snapshot() string {
	o.mu.Lock()
	run := o.run
	o.mu.Unlock()
	if run == nil {
		return ""
	}
	return run.doc.Snapshot()
}

// Done returns a channel closed when the current run reaches a terminal
// state. It is already closed when idle.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return closedDone
	}
	return o.run.done
}

// TerminalEvent returns the terminal event (complete, cancelled or error) of
// the current run once it has one. It is kept even when the event channel
// was full, so consumers that find it missing after Done can still deliver
// it.
func (o *Orchestrator) TerminalEvent() (domain.StreamEvent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil || o.run.terminal == nil {
		return domain.StreamEvent{}, false
	}
	return *o.run.terminal, true
}

// Wait blocks until the current run is terminal or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) (domain.RunState, error) {
	select {
	case <-o.Done():
		return o.State(), nil
	case <-ctx.Done():
		return o.State(), ctx.Err()
	}
}

// Reset discards a terminal run and returns to Idle.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run != nil && o.run.state.Phase == domain.PhaseRunning {
		return domain.InvariantError("cannot reset a running run", domain.ErrRunInProgress)
	}
	o.run = nil
	return nil
}

// emit sends an event without blocking.
func (o *Orchestrator) emit(run *RunContext, event domain.StreamEvent) {
	o.send(o.stamp(run, event))
}

func (o *Orchestrator) stamp(run *RunContext, event domain.StreamEvent) domain.StreamEvent {
	event.RunID = run.id
	event.Timestamp = time.Now()
	return event
}

func (o *Orchestrator) send(event domain.StreamEvent) {
	if o.events == nil {
		return
	}
	select {
	case o.events <- event:
	default:
		o.logger.Warn().
			Str("run_id", event.RunID).
			Str("event", string(event.Type)).
			Msg("Event channel full, dropping event")
	}
}
