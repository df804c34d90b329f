package extract

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/neozhu/pdfxtract/internal/document"
	"github.com/neozhu/pdfxtract/internal/domain"
	"github.com/neozhu/pdfxtract/internal/observability"
)

// RunContext owns every mutable field of one run. Start builds a new one;
// nothing is carried over from a previous run. All fields are guarded by
// the orchestrator mutex except doc, which has its own lock.
type RunContext struct {
	id        string
	config    domain.RunConfig
	total     int
	state     domain.RunState
	doc       *document.Accumulator
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	terminal  *domain.StreamEvent
	startedAt time.Time
	logger    *observability.Logger
}

func newRunContext(cfg domain.RunConfig, logger *observability.Logger) *RunContext {
	ctx, cancel := context.WithCancel(context.Background())
	pages := make([]domain.PageRef, len(cfg.Pages))
	copy(pages, cfg.Pages)
	cfg.Pages = pages

	id := uuid.NewString()
	return &RunContext{
		id:        id,
		logger:    logger.WithRun(id),
		config:    cfg,
		total:     cfg.Total(),
		state:     domain.RunState{Phase: domain.PhaseRunning, CurrentIndex: 0},
		doc:       document.NewAccumulator(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
}

// finish moves a running run to a terminal phase and aborts its context. It
// reports false when the run had already left Running. Waiters are released
// by seal, once the terminal event is recorded.
func (r *RunContext) finish(phase domain.Phase, errMsg string) bool {
	if r.state.Phase != domain.PhaseRunning {
		return false
	}
	r.state.Phase = phase
	r.state.Error = errMsg
	r.cancel()
	return true
}

func (r *RunContext) seal() {
	close(r.done)
}

func (r *RunContext) progress() domain.Progress {
	return domain.NewProgress(r.doc.Len(), r.total)
}
