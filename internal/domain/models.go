package domain

import (
	"fmt"
	"strings"
	"time"
)

// PageRef identifies one page image of a document.
type PageRef struct {
	Index int    `json:"index"`
	URI   string `json:"uri"`
}

// PageSource is an ordered, immutable sequence of page references.
type PageSource struct {
	pages []PageRef
}

// NewPageSource builds a PageSource from page URIs in reading order.
func NewPageSource(uris []string) (PageSource, error) {
	if len(uris) == 0 {
		return PageSource{}, ValidationError("page source has no pages", nil)
	}
	pages := make([]PageRef, len(uris))
	for i, uri := range uris {
		if strings.TrimSpace(uri) == "" {
			return PageSource{}, ValidationError(fmt.Sprintf("page %d has an empty URI", i+1), nil)
		}
		pages[i] = PageRef{Index: i, URI: uri}
	}
	return PageSource{pages: pages}, nil
}

// Len returns the number of pages.
func (s PageSource) Len() int {
	return len(s.pages)
}

// Page returns the page at index i.
func (s PageSource) Page(i int) PageRef {
	return s.pages[i]
}

// Pages returns a copy of the page references.
func (s PageSource) Pages() []PageRef {
	out := make([]PageRef, len(s.pages))
	copy(out, s.pages)
	return out
}

// PageImage represents a single converted PDF page
type PageImage struct {
	PageNumber int
	ImagePath  string // Path to temporary image file
	Width      int
	Height     int
}

// PageResult is the settled outcome of one page's completion call.
type PageResult struct {
	Index        int    `json:"index"`
	Markdown     string `json:"markdown,omitempty"`
	Failed       bool   `json:"failed"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Phase is the coarse state of an orchestration run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseCancelled
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhaseCancelled:
		return "cancelled"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether no further transition can happen within the run.
func (p Phase) Terminal() bool {
	return p == PhaseCancelled || p == PhaseCompleted || p == PhaseFailed
}

// RunState is the orchestrator state. CurrentIndex is meaningful while running
// and records where the run stopped otherwise.
type RunState struct {
	Phase        Phase  `json:"-"`
	CurrentIndex int    `json:"current_index"`
	Error        string `json:"error,omitempty"`
}

func (s RunState) String() string {
	switch s.Phase {
	case PhaseRunning:
		return fmt.Sprintf("running(%d)", s.CurrentIndex)
	case PhaseFailed:
		return fmt.Sprintf("failed(%s)", s.Error)
	default:
		return s.Phase.String()
	}
}

// RunConfig is supplied when a run starts and is immutable for its lifetime.
type RunConfig struct {
	Pages    []PageRef
	MaxPages int
	Model    string
}

// Total is the number of pages the run will attempt.
func (c RunConfig) Total() int {
	if c.MaxPages < len(c.Pages) {
		return c.MaxPages
	}
	return len(c.Pages)
}

// Validate checks the run preconditions.
func (c RunConfig) Validate() error {
	if len(c.Pages) == 0 {
		return ValidationError("run needs at least one page", nil)
	}
	if c.MaxPages < 1 {
		return ValidationError(fmt.Sprintf("max pages must be at least 1, got %d", c.MaxPages), nil)
	}
	for i, p := range c.Pages {
		if p.Index != i {
			return ValidationError(fmt.Sprintf("page at position %d has index %d", i, p.Index), nil)
		}
		if strings.TrimSpace(p.URI) == "" {
			return ValidationError(fmt.Sprintf("page %d has an empty URI", i+1), nil)
		}
	}
	return nil
}

// Progress is a point-in-time view of a run for progress indicators.
type Progress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// NewProgress derives the percentage from current and total.
func NewProgress(current, total int) Progress {
	p := Progress{Current: current, Total: total}
	if total > 0 {
		p.Percent = float64(current) / float64(total) * 100
	}
	return p
}

// EventType represents the type of stream event
type EventType string

const (
	EventStart          EventType = "start"
	EventPageProcessing EventType = "page_processing"
	EventLLMStreaming   EventType = "llm_streaming" // Chunk of text
	EventPageComplete   EventType = "page_complete"
	EventPageFailed     EventType = "page_failed"
	EventCancelled      EventType = "cancelled"
	EventError          EventType = "error"
	EventComplete       EventType = "complete"
)

// Terminal reports whether t ends a run.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventCancelled || t == EventError
}

// StreamEvent represents an event emitted during processing
type StreamEvent struct {
	Type       EventType   `json:"type"`
	RunID      string      `json:"run_id,omitempty"`
	PageNumber int         `json:"page_number,omitempty"`
	Payload    interface{} `json:"payload,omitempty"` // Text chunk or status message
	Timestamp  time.Time   `json:"timestamp"`
}
