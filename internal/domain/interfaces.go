package domain

import "context"

// Converter defines the interface for converting a document to page images
type Converter interface {
	// Convert turns a PDF (or a single image) into a slice of page images
	Convert(ctx context.Context, path string) ([]PageImage, error)

	// Cleanup removes temporary files created during conversion
	Cleanup() error
}

// Subscription carries the output of one completion call. Chunks is closed
// before the single PageResult is delivered on Result.
type Subscription struct {
	Chunks <-chan string
	Result <-chan PageResult
}

// CompletionChannel wraps one streaming completion call per page.
type CompletionChannel interface {
	// Invoke starts the call for page. Page-level faults are reported as a
	// failed PageResult; the error return is reserved for refusing the call.
	Invoke(ctx context.Context, page PageRef, model string) (*Subscription, error)

	// CancelActive aborts the in-flight call, if any.
	CancelActive()
}

// Artifact is an exported document.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
	Path        string
}

// ExportSink serializes an accumulated document snapshot.
type ExportSink interface {
	Export(ctx context.Context, snapshot, baseName string) (*Artifact, error)
}
