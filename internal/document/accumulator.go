// Package document builds the Markdown document produced by a run and
// exports it.
package document

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/neozhu/pdfxtract/internal/domain"
)

// Separator joins consecutive page fragments.
const Separator = "\n\n"

// Accumulator is an append-only, order-preserving builder of page fragments.
// Appends come from a single writer; Snapshot may be called from any goroutine.
type Accumulator struct {
	mu        sync.RWMutex
	fragments []string
	failed    int
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Append adds the fragment for result. The result must belong to the next
// page in order.
func (a *Accumulator) Append(result domain.PageResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if result.Index != len(a.fragments) {
		return domain.InvariantError(
			fmt.Sprintf("expected page index %d, got %d", len(a.fragments), result.Index),
			domain.ErrOutOfOrder,
		)
	}

	if result.Failed {
		a.fragments = append(a.fragments, ErrorMarker(result.Index, result.ErrorMessage))
		a.failed++
		return nil
	}

	a.fragments = append(a.fragments, result.Markdown)
	return nil
}

// Snapshot returns the current joined document.
func (a *Accumulator) Snapshot() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return strings.Join(a.fragments, Separator)
}

// Len returns the number of appended fragments.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.fragments)
}

// Failed returns how many appended fragments are error markers.
func (a *Accumulator) Failed() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.failed
}

// ErrorMarker renders the fragment that stands in for a page that could not
// be extracted.
func ErrorMarker(index int, message string) string {
	if strings.TrimSpace(message) == "" {
		message = "unknown error"
	}
	message = strings.Join(strings.Fields(message), " ")
	return fmt.Sprintf("<!-- pdfxtract:error page=%d -->\n> **Error extracting page %d:** %s\n<!-- /pdfxtract:error -->",
		index+1, index+1, message)
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML converts a Markdown snapshot to HTML for previews.
func RenderHTML(snapshot string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(snapshot), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}
