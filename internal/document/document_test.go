package document

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neozhu/pdfxtract/internal/domain"
)

func TestAccumulator_AppendAndSnapshot(t *testing.T) {
	acc := NewAccumulator()
	assert.Equal(t, "", acc.Snapshot())

	require.NoError(t, acc.Append(domain.PageResult{Index: 0, Markdown: "# Title\n\nfirst"}))
	require.NoError(t, acc.Append(domain.PageResult{Index: 1, Failed: true, ErrorMessage: "timeout"}))
	require.NoError(t, acc.Append(domain.PageResult{Index: 2, Markdown: "| a | b |\n|---|---|"}))

	snapshot := acc.Snapshot()
	parts := strings.Split(snapshot, Separator)
	require.Len(t, parts, 4, "first page contains its own blank line")

	assert.True(t, strings.HasPrefix(snapshot, "# Title\n\nfirst\n\n"))
	assert.Contains(t, snapshot, "**Error extracting page 2:** timeout")
	assert.True(t, strings.HasSuffix(snapshot, "| a | b |\n|---|---|"))
	assert.Less(t, strings.Index(snapshot, "first"), strings.Index(snapshot, "timeout"))
	assert.Less(t, strings.Index(snapshot, "timeout"), strings.Index(snapshot, "| a | b |"))

	assert.Equal(t, 3, acc.Len())
	assert.Equal(t, 1, acc.Failed())
}

func TestAccumulator_ContentNotEscaped(t *testing.T) {
	acc := NewAccumulator()
	raw := "<b>bold</b> & $x^2$ \\* not escaped"
	require.NoError(t, acc.Append(domain.PageResult{Index: 0, Markdown: raw}))
	assert.Equal(t, raw, acc.Snapshot())
}

func TestAccumulator_OutOfOrder(t *testing.T) {
	acc := NewAccumulator()
	require.NoError(t, acc.Append(domain.PageResult{Index: 0, Markdown: "a"}))

	err := acc.Append(domain.PageResult{Index: 0, Markdown: "dup"})
	assert.True(t, errors.Is(err, domain.ErrOutOfOrder))

	err = acc.Append(domain.PageResult{Index: 2, Markdown: "skip"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeInvariant))

	assert.Equal(t, "a", acc.Snapshot(), "rejected appends leave the document unchanged")
}

func TestAccumulator_ConcurrentSnapshot(t *testing.T) {
	acc := NewAccumulator()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = acc.Append(domain.PageResult{Index: i, Markdown: "page"})
		}
	}()
	for i := 0; i < 200; i++ {
		_ = acc.Snapshot()
	}
	wg.Wait()
	assert.Equal(t, 200, acc.Len())
}

func TestErrorMarker(t *testing.T) {
	marker := ErrorMarker(1, "API returned status 500:\n  upstream down")
	assert.Contains(t, marker, "page=2")
	assert.Contains(t, marker, "API returned status 500: upstream down")
	assert.Equal(t, 3, strings.Count(marker, "\n")+1, "marker stays one block")

	assert.Contains(t, ErrorMarker(0, ""), "unknown error")
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML("# Heading\n\n| a | b |\n|---|---|\n| 1 | 2 |")
	require.NoError(t, err)
	assert.Contains(t, html, "<h1>Heading</h1>")
	assert.Contains(t, html, "<table>")
}

func TestExportName(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"brochure.pdf", "brochure.md"},
		{"/tmp/uploads/Report.PDF", "Report.md"},
		{"C:\\docs\\scan.png", "scan.md"},
		{"archive.tar.gz", "archive.tar.md"},
		{"notes", "notes.md"},
		{"", "document.md"},
		{"/", "document.md"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, ExportName(tt.source))
		})
	}
}

func TestFileSink_Export(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	sink := NewFileSink(dir)

	artifact, err := sink.Export(context.Background(), "# Page one", "input/brochure.pdf")
	require.NoError(t, err)
	assert.Equal(t, "brochure.md", artifact.Name)
	assert.Equal(t, MarkdownContentType, artifact.ContentType)
	assert.Equal(t, filepath.Join(dir, "brochure.md"), artifact.Path)

	data, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, "# Page one", string(data))
}

func TestFileSink_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFileSink(t.TempDir()).Export(ctx, "x", "a.pdf")
	assert.ErrorIs(t, err, context.Canceled)
}
