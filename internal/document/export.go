package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/neozhu/pdfxtract/internal/domain"
)

// MarkdownContentType is the media type of exported documents.
const MarkdownContentType = "text/markdown; charset=utf-8"

// ExportName derives the artifact file name from the source document name.
func ExportName(source string) string {
	base := filepath.Base(strings.ReplaceAll(source, "\\", "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == "/" {
		base = "document"
	}
	return base + ".md"
}

// NewArtifact builds an in-memory Markdown artifact.
func NewArtifact(snapshot, source string) *domain.Artifact {
	return &domain.Artifact{
		Name:        ExportName(source),
		ContentType: MarkdownContentType,
		Data:        []byte(snapshot),
	}
}

// FileSink writes exported documents to a local directory.
type FileSink struct {
	Dir string
}

// NewFileSink creates a sink writing into dir.
func NewFileSink(dir string) *FileSink {
	if dir == "" {
		dir = "."
	}
	return &FileSink{Dir: dir}
}

// Export writes snapshot to <Dir>/<base>.md.
func (s *FileSink) Export(ctx context.Context, snapshot, baseName string) (*domain.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	artifact := NewArtifact(snapshot, baseName)

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, domain.IOError("Failed to create output directory", err)
	}

	path := filepath.Join(s.Dir, artifact.Name)
	if err := os.WriteFile(path, artifact.Data, 0o644); err != nil {
		return nil, domain.IOError(fmt.Sprintf("Failed to write %s", path), err)
	}
	artifact.Path = path

	return artifact, nil
}

var _ domain.ExportSink = (*FileSink)(nil)
