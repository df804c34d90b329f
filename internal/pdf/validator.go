package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/neozhu/pdfxtract/internal/domain"
	"github.com/neozhu/pdfxtract/internal/observability"
)

const maxSize = 100 * 1024 * 1024 // 100MB

// Validator provides input validation for documents
type Validator struct {
	logger *observability.Logger
}

// NewValidator creates a new validator instance
func NewValidator(logger *observability.Logger) *Validator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Validator{logger: logger}
}

// IsImage reports whether path has a supported standalone image extension.
func IsImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// ValidatePath validates that path points to a readable PDF or image file.
func (v *Validator) ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ValidationError(fmt.Sprintf("file does not exist: %s", path), err)
		}
		return domain.ValidationError(fmt.Sprintf("cannot access file: %s", path), err)
	}

	if info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("path is a directory, not a file: %s", path), nil)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pdf" && !IsImage(path) {
		return domain.ValidationError(fmt.Sprintf("file is not a PDF or image (has extension %s)", ext), nil)
	}

	if info.Size() > maxSize {
		v.logger.Warn().
			Int64("size_mb", info.Size()/(1024*1024)).
			Msg("Document is very large, processing may take a while")
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("cannot open file: %s", path), err)
	}
	file.Close()

	return nil
}

// PageCount reads the page count from the PDF structure without rendering.
// A parser panic on a damaged file is reported as a validation error.
func (v *Validator) PageCount(path string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, domain.ValidationError("cannot read PDF page tree", fmt.Errorf("pdfcpu: %v", r))
		}
	}()

	n, err = api.PageCountFile(path)
	if err != nil {
		return 0, domain.ValidationError("cannot read PDF page tree", err)
	}
	if n == 0 {
		return 0, domain.ValidationError("PDF has no pages", nil)
	}
	return n, nil
}

// ValidateQuality validates the rendering preset name.
func (v *Validator) ValidateQuality(quality string) error {
	if _, ok := presetWidths[quality]; !ok {
		return domain.ValidationError(fmt.Sprintf("quality must be high, medium or low, got %q", quality), nil)
	}
	return nil
}

// ValidateJPEGQuality validates the JPEG encoder quality.
func (v *Validator) ValidateJPEGQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return domain.ValidationError(fmt.Sprintf("quality must be between 1 and 100, got %d", quality), nil)
	}
	return nil
}
