package pdf

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
	"golang.org/x/image/draw"

	"github.com/neozhu/pdfxtract/internal/domain"
	"github.com/neozhu/pdfxtract/internal/observability"
)

// Target page widths in pixels per quality preset.
var presetWidths = map[string]int{
	"high":   1200,
	"medium": 1024,
	"low":    768,
}

// Options controls rasterization.
type Options struct {
	Quality     string  // high, medium or low
	Format      string  // jpg or png
	DPI         float64 // render resolution before downscaling
	JPEGQuality int
}

// DefaultOptions returns the medium preset rendered as JPEG.
func DefaultOptions() Options {
	return Options{
		Quality:     "medium",
		Format:      "jpg",
		DPI:         150,
		JPEGQuality: 85,
	}
}

// Converter implements document to image conversion using go-fitz
type Converter struct {
	opts      Options
	logger    *observability.Logger
	validator *Validator
	doc       *fitz.Document
	tempDir   string
}

// NewConverter creates a new converter instance
func NewConverter(opts Options, logger *observability.Logger) *Converter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if opts.DPI <= 0 {
		opts.DPI = 150
	}
	if opts.Format == "" {
		opts.Format = "jpg"
	}
	return &Converter{
		opts:      opts,
		logger:    logger.WithOperation("convert"),
		validator: NewValidator(logger),
	}
}

// Convert turns a PDF into page images. A standalone image is returned as a
// single page without re-encoding. The images of a previous Convert call are
// released first.
func (c *Converter) Convert(ctx context.Context, path string) ([]domain.PageImage, error) {
	if err := c.Cleanup(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to release previous conversion")
	}

	if err := c.validator.ValidatePath(path); err != nil {
		return nil, err
	}
	if err := c.validator.ValidateQuality(c.opts.Quality); err != nil {
		return nil, err
	}
	if err := c.validator.ValidateJPEGQuality(c.opts.JPEGQuality); err != nil {
		return nil, err
	}
	if c.opts.Format != "jpg" && c.opts.Format != "png" {
		return nil, domain.ValidationError(fmt.Sprintf("unsupported image format %q", c.opts.Format), nil)
	}

	if IsImage(path) {
		return c.single(path)
	}

	if n, err := c.validator.PageCount(path); err != nil {
		c.logger.Warn().Err(err).Msg("PDF structure check failed, rendering anyway")
	} else {
		c.logger.Debug().Int("pages", n).Msg("PDF structure check passed")
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, domain.ConversionError("Failed to open PDF", err)
	}
	c.doc = doc

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, domain.ValidationError("PDF has no pages", nil)
	}

	tempDir, err := os.MkdirTemp("", "pdfxtract-*")
	if err != nil {
		return nil, domain.IOError("Failed to create temp directory", err)
	}
	c.tempDir = tempDir

	images := make([]domain.PageImage, 0, pageCount)

	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rendered, err := doc.ImageDPI(pageNum, c.opts.DPI)
		if err != nil {
			return nil, domain.ConversionError(fmt.Sprintf("Failed to convert page %d", pageNum+1), err)
		}
		img := fitWidth(rendered, presetWidths[c.opts.Quality])

		outputPath := filepath.Join(tempDir, fmt.Sprintf("page_%03d.%s", pageNum+1, c.opts.Format))
		if err := c.encode(outputPath, img); err != nil {
			return nil, err
		}

		bounds := img.Bounds()
		images = append(images, domain.PageImage{
			PageNumber: pageNum + 1,
			ImagePath:  outputPath,
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
		})
	}

	c.logger.Info().Int("pages", len(images)).Str("quality", c.opts.Quality).Msg("Converted document")
	return images, nil
}

func (c *Converter) single(path string) ([]domain.PageImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.IOError("Failed to open image", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, domain.ConversionError("Failed to decode image header", err)
	}

	return []domain.PageImage{{
		PageNumber: 1,
		ImagePath:  path,
		Width:      cfg.Width,
		Height:     cfg.Height,
	}}, nil
}

func (c *Converter) encode(outputPath string, img image.Image) error {
	outputFile, err := os.Create(outputPath)
	if err != nil {
		return domain.IOError(fmt.Sprintf("Failed to create output file %s", outputPath), err)
	}

	if c.opts.Format == "png" {
		err = png.Encode(outputFile, img)
	} else {
		err = jpeg.Encode(outputFile, img, &jpeg.Options{Quality: c.opts.JPEGQuality})
	}
	outputFile.Close()
	if err != nil {
		return domain.ConversionError(fmt.Sprintf("Failed to encode %s", outputPath), err)
	}
	return nil
}

// fitWidth downscales img to width, keeping the aspect ratio. Images already
// narrower than width are returned unchanged.
func fitWidth(img image.Image, width int) image.Image {
	bounds := img.Bounds()
	if width <= 0 || bounds.Dx() <= width {
		return img
	}
	height := bounds.Dy() * width / bounds.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

// Cleanup removes temporary files and closes the PDF document
func (c *Converter) Cleanup() error {
	var errs []error

	if c.doc != nil {
		if err := c.doc.Close(); err != nil {
			errs = append(errs, err)
		}
		c.doc = nil
	}

	if c.tempDir != "" {
		if err := os.RemoveAll(c.tempDir); err != nil {
			errs = append(errs, err)
		}
		c.tempDir = ""
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}

	return nil
}

// NewPageSource builds the ordered page source from converted images.
func NewPageSource(images []domain.PageImage) (domain.PageSource, error) {
	uris := make([]string, len(images))
	for i, img := range images {
		uris[i] = img.ImagePath
	}
	return domain.NewPageSource(uris)
}

var _ domain.Converter = (*Converter)(nil)
