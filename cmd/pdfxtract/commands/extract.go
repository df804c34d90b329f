package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/neozhu/pdfxtract/cmd/pdfxtract/ui"
	"github.com/neozhu/pdfxtract/internal/document"
	"github.com/neozhu/pdfxtract/internal/domain"
	"github.com/neozhu/pdfxtract/internal/extract"
	"github.com/neozhu/pdfxtract/internal/pdf"
)

var (
	extractOutputPath string
	extractMaxPages   int
	extractModel      string
	extractProvider   string
	extractQuality    string
	extractFormat     string
	extractTimeout    time.Duration
)

var extractCmd = &cobra.Command{
	Use:   "extract <pdf-or-image>",
	Short: "Extract Markdown from a PDF or image",
	Long: `Convert a PDF (or a single JPG/PNG image) to page images and transcribe each page
to Markdown with a vision model, one page at a time.

Ctrl+C aborts the page in flight and stops the run. The pages finished so far
are still written to the output file.`,
	Example: `  pdfxtract extract brochure.pdf
  pdfxtract extract --max-pages 0 --quality high -o out/specs.md brochure.pdf
  pdfxtract extract --provider gemini --model gemini-2.5-pro-preview-05-06 scan.png`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&extractOutputPath, "output", "o", "", "output Markdown file (default: <output_dir>/<input-name>.md)")
	extractCmd.Flags().IntVarP(&extractMaxPages, "max-pages", "m", -1, "maximum pages to process, 0 for all (default: ocr.max_pages)")
	extractCmd.Flags().StringVar(&extractModel, "model", "", "model selector (default: llm.model)")
	extractCmd.Flags().StringVar(&extractProvider, "provider", "", "completion provider: openrouter or gemini")
	extractCmd.Flags().StringVar(&extractQuality, "quality", "", "page image quality: high, medium or low")
	extractCmd.Flags().StringVar(&extractFormat, "format", "", "page image format: jpg or png")
	extractCmd.Flags().DurationVar(&extractTimeout, "page-timeout", 0, "abort a page after this long (0 disables)")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	inputPath := args[0]
	applyExtractFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg, true)

	ui.Section("PDF Extraction")
	ui.KeyValue("Input", inputPath)
	ui.KeyValue("Model", fmt.Sprintf("%s (%s)", cfg.LLM.Model, cfg.LLM.Provider))

	channel, closeStreamer, err := newChannel(ctx, cfg, logger)
	defer closeStreamer()
	if err != nil {
		return err
	}

	// Convert
	converter := pdf.NewConverter(pdf.Options{
		Quality:     cfg.Conversion.Quality,
		Format:      cfg.Conversion.Format,
		DPI:         cfg.Conversion.DPI,
		JPEGQuality: cfg.Conversion.JPEGQuality,
	}, logger)
	defer func() {
		if err := converter.Cleanup(); err != nil {
			logger.Warn().Err(err).Msg("Failed to clean up page images")
		}
	}()

	spinner := ui.NewSpinner("Converting document to page images...")
	spinner.Start()
	images, err := converter.Convert(ctx, inputPath)
	spinner.Stop()
	if err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}

	source, err := pdf.NewPageSource(images)
	if err != nil {
		return err
	}

	maxPages := cfg.OCR.MaxPages
	if cmd.Flags().Changed("max-pages") {
		if maxPages, err = resolveMaxPages(extractMaxPages, source.Len()); err != nil {
			return err
		}
	}

	runCfg := domain.RunConfig{Pages: source.Pages(), MaxPages: maxPages, Model: cfg.LLM.Model}
	ui.Success("Converted %d page(s)", source.Len())
	if runCfg.Total() < source.Len() {
		ui.Warning("Only the first %d of %d pages will be processed (use --max-pages 0 for all)", runCfg.Total(), source.Len())
	}
	ui.Newline()

	// Run
	events := make(chan domain.StreamEvent, cfg.OCR.EventBuffer)
	orch := extract.NewOrchestrator(channel, extract.Options{Events: events, Logger: logger})

	startTime := time.Now()
	if _, err := orch.Start(runCfg); err != nil {
		return fmt.Errorf("start extraction: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		renderEvents(events, orch, runCfg.Total())
		return nil
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			if err := orch.Cancel(); err != nil && !errors.Is(err, domain.ErrNotRunning) {
				return err
			}
		case <-orch.Done():
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// Export
	state := orch.State()
	progress := orch.Progress()
	dir, base := exportTarget(extractOutputPath, inputPath, cfg.Export.OutputDir)

	artifact, err := document.NewFileSink(dir).Export(context.Background(), orch.Snapshot(), base)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	ui.Newline()
	ui.Section("Extraction Summary")
	ui.Table([]string{"Metric", "Value"}, [][]string{
		{"Status", state.Phase.String()},
		{"Pages", fmt.Sprintf("%d / %d", progress.Current, progress.Total)},
		{"Duration", ui.FormatDuration(time.Since(startTime))},
		{"Output File", artifact.Path},
	})
	ui.Newline()

	switch state.Phase {
	case domain.PhaseCompleted:
		ui.Success("Markdown saved to: %s", artifact.Path)
		return nil
	case domain.PhaseCancelled:
		ui.Warning("Extraction cancelled; partial Markdown saved to: %s", artifact.Path)
		return nil
	default:
		ui.Error("Extraction failed: %s", state.Error)
		return domain.ExtractionError("Extraction failed", errors.New(state.Error))
	}
}

// applyExtractFlags overlays command flags on the loaded configuration.
func applyExtractFlags(cmd *cobra.Command) {
	if extractModel != "" {
		cfg.LLM.Model = extractModel
	}
	if extractProvider != "" {
		cfg.LLM.Provider = extractProvider
	}
	if extractQuality != "" {
		cfg.Conversion.Quality = extractQuality
	}
	if extractFormat != "" {
		cfg.Conversion.Format = extractFormat
	}
	if cmd.Flags().Changed("page-timeout") {
		cfg.LLM.PageTimeout = extractTimeout
	}
}

// renderEvents draws run events until the run is terminal and the event
// buffer is drained. A terminal event the buffer dropped is drawn from the
// orchestrator.
func renderEvents(events <-chan domain.StreamEvent, orch *extract.Orchestrator, total int) {
	var bar *ui.ProgressBar
	if !ui.Verbose() {
		bar = ui.NewProgressBar(int64(total), "Extracting")
	}

	handle := func(ev domain.StreamEvent) {
		switch ev.Type {
		case domain.EventPageProcessing:
			if bar != nil {
				bar.Describe(fmt.Sprintf("Page %d/%d", ev.PageNumber, total))
			} else {
				ui.Step("Processing page %d of %d", ev.PageNumber, total)
			}
		case domain.EventLLMStreaming:
			if bar == nil {
				if chunk, ok := ev.Payload.(string); ok {
					ui.Print(chunk)
				}
			}
		case domain.EventPageComplete:
			if bar != nil {
				bar.Set(int64(orch.Progress().Current))
			} else {
				ui.Newline()
				ui.Success("Page %d complete", ev.PageNumber)
			}
		case domain.EventPageFailed:
			if bar != nil {
				bar.Set(int64(orch.Progress().Current))
			}
			ui.Error("Page %d failed: %v", ev.PageNumber, ev.Payload)
		case domain.EventError:
			ui.Error("%v", ev.Payload)
		case domain.EventCancelled:
			ui.Warning("%v", ev.Payload)
		case domain.EventComplete:
			if bar != nil {
				bar.Finish()
			}
			ui.Success("%v", ev.Payload)
		}
	}

	sawTerminal := false
	for {
		select {
		case ev := <-events:
			sawTerminal = sawTerminal || ev.Type.Terminal()
			handle(ev)
		case <-orch.Done():
			for {
				select {
				case ev := <-events:
					sawTerminal = sawTerminal || ev.Type.Terminal()
					handle(ev)
				default:
					if !sawTerminal {
						if ev, ok := orch.TerminalEvent(); ok {
							handle(ev)
						}
					}
					return
				}
			}
		}
	}
}
