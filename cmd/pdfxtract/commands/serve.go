package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/neozhu/pdfxtract/cmd/pdfxtract/ui"
	"github.com/neozhu/pdfxtract/internal/extract"
	"github.com/neozhu/pdfxtract/internal/server"
)

var (
	serveHost    string
	servePort    int
	servePageDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the extraction API. A client posts page image URIs to /api/v1/runs,
polls /api/v1/runs/current/progress, and downloads the Markdown from
/api/v1/runs/current/export. Pages are http(s) or data:image URIs; local
image paths are accepted only inside --page-dir.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (default: server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default: server.port)")
	serveCmd.Flags().StringVar(&servePageDir, "page-dir", "", "directory local page paths may reference (default: server.page_dir)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if servePageDir != "" {
		cfg.Server.PageDir = servePageDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg, false)

	channel, closeStreamer, err := newChannel(ctx, cfg, logger)
	defer closeStreamer()
	if err != nil {
		return err
	}

	orch := extract.NewOrchestrator(channel, extract.Options{Logger: logger})

	ui.Section("pdfxtract API")
	ui.KeyValue("Listening", "http://"+cfg.Addr())
	ui.KeyValue("Model", fmt.Sprintf("%s (%s)", cfg.LLM.Model, cfg.LLM.Provider))
	ui.KeyValue("Page cap", fmt.Sprint(cfg.OCR.MaxPages))
	if cfg.Server.PageDir != "" {
		ui.KeyValue("Page dir", cfg.Server.PageDir)
	}
	ui.Newline()

	logger.Info().
		Str("addr", cfg.Addr()).
		Str("provider", cfg.LLM.Provider).
		Str("model", cfg.LLM.Model).
		Int("max_pages", cfg.OCR.MaxPages).
		Str("page_dir", cfg.Server.PageDir).
		Msg("Starting pdfxtract API")

	return server.New(cfg, orch, logger).Run(ctx)
}
