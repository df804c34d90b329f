package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/neozhu/pdfxtract/internal/config"
	"github.com/neozhu/pdfxtract/internal/llm"
	"github.com/neozhu/pdfxtract/internal/observability"
)

// newLogger builds the command logger. Interactive commands stay quiet
// unless --verbose is set so log lines do not break the progress bar.
func newLogger(c *config.Config, interactive bool) *observability.Logger {
	level := c.Observability.LogLevel
	switch {
	case verbose:
		level = "debug"
	case interactive:
		level = "warn"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      c.Observability.LogFormat,
		ServiceName: c.Observability.ServiceName,
	})
}

// newStreamer builds the completion backend for the configured provider.
// The returned close func is never nil.
func newStreamer(ctx context.Context, c *config.Config, logger *observability.Logger) (llm.Streamer, func(), error) {
	apiKey, err := c.APIKey()
	if err != nil {
		return nil, func() {}, err
	}

	switch c.LLM.Provider {
	case "gemini":
		g, err := llm.NewGeminiClient(ctx, apiKey, c.LLM.Model, logger)
		if err != nil {
			return nil, func() {}, err
		}
		return g, func() { _ = g.Close() }, nil
	default:
		client := llm.NewClient(apiKey, c.LLM.Model,
			llm.WithBaseURL(c.LLM.BaseURL),
			llm.WithRetryConfig(&llm.RetryConfig{
				MaxRetries:     c.LLM.MaxRetries,
				InitialBackoff: c.LLM.RetryBackoff,
				MaxBackoff:     c.LLM.RetryMaxDelay,
			}),
			llm.WithLogger(logger),
		)
		return client, func() {}, nil
	}
}

// newChannel wraps the configured backend in a completion channel.
func newChannel(ctx context.Context, c *config.Config, logger *observability.Logger) (*llm.Channel, func(), error) {
	streamer, closeFn, err := newStreamer(ctx, c, logger)
	if err != nil {
		return nil, closeFn, err
	}
	ch := llm.NewChannel(streamer, llm.ChannelOptions{
		PageTimeout: c.LLM.PageTimeout,
		BufferSize:  c.LLM.StreamBuffer,
	}, logger)
	return ch, closeFn, nil
}

// resolveMaxPages maps the --max-pages flag to a run cap. Zero means every
// page; a negative value is rejected.
func resolveMaxPages(flag, pageCount int) (int, error) {
	switch {
	case flag < 0:
		return 0, fmt.Errorf("--max-pages must not be negative, got %d", flag)
	case flag == 0:
		return pageCount, nil
	default:
		return flag, nil
	}
}

// exportTarget returns the directory and base name the export sink writes
// to. An explicit output path wins over the configured directory.
func exportTarget(output, input, defaultDir string) (dir, base string) {
	if output != "" {
		return filepath.Dir(output), filepath.Base(output)
	}
	return defaultDir, input
}
