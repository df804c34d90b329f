package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/neozhu/pdfxtract/internal/domain"
	"github.com/neozhu/pdfxtract/internal/observability"
)

// GeminiClient streams OCR output from the Gemini API.
type GeminiClient struct {
	client     *genai.Client
	model      string
	httpClient *http.Client
	logger     *observability.Logger
}

// NewGeminiClient creates a Gemini streamer. Extra options are passed to the
// underlying genai client.
func NewGeminiClient(ctx context.Context, apiKey, model string, logger *observability.Logger, opts ...option.ClientOption) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, domain.ConfigError("GEMINI_API_KEY not set", nil)
	}
	if model == "" {
		model = defaultModel
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	cl, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, domain.ConfigError("Failed to create Gemini client", err)
	}

	return &GeminiClient{
		client:     cl,
		model:      model,
		httpClient: &http.Client{},
		logger:     logger,
	}, nil
}

// Close releases the underlying client.
func (g *GeminiClient) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Stream sends page to Gemini and streams the extracted markdown.
func (g *GeminiClient) Stream(ctx context.Context, page domain.PageRef, model string, chunks chan<- string) error {
	if model == "" {
		model = g.model
	}
	name, err := GeminiModel(model)
	if err != nil {
		return domain.APIError("Unsupported model", err)
	}

	img, err := loadImage(ctx, g.httpClient, page.URI, true)
	if err != nil {
		return domain.APIError("Failed to load page image", err)
	}

	g.logger.Debug().
		Int("page", page.Index+1).
		Str("model", name).
		Int("image_bytes", len(img.Data)).
		Msg("Sending Gemini request")

	m := g.client.GenerativeModel(name)
	iter := m.GenerateContentStream(ctx,
		genai.Text(buildPrompt()),
		genai.ImageData(strings.TrimPrefix(img.MIMEType, "image/"), img.Data),
	)

	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.APIError("Gemini stream failed", err)
		}

		for _, text := range responseText(resp) {
			select {
			case chunks <- text:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func responseText(resp *genai.GenerateContentResponse) []string {
	var out []string
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok && t != "" {
			out = append(out, string(t))
		}
	}
	return out
}

var _ Streamer = (*GeminiClient)(nil)
