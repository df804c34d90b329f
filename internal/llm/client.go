package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/neozhu/pdfxtract/internal/domain"
	"github.com/neozhu/pdfxtract/internal/observability"
)

const (
	openRouterURL = "https://openrouter.ai/api/v1/chat/completions"
	defaultModel  = "gemini-2.5-flash-preview-05-20"
)

// Streamer streams the OCR text of one page image into chunks. It returns
// once the stream has finished or failed.
type Streamer interface {
	Stream(ctx context.Context, page domain.PageRef, model string, chunks chan<- string) error
}

// Client handles communication with an OpenAI-compatible chat completions
// endpoint (OpenRouter by default).
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	retry      *RetryConfig
	logger     *observability.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the chat completions endpoint.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(rc *RetryConfig) ClientOption {
	return func(c *Client) {
		if rc != nil {
			c.retry = rc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *observability.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL string `json:"url"`
}

// Request represents the API request structure
type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Response represents the API response structure
type Response struct {
	ID      string         `json:"id"`
	Choices []Choice       `json:"choices"`
	Error   *ResponseError `json:"error,omitempty"`
}

// ResponseError is an error reported inside a stream.
type ResponseError struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

// Choice represents a single completion choice
type Choice struct {
	Delta        Delta  `json:"delta"`
	Message      Delta  `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// Delta represents a message delta in streaming response
type Delta struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// NewClient creates a new LLM client
func NewClient(apiKey, model string, opts ...ClientOption) *Client {
	if model == "" {
		model = defaultModel
	}

	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    openRouterURL,
		httpClient: &http.Client{},
		retry:      DefaultRetryConfig(),
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream sends page to the model and streams the extracted markdown
func (c *Client) Stream(ctx context.Context, page domain.PageRef, model string, chunks chan<- string) error {
	req, err := c.buildRequest(ctx, page, model)
	if err != nil {
		return domain.APIError("Failed to build request", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return domain.APIError("Failed to marshal request", err)
	}

	c.logger.Debug().
		Int("page", page.Index+1).
		Str("model", req.Model).
		Int("body_bytes", len(body)).
		Msg("Sending completion request")

	resp, err := c.retryWithBackoff(ctx, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("HTTP-Referer", "https://github.com/neozhu/pdfxtract")
		httpReq.Header.Set("X-Title", "pdfxtract")

		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.APIError("Failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.APIError(fmt.Sprintf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes))), nil)
	}

	if err := NewStreamParser(resp.Body).ParseAll(ctx, chunks); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.APIError("Failed to parse stream", err)
	}
	return nil
}

// buildRequest constructs the API request with the page image
func (c *Client) buildRequest(ctx context.Context, page domain.PageRef, model string) (*Request, error) {
	img, err := loadImage(ctx, c.httpClient, page.URI, false)
	if err != nil {
		return nil, err
	}

	if model == "" {
		model = c.model
	}

	msg := Message{
		Role: "user",
		Content: []ContentPart{
			{
				Type: "text",
				Text: buildPrompt(),
			},
			{
				Type: "image_url",
				ImageURL: &ImageURL{
					URL: img.DataURL(),
				},
			},
		},
	}

	return &Request{
		Model:    OpenRouterModel(model),
		Messages: []Message{msg},
		Stream:   true,
	}, nil
}

var _ Streamer = (*Client)(nil)
