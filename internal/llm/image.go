package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const maxImageBytes = 20 * 1024 * 1024

// pageImage is a page image ready to attach to a completion request. Either
// URL (remote, passed through) or Data is set.
type pageImage struct {
	MIMEType string
	Data     []byte
	URL      string
}

// DataURL returns the value for an image_url content part.
func (p *pageImage) DataURL() string {
	if p.URL != "" {
		return p.URL
	}
	return "data:" + p.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// loadImage resolves a page URI. Local paths, file:// and data: URIs are read
// into memory; http(s) URLs are passed through unless fetch is set.
func loadImage(ctx context.Context, client *http.Client, uri string, fetch bool) (*pageImage, error) {
	switch {
	case strings.HasPrefix(uri, "data:"):
		return decodeDataURI(uri)

	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		if !fetch {
			return &pageImage{URL: uri, MIMEType: mimeFromExt(uri)}, nil
		}
		return fetchImage(ctx, client, uri)

	case strings.HasPrefix(uri, "file://"):
		u, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("invalid file URI %q: %w", uri, err)
		}
		return readImageFile(u.Path)

	default:
		return readImageFile(uri)
	}
}

func readImageFile(path string) (*pageImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return &pageImage{MIMEType: mimeFromExt(path), Data: data}, nil
}

func fetchImage(ctx context.Context, client *http.Client, uri string) (*pageImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image body: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	mimeType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = mimeFromExt(uri)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	return &pageImage{MIMEType: mimeType, Data: data}, nil
}

func decodeDataURI(uri string) (*pageImage, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("unsupported data URI: expected base64 payload")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	mimeType := strings.TrimSuffix(header, ";base64")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return &pageImage{MIMEType: mimeType, Data: data}, nil
}

func mimeFromExt(path string) string {
	if u, err := url.Parse(path); err == nil && u.Path != "" {
		path = u.Path
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
