package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/neozhu/pdfxtract/internal/document"
	"github.com/neozhu/pdfxtract/internal/domain"
	"github.com/neozhu/pdfxtract/internal/llm"
	"github.com/neozhu/pdfxtract/internal/observability"
	"github.com/neozhu/pdfxtract/internal/pdf"
)

// RunHandler handles run requests.
type RunHandler struct {
	logger          *observability.Logger
	runner          Runner
	defaultMaxPages int
	defaultModel    string
	pageDir         string
}

// NewRunHandler creates a new run handler.
func NewRunHandler(logger *observability.Logger, runner Runner, defaultMaxPages int, defaultModel string) *RunHandler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RunHandler{
		logger:          logger,
		runner:          runner,
		defaultMaxPages: defaultMaxPages,
		defaultModel:    defaultModel,
	}
}

// StartRunRequestDTO represents the API request for starting a run.
type StartRunRequestDTO struct {
	Pages    []string `json:"pages"`
	MaxPages int      `json:"maxPages,omitempty"`
	Model    string   `json:"model,omitempty"`
}

// RunDTO represents a run in API responses.
type RunDTO struct {
	ID       string          `json:"id,omitempty"`
	Phase    string          `json:"phase"`
	Current  int             `json:"currentIndex"`
	Error    string          `json:"error,omitempty"`
	Progress domain.Progress `json:"progress"`
}

// Start handles POST /runs.
func (h *RunHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	pages := make([]string, len(req.Pages))
	for i, uri := range req.Pages {
		resolved, err := resolvePage(uri, h.pageDir)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		pages[i] = resolved
	}

	source, err := domain.NewPageSource(pages)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	maxPages := req.MaxPages
	if maxPages == 0 {
		maxPages = h.defaultMaxPages
	}
	if maxPages == 0 {
		maxPages = source.Len()
	}
	model := req.Model
	if model == "" {
		model = h.defaultModel
	}

	id, err := h.runner.Start(domain.RunConfig{
		Pages:    source.Pages(),
		MaxPages: maxPages,
		Model:    model,
	})
	if err != nil && id == "" {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info().
		Str("run_id", id).
		Int("pages", source.Len()).
		Int("max_pages", maxPages).
		Str("model", model).
		Msg("Run started via API")

	h.writeJSON(w, http.StatusAccepted, h.current())
}

// Current handles GET /runs/current.
func (h *RunHandler) Current(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.current())
}

// Cancel handles POST /runs/current/cancel.
func (h *RunHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Cancel(); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.current())
}

// Progress handles GET /runs/current/progress.
func (h *RunHandler) Progress(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.runner.Progress())
}

// Document handles GET /runs/current/document. The snapshot is returned as
// Markdown, or rendered to HTML with ?format=html.
func (h *RunHandler) Document(w http.ResponseWriter, r *http.Request) {
	snapshot := h.runner.Snapshot()

	switch r.URL.Query().Get("format") {
	case "", "md", "markdown":
		w.Header().Set("Content-Type", document.MarkdownContentType)
		w.Write([]byte(snapshot))
	case "html":
		html, err := document.RenderHTML(snapshot)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, "failed to render document", err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(html))
	default:
		h.writeError(w, http.StatusBadRequest, "unsupported format", r.URL.Query().Get("format"))
	}
}

// Export handles GET /runs/current/export?name=<source>. The snapshot is
// downloaded as <source base>.md, whether the run is finished or not.
func (h *RunHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h.runner.RunID() == "" {
		h.writeError(w, http.StatusNotFound, "no run to export", "")
		return
	}

	artifact := document.NewArtifact(h.runner.Snapshot(), r.URL.Query().Get("name"))

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(artifact.Data)
}

// ListModels handles GET /models.
func (h *RunHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"models":  llm.Models,
		"default": h.defaultModel,
	})
}

func (h *RunHandler) current() RunDTO {
	state := h.runner.State()
	return RunDTO{
		ID:       h.runner.RunID(),
		Phase:    state.Phase.String(),
		Current:  state.CurrentIndex,
		Error:    state.Error,
		Progress: h.runner.Progress(),
	}
}

func (h *RunHandler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsType(err, domain.ErrorTypeValidation):
		h.writeError(w, http.StatusBadRequest, "invalid run request", err.Error())
	case errors.Is(err, domain.ErrRunInProgress), errors.Is(err, domain.ErrNotRunning):
		h.writeError(w, http.StatusConflict, "run state conflict", err.Error())
	default:
		h.logger.Error().Err(err).Msg("Run request failed")
		h.writeError(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func (h *RunHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *RunHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	json.NewEncoder(w).Encode(resp)
}

// resolvePage vets a page URI supplied by an API client. Remote and inline
// image URIs pass through unchanged. Local paths and file:// URIs must name
// an image inside pageDir and are returned as absolute paths; relative paths
// resolve against pageDir.
func resolvePage(uri, pageDir string) (string, error) {
	trimmed := strings.TrimSpace(uri)
	switch {
	case trimmed == "":
		return uri, nil
	case strings.HasPrefix(trimmed, "http://"), strings.HasPrefix(trimmed, "https://"),
		strings.HasPrefix(trimmed, "data:image/"):
		return uri, nil
	}

	path := trimmed
	if strings.HasPrefix(trimmed, "file://") {
		u, err := url.Parse(trimmed)
		if err != nil || u.Path == "" {
			return "", domain.ValidationError(fmt.Sprintf("invalid page URI %q", uri), err)
		}
		path = u.Path
	} else if strings.Contains(trimmed, "://") || strings.HasPrefix(trimmed, "data:") {
		return "", domain.ValidationError(fmt.Sprintf("unsupported page URI %q", uri), nil)
	}

	if pageDir == "" {
		return "", domain.ValidationError("local page paths are disabled on this server", nil)
	}
	if !pdf.IsImage(path) {
		return "", domain.ValidationError(fmt.Sprintf("page %q is not an image", uri), nil)
	}

	root, err := filepath.Abs(pageDir)
	if err != nil {
		return "", domain.ValidationError("invalid page directory", err)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	path = filepath.Clean(path)
	if !within(root, path) {
		return "", domain.ValidationError(fmt.Sprintf("page %q is outside the page directory", uri), nil)
	}

	// Symlinks inside the directory must not lead out of it.
	if real, err := filepath.EvalSymlinks(path); err == nil {
		realRoot, rerr := filepath.EvalSymlinks(root)
		if rerr != nil || !within(realRoot, real) {
			return "", domain.ValidationError(fmt.Sprintf("page %q is outside the page directory", uri), nil)
		}
	}
	return path, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
