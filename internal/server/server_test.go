package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neozhu/pdfxtract/internal/config"
	"github.com/neozhu/pdfxtract/internal/domain"
	"github.com/neozhu/pdfxtract/internal/extract"
	"github.com/neozhu/pdfxtract/internal/observability"
)

// echoChannel settles every page with its file name as markdown, unless hold
// is set, in which case calls stay in flight until cancelled.
type echoChannel struct {
	hold bool
}

func (c *echoChannel) Invoke(ctx context.Context, page domain.PageRef, model string) (*domain.Subscription, error) {
	chunks := make(chan string, 1)
	result := make(chan domain.PageResult, 1)
	go func() {
		if c.hold {
			<-ctx.Done()
			close(chunks)
			result <- domain.PageResult{Index: page.Index, Failed: true, ErrorMessage: "cancelled"}
			return
		}
		close(chunks)
		result <- domain.PageResult{Index: page.Index, Markdown: "text of " + filepath.Base(page.URI)}
	}()
	return &domain.Subscription{Chunks: chunks, Result: result}, nil
}

func (c *echoChannel) CancelActive() {}

func newTestRouter(t *testing.T, ch domain.CompletionChannel) (http.Handler, *extract.Orchestrator) {
	t.Helper()
	orch := extract.NewOrchestrator(ch, extract.Options{})
	router := NewRouter(observability.NopLogger(), orch, RouterConfig{
		RequestTimeout:  5 * time.Second,
		DefaultMaxPages: 3,
		DefaultModel:    "gemini-2.5-flash-preview-05-20",
		PageDir:         t.TempDir(),
	})
	return router, orch
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func wait(t *testing.T, orch *extract.Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := orch.Wait(ctx)
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	h, _ := newTestRouter(t, &echoChannel{})

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestStartRunAppliesDefaultCap(t *testing.T) {
	h, orch := newTestRouter(t, &echoChannel{})

	rec := do(t, h, http.MethodPost, "/api/v1/runs", `{"pages":["a.jpg","b.jpg","c.jpg","d.jpg","e.jpg"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var run RunDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, 3, run.Progress.Total)

	wait(t, orch)

	rec = do(t, h, http.MethodGet, "/api/v1/runs/current/progress", "")
	var progress domain.Progress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &progress))
	assert.Equal(t, domain.Progress{Current: 3, Total: 3, Percent: 100}, progress)

	rec = do(t, h, http.MethodGet, "/api/v1/runs/current", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "completed", run.Phase)
}

func TestStartRunValidation(t *testing.T) {
	h, _ := newTestRouter(t, &echoChannel{})

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed", body: `{"pages":`},
		{name: "no pages", body: `{"pages":[]}`},
		{name: "blank page", body: `{"pages":["a.jpg"," "]}`},
		{name: "negative cap", body: `{"pages":["a.jpg"],"maxPages":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/runs", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestStartRunRejectsPathsOutsidePageDir(t *testing.T) {
	h, orch := newTestRouter(t, &echoChannel{})

	tests := []struct {
		name string
		page string
	}{
		{name: "absolute system file", page: "/etc/passwd"},
		{name: "file URI", page: "file:///etc/passwd"},
		{name: "traversal", page: "../../etc/passwd"},
		{name: "image outside dir", page: "/tmp/elsewhere/scan.png"},
		{name: "image traversal", page: "../outside.png"},
		{name: "other scheme", page: "ftp://host/scan.png"},
		{name: "non-image data URI", page: "data:text/plain;base64,aGk="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := json.Marshal(StartRunRequestDTO{Pages: []string{tt.page}})
			require.NoError(t, err)

			rec := do(t, h, http.MethodPost, "/api/v1/runs", string(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, domain.PhaseIdle, orch.State().Phase)
}

func TestStartRunLocalPathsDisabledWithoutPageDir(t *testing.T) {
	orch := extract.NewOrchestrator(&echoChannel{}, extract.Options{})
	h := NewRouter(observability.NopLogger(), orch, RouterConfig{})

	rec := do(t, h, http.MethodPost, "/api/v1/runs", `{"pages":["scan.png"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/runs", `{"pages":["https://img.test/scan.png"]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestResolvePage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scan.png"), []byte("png"), 0o644))

	got, err := resolvePage("scan.png", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scan.png"), got)

	got, err = resolvePage("file://"+filepath.Join(dir, "scan.png"), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scan.png"), got)

	got, err = resolvePage("https://img.test/a.jpg", "")
	require.NoError(t, err)
	assert.Equal(t, "https://img.test/a.jpg", got)

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.png"), []byte("png"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.png"), filepath.Join(dir, "link.png")))
	_, err = resolvePage("link.png", dir)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))

	_, err = resolvePage("notes.txt", dir)
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestStartWhileRunningConflicts(t *testing.T) {
	h, orch := newTestRouter(t, &echoChannel{hold: true})

	rec := do(t, h, http.MethodPost, "/api/v1/runs", `{"pages":["a.jpg"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/runs", `{"pages":["b.jpg"]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/runs/current/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var run RunDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, "cancelled", run.Phase)
	assert.Equal(t, domain.PhaseCancelled, orch.State().Phase)

	rec = do(t, h, http.MethodPost, "/api/v1/runs/current/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDocumentAndExport(t *testing.T) {
	h, orch := newTestRouter(t, &echoChannel{})

	rec := do(t, h, http.MethodPost, "/api/v1/runs", `{"pages":["a.jpg","b.jpg"],"maxPages":5}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	wait(t, orch)

	rec = do(t, h, http.MethodGet, "/api/v1/runs/current/document", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text of a.jpg\n\ntext of b.jpg", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/runs/current/document?format=html", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<p>text of a.jpg</p>")

	rec = do(t, h, http.MethodGet, "/api/v1/runs/current/document?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/runs/current/export?name=reports/Q3%20report.pdf", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="Q3 report.md"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "text of a.jpg\n\ntext of b.jpg", rec.Body.String())
}

func TestExportWithoutRun(t *testing.T) {
	h, _ := newTestRouter(t, &echoChannel{})

	rec := do(t, h, http.MethodGet, "/api/v1/runs/current/export", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/runs/current", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"phase":"idle"`)
}

func TestListModels(t *testing.T) {
	h, _ := newTestRouter(t, &echoChannel{})

	rec := do(t, h, http.MethodGet, "/api/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Models []struct {
			ID       string `json:"id"`
			Provider string `json:"provider"`
		} `json:"models"`
		Default string `json:"default"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Models, 4)
	assert.Equal(t, "gemini-2.5-flash-preview-05-20", body.Default)
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestRouter(t, &echoChannel{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/runs", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerRunShutsDown(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ShutdownPeriod = time.Second

	srv := New(cfg, extract.NewOrchestrator(&echoChannel{}, extract.Options{}), nil)
	assert.Equal(t, "127.0.0.1:0", srv.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
