package extractor

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neozhu/pdfxtract/internal/domain"
)

// scriptChannel settles each page with a fixed transcription streamed as
// chunks pieces (one when zero), or holds the call open until it is
// cancelled.
type scriptChannel struct {
	text   string
	chunks int
	hold   bool
}

func (c *scriptChannel) Invoke(ctx context.Context, page PageRef, model string) (*Subscription, error) {
	chunks := make(chan string, 1)
	result := make(chan PageResult, 1)
	go func() {
		defer close(result)
		if c.hold {
			<-ctx.Done()
			close(chunks)
			result <- PageResult{Index: page.Index, Failed: true, ErrorMessage: "cancelled"}
			return
		}
		n := c.chunks
		if n == 0 {
			n = 1
		}
		var sb strings.Builder
		for i := 0; i < n; i++ {
			chunks <- c.text
			sb.WriteString(c.text)
		}
		close(chunks)
		result <- PageResult{Index: page.Index, Markdown: sb.String()}
	}()
	return &Subscription{Chunks: chunks, Result: result}, nil
}

func (c *scriptChannel) CancelActive() {}

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "receipt.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, 20, 30))))
	require.NoError(t, f.Close())
	return path
}

func collect(t *testing.T, events <-chan StreamEvent) []EventType {
	t.Helper()
	var types []EventType
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return types
			}
			types = append(types, ev.Type)
		case <-timeout:
			t.Fatal("event stream was not closed")
		}
	}
}

func TestNewClientWithConfig(t *testing.T) {
	_, err := NewClientWithConfig(&Config{})
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))

	_, err = NewClientWithConfig(&Config{APIKey: "k", Provider: "carrier-pigeon"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))

	c, err := NewClientWithConfig(&Config{APIKey: "k"})
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}

func TestProcessImage(t *testing.T) {
	c := NewClientWithChannel(&scriptChannel{text: "# Total\n\n42"}, &Config{})
	defer c.Close()

	events, err := c.Process(context.Background(), writeImage(t))
	require.NoError(t, err)

	types := collect(t, events)
	require.NotEmpty(t, types)
	assert.Equal(t, EventStart, types[0])
	assert.Equal(t, EventComplete, types[len(types)-1])
	assert.Contains(t, types, EventPageComplete)

	state, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCompleted, state.Phase)
	assert.Equal(t, Progress{Current: 1, Total: 1, Percent: 100}, c.Progress())
	assert.Equal(t, "# Total\n\n42", c.Markdown())

	artifact, err := c.Export(context.Background(), t.TempDir(), "scans/receipt.png")
	require.NoError(t, err)
	assert.Equal(t, "receipt.md", filepath.Base(artifact.Path))

	data, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, "# Total\n\n42", string(data))
}

func TestProcessCancelledByContext(t *testing.T) {
	c := NewClientWithChannel(&scriptChannel{hold: true}, &Config{})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events, err := c.Process(ctx, writeImage(t))
	require.NoError(t, err)

	cancel()
	types := collect(t, events)
	assert.Contains(t, types, EventCancelled)

	state, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCancelled, state.Phase)
	assert.Empty(t, c.Markdown())
}

func TestProcessWhileRunning(t *testing.T) {
	c := NewClientWithChannel(&scriptChannel{hold: true}, &Config{})
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := writeImage(t)

	_, err := c.Process(ctx, path)
	require.NoError(t, err)

	_, err = c.Process(ctx, path)
	assert.ErrorIs(t, err, domain.ErrRunInProgress)
}

func TestProcessMissingFile(t *testing.T) {
	c := NewClientWithChannel(&scriptChannel{}, &Config{})
	defer c.Close()

	_, err := c.Process(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"))
	assert.True(t, domain.IsType(err, domain.ErrorTypeValidation))
}

func TestProcessDeliversCompleteToLateReader(t *testing.T) {
	c := NewClientWithChannel(&scriptChannel{text: "word ", chunks: 400}, &Config{})
	defer c.Close()

	events, err := c.Process(context.Background(), writeImage(t))
	require.NoError(t, err)

	state, err := c.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.PhaseCompleted, state.Phase)

	types := collect(t, events)
	require.NotEmpty(t, types)
	assert.Equal(t, EventComplete, types[len(types)-1])
	assert.Equal(t, strings.Repeat("word ", 400), c.Markdown())
}

func TestProcessStreamsAreIsolatedPerRun(t *testing.T) {
	c := NewClientWithChannel(&scriptChannel{text: "word ", chunks: 300}, &Config{})
	defer c.Close()
	path := writeImage(t)

	// The first stream is never read.
	_, err := c.Process(context.Background(), path)
	require.NoError(t, err)
	_, err = c.Wait(context.Background())
	require.NoError(t, err)

	events, err := c.Process(context.Background(), path)
	require.NoError(t, err)

	var last StreamEvent
	runIDs := map[string]int{}
	timeout := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case ev, ok := <-events:
			if !ok {
				open = false
				continue
			}
			runIDs[ev.RunID]++
			last = ev
		case <-timeout:
			t.Fatal("event stream was not closed")
		}
	}

	assert.Len(t, runIDs, 1, "second stream only carries its own run")
	assert.Equal(t, EventComplete, last.Type)
}

func TestCloseEndsAbandonedStream(t *testing.T) {
	c := NewClientWithChannel(&scriptChannel{hold: true}, &Config{})

	events, err := c.Process(context.Background(), writeImage(t))
	require.NoError(t, err)

	require.NoError(t, c.Close())
	collect(t, events)

	state, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCancelled, state.Phase)
}
