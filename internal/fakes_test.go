package internal

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/octree/typst-render/internal/logging"
)

// fakeEngine records every request and answers from canned results.
type fakeEngine struct {
	mu    sync.Mutex
	calls []EngineRequest
	// inputs holds the entrypoint contents seen at compile time.
	inputs [][]byte

	pages    [][]byte
	err      error
	fonts    []string
	fontsErr error
	// block makes Compile wait for the context to end.
	block bool
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Compile(ctx context.Context, req EngineRequest) ([][]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	if req.InputPath != "" {
		data, _ := os.ReadFile(req.InputPath)
		f.inputs = append(f.inputs, data)
	}
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.pages != nil {
		return f.pages, nil
	}
	return defaultPages(req.Format), nil
}

func (f *fakeEngine) Fonts(ctx context.Context) ([]string, error) {
	return f.fonts, f.fontsErr
}

func (f *fakeEngine) lastCall(t *testing.T) EngineRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls, "engine was never called")
	return f.calls[len(f.calls)-1]
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func defaultPages(format Format) [][]byte {
	switch format {
	case FormatPNG:
		return [][]byte{[]byte("\x89PNG\r\n\x1a\npage1"), []byte("\x89PNG\r\n\x1a\npage2")}
	case FormatSVG:
		return [][]byte{[]byte(`<svg xmlns="http://www.w3.org/2000/svg"/>`)}
	default:
		return [][]byte{[]byte("%PDF-1.7\nfake document")}
	}
}

// fakeArchives serves archives from memory.
type fakeArchives struct {
	objects map[string][]byte
	err     error
}

func (f *fakeArchives) Fetch(ctx context.Context, key string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

// buildZip returns an archive holding files in the given order.
func buildZip(t *testing.T, files ...zipFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.name)
		require.NoError(t, err)
		_, err = w.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type zipFile struct {
	name string
	body string
}

func silenceLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	logging.SetLoggerForTest(zerolog.New(buf).Level(zerolog.DebugLevel))
	t.Cleanup(func() { logging.SetLoggerForTest(zerolog.New(os.Stdout)) })
	return buf
}
