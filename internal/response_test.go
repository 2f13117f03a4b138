package internal

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	tests := map[ErrorKind]int{
		KindInvalidArchive:     http.StatusBadRequest,
		KindEntrypointNotFound: http.StatusBadRequest,
		KindUploadTooLarge:     http.StatusRequestEntityTooLarge,
		KindCompilationFailed:  http.StatusInternalServerError,
		KindEmptyOutput:        http.StatusInternalServerError,
		KindInternal:           http.StatusInternalServerError,
		KindEngineUnavailable:  http.StatusServiceUnavailable,
		KindStorageUnavailable: http.StatusServiceUnavailable,
		KindCompilationTimeout: http.StatusGatewayTimeout,
		KindStorageFetchFailed: http.StatusBadGateway,
		KindCanceled:           499,
	}
	for kind, want := range tests {
		assert.Equal(t, want, StatusFor(kind), kind.String())
	}
}

func TestErrorBody(t *testing.T) {
	t.Run("input error", func(t *testing.T) {
		_, err := ParseFormat("exe")
		status, body := errorBody(err)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Unsupported format: exe", body.Error)
		assert.Equal(t, "format", body.Field)
		assert.Equal(t, SupportedFormats, body.Supported)
	})

	t.Run("wrapped compile error", func(t *testing.T) {
		err := fmt.Errorf("render: %w", &CompileError{
			Kind:    KindCompilationFailed,
			Message: "Typst compilation failed",
			Detail:  "error: unexpected end of file",
		})
		status, body := errorBody(err)
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, "Typst compilation failed", body.Error)
		assert.Equal(t, "error: unexpected end of file", body.Details)
	})

	t.Run("entrypoint not found carries hint", func(t *testing.T) {
		status, body := errorBody(&CompileError{Kind: KindEntrypointNotFound, Message: "Entrypoint not found: main.typ", Hint: "check the archive"})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "check the archive", body.Hint)
	})

	t.Run("body limit", func(t *testing.T) {
		status, body := errorBody(&http.MaxBytesError{Limit: 1024})
		assert.Equal(t, http.StatusRequestEntityTooLarge, status)
		assert.Contains(t, body.Error, "1024")
	})

	t.Run("unknown error hides internals", func(t *testing.T) {
		status, body := errorBody(errors.New("open /secret/path: permission denied"))
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, "Internal server error", body.Error)
		assert.Empty(t, body.Details)
	})
}

func TestFormatMetadata(t *testing.T) {
	assert.Equal(t, "application/pdf", FormatPDF.ContentType())
	assert.Equal(t, "image/png", FormatPNG.ContentType())
	assert.Equal(t, "image/svg+xml", FormatSVG.ContentType())
	assert.Equal(t, "output.svg", FormatSVG.Filename())
}

func TestTruncateAndTail(t *testing.T) {
	assert.Equal(t, "world", truncateText("hello world", 5))
	assert.Equal(t, "short", truncateText("short", 10))
	assert.Equal(t, "b\nc", tailLines("a\nb\nc", 2))
	assert.Equal(t, "", tailLines("", 2))
}
