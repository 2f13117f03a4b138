package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/octree/typst-render/internal/logging"
)

// statusClientClosedRequest is the non-standard status recorded when the
// client disconnects before a response is written.
const statusClientClosedRequest = 499

// StatusFor maps a failure kind to its HTTP status.
func StatusFor(kind ErrorKind) int {
	switch kind {
	case KindInvalidArchive, KindEntrypointNotFound:
		return http.StatusBadRequest
	case KindUploadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindEngineUnavailable, KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case KindCompilationTimeout:
		return http.StatusGatewayTimeout
	case KindStorageFetchFailed:
		return http.StatusBadGateway
	case KindCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorBody maps any pipeline error to a status and a structured body.
func errorBody(err error) (int, ErrorResponse) {
	var inputErr *InputError
	var compileErr *CompileError
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.As(err, &inputErr):
		return http.StatusBadRequest, ErrorResponse{
			Error:     inputErr.Message,
			Field:     inputErr.Field,
			Supported: inputErr.Supported,
		}
	case errors.As(err, &compileErr):
		return StatusFor(compileErr.Kind), ErrorResponse{
			Error:   compileErr.Message,
			Hint:    compileErr.Hint,
			Details: compileErr.Detail,
		}
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: fmt.Sprintf("Upload exceeds the %d byte limit", maxBytesErr.Limit),
		}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"}
	}
}

// writeError renders err as JSON and logs it at a level matching its status.
func writeError(c *gin.Context, err error) {
	status, body := errorBody(err)
	body.RequestID = requestID(c)

	switch {
	case status == statusClientClosedRequest:
		logging.Info("Request canceled by client", "path", c.Request.URL.Path, "request_id", body.RequestID)
	case status >= http.StatusInternalServerError:
		logging.Error("Request failed", "path", c.Request.URL.Path, "status", status, "request_id", body.RequestID, "error", err)
	default:
		logging.Warn("Request rejected", "path", c.Request.URL.Path, "status", status, "request_id", body.RequestID, "error", err.Error())
	}
	c.AbortWithStatusJSON(status, body)
}

// writeArtifact sends a rendered artifact as a download.
func writeArtifact(c *gin.Context, a *Artifact, started time.Time) {
	sum := sha256.Sum256(a.Data)
	durationMs := time.Since(started).Milliseconds()

	c.Header("X-Compile-Request-Id", requestID(c))
	c.Header("X-Compile-Duration-Ms", strconv.FormatInt(durationMs, 10))
	c.Header("X-Compile-Sha256", hex.EncodeToString(sum[:]))
	c.Header("X-Compile-Pages", strconv.Itoa(a.Pages))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Format.Filename()))

	logging.Info("Render succeeded",
		"request_id", requestID(c),
		"format", string(a.Format),
		"bytes", len(a.Data),
		"pages", a.Pages,
		"duration_ms", durationMs,
	)
	c.Data(http.StatusOK, a.Format.ContentType(), a.Data)
}
