package internal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/octree/typst-render/internal/config"
	"github.com/octree/typst-render/internal/logging"
)

const (
	ServiceName = "typst-render"
	Version     = "2.0.0"
)

// Service exposes the render pipeline to the router. It is built once at
// startup and shared by every request.
type Service struct {
	workspaces     *WorkspaceManager
	compiler       *Compiler
	archives       ArchiveSource
	maxUploadBytes int64
}

// NewService wires the pipeline. archives may be nil.
func NewService(cfg config.Config, engine Engine, archives ArchiveSource) *Service {
	return &Service{
		workspaces:     NewWorkspaceManager(cfg.Workspace.TempRoot, cfg.Limits.MaxExtractedBytes),
		compiler:       NewCompiler(engine, cfg.Engine.Timeout, cfg.Engine.FontsTimeout),
		archives:       archives,
		maxUploadBytes: cfg.Limits.MaxUploadBytes,
	}
}

// IndexHandler reports service identity.
func (s *Service) IndexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, IndexResponse{
		Service:  ServiceName,
		Status:   "running",
		Version:  Version,
		Compiler: s.compiler.EngineName(),
	})
}

// HealthHandler probes the engine with a trivial compile.
func (s *Service) HealthHandler(c *gin.Context) {
	if err := s.compiler.Health(c.Request.Context()); err != nil {
		logging.Warn("Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Compiler: s.compiler.EngineName()})
}

// FontsHandler lists font families visible to the engine.
func (s *Service) FontsHandler(c *gin.Context) {
	fonts, err := s.compiler.Fonts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, FontsResponse{Fonts: fonts, Count: len(fonts)})
}

// renderRequest is a validated /render request.
type renderRequest struct {
	upload      *multipart.FileHeader
	storagePath string
	entrypoint  string
	opts        CompileOptions
}

// RenderHandler renders a ZIP project, uploaded or fetched from storage.
func (s *Service) RenderHandler(c *gin.Context) {
	started := time.Now()

	req, err := s.parseRenderRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}

	archive, err := s.openArchive(c, req)
	if err != nil {
		writeError(c, err)
		return
	}
	defer archive.Close()

	ws, err := s.workspaces.Acquire()
	if err != nil {
		writeError(c, newCompileError(KindInternal, err, "Failed to create workspace"))
		return
	}
	defer ws.Release()

	if err := ws.Extract(archive); err != nil {
		writeError(c, err)
		return
	}

	artifact, err := s.compiler.CompileWorkspace(c.Request.Context(), ws, req.entrypoint, req.opts)
	if err != nil {
		writeError(c, err)
		return
	}
	writeArtifact(c, artifact, started)
}

// parseRenderRequest validates every /render field before any filesystem work.
func (s *Service) parseRenderRequest(c *gin.Context) (renderRequest, error) {
	var req renderRequest

	upload, err := c.FormFile("file")
	switch {
	case err == nil:
		if upload.Filename == "" {
			return req, invalidInput("file", "", "Empty filename")
		}
		req.upload = upload
	case isBodyTooLarge(err):
		return req, s.uploadTooLarge()
	default:
		req.storagePath = c.PostForm("storage_path")
		if req.storagePath == "" {
			return req, invalidInput("file", "", "No file uploaded")
		}
		if !isSafeRelativePath(req.storagePath) {
			return req, invalidInput("storage_path", req.storagePath, "Invalid storage path")
		}
	}

	if req.entrypoint, err = ValidateEntrypoint(c.PostForm("entrypoint")); err != nil {
		return req, err
	}

	req.opts, err = rawOptions{
		Format:    c.PostForm("format"),
		PPI:       c.PostForm("ppi"),
		SysInputs: c.PostForm("sys_inputs"),
	}.parse()
	return req, err
}

// openArchive returns a reader over the uploaded or remote archive.
func (s *Service) openArchive(c *gin.Context, req renderRequest) (io.ReadCloser, error) {
	if req.upload != nil {
		f, err := req.upload.Open()
		if err != nil {
			return nil, newCompileError(KindInternal, err, "Failed to read upload")
		}
		return f, nil
	}

	if s.archives == nil {
		return nil, &CompileError{
			Kind:    KindStorageUnavailable,
			Message: "Remote archive storage is not configured",
			Hint:    "Upload the archive in the file field or configure SUPABASE_URL and SUPABASE_KEY",
		}
	}
	data, err := s.archives.Fetch(c.Request.Context(), req.storagePath)
	if err != nil {
		return nil, newCompileError(KindStorageFetchFailed, err, "Failed to fetch archive %s", req.storagePath)
	}
	if int64(len(data)) > s.maxUploadBytes {
		return nil, s.uploadTooLarge()
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// RenderRawHandler renders a single in-memory document.
func (s *Service) RenderRawHandler(c *gin.Context) {
	started := time.Now()

	var sr sourceRequest
	if isJSONRequest(c) {
		var body RawRenderRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			if isBodyTooLarge(err) {
				writeError(c, s.uploadTooLarge())
				return
			}
			writeError(c, invalidInput("body", "", "Invalid JSON body"))
			return
		}
		sr = jsonSourceRequest{Body: body}
	} else {
		if err := parseFormBody(c); err != nil {
			if isBodyTooLarge(err) {
				writeError(c, s.uploadTooLarge())
				return
			}
			writeError(c, invalidInput("body", "", "Invalid form body"))
			return
		}
		sr = formSourceRequest{
			Source: c.PostForm("source"),
			rawOptions: rawOptions{
				Format:    c.PostForm("format"),
				PPI:       c.PostForm("ppi"),
				SysInputs: c.PostForm("sys_inputs"),
			},
		}
	}

	source, opts, err := sr.parse()
	if err != nil {
		writeError(c, err)
		return
	}

	artifact, err := s.compiler.CompileSource(c.Request.Context(), []byte(source), opts)
	if err != nil {
		writeError(c, err)
		return
	}
	writeArtifact(c, artifact, started)
}

// parseFormBody parses the request body up front so read failures surface
// here instead of being swallowed by c.PostForm.
func parseFormBody(c *gin.Context) error {
	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		_, err := c.MultipartForm()
		return err
	}
	return c.Request.ParseForm()
}

func isJSONRequest(c *gin.Context) bool {
	ct := c.ContentType()
	return ct == gin.MIMEJSON || strings.HasSuffix(ct, "+json")
}

func (s *Service) uploadTooLarge() *CompileError {
	return &CompileError{
		Kind:    KindUploadTooLarge,
		Message: fmt.Sprintf("Upload exceeds the %d byte limit", s.maxUploadBytes),
	}
}

// isBodyTooLarge detects a tripped body limit. The multipart reader does not
// always wrap the underlying *http.MaxBytesError, so the message is checked too.
func isBodyTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr) || strings.Contains(err.Error(), "request body too large")
}
