package internal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"github.com/octree/typst-render/internal/logging"
)

// WorkspaceManager hands out isolated per-request directories under one root.
type WorkspaceManager struct {
	root              string
	maxExtractedBytes int64
}

// NewWorkspaceManager returns a manager rooted at root (os.TempDir() when
// empty) that refuses archives expanding beyond maxExtractedBytes.
func NewWorkspaceManager(root string, maxExtractedBytes int64) *WorkspaceManager {
	if root == "" {
		root = os.TempDir()
	}
	return &WorkspaceManager{root: root, maxExtractedBytes: maxExtractedBytes}
}

// Root is the parent directory of all workspaces.
func (m *WorkspaceManager) Root() string {
	return m.root
}

// Workspace is a directory owned by exactly one request.
type Workspace struct {
	ID  string
	Dir string

	maxExtractedBytes int64
	releaseOnce       sync.Once
}

// Acquire creates a fresh, uniquely named workspace directory.
func (m *WorkspaceManager) Acquire() (*Workspace, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, fmt.Errorf("create temp root %s: %w", m.root, err)
	}
	id := uuid.NewString()
	dir := filepath.Join(m.root, id)
	// Mkdir, not MkdirAll: an existing directory means an id collision.
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", id, err)
	}
	return &Workspace{ID: id, Dir: dir, maxExtractedBytes: m.maxExtractedBytes}, nil
}

// Release removes the workspace and everything in it. It is safe to call on a
// nil or partially created workspace, and more than once.
func (w *Workspace) Release() {
	if w == nil || w.Dir == "" {
		return
	}
	w.releaseOnce.Do(func() {
		if err := os.RemoveAll(w.Dir); err != nil {
			logging.Error("Failed to remove workspace", "workspace", w.ID, "error", err)
			return
		}
		logging.Debug("Workspace released", "workspace", w.ID)
	})
}

func (w *Workspace) stagingPath() string {
	return filepath.Join(w.Dir, ".upload-"+w.ID+".zip")
}

// Extract stages the archive stream inside the workspace and expands it into
// the workspace root. Malformed or unsafe archives fail with KindInvalidArchive.
func (w *Workspace) Extract(archive io.Reader) error {
	staging := w.stagingPath()
	if err := writeStagingFile(staging, archive); err != nil {
		return newCompileError(KindInternal, err, "Failed to save upload")
	}
	defer os.Remove(staging)

	zr, err := zip.OpenReader(staging)
	if err != nil {
		return &CompileError{Kind: KindInvalidArchive, Message: "Invalid zip file", Err: err}
	}
	defer zr.Close()

	var written int64
	for _, f := range zr.File {
		n, err := w.extractEntry(f, w.maxExtractedBytes-written)
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

func writeStagingFile(path string, r io.Reader) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// extractEntry writes one archive entry, refusing to write more than budget
// bytes. It returns the number of bytes written.
func (w *Workspace) extractEntry(f *zip.File, budget int64) (int64, error) {
	target, ok := w.entryTarget(f.Name)
	if !ok {
		return 0, &CompileError{
			Kind:    KindInvalidArchive,
			Message: "Invalid zip file",
			Detail:  fmt.Sprintf("entry %q escapes the archive root", f.Name),
		}
	}

	mode := f.Mode()
	if mode.IsDir() {
		return 0, mkdirEntry(target)
	}
	if !mode.IsRegular() {
		logging.Warn("Skipping non-regular archive entry", "workspace", w.ID, "entry", f.Name)
		return 0, nil
	}
	if f.UncompressedSize64 > uint64(budget) {
		return 0, archiveTooLarge(w.maxExtractedBytes)
	}
	if err := mkdirEntry(filepath.Dir(target)); err != nil {
		return 0, err
	}

	rc, err := f.Open()
	if err != nil {
		return 0, &CompileError{Kind: KindInvalidArchive, Message: "Invalid zip file", Err: err}
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, newCompileError(KindInternal, err, "Failed to extract %s", f.Name)
	}
	// Read one byte past the budget to catch entries whose header understates their size.
	n, copyErr := io.Copy(out, io.LimitReader(rc, budget+1))
	closeErr := out.Close()
	switch {
	case copyErr != nil:
		return n, &CompileError{Kind: KindInvalidArchive, Message: "Invalid zip file", Err: copyErr}
	case n > budget:
		return n, archiveTooLarge(w.maxExtractedBytes)
	case closeErr != nil:
		return n, newCompileError(KindInternal, closeErr, "Failed to extract %s", f.Name)
	}
	return n, nil
}

// entryTarget maps an archive entry name to a path inside the workspace.
func (w *Workspace) entryTarget(name string) (string, bool) {
	name = strings.ReplaceAll(name, `\`, "/")
	if name == "" || strings.HasPrefix(name, "/") || strings.ContainsRune(name, 0) {
		return "", false
	}
	target := filepath.Join(w.Dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(w.Dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

func mkdirEntry(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newCompileError(KindInternal, err, "Failed to create directory")
	}
	return nil
}

func archiveTooLarge(limit int64) *CompileError {
	return &CompileError{
		Kind:    KindInvalidArchive,
		Message: "Invalid zip file",
		Detail:  fmt.Sprintf("archive expands beyond %d bytes", limit),
	}
}

// Resolve returns the absolute path of a validated relative entrypoint and
// checks that it exists as a file inside the workspace.
func (w *Workspace) Resolve(entrypoint string) (string, error) {
	notFound := &CompileError{
		Kind:    KindEntrypointNotFound,
		Message: "Entrypoint not found: " + entrypoint,
		Hint:    "Ensure the .typ file exists at the root of the ZIP archive",
	}
	target, ok := w.entryTarget(entrypoint)
	if !ok {
		return "", notFound
	}
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		return "", notFound
	}
	return target, nil
}
