package internal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/octree/typst-render/internal/logging"
)

const (
	defaultTypstBinary = "typst"
	typstEngineName    = "typst-cli"

	// waitDelay bounds how long a killed typst may hold its output pipes open.
	waitDelay = 5 * time.Second
)

// EngineRequest is one compile invocation. Exactly one of InputPath and
// Source is set.
type EngineRequest struct {
	InputPath string
	Source    []byte
	// Root bounds relative imports; empty for in-memory sources.
	Root   string
	Format Format
	// PPI is zero unless it should be passed to the engine.
	PPI    float64
	Inputs map[string]string
}

// Engine is the typesetting capability the service wraps.
type Engine interface {
	Name() string
	// Compile returns one payload per rendered page, or a single payload for
	// formats that hold every page.
	Compile(ctx context.Context, req EngineRequest) ([][]byte, error)
	Fonts(ctx context.Context) ([]string, error)
}

// TypstCLI runs the typst binary as a subprocess.
type TypstCLI struct {
	Binary    string
	FontPaths []string
	// ScratchRoot holds per-invocation output directories. Empty means os.TempDir().
	ScratchRoot string
}

func (t *TypstCLI) Name() string {
	return typstEngineName
}

func (t *TypstCLI) binary() string {
	if t.Binary == "" {
		return defaultTypstBinary
	}
	return t.Binary
}

// Compile runs `typst compile`, writing pages into a scratch directory that
// is removed before returning.
func (t *TypstCLI) Compile(ctx context.Context, req EngineRequest) ([][]byte, error) {
	if t.ScratchRoot != "" {
		if err := os.MkdirAll(t.ScratchRoot, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create scratch root: %v", ErrEngineIO, err)
		}
	}
	outDir, err := os.MkdirTemp(t.ScratchRoot, "typst-out-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create output directory: %v", ErrEngineIO, err)
	}
	defer os.RemoveAll(outDir)

	args := t.compileArgs(req, outputPattern(outDir, req.Format))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.binary(), args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	if req.Root != "" {
		cmd.Dir = req.Root
	} else {
		cmd.Dir = outDir
	}
	if req.InputPath == "" {
		cmd.Stdin = bytes.NewReader(req.Source)
	}

	logging.Debug("Running typst", "binary", t.binary(), "args", strings.Join(args, " "))

	if err := cmd.Run(); err != nil {
		return nil, classifyRunError(ctx, err, stdout.String(), stderr.String())
	}
	return collectPages(outDir, req.Format)
}

func (t *TypstCLI) compileArgs(req EngineRequest, output string) []string {
	args := []string{"compile"}
	if req.Root != "" {
		args = append(args, "--root", req.Root)
	}
	args = append(args, "--format", string(req.Format))
	if req.Format == FormatPNG && req.PPI > 0 {
		args = append(args, "--ppi", strconv.FormatFloat(req.PPI, 'f', -1, 64))
	}

	keys := make([]string, 0, len(req.Inputs))
	for k := range req.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--input", k+"="+req.Inputs[k])
	}

	for _, p := range t.FontPaths {
		args = append(args, "--font-path", p)
	}

	input := req.InputPath
	if input == "" {
		input = "-"
	}
	return append(args, input, output)
}

// outputPattern uses typst's {p} page placeholder for per-page formats.
func outputPattern(dir string, format Format) string {
	if format == FormatPDF {
		return filepath.Join(dir, "output.pdf")
	}
	return filepath.Join(dir, "page-{p}."+string(format))
}

// collectPages reads rendered pages in page order.
func collectPages(dir string, format Format) ([][]byte, error) {
	if format == FormatPDF {
		data, err := os.ReadFile(filepath.Join(dir, "output.pdf"))
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read output: %v", ErrEngineIO, err)
		}
		return [][]byte{data}, nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, "page-*."+string(format)))
	if err != nil {
		return nil, fmt.Errorf("%w: list pages: %v", ErrEngineIO, err)
	}
	type page struct {
		n    int
		path string
	}
	pages := make([]page, 0, len(matches))
	for _, m := range matches {
		num := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), "page-"), "."+string(format))
		n, err := strconv.Atoi(num)
		if err != nil {
			continue
		}
		pages = append(pages, page{n: n, path: m})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })

	out := make([][]byte, 0, len(pages))
	for _, p := range pages {
		data, err := os.ReadFile(p.path)
		if err != nil {
			return nil, fmt.Errorf("%w: read page %d: %v", ErrEngineIO, p.n, err)
		}
		out = append(out, data)
	}
	return out, nil
}

// Fonts runs `typst fonts` and returns one family name per line.
func (t *TypstCLI) Fonts(ctx context.Context) ([]string, error) {
	args := []string{"fonts"}
	for _, p := range t.FontPaths {
		args = append(args, "--font-path", p)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.binary(), args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	if err := cmd.Run(); err != nil {
		return nil, classifyRunError(ctx, err, stdout.String(), stderr.String())
	}

	var fonts []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		if name := strings.TrimSpace(line); name != "" {
			fonts = append(fonts, name)
		}
	}
	return fonts, nil
}

// classifyRunError maps a failed subprocess to ErrEngineUnavailable, a
// deadline error, or an EngineError holding the diagnostic text verbatim.
func classifyRunError(ctx context.Context, err error, stdout, stderr string) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("typst interrupted: %w", ctxErr)
	}
	diagnostic := strings.TrimSpace(stderr)
	if diagnostic == "" {
		diagnostic = strings.TrimSpace(stdout)
	}
	return &EngineError{Diagnostic: diagnostic, Err: err}
}
