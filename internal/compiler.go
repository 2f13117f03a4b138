package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/octree/typst-render/internal/logging"
)

const (
	MaxLogChars  = 5000
	LogTailLines = 80

	healthProbeSource = "ok"
)

// Compiler turns validated options into engine invocations and normalizes
// what comes back. It holds no per-request state.
type Compiler struct {
	engine       Engine
	timeout      time.Duration
	fontsTimeout time.Duration
}

func NewCompiler(engine Engine, timeout, fontsTimeout time.Duration) *Compiler {
	return &Compiler{engine: engine, timeout: timeout, fontsTimeout: fontsTimeout}
}

// EngineName identifies the wrapped engine.
func (c *Compiler) EngineName() string {
	return c.engine.Name()
}

// CompileWorkspace compiles entrypoint, already validated as a safe relative
// path, with the workspace as the import root.
func (c *Compiler) CompileWorkspace(ctx context.Context, ws *Workspace, entrypoint string, opts CompileOptions) (*Artifact, error) {
	input, err := ws.Resolve(entrypoint)
	if err != nil {
		return nil, err
	}
	req := engineRequest(opts)
	req.InputPath = input
	req.Root = ws.Dir
	return c.invoke(ctx, req)
}

// CompileSource compiles a self-contained document held in memory.
func (c *Compiler) CompileSource(ctx context.Context, source []byte, opts CompileOptions) (*Artifact, error) {
	req := engineRequest(opts)
	req.Source = source
	return c.invoke(ctx, req)
}

func engineRequest(opts CompileOptions) EngineRequest {
	req := EngineRequest{Format: opts.Format}
	if opts.Format == FormatPNG {
		req.PPI = opts.PPI
	}
	if len(opts.SysInputs) > 0 {
		req.Inputs = opts.SysInputs
	}
	return req
}

func (c *Compiler) invoke(ctx context.Context, req EngineRequest) (*Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pages, err := c.engine.Compile(ctx, req)
	if err != nil {
		return nil, c.translate(err)
	}
	if len(pages) == 0 {
		return nil, &CompileError{Kind: KindEmptyOutput, Message: "Compilation produced no output"}
	}
	// Multi-page PNG/SVG collapses to the first page.
	return &Artifact{Format: req.Format, Data: pages[0], Pages: len(pages)}, nil
}

// translate converts an engine failure into a CompileError. It is the only
// place engine errors are interpreted.
func (c *Compiler) translate(err error) *CompileError {
	var engineErr *EngineError
	switch {
	case errors.Is(err, ErrEngineUnavailable):
		return &CompileError{
			Kind:    KindEngineUnavailable,
			Message: "Typst engine is not available",
			Hint:    "Install the typst CLI or point TYPST_BINARY at it",
			Err:     err,
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &CompileError{
			Kind:    KindCompilationTimeout,
			Message: fmt.Sprintf("Compilation timed out after %s", c.timeout),
			Err:     err,
		}
	case errors.Is(err, context.Canceled):
		return &CompileError{Kind: KindCanceled, Message: "Request canceled", Err: err}
	case errors.Is(err, ErrEngineIO):
		// Detail stays empty: the wrapped error names server paths.
		return &CompileError{Kind: KindInternal, Message: "Failed to prepare compiler output", Err: err}
	case errors.As(err, &engineErr):
		logging.Warn("Typst rejected document", "diagnostic", tailLines(truncateText(engineErr.Diagnostic, MaxLogChars), LogTailLines))
		return &CompileError{
			Kind:    KindCompilationFailed,
			Message: "Typst compilation failed",
			Detail:  engineErr.Error(),
			Err:     err,
		}
	default:
		return &CompileError{
			Kind:    KindCompilationFailed,
			Message: "Typst compilation failed",
			Detail:  err.Error(),
			Err:     err,
		}
	}
}

// Health compiles a trivial document to prove the engine works.
func (c *Compiler) Health(ctx context.Context) error {
	_, err := c.CompileSource(ctx, []byte(healthProbeSource), CompileOptions{Format: FormatPDF, PPI: DefaultPPI})
	return err
}

// Fonts lists the font families the engine can see.
func (c *Compiler) Fonts(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fontsTimeout)
	defer cancel()

	fonts, err := c.engine.Fonts(ctx)
	if err != nil {
		if errors.Is(err, ErrEngineUnavailable) {
			return nil, &CompileError{
				Kind:    KindEngineUnavailable,
				Message: "Font listing requires the Typst CLI binary",
				Hint:    "Install the typst CLI or use the Docker image",
				Err:     err,
			}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &CompileError{Kind: KindCompilationTimeout, Message: "Font listing timed out", Err: err}
		}
		if errors.Is(err, context.Canceled) {
			return nil, &CompileError{Kind: KindCanceled, Message: "Request canceled", Err: err}
		}
		return nil, &CompileError{Kind: KindInternal, Message: "Failed to list fonts", Err: err}
	}
	if fonts == nil {
		fonts = []string{}
	}
	return fonts, nil
}
