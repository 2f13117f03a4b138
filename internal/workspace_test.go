package internal

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T, maxExtracted int64) (*WorkspaceManager, *Workspace) {
	t.Helper()
	silenceLogs(t)
	mgr := NewWorkspaceManager(t.TempDir(), maxExtracted)
	ws, err := mgr.Acquire()
	require.NoError(t, err)
	t.Cleanup(ws.Release)
	return mgr, ws
}

func TestAcquireCreatesUniqueDirectories(t *testing.T) {
	mgr := NewWorkspaceManager(t.TempDir(), 1<<20)

	a, err := mgr.Acquire()
	require.NoError(t, err)
	b, err := mgr.Acquire()
	require.NoError(t, err)
	defer a.Release()
	defer b.Release()

	assert.NotEqual(t, a.Dir, b.Dir)
	assert.Equal(t, mgr.Root(), filepath.Dir(a.Dir))
	assert.DirExists(t, a.Dir)
	assert.DirExists(t, b.Dir)
}

func TestNewWorkspaceManagerDefaultsToTempDir(t *testing.T) {
	assert.Equal(t, os.TempDir(), NewWorkspaceManager("", 1).Root())
}

func TestReleaseRemovesEverything(t *testing.T) {
	silenceLogs(t)
	mgr := NewWorkspaceManager(t.TempDir(), 1<<20)
	ws, err := mgr.Acquire()
	require.NoError(t, err)

	require.NoError(t, ws.Extract(bytes.NewReader(buildZip(t,
		zipFile{"main.typ", "= Title"},
		zipFile{"chapters/one.typ", "body"},
	))))

	ws.Release()
	ws.Release()
	assert.NoDirExists(t, ws.Dir)

	entries, err := os.ReadDir(mgr.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReleaseNilWorkspace(t *testing.T) {
	var ws *Workspace
	assert.NotPanics(t, func() { ws.Release() })
	assert.NotPanics(t, func() { (&Workspace{}).Release() })
}

func TestExtractPreservesLayout(t *testing.T) {
	_, ws := newTestWorkspace(t, 1<<20)

	require.NoError(t, ws.Extract(bytes.NewReader(buildZip(t,
		zipFile{"main.typ", `#include "chapters/one.typ"`},
		zipFile{"chapters/", ""},
		zipFile{"chapters/one.typ", "chapter one"},
		zipFile{"assets/logo.svg", "<svg/>"},
	))))

	data, err := os.ReadFile(filepath.Join(ws.Dir, "chapters", "one.typ"))
	require.NoError(t, err)
	assert.Equal(t, "chapter one", string(data))
	assert.FileExists(t, filepath.Join(ws.Dir, "assets", "logo.svg"))

	// The staged upload does not survive extraction.
	entries, err := os.ReadDir(ws.Dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".upload-"), e.Name())
	}
}

func TestExtractRejectsInvalidArchive(t *testing.T) {
	_, ws := newTestWorkspace(t, 1<<20)

	err := ws.Extract(strings.NewReader("definitely not a zip"))
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, KindInvalidArchive, compileErr.Kind)
	assert.Equal(t, "Invalid zip file", compileErr.Message)
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	for _, name := range []string{"../evil.typ", "nested/../../evil.typ", "/abs/evil.typ"} {
		t.Run(name, func(t *testing.T) {
			mgr, ws := newTestWorkspace(t, 1<<20)

			err := ws.Extract(bytes.NewReader(buildZip(t, zipFile{name, "pwned"})))
			var compileErr *CompileError
			require.ErrorAs(t, err, &compileErr)
			assert.Equal(t, KindInvalidArchive, compileErr.Kind)
			assert.NoFileExists(t, filepath.Join(filepath.Dir(mgr.Root()), "evil.typ"))
			assert.NoFileExists(t, filepath.Join(mgr.Root(), "evil.typ"))
		})
	}
}

func TestExtractEnforcesSizeBudget(t *testing.T) {
	_, ws := newTestWorkspace(t, 16)

	err := ws.Extract(bytes.NewReader(buildZip(t,
		zipFile{"main.typ", "0123456789"},
		zipFile{"big.typ", "0123456789"},
	)))
	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, KindInvalidArchive, compileErr.Kind)
	assert.Contains(t, compileErr.Detail, "16 bytes")
}

func TestResolve(t *testing.T) {
	_, ws := newTestWorkspace(t, 1<<20)
	require.NoError(t, ws.Extract(bytes.NewReader(buildZip(t,
		zipFile{"main.typ", "= Main"},
		zipFile{"docs/report.typ", "= Report"},
		zipFile{"docs/inner/", ""},
	))))

	path, err := ws.Resolve("main.typ")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Dir, "main.typ"), path)

	path, err = ws.Resolve("docs/report.typ")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Dir, "docs", "report.typ"), path)

	for _, missing := range []string{"other.typ", "docs/inner", "../main.typ"} {
		_, err := ws.Resolve(missing)
		var compileErr *CompileError
		require.ErrorAs(t, err, &compileErr, missing)
		assert.Equal(t, KindEntrypointNotFound, compileErr.Kind)
		assert.Equal(t, "Entrypoint not found: "+missing, compileErr.Message)
		assert.Equal(t, "Ensure the .typ file exists at the root of the ZIP archive", compileErr.Hint)
	}
}
