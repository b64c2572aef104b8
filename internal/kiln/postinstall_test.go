package kiln

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/syntax"
)

func qgisLauncher() Launcher {
	return Launcher{
		Path:  "/opt/kiln/cellar/qgis/1.8.0/bin/qgis",
		Var:   "PYTHONPATH",
		Value: "/opt/kiln/cellar/qgis/1.8.0/lib/python3.11/site-packages:/opt/kiln/opt/py-qt4/lib",
		Exec:  []string{"/opt/kiln/cellar/qgis/1.8.0/libexec/qgis", "--config dir"},
	}
}

func TestRenderLauncher(t *testing.T) {
	script, err := RenderLauncher(qgisLauncher())
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "launcher", script)

	_, err = syntax.NewParser(syntax.Variant(syntax.LangPOSIX)).Parse(bytes.NewReader(script), "qgis")
	require.NoError(t, err, "launcher must be valid POSIX sh")

	again, err := RenderLauncher(qgisLauncher())
	require.NoError(t, err)
	assert.Equal(t, script, again)
}

func TestRenderLauncher_Invalid(t *testing.T) {
	l := qgisLauncher()
	l.Var = "PYTHON PATH"
	_, err := RenderLauncher(l)
	require.Error(t, err)

	l = qgisLauncher()
	l.Exec = nil
	_, err = RenderLauncher(l)
	require.Error(t, err)
}

func TestWriteLauncher(t *testing.T) {
	dir := t.TempDir()
	l := qgisLauncher()
	l.Path = filepath.Join(dir, "bin", "qgis")

	p := &PostInstallLinker{Out: io.Discard}
	require.NoError(t, p.WriteLauncher(l))
	require.NoError(t, p.WriteLauncher(l))

	info, err := os.Stat(l.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	want, err := RenderLauncher(l)
	require.NoError(t, err)
	assert.Equal(t, string(want), readFile(t, l.Path))
}

func TestLink(t *testing.T) {
	p := &PostInstallLinker{Out: io.Discard}
	dir := t.TempDir()
	target := filepath.Join(dir, "cellar", "qgis", "1.8.0", "lib", "python", "qgis")
	dest := filepath.Join(dir, "lib", "python3.11", "site-packages", "qgis")

	require.NoError(t, p.Link(target, dest))
	got, err := os.Readlink(dest)
	require.NoError(t, err)
	assert.Equal(t, target, got)

	// relinking the same target is a no-op
	require.NoError(t, p.Link(target, dest))
}

func TestLink_TargetExists(t *testing.T) {
	p := &PostInstallLinker{Out: io.Discard}
	dir := t.TempDir()
	target := filepath.Join(dir, "cellar", "qgis")

	t.Run("regular file", func(t *testing.T) {
		dest := filepath.Join(dir, "file")
		writeFile(t, dest, "keep me")

		err := p.Link(target, dest)
		require.ErrorIs(t, err, ErrLinkTargetExists)
		var le *LinkTargetExistsError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, dest, le.Path)
		assert.Equal(t, "keep me", readFile(t, dest))
	})

	t.Run("symlink elsewhere", func(t *testing.T) {
		dest := filepath.Join(dir, "other")
		require.NoError(t, os.Symlink("/somewhere/else", dest))

		require.ErrorIs(t, p.Link(target, dest), ErrLinkTargetExists)
		got, err := os.Readlink(dest)
		require.NoError(t, err)
		assert.Equal(t, "/somewhere/else", got)
	})

	t.Run("directory", func(t *testing.T) {
		dest := filepath.Join(dir, "site-packages")
		require.NoError(t, os.MkdirAll(filepath.Join(dest, "qgis"), 0o755))

		require.ErrorIs(t, p.Link(target, dest), ErrLinkTargetExists)
		assert.DirExists(t, filepath.Join(dest, "qgis"))
	})
}
