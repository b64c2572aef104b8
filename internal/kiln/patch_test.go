package kiln

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sipBuildConfig = `# generated by configure
INSTALLBASE = /old/path
PYTHON = /usr/bin/python3
default_bin_dir = '/usr/bin'
default_sip_dir = '/usr/share/sip'
`

func TestPatchFile_ReplacesOnlyMatchingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Makefile")
	writeFile(t, path, sipBuildConfig)

	rules := []PatchRule{{Match: `^INSTALLBASE\s*=.*$`, Replace: "INSTALLBASE=/new/path"}}
	require.NoError(t, PatchFile(path, rules))

	want := `# generated by configure
INSTALLBASE=/new/path
PYTHON = /usr/bin/python3
default_bin_dir = '/usr/bin'
default_sip_dir = '/usr/share/sip'
`
	assert.Equal(t, want, readFile(t, path))
}

func TestPatchFile_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "siputils.py")
	writeFile(t, path, sipBuildConfig)

	rules := []PatchRule{
		{Match: `^INSTALLBASE\s*=.*$`, Replace: "INSTALLBASE=/new/path"},
		{Match: `^default_bin_dir = .*$`, Replace: "default_bin_dir = '/staged/bin'"},
	}
	require.NoError(t, CheckIdempotent(sipBuildConfig, rules))

	require.NoError(t, PatchFile(path, rules))
	once := readFile(t, path)
	info, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, PatchFile(path, rules))
	assert.Equal(t, once, readFile(t, path))

	// unchanged content is not rewritten
	again, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, os.SameFile(info, again))
}

func TestCheckIdempotent_DetectsGrowingRule(t *testing.T) {
	rules := []PatchRule{{Match: `^(PYTHON = .*)$`, Replace: "${1} -E"}}
	err := CheckIdempotent(sipBuildConfig, rules)
	require.Error(t, err)
}

func TestApplyRules_Order(t *testing.T) {
	rules := []PatchRule{
		{Match: `^A$`, Replace: "B"},
		{Match: `^B$`, Replace: "C"},
	}
	got, err := ApplyRules("A\nB\n", rules)
	require.NoError(t, err)
	assert.Equal(t, "C\nC\n", got)
}

func TestPatchFile_Failures(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		err := PatchFile(filepath.Join(dir, "absent.cfg"), []PatchRule{{Match: "x", Replace: "y"}})
		require.ErrorIs(t, err, ErrPatchFailed)

		var pe *PatchError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, filepath.Join(dir, "absent.cfg"), pe.Path)
	})

	t.Run("bad pattern leaves file untouched", func(t *testing.T) {
		path := filepath.Join(dir, "Makefile")
		writeFile(t, path, sipBuildConfig)

		err := PatchFile(path, []PatchRule{
			{Match: `^INSTALLBASE`, Replace: "X"},
			{Match: `([`, Replace: "Y"},
		})
		require.ErrorIs(t, err, ErrPatchFailed)
		assert.Equal(t, sipBuildConfig, readFile(t, path))
	})
}

func TestPatchFile_KeepsMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configure.py")
	writeFile(t, path, sipBuildConfig)
	require.NoError(t, os.Chmod(path, 0o750))

	require.NoError(t, PatchFile(path, []PatchRule{{Match: `^PYTHON = .*$`, Replace: "PYTHON = /opt/python"}}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
