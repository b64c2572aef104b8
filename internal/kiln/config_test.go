package kiln

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearKilnEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TMPDIR", "KILN_CACHE_DIR", "KILN_PREFIX", "KILN_CELLAR", "KILN_OPT_DIR", "KILN_JOBS",
		"KILN_DEBUG", "KILN_VERBOSE", "KILN_KEEP_WORKDIR", "KILN_IDLE",
		"R2_ACCOUNT_ID", "R2_ACCESS_KEY_ID", "R2_SECRET_ACCESS_KEY", "R2_BUCKET_NAME",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearKilnEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.conf"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp", cfg.TmpDir)
	assert.Equal(t, "/var/cache/kiln", cfg.CacheDir)
	assert.Equal(t, "/var/cache/kiln/sources", cfg.SourcesDir)
	assert.Equal(t, "/var/cache/kiln/logs", cfg.LogDir)
	assert.Equal(t, "/opt/kiln", cfg.Prefix)
	assert.Equal(t, "/opt/kiln/cellar", cfg.Cellar)
	assert.Equal(t, "/opt/kiln/opt", cfg.OptDir)
	assert.GreaterOrEqual(t, cfg.Jobs, 1)
	assert.False(t, cfg.Debug)
	assert.False(t, cfg.KeepWorkDir)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	clearKilnEnv(t)

	path := filepath.Join(t.TempDir(), "kiln.conf")
	writeFile(t, path, `# kiln settings
KILN_PREFIX="/usr/local/kiln"
KILN_CACHE_DIR=/srv/kiln
KILN_JOBS=3
KILN_DEBUG=1
KILN_IDLE=1
R2_BUCKET_NAME='sources'
`)
	t.Setenv("KILN_JOBS", "12")
	t.Setenv("KILN_KEEP_WORKDIR", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/kiln", cfg.Prefix)
	assert.Equal(t, "/usr/local/kiln/cellar", cfg.Cellar)
	assert.Equal(t, "/srv/kiln/sources", cfg.SourcesDir)
	assert.Equal(t, 12, cfg.Jobs, "environment wins over the file")
	assert.True(t, cfg.Debug)
	assert.True(t, cfg.KeepWorkDir)
	assert.True(t, cfg.IdleBuild)
	assert.Equal(t, "sources", cfg.R2BucketName)
}

func TestNewR2Client_Unconfigured(t *testing.T) {
	client, err := NewR2Client(t.Context(), &Config{})
	require.NoError(t, err)
	assert.Nil(t, client)

	_, err = NewR2Client(t.Context(), &Config{R2BucketName: "sources"})
	require.Error(t, err)
}

func TestOptLocator(t *testing.T) {
	opt := t.TempDir()
	writeFile(t, filepath.Join(opt, "gdal", "include", "gdal.h"), "")

	l := OptLocator{OptDir: opt}
	p, err := l.Locate("gdal")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(opt, "gdal"), p)

	_, err = l.Locate("grass")
	require.ErrorIs(t, err, ErrDependencyMissing)
}
