package kiln

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the settings from /etc/kiln.conf and the environment.
type Config struct {
	TmpDir      string
	CacheDir    string
	SourcesDir  string
	LogDir      string
	Prefix      string // shared prefix
	Cellar      string
	OptDir      string
	Jobs        int
	Debug       bool
	Verbose     bool
	KeepWorkDir bool
	IdleBuild   bool // run build tools under nice -n 19

	R2AccountID  string
	R2AccessKey  string
	R2SecretKey  string
	R2BucketName string
}

// LoadConfig reads the KEY=VALUE file at path and applies environment
// overrides. A missing file is not an error; every key has a default.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("TMPDIR", "/tmp")
	v.SetDefault("KILN_CACHE_DIR", "/var/cache/kiln")
	v.SetDefault("KILN_PREFIX", "/opt/kiln")
	v.SetDefault("KILN_JOBS", runtime.NumCPU())
	v.SetDefault("KILN_DEBUG", false)
	v.SetDefault("KILN_VERBOSE", false)
	v.SetDefault("KILN_KEEP_WORKDIR", false)
	v.SetDefault("KILN_IDLE", false)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	get := func(key string) string {
		return strings.Trim(strings.TrimSpace(v.GetString(key)), `"'`)
	}

	cfg := &Config{
		TmpDir:      get("TMPDIR"),
		CacheDir:    get("KILN_CACHE_DIR"),
		Prefix:      get("KILN_PREFIX"),
		Cellar:      get("KILN_CELLAR"),
		OptDir:      get("KILN_OPT_DIR"),
		Jobs:        v.GetInt("KILN_JOBS"),
		Debug:       v.GetBool("KILN_DEBUG"),
		Verbose:     v.GetBool("KILN_VERBOSE"),
		KeepWorkDir: v.GetBool("KILN_KEEP_WORKDIR"),
		IdleBuild:   v.GetBool("KILN_IDLE"),

		R2AccountID:  get("R2_ACCOUNT_ID"),
		R2AccessKey:  get("R2_ACCESS_KEY_ID"),
		R2SecretKey:  get("R2_SECRET_ACCESS_KEY"),
		R2BucketName: get("R2_BUCKET_NAME"),
	}

	if cfg.TmpDir == "" {
		cfg.TmpDir = "/tmp"
	}
	if cfg.Cellar == "" {
		cfg.Cellar = filepath.Join(cfg.Prefix, "cellar")
	}
	if cfg.OptDir == "" {
		cfg.OptDir = filepath.Join(cfg.Prefix, "opt")
	}
	if cfg.Jobs < 1 {
		cfg.Jobs = 1
	}
	cfg.SourcesDir = filepath.Join(cfg.CacheDir, "sources")
	cfg.LogDir = filepath.Join(cfg.CacheDir, "logs")
	return cfg, nil
}
