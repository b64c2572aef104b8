package kiln

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
)

// buildLog collects the output of every external command of one run.
type buildLog struct {
	path string
	file *os.File
}

func openBuildLog(workDir string) (*buildLog, error) {
	dir := filepath.Join(workDir, "log")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	path := filepath.Join(dir, "build.log")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create build log: %w", err)
	}
	return &buildLog{path: path, file: f}, nil
}

func (l *buildLog) Write(p []byte) (int, error) {
	return l.file.Write(p)
}

// archive closes the log and stores an xz copy as <logDir>/<pkg>-<stamp>.log.xz.
func (l *buildLog) archive(logDir, pkgName string, now time.Time) (string, error) {
	if err := l.file.Close(); err != nil {
		return "", err
	}
	dest := filepath.Join(logDir, fmt.Sprintf("%s-%s.log.xz", pkgName, now.UTC().Format("20060102T150405Z")))
	if err := compressXZ(l.path, dest); err != nil {
		return "", fmt.Errorf("failed to archive build log: %w", err)
	}
	return dest, nil
}

// compressXZ compresses srcPath into destPath.
func compressXZ(srcPath, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dest.Close()

	xzWriter, err := xz.NewWriter(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(xzWriter, src); err != nil {
		xzWriter.Close()
		return err
	}
	return xzWriter.Close()
}

// readXZ returns the decompressed content of an archived log.
func readXZ(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r, err := xz.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to create xz reader for %s: %w", path, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// newestLog finds the most recent archived log, optionally for one package.
// The timestamp suffix sorts lexicographically.
func newestLog(logDir, pkgName string) (string, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return "", err
	}
	var best, bestStamp string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".log.xz") {
			continue
		}
		base := strings.TrimSuffix(name, ".log.xz")
		i := strings.LastIndexByte(base, '-')
		if i <= 0 {
			continue
		}
		pkg, stamp := base[:i], base[i+1:]
		if pkgName != "" && pkg != pkgName {
			continue
		}
		if stamp > bestStamp {
			best, bestStamp = name, stamp
		}
	}
	if best == "" {
		if pkgName != "" {
			return "", fmt.Errorf("no build log for %s: %w", pkgName, errPackageNotFound)
		}
		return "", fmt.Errorf("no build logs in %s", logDir)
	}
	return filepath.Join(logDir, best), nil
}

// listLogs returns archived log names, newest first.
func listLogs(logDir string) ([]string, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".log.xz") {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return logStamp(names[i]) > logStamp(names[j])
	})
	return names, nil
}

func logStamp(name string) string {
	base := strings.TrimSuffix(name, ".log.xz")
	if i := strings.LastIndexByte(base, '-'); i >= 0 {
		return base[i+1:]
	}
	return base
}
