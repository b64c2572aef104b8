package kiln

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
)

// SourceProvider places the unpacked contents of a source into dest.
// Fetching and verification live behind this interface.
type SourceProvider interface {
	Prepare(ctx context.Context, name string, src Source, dest string) error
}

// ArchiveSource resolves archives from the local sources cache, falling back
// to the binary mirror when one is configured, verifies them and unpacks them.
type ArchiveSource struct {
	SourcesDir string
	Mirror     *R2Client // optional
	Progress   io.Writer // nil disables the progress bar
}

// archiveName is the cache file name for a source URL.
func archiveName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid source url %q: %w", rawURL, err)
	}
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return "", fmt.Errorf("source url %q has no file name", rawURL)
	}
	return base, nil
}

// locate returns the path of the archive for src, downloading it from the
// mirror into the sources cache if it is missing.
func (a *ArchiveSource) locate(ctx context.Context, src Source) (string, error) {
	u, err := url.Parse(src.URL)
	if err == nil && u.Scheme == "file" {
		return u.Path, nil
	}
	if err == nil && u.Scheme == "" && filepath.IsAbs(src.URL) {
		return src.URL, nil
	}

	name, err := archiveName(src.URL)
	if err != nil {
		return "", err
	}
	local := filepath.Join(a.SourcesDir, name)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	if a.Mirror == nil {
		return "", fmt.Errorf("source %s not in %s and no mirror configured", name, a.SourcesDir)
	}
	if err := os.MkdirAll(a.SourcesDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create sources dir: %w", err)
	}
	if err := a.Mirror.DownloadTo(ctx, "sources/"+name, local); err != nil {
		return "", fmt.Errorf("mirror download of %s failed: %w", name, err)
	}
	return local, nil
}

// Prepare implements SourceProvider.
func (a *ArchiveSource) Prepare(ctx context.Context, name string, src Source, dest string) error {
	archive, err := a.locate(ctx, src)
	if err != nil {
		return err
	}
	if err := VerifyChecksum(archive, src.Checksum); err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	logger.Debug("unpacking", "pkg", name, "archive", archive, "dir", dest)
	return extractArchive(archive, dest, a.Progress)
}
