package kiln

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

// extractArchive unpacks archive into dest. When the archive holds a single
// top-level directory its contents land directly in dest.
func extractArchive(archive, dest string, progress io.Writer) error {
	staging := dest + ".unpack"
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("failed to clean %s: %w", staging, err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", staging, err)
	}
	defer os.RemoveAll(staging)

	var err error
	if strings.HasSuffix(archive, ".zip") {
		err = unzipGo(archive, staging)
	} else {
		err = extractTar(archive, staging, progress)
	}
	if err != nil {
		return err
	}
	return hoistSingleDir(staging, dest)
}

// hoistSingleDir moves the unpacked tree from staging into dest, dropping a
// lone top-level directory such as bison-2.5/.
func hoistSingleDir(staging, dest string) error {
	root := staging
	entries, err := os.ReadDir(staging)
	if err != nil {
		return err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		root = filepath.Join(staging, entries[0].Name())
	}

	// dest was created empty by the caller; rename needs it gone
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unpack target %s is not empty: %w", dest, err)
	}
	if err := os.Rename(root, dest); err != nil {
		return fmt.Errorf("failed to move sources into %s: %w", dest, err)
	}
	return nil
}

// withinDir reports whether target stays below dir (no path traversal).
func withinDir(dir, target string) bool {
	return target == dir || strings.HasPrefix(target, dir+string(os.PathSeparator))
}

// checkResolved rejects target when its deepest existing ancestor resolves,
// through symlinks unpacked earlier, to a place outside dest. dest must
// already be free of symlinks.
func checkResolved(dest, target, name string) error {
	if target == dest {
		return nil
	}
	dir := filepath.Dir(target)
	for dir != dest {
		if _, err := os.Lstat(dir); err == nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("illegal file path in archive: %s: %w", name, err)
	}
	if !withinDir(dest, real) {
		return fmt.Errorf("illegal file path in archive: %s leaves the tree through a symlink", name)
	}
	return nil
}

// absReal makes dest absolute and resolves any symlinks in it.
func absReal(dest string) (string, error) {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(dest)
}

func unzipGo(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	dest, err = absReal(dest)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		fpath := filepath.Join(dest, f.Name)

		// Prevent Zip Slip path traversal.
		if !withinDir(dest, fpath) {
			return fmt.Errorf("illegal file path in archive: %s", f.Name)
		}
		if err := checkResolved(dest, fpath, f.Name); err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
			return err
		}

		outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			outFile.Close()
			return err
		}

		_, err = io.Copy(outFile, rc)

		// Close inside the loop to avoid holding too many file descriptors.
		outFile.Close()
		rc.Close()

		if err != nil {
			return err
		}
	}
	return nil
}

// decompressor wraps r according to the archive's extension.
func decompressor(name string, r io.Reader) (io.Reader, func(), error) {
	noop := func() {}
	switch {
	case strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz"):
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create gzip reader for %s: %w", name, err)
		}
		return gz, func() { gz.Close() }, nil
	case strings.HasSuffix(name, ".tar.bz2") || strings.HasSuffix(name, ".tbz2"):
		return bzip2.NewReader(r), noop, nil
	case strings.HasSuffix(name, ".tar.xz") || strings.HasSuffix(name, ".txz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create xz reader for %s: %w", name, err)
		}
		return xr, noop, nil
	case strings.HasSuffix(name, ".tar.zst"):
		zst, err := zstd.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create zstd reader for %s: %w", name, err)
		}
		return zst, zst.Close, nil
	case strings.HasSuffix(name, ".tar"):
		return r, noop, nil
	}
	return nil, noop, fmt.Errorf("unsupported archive format: %s", name)
}

// extractTar extracts a (possibly compressed) tar archive into dest,
// skipping PAX headers and preserving modes and timestamps.
func extractTar(realPath, dest string, progress io.Writer) error {
	f, err := os.Open(realPath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", realPath, err)
	}
	defer f.Close()

	var in io.Reader = f
	if progress != nil {
		if fi, err := f.Stat(); err == nil {
			bar := progressbar.NewOptions64(fi.Size(),
				progressbar.OptionSetWriter(progress),
				progressbar.OptionSetDescription("unpacking "+filepath.Base(realPath)),
				progressbar.OptionShowBytes(true),
				progressbar.OptionClearOnFinish(),
			)
			defer bar.Finish()
			in = io.TeeReader(f, bar)
		}
	}

	r, closeFn, err := decompressor(realPath, in)
	if err != nil {
		return err
	}
	defer closeFn()

	dest, err = absReal(dest)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar header in %s: %w", realPath, err)
		}

		// Skip PAX headers (global or per-file)
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		targetPath := filepath.Join(dest, hdr.Name)
		if !withinDir(dest, targetPath) {
			return fmt.Errorf("illegal file path in archive: %s", hdr.Name)
		}
		if err := checkResolved(dest, targetPath, hdr.Name); err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", targetPath, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, os.FileMode(hdr.Mode)|0o700); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", targetPath, err)
			}
		case tar.TypeReg:
			// a symlink unpacked earlier under the same name must not be followed
			if fi, err := os.Lstat(targetPath); err == nil && fi.Mode()&os.ModeSymlink != 0 {
				if err := os.Remove(targetPath); err != nil {
					return fmt.Errorf("failed to replace symlink %s: %w", targetPath, err)
				}
			}
			outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file %s: %w", targetPath, err)
			}
			if _, err := io.Copy(outFile, tr); err != nil {
				outFile.Close()
				return fmt.Errorf("failed to write file %s: %w", targetPath, err)
			}
			outFile.Close()
			if err := os.Chtimes(targetPath, hdr.AccessTime, hdr.ModTime); err != nil {
				return fmt.Errorf("failed to set times for file %s: %w", targetPath, err)
			}
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, targetPath); err != nil && !os.IsExist(err) {
				return fmt.Errorf("failed to create symlink %s -> %s: %w", targetPath, hdr.Linkname, err)
			}
			atime := unix.NsecToTimeval(hdr.AccessTime.UnixNano())
			mtime := unix.NsecToTimeval(hdr.ModTime.UnixNano())
			if err := unix.Lutimes(targetPath, []unix.Timeval{atime, mtime}); err != nil {
				logger.Debug("failed to set symlink times", "path", targetPath, "err", err)
			}
		case tar.TypeLink:
			linkTarget := filepath.Join(dest, hdr.Linkname)
			if !withinDir(dest, linkTarget) {
				return fmt.Errorf("illegal hard link in archive: %s -> %s", hdr.Name, hdr.Linkname)
			}
			if err := checkResolved(dest, linkTarget, hdr.Linkname); err != nil {
				return err
			}
			if err := os.Link(linkTarget, targetPath); err != nil {
				return fmt.Errorf("failed to create hard link %s: %w", targetPath, err)
			}
		default:
			logger.Debug("skipping unsupported tar entry", "type", string(hdr.Typeflag), "name", hdr.Name)
		}
	}
	return nil
}
