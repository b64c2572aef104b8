package kiln

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"lukechampine.com/blake3"
)

// newHasher picks the digest for a checksum string. "b3:", "sha256:" and
// "md5:" prefixes are explicit; bare hex is md5 (32 chars) or sha256 (64 chars).
func newHasher(checksum string) (hash.Hash, string, error) {
	algo, sum, found := strings.Cut(checksum, ":")
	if !found {
		sum = checksum
		switch len(sum) {
		case 32:
			algo = "md5"
		case 64:
			algo = "sha256"
		default:
			return nil, "", fmt.Errorf("cannot infer checksum type of %q", checksum)
		}
	}
	sum = strings.ToLower(strings.TrimSpace(sum))
	switch algo {
	case "b3", "blake3":
		return blake3.New(32, nil), sum, nil
	case "sha256":
		return sha256.New(), sum, nil
	case "md5":
		return md5.New(), sum, nil
	}
	return nil, "", fmt.Errorf("unsupported checksum type %q", algo)
}

// VerifyChecksum checks the file at path against checksum. An empty checksum
// skips verification.
func VerifyChecksum(path, checksum string) error {
	if checksum == "" {
		logger.Warn("no checksum declared, skipping verification", "file", path)
		return nil
	}
	h, want, err := newHasher(checksum)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != want {
		return fmt.Errorf("%w: %s: want %s, got %s", ErrChecksumMismatch, path, want, got)
	}
	return nil
}
