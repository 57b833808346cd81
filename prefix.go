package forumcache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DerivePrefix fingerprints an installation. The result changes whenever the
// board URL changes or the sentinel (or, when it is absent, the fallback
// settings file) gets a new modification time.
func DerivePrefix(boardURL, sentinel, fallback string) string {
	h := xxhash.New()
	_, _ = h.WriteString(boardURL)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(strconv.FormatInt(fingerprintMTime(sentinel, fallback), 10))
	return fmt.Sprintf("%016x-forum-", h.Sum64())
}

func fingerprintMTime(paths ...string) int64 {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil {
			return info.ModTime().UnixNano()
		}
	}
	return 0
}

// TouchSentinel creates path if needed and moves its modification time
// forward. The new mtime is always later than the previous one, even on
// filesystems with one-second timestamp resolution.
func TouchSentinel(path string, now time.Time) error {
	if path == "" {
		return errors.New("cache: no sentinel configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		f, createErr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if createErr != nil {
			return createErr
		}
		if closeErr := f.Close(); closeErr != nil {
			return closeErr
		}
	case err != nil:
		return err
	default:
		if prev := info.ModTime(); !now.After(prev) {
			now = prev.Add(time.Second)
		} else if now.Truncate(time.Second).Equal(prev.Truncate(time.Second)) {
			now = prev.Truncate(time.Second).Add(time.Second)
		}
	}
	return os.Chtimes(path, now, now)
}
