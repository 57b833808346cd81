//go:build !unix

package forumcache

import (
	"context"
	"os"
	"time"
)

// Platforms without flock rely on last-writer-wins file replacement.
func lockFile(ctx context.Context, _ *os.File, _ bool, _ time.Duration) error {
	return ctx.Err()
}

func unlockFile(*os.File) error { return nil }
