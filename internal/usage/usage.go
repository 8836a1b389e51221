// Package usage measures how much disk space a directory tree occupies.
package usage

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"syscall"
)

// Probe sums the bytes allocated to every regular file under a directory,
// the way du does. Hard links are counted once.
type Probe struct{}

func (Probe) Measure(ctx context.Context, path string) (int64, error) {
	type inode struct{ dev, ino uint64 }
	seen := make(map[inode]struct{})

	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			key := inode{uint64(st.Dev), uint64(st.Ino)}
			if _, dup := seen[key]; dup {
				return nil
			}
			seen[key] = struct{}{}
			total += int64(st.Blocks) * 512
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure %s: %w", path, err)
	}
	return total, nil
}
