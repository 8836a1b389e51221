// Package blobstore keeps content addressed blobs on the local filesystem.
package blobstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/lucasew/blobpurge/internal/errutil"
	"github.com/lucasew/blobpurge/internal/hashutil"
	"github.com/lucasew/blobpurge/internal/purge"
	"golang.org/x/sync/singleflight"
)

const tempPrefix = "put-"

// ErrInvalidID is returned for ids that are not "{algo}/{hex digest}".
var ErrInvalidID = errors.New("invalid blob id")

var errStopWalk = errors.New("stop walk")

// Fetcher provides the content of a blob being stored.
type Fetcher func() (io.ReadCloser, int64, error)

// LocalStore implements purge.Store on top of a directory.
//
// Blobs live at {dir}/{algo}/{hash} and their id is "{algo}/{hash}".
// Writes go through a temporary file in {dir} that is renamed into place once
// the content matches its hash, so a blob is either complete or absent.
type LocalStore struct {
	Dir string
	g   singleflight.Group
}

var _ purge.Store = (*LocalStore)(nil)

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{Dir: dir}
}

// FormatID builds the id of the blob with the given digest.
func FormatID(algo, hash string) string {
	return algo + "/" + hash
}

// ParseID splits an id into algorithm and digest.
func ParseID(id string) (algo, hash string, err error) {
	algo, hash, ok := strings.Cut(id, "/")
	if !ok || !hashutil.ValidDigest(algo, hash) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return algo, hash, nil
}

func (s *LocalStore) getPath(algo, hash string) string {
	return filepath.Join(s.Dir, algo, hash)
}

func (s *LocalStore) Exists(ctx context.Context, id string) (bool, error) {
	algo, hash, err := ParseID(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.getPath(algo, hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// List walks the store in lexical order.
func (s *LocalStore) List(ctx context.Context) iter.Seq2[purge.Blob, error] {
	return func(yield func(purge.Blob, error) bool) {
		err := filepath.WalkDir(s.Dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				// removed while walking
				if p != s.Dir && errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			rel, err := filepath.Rel(s.Dir, p)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			parts := strings.Split(filepath.ToSlash(rel), "/")

			if d.IsDir() {
				if len(parts) == 1 && hashutil.IsSupported(parts[0]) {
					return nil
				}
				return filepath.SkipDir
			}
			if len(parts) != 2 || !d.Type().IsRegular() || !hashutil.ValidDigest(parts[0], parts[1]) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			b := purge.Blob{
				ID:        FormatID(parts[0], parts[1]),
				Size:      info.Size(),
				Timestamp: info.ModTime(),
			}
			if !yield(b, nil) {
				return errStopWalk
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStopWalk) {
			yield(purge.Blob{}, fmt.Errorf("failed to walk %s: %w", s.Dir, err))
		}
	}
}

// Remove deletes a blob. Removing a missing blob succeeds.
func (s *LocalStore) Remove(ctx context.Context, id string) error {
	algo, hash, err := ParseID(id)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.getPath(algo, hash)); err != nil && !os.IsNotExist(err) {
		return err
	}
	slog.Debug("Removed blob", "blob_id", id)
	return nil
}

// Put stores a blob if it doesn't already exist.
//
// Concurrent calls for the same id share a single fetch. The content is
// written to a temporary file, hashed on the way, and only renamed to its
// final path when the digest matches.
func (s *LocalStore) Put(ctx context.Context, algo, hash string, fetcher Fetcher) error {
	id := FormatID(algo, hash)
	if _, _, err := ParseID(id); err != nil {
		return err
	}

	_, err, _ := s.g.Do(id, func() (interface{}, error) {
		if exists, _ := s.Exists(ctx, id); exists {
			return nil, nil
		}

		reader, _, err := fetcher()
		if err != nil {
			return nil, err
		}
		defer errutil.Close(reader, "Failed to close blob source", "blob_id", id)

		finalPath := s.getPath(algo, hash)
		if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create algo dir: %w", err)
		}

		tmpFile, err := os.CreateTemp(s.Dir, tempPrefix+"*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp file: %w", err)
		}
		defer func() { _ = os.Remove(tmpFile.Name()) }()
		defer func() { _ = tmpFile.Close() }()

		hasher, err := hashutil.GetHasher(algo)
		if err != nil {
			return nil, err
		}

		written, err := io.Copy(io.MultiWriter(tmpFile, hasher), reader)
		if err != nil {
			return nil, fmt.Errorf("failed to write to temp file: %w", err)
		}

		actualHash := hex.EncodeToString(hasher.Sum(nil))
		if actualHash != hash {
			return nil, fmt.Errorf("hash mismatch: expected %s, got %s", hash, actualHash)
		}

		if err := tmpFile.Close(); err != nil {
			return nil, fmt.Errorf("failed to close temp file: %w", err)
		}
		if err := os.Rename(tmpFile.Name(), finalPath); err != nil {
			return nil, fmt.Errorf("failed to rename to final path: %w", err)
		}

		slog.Info("Stored blob", "blob_id", id, "size", written)
		return nil, nil
	})
	return err
}

// Changes watches the store directory and yields the id of every blob that
// appears in it. The watch is set up before Changes returns and released when
// ctx is cancelled. The sequence can be consumed only once.
func (s *LocalStore) Changes(ctx context.Context) iter.Seq2[string, error] {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return failed(fmt.Errorf("failed to create watcher: %w", err))
	}
	if err := s.watchAll(w); err != nil {
		errutil.Close(w, "Failed to close watcher")
		return failed(err)
	}
	go func() {
		<-ctx.Done()
		errutil.Close(w, "Failed to close watcher")
	}()

	return func(yield func(string, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) {
					continue
				}
				for _, id := range s.created(w, ev.Name) {
					if !yield(id, nil) {
						return
					}
				}

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if !yield("", fmt.Errorf("watcher error: %w", err)) {
					return
				}
			}
		}
	}
}

func (s *LocalStore) watchAll(w *fsnotify.Watcher) error {
	if err := w.Add(s.Dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.Dir, err)
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && hashutil.IsSupported(e.Name()) {
			if err := w.Add(filepath.Join(s.Dir, e.Name())); err != nil {
				return fmt.Errorf("failed to watch %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

// created maps a Create event to blob ids. A new algo directory gets watched
// and whatever already landed in it is reported.
func (s *LocalStore) created(w *fsnotify.Watcher, name string) []string {
	rel, err := filepath.Rel(s.Dir, name)
	if err != nil {
		return nil
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")

	switch len(parts) {
	case 1:
		if !hashutil.IsSupported(parts[0]) {
			return nil
		}
		if err := w.Add(name); err != nil {
			errutil.LogMsg(err, "Failed to watch algo dir", "path", name)
			return nil
		}
		entries, err := os.ReadDir(name)
		if err != nil {
			return nil
		}
		var ids []string
		for _, e := range entries {
			if hashutil.ValidDigest(parts[0], e.Name()) {
				ids = append(ids, FormatID(parts[0], e.Name()))
			}
		}
		return ids
	case 2:
		if hashutil.ValidDigest(parts[0], parts[1]) {
			return []string{FormatID(parts[0], parts[1])}
		}
	}
	return nil
}

func failed(err error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", err)
	}
}
