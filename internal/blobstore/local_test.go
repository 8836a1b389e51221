package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sha256Hex(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func contentFetcher(content string) Fetcher {
	return func() (io.ReadCloser, int64, error) {
		return io.NopCloser(strings.NewReader(content)), int64(len(content)), nil
	}
}

func TestLocalStorePut(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()
	content := "test content"
	hash := sha256Hex(content)

	t.Run("Stores Verified Content", func(t *testing.T) {
		if err := store.Put(ctx, "sha256", hash, contentFetcher(content)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		data, err := os.ReadFile(filepath.Join(store.Dir, "sha256", hash))
		if err != nil {
			t.Fatalf("blob not on disk: %v", err)
		}
		if string(data) != content {
			t.Errorf("expected %q, got %q", content, string(data))
		}
	})

	t.Run("Existing Blob Skips Fetch", func(t *testing.T) {
		fetcher := func() (io.ReadCloser, int64, error) {
			t.Error("fetcher called for an existing blob")
			return nil, 0, io.EOF
		}
		if err := store.Put(ctx, "sha256", hash, fetcher); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	})

	t.Run("Hash Mismatch", func(t *testing.T) {
		other := sha256Hex("something else")
		err := store.Put(ctx, "sha256", other, contentFetcher(content))
		if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
			t.Fatalf("expected hash mismatch, got %v", err)
		}
		if exists, _ := store.Exists(ctx, FormatID("sha256", other)); exists {
			t.Error("mismatched content was stored")
		}
	})

	t.Run("Fetch Error", func(t *testing.T) {
		fetcher := func() (io.ReadCloser, int64, error) { return nil, 0, io.ErrUnexpectedEOF }
		err := store.Put(ctx, "sha256", sha256Hex("missing"), fetcher)
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("expected ErrUnexpectedEOF, got %v", err)
		}
	})

	t.Run("No Temp Files Left", func(t *testing.T) {
		entries, err := os.ReadDir(store.Dir)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), tempPrefix) {
				t.Errorf("temp file left behind: %s", e.Name())
			}
		}
	})
}

func TestLocalStoreList(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	contents := []string{"alpha", "beta", "gamma"}
	for _, c := range contents {
		if err := store.Put(ctx, "sha256", sha256Hex(c), contentFetcher(c)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	// noise the listing must ignore
	mustWrite(t, filepath.Join(store.Dir, tempPrefix+"123"), "partial")
	mustWrite(t, filepath.Join(store.Dir, "sha256", "not-a-digest"), "junk")
	mustWrite(t, filepath.Join(store.Dir, "md5", strings.Repeat("a", 32)), "junk")

	var ids []string
	var total int64
	for b, err := range store.List(ctx) {
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if time.Since(b.Timestamp) > time.Hour {
			t.Errorf("unexpected timestamp %s for %s", b.Timestamp, b.ID)
		}
		ids = append(ids, b.ID)
		total += b.Size
	}

	if len(ids) != len(contents) {
		t.Fatalf("expected %d blobs, got %v", len(contents), ids)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Errorf("listing not in lexical order: %v", ids)
		}
	}
	if total != int64(len("alpha")+len("beta")+len("gamma")) {
		t.Errorf("unexpected total size %d", total)
	}
}

func TestLocalStoreListMissingDir(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	for _, err := range store.List(context.Background()) {
		if err == nil {
			t.Fatal("expected an error")
		}
		return
	}
	t.Fatal("expected the listing to report an error")
}

func TestLocalStoreRemove(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()
	hash := sha256Hex("doomed")
	id := FormatID("sha256", hash)

	if err := store.Put(ctx, "sha256", hash, contentFetcher("doomed")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Remove(ctx, id); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if exists, _ := store.Exists(ctx, id); exists {
		t.Error("blob still exists after Remove")
	}
	if err := store.Remove(ctx, id); err != nil {
		t.Errorf("removing a missing blob should succeed, got %v", err)
	}

	for _, bad := range []string{"../etc/passwd", "sha256/../../x", "sha256", "md5/abc"} {
		if err := store.Remove(ctx, bad); !errors.Is(err, ErrInvalidID) {
			t.Errorf("%q: expected ErrInvalidID, got %v", bad, err)
		}
	}
}

func TestLocalStoreChanges(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(filepath.Join(store.Dir, "sha256"), 0755); err != nil {
		t.Fatal(err)
	}

	ids := make(chan string, 16)
	changes := store.Changes(ctx)
	go func() {
		defer close(ids)
		for id, err := range changes {
			if err != nil {
				t.Errorf("watch error: %v", err)
				return
			}
			ids <- id
		}
	}()

	hash := sha256Hex("fresh")
	if err := store.Put(ctx, "sha256", hash, contentFetcher("fresh")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	want := FormatID("sha256", hash)
	deadline := time.After(5 * time.Second)
	for {
		select {
		case id := <-ids:
			if id == want {
				cancel()
				return
			}
		case <-deadline:
			t.Fatalf("no change reported for %s", want)
		}
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
