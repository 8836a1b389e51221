package usage

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	empty, err := Probe{}.Measure(ctx, dir)
	if err != nil {
		t.Fatalf("Measure failed: %v", err)
	}
	if empty != 0 {
		t.Errorf("expected empty dir to use 0 bytes, got %d", empty)
	}

	writeFile(t, filepath.Join(dir, "sha256", "a"), 64*1024)
	writeFile(t, filepath.Join(dir, "sha256", "b"), 32*1024)

	used, err := Probe{}.Measure(ctx, dir)
	if err != nil {
		t.Fatalf("Measure failed: %v", err)
	}
	// Allocation is filesystem dependent but never below the data written.
	if used < 96*1024 {
		t.Errorf("expected at least 96KiB, got %d", used)
	}

	if err := os.Link(filepath.Join(dir, "sha256", "a"), filepath.Join(dir, "link")); err == nil {
		again, err := Probe{}.Measure(ctx, dir)
		if err != nil {
			t.Fatalf("Measure failed: %v", err)
		}
		if again != used {
			t.Errorf("hard link counted twice: %d != %d", again, used)
		}
	}
}

func TestProbeMissingDir(t *testing.T) {
	_, err := Probe{}.Measure(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected an error for a missing directory, not zero usage")
	}
}
