package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLocalStore(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		dir := filepath.Join(os.TempDir(), "mediaflow_test_"+randomSuffix())
		defer func() { _ = os.RemoveAll(dir) }()

		store, err := NewLocalStore(dir)
		if err != nil {
			t.Fatalf("NewLocalStore() error = %v", err)
		}

		if store.Root() != dir {
			t.Errorf("Root() = %v, want %v", store.Root(), dir)
		}

		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected directory, got file")
		}
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		store, err := NewLocalStore("")
		if err != nil {
			t.Fatalf("NewLocalStore() error = %v", err)
		}

		expected := filepath.Join(os.TempDir(), "mediaflow", "media")
		if store.Root() != expected {
			t.Errorf("Root() = %v, want %v", store.Root(), expected)
		}
	})
}

func TestLocalStore_PutAndStat(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	n, err := store.Put(ctx, "tenant-a/med_1.mp4", strings.NewReader("0123456789"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if n != 10 {
		t.Errorf("Put() = %d bytes, want 10", n)
	}

	info, err := store.Stat(ctx, "tenant-a/med_1.mp4")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size != 10 {
		t.Errorf("Size = %d, want 10", info.Size)
	}

	t.Run("overwrites existing object", func(t *testing.T) {
		if _, err := store.Put(ctx, "tenant-a/med_1.mp4", strings.NewReader("abc")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		info, err := store.Stat(ctx, "tenant-a/med_1.mp4")
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if info.Size != 3 {
			t.Errorf("Size = %d, want 3", info.Size)
		}
	})

	t.Run("leaves no spool files behind", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Join(store.Root(), "tenant-a"))
		if err != nil {
			t.Fatalf("ReadDir() error = %v", err)
		}
		if len(entries) != 1 {
			t.Errorf("got %d entries, want 1", len(entries))
		}
	})

	t.Run("missing object", func(t *testing.T) {
		_, err := store.Stat(ctx, "tenant-a/nope.mp4")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Stat() error = %v, want ErrNotFound", err)
		}
	})
}

func TestLocalStore_OpenRange(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, "t/obj.bin", strings.NewReader("0123456789")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	tests := []struct {
		name   string
		offset int64
		length int64
		want   string
	}{
		{"whole object", 0, -1, "0123456789"},
		{"prefix", 0, 4, "0123"},
		{"middle", 3, 4, "3456"},
		{"tail", 7, -1, "789"},
		{"length past end", 8, 100, "89"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := store.OpenRange(ctx, "t/obj.bin", tt.offset, tt.length)
			if err != nil {
				t.Fatalf("OpenRange() error = %v", err)
			}
			defer func() { _ = rc.Close() }()

			got, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("missing object", func(t *testing.T) {
		_, err := store.OpenRange(ctx, "t/missing.bin", 0, -1)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("OpenRange() error = %v, want ErrNotFound", err)
		}
	})
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "/etc/passwd", "../outside", "a/../../outside", `a\b`} {
		t.Run(key, func(t *testing.T) {
			_, err := store.Put(ctx, key, strings.NewReader("x"))
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Put(%q) error = %v, want ErrInvalidKey", key, err)
			}
		})
	}
}

func TestLocalStore_Delete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, "t/del.bin", bytes.NewReader([]byte("data"))); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if err := store.Delete(ctx, "t/del.bin"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Stat(ctx, "t/del.bin"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat() after delete error = %v, want ErrNotFound", err)
	}

	t.Run("missing object is not an error", func(t *testing.T) {
		if err := store.Delete(ctx, "t/del.bin"); err != nil {
			t.Errorf("Delete() error = %v", err)
		}
	})
}

func TestLocalStore_Materialize(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, "t/clip.mp4", strings.NewReader("frames")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	p, err := store.Materialize(ctx, "t/clip.mp4", t.TempDir())
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if p != filepath.Join(store.Root(), "t", "clip.mp4") {
		t.Errorf("Materialize() = %v, want object path", p)
	}

	if _, err := store.Materialize(ctx, "t/none.mp4", t.TempDir()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Materialize() error = %v, want ErrNotFound", err)
	}
}

func TestLocalStore_ContextCancelled(t *testing.T) {
	store := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Put(ctx, "t/x.bin", strings.NewReader("x")); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name    string
		tenant  string
		id      string
		ext     string
		want    string
		wantErr bool
	}{
		{"with extension", "acme", "med_1", ".MP4", "acme/med_1.mp4", false},
		{"without extension", "acme", "med_1", "", "acme/med_1", false},
		{"drops odd extension", "acme", "med_1", ".m p4", "acme/med_1", false},
		{"rejects traversal tenant", "..", "med_1", ".mp4", "", true},
		{"rejects slash tenant", "a/b", "med_1", ".mp4", "", true},
		{"rejects empty id", "acme", "", ".mp4", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ObjectKey(tt.tenant, tt.id, tt.ext)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ObjectKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ObjectKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScratch(t *testing.T) {
	scratch, err := NewScratch(filepath.Join(t.TempDir(), "scratch"))
	if err != nil {
		t.Fatalf("NewScratch() error = %v", err)
	}
	ctx := context.Background()

	t.Run("saves and cleans temp files", func(t *testing.T) {
		p, err := scratch.SaveTemp(ctx, "upload", strings.NewReader("spool"))
		if err != nil {
			t.Fatalf("SaveTemp() error = %v", err)
		}
		if !strings.HasPrefix(filepath.Base(p), "upload_") {
			t.Errorf("unexpected file name: %s", p)
		}

		if err := scratch.CleanupTemp(p, filepath.Join(scratch.Dir(), "never-existed")); err != nil {
			t.Fatalf("CleanupTemp() error = %v", err)
		}
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Error("expected file to be removed")
		}
	})

	t.Run("run directories are unique and removable", func(t *testing.T) {
		a, err := scratch.NewRunDir("med_1")
		if err != nil {
			t.Fatalf("NewRunDir() error = %v", err)
		}
		b, err := scratch.NewRunDir("med_1")
		if err != nil {
			t.Fatalf("NewRunDir() error = %v", err)
		}
		if a == b {
			t.Fatal("expected distinct run directories")
		}

		if err := os.WriteFile(filepath.Join(a, "frame_1.png"), []byte("x"), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if err := scratch.RemoveRunDir(a); err != nil {
			t.Fatalf("RemoveRunDir() error = %v", err)
		}
		if _, err := os.Stat(a); !os.IsNotExist(err) {
			t.Error("expected run directory to be removed")
		}
	})
}

func setupTestStore(t *testing.T) *LocalStore {
	t.Helper()
	dir := filepath.Join(os.TempDir(), "mediaflow_test_"+randomSuffix())
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return store
}

func randomSuffix() string {
	return time.Now().Format("20060102150405.000000000")
}
