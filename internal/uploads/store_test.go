package uploads

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSecureFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"cat.png", "cat.png"},
		{"My cool movie.mov", "My_cool_movie.mov"},
		{"../../etc/passwd.png", "etc_passwd.png"},
		{`..\..\windows\win.ini`, "windows_win.ini"},
		{"i contain cool \xfcml\xe4uts.txt", "i_contain_cool_mluts.txt"},
		{"i contain cool ümläuts.txt", "i_contain_cool_umlauts.txt"},
		{"../..", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SecureFilename(tt.in); got != tt.want {
			t.Errorf("SecureFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSaveStaysInsideDirectory(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "static", "uploads")
	store, err := NewStore(StoreConfig{Dir: dir})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	path, err := store.Save("../../etc/passwd.png", strings.NewReader("png"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Dir(path) != store.Dir() {
		t.Fatalf("saved to %s, outside %s", path, store.Dir())
	}
	if _, err := os.Stat(filepath.Join(root, "etc", "passwd.png")); !os.IsNotExist(err) {
		t.Fatalf("file escaped upload directory: %v", err)
	}

	data, err := store.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "png" {
		t.Errorf("read back %q", data)
	}
}

func TestSaveEmptyNameGetsGeneratedName(t *testing.T) {
	store, err := NewStore(StoreConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	path, err := store.Save("../..", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Dir(path) != store.Dir() || filepath.Base(path) == "" {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestReadFileRejectsOutsidePath(t *testing.T) {
	store, err := NewStore(StoreConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.ReadFile(filepath.Join(store.Dir(), "..", "other")); err == nil {
		t.Fatal("expected error reading outside the store")
	}
}

func TestPruneMaxFiles(t *testing.T) {
	store, err := NewStore(StoreConfig{Dir: t.TempDir(), MaxFiles: 2})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"a.png", "b.png", "c.png"} {
		path := filepath.Join(store.Dir(), name)
		if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
		modTime := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(path, modTime, modTime); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := store.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed %d files, want 1", removed)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), "a.png")); !os.IsNotExist(err) {
		t.Error("oldest file should have been removed")
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), "c.png")); err != nil {
		t.Errorf("newest file should remain: %v", err)
	}
}

func TestPruneMaxAge(t *testing.T) {
	store, err := NewStore(StoreConfig{Dir: t.TempDir(), MaxAge: time.Hour})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	now := time.Now()
	store.now = func() time.Time { return now }

	old := filepath.Join(store.Dir(), "old.png")
	fresh := filepath.Join(store.Dir(), "fresh.png")
	for _, path := range []string{old, fresh} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	stale := now.Add(-2 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Prune(); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("expired file should have been removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh file should remain: %v", err)
	}
}

func TestSaveKeepsFileUntilReleased(t *testing.T) {
	store, err := NewStore(StoreConfig{Dir: t.TempDir(), MaxFiles: 1})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	first, err := store.Save("first.png", strings.NewReader("first"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	store.Release(first)

	second, err := store.Save("second.png", strings.NewReader("second"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Force a modification-time tie with the released file.
	info, err := os.Stat(first)
	if err != nil {
		t.Fatalf("first upload pruned early: %v", err)
	}
	if err := os.Chtimes(second, info.ModTime(), info.ModTime()); err != nil {
		t.Fatal(err)
	}
	data, err := store.ReadFile(second)
	if err != nil {
		t.Fatalf("ReadFile after second save: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("read back %q", data)
	}

	store.Release(second)
	entries, err := os.ReadDir(store.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "second.png" {
		t.Errorf("uploads left = %v, want only second.png", entries)
	}
}

func TestPruneSkipsFilesInUse(t *testing.T) {
	store, err := NewStore(StoreConfig{Dir: t.TempDir(), MaxFiles: 1})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	held, err := store.Save("held.png", strings.NewReader("held"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(held, old, old); err != nil {
		t.Fatal(err)
	}

	other, err := store.Save("other.png", strings.NewReader("other"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	store.Release(other)

	if _, err := os.Stat(held); err != nil {
		t.Fatalf("file in use was pruned: %v", err)
	}

	store.Release(held)
	if _, err := os.Stat(held); !os.IsNotExist(err) {
		t.Error("released older file should have been pruned")
	}
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestSaveRemovesPartialFile(t *testing.T) {
	store, err := NewStore(StoreConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	r := io.MultiReader(strings.NewReader("partial"), failingReader{})
	if _, err := store.Save("broken.png", r); err == nil {
		t.Fatal("expected error from failing reader")
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), "broken.png")); !os.IsNotExist(err) {
		t.Errorf("partial upload left on disk: %v", err)
	}
	if len(store.inUse) != 0 {
		t.Errorf("failed save still marked in use: %v", store.inUse)
	}
}
