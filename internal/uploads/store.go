package uploads

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type StoreConfig struct {
	Dir string

	// MaxFiles keeps only the newest N files once an upload is released. Zero disables.
	MaxFiles int
	// MaxAge removes files older than this once an upload is released. Zero disables.
	MaxAge time.Duration

	Logger *slog.Logger
}

// Store writes uploads into a single flat directory.
type Store struct {
	dir      string
	maxFiles int
	maxAge   time.Duration
	logger   *slog.Logger

	// mu guards inUse and saved and serializes pruning.
	mu    sync.Mutex
	inUse map[string]int
	saved map[string]uint64
	seq   uint64
	now   func() time.Time
}

func NewStore(config StoreConfig) (*Store, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("upload directory is required")
	}
	dir, err := filepath.Abs(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:      dir,
		maxFiles: config.MaxFiles,
		maxAge:   config.MaxAge,
		logger:   logger,
		inUse:    make(map[string]int),
		saved:    make(map[string]uint64),
		now:      time.Now,
	}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Save copies r into the directory under the sanitized form of name and
// returns the path written. An existing file with the same name is replaced.
// The file is exempt from pruning until the caller passes path to Release.
func (s *Store) Save(name string, r io.Reader) (string, error) {
	filename := SecureFilename(name)
	if filename == "" {
		filename = uuid.NewString()
	}
	path := filepath.Join(s.dir, filename)
	if !s.contains(path) {
		return "", fmt.Errorf("upload name %q resolves outside %s", name, s.dir)
	}

	s.acquire(path)
	if err := writeFile(path, r); err != nil {
		s.release(path)
		return "", err
	}
	if s.maxFiles > 0 || s.maxAge > 0 {
		s.mu.Lock()
		s.seq++
		s.saved[filename] = s.seq
		s.mu.Unlock()
	}
	return path, nil
}

func writeFile(path string, r io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create upload file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write upload file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to close upload file: %w", err)
	}
	return nil
}

// Release ends the caller's use of a path returned by Save and applies the
// retention limits.
func (s *Store) Release(path string) {
	s.release(path)
	if s.maxFiles <= 0 && s.maxAge <= 0 {
		return
	}
	if _, err := s.Prune(); err != nil {
		s.logger.Warn("upload pruning failed", "error", err)
	}
}

func (s *Store) acquire(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inUse[filepath.Base(path)]++
}

func (s *Store) release(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := filepath.Base(path)
	if s.inUse[name] <= 1 {
		delete(s.inUse, name)
		return
	}
	s.inUse[name]--
}

// ReadFile reads back a file previously returned by Save.
func (s *Store) ReadFile(path string) ([]byte, error) {
	if !s.contains(path) {
		return nil, fmt.Errorf("path %s is outside %s", path, s.dir)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload file: %w", err)
	}
	return data, nil
}

// Prune applies the retention limits and returns how many files it removed.
// Files between Save and Release are never removed but still count toward
// MaxFiles.
func (s *Store) Prune() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list upload directory: %w", err)
	}

	type upload struct {
		name    string
		modTime time.Time
	}
	var files []upload
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // removed concurrently
		}
		files = append(files, upload{name: entry.Name(), modTime: info.ModTime()})
	}
	// Newest first. Modification-time ties go to files in use, then to the
	// most recent Save, then to name order.
	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if !a.modTime.Equal(b.modTime) {
			return a.modTime.After(b.modTime)
		}
		if inUseA, inUseB := s.inUse[a.name] > 0, s.inUse[b.name] > 0; inUseA != inUseB {
			return inUseA
		}
		if s.saved[a.name] != s.saved[b.name] {
			return s.saved[a.name] > s.saved[b.name]
		}
		return a.name < b.name
	})

	removed := 0
	cutoff := s.now().Add(-s.maxAge)
	for i, f := range files {
		expired := s.maxAge > 0 && f.modTime.Before(cutoff)
		overflow := s.maxFiles > 0 && i >= s.maxFiles
		if (!expired && !overflow) || s.inUse[f.name] > 0 {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove %s: %w", f.name, err)
		}
		delete(s.saved, f.name)
		removed++
	}
	if removed > 0 {
		s.logger.Info("pruned uploads", "removed", removed, "dir", s.dir)
	}
	return removed, nil
}

func (s *Store) contains(path string) bool {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
