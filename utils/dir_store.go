package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// DirStore persists the last-used output directory in a single text file.
type DirStore struct {
	path string
}

func NewDirStore(path string) *DirStore {
	return &DirStore{path: ExpandPath(path)}
}

// Path returns the backing file location.
func (s *DirStore) Path() string { return s.path }

// Load returns the stored directory, or "" if nothing was saved yet.
func (s *DirStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read dir store %s: %w", s.path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save overwrites the stored directory.
func (s *DirStore) Save(dir string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create dir store parent: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(dir), 0644); err != nil {
		return fmt.Errorf("write dir store %s: %w", s.path, err)
	}
	return nil
}

// Watch calls fn with the new value whenever the file is rewritten by
// anyone, until ctx is done. The parent directory is watched so that
// editors replacing the file by rename are picked up too.
func (s *DirStore) Watch(ctx context.Context, fn func(dir string)) error {
	parent := filepath.Dir(s.path)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("create dir store parent: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("dir store watcher: %w", err)
	}
	if err := watcher.Add(parent); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", parent, err)
	}

	go func() {
		defer watcher.Close()
		name := filepath.Clean(s.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				dir, err := s.Load()
				if err != nil {
					L().Warn("dir store reload: %v", err)
					continue
				}
				if dir != "" {
					fn(dir)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				L().Error("dir store watch error: %v", err)
			}
		}
	}()
	return nil
}
