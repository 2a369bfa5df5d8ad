// Package vfs implements the in-memory hierarchical file store that backs a
// workspace. Paths are absolute POSIX paths under a single root; directories
// are implicit, derived from path prefixes. All mutating operations are
// atomic from the caller's perspective.
package vfs

import (
	"iter"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileRecord is one stored file.
type FileRecord struct {
	Path    string    `json:"path"`
	Content string    `json:"content"`
	Kind    FileKind  `json:"-"`
	ModTime time.Time `json:"mod_time"`
}

// Store is the in-memory file store. The zero value is not usable; use New.
type Store struct {
	mu    sync.RWMutex
	files map[string]*FileRecord
	rev   uint64
}

// New creates an empty store.
func New() *Store {
	return &Store{files: make(map[string]*FileRecord)}
}

// Normalize converts p to a clean absolute path. An empty result means the
// input was unusable.
func Normalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	if p == "/" {
		return ""
	}
	return p
}

// Write creates or fully overwrites the record at path. The only way it can
// fail is an empty or root path.
func (s *Store) Write(p, content string) error {
	np := Normalize(p)
	if np == "" {
		return &StoreError{Op: "write", Path: p, Code: ErrInvalidPath}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[np] = &FileRecord{
		Path:    np,
		Content: content,
		Kind:    KindOf(np),
		ModTime: time.Now(),
	}
	s.rev++
	return nil
}

// Patch replaces search with replace inside the record at path. With
// replaceAll false the search text must occur exactly once; an ambiguous
// target is rejected rather than guessed.
func (s *Store) Patch(p, search, replace string, replaceAll bool) error {
	np := Normalize(p)
	if np == "" {
		return &StoreError{Op: "patch", Path: p, Code: ErrInvalidPath}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.files[np]
	if !ok {
		return &StoreError{Op: "patch", Path: np, Code: ErrNotFound}
	}
	n := strings.Count(rec.Content, search)
	if search == "" || n == 0 {
		return &StoreError{Op: "patch", Path: np, Code: ErrContentMismatch,
			Detail: "search text not found"}
	}
	if !replaceAll && n > 1 {
		return &StoreError{Op: "patch", Path: np, Code: ErrContentMismatch,
			Detail: "search text occurs more than once"}
	}
	if replaceAll {
		rec.Content = strings.ReplaceAll(rec.Content, search, replace)
	} else {
		rec.Content = strings.Replace(rec.Content, search, replace, 1)
	}
	rec.ModTime = time.Now()
	s.rev++
	return nil
}

// Rename moves the record at old to new, preserving content and kind
// derivation from the new path.
func (s *Store) Rename(old, new string) error {
	op := Normalize(old)
	np := Normalize(new)
	if op == "" || np == "" {
		return &StoreError{Op: "rename", Path: old, Code: ErrInvalidPath}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.files[op]
	if !ok {
		return &StoreError{Op: "rename", Path: op, Code: ErrNotFound}
	}
	if _, exists := s.files[np]; exists {
		return &StoreError{Op: "rename", Path: np, Code: ErrConflict}
	}
	delete(s.files, op)
	s.files[np] = &FileRecord{
		Path:    np,
		Content: rec.Content,
		Kind:    KindOf(np),
		ModTime: time.Now(),
	}
	s.rev++
	return nil
}

// Remove deletes the record at path and, treating the path as a directory
// prefix, every descendant record. Removing a path that matches nothing is
// not an error.
func (s *Store) Remove(p string) error {
	np := Normalize(p)
	if np == "" {
		return &StoreError{Op: "remove", Path: p, Code: ErrInvalidPath}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := false
	if _, ok := s.files[np]; ok {
		delete(s.files, np)
		removed = true
	}
	prefix := np + "/"
	for k := range s.files {
		if strings.HasPrefix(k, prefix) {
			delete(s.files, k)
			removed = true
		}
	}
	if removed {
		s.rev++
	}
	return nil
}

// Read returns a copy of the record at path.
func (s *Store) Read(p string) (FileRecord, error) {
	np := Normalize(p)
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[np]
	if !ok {
		return FileRecord{}, &StoreError{Op: "read", Path: np, Code: ErrNotFound}
	}
	return *rec, nil
}

// Exists reports whether a record exists at path.
func (s *Store) Exists(p string) bool {
	np := Normalize(p)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[np]
	return ok
}

// List returns a restartable sequence over a snapshot of the current paths.
// Order is stable for a given snapshot.
func (s *Store) List() iter.Seq[string] {
	s.mu.RLock()
	paths := make([]string, 0, len(s.files))
	for k := range s.files {
		paths = append(paths, k)
	}
	s.mu.RUnlock()
	sort.Strings(paths)
	return func(yield func(string) bool) {
		for _, p := range paths {
			if !yield(p) {
				return
			}
		}
	}
}

// Count returns the number of records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Revision returns a counter that increases on every successful mutation.
// The build scheduler uses it to discard stale build results.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rev
}

// Serialize produces the flat path-to-content mapping that crosses the
// persistence boundary. Kind is not stored; it is re-derived from the path.
func (s *Store) Serialize() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.files))
	for k, rec := range s.files {
		out[k] = rec.Content
	}
	return out
}

// Restore replaces the whole store with the given snapshot. Paths are
// normalized and kinds re-derived; unusable paths are skipped.
func (s *Store) Restore(snapshot map[string]string) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = make(map[string]*FileRecord, len(snapshot))
	for p, content := range snapshot {
		np := Normalize(p)
		if np == "" {
			continue
		}
		s.files[np] = &FileRecord{
			Path:    np,
			Content: content,
			Kind:    KindOf(np),
			ModTime: now,
		}
	}
	s.rev++
}
