package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// seenFile is the on-disk schema of the file-backed seen-set.
type seenFile struct {
	ProcessedUIDs []string `json:"processedUids"`
}

// UnmarshalJSON accepts both string and numeric identifiers. Server
// UIDs were historically recorded as JSON numbers; each entry is
// normalized to its string form on load.
func (f *seenFile) UnmarshalJSON(data []byte) error {
	var raw struct {
		ProcessedUIDs []any `json:"processedUids"`
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	for _, v := range raw.ProcessedUIDs {
		switch id := v.(type) {
		case string:
			f.ProcessedUIDs = append(f.ProcessedUIDs, id)
		case json.Number:
			f.ProcessedUIDs = append(f.ProcessedUIDs, id.String())
		default:
			return fmt.Errorf("unsupported identifier type %T", v)
		}
	}

	return nil
}

// FileStore persists the seen-set as a JSON file that is rewritten
// atomically after every mutation. The in-memory index makes Contains
// an O(1) lookup while the ordered slice preserves eviction order.
type FileStore struct {
	path  string
	order []string
	index map[string]struct{}
}

// NewFileStore loads the seen-set from path, or starts empty if the
// file does not exist yet. A file that exists but cannot be parsed is
// a load error; callers treat that as fatal rather than silently
// renotifying the whole mailbox.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:  path,
		index: make(map[string]struct{}),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading seen-set %s: %w", path, err)
	}

	var f seenFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seen-set %s: %w", path, err)
	}

	for _, id := range f.ProcessedUIDs {
		if _, ok := s.index[id]; ok {
			continue
		}
		s.order = append(s.order, id)
		s.index[id] = struct{}{}
	}
	s.evict()

	return s, nil
}

// Contains reports whether id is currently in the retained set.
func (s *FileStore) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// MarkSeen appends id, evicts beyond the cap, and rewrites the file.
// If the write fails, the in-memory state is rolled back so the caller
// can retry the message later.
func (s *FileStore) MarkSeen(id string) error {
	if _, ok := s.index[id]; ok {
		return nil
	}

	prevOrder := s.order
	s.order = append(append([]string(nil), s.order...), id)
	s.index[id] = struct{}{}
	evicted := s.evict()

	if err := s.flush(); err != nil {
		s.order = prevOrder
		delete(s.index, id)
		for _, old := range evicted {
			s.index[old] = struct{}{}
		}
		return &PersistenceError{Path: s.path, Err: err}
	}

	return nil
}

// Close is a no-op for the file-backed store.
func (s *FileStore) Close() error {
	return nil
}

// Len returns the number of retained identifiers.
func (s *FileStore) Len() int {
	return len(s.order)
}

// evict drops the oldest entries beyond MaxEntries and returns them.
func (s *FileStore) evict() []string {
	if len(s.order) <= MaxEntries {
		return nil
	}
	evicted := s.order[:len(s.order)-MaxEntries]
	s.order = s.order[len(s.order)-MaxEntries:]
	for _, id := range evicted {
		delete(s.index, id)
	}
	return evicted
}

// flush rewrites the seen-set file atomically: write to a temp file in
// the same directory, fsync, then rename over the old file.
func (s *FileStore) flush() error {
	data, err := json.Marshal(seenFile{ProcessedUIDs: s.order})
	if err != nil {
		return fmt.Errorf("encoding seen-set: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".seen-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}

	return nil
}
