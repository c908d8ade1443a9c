package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// initialCommandCounter is the id handed to the first device command ever
// issued. Replies echo the id back, so ids must never repeat across restarts.
const initialCommandCounter = 1000

var ErrCursorRegression = errors.New("processing cursor may not move backwards")

type document struct {
	CommandCounter int64 `json:"command_counter"`
	Cursor         int64 `json:"cursor"`
	JournalBase    int64 `json:"journal_base"`
}

// State is the durable counters document shared by the gateway, the store
// loader and the retention sweep. Every mutation is persisted before the new
// value is handed out, via write-temp-then-rename so a crash never leaves a
// half-written file behind.
type State struct {
	path string

	mu  sync.Mutex
	doc document
}

// Open loads the document at path, creating it with initial values when it
// does not exist yet.
func Open(path string) (*State, error) {
	s := &State{path: path, doc: document{CommandCounter: initialCommandCounter}}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if err := json.Unmarshal(raw, &s.doc); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", path, err)
	}
	if s.doc.CommandCounter < initialCommandCounter {
		s.doc.CommandCounter = initialCommandCounter
	}
	return s, nil
}

// NextCommandID persists the advanced counter and returns the id to use.
// The increment is durable before the id escapes, so a crash between issue
// and delivery can never hand the same id to two commands.
func (s *State) NextCommandID() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.doc.CommandCounter
	s.doc.CommandCounter = id + 1
	if err := s.save(); err != nil {
		s.doc.CommandCounter = id
		return 0, err
	}
	return id, nil
}

func (s *State) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Cursor
}

// SetCursor persists a new processing cursor. The cursor counts every journal
// entry ever consumed, so it only moves forward.
func (s *State) SetCursor(n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < s.doc.Cursor {
		return fmt.Errorf("%w: %d < %d", ErrCursorRegression, n, s.doc.Cursor)
	}
	if n == s.doc.Cursor {
		return nil
	}
	prev := s.doc.Cursor
	s.doc.Cursor = n
	if err := s.save(); err != nil {
		s.doc.Cursor = prev
		return err
	}
	return nil
}

func (s *State) JournalBase() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.JournalBase
}

// SetJournalBase persists the count of journal entries dropped by retention.
// Like the cursor it only grows; the loader subtracts it from the cursor to
// find its physical start offset in the trimmed file.
func (s *State) SetJournalBase(n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < s.doc.JournalBase {
		return fmt.Errorf("journal base may not shrink: %d < %d", n, s.doc.JournalBase)
	}
	if n == s.doc.JournalBase {
		return nil
	}
	prev := s.doc.JournalBase
	s.doc.JournalBase = n
	if err := s.save(); err != nil {
		s.doc.JournalBase = prev
		return err
	}
	return nil
}

// Snapshot returns the current counters for status reporting.
func (s *State) Snapshot() (commandCounter, cursor, journalBase int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.CommandCounter, s.doc.Cursor, s.doc.JournalBase
}

func (s *State) save() error {
	raw, err := json.Marshal(s.doc)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("create state temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync state temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
