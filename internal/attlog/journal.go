package attlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/model"
)

const maxJournalLine = 1 << 20

// Journal is the durable intermediate log between the device gateway and the
// attendance store. One JSON-encoded punch per line, append order = arrival
// order. Every mutation builds the next version in a temp file and renames it
// over the old one, so a reader (or a crash) never observes a torn file.
// Existing lines are copied verbatim on append; only new entries are encoded.
type Journal struct {
	path string
	mu   sync.Mutex
}

func NewJournal(path string) *Journal { return &Journal{path: path} }

func (j *Journal) Path() string { return j.path }

// Append adds punches to the end of the journal.
func (j *Journal) Append(punches []model.Punch) error {
	if len(punches) == 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(j.path), ".attlog-*")
	if err != nil {
		return fmt.Errorf("create journal temp file: %w", err)
	}
	tmpName := tmp.Name()
	abort := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	src, err := os.Open(j.path)
	if err == nil {
		_, err = io.Copy(tmp, src)
		src.Close()
		if err != nil {
			return abort(fmt.Errorf("copy journal contents: %w", err))
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return abort(fmt.Errorf("open journal: %w", err))
	}

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for i := range punches {
		if err := enc.Encode(&punches[i]); err != nil {
			return abort(fmt.Errorf("encode journal entry: %w", err))
		}
	}
	if err := w.Flush(); err != nil {
		return abort(fmt.Errorf("flush journal temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return abort(fmt.Errorf("sync journal temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, j.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace journal: %w", err)
	}
	return nil
}

// Read decodes the entries after skipping the first skip lines. The second
// return value is the number of lines covered past the skip point, decodable
// or not, so callers can advance their cursor past entries that fail to
// decode instead of re-reading them forever.
func (j *Journal) Read(skip int64) ([]model.Punch, int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var (
		out     []model.Punch
		total   int64
		covered int64
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	for scanner.Scan() {
		total++
		if total <= skip {
			continue
		}
		covered++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var p model.Punch
		if err := json.Unmarshal(line, &p); err != nil {
			slog.Warn("journal entry not decodable", "line", total, "error", err)
			continue
		}
		out = append(out, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan journal: %w", err)
	}
	return out, covered, nil
}

// Count returns the number of lines currently in the journal.
func (j *Journal) Count() (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var total int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	for scanner.Scan() {
		total++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan journal: %w", err)
	}
	return total, nil
}

// droppablePrefix counts how many of the first limit lines were logged
// before cutoff, stopping at the first entry that is too recent. Lines that
// do not decode count as droppable; the loader has already skipped past them.
func (j *Journal) droppablePrefix(limit int64, cutoff time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var n int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	for scanner.Scan() {
		if n >= limit {
			break
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) > 0 {
			var p model.Punch
			if err := json.Unmarshal(line, &p); err == nil {
				loggedAt, err := time.Parse(time.RFC3339, p.LoggedAt)
				if err == nil && !loggedAt.Before(cutoff) {
					break
				}
			}
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan journal: %w", err)
	}
	return n, nil
}

// DropPrefix rewrites the journal without its first n lines. Callers must
// persist the matching base offset before invoking this, so a crash between
// the two steps leaves old entries in place rather than losing track of them.
func (j *Journal) DropPrefix(n int64) error {
	if n <= 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	tmp, err := os.CreateTemp(filepath.Dir(j.path), ".attlog-*")
	if err != nil {
		return fmt.Errorf("create journal temp file: %w", err)
	}
	tmpName := tmp.Name()
	abort := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	w := bufio.NewWriter(tmp)
	var total int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	for scanner.Scan() {
		total++
		if total <= n {
			continue
		}
		if _, err := w.Write(scanner.Bytes()); err != nil {
			return abort(fmt.Errorf("write journal temp file: %w", err))
		}
		if err := w.WriteByte('\n'); err != nil {
			return abort(fmt.Errorf("write journal temp file: %w", err))
		}
	}
	if err := scanner.Err(); err != nil {
		return abort(fmt.Errorf("scan journal: %w", err))
	}
	if err := w.Flush(); err != nil {
		return abort(fmt.Errorf("flush journal temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return abort(fmt.Errorf("sync journal temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, j.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace journal: %w", err)
	}
	return nil
}
