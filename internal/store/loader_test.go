package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/attlog"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/model"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/state"
)

func loaderFixture(t *testing.T) (*Loader, *attlog.Journal, *state.State) {
	t.Helper()
	dir := t.TempDir()
	j := attlog.NewJournal(filepath.Join(dir, "Attlog.json"))
	st, err := state.Open(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	l := &Loader{Journal: j, State: st, Repo: openTestRepo(t)}
	return l, j, st
}

func journaled(extID, ts string) model.Punch {
	p := testPunch(extID, ts)
	p.LoggedAt = time.Now().UTC().Format(time.RFC3339)
	return p
}

func TestLoaderAbsorbsJournal(t *testing.T) {
	l, j, st := loaderFixture(t)
	ctx := context.Background()
	if err := j.Append([]model.Punch{
		journaled("1001", "2025-03-01 08:00:00"),
		journaled("1002", "2025-03-01 08:00:01"),
		journaled("1003", "2025-03-01 08:00:02"),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	inserted, err := l.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if inserted != 3 {
		t.Fatalf("expected 3 inserted, got %d", inserted)
	}
	if st.Cursor() != 3 {
		t.Fatalf("expected cursor 3, got %d", st.Cursor())
	}

	// Nothing new: a second pass is a no-op.
	inserted, err = l.RunOnce(ctx)
	if err != nil || inserted != 0 {
		t.Fatalf("expected idle pass, got %d %v", inserted, err)
	}

	// More arrivals only move the cursor forward.
	if err := j.Append([]model.Punch{journaled("1004", "2025-03-01 08:00:03")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	inserted, err = l.RunOnce(ctx)
	if err != nil || inserted != 1 {
		t.Fatalf("expected 1 inserted, got %d %v", inserted, err)
	}
	if st.Cursor() != 4 {
		t.Fatalf("expected cursor 4, got %d", st.Cursor())
	}
	total, err := l.Repo.CountPunches(ctx)
	if err != nil || total != 4 {
		t.Fatalf("expected 4 rows, got %d %v", total, err)
	}
}

func TestLoaderSkipsMalformedTimestampButAdvances(t *testing.T) {
	l, j, st := loaderFixture(t)
	ctx := context.Background()
	bad := journaled("1002", "not a timestamp")
	if err := j.Append([]model.Punch{
		journaled("1001", "2025-03-01 08:00:00"),
		bad,
		journaled("1003", "2025-03-01 08:00:02"),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	inserted, err := l.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("expected 2 inserted around the bad entry, got %d", inserted)
	}
	if st.Cursor() != 3 {
		t.Fatalf("cursor must advance past the bad entry, got %d", st.Cursor())
	}
}

func TestLoaderReplayAfterLostCursorIsHarmless(t *testing.T) {
	dir := t.TempDir()
	j := attlog.NewJournal(filepath.Join(dir, "Attlog.json"))
	repo := openTestRepo(t)
	ctx := context.Background()

	st1, err := state.Open(filepath.Join(dir, "state1.json"))
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	first := &Loader{Journal: j, State: st1, Repo: repo}
	if err := j.Append([]model.Punch{
		journaled("1001", "2025-03-01 08:00:00"),
		journaled("1002", "2025-03-01 08:00:01"),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := first.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	// A crash before the cursor landed replays the whole journal.
	st2, err := state.Open(filepath.Join(dir, "state2.json"))
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	second := &Loader{Journal: j, State: st2, Repo: repo}
	inserted, err := second.RunOnce(ctx)
	if err != nil {
		t.Fatalf("replay run: %v", err)
	}
	if inserted != 0 {
		t.Fatalf("replay must insert nothing, got %d", inserted)
	}
	if st2.Cursor() != 2 {
		t.Fatalf("replay must still advance the cursor, got %d", st2.Cursor())
	}
	total, err := repo.CountPunches(ctx)
	if err != nil || total != 2 {
		t.Fatalf("expected 2 rows after replay, got %d %v", total, err)
	}
}

func TestLoaderResumesAcrossRetention(t *testing.T) {
	l, j, st := loaderFixture(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-96 * time.Hour).Format(time.RFC3339)
	oldPunch := func(extID, ts string) model.Punch {
		p := testPunch(extID, ts)
		p.LoggedAt = old
		return p
	}
	if err := j.Append([]model.Punch{
		oldPunch("1001", "2025-03-01 08:00:00"),
		oldPunch("1002", "2025-03-01 08:00:01"),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := l.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	sweep := &attlog.Retention{Journal: j, State: st, Window: 72 * time.Hour}
	dropped, err := sweep.Sweep()
	if err != nil || dropped != 2 {
		t.Fatalf("expected sweep to drop 2, got %d %v", dropped, err)
	}

	// Arrivals after the sweep land at the right offset.
	if err := j.Append([]model.Punch{journaled("1003", "2025-03-01 09:00:00")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	inserted, err := l.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run after sweep: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("expected exactly the new entry, got %d", inserted)
	}
	total, err := l.Repo.CountPunches(ctx)
	if err != nil || total != 3 {
		t.Fatalf("expected 3 rows, got %d %v", total, err)
	}
	if st.Cursor() != 3 {
		t.Fatalf("expected cursor 3, got %d", st.Cursor())
	}
}
