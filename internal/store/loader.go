package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/attlog"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/model"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/observability"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/state"
)

// Loader drains the journal into the attendance store. The processing cursor
// counts every journal entry ever consumed; the journal base counts entries
// the retention sweep removed from the front of the file. Their difference is
// the physical line offset to resume from.
type Loader struct {
	Journal  *attlog.Journal
	State    *state.State
	Repo     *Repo
	Interval time.Duration
}

func (l *Loader) Run(ctx context.Context) {
	interval := l.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := l.RunOnce(ctx); err != nil {
				slog.Warn("journal load pass failed", "error", err)
			}
		}
	}
}

// RunOnce consumes everything currently past the cursor. Rows are committed
// before the cursor moves; a crash between the two steps replays a journal
// suffix that the unique index then discards.
func (l *Loader) RunOnce(ctx context.Context) (int64, error) {
	cursor := l.State.Cursor()
	base := l.State.JournalBase()
	skip := cursor - base
	if skip < 0 {
		// Resume from the start of the file; anything read twice is
		// absorbed by the unique index.
		slog.Warn("cursor behind journal base", "cursor", cursor, "base", base)
		skip = 0
	}

	entries, covered, err := l.Journal.Read(skip)
	if err != nil {
		return 0, err
	}
	if covered == 0 {
		return 0, nil
	}

	valid := make([]model.Punch, 0, len(entries))
	for _, p := range entries {
		if _, err := time.Parse(model.TimeLayout, p.Timestamp); err != nil {
			slog.Warn("journal entry has malformed timestamp", "zkid", p.ExternalID, "timestamp", p.Timestamp)
			continue
		}
		valid = append(valid, p)
	}

	inserted, err := l.Repo.InsertPunches(ctx, valid)
	if err != nil {
		return 0, err
	}
	if err := l.State.SetCursor(cursor + covered); err != nil {
		return inserted, err
	}
	observability.RowsLoadedTotal.Add(float64(inserted))
	if inserted > 0 {
		slog.Info("journal entries absorbed", "consumed", covered, "rows", inserted)
	}
	return inserted, nil
}
