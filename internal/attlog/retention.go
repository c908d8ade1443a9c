package attlog

import (
	"log/slog"
	"time"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/state"
)

// Retention trims the front of the journal. Only entries the loader has
// already consumed are candidates, and of those only the ones older than the
// window go. The base offset is persisted before the file shrinks: if the
// process dies between the two steps the loader re-reads a consumed prefix,
// which the store's unique index discards.
type Retention struct {
	Journal *Journal
	State   *state.State
	Window  time.Duration
}

// Sweep performs one retention pass and returns the number of dropped lines.
func (r *Retention) Sweep() (int64, error) {
	cursor := r.State.Cursor()
	base := r.State.JournalBase()
	consumed := cursor - base
	if consumed <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-r.Window)
	n, err := r.Journal.droppablePrefix(consumed, cutoff)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	if err := r.State.SetJournalBase(base + n); err != nil {
		return 0, err
	}
	if err := r.Journal.DropPrefix(n); err != nil {
		return 0, err
	}
	slog.Info("journal retention sweep", "dropped", n, "base", base+n)
	return n, nil
}
