package attlog

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/model"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/observability"
)

// Publisher receives punches that were accepted into the journal. Optional;
// the realtime MQTT client implements it.
type Publisher interface {
	PublishPunch(p model.Punch)
}

// Normalizer turns raw ATTLOG upload bodies into journal entries. It keeps an
// in-memory duplicate filter keyed by punch identity, rebuilt from the
// journal at startup so restarts keep rejecting punches already on disk.
type Normalizer struct {
	Journal   *Journal
	Publisher Publisher

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewNormalizer(j *Journal) *Normalizer {
	return &Normalizer{Journal: j, seen: map[string]struct{}{}}
}

// Rehydrate rebuilds the duplicate filter from the journal contents.
func (n *Normalizer) Rehydrate() error {
	entries, _, err := n.Journal.Read(0)
	if err != nil {
		return err
	}
	n.mu.Lock()
	for _, p := range entries {
		n.seen[p.Key()] = struct{}{}
	}
	n.mu.Unlock()
	slog.Info("duplicate filter rehydrated", "entries", len(entries))
	return nil
}

// SeenCount returns the size of the duplicate filter, for status reporting.
func (n *Normalizer) SeenCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.seen)
}

// HandleBatch tokenizes one upload body and journals the punches that survive
// parsing and duplicate filtering. A bad line is logged and skipped; it never
// fails the rest of the batch. Returns the number of punches accepted.
func (n *Normalizer) HandleBatch(serial, label string, body []byte) int {
	if strings.TrimSpace(serial) == "" {
		serial = model.UnknownSerial
	}
	batchID := uuid.New().String()
	loggedAt := time.Now().UTC().Format(time.RFC3339)

	n.mu.Lock()
	var fresh []model.Punch
	pending := map[string]struct{}{}
	for _, raw := range strings.Split(string(body), "\n") {
		raw = strings.TrimRight(raw, "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		p, err := model.ParseLine(raw)
		if err != nil {
			observability.PunchesTotal.WithLabelValues(serial, "rejected").Inc()
			slog.Warn("attlog line rejected", "serial", serial, "error", err)
			continue
		}
		p.DeviceSerial = serial
		p.DeviceLabel = label
		p.LoggedAt = loggedAt
		p.BatchID = batchID

		key := p.Key()
		if _, dup := n.seen[key]; dup {
			observability.PunchesTotal.WithLabelValues(serial, "duplicate").Inc()
			slog.Debug("duplicate punch dropped", "serial", serial, "key", key)
			continue
		}
		if _, dup := pending[key]; dup {
			observability.PunchesTotal.WithLabelValues(serial, "duplicate").Inc()
			continue
		}
		pending[key] = struct{}{}
		fresh = append(fresh, p)
	}
	if len(fresh) == 0 {
		n.mu.Unlock()
		return 0
	}

	if err := n.Journal.Append(fresh); err != nil {
		// Keys stay out of the filter so a later retry can land them.
		n.mu.Unlock()
		slog.Error("journal append failed", "serial", serial, "rows", len(fresh), "error", err)
		return 0
	}
	for k := range pending {
		n.seen[k] = struct{}{}
	}
	n.mu.Unlock()

	observability.PunchesTotal.WithLabelValues(serial, "accepted").Add(float64(len(fresh)))
	if n.Publisher != nil {
		for _, p := range fresh {
			n.Publisher.PublishPunch(p)
		}
	}
	slog.Info("attlog batch journaled", "serial", serial, "rows", len(fresh), "batch", batchID)
	return len(fresh)
}
