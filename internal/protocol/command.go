package protocol

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/observability"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/state"
)

const queryDateLayout = "2006-01-02"

// PendingCommand describes a command handed to a device that has not been
// acknowledged on /iclock/devicecmd yet.
type PendingCommand struct {
	ID       int64
	Endpoint string
	Text     string
	IssuedAt time.Time
}

// Commander hands out at most one ATTLOG query per device endpoint per
// cycle. Ids come from the durable counter so they never repeat across
// restarts; the issued flags live in memory and are cleared on the re-arm
// schedule.
type Commander struct {
	state    *state.State
	template string
	location *time.Location

	mu      sync.Mutex
	issued  map[string]bool
	pending map[int64]PendingCommand
}

func NewCommander(st *state.State, template string, tzOffsetMinutes int) *Commander {
	return &Commander{
		state:    st,
		template: template,
		location: time.FixedZone("device", tzOffsetMinutes*60),
		issued:   map[string]bool{},
		pending:  map[int64]PendingCommand{},
	}
}

// Issue returns the wire-format command for an endpoint, or ok=false when
// the endpoint already received its command this cycle.
func (c *Commander) Issue(endpoint string) (string, bool) {
	now := time.Now()
	c.mu.Lock()
	if c.issued[endpoint] {
		c.mu.Unlock()
		return "", false
	}
	id, err := c.state.NextCommandID()
	if err != nil {
		// Without a durable id the command is not handed out at all;
		// the next poll retries.
		c.mu.Unlock()
		slog.Error("command id allocation failed", "endpoint", endpoint, "error", err)
		return "", false
	}
	c.issued[endpoint] = true
	text := c.queryText(now)
	c.pending[id] = PendingCommand{ID: id, Endpoint: endpoint, Text: text, IssuedAt: now.UTC()}
	c.mu.Unlock()

	observability.CommandsIssuedTotal.Inc()
	slog.Info("device command issued", "endpoint", endpoint, "id", id)
	return fmt.Sprintf("C:%d:%s", id, text), true
}

// queryText renders the command template with yesterday and today in the
// device timezone.
func (c *Commander) queryText(now time.Time) string {
	local := now.In(c.location)
	end := local.Format(queryDateLayout)
	start := local.AddDate(0, 0, -1).Format(queryDateLayout)
	return strings.NewReplacer("{start}", start, "{end}", end).Replace(c.template)
}

// MarkDelivered clears a pending command once the device acknowledged it.
func (c *Commander) MarkDelivered(id int64) bool {
	c.mu.Lock()
	cmd, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		slog.Info("device command delivered", "id", id, "endpoint", cmd.Endpoint)
	} else {
		slog.Warn("acknowledgement for unknown command", "id", id)
	}
	return ok
}

// Rearm clears the per-endpoint issued flags so the next poll from each
// device gets a fresh query. Runs on the configured cron schedule.
func (c *Commander) Rearm() {
	c.mu.Lock()
	n := len(c.issued)
	c.issued = map[string]bool{}
	c.mu.Unlock()
	slog.Info("command cycle re-armed", "endpoints", n)
}

// Pending returns the commands still awaiting acknowledgement.
func (c *Commander) Pending() []PendingCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingCommand, 0, len(c.pending))
	for _, cmd := range c.pending {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
