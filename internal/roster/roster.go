package roster

import (
	"context"
	"log/slog"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/forward"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/store"
)

// Refresher mirrors the remote device and staff registers into local tables.
// The roster is advisory (it resolves labels for serials that are not in the
// endpoint config), so every failure here is logged and swallowed.
type Refresher struct {
	Client *forward.Client
	Repo   *store.Repo
}

// Refresh pulls both registers once. Runs at startup and on the daily
// schedule.
func (r *Refresher) Refresh(ctx context.Context) {
	devices, err := r.Client.FetchDeviceRoster(ctx)
	if err != nil {
		slog.Warn("device roster fetch failed", "error", err)
	} else if err := r.Repo.UpsertRosterDevices(ctx, devices); err != nil {
		slog.Warn("device roster store failed", "error", err)
	} else {
		slog.Info("device roster refreshed", "rows", len(devices))
	}

	staff, err := r.Client.FetchStaffRoster(ctx)
	if err != nil {
		slog.Warn("staff roster fetch failed", "error", err)
	} else if err := r.Repo.UpsertRosterStaff(ctx, staff); err != nil {
		slog.Warn("staff roster store failed", "error", err)
	} else {
		slog.Info("staff roster refreshed", "rows", len(staff))
	}
}
