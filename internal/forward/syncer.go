package forward

import (
	"context"
	"log/slog"
	"time"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/observability"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/store"
)

// Syncer pushes stored punches to the aggregation API in insertion order.
// A row is settled once its acknowledgement is written back; the in-memory
// high-water mark keeps settled prefixes out of later scans. A crash between
// the remote call and the write-back re-sends exactly that row on restart.
type Syncer struct {
	Repo     *store.Repo
	Client   *Client
	Interval time.Duration
	Batch    int

	sinceID uint
}

func (s *Syncer) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.RunOnce(ctx); err != nil {
				slog.Warn("forward pass failed", "error", err)
			}
		}
	}
}

// RunOnce forwards one batch of pending rows. A remote rejection skips just
// that row (it stays pending and is retried next pass); transport trouble
// aborts the pass since it would hit every remaining row too.
func (s *Syncer) RunOnce(ctx context.Context) (int, error) {
	rows, err := s.Repo.UnforwardedAfter(ctx, s.sinceID, s.Batch)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var sent int
	clean := true
	for _, row := range rows {
		if row.DeviceLabel == "" {
			row.DeviceLabel = s.Repo.DeviceLabel(ctx, row.DeviceSerial)
		}
		ack, err := s.Client.ForwardPunch(ctx, row)
		if err != nil {
			observability.ForwardsTotal.WithLabelValues("failed").Inc()
			if !IsRemoteRejection(err) {
				slog.Warn("punch forward failed", "id", row.ID, "zkid", row.ExternalID, "error", err)
				return sent, err
			}
			slog.Warn("punch rejected by remote", "id", row.ID, "zkid", row.ExternalID, "error", err)
			clean = false
			continue
		}
		if err := s.Repo.MarkForwarded(ctx, row.ID, ack.Status, ack.Key, ack.ID); err != nil {
			return sent, err
		}
		sent++
		observability.ForwardsTotal.WithLabelValues("sent").Inc()
		slog.Debug("punch forwarded", "id", row.ID, "zkid", row.ExternalID, "remote_id", ack.ID)
		// The mark may only trail a rejected row, never jump over it.
		if clean {
			s.sinceID = row.ID
		}
	}
	if sent > 0 {
		slog.Info("forward pass complete", "sent", sent, "retrying", len(rows)-sent)
	}
	return sent, nil
}
