package store

import (
	"context"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/model"
)

func openTestRepo(t *testing.T) *Repo {
	t.Helper()
	// Use a unique in-memory DB per test to avoid cross-test contamination.
	dsn := "file:store_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func testPunch(extID, ts string) model.Punch {
	return model.Punch{
		ExternalID:   extID,
		Timestamp:    ts,
		Direction:    0,
		EventType:    1,
		DeviceSerial: "SN1",
		LoggedAt:     "2025-03-01T08:20:00Z",
	}
}

func TestInsertPunchesIdempotent(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	batch := []model.Punch{
		testPunch("1001", "2025-03-01 08:15:22"),
		testPunch("1002", "2025-03-01 08:15:40"),
	}
	n, err := repo.InsertPunches(ctx, batch)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 inserted, got %d", n)
	}

	n, err = repo.InsertPunches(ctx, batch)
	if err != nil {
		t.Fatalf("replay insert: %v", err)
	}
	if n != 0 {
		t.Fatalf("replay must insert nothing, got %d", n)
	}

	total, err := repo.CountPunches(ctx)
	if err != nil || total != 2 {
		t.Fatalf("expected 2 rows, got %d %v", total, err)
	}
}

func TestInsertPunchesConflictWithinBatch(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	n, err := repo.InsertPunches(ctx, []model.Punch{
		testPunch("1001", "2025-03-01 08:15:22"),
		testPunch("1001", "2025-03-01 08:15:22"),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 inserted, got %d", n)
	}
}

func TestInsertPunchesKeepsAux(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	p := testPunch("1001", "2025-03-01 08:15:22")
	p.Aux = []string{"0", "4213"}
	p.DeviceRecordID = "4213"
	if _, err := repo.InsertPunches(ctx, []model.Punch{p}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	rows, err := repo.RecentPunches(ctx, 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("recent: %v rows=%d", err, len(rows))
	}
	if rows[0].DeviceRecordID != "4213" {
		t.Fatalf("expected record id kept, got %q", rows[0].DeviceRecordID)
	}
	if string(rows[0].Aux) != `["0","4213"]` {
		t.Fatalf("unexpected aux payload: %s", rows[0].Aux)
	}
}

func TestUnforwardedScanAndMark(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	if _, err := repo.InsertPunches(ctx, []model.Punch{
		testPunch("1001", "2025-03-01 08:00:00"),
		testPunch("1002", "2025-03-01 08:00:01"),
		testPunch("1003", "2025-03-01 08:00:02"),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := repo.UnforwardedAfter(ctx, 0, 10)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(rows))
	}
	if rows[0].ID >= rows[1].ID || rows[1].ID >= rows[2].ID {
		t.Fatalf("scan must return insertion order")
	}

	if err := repo.MarkForwarded(ctx, rows[0].ID, "200", "k-1", "9001"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	pending, err := repo.CountUnforwarded(ctx)
	if err != nil || pending != 2 {
		t.Fatalf("expected 2 pending, got %d %v", pending, err)
	}

	// High-water scan skips everything at or below the mark.
	rest, err := repo.UnforwardedAfter(ctx, rows[1].ID, 10)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(rest) != 1 || rest[0].ExternalID != "1003" {
		t.Fatalf("expected only 1003 past the mark, got %+v", rest)
	}

	marked, err := repo.RecentPunches(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	var found bool
	for _, row := range marked {
		if row.ID == rows[0].ID {
			found = true
			if row.ForwardStatus == nil || *row.ForwardStatus != "200" {
				t.Fatalf("forward status not stored: %+v", row)
			}
			if row.ForwardKey == nil || *row.ForwardKey != "k-1" {
				t.Fatalf("forward key not stored: %+v", row)
			}
			if row.ForwardID == nil || *row.ForwardID != "9001" {
				t.Fatalf("forward id not stored: %+v", row)
			}
		}
	}
	if !found {
		t.Fatalf("marked row missing from recent scan")
	}
}

func TestMarkForwardedMissingRow(t *testing.T) {
	repo := openTestRepo(t)
	if err := repo.MarkForwarded(context.Background(), 999, "200", "k", "id"); err == nil {
		t.Fatalf("expected error for missing row")
	}
}

func TestRosterUpserts(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	if err := repo.UpsertRosterDevices(ctx, []RosterDevice{
		{Serial: "SN1", Label: "Front Gate"},
		{Serial: "SN2", Label: "Workshop"},
	}); err != nil {
		t.Fatalf("upsert devices: %v", err)
	}
	if got := repo.DeviceLabel(ctx, "SN2"); got != "Workshop" {
		t.Fatalf("expected Workshop, got %q", got)
	}

	// Second refresh renames a device.
	if err := repo.UpsertRosterDevices(ctx, []RosterDevice{{Serial: "SN2", Label: "Workshop East"}}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if got := repo.DeviceLabel(ctx, "SN2"); got != "Workshop East" {
		t.Fatalf("expected renamed label, got %q", got)
	}
	if got := repo.DeviceLabel(ctx, "missing"); got != "" {
		t.Fatalf("expected empty label for unknown serial, got %q", got)
	}

	if err := repo.UpsertRosterStaff(ctx, []RosterStaff{{ExternalID: "1001", Name: "J Smith"}}); err != nil {
		t.Fatalf("upsert staff: %v", err)
	}
	if err := repo.UpsertRosterStaff(ctx, []RosterStaff{{ExternalID: "1001", Name: "J Smith-Brown"}}); err != nil {
		t.Fatalf("re-upsert staff: %v", err)
	}
}

func TestRecentPunchesNewestFirst(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	if _, err := repo.InsertPunches(ctx, []model.Punch{
		testPunch("1001", "2025-03-01 08:00:00"),
		testPunch("1002", "2025-03-01 08:00:01"),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	rows, err := repo.RecentPunches(ctx, 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 1 || rows[0].ExternalID != "1002" {
		t.Fatalf("expected newest row first, got %+v", rows)
	}
}
