package roster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/forward"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/store"
)

func openTestRepo(t *testing.T) *store.Repo {
	t.Helper()
	dsn := "file:roster_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := store.New(db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func TestRefreshMirrorsRegisters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// The escaped "ZK%20Device" segment arrives decoded.
		switch r.URL.Path {
		case "/52531/V2-tok/ZK Device/select.json":
			w.Write([]byte(`[
				{"Id": 1, "SN": "CGFE212060291", "Device": "Front Gate"},
				{"Id": 2, "SN": "CGFE212060292", "Device": "Workshop"},
				{"Id": 3, "Device": "no serial, skipped"}
			]`))
		case "/52531/V2-tok/Staff/ZK_DATA/select.json":
			w.Write([]byte(`[
				{"Id": 7, "Employee_Name": "J Smith", "Staff_Id": "1001", "Access_Control": "Yes"}
			]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	repo := openTestRepo(t)
	ref := &Refresher{Client: forward.New(srv.URL, "52531", "V2-tok"), Repo: repo}
	ref.Refresh(context.Background())

	if got := repo.DeviceLabel(context.Background(), "CGFE212060291"); got != "Front Gate" {
		t.Fatalf("expected Front Gate, got %q", got)
	}
	if got := repo.DeviceLabel(context.Background(), "CGFE212060292"); got != "Workshop" {
		t.Fatalf("expected Workshop, got %q", got)
	}
}

func TestRefreshSurvivesRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	repo := openTestRepo(t)
	ref := &Refresher{Client: forward.New(srv.URL, "52531", "V2-tok"), Repo: repo}
	// Must not panic or write anything.
	ref.Refresh(context.Background())
	if got := repo.DeviceLabel(context.Background(), "CGFE212060291"); got != "" {
		t.Fatalf("expected no labels after failed refresh, got %q", got)
	}
}
