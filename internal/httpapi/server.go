package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/attlog"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/observability"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/protocol"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/state"
	"github.com/JacquesStrydom94/ZKTeco-Integration-Script/internal/store"
)

// Server is the read-only operational API. The device protocol never goes
// through here; this surface is for operators and dashboards.
type Server struct {
	repo       *store.Repo
	state      *state.State
	journal    *attlog.Journal
	normalizer *attlog.Normalizer
	commander  *protocol.Commander
}

func New(repo *store.Repo, st *state.State, j *attlog.Journal, n *attlog.Normalizer, c *protocol.Commander) *Server {
	return &Server{repo: repo, state: st, journal: j, normalizer: n, commander: c}
}

type statsResponse struct {
	CommandCounter  int64 `json:"command_counter"`
	Cursor          int64 `json:"cursor"`
	JournalBase     int64 `json:"journal_base"`
	JournalEntries  int64 `json:"journal_entries"`
	SeenPunches     int   `json:"seen_punches"`
	StoredPunches   int64 `json:"stored_punches"`
	PendingForwards int64 `json:"pending_forwards"`
	PendingCommands int   `json:"pending_commands"`
}

type recentPunchesResponse struct {
	Punches []store.AttendanceRecord `json:"punches"`
}

type pendingCommandDTO struct {
	ID       int64     `json:"id"`
	Endpoint string    `json:"endpoint"`
	Text     string    `json:"text"`
	IssuedAt time.Time `json:"issued_at"`
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", observability.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/api/stats", s.handleStats)
	r.Get("/api/punches/recent", s.handleRecentPunches)
	r.Get("/api/commands/pending", s.handlePendingCommands)
	return r
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counter, cursor, base := s.state.Snapshot()
	entries, err := s.journal.Count()
	if err != nil {
		slog.Error("journal count failed", "error", err)
		http.Error(w, "could not inspect journal", http.StatusInternalServerError)
		return
	}
	stored, err := s.repo.CountPunches(r.Context())
	if err != nil {
		slog.Error("store count failed", "error", err)
		http.Error(w, "could not query store", http.StatusInternalServerError)
		return
	}
	pending, err := s.repo.CountUnforwarded(r.Context())
	if err != nil {
		slog.Error("pending count failed", "error", err)
		http.Error(w, "could not query store", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		CommandCounter:  counter,
		Cursor:          cursor,
		JournalBase:     base,
		JournalEntries:  entries,
		SeenPunches:     s.normalizer.SeenCount(),
		StoredPunches:   stored,
		PendingForwards: pending,
		PendingCommands: len(s.commander.Pending()),
	})
}

func (s *Server) handleRecentPunches(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	punches, err := s.repo.RecentPunches(r.Context(), limit)
	if err != nil {
		slog.Error("recent punches query failed", "error", err)
		http.Error(w, "could not query store", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recentPunchesResponse{Punches: punches})
}

func (s *Server) handlePendingCommands(w http.ResponseWriter, r *http.Request) {
	cmds := s.commander.Pending()
	out := make([]pendingCommandDTO, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, pendingCommandDTO{ID: c.ID, Endpoint: c.Endpoint, Text: c.Text, IssuedAt: c.IssuedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
