package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"tripline/internal/config"
	"tripline/internal/conflict"
	"tripline/internal/ics"
	appLog "tripline/internal/log"
	"tripline/internal/model"
	"tripline/internal/pairing"
	"tripline/internal/store"
	"tripline/internal/timeline"
	"tripline/internal/timeutil"
)

const (
	maxJSONBody = 1 << 20
	maxICSBody  = 8 << 20
)

// Server exposes the consistency engine over HTTP: conflict checks for the
// event form, edit planning, the connector timeline and calendar interop.
type Server struct {
	cfg    *config.Config
	repo   store.Repository
	engine *timeline.Engine
	loc    *time.Location
	mux    *http.ServeMux
	now    func() time.Time
}

func NewServer(cfg *config.Config, repo store.Repository, engine *timeline.Engine) *Server {
	s := &Server{
		cfg:    cfg,
		repo:   repo,
		engine: engine,
		loc:    cfg.Location(),
		mux:    http.NewServeMux(),
		now:    time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials count as disabled.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="tripline", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/groups/{group}/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/groups/{group}/events", s.handleSaveEvent)
	s.mux.HandleFunc("DELETE /api/groups/{group}/events/{id}", s.handleDeleteEvent)

	s.mux.HandleFunc("POST /api/groups/{group}/conflicts", s.handleConflicts)
	s.mux.HandleFunc("GET /api/groups/{group}/overlaps", s.handleOverlaps)
	s.mux.HandleFunc("POST /api/groups/{group}/pairing", s.handlePairing)
	s.mux.HandleFunc("GET /api/groups/{group}/timeline", s.handleTimeline)

	s.mux.HandleFunc("GET /api/groups/{group}/events.ics", s.handleExport)
	s.mux.HandleFunc("POST /api/groups/{group}/import", s.handleImport)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleListEvents returns the group's events in day order, optionally for
// one date (?date=).
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, ok := s.loadEvents(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, timeline.Order(events))
}

// handleConflicts runs the pre-save check for a candidate event. It never
// blocks anything; the form decides what to do with the answer.
func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")
	var candidate model.Event
	if !decodeJSON(w, r, &candidate) {
		return
	}
	candidate.GroupID = group

	existing, err := s.repo.ListDay(r.Context(), group, candidate.Date)
	if err != nil {
		s.internalError(w, "list day failed", err, "group", group)
		return
	}
	writeJSON(w, http.StatusOK, conflict.Check(candidate, existing))
}

func (s *Server) handleOverlaps(w http.ResponseWriter, r *http.Request) {
	events, ok := s.loadEvents(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conflict.CheckDay(events))
}

// handlePairing previews what saving the posted event would persist,
// without writing anything.
func (s *Server) handlePairing(w http.ResponseWriter, r *http.Request) {
	plan, _, ok := s.plan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

type saveResponse struct {
	pairing.EditPlan
	Conflict conflict.Result `json:"conflict"`
}

// handleSaveEvent creates or updates an event together with its paired
// half and its synthesized transfer.
func (s *Server) handleSaveEvent(w http.ResponseWriter, r *http.Request) {
	plan, existing, ok := s.plan(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	toSave := []*model.Event{&plan.Event}
	if plan.Paired != nil {
		toSave = append(toSave, plan.Paired)
	}
	if plan.NewTransfer != nil {
		toSave = append(toSave, plan.NewTransfer)
	}
	for _, e := range toSave {
		if err := s.repo.Save(ctx, e); err != nil {
			s.internalError(w, "save event failed", err, "id", e.ID)
			return
		}
	}

	resp := saveResponse{
		EditPlan: plan,
		Conflict: conflict.Check(plan.Event, existing),
	}
	appLog.Info("event saved",
		"group", plan.Event.GroupID,
		"id", plan.Event.ID,
		"type", plan.Event.Type,
		"paired", plan.Paired != nil,
		"new_transfer", plan.NewTransfer != nil,
		"conflict", resp.Conflict.HasConflict,
	)
	writeJSON(w, http.StatusOK, resp)
}

// plan decodes the posted event and resolves it against the stored state.
func (s *Server) plan(w http.ResponseWriter, r *http.Request) (pairing.EditPlan, []model.Event, bool) {
	group := r.PathValue("group")
	ctx := r.Context()

	var after model.Event
	if !decodeJSON(w, r, &after) {
		return pairing.EditPlan{}, nil, false
	}
	after.GroupID = group

	var before *model.Event
	if after.ID != "" {
		stored, err := s.repo.Get(ctx, after.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			s.internalError(w, "get event failed", err, "id", after.ID)
			return pairing.EditPlan{}, nil, false
		case stored.GroupID != group:
			writeError(w, http.StatusNotFound, "event not found")
			return pairing.EditPlan{}, nil, false
		default:
			before = &stored
		}
	}
	if before == nil && !after.Type.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event type %q", after.Type))
		return pairing.EditPlan{}, nil, false
	}

	existing, err := s.repo.ListGroup(ctx, group)
	if err != nil {
		s.internalError(w, "list group failed", err, "group", group)
		return pairing.EditPlan{}, nil, false
	}
	return pairing.PlanEdit(before, after, existing), existing, true
}

// handleDeleteEvent removes an event and the transfer it owns.
func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	group, id := r.PathValue("group"), r.PathValue("id")
	ctx := r.Context()

	e, err := s.repo.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && e.GroupID != group) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		s.internalError(w, "get event failed", err, "id", id)
		return
	}

	existing, err := s.repo.ListGroup(ctx, group)
	if err != nil {
		s.internalError(w, "list group failed", err, "group", group)
		return
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		s.internalError(w, "delete event failed", err, "id", id)
		return
	}
	// Only transfers explicitly linked to the parent go with it; an unlinked
	// transfer at the same clock may belong to someone else.
	for _, child := range existing {
		if !child.IsTransfer() || child.ParentID != e.ID || child.ID == e.ID {
			continue
		}
		if err := s.repo.Delete(ctx, child.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.internalError(w, "delete transfer failed", err, "id", child.ID)
			return
		}
	}
	appLog.Info("event deleted", "group", group, "id", id)
	w.WriteHeader(http.StatusNoContent)
}

type timelineResponse struct {
	Days []timeline.Day `json:"days"`
}

// handleTimeline renders connectors for one day (?date=) or for every day
// of the group.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")
	ctx := r.Context()
	date := r.URL.Query().Get("date")

	var days []timeline.Day
	if date != "" {
		key, ok := timeutil.NormalizeDate(date)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid date")
			return
		}
		events, err := s.repo.ListDay(ctx, group, key)
		if err != nil {
			s.internalError(w, "list day failed", err, "group", group)
			return
		}
		day := s.engine.Build(ctx, events)
		day.Date = key
		days = []timeline.Day{day}
	} else {
		events, err := s.repo.ListGroup(ctx, group)
		if err != nil {
			s.internalError(w, "list group failed", err, "group", group)
			return
		}
		days = s.engine.BuildRange(ctx, events)
	}

	alerts := 0
	for _, d := range days {
		alerts += len(d.Alerts())
	}
	appLog.Debug("timeline built", "group", group, "date", date, "days", len(days), "alerts", alerts)
	writeJSON(w, http.StatusOK, timelineResponse{Days: days})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")
	events, err := s.repo.ListGroup(r.Context(), group)
	if err != nil {
		s.internalError(w, "list group failed", err, "group", group)
		return
	}
	body, err := ics.Export(group, timeline.Order(events), s.loc)
	if err != nil {
		s.internalError(w, "export failed", err, "group", group)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", group+".ics"))
	_, _ = io.WriteString(w, body)
}

type importResponse struct {
	Imported  int      `json:"imported"`
	Truncated []string `json:"truncated,omitempty"`
}

// handleImport reads an ICS body and stores its events in the group.
// Recurrences are expanded from ?backfill= days ago (default 30) to ?days=
// days ahead (default 365).
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxICSBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	q := r.URL.Query()
	now := s.now().In(s.loc)
	cfg := ics.ExpandConfig{
		GroupID:    group,
		Location:   s.loc,
		RangeStart: now.AddDate(0, 0, -parseIntDefault(q.Get("backfill"), 30)),
		RangeEnd:   now.AddDate(0, 0, parseIntDefault(q.Get("days"), 365)),
	}
	res, err := ics.Decode(group, body, cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid calendar: "+err.Error())
		return
	}

	if err := s.saveAll(ctx, res.Events); err != nil {
		s.internalError(w, "import save failed", err, "group", group)
		return
	}
	appLog.Info("calendar imported", "group", group, "events", len(res.Events), "truncated", len(res.Truncated))
	writeJSON(w, http.StatusOK, importResponse{Imported: len(res.Events), Truncated: res.Truncated})
}

func (s *Server) saveAll(ctx context.Context, events []model.Event) error {
	for i := range events {
		if err := s.repo.Save(ctx, &events[i]); err != nil {
			return err
		}
	}
	return nil
}

// loadEvents lists the group, or one day of it when ?date= is set.
func (s *Server) loadEvents(w http.ResponseWriter, r *http.Request) ([]model.Event, bool) {
	group := r.PathValue("group")
	date := r.URL.Query().Get("date")

	var (
		events []model.Event
		err    error
	)
	if date != "" {
		events, err = s.repo.ListDay(r.Context(), group, date)
	} else {
		events, err = s.repo.ListGroup(r.Context(), group)
	}
	if err != nil {
		s.internalError(w, "list events failed", err, "group", group, "date", date)
		return nil, false
	}
	if events == nil {
		events = []model.Event{}
	}
	return events, true
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error, kv ...any) {
	appLog.Error(msg, err, kv...)
	writeError(w, http.StatusInternalServerError, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
