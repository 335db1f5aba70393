package web

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripline/internal/config"
	"tripline/internal/conflict"
	"tripline/internal/model"
	"tripline/internal/oracle"
	"tripline/internal/pairing"
	"tripline/internal/store"
	"tripline/internal/timeline"
)

func newTestServer(t *testing.T, seed ...model.Event) (*httptest.Server, *store.MemoryRepository) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	repo := store.NewMemoryRepository(seed...)
	tr := oracle.NewStaticTransport([]oracle.StaticRoute{
		{From: "Museu do Amanhã", To: "Cristo Redentor", Minutes: 90},
	})
	s := NewServer(cfg, repo, timeline.NewEngine(oracle.NewClient(tr)))
	s.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, repo
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestBasicAuthSkipsHealth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "ops", Password: "secret"}
	s := NewServer(cfg, store.NewMemoryRepository(), timeline.NewEngine(nil))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/groups/g1/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/groups/g1/events", nil)
	req.SetBasicAuth("ops", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConflictsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t,
		model.Event{ID: "a", GroupID: "g1", Type: model.TypeVisit, Title: "Museu", Date: "2025-03-05", Time: "09:00", ToTime: "11:00"},
		model.Event{ID: "other", GroupID: "g2", Type: model.TypeVisit, Title: "Other", Date: "2025-03-05", Time: "09:00", ToTime: "11:00"},
	)

	resp := postJSON(t, srv.URL+"/api/groups/g1/conflicts", model.Event{Type: model.TypeFood, Title: "Almoço", Date: "05/03/2025", Time: "10:30", ToTime: "12:00"})
	res := decode[conflict.Result](t, resp)
	assert.True(t, res.HasConflict)
	require.Len(t, res.ConflictingEvents, 1)
	assert.Equal(t, "a", res.ConflictingEvents[0].ID)
	assert.Equal(t, `Time conflict with "Museu" (09:00-11:00)`, res.Message)

	resp = postJSON(t, srv.URL+"/api/groups/g1/conflicts", model.Event{Type: model.TypeFood, Date: "2025-03-05", Time: "11:00", ToTime: "12:00"})
	res = decode[conflict.Result](t, resp)
	assert.False(t, res.HasConflict)

	resp, err := http.Post(srv.URL+"/api/groups/g1/conflicts", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSaveSynthesizesTransferAndDeleteRemovesIt(t *testing.T) {
	srv, repo := newTestServer(t)

	flight := model.Event{
		Type: model.TypeFlight, Title: "LA3456", Date: "2025-03-05",
		FromTime: "08:00", ToTime: "09:10", FromCode: "GRU", ToCode: "GIG", HasTransfer: true,
	}
	saved := decode[saveResponse](t, postJSON(t, srv.URL+"/api/groups/g1/events", flight))
	require.NotEmpty(t, saved.Event.ID)
	require.NotNil(t, saved.NewTransfer)
	assert.Equal(t, saved.Event.ID, saved.NewTransfer.ParentID)
	assert.Equal(t, "09:10", saved.NewTransfer.Time)
	assert.Equal(t, "GIG", saved.NewTransfer.Location)

	// Saving again must not mint a second transfer.
	again := decode[saveResponse](t, postJSON(t, srv.URL+"/api/groups/g1/events", saved.Event))
	assert.Nil(t, again.NewTransfer)
	require.NotNil(t, again.ExistingTransfer)

	all, err := repo.ListGroup(t.Context(), "g1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/groups/g1/events/"+saved.Event.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	all, err = repo.ListGroup(t.Context(), "g1")
	require.NoError(t, err)
	assert.Empty(t, all)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteKeepsUnlinkedTransfers(t *testing.T) {
	srv, repo := newTestServer(t,
		model.Event{ID: "v", GroupID: "g1", Type: model.TypeVisit, Title: "Museu", Date: "2025-03-05", Time: "10:00", Duration: "2h", HasTransfer: true},
		model.Event{ID: "linked", GroupID: "g1", Type: model.TypeTransfer, Date: "2025-03-05", Time: "12:00", ParentID: "v"},
		model.Event{ID: "other", GroupID: "g1", Type: model.TypeTransfer, Title: "Van Copacabana", Date: "2025-03-05", Time: "12:00"},
	)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/groups/g1/events/v", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	all, err := repo.ListGroup(t.Context(), "g1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "other", all[0].ID)
}

func TestPairingPreviewDoesNotWrite(t *testing.T) {
	checkIn := model.Event{ID: "in", GroupID: "g1", Type: model.TypeHotel, Title: "Hotel Fasano", Subtitle: model.SubtitleCheckIn, Date: "2025-03-05", Time: "14:00"}
	srv, repo := newTestServer(t, checkIn)

	out := model.Event{Type: model.TypeHotel, Title: "Hotel Fasano", Subtitle: model.SubtitleCheckOut, Date: "2025-03-08", Time: "11:00", Location: "Av. Vieira Souto 80"}
	plan := decode[pairing.EditPlan](t, postJSON(t, srv.URL+"/api/groups/g1/pairing", out))
	require.NotNil(t, plan.Paired)
	assert.Equal(t, "in", plan.Paired.ID)
	assert.Equal(t, "Av. Vieira Souto 80", plan.Paired.Location)

	stored, err := repo.Get(t.Context(), "in")
	require.NoError(t, err)
	assert.Empty(t, stored.Location)

	resp := postJSON(t, srv.URL+"/api/groups/g1/pairing", model.Event{Type: "spaceship"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSaveRejectsForeignGroup(t *testing.T) {
	srv, _ := newTestServer(t, model.Event{ID: "x", GroupID: "g2", Type: model.TypeVisit, Date: "2025-03-05"})
	resp := postJSON(t, srv.URL+"/api/groups/g1/events", model.Event{ID: "x", Type: model.TypeVisit})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTimelineEndpoint(t *testing.T) {
	srv, _ := newTestServer(t,
		model.Event{ID: "a", GroupID: "g1", Type: model.TypeVisit, Title: "Museu", Date: "2025-03-05", Time: "09:00", ToTime: "10:00", Location: "Museu do Amanhã"},
		model.Event{ID: "b", GroupID: "g1", Type: model.TypeVisit, Title: "Cristo", Date: "05/03/2025", Time: "11:00", ToTime: "12:00", Location: "Cristo Redentor"},
		model.Event{ID: "c", GroupID: "g1", Type: model.TypeFood, Title: "Jantar", Date: "2025-03-06", Time: "20:00"},
	)

	resp, err := http.Get(srv.URL + "/api/groups/g1/timeline?date=05/03/2025")
	require.NoError(t, err)
	got := decode[timelineResponse](t, resp)
	require.Len(t, got.Days, 1)
	day := got.Days[0]
	assert.Equal(t, "2025-03-05", day.Date)
	require.Len(t, day.Items, 2)
	assert.Equal(t, timeline.StateDisplacement, day.Items[0].Connector.State)
	assert.Equal(t, "1h 30m", day.Items[0].Connector.Label)
	assert.Equal(t, timeline.StateEndOfDay, day.Items[1].Connector.State)

	resp, err = http.Get(srv.URL + "/api/groups/g1/timeline")
	require.NoError(t, err)
	got = decode[timelineResponse](t, resp)
	assert.Len(t, got.Days, 2)

	resp, err = http.Get(srv.URL + "/api/groups/g1/timeline?date=31/02/2025")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOverlapsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t,
		model.Event{ID: "a", GroupID: "g1", Type: model.TypeVisit, Date: "2025-03-05", Time: "09:00", ToTime: "11:00"},
		model.Event{ID: "b", GroupID: "g1", Type: model.TypeFood, Date: "2025-03-05", Time: "10:00", ToTime: "12:00"},
	)
	resp, err := http.Get(srv.URL + "/api/groups/g1/overlaps?date=2025-03-05")
	require.NoError(t, err)
	got := decode[[]conflict.Overlap](t, resp)
	require.Len(t, got, 1)
	assert.Equal(t, 60, got[0].Minutes)
}

func TestExportImportRoundTrip(t *testing.T) {
	srv, repo := newTestServer(t,
		model.Event{ID: "a", GroupID: "g1", Type: model.TypeVisit, Title: "Museu", Date: "2025-03-05", Time: "09:00", ToTime: "10:00"},
		model.Event{ID: "h", GroupID: "g1", Type: model.TypeHotel, Title: "Hotel Fasano", Subtitle: model.SubtitleCheckIn, Date: "2025-03-05", Time: "14:00"},
	)

	resp, err := http.Get(srv.URL + "/api/groups/g1/events.ics")
	require.NoError(t, err)
	assert.Equal(t, "text/calendar; charset=utf-8", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "SUMMARY:Hotel Fasano")

	resp, err = http.Post(srv.URL+"/api/groups/g2/import", "text/calendar", bytes.NewReader(body))
	require.NoError(t, err)
	imp := decode[importResponse](t, resp)
	assert.Equal(t, 2, imp.Imported)

	events, err := repo.ListDay(t.Context(), "g2", "2025-03-05")
	require.NoError(t, err)
	require.Len(t, events, 2)
	ordered := timeline.Order(events)
	assert.Equal(t, "Museu", ordered[0].Title)
	assert.Equal(t, model.SubtitleCheckIn, ordered[1].Subtitle)

	resp, err = http.Post(srv.URL+"/api/groups/g2/import", "text/calendar", strings.NewReader("not a calendar"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
