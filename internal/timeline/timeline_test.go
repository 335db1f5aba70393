package timeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripline/internal/model"
	"tripline/internal/oracle"
)

type answer struct {
	tt    *oracle.TravelTime
	err   error
	delay time.Duration
}

// fakeOracle answers by "origin>destination" and records every call.
type fakeOracle struct {
	mu      sync.Mutex
	answers map[string]answer
	calls   []string
}

func (f *fakeOracle) Lookup(ctx context.Context, origin, destination, date string) (*oracle.TravelTime, error) {
	key := origin + ">" + destination
	f.mu.Lock()
	f.calls = append(f.calls, key)
	a, ok := f.answers[key]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unexpected pair %s", oracle.ErrNoRoute, key)
	}
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return a.tt, a.err
}

func (f *fakeOracle) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func tt(text string, seconds int) *oracle.TravelTime {
	return &oracle.TravelTime{DurationText: text, DurationValueSeconds: seconds}
}

func visit(id, loc, from, to string) model.Event {
	return model.Event{ID: id, Type: model.TypeVisit, Title: id, Date: "2025-03-05", Time: from, ToTime: to, Location: loc}
}

func byID(d Day) map[string]Connector {
	out := make(map[string]Connector)
	for _, it := range d.Items {
		out[it.Event.ID] = it.Connector
	}
	return out
}

func TestSuppressionBeforeTransfer(t *testing.T) {
	flight := model.Event{
		ID: "flight", Type: model.TypeFlight, Title: "GRU-GIG", Date: "2025-03-05",
		Time: "07:00", FromTime: "08:00", ToTime: "09:10", FromCode: "GRU", ToCode: "GIG", HasTransfer: true,
	}
	transfer := model.Event{
		ID: "transfer", Type: model.TypeTransfer, Title: "Transfer", Date: "2025-03-05",
		Time: "09:10", Duration: "50min", Location: "Transfer Aeroporto GIG", ParentID: "flight",
	}
	hotel := model.Event{
		ID: "hotel", Type: model.TypeHotel, Title: "Hotel Fasano", Subtitle: model.SubtitleCheckIn,
		Date: "05/03/2025", Time: "10:30", Location: "Hotel Fasano",
	}
	o := &fakeOracle{answers: map[string]answer{
		"Aeroporto GIG>Hotel Fasano": {tt: tt("20 mins", 1200)},
	}}

	day := NewEngine(o).Build(context.Background(), []model.Event{hotel, transfer, flight})
	require.Len(t, day.Items, 3)
	assert.Equal(t, "2025-03-05", day.Date)
	assert.Equal(t, []string{"flight", "transfer", "hotel"}, []string{day.Items[0].Event.ID, day.Items[1].Event.ID, day.Items[2].Event.ID})

	c := byID(day)
	assert.Equal(t, StateSuppressed, c["flight"].State)
	assert.Equal(t, StateAmpleGap, c["transfer"].State)
	assert.Equal(t, 30, c["transfer"].GapMinutes)
	assert.Equal(t, "30m", c["transfer"].Label)
	assert.Equal(t, 20, c["transfer"].RequiredMinutes)
	assert.Equal(t, StateEndOfDay, c["hotel"].State)
	assert.Equal(t, 1, o.callCount())
}

func TestDisplacementConflictUsesOracleLabel(t *testing.T) {
	a := visit("a", "Museu do Amanhã", "08:00", "10:00")
	b := visit("b", "Cristo Redentor", "11:00", "12:00")
	o := &fakeOracle{answers: map[string]answer{
		"Museu do Amanhã>Cristo Redentor": {tt: tt("1h 30m", 5400)},
	}}

	day := NewEngine(o).Build(context.Background(), []model.Event{a, b})
	c := byID(day)["a"]
	assert.Equal(t, StateDisplacement, c.State)
	assert.Equal(t, "1h 30m", c.Label)
	assert.Equal(t, 60, c.GapMinutes)
	assert.Equal(t, 90, c.RequiredMinutes)
	assert.True(t, c.Alert)
	require.Len(t, day.Alerts(), 1)
}

func TestOracleNullIsOracleError(t *testing.T) {
	a := visit("a", "Museu do Amanhã", "08:00", "10:00")
	b := visit("b", "Cristo Redentor", "11:00", "12:00")
	c := visit("c", "Pão de Açúcar", "15:00", "16:00")
	o := &fakeOracle{answers: map[string]answer{
		"Museu do Amanhã>Cristo Redentor": {tt: nil},
		"Cristo Redentor>Pão de Açúcar":   {err: oracle.ErrUnavailable},
	}}

	got := byID(NewEngine(o).Build(context.Background(), []model.Event{a, b, c}))
	assert.Equal(t, StateOracleError, got["a"].State)
	assert.Equal(t, "1h", got["a"].Label)
	assert.Equal(t, StateOracleError, got["b"].State)
	assert.NotEqual(t, StateAmpleGap, got["a"].State)
}

func TestTimeConflictSkipsOracle(t *testing.T) {
	a := visit("a", "Museu do Amanhã", "09:00", "11:00")
	b := visit("b", "Cristo Redentor", "10:30", "12:00")
	o := &fakeOracle{answers: map[string]answer{}}

	c := byID(NewEngine(o).Build(context.Background(), []model.Event{a, b}))["a"]
	assert.Equal(t, StateTimeConflict, c.State)
	assert.Equal(t, -30, c.GapMinutes)
	assert.Equal(t, "30m", c.Label)
	assert.True(t, c.Alert)
	assert.Zero(t, o.callCount())
}

func TestSamePlaceAndZeroGap(t *testing.T) {
	a := visit("a", "Hotel Fasano", "08:00", "09:00")
	b := visit("b", "Translado Hotel Fasano", "09:30", "10:00")
	c := visit("c", "", "10:00", "11:00")
	c.City = "Rio de Janeiro"
	d := visit("d", "", "11:00", "12:00")
	d.City = "Rio de Janeiro"
	o := &fakeOracle{answers: map[string]answer{
		"Hotel Fasano>Rio de Janeiro": {tt: tt("15 mins", 900)},
	}}

	got := byID(NewEngine(o).Build(context.Background(), []model.Event{a, b, c, d}))
	assert.Equal(t, StateAmpleGap, got["a"].State, "same place after sanitation, gap only")
	assert.Equal(t, "30m", got["a"].Label)
	assert.Equal(t, StateDisplacement, got["b"].State, "back to back across town is tight")
	assert.Equal(t, StateNone, got["c"].State, "same city, zero gap")
	assert.Equal(t, []string{"Hotel Fasano>Rio de Janeiro"}, o.calls)
}

func TestSkippedLookupFallsBackToGap(t *testing.T) {
	a := visit("a", "Museu", "08:00", "09:00")
	b := visit("b", "Parque", "10:00", "11:00")
	o := &fakeOracle{answers: map[string]answer{
		"Museu>Parque": {err: oracle.ErrUnresolvedPlace},
	}}

	c := byID(NewEngine(o).Build(context.Background(), []model.Event{a, b}))["a"]
	assert.Equal(t, StateAmpleGap, c.State)
	assert.Equal(t, "1h", c.Label)
}

func TestHotelStayHalvesNeverLookedUp(t *testing.T) {
	in := model.Event{ID: "in", Type: model.TypeHotel, Title: "Pousada", Subtitle: model.SubtitleCheckIn, Date: "2025-03-05", Time: "08:00", Location: "Rua A, 1"}
	out := model.Event{ID: "out", Type: model.TypeHotel, Title: "Pousada", Subtitle: model.SubtitleCheckOut, Date: "2025-03-05", Time: "18:00", Location: "https://maps.app.goo.gl/x", City: "Paraty"}
	o := &fakeOracle{answers: map[string]answer{}}

	c := byID(NewEngine(o).Build(context.Background(), []model.Event{in, out}))["in"]
	assert.Equal(t, StateAmpleGap, c.State)
	assert.Zero(t, o.callCount())
}

func TestTransferWithoutTimeStartsAtParentEnd(t *testing.T) {
	flight := model.Event{
		ID: "f", Type: model.TypeFlight, Title: "LA3456", Date: "2025-03-05",
		FromTime: "08:00", ToTime: "10:00", FromCode: "GRU", ToCode: "GIG", HasTransfer: true,
	}
	transfer := model.Event{ID: "t", Type: model.TypeTransfer, Title: "Transfer - LA3456", Date: "2025-03-05", Location: "GIG", ParentID: "f"}
	hotel := model.Event{
		ID: "h", Type: model.TypeHotel, Title: "Hotel Fasano", Subtitle: model.SubtitleCheckIn,
		Date: "2025-03-05", Time: "14:00", Location: "Hotel Fasano",
	}
	o := &fakeOracle{answers: map[string]answer{
		"GIG>Hotel Fasano": {tt: tt("50 mins", 3000)},
	}}

	day := NewEngine(o).Build(context.Background(), []model.Event{flight, transfer, hotel})
	require.Len(t, day.Items, 3)
	assert.Equal(t, []string{"f", "t", "h"}, []string{day.Items[0].Event.ID, day.Items[1].Event.ID, day.Items[2].Event.ID})
	assert.Equal(t, "10:00", day.Items[1].Event.Time)

	c := byID(day)
	assert.Equal(t, StateSuppressed, c["f"].State)
	assert.Equal(t, "t", c["f"].NextEventID)
	assert.Equal(t, StateAmpleGap, c["t"].State)
	assert.Equal(t, "h", c["t"].NextEventID)
	assert.Equal(t, 240, c["t"].GapMinutes)
	assert.Equal(t, StateEndOfDay, c["h"].State)

	// An explicit transfer time on the parent wins over its end clock.
	flight.TransferTime = "11:30"
	got := AnchorTransfers([]model.Event{flight, transfer})
	assert.Equal(t, "11:30", got[1].Time)
	assert.Empty(t, transfer.Time)

	// Without its parent in the day the transfer stays unanchored.
	got = AnchorTransfers([]model.Event{transfer, hotel})
	assert.Empty(t, got[0].Time)
}

func TestConsecutiveTransfersBothRender(t *testing.T) {
	t1 := model.Event{ID: "t1", Type: model.TypeTransfer, Date: "2025-03-05", Time: "09:00", Duration: "30min", Location: "Rodoviária"}
	t2 := model.Event{ID: "t2", Type: model.TypeTransfer, Date: "2025-03-05", Time: "09:45", Duration: "1h", Location: "Marina"}
	v := visit("v", "Ilha Grande", "11:00", "15:00")
	o := &fakeOracle{answers: map[string]answer{
		"Rodoviária>Marina":  {tt: tt("10 mins", 600)},
		"Marina>Ilha Grande": {tt: tt("1h 20m", 4800)},
	}}

	got := byID(NewEngine(o).Build(context.Background(), []model.Event{t1, t2, v}))
	assert.Equal(t, StateAmpleGap, got["t1"].State)
	assert.Equal(t, StateDisplacement, got["t2"].State)
	assert.Equal(t, "1h 20m", got["t2"].Label)
}

func TestFailureIsolationAndTimeout(t *testing.T) {
	a := visit("a", "A", "08:00", "09:00")
	b := visit("b", "B", "10:00", "11:00")
	c := visit("c", "C", "12:00", "13:00")
	d := visit("d", "D", "14:00", "15:00")
	o := &fakeOracle{answers: map[string]answer{
		"A>B": {tt: tt("5 mins", 300), delay: 5 * time.Second},
		"B>C": {err: oracle.ErrUnavailable},
		"C>D": {tt: tt("10 mins", 600)},
	}}

	start := time.Now()
	got := byID(NewEngine(o, WithLookupTimeout(50*time.Millisecond)).Build(context.Background(), []model.Event{a, b, c, d}))
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, StateOracleError, got["a"].State, "slow lookup times out")
	assert.Equal(t, StateOracleError, got["b"].State)
	assert.Equal(t, StateAmpleGap, got["c"].State)
	assert.Equal(t, StateEndOfDay, got["d"].State)
}

func TestUnreadableTimesAndEmptyDay(t *testing.T) {
	a := visit("a", "A", "", "")
	b := visit("b", "B", "10:00", "11:00")
	got := byID(NewEngine(nil).Build(context.Background(), []model.Event{a, b}))
	assert.Equal(t, StateNone, got["b"].State)
	assert.Equal(t, StateEndOfDay, got["a"].State, "untimed events sort last")

	assert.Empty(t, NewEngine(nil).Build(context.Background(), nil).Items)
}

func TestBuildRange(t *testing.T) {
	a := visit("a", "A", "09:00", "10:00")
	b := visit("b", "B", "08:00", "09:00")
	b.Date = "06/03/2025"
	c := visit("c", "A", "11:00", "12:00")
	c.Date = "05/03/2025"
	undated := visit("x", "X", "11:00", "12:00")
	undated.Date = ""

	days := NewEngine(nil).BuildRange(context.Background(), []model.Event{b, c, a, undated})
	require.Len(t, days, 2)
	assert.Equal(t, "2025-03-05", days[0].Date)
	assert.Len(t, days[0].Items, 2)
	assert.Equal(t, StateAmpleGap, days[0].Items[0].Connector.State)
	assert.Equal(t, "2025-03-06", days[1].Date)
	assert.Equal(t, StateEndOfDay, days[1].Items[0].Connector.State)
}

func TestPlaces(t *testing.T) {
	f := model.Event{Type: model.TypeFlight, FromCode: "GRU", ToCode: "GIG", Location: "Guarulhos"}
	assert.Equal(t, "GIG", EndPlace(f))
	assert.Equal(t, "GRU", StartPlace(f))

	link := model.Event{Type: model.TypeVisit, Location: "https://maps.app.goo.gl/x", City: "", Title: "Museu do Amanhã"}
	assert.Equal(t, "Museu do Amanhã", StartPlace(link))

	ret := model.Event{Type: model.TypeReturn, Location: "Retorno: São Paulo"}
	assert.Equal(t, "São Paulo", EndPlace(ret))
}
