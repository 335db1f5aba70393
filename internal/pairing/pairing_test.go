package pairing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripline/internal/model"
)

func hotel(id, title, subtitle, date string) model.Event {
	return model.Event{ID: id, Type: model.TypeHotel, Title: title, Subtitle: subtitle, Date: date, Time: "14:00"}
}

func TestFindPairedEventSymmetric(t *testing.T) {
	in := hotel("in", "Hotel Copacabana", model.SubtitleCheckIn, "2025-03-05")
	out := hotel("out", "Hotel Copacabana", model.SubtitleCheckOut, "2025-03-08")
	other := hotel("x", "Pousada Sol", model.SubtitleCheckOut, "2025-03-06")
	all := []model.Event{in, out, other}

	p := FindPairedEvent(in, all)
	require.NotNil(t, p)
	assert.Equal(t, "out", p.ID)

	back := FindPairedEvent(*p, all)
	require.NotNil(t, back)
	assert.Equal(t, "in", back.ID)
}

func TestFindPairedEventEarliestWins(t *testing.T) {
	in := hotel("in", "Hotel Copacabana", model.SubtitleCheckIn, "01/03/2025")
	late := hotel("late", "Hotel Copacabana", model.SubtitleCheckOut, "10/03/2025")
	early := hotel("early", "Hotel Copacabana", model.SubtitleCheckOut, "2025-03-04")

	p := FindPairedEvent(in, []model.Event{late, in, early})
	require.NotNil(t, p)
	assert.Equal(t, "early", p.ID)
}

func TestFindPairedEventNoMatch(t *testing.T) {
	in := hotel("in", "Hotel Copacabana", model.SubtitleCheckIn, "2025-03-05")
	assert.Nil(t, FindPairedEvent(in, []model.Event{in}))

	noRole := hotel("h", "Hotel Copacabana", "", "2025-03-05")
	assert.Nil(t, FindPairedEvent(noRole, []model.Event{in}))

	visit := model.Event{ID: "v", Type: model.TypeVisit, Title: "Hotel Copacabana"}
	assert.Nil(t, FindPairedEvent(visit, []model.Event{in}))
}

func TestFindPairedEventUsesStoredTitleOnRename(t *testing.T) {
	in := hotel("in", "Hotel Copacabana", model.SubtitleCheckIn, "2025-03-05")
	out := hotel("out", "Hotel Copacabana", model.SubtitleCheckOut, "2025-03-08")

	renamed := in
	renamed.Title = "Copacabana Palace"
	assert.Equal(t, "out", ResolveEditID(renamed, []model.Event{in, out}))
}

func TestFindPairedEventExplicitParent(t *testing.T) {
	in := hotel("in", "Hotel A", model.SubtitleCheckIn, "2025-03-05")
	out := hotel("out", "Hotel B", model.SubtitleCheckOut, "2025-03-08")
	out.ParentID = "in"
	decoy := hotel("decoy", "Hotel A", model.SubtitleCheckOut, "2025-03-06")

	all := []model.Event{in, out, decoy}
	assert.Equal(t, "out", FindPairedEvent(in, all).ID)
	assert.Equal(t, "in", FindPairedEvent(out, all).ID)
}

func TestShouldSynthesizeTransfer(t *testing.T) {
	off := model.Event{ID: "f", Type: model.TypeFlight}
	on := off
	on.HasTransfer = true

	assert.True(t, ShouldSynthesizeTransfer(nil, on))
	assert.True(t, ShouldSynthesizeTransfer(&off, on))
	assert.False(t, ShouldSynthesizeTransfer(&on, on))
	assert.False(t, ShouldSynthesizeTransfer(nil, off))

	tr := model.Event{Type: model.TypeTransfer, HasTransfer: true}
	assert.False(t, ShouldSynthesizeTransfer(nil, tr))
}

func TestSynthesizeTransfer(t *testing.T) {
	flight := model.Event{
		ID: "f1", GroupID: "g", Type: model.TypeFlight, Title: "GRU to GIG",
		Date: "2025-03-05", FromTime: "08:00", ToTime: "09:10",
		FromCode: "GRU", ToCode: "GIG", HasTransfer: true,
		Passengers: []string{"p1", "p2"},
	}
	tr := SynthesizeTransfer(flight)
	assert.NotEmpty(t, tr.ID)
	assert.Equal(t, model.TypeTransfer, tr.Type)
	assert.Equal(t, "f1", tr.ParentID)
	assert.Equal(t, "2025-03-05", tr.Date)
	assert.Equal(t, "09:10", tr.Time)
	assert.Equal(t, "GIG", tr.Location)
	assert.Equal(t, []string{"p1", "p2"}, tr.Passengers)

	flight.TransferDate, flight.TransferTime = "2025-03-06", "7:30"
	tr = SynthesizeTransfer(flight)
	assert.Equal(t, "2025-03-06", tr.Date)
	assert.Equal(t, "07:30", tr.Time)
}

func TestFindTransferChild(t *testing.T) {
	parent := model.Event{ID: "v", Type: model.TypeVisit, Date: "2025-03-05", Time: "10:00", Duration: "2h", HasTransfer: true}
	inferred := model.Event{ID: "t1", Type: model.TypeTransfer, Date: "05/03/2025", Time: "12:00"}
	unrelated := model.Event{ID: "t2", Type: model.TypeTransfer, Date: "2025-03-05", Time: "15:00"}

	c := FindTransferChild(parent, []model.Event{unrelated, inferred})
	require.NotNil(t, c)
	assert.Equal(t, "t1", c.ID)

	linked := model.Event{ID: "t3", Type: model.TypeTransfer, ParentID: "v", Date: "2025-03-05", Time: "18:00"}
	c = FindTransferChild(parent, []model.Event{inferred, linked})
	require.NotNil(t, c)
	assert.Equal(t, "t3", c.ID)
}

func TestPlanEditPreservesIDsAndAvoidsDuplicateTransfer(t *testing.T) {
	in := hotel("in", "Hotel Copacabana", model.SubtitleCheckIn, "2025-03-05")
	in.HasTransfer = true
	out := hotel("out", "Hotel Copacabana", model.SubtitleCheckOut, "2025-03-08")
	child := model.Event{ID: "t", Type: model.TypeTransfer, ParentID: "in", Date: "2025-03-05", Time: "14:00"}
	existing := []model.Event{in, out, child}

	after := in
	after.ID = ""
	after.Title = "Copacabana Palace"
	after.Passengers = []string{"p9"}

	plan := PlanEdit(&in, after, existing)
	assert.Equal(t, "in", plan.Event.ID)
	require.NotNil(t, plan.Paired)
	assert.Equal(t, "out", plan.Paired.ID)
	assert.Equal(t, "Copacabana Palace", plan.Paired.Title)
	assert.Equal(t, model.SubtitleCheckOut, plan.Paired.Subtitle)
	assert.Equal(t, []string{"p9"}, plan.Paired.Passengers)
	assert.Nil(t, plan.NewTransfer)
	require.NotNil(t, plan.ExistingTransfer)
	assert.Equal(t, "t", plan.ExistingTransfer.ID)
}

func TestPlanEditCreatesTransferOnce(t *testing.T) {
	before := model.Event{ID: "v", Type: model.TypeVisit, Title: "Museum", Date: "2025-03-05", Time: "10:00", ToTime: "12:00"}
	after := before
	after.HasTransfer = true

	plan := PlanEdit(&before, after, []model.Event{before})
	require.NotNil(t, plan.NewTransfer)
	assert.Equal(t, "v", plan.NewTransfer.ParentID)
	assert.Equal(t, "12:00", plan.NewTransfer.Time)

	created := PlanEdit(nil, model.Event{Type: model.TypeFood, Title: "Lunch"}, nil)
	assert.NotEmpty(t, created.Event.ID)
	assert.Nil(t, created.NewTransfer)
}
