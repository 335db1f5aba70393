// Package pairing links events that represent two halves of one logical
// item: a hotel Check-in and its Check-out, or a parent event and the
// ground transfer it owns. Edit flows use it to reuse ids instead of
// minting duplicates.
package pairing

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	appLog "tripline/internal/log"
	"tripline/internal/model"
	"tripline/internal/timeutil"
)

// FindPairedEvent returns the other half of candidate's pairing, or nil.
//
// An explicit ParentID link always wins. Otherwise hotel halves are paired
// by identical title and opposite subtitle; when several counterparts share
// the title the earliest by date is canonical and the rest are unrelated.
//
// If candidate is an edited copy of a stored event (same id), the stored
// title is used for matching so that renaming a stay still finds its pair.
func FindPairedEvent(candidate model.Event, existing []model.Event) *model.Event {
	if p := findExplicit(candidate, existing); p != nil {
		return p
	}
	if !candidate.IsHotel() {
		return nil
	}

	want := oppositeSubtitle(candidate.Subtitle)
	if want == "" {
		return nil
	}
	title := strings.TrimSpace(candidate.Title)
	if stored := byID(candidate.ID, existing); stored != nil {
		title = strings.TrimSpace(stored.Title)
	}

	var matches []model.Event
	for _, e := range existing {
		if candidate.ID != "" && e.ID == candidate.ID {
			continue
		}
		if !e.IsHotel() || e.Subtitle != want {
			continue
		}
		if strings.TrimSpace(e.Title) != title {
			continue
		}
		matches = append(matches, e)
	}
	if len(matches) == 0 {
		return nil
	}
	if len(matches) > 1 {
		sortByDate(matches)
		appLog.Warn("ambiguous hotel pairing; using earliest by date",
			"title", title,
			"subtitle", candidate.Subtitle,
			"candidates", len(matches),
			"chosen_id", matches[0].ID,
			"chosen_date", matches[0].Date,
		)
	}
	p := matches[0]
	return &p
}

// ResolveEditID returns the id the edit path must reuse for candidate's
// paired half, or "" when there is no pairing and a new id is needed.
func ResolveEditID(candidate model.Event, existing []model.Event) string {
	if p := FindPairedEvent(candidate, existing); p != nil {
		return p.ID
	}
	return ""
}

// FindTransferChild returns the transfer owned by parent, or nil. Explicit
// ParentID links are preferred; otherwise a transfer on the expected day
// starting at the expected time is accepted.
func FindTransferChild(parent model.Event, existing []model.Event) *model.Event {
	if parent.ID != "" {
		for _, e := range existing {
			if e.IsTransfer() && e.ParentID == parent.ID {
				return &e
			}
		}
	}

	date, clock := TransferAnchor(parent)
	if date == "" || clock == "" {
		return nil
	}
	want, _ := timeutil.ToMinutes(clock)
	for _, e := range existing {
		if !e.IsTransfer() || e.ParentID != "" {
			continue
		}
		if !timeutil.DateKeysEqual(e.Date, date) {
			continue
		}
		if start, ok := timeutil.ToMinutes(e.StartClock()); ok && start == want {
			return &e
		}
	}
	return nil
}

// ShouldSynthesizeTransfer reports whether saving after should create a new
// transfer object. Only the false → true transition of HasTransfer does; a
// parent that already had a transfer keeps it, and that transfer is updated
// out of band rather than duplicated.
func ShouldSynthesizeTransfer(before *model.Event, after model.Event) bool {
	if !after.HasTransfer || after.IsTransfer() {
		return false
	}
	return before == nil || !before.HasTransfer
}

// SynthesizeTransfer builds the transfer child for parent. It starts at
// parent's TransferDate/TransferTime when pinned, else at parent's end.
func SynthesizeTransfer(parent model.Event) model.Event {
	date, clock := TransferAnchor(parent)
	title := "Transfer"
	if parent.Title != "" {
		title = "Transfer - " + parent.Title
	}
	return model.Event{
		ID:         uuid.NewString(),
		GroupID:    parent.GroupID,
		Type:       model.TypeTransfer,
		Title:      title,
		Date:       date,
		Time:       clock,
		Location:   endLocation(parent),
		City:       parent.City,
		ParentID:   parent.ID,
		Passengers: append([]string(nil), parent.Passengers...),
		Status:     parent.Status,
	}
}

// EditPlan is everything an edit flow has to persist for one save.
type EditPlan struct {
	// Event is the edited event with its stored id preserved.
	Event model.Event `json:"event"`
	// Paired is the counterpart half with shared fields synced, if any.
	Paired *model.Event `json:"paired,omitempty"`
	// NewTransfer is set when a transfer child must be created.
	NewTransfer *model.Event `json:"newTransfer,omitempty"`
	// ExistingTransfer is the child already owned by the event; callers
	// update it in place.
	ExistingTransfer *model.Event `json:"existingTransfer,omitempty"`
}

// PlanEdit resolves ids and transfer bookkeeping for saving after, which
// replaces before (nil for creation) among existing events.
func PlanEdit(before *model.Event, after model.Event, existing []model.Event) EditPlan {
	if before != nil {
		after.ID = before.ID
		after.Type = before.Type
	}
	if after.ID == "" {
		after.ID = uuid.NewString()
	}
	plan := EditPlan{Event: after}

	if p := FindPairedEvent(after, existing); p != nil {
		synced := *p
		synced.Title = after.Title
		synced.Location = after.Location
		synced.City = after.City
		synced.Status = after.Status
		synced.Passengers = append([]string(nil), after.Passengers...)
		plan.Paired = &synced
	}

	switch {
	case ShouldSynthesizeTransfer(before, after):
		t := SynthesizeTransfer(after)
		plan.NewTransfer = &t
	case after.HasTransfer && before != nil:
		plan.ExistingTransfer = FindTransferChild(*before, existing)
	}
	return plan
}

func findExplicit(candidate model.Event, existing []model.Event) *model.Event {
	for _, e := range existing {
		if candidate.ID != "" && e.ID == candidate.ID {
			continue
		}
		linked := (candidate.ParentID != "" && e.ID == candidate.ParentID) ||
			(candidate.ID != "" && e.ParentID == candidate.ID)
		if !linked {
			continue
		}
		// A transfer child is not the pair of its parent.
		if e.IsTransfer() != candidate.IsTransfer() {
			continue
		}
		return &e
	}
	return nil
}

func oppositeSubtitle(s string) string {
	switch strings.TrimSpace(s) {
	case model.SubtitleCheckIn:
		return model.SubtitleCheckOut
	case model.SubtitleCheckOut:
		return model.SubtitleCheckIn
	}
	return ""
}

func byID(id string, events []model.Event) *model.Event {
	if id == "" {
		return nil
	}
	for i := range events {
		if events[i].ID == id {
			return &events[i]
		}
	}
	return nil
}

// sortByDate orders events by day, then start; unreadable dates go last.
func sortByDate(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		di, okI := timeutil.ParseDate(events[i].Date)
		dj, okJ := timeutil.ParseDate(events[j].Date)
		if okI != okJ {
			return okI
		}
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		si, _ := timeutil.ToMinutes(events[i].StartClock())
		sj, _ := timeutil.ToMinutes(events[j].StartClock())
		return si < sj
	})
}

// TransferAnchor is where a parent's transfer starts: TransferDate and
// TransferTime when set, otherwise the parent's date and end clock. clock is
// empty when the parent has no readable window.
func TransferAnchor(parent model.Event) (date, clock string) {
	date = parent.Date
	if parent.TransferDate != "" {
		date = parent.TransferDate
	}
	if parent.TransferTime != "" {
		if m, ok := timeutil.ToMinutes(parent.TransferTime); ok {
			return date, timeutil.Clock(m)
		}
	}
	if w, ok := timeutil.Window(parent); ok {
		return date, timeutil.Clock(w.End)
	}
	return date, ""
}

func endLocation(e model.Event) string {
	if e.Type == model.TypeFlight && e.ToCode != "" {
		return e.ToCode
	}
	return e.Location
}
