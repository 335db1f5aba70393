package conflict

import (
	"fmt"
	"sort"
	"strings"

	"tripline/internal/model"
	"tripline/internal/timeutil"
)

// Result is what the event form receives before saving.
type Result struct {
	HasConflict       bool          `json:"hasConflict"`
	Message           string        `json:"message"`
	ConflictingEvents []model.Event `json:"conflictingEvents"`
}

// Overlap is one pair of events of the same day whose busy intervals
// intersect.
type Overlap struct {
	A       model.Event `json:"a"`
	B       model.Event `json:"b"`
	Minutes int         `json:"minutes"`
}

// Check reports whether candidate's busy interval collides with any event
// in existing. It is pure and never consults the travel-time oracle.
//
// Rules:
//   - a candidate without a date (or without a readable start) cannot conflict
//   - only events of the same day and group take part
//   - transfers never take part; they sit next to their parent by design of
//     the itinerary, not as independent bookings
//   - the candidate's own id is excluded so edits do not collide with
//     themselves
//   - intervals are half-open, so back-to-back events do not conflict
func Check(candidate model.Event, existing []model.Event) Result {
	res := Result{ConflictingEvents: []model.Event{}}

	if strings.TrimSpace(candidate.Date) == "" || candidate.IsTransfer() {
		return res
	}
	slot, ok := timeutil.Window(candidate)
	if !ok {
		return res
	}

	for _, e := range existing {
		if !participates(candidate, e) {
			continue
		}
		other, ok := timeutil.Window(e)
		if !ok {
			continue
		}
		if slot.Overlaps(other) {
			res.ConflictingEvents = append(res.ConflictingEvents, e)
		}
	}

	if len(res.ConflictingEvents) == 0 {
		return res
	}
	res.HasConflict = true
	res.Message = message(res.ConflictingEvents)
	return res
}

// CheckDay audits a list of events and returns every overlapping pair,
// ordered by the start of the earlier event.
func CheckDay(events []model.Event) []Overlap {
	type placed struct {
		e    model.Event
		slot model.Slot
	}
	var items []placed
	for _, e := range events {
		if e.IsTransfer() || strings.TrimSpace(e.Date) == "" {
			continue
		}
		if s, ok := timeutil.Window(e); ok {
			items = append(items, placed{e, s})
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].slot.Start < items[j].slot.Start
	})

	var out []Overlap
	for i := range items {
		for j := i + 1; j < len(items); j++ {
			a, b := items[i], items[j]
			if b.slot.Start >= a.slot.End {
				break
			}
			if !participates(a.e, b.e) || !a.slot.Overlaps(b.slot) {
				continue
			}
			out = append(out, Overlap{
				A:       a.e,
				B:       b.e,
				Minutes: min(a.slot.End, b.slot.End) - b.slot.Start,
			})
		}
	}
	return out
}

func participates(candidate, e model.Event) bool {
	if e.IsTransfer() {
		return false
	}
	if candidate.ID != "" && e.ID == candidate.ID {
		return false
	}
	if candidate.GroupID != "" && e.GroupID != "" && candidate.GroupID != e.GroupID {
		return false
	}
	return timeutil.DateKeysEqual(candidate.Date, e.Date)
}

func message(conflicts []model.Event) string {
	parts := make([]string, 0, len(conflicts))
	for _, e := range conflicts {
		parts = append(parts, describe(e))
	}
	if len(conflicts) == 1 {
		return "Time conflict with " + parts[0]
	}
	return fmt.Sprintf("Time conflict with %d events: %s", len(conflicts), strings.Join(parts, ", "))
}

func describe(e model.Event) string {
	title := e.Title
	if title == "" {
		title = string(e.Type)
	}
	w, _ := timeutil.Window(e)
	return fmt.Sprintf("%q (%s-%s)", title, timeutil.Clock(w.Start), timeutil.Clock(w.End))
}
