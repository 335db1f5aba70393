package ics

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	appLog "tripline/internal/log"
	"tripline/internal/model"
)

const defaultMaxOccurrencesPerItem = 500

// importNamespace derives stable event ids from UID + instance start, so
// importing the same calendar twice updates events instead of duplicating
// them.
var importNamespace = uuid.MustParse("6f1c1f8e-3b0a-4b7e-9a51-2f0d7c3e8a11")

// ExpandConfig controls how items become itinerary events.
type ExpandConfig struct {
	// GroupID is stamped on every produced event.
	GroupID string

	// Location is the itinerary's local zone; event dates and clocks are
	// expressed in it. Nil means time.Local.
	Location *time.Location

	// RangeStart / RangeEnd bound the occurrences produced (inclusive).
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerItem caps runaway rules. Zero uses the default.
	MaxOccurrencesPerItem int
}

// ExpandResult is the produced events plus the UIDs that hit the cap.
type ExpandResult struct {
	Events    []model.Event
	Truncated []string
}

// Expand turns parsed items into concrete itinerary events inside the
// configured range. RRULE recurrences (a daily breakfast, say) become one
// event per day, minus EXDATEs, with RECURRENCE-ID overrides applied.
func Expand(items []Item, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerItem <= 0 {
		cfg.MaxOccurrencesPerItem = defaultMaxOccurrencesPerItem
	}

	bases := make(map[string][]Item)
	overrides := make(map[string][]Item)
	var uids []string
	for _, it := range items {
		if it.IsOverride && it.Recurrence != nil {
			overrides[it.UID] = append(overrides[it.UID], it)
			continue
		}
		if _, seen := bases[it.UID]; !seen {
			uids = append(uids, it.UID)
		}
		bases[it.UID] = append(bases[it.UID], it)
	}

	for _, uid := range uids {
		truncated := false
		for _, it := range bases[uid] {
			events, hitCap := expandItem(it, overrides[uid], cfg)
			truncated = truncated || hitCap
			result.Events = append(result.Events, events...)
		}
		if truncated {
			result.Truncated = append(result.Truncated, uid)
			appLog.Warn("expand: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerItem)
		}
	}

	sort.SliceStable(result.Events, func(i, j int) bool {
		a, b := result.Events[i], result.Events[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.Time < b.Time
	})
	return result, nil
}

func expandItem(it Item, overrides []Item, cfg ExpandConfig) ([]model.Event, bool) {
	if it.RawRRule == "" {
		if !inRange(it.Start, it.End, cfg.RangeStart, cfg.RangeEnd) {
			return nil, false
		}
		return []model.Event{occurrence(it, overrides, it.Start, it.End, cfg)}, false
	}

	r, err := rrule.StrToRRule(it.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", it.UID, "rrule", it.RawRRule)
		return nil, false
	}
	r.DTStart(it.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range it.ExDates {
		set.ExDate(ex.In(it.Start.Location()))
	}

	starts := set.Between(cfg.RangeStart.In(it.Start.Location()), cfg.RangeEnd.In(it.Start.Location()), true)
	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerItem {
		starts = starts[:cfg.MaxOccurrencesPerItem]
		hitCap = true
	}

	span := it.End.Sub(it.Start)
	out := make([]model.Event, 0, len(starts))
	for _, s := range starts {
		out = append(out, occurrence(it, overrides, s, s.Add(span), cfg))
	}
	return out, hitCap
}

// occurrence builds the event for one instance, applying a matching
// override if there is one.
func occurrence(it Item, overrides []Item, start, end time.Time, cfg ExpandConfig) model.Event {
	instance := start
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			it, start, end = inherit(ov, it), ov.Start, ov.End
			break
		}
	}

	loc := cfg.Location
	s := start.In(loc)
	e := end.In(loc)

	ev := model.Event{
		ID:       uuid.NewSHA1(importNamespace, []byte(it.UID+"|"+instance.UTC().Format(time.RFC3339))).String(),
		GroupID:  cfg.GroupID,
		Type:     eventType(it),
		Title:    it.Summary,
		Subtitle: it.Subtitle,
		Date:     s.Format("2006-01-02"),
		Location: it.Location,
		City:     it.City,
		ParentID: it.ParentID,
		Status:   model.Status(it.Status),
	}
	if it.AllDay {
		// DATE values carry no zone; converting would shift the day.
		ev.Date = start.Format("2006-01-02")
		return ev
	}

	ev.Time = s.Format("15:04")
	switch {
	case !e.After(s):
	case e.YearDay() != s.YearDay() || e.Year() != s.Year():
		// Itinerary events never cross midnight; cut at the end of the day.
		ev.ToTime = "23:59"
	default:
		ev.ToTime = e.Format("15:04")
	}
	return ev
}

// inherit fills the fields an override VEVENT usually omits from its base.
func inherit(ov, base Item) Item {
	if ov.Type == "" && len(ov.Categories) == 0 {
		ov.Type, ov.Categories = base.Type, base.Categories
	}
	if ov.Location == "" {
		ov.Location = base.Location
	}
	if ov.City == "" {
		ov.City = base.City
	}
	if ov.Summary == "" {
		ov.Summary = base.Summary
	}
	return ov
}

// eventType prefers the explicit extension, then the first category that
// names a known type, and falls back to leisure.
func eventType(it Item) model.EventType {
	if t := model.EventType(strings.ToLower(it.Type)); t.Valid() {
		return t
	}
	for _, c := range it.Categories {
		if t := model.EventType(strings.ToLower(c)); t.Valid() {
			return t
		}
	}
	return model.TypeLeisure
}

func inRange(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
