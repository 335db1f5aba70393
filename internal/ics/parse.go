package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "tripline/internal/log"
)

// Extension properties carrying itinerary fields that iCalendar has no
// slot for. Export writes them and Parse reads them back.
const (
	propType     = ical.ComponentProperty("X-TRIPLINE-TYPE")
	propSubtitle = ical.ComponentProperty("X-TRIPLINE-SUBTITLE")
	propCity     = ical.ComponentProperty("X-TRIPLINE-CITY")
	propParent   = ical.ComponentProperty("X-TRIPLINE-PARENT")
	propStatus   = ical.ComponentProperty("X-TRIPLINE-STATUS")
)

// Item is one VEVENT as read from a calendar, before recurrence expansion.
type Item struct {
	SourceID string

	UID         string
	Summary     string
	Description string
	Location    string
	Categories  []string

	// Itinerary extensions; empty for calendars not written by Export.
	Type     string
	Subtitle string
	City     string
	ParentID string
	Status   string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, if this VEVENT overrides one instance
	IsOverride bool
}

// Parse reads every VEVENT of body. Broken VEVENTs are logged and skipped;
// only an unreadable calendar is an error. Recurrences are kept raw, see
// Expand.
func Parse(sourceID string, body []byte) ([]Item, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "source", sourceID)
		return nil, err
	}

	items := make([]Item, 0)
	for _, ve := range cal.Events() {
		it, perr := parseVEvent(sourceID, ve)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "source", sourceID, "err", perr)
			continue
		}
		items = append(items, it)
	}

	appLog.Info("ics parse completed", "source", sourceID, "items", len(items))
	return items, nil
}

func parseVEvent(sourceID string, ve *ical.VEvent) (Item, error) {
	out := Item{SourceID: sourceID}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.Type = propValue(ve, propType)
	out.Subtitle = propValue(ve, propSubtitle)
	out.City = propValue(ve, propCity)
	out.ParentID = propValue(ve, propParent)
	out.Status = propValue(ve, propStatus)

	for _, p := range ve.GetProperties(ical.ComponentPropertyCategories) {
		for _, c := range strings.Split(p.Value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out.Categories = append(out.Categories, c)
			}
		}
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStart)

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	out.Start = start

	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	} else if out.AllDay {
		out.End = start.AddDate(0, 0, 1)
	} else {
		out.End = start
	}

	if rr := ve.GetProperty(ical.ComponentPropertyRrule); rr != nil {
		out.RawRRule = rr.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := paramLocation(p, start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if rid := ve.GetProperty(ical.ComponentPropertyRecurrenceId); rid != nil {
		if t, err := parseICSTime(rid.Value, paramLocation(rid, start.Location())); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return strings.TrimSpace(prop.Value)
	}
	return ""
}

// isDateValue reports whether DTSTART is a DATE (all-day) rather than a
// DATE-TIME.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func paramLocation(p *ical.IANAProperty, fallback *time.Location) *time.Location {
	if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) == 1 {
		if loc, err := time.LoadLocation(tz[0]); err == nil {
			return loc
		}
	}
	return fallback
}

// parseICSTime parses the basic DATE / DATE-TIME / UTC forms used by EXDATE
// and RECURRENCE-ID. Floating values are read in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.Local
	}
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
