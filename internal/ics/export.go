package ics

import (
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "tripline/internal/log"
	"tripline/internal/model"
	"tripline/internal/timeutil"
)

// Export renders a group's events as an iCalendar feed. Events with a
// readable start become timed VEVENTs in loc; events with only a date
// become all-day entries. Events without a readable date are skipped.
func Export(name string, events []model.Event, loc *time.Location) (string, error) {
	if loc == nil {
		return "", errors.New("export: nil location")
	}

	cal := ical.NewCalendarFor("tripline")
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(name)
	cal.SetXWRTimezone(loc.String())

	stamp := time.Now().UTC()
	for _, e := range events {
		day, ok := timeutil.ParseDate(e.Date)
		if !ok {
			appLog.Warn("export: skipping event without date", "id", e.ID, "date", e.Date)
			continue
		}
		midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)

		ve := cal.AddEvent(e.ID)
		ve.SetDtStampTime(stamp)
		ve.SetSummary(e.Title)
		if where := exportLocation(e); where != "" {
			ve.SetLocation(where)
		}
		if len(e.Passengers) > 0 {
			ve.SetDescription("Passengers: " + strings.Join(e.Passengers, ", "))
		}
		ve.AddCategory(string(e.Type))
		ve.SetProperty(propType, string(e.Type))
		setIf(ve, propSubtitle, e.Subtitle)
		setIf(ve, propCity, e.City)
		setIf(ve, propParent, e.ParentID)
		setIf(ve, propStatus, string(e.Status))

		if w, ok := timeutil.Window(e); ok {
			ve.SetStartAt(midnight.Add(time.Duration(w.Start) * time.Minute))
			ve.SetEndAt(midnight.Add(time.Duration(w.End) * time.Minute))
			continue
		}
		ve.SetAllDayStartAt(midnight)
		ve.SetAllDayEndAt(midnight.AddDate(0, 0, 1))
	}

	return cal.Serialize(), nil
}

func exportLocation(e model.Event) string {
	if e.Type == model.TypeFlight && e.FromCode != "" && e.ToCode != "" {
		return e.FromCode + " → " + e.ToCode
	}
	return e.Location
}

func setIf(ve *ical.VEvent, p ical.ComponentProperty, v string) {
	if v != "" {
		ve.SetProperty(p, v)
	}
}
