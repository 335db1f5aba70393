package timeline

import (
	"strings"

	"tripline/internal/model"
	"tripline/internal/oracle"
)

// EndPlace is where an event leaves its participants: the arrival airport
// of a flight or return leg, otherwise the event's own location.
func EndPlace(e model.Event) string {
	if hasCodes(e) && e.ToCode != "" {
		return oracle.Sanitize(e.ToCode)
	}
	return placeFor(e)
}

// StartPlace is where participants must be when the event starts: the
// departure airport of a flight or return leg, otherwise the location.
func StartPlace(e model.Event) string {
	if hasCodes(e) && e.FromCode != "" {
		return oracle.Sanitize(e.FromCode)
	}
	return placeFor(e)
}

func hasCodes(e model.Event) bool {
	return e.Type == model.TypeFlight || e.Type == model.TypeReturn
}

// placeFor resolves a comparable place string. A location that is a maps
// link is useless to the oracle, so the city and then the title stand in
// for it; a missing location only falls back to the city.
func placeFor(e model.Event) string {
	loc := strings.TrimSpace(e.Location)
	if oracle.IsURL(loc) {
		return oracle.ResolvePlace(e.City, e.Title)
	}
	return oracle.ResolvePlace(loc, e.City)
}
