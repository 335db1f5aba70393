package oracle

import (
	"context"
	"fmt"
	"strings"

	"tripline/internal/timeutil"
)

// StaticRoute is one entry of a fixed travel-time table.
type StaticRoute struct {
	From    string `yaml:"from" json:"from"`
	To      string `yaml:"to" json:"to"`
	Minutes int    `yaml:"minutes" json:"minutes"`
}

// StaticTransport answers from a fixed table. It backs offline mode and is
// handy for operators who already know the usual legs of a trip. Routes
// are symmetric.
type StaticTransport struct {
	routes map[string]int
}

func NewStaticTransport(routes []StaticRoute) *StaticTransport {
	t := &StaticTransport{routes: make(map[string]int, len(routes)*2)}
	for _, r := range routes {
		t.routes[routeKey(r.From, r.To)] = r.Minutes
		t.routes[routeKey(r.To, r.From)] = r.Minutes
	}
	return t
}

func (t *StaticTransport) Lookup(ctx context.Context, origin, destination string) (TravelTime, error) {
	if err := ctx.Err(); err != nil {
		return TravelTime{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	m, ok := t.routes[routeKey(origin, destination)]
	if !ok {
		return TravelTime{}, fmt.Errorf("%w: %s -> %s not in table", ErrNoRoute, origin, destination)
	}
	return TravelTime{
		DurationText:         timeutil.FormatMinutes(m),
		DurationValueSeconds: m * 60,
	}, nil
}

func routeKey(a, b string) string {
	return strings.ToLower(strings.TrimSpace(a)) + "|" + strings.ToLower(strings.TrimSpace(b))
}
