// Package timeline computes the connector shown between consecutive events
// of an itinerary day: how long the gap is, whether the travel time between
// the two places fits in it, and whether the connector should be drawn at
// all.
package timeline

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "tripline/internal/log"
	"tripline/internal/model"
	"tripline/internal/oracle"
	"tripline/internal/pairing"
	"tripline/internal/timeutil"
)

// State classifies one connector.
type State string

const (
	// StateNone: nothing to draw (zero gap, or times unreadable).
	StateNone State = "none"
	// StateAmpleGap: the gap covers any known travel time.
	StateAmpleGap State = "ample_gap"
	// StateDisplacement: the gap is non-negative but shorter than the
	// travel time between the two places.
	StateDisplacement State = "displacement_conflict"
	// StateTimeConflict: the next event starts before this one ends.
	StateTimeConflict State = "time_conflict"
	// StateOracleError: the pair needed a travel-time lookup and it failed;
	// the gap label is shown but cannot be trusted.
	StateOracleError State = "oracle_error"
	// StateSuppressed: the next event is a transfer, which carries the
	// duration on its own card.
	StateSuppressed State = "suppressed"
	// StateEndOfDay marks the last event of the day.
	StateEndOfDay State = "end_of_day"
)

// Connector is the decision for one event and the event after it.
type Connector struct {
	EventID     string `json:"eventId"`
	NextEventID string `json:"nextEventId,omitempty"`
	State       State  `json:"state"`
	// GapMinutes is nextStart - currentEnd; negative on time conflicts.
	GapMinutes int `json:"gapMinutes"`
	// RequiredMinutes is the oracle's travel time, when known.
	RequiredMinutes int                `json:"requiredMinutes,omitempty"`
	Label           string             `json:"label,omitempty"`
	Alert           bool               `json:"alert"`
	Origin          string             `json:"origin,omitempty"`
	Destination     string             `json:"destination,omitempty"`
	Travel          *oracle.TravelTime `json:"travel,omitempty"`
}

// Item is one rendered row of the day.
type Item struct {
	Event     model.Event `json:"event"`
	Connector Connector   `json:"connector"`
}

// Day is the connector overlay for one date.
type Day struct {
	Date  string `json:"date"`
	Items []Item `json:"items"`
}

// Alerts returns the connectors that need operator attention: time and
// displacement conflicts, plus failed lookups.
func (d Day) Alerts() []Connector {
	var out []Connector
	for _, it := range d.Items {
		switch it.Connector.State {
		case StateTimeConflict, StateDisplacement, StateOracleError:
			out = append(out, it.Connector)
		}
	}
	return out
}

// Oracle is the travel-time capability the engine consumes. Lookup errors
// for which oracle.Skipped is true mean the pair was not eligible.
type Oracle interface {
	Lookup(ctx context.Context, origin, destination, date string) (*oracle.TravelTime, error)
}

// Engine builds connector overlays. It is safe for concurrent use as long
// as its Oracle is.
type Engine struct {
	oracle        Oracle
	lookupTimeout time.Duration
	concurrency   int
}

type Option func(*Engine)

// WithLookupTimeout bounds every single oracle lookup so no connector can
// stall the day.
func WithLookupTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lookupTimeout = d
		}
	}
}

// WithConcurrency caps parallel lookups per day. Zero or less is unlimited.
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.concurrency = n }
}

func NewEngine(o Oracle, opts ...Option) *Engine {
	e := &Engine{
		oracle:        o,
		lookupTimeout: 10 * time.Second,
		concurrency:   8,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Order sorts events by day and start time. Events without a readable start
// keep their relative order after the timed ones of the same day.
func Order(events []model.Event) []model.Event {
	out := append([]model.Event(nil), events...)
	sort.SliceStable(out, func(i, j int) bool {
		di, okI := timeutil.ParseDate(out[i].Date)
		dj, okJ := timeutil.ParseDate(out[j].Date)
		if okI && okJ && !di.Equal(dj) {
			return di.Before(dj)
		}
		si, okSI := timeutil.ToMinutes(out[i].StartClock())
		sj, okSJ := timeutil.ToMinutes(out[j].StartClock())
		if okSI != okSJ {
			return okSI
		}
		return si < sj
	})
	return out
}

// AnchorTransfers returns a copy of events where every transfer without a
// readable start takes its clock from its parent (matched by ParentID among
// the same events). Transfers without a resolvable parent are left as is.
func AnchorTransfers(events []model.Event) []model.Event {
	out := append([]model.Event(nil), events...)
	for i, ev := range out {
		if !ev.IsTransfer() || ev.ParentID == "" {
			continue
		}
		if _, ok := timeutil.ToMinutes(ev.StartClock()); ok {
			continue
		}
		for _, parent := range events {
			if parent.ID != ev.ParentID || parent.IsTransfer() {
				continue
			}
			if _, clock := pairing.TransferAnchor(parent); clock != "" {
				out[i].Time = clock
			}
			break
		}
	}
	return out
}

// BuildRange splits events by day and builds each day. Days are returned in
// calendar order; events without a readable date are ignored.
func (e *Engine) BuildRange(ctx context.Context, events []model.Event) []Day {
	byDay := make(map[string][]model.Event)
	var keys []string
	for _, ev := range events {
		key, ok := timeutil.NormalizeDate(ev.Date)
		if !ok {
			continue
		}
		if _, seen := byDay[key]; !seen {
			keys = append(keys, key)
		}
		byDay[key] = append(byDay[key], ev)
	}
	sort.Strings(keys)

	days := make([]Day, 0, len(keys))
	for _, k := range keys {
		d := e.Build(ctx, byDay[k])
		d.Date = k
		days = append(days, d)
	}
	return days
}

// pending is a connector waiting for its oracle answer.
type pending struct {
	index       int
	origin      string
	destination string
	date        string
	travel      *oracle.TravelTime
	err         error
}

// Build computes the connector of every event of one day. Lookups run
// concurrently and independently; a failed or slow lookup only affects its
// own connector.
func (e *Engine) Build(ctx context.Context, events []model.Event) Day {
	ordered := Order(AnchorTransfers(events))
	day := Day{Items: make([]Item, len(ordered))}
	if len(ordered) > 0 {
		day.Date, _ = timeutil.NormalizeDate(ordered[0].Date)
	}

	var lookups []*pending
	for i, cur := range ordered {
		day.Items[i].Event = cur
		c := Connector{EventID: cur.ID}

		if i == len(ordered)-1 {
			c.State = StateEndOfDay
			day.Items[i].Connector = c
			continue
		}
		next := ordered[i+1]
		c.NextEventID = next.ID

		// The transfer card carries the duration. Transfers themselves are
		// never suppressed, including when another transfer follows.
		if next.IsTransfer() && !cur.IsTransfer() {
			c.State = StateSuppressed
			day.Items[i].Connector = c
			continue
		}

		curWin, okCur := timeutil.Window(cur)
		nextStart, okNext := timeutil.ToMinutes(next.StartClock())
		if !okCur || !okNext {
			c.State = StateNone
			day.Items[i].Connector = c
			continue
		}

		c.GapMinutes = nextStart - curWin.End
		if c.GapMinutes < 0 {
			c.State = StateTimeConflict
			c.Label = timeutil.FormatMinutes(-c.GapMinutes)
			c.Alert = true
			day.Items[i].Connector = c
			continue
		}

		c.Origin = EndPlace(cur)
		c.Destination = StartPlace(next)
		day.Items[i].Connector = c

		if e.oracle == nil || stayHalves(cur, next) || c.Origin == "" || c.Destination == "" ||
			oracle.SamePlace(c.Origin, c.Destination) {
			day.Items[i].Connector = gapOnly(c)
			continue
		}

		date, ok := timeutil.NormalizeDate(cur.Date)
		if !ok {
			date = cur.Date
		}
		lookups = append(lookups, &pending{
			index:       i,
			origin:      c.Origin,
			destination: c.Destination,
			date:        date,
		})
	}

	e.resolve(ctx, lookups)

	for _, p := range lookups {
		c := day.Items[p.index].Connector
		switch {
		case p.err != nil && oracle.Skipped(p.err):
			c = gapOnly(c)
		case p.err != nil || p.travel == nil:
			c.State = StateOracleError
			c.Label = timeutil.FormatMinutes(c.GapMinutes)
		default:
			c = classify(c, *p.travel)
		}
		day.Items[p.index].Connector = c
	}
	return day
}

func (e *Engine) resolve(ctx context.Context, lookups []*pending) {
	if len(lookups) == 0 {
		return
	}
	var g errgroup.Group
	if e.concurrency > 0 {
		g.SetLimit(e.concurrency)
	}
	for _, p := range lookups {
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
			defer cancel()
			p.travel, p.err = e.oracle.Lookup(lctx, p.origin, p.destination, p.date)
			if p.err != nil && !oracle.Skipped(p.err) {
				appLog.Debug("connector lookup failed", "origin", p.origin, "destination", p.destination, "date", p.date, "err", p.err)
			}
			// Never fail the group: one pair must not cancel the others.
			return nil
		})
	}
	_ = g.Wait()
}

func classify(c Connector, tt oracle.TravelTime) Connector {
	c.Travel = &tt
	c.RequiredMinutes = tt.Minutes()
	if c.RequiredMinutes > c.GapMinutes {
		c.State = StateDisplacement
		c.Alert = true
		c.Label = tt.DurationText
		if c.Label == "" {
			c.Label = timeutil.FormatMinutes(c.RequiredMinutes)
		}
		return c
	}
	return gapOnly(c)
}

func gapOnly(c Connector) Connector {
	if c.GapMinutes == 0 {
		c.State = StateNone
		c.Label = ""
		return c
	}
	c.State = StateAmpleGap
	c.Label = timeutil.FormatMinutes(c.GapMinutes)
	return c
}

// stayHalves reports whether cur and next are the two halves of one hotel
// stay; the stay has no interior travel requirement.
func stayHalves(cur, next model.Event) bool {
	if !cur.IsHotel() || !next.IsHotel() {
		return false
	}
	return pairing.FindPairedEvent(cur, []model.Event{next}) != nil
}
