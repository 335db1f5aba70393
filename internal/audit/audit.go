// Package audit re-checks stored itineraries on a schedule: overlapping
// bookings, legs that cannot be travelled in the available gap and failed
// travel-time lookups are reported before the traveller finds them.
package audit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tripline/internal/conflict"
	appLog "tripline/internal/log"
	"tripline/internal/model"
	"tripline/internal/store"
	"tripline/internal/timeline"
	"tripline/internal/timeutil"
)

// Kinds of findings.
const (
	KindOverlap = "overlap"
)

// Finding is one problem on one day. Kind is KindOverlap or the connector
// state that raised the alert.
type Finding struct {
	Date    string `json:"date"`
	Kind    string `json:"kind"`
	EventID string `json:"eventId"`
	OtherID string `json:"otherId,omitempty"`
	Minutes int    `json:"minutes,omitempty"`
	Label   string `json:"label,omitempty"`
}

// Report is the result for one group.
type Report struct {
	GroupID  string    `json:"groupId"`
	Days     int       `json:"days"`
	Events   int       `json:"events"`
	Findings []Finding `json:"findings"`
}

// Auditor checks groups over a rolling window starting today.
type Auditor struct {
	repo    store.Repository
	engine  *timeline.Engine
	horizon int
	loc     *time.Location
	now     func() time.Time
}

func New(repo store.Repository, engine *timeline.Engine, horizonDays int, loc *time.Location) *Auditor {
	if horizonDays <= 0 {
		horizonDays = 7
	}
	if loc == nil {
		loc = time.Local
	}
	return &Auditor{repo: repo, engine: engine, horizon: horizonDays, loc: loc, now: time.Now}
}

// Run audits every group concurrently. A group whose events cannot be
// loaded is logged and left out; the others still report.
func (a *Auditor) Run(ctx context.Context, groups []string) []Report {
	var (
		mu      sync.Mutex
		reports = make(map[string]Report, len(groups))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, group := range groups {
		g.Go(func() error {
			rep, err := a.Group(gctx, group)
			if err != nil {
				appLog.Error("audit: group failed", err, "group", group)
				return nil
			}
			mu.Lock()
			reports[group] = rep
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Report, 0, len(reports))
	for _, group := range groups {
		if rep, ok := reports[group]; ok {
			out = append(out, rep)
		}
	}
	return out
}

// Group audits one group.
func (a *Auditor) Group(ctx context.Context, groupID string) (Report, error) {
	all, err := a.repo.ListGroup(ctx, groupID)
	if err != nil {
		return Report{}, err
	}
	window := a.window(all)

	rep := Report{GroupID: groupID, Events: len(window), Findings: []Finding{}}
	byDay := make(map[string][]model.Event)
	for _, e := range window {
		key, _ := timeutil.NormalizeDate(e.Date)
		byDay[key] = append(byDay[key], e)
	}

	for _, day := range a.engine.BuildRange(ctx, window) {
		rep.Days++
		for _, o := range conflict.CheckDay(byDay[day.Date]) {
			rep.Findings = append(rep.Findings, Finding{
				Date:    day.Date,
				Kind:    KindOverlap,
				EventID: o.A.ID,
				OtherID: o.B.ID,
				Minutes: o.Minutes,
				Label:   timeutil.FormatMinutes(o.Minutes),
			})
		}
		for _, c := range day.Alerts() {
			// Time conflicts are already reported as overlaps.
			if c.State == timeline.StateTimeConflict {
				continue
			}
			f := Finding{
				Date:    day.Date,
				Kind:    string(c.State),
				EventID: c.EventID,
				OtherID: c.NextEventID,
				Label:   c.Label,
			}
			if c.State == timeline.StateDisplacement {
				// Shortfall between travel time and gap.
				f.Minutes = c.RequiredMinutes - c.GapMinutes
			}
			rep.Findings = append(rep.Findings, f)
		}
	}

	for _, f := range rep.Findings {
		appLog.Warn("audit finding", "group", groupID, "date", f.Date, "kind", f.Kind, "event", f.EventID, "other", f.OtherID, "label", f.Label)
	}
	appLog.Info("audit completed", "group", groupID, "days", rep.Days, "events", rep.Events, "findings", len(rep.Findings))
	return rep, nil
}

// window keeps events dated today through today+horizon-1.
func (a *Auditor) window(events []model.Event) []model.Event {
	now := a.now().In(a.loc)
	first := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 0, a.horizon-1)

	var out []model.Event
	for _, e := range events {
		d, ok := timeutil.ParseDate(e.Date)
		if !ok || d.Before(first) || d.After(last) {
			continue
		}
		out = append(out, e)
	}
	return out
}
