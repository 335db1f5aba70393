// Package session persists the editing state of one itinerary group: what
// the operator was looking at, an unsaved draft and the travel-time memo of
// the oracle client. It replaces ambient global state with an explicit value
// that callers load on start and save on shutdown.
package session

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"tripline/internal/model"
	"tripline/internal/oracle"
)

// State is everything restored when an operator resumes work on a group.
type State struct {
	GroupID      string                       `json:"groupId"`
	SelectedDate string                       `json:"selectedDate,omitempty"`
	ExpandedDays []string                     `json:"expandedDays,omitempty"`
	Draft        *model.Event                 `json:"draft,omitempty"`
	TravelCache  map[string]oracle.TravelTime `json:"travelCache,omitempty"`
	SavedAt      time.Time                    `json:"savedAt"`
}

// Capture copies the entries of an oracle cache into the state.
func (s *State) Capture(c *oracle.Cache) {
	if c == nil {
		return
	}
	s.TravelCache = c.Snapshot()
}

// Apply seeds an oracle cache with the persisted entries.
func (s *State) Apply(c *oracle.Cache) {
	if c == nil || len(s.TravelCache) == 0 {
		return
	}
	c.Restore(s.TravelCache)
}

// Expand marks a day as expanded. Dates are kept sorted and unique.
func (s *State) Expand(date string) {
	for _, d := range s.ExpandedDays {
		if d == date {
			return
		}
	}
	s.ExpandedDays = append(s.ExpandedDays, date)
	sort.Strings(s.ExpandedDays)
}

// Collapse removes a day from the expanded set.
func (s *State) Collapse(date string) {
	out := s.ExpandedDays[:0]
	for _, d := range s.ExpandedDays {
		if d != date {
			out = append(out, d)
		}
	}
	s.ExpandedDays = out
}

// Restore reads the state saved at path. A missing file yields an empty
// state for no group, not an error.
func Restore(path string) (*State, error) {
	if path == "" {
		return nil, errors.New("session path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &State{}, nil
		}
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Save writes the state atomically (temp file + rename) with 0600 perms.
func Save(path string, st *State) error {
	if path == "" {
		return errors.New("session path is empty")
	}
	if st == nil {
		return errors.New("session state is nil")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	st.SavedAt = time.Now().UTC()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tripline-session-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
