package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripline/internal/model"
	"tripline/internal/oracle"
)

func TestSaveRestoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "session.json")

	cache := oracle.NewCache()
	cache.Put(oracle.CacheKey("GIG", "Hotel Fasano", "2025-03-05"), oracle.TravelTime{DurationText: "50m", DurationValueSeconds: 3000})

	st := &State{GroupID: "g1", SelectedDate: "2025-03-05"}
	st.Expand("2025-03-06")
	st.Expand("2025-03-05")
	st.Expand("2025-03-06")
	st.Draft = &model.Event{ID: "draft", Type: model.TypeVisit, Title: "Cristo Redentor"}
	st.Capture(cache)
	require.NoError(t, Save(path, st))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := Restore(path)
	require.NoError(t, err)
	assert.Equal(t, "g1", got.GroupID)
	assert.Equal(t, []string{"2025-03-05", "2025-03-06"}, got.ExpandedDays)
	require.NotNil(t, got.Draft)
	assert.Equal(t, "Cristo Redentor", got.Draft.Title)
	assert.False(t, got.SavedAt.IsZero())

	fresh := oracle.NewCache()
	got.Apply(fresh)
	v, ok := fresh.Get(oracle.CacheKey("GIG", "Hotel Fasano", "2025-03-05"))
	assert.True(t, ok)
	assert.Equal(t, 3000, v.DurationValueSeconds)
}

func TestRestoreMissingFile(t *testing.T) {
	st, err := Restore(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, st.GroupID)
	assert.Empty(t, st.TravelCache)
}

func TestRestoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := Restore(path)
	assert.Error(t, err)
}

func TestCollapse(t *testing.T) {
	st := &State{ExpandedDays: []string{"a", "b", "c"}}
	st.Collapse("b")
	assert.Equal(t, []string{"a", "c"}, st.ExpandedDays)
}

func TestSaveRejectsEmptyInput(t *testing.T) {
	assert.Error(t, Save("", &State{}))
	assert.Error(t, Save(filepath.Join(t.TempDir(), "s.json"), nil))
}
