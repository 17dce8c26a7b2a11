package live

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeSession(t *testing.T, goal int64) *Session {
	t.Helper()
	s := &Session{ID: "l1", StreamerID: "s1"}
	require.NoError(t, s.Start("Noite", []Category{CategoryTrans}, goal, time.Unix(0, 0)))
	return s
}

func TestStartValidation(t *testing.T) {
	tests := []struct {
		name  string
		title string
		cats  []Category
		goal  int64
		err   error
	}{
		{"ok", "Hello", []Category{CategoryGays}, 100, nil},
		{"blank title", "   ", []Category{CategoryGays}, 100, ErrTitleRequired},
		{"no categories", "Hello", nil, 100, ErrCategoryRequired},
		{"bad category", "Hello", []Category{"other"}, 100, ErrInvalidCategory},
		{"zero goal", "Hello", []Category{CategoryGays}, 0, ErrInvalidGoal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Session{}
			err := s.Start(tt.title, tt.cats, tt.goal, time.Now())
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.Equal(t, StateInactive, s.State)
				return
			}
			require.NoError(t, err)
			assert.True(t, s.IsActive())
			assert.Zero(t, s.MetaProgress)
		})
	}
}

func TestStartTwice(t *testing.T) {
	s := activeSession(t, 100)
	assert.ErrorIs(t, s.Start("again", []Category{CategoryGays}, 10, time.Now()), ErrAlreadyStarted)
}

func TestApplyGiftClampsAtGoal(t *testing.T) {
	s := activeSession(t, 100)
	s.MetaProgress = 90

	added, err := s.ApplyGift(50)
	require.NoError(t, err)
	assert.Equal(t, int64(10), added)
	assert.Equal(t, int64(100), s.MetaProgress)
	assert.True(t, s.GoalReached())

	added, err = s.ApplyGift(5)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Equal(t, int64(100), s.MetaProgress)
}

func TestApplyGiftRejects(t *testing.T) {
	s := activeSession(t, 100)
	_, err := s.ApplyGift(0)
	assert.ErrorIs(t, err, ErrInvalidGift)

	require.NoError(t, s.End("s1", time.Now()))
	_, err = s.ApplyGift(10)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestClampProgress(t *testing.T) {
	assert.Equal(t, int64(60), ClampProgress(10, 50, 100))
	assert.Equal(t, int64(100), ClampProgress(90, 50, 100))
	assert.Equal(t, int64(100), ClampProgress(100, 1, 100))
	assert.Equal(t, int64(100), ClampProgress(50, math.MaxInt64, 100))
}

func TestEnd(t *testing.T) {
	s := activeSession(t, 100)
	assert.ErrorIs(t, s.End("someone", time.Now()), ErrNotOwner)
	assert.True(t, s.IsActive())

	at := time.Unix(100, 0)
	require.NoError(t, s.End("s1", at))
	assert.Equal(t, StateEnded, s.State)
	require.NotNil(t, s.EndedAt)
	assert.Equal(t, at, *s.EndedAt)

	assert.ErrorIs(t, s.End("s1", time.Now()), ErrNotActive)
}

func TestParseCategories(t *testing.T) {
	cats, err := ParseCategories([]string{" Trans", "gays", "trans"})
	require.NoError(t, err)
	assert.Equal(t, []Category{CategoryTrans, CategoryGays}, cats)

	_, err = ParseCategories(nil)
	assert.ErrorIs(t, err, ErrCategoryRequired)
	_, err = ParseCategories([]string{"robots"})
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestSessionJSON(t *testing.T) {
	s := activeSession(t, 100)
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"is_active":true`)
	assert.Contains(t, string(raw), `"state":"active"`)
	assert.NotContains(t, string(raw), "ended_at")
}
