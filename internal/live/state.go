package live

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type State int

const (
	StateInactive State = iota
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

type Category string

const (
	CategoryHomens   Category = "homens"
	CategoryMulheres Category = "mulheres"
	CategoryLesbicas Category = "lesbicas"
	CategoryGays     Category = "gays"
	CategoryTrans    Category = "trans"
)

var validCategories = map[Category]bool{
	CategoryHomens:   true,
	CategoryMulheres: true,
	CategoryLesbicas: true,
	CategoryGays:     true,
	CategoryTrans:    true,
}

var (
	ErrNotFound         = errors.New("live not found")
	ErrNotActive        = errors.New("live is not active")
	ErrAlreadyStarted   = errors.New("live already started")
	ErrTitleRequired    = errors.New("title is required")
	ErrCategoryRequired = errors.New("at least one category is required")
	ErrInvalidCategory  = errors.New("invalid category")
	ErrInvalidGoal      = errors.New("meta goal must be positive")
	ErrNotOwner         = errors.New("only the streamer can end the live")
	ErrInvalidGift      = errors.New("gift amount must be positive")
)

// ParseCategories normalizes and validates category tags, dropping duplicates.
func ParseCategories(raw []string) ([]Category, error) {
	seen := make(map[Category]bool, len(raw))
	out := make([]Category, 0, len(raw))
	for _, r := range raw {
		c := Category(strings.ToLower(strings.TrimSpace(r)))
		if !validCategories[c] {
			return nil, ErrInvalidCategory
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, ErrCategoryRequired
	}
	return out, nil
}

// Session is one broadcast. A new broadcast is always a new Session.
type Session struct {
	ID           string     `json:"id"`
	StreamerID   string     `json:"streamer_id"`
	Title        string     `json:"title"`
	ThumbnailURL string     `json:"thumbnail_url,omitempty"`
	Categories   []Category `json:"categories"`
	State        State      `json:"-"`
	MetaGoal     int64      `json:"meta_goal"`
	MetaProgress int64      `json:"meta_progress"`
	ViewersCount int64      `json:"viewers_count"`
	CreatedAt    time.Time  `json:"created_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

func (s *Session) IsActive() bool { return s.State == StateActive }

// Start moves an Inactive session to Active.
func (s *Session) Start(title string, categories []Category, goal int64, now time.Time) error {
	if s.State != StateInactive {
		return ErrAlreadyStarted
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrTitleRequired
	}
	if len(categories) == 0 {
		return ErrCategoryRequired
	}
	for _, c := range categories {
		if !validCategories[c] {
			return ErrInvalidCategory
		}
	}
	if goal <= 0 {
		return ErrInvalidGoal
	}
	s.Title = title
	s.Categories = categories
	s.MetaGoal = goal
	s.MetaProgress = 0
	s.State = StateActive
	s.CreatedAt = now
	return nil
}

// ApplyGift adds amount to the goal progress, clamped at the goal.
// It returns how much progress the gift actually added.
func (s *Session) ApplyGift(amount int64) (int64, error) {
	if s.State != StateActive {
		return 0, ErrNotActive
	}
	if amount <= 0 {
		return 0, ErrInvalidGift
	}
	next := ClampProgress(s.MetaProgress, amount, s.MetaGoal)
	added := next - s.MetaProgress
	s.MetaProgress = next
	return added, nil
}

// ClampProgress is min(progress+amount, goal) without overflow.
func ClampProgress(progress, amount, goal int64) int64 {
	if progress >= goal || amount >= goal-progress {
		return goal
	}
	return progress + amount
}

// SetViewers records the presence-derived viewer count.
func (s *Session) SetViewers(n int64) {
	if n < 0 {
		n = 0
	}
	s.ViewersCount = n
}

// End terminates the session. Only the streamer may end it.
func (s *Session) End(by string, now time.Time) error {
	if s.StreamerID != by {
		return ErrNotOwner
	}
	if s.State != StateActive {
		return ErrNotActive
	}
	s.State = StateEnded
	s.EndedAt = &now
	return nil
}

// GoalReached reports whether progress has hit the goal.
func (s *Session) GoalReached() bool {
	return s.MetaGoal > 0 && s.MetaProgress >= s.MetaGoal
}

// HasCategory reports whether the session is tagged with c.
func (s *Session) HasCategory(c Category) bool {
	for _, sc := range s.Categories {
		if sc == c {
			return true
		}
	}
	return false
}

func (s Session) MarshalJSON() ([]byte, error) {
	type alias Session
	return json.Marshal(struct {
		alias
		IsActive bool   `json:"is_active"`
		State    string `json:"state"`
	}{alias(s), s.State == StateActive, s.State.String()})
}
