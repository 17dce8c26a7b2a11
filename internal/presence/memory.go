package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend keeps membership in process. It serves single-instance deployments.
type MemoryBackend struct {
	mu    sync.Mutex
	lives map[string]map[string]Member
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{lives: make(map[string]map[string]Member)}
}

func (b *MemoryBackend) Add(_ context.Context, m Member) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.lives[m.LiveID]
	if set == nil {
		set = make(map[string]Member)
		b.lives[m.LiveID] = set
	}
	if cur, ok := set[m.UserID]; ok {
		cur.LastSeen = m.LastSeen
		cur.Connections++
		set[m.UserID] = cur
		return false, nil
	}
	m.Connections = 1
	set[m.UserID] = m
	return true, nil
}

func (b *MemoryBackend) Remove(_ context.Context, liveID, userID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.lives[liveID]
	m, ok := set[userID]
	if !ok {
		return false, nil
	}
	if m.Connections > 1 {
		m.Connections--
		set[userID] = m
		return false, nil
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(b.lives, liveID)
	}
	return true, nil
}

func (b *MemoryBackend) Touch(_ context.Context, liveID, userID string, at time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.lives[liveID][userID]
	if !ok {
		return false, nil
	}
	m.LastSeen = at
	b.lives[liveID][userID] = m
	return true, nil
}

func (b *MemoryBackend) Count(_ context.Context, liveID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lives[liveID]), nil
}

func (b *MemoryBackend) Members(_ context.Context, liveID string) ([]Member, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Member, 0, len(b.lives[liveID]))
	for _, m := range b.lives[liveID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (b *MemoryBackend) Expire(_ context.Context, cutoff time.Time) ([]Member, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var expired []Member
	for liveID, set := range b.lives {
		for userID, m := range set {
			if m.LastSeen.Before(cutoff) {
				expired = append(expired, m)
				delete(set, userID)
			}
		}
		if len(set) == 0 {
			delete(b.lives, liveID)
		}
	}
	return expired, nil
}

func (b *MemoryBackend) Clear(_ context.Context, liveID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.lives, liveID)
	return nil
}
