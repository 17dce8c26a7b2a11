package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceStore struct {
	events []Event
	fail   error
}

func (s *sliceStore) AppendMessage(_ context.Context, liveID, senderID, senderName, text string) (Event, error) {
	if s.fail != nil {
		return Event{}, s.fail
	}
	e := Event{LiveID: liveID, Seq: int64(len(s.events) + 1), SenderID: senderID, SenderName: senderName, Body: PlainMessage{Message: text}}
	s.events = append(s.events, e)
	return e, nil
}

func (s *sliceStore) History(_ context.Context, liveID string, limit int) ([]Event, error) {
	if len(s.events) <= limit {
		return s.events, nil
	}
	return s.events[len(s.events)-limit:], nil
}

func (s *sliceStore) Since(_ context.Context, liveID string, after int64, limit int) ([]Event, error) {
	var out []Event
	for _, e := range s.events {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out, nil
}

type wordModerator struct {
	word string
	err  error
}

func (m wordModerator) Flagged(_ context.Context, text string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return strings.Contains(text, m.word), nil
}

func TestSendValidatesAndPublishes(t *testing.T) {
	store := &sliceStore{}
	svc := NewService(store, NewHub(), wordModerator{word: "spam"})
	ctx := context.Background()

	sub, backlog, err := svc.Follow(ctx, "live-1", -1)
	require.NoError(t, err)
	assert.Empty(t, backlog)

	tests := []struct {
		name string
		text string
		err  error
	}{
		{"empty", "   ", ErrEmptyMessage},
		{"too long", strings.Repeat("a", MaxMessageLength+1), ErrMessageTooLong},
		{"flagged", "buy spam now", ErrMessageRejected},
		{"ok", "  olá  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Send(ctx, "live-1", "u1", "ana", tt.text)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
		})
	}

	require.Len(t, store.events, 1)
	assert.Equal(t, "olá", store.events[0].Body.Text())
	assert.Equal(t, []int64{1}, drain(sub))
}

func TestSendIgnoresModerationOutage(t *testing.T) {
	svc := NewService(&sliceStore{}, NewHub(), wordModerator{err: errors.New("timeout")})
	_, err := svc.Send(context.Background(), "live-1", "u1", "ana", "oi")
	assert.NoError(t, err)
}

func TestSendSurfacesStoreError(t *testing.T) {
	storeErr := errors.New("live is not active")
	svc := NewService(&sliceStore{fail: storeErr}, NewHub(), nil)
	_, err := svc.Send(context.Background(), "live-1", "u1", "ana", "oi")
	assert.ErrorIs(t, err, storeErr)
}

func TestFollowResumesAfterSeq(t *testing.T) {
	store := &sliceStore{}
	svc := NewService(store, NewHub(), nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Send(ctx, "live-1", "u1", "ana", "oi")
		require.NoError(t, err)
	}

	sub, backlog, err := svc.Follow(ctx, "live-1", 1)
	require.NoError(t, err)
	require.Len(t, backlog, 2)
	assert.Equal(t, int64(3), backlog[1].Seq)

	_, err = svc.Send(ctx, "live-1", "u1", "ana", "de novo")
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, drain(sub))
}

func TestHistoryLimitDefaults(t *testing.T) {
	store := &sliceStore{}
	svc := NewService(store, NewHub(), nil)
	ctx := context.Background()
	for i := 0; i < HistoryLimit+5; i++ {
		_, err := svc.Send(ctx, "live-1", "u1", "ana", "oi")
		require.NoError(t, err)
	}
	events, err := svc.History(ctx, "live-1", 0)
	require.NoError(t, err)
	assert.Len(t, events, HistoryLimit)
	assert.Equal(t, int64(HistoryLimit+5), events[len(events)-1].Seq)
}
