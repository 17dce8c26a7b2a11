package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(liveID string, seq int64) Event {
	return Event{LiveID: liveID, Seq: seq, SenderID: "u1", Body: PlainMessage{Message: "oi"}, CreatedAt: time.Now()}
}

func drain(sub *Subscription) []int64 {
	var seqs []int64
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return seqs
			}
			seqs = append(seqs, e.Seq)
		default:
			return seqs
		}
	}
}

func TestHubDeliversInSeqOrder(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("live-1")
	h.Seed("live-1", 0)

	h.Publish(msg("live-1", 2))
	h.Publish(msg("live-1", 1))
	h.Publish(msg("live-1", 3))
	h.Publish(msg("live-1", 2)) // duplicate via relay

	assert.Equal(t, []int64{1, 2, 3}, drain(sub))
}

func TestHubHoldsEventsUntilSeeded(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("live-1")

	h.Publish(msg("live-1", 5))
	h.Publish(msg("live-1", 6))
	assert.Empty(t, drain(sub))

	// backlog read by the subscriber ended at 5
	h.Seed("live-1", 5)
	assert.Equal(t, []int64{6}, drain(sub))

	last, known := h.LastSeq("live-1")
	assert.True(t, known)
	assert.Equal(t, int64(6), last)
}

func TestHubNoReplayForLateSubscriber(t *testing.T) {
	h := NewHub()
	first := h.Subscribe("live-1")
	h.Seed("live-1", 0)
	h.Publish(msg("live-1", 1))

	late := h.Subscribe("live-1")
	h.Publish(msg("live-1", 2))

	assert.Equal(t, []int64{1, 2}, drain(first))
	assert.Equal(t, []int64{2}, drain(late))
}

func TestHubIsolatesLives(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("a")
	b := h.Subscribe("b")
	h.Seed("a", 0)
	h.Seed("b", 10)

	h.Publish(msg("a", 1))
	h.Publish(msg("b", 11))
	h.Publish(msg("c", 1))

	assert.Equal(t, []int64{1}, drain(a))
	assert.Equal(t, []int64{11}, drain(b))
}

func TestHubCutsOffSlowSubscriber(t *testing.T) {
	h := NewHub()
	h.bufferSize = 2
	slow := h.Subscribe("live-1")
	h.Seed("live-1", 0)

	for i := int64(1); i <= 3; i++ {
		h.Publish(msg("live-1", i))
	}

	assert.Equal(t, []int64{1, 2}, drain(slow))
	_, open := <-slow.Events()
	assert.False(t, open)
	assert.True(t, slow.Lagged())

	_, tracked := h.LastSeq("live-1")
	assert.False(t, tracked, "topic without subscribers is released")
}

func TestHubFlushesWhenGapNeverFills(t *testing.T) {
	h := NewHub()
	h.reorderWindow = 3
	sub := h.Subscribe("live-1")
	h.Seed("live-1", 0)

	for i := int64(2); i <= 5; i++ {
		h.Publish(msg("live-1", i))
	}

	assert.Empty(t, drain(sub))
	assert.True(t, sub.Lagged())
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("live-1")
	sub.Close()
	sub.Close()
	h.CloseLive("live-1")
	assert.False(t, sub.Lagged())
}

func TestCloseLiveEndsSubscriptions(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("live-1")
	h.CloseLive("live-1")
	_, open := <-sub.Events()
	assert.False(t, open)
	assert.False(t, sub.Lagged())
}

func TestEventJSON(t *testing.T) {
	gift := Event{
		ID:       "e1",
		LiveID:   "live-1",
		Seq:      7,
		SenderID: "u1",
		Body:     GiftMessage{Message: "enviou Super Mimo", Icon: "🔥", Amount: 500},
	}
	data, err := json.Marshal(gift)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"gift"`)
	assert.Contains(t, string(data), `"gift_amount":500`)

	var back Event
	require.NoError(t, json.Unmarshal(data, &back))
	g, ok := back.Gift()
	require.True(t, ok)
	assert.Equal(t, int64(500), g.Amount)

	plain, err := json.Marshal(msg("live-1", 1))
	require.NoError(t, err)
	assert.NotContains(t, string(plain), "gift_amount")

	_, err = json.Marshal(Event{})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestNewBody(t *testing.T) {
	_, err := NewBody(KindGift, "x", "🎁", 0)
	assert.Error(t, err)
	_, err = NewBody("sticker", "x", "", 0)
	assert.ErrorIs(t, err, ErrUnknownKind)

	b, err := NewBody(KindMessage, "oi", "", 0)
	require.NoError(t, err)
	assert.Equal(t, KindMessage, b.Kind())
}
