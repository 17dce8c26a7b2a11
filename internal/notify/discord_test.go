package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/susu3304/amanteslive/internal/gifting"
	"github.com/susu3304/amanteslive/internal/live"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type fakeSession struct {
	mu       sync.Mutex
	failures []error
	sent     []string
	channels []string
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	f.sent = append(f.sent, content)
	f.channels = append(f.channels, channelID)
	return &discordgo.Message{Content: content}, nil
}

func (f *fakeSession) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestAnnouncements(t *testing.T) {
	fake := &fakeSession{}
	n := newNotifier(fake, "chan-1", "https://amantes.live")
	n.Start()

	n.LiveStarted(context.Background(), &live.Session{ID: "l1", Title: "Noite"})
	n.GoalReached(context.Background(), gifting.Receipt{Live: live.Session{Title: "Noite", MetaGoal: 1000}})

	require.Eventually(t, func() bool { return len(fake.messages()) == 2 }, time.Second, 5*time.Millisecond)
	n.Stop()

	msgs := fake.messages()
	assert.Contains(t, msgs[0], "https://amantes.live/lives/l1")
	assert.Contains(t, msgs[1], "1000 CRISEX")
	assert.Equal(t, []string{"chan-1", "chan-1"}, fake.channels)
}

func TestSendRetriesTimeouts(t *testing.T) {
	fake := &fakeSession{failures: []error{timeoutErr{}}}
	n := newNotifier(fake, "c", "")
	require.NoError(t, n.sendWithRetry(context.Background(), "hi"))
	assert.Equal(t, []string{"hi"}, fake.messages())
}

func TestSendDoesNotRetryPermanentErrors(t *testing.T) {
	perm := errors.New("missing access")
	fake := &fakeSession{failures: []error{perm}}
	n := newNotifier(fake, "c", "")
	assert.ErrorIs(t, n.sendWithRetry(context.Background(), "hi"), perm)
	assert.Empty(t, fake.messages())
}
