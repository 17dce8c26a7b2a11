// Package notify announces live starts and completed goals to a Discord channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
	"github.com/susu3304/amanteslive/internal/gifting"
	"github.com/susu3304/amanteslive/internal/live"
	"github.com/susu3304/amanteslive/internal/logging"
)

// Minimal session interface for sending channel messages.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts announcements from a single worker goroutine so slow
// Discord calls never block the request that triggered them.
type Notifier struct {
	session   session
	channelID string
	baseURL   string
	queue     chan string
	stopChan  chan struct{}
	done      chan struct{}
	log       *logrus.Entry
}

// NewDiscord creates a bot session used only for REST sends.
func NewDiscord(token, channelID, baseURL string) (*Notifier, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return newNotifier(s, channelID, baseURL), nil
}

func newNotifier(s session, channelID, baseURL string) *Notifier {
	return &Notifier{
		session:   s,
		channelID: channelID,
		baseURL:   baseURL,
		queue:     make(chan string, 64),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
		log:       logging.Component("notify"),
	}
}

func (n *Notifier) Start() {
	go n.loop()
}

// Stop waits for the worker to exit. Queued messages are discarded.
func (n *Notifier) Stop() {
	close(n.stopChan)
	<-n.done
}

func (n *Notifier) loop() {
	defer close(n.done)
	ctx := context.Background()
	for {
		select {
		case msg := <-n.queue:
			if err := n.sendWithRetry(ctx, msg); err != nil {
				n.log.WithError(err).Warn("failed to send discord message")
			}
		case <-n.stopChan:
			return
		}
	}
}

func (n *Notifier) enqueue(msg string) {
	select {
	case n.queue <- msg:
	default:
		n.log.Warn("notification queue full, dropping message")
	}
}

// LiveStarted is a live.Hook.
func (n *Notifier) LiveStarted(_ context.Context, s *live.Session) {
	n.enqueue(fmt.Sprintf("🔴 **%s** está ao vivo!\n%s/lives/%s", s.Title, n.baseURL, s.ID))
}

// GoalReached is a gifting.Hook.
func (n *Notifier) GoalReached(_ context.Context, r gifting.Receipt) {
	n.enqueue(fmt.Sprintf("🎉 A live **%s** bateu a meta de %d CRISEX!", r.Live.Title, r.Live.MetaGoal))
}

func (n *Notifier) sendWithRetry(ctx context.Context, content string) error {
	const attemptTimeout = 12 * time.Second
	const maxAttempts = 2

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		_, err := n.session.ChannelMessageSend(n.channelID, content, discordgo.WithContext(sendCtx))
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTemporaryOrTimeout(err) {
			return err
		}
		time.Sleep(time.Duration(300+rand.Intn(500)) * time.Millisecond)
	}
	return lastErr
}

func isTemporaryOrTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
