package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/susu3304/amanteslive/internal/logging"
	"github.com/tidwall/gjson"
)

// NotifyChannel is the Postgres channel chat appends are announced on.
const NotifyChannel = "live_chat_events"

// EndedPayload is the notification announcing that liveID ended.
func EndedPayload(liveID string) (string, error) {
	b, err := json.Marshal(struct {
		LiveID string `json:"live_id"`
		Ended  bool   `json:"ended"`
	}{liveID, true})
	return string(b), err
}

// Listener delivers notification payloads for a channel until the
// connection drops or ctx ends. ready is called once the listen is active.
type Listener interface {
	Listen(ctx context.Context, channel string, ready func(), handle func(payload string)) error
}

// TailReader fetches events after a sequence number.
type TailReader interface {
	Since(ctx context.Context, liveID string, afterSeq int64, limit int) ([]Event, error)
}

// EndFunc runs when any instance reports that a live ended.
type EndFunc func(ctx context.Context, liveID string)

// Relay feeds events appended by other instances into the local hub.
// Notifications carry {"live_id","seq"} for appends and
// {"live_id","ended":true} when a live ends; appended events are read back
// from storage so ordering and content come from one place.
type Relay struct {
	hub      *Hub
	tail     TailReader
	listener Listener
	log      *logrus.Entry

	mu    sync.Mutex
	ended []EndFunc

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewRelay(hub *Hub, tail TailReader, listener Listener) *Relay {
	return &Relay{
		hub:        hub,
		tail:       tail,
		listener:   listener,
		log:        logging.Component("chat-relay"),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// OnEnded registers fn for live-ended notifications. The relay closes the
// live's local subscriptions itself before calling fn.
func (r *Relay) OnEnded(fn EndFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, fn)
}

// Run listens until ctx is cancelled, reconnecting with backoff. Every
// (re)connect re-fetches the tail of each tracked live, since
// notifications sent while disconnected are lost.
func (r *Relay) Run(ctx context.Context) {
	backoff := r.minBackoff
	for {
		err := r.listener.Listen(ctx, NotifyChannel, func() {
			backoff = r.minBackoff
			r.resync(ctx)
		}, func(payload string) {
			r.handle(ctx, payload)
		})
		if ctx.Err() != nil {
			return
		}
		r.log.WithError(err).WithField("retry_in", backoff).Warn("listener disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

func (r *Relay) handle(ctx context.Context, payload string) {
	res := gjson.GetMany(payload, "live_id", "seq", "ended")
	liveID, seq := res[0].String(), res[1].Int()
	if liveID == "" {
		r.log.WithField("payload", payload).Debug("ignoring malformed notification")
		return
	}
	if res[2].Bool() {
		r.liveEnded(ctx, liveID)
		return
	}
	last, known := r.hub.LastSeq(liveID)
	if !known || seq <= last {
		return
	}
	r.catchUp(ctx, liveID, last)
}

func (r *Relay) liveEnded(ctx context.Context, liveID string) {
	r.hub.CloseLive(liveID)
	r.mu.Lock()
	fns := append([]EndFunc(nil), r.ended...)
	r.mu.Unlock()
	for _, fn := range fns {
		fn(ctx, liveID)
	}
}

func (r *Relay) resync(ctx context.Context) {
	for liveID, last := range r.hub.Tracked() {
		r.catchUp(ctx, liveID, last)
	}
}

func (r *Relay) catchUp(ctx context.Context, liveID string, after int64) {
	events, err := r.tail.Since(ctx, liveID, after, 200)
	if err != nil {
		r.log.WithError(err).WithField("live_id", liveID).Warn("failed to fetch chat tail")
		return
	}
	for _, e := range events {
		r.hub.Publish(e)
	}
}
