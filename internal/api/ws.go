package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/susu3304/amanteslive/internal/chat"
	"github.com/susu3304/amanteslive/internal/discrete"
	"github.com/susu3304/amanteslive/internal/live"
	"github.com/susu3304/amanteslive/internal/metrics"
	"github.com/tidwall/gjson"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
	catchUpMax = 500
)

// frame is one server to client message.
type frame struct {
	Type           string           `json:"type"`
	LiveID         string           `json:"live_id,omitempty"`
	Event          *chat.Event      `json:"event,omitempty"`
	Live           *live.Session    `json:"live,omitempty"`
	Balance        *int64           `json:"balance,omitempty"`
	Viewers        *int             `json:"viewers,omitempty"`
	Discrete       *discrete.Notice `json:"discrete,omitempty"`
	DiscreteActive *bool            `json:"discrete_active,omitempty"`
	Error          string           `json:"error,omitempty"`
}

func chatFrame(e chat.Event) frame {
	switch e.Body.(type) {
	case chat.GiftMessage:
		return frame{Type: "gift", LiveID: e.LiveID, Event: &e}
	default:
		return frame{Type: "chat", LiveID: e.LiveID, Event: &e}
	}
}

type client struct {
	userID   string
	username string
	liveID   string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

// enqueue queues f without blocking. A client whose buffer is full is
// disconnected and resyncs with ?since= when it reconnects.
func (c *client) enqueue(f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.close()
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

func (a *API) handleLiveSocket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	liveID := mux.Vars(r)["id"]
	sess, err := a.svc.Lives.Get(r.Context(), liveID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !sess.IsActive() {
		a.writeError(w, r, live.ErrNotActive)
		return
	}
	balance, err := a.svc.Ledger.Balance(r.Context(), claims.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	since := queryInt(r, "since", -1)

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	c := &client{
		userID:   claims.UserID,
		username: claims.Username,
		liveID:   liveID,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	log := a.log.WithFields(logrus.Fields{"live_id": liveID, "user_id": c.userID})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.register(c)
	metrics.WSConnected()
	defer func() {
		c.close()
		a.unregister(c)
		metrics.WSDisconnected()
		if err := a.svc.Presence.Leave(context.Background(), liveID, c.userID); err != nil {
			log.WithError(err).Warn("presence leave failed")
		}
	}()

	if err := a.svc.Presence.Join(ctx, liveID, c.userID); err != nil {
		log.WithError(err).Warn("presence join failed")
	}

	active := a.svc.Discrete.Active(c.userID, liveID)
	c.enqueue(frame{Type: "hello", LiveID: liveID, Live: sess, Balance: &balance, DiscreteActive: &active})

	go a.writePump(c)
	go a.streamChat(ctx, c, since)
	a.readPump(ctx, c)
}

func (a *API) streamChat(ctx context.Context, c *client, since int64) {
	sub, backlog, err := a.svc.Chat.Follow(ctx, c.liveID, since)
	if err != nil {
		c.enqueue(frame{Type: "error", Error: err.Error()})
		c.close()
		return
	}
	defer func() { sub.Close() }()

	last := since
	if last < 0 {
		last = 0
	}
	deliver := func(events []chat.Event) {
		for _, e := range events {
			if e.Seq <= last {
				continue
			}
			c.enqueue(chatFrame(e))
			last = e.Seq
		}
	}
	deliver(backlog)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case e, ok := <-sub.Events():
			if !ok {
				if !sub.Lagged() {
					// The live ended.
					if sess, err := a.svc.Lives.Get(ctx, c.liveID); err == nil {
						c.enqueue(frame{Type: "live", LiveID: c.liveID, Live: sess})
					}
					c.close()
					return
				}
				sub, backlog, err = a.svc.Chat.Follow(ctx, c.liveID, last)
				if err != nil {
					c.enqueue(frame{Type: "error", Error: err.Error()})
					c.close()
					return
				}
				deliver(backlog)
				continue
			}
			if e.Seq > last+1 {
				missed, err := a.svc.Chat.Since(ctx, c.liveID, last, catchUpMax)
				if err == nil {
					deliver(missed)
				}
			}
			deliver([]chat.Event{e})
		}
	}
}

func (a *API) readPump(ctx context.Context, c *client) {
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !gjson.ValidBytes(data) {
			c.enqueue(frame{Type: "error", Error: "invalid frame"})
			continue
		}
		msg := gjson.ParseBytes(data)
		switch msg.Get("type").String() {
		case "heartbeat":
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			if err := a.svc.Presence.Heartbeat(ctx, c.liveID, c.userID); err != nil {
				a.log.WithError(err).Warn("presence heartbeat failed")
			}
		case "chat":
			if _, err := a.svc.Chat.Send(ctx, c.liveID, c.userID, c.username, msg.Get("message").String()); err != nil {
				c.enqueue(frame{Type: "error", Error: err.Error()})
			}
		case "leave":
			return
		default:
			c.enqueue(frame{Type: "error", Error: "unknown frame type"})
		}
	}
}

func (a *API) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(data []byte) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	for {
		select {
		case data := <-c.send:
			if !write(data) {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			// Flush frames queued before the close, such as the final live frame.
			for {
				select {
				case data := <-c.send:
					if !write(data) {
						return
					}
				default:
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}

func (a *API) register(c *client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clients[c] = struct{}{}
}

func (a *API) unregister(c *client) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.clients, c)
}

func (a *API) each(match func(c *client) bool, f frame) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for c := range a.clients {
		if match(c) {
			c.enqueue(f)
		}
	}
}

// PushBalance sends the authoritative balance to every socket of userID.
func (a *API) PushBalance(userID string, balance int64) {
	a.each(func(c *client) bool { return c.userID == userID }, frame{Type: "balance", Balance: &balance})
}

// PushDiscrete forwards a billing notice to the viewer's sockets on that live.
func (a *API) PushDiscrete(n discrete.Notice) {
	a.each(func(c *client) bool { return c.userID == n.ViewerID && c.liveID == n.LiveID },
		frame{Type: "discrete", LiveID: n.LiveID, Discrete: &n})
}

// PushViewers broadcasts a live's viewer count.
func (a *API) PushViewers(liveID string, count int) {
	a.each(func(c *client) bool { return c.liveID == liveID }, frame{Type: "viewers", LiveID: liveID, Viewers: &count})
}

func (a *API) closeClients() {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for c := range a.clients {
		c.close()
	}
}
