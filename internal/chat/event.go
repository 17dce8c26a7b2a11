package chat

import (
	"encoding/json"
	"errors"
	"time"
)

type Kind string

const (
	KindMessage Kind = "message"
	KindGift    Kind = "gift"
)

// Body is either PlainMessage or GiftMessage.
type Body interface {
	Kind() Kind
	Text() string
}

type PlainMessage struct {
	Message string
}

func (PlainMessage) Kind() Kind { return KindMessage }
func (m PlainMessage) Text() string { return m.Message }

// GiftMessage is a chat line produced by a paid gift. Amount always equals
// the debit and the goal increment applied with it.
type GiftMessage struct {
	Message string
	Icon    string
	Amount  int64
}

func (GiftMessage) Kind() Kind { return KindGift }
func (m GiftMessage) Text() string { return m.Message }

// Event is one entry of a live's append-only chat log.
type Event struct {
	ID         string
	LiveID     string
	Seq        int64
	SenderID   string
	SenderName string
	Body       Body
	CreatedAt  time.Time
}

var ErrUnknownKind = errors.New("unknown chat event kind")

// Gift returns the gift payload when the event carries one.
func (e Event) Gift() (GiftMessage, bool) {
	g, ok := e.Body.(GiftMessage)
	return g, ok
}

type wireEvent struct {
	ID         string    `json:"id"`
	LiveID     string    `json:"live_id"`
	Seq        int64     `json:"seq"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Kind       Kind      `json:"kind"`
	Message    string    `json:"message"`
	GiftIcon   string    `json:"gift_icon,omitempty"`
	GiftAmount int64     `json:"gift_amount,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		ID:         e.ID,
		LiveID:     e.LiveID,
		Seq:        e.Seq,
		SenderID:   e.SenderID,
		SenderName: e.SenderName,
		CreatedAt:  e.CreatedAt,
	}
	switch b := e.Body.(type) {
	case PlainMessage:
		w.Kind = KindMessage
		w.Message = b.Message
	case GiftMessage:
		w.Kind = KindGift
		w.Message = b.Message
		w.GiftIcon = b.Icon
		w.GiftAmount = b.Amount
	default:
		return nil, ErrUnknownKind
	}
	return json.Marshal(w)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	body, err := NewBody(w.Kind, w.Message, w.GiftIcon, w.GiftAmount)
	if err != nil {
		return err
	}
	*e = Event{
		ID:         w.ID,
		LiveID:     w.LiveID,
		Seq:        w.Seq,
		SenderID:   w.SenderID,
		SenderName: w.SenderName,
		Body:       body,
		CreatedAt:  w.CreatedAt,
	}
	return nil
}

// NewBody rebuilds a body from its stored columns.
func NewBody(kind Kind, message, icon string, amount int64) (Body, error) {
	switch kind {
	case KindMessage:
		return PlainMessage{Message: message}, nil
	case KindGift:
		if amount <= 0 {
			return nil, errors.New("gift event without a positive amount")
		}
		return GiftMessage{Message: message, Icon: icon, Amount: amount}, nil
	}
	return nil, ErrUnknownKind
}
