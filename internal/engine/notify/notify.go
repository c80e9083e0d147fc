// Package notify broadcasts identity and ledger changes between tabs of the
// same browser profile. Notifications are hints: subscribers must re-read the
// stores instead of trusting the payload, and cross-tab delivery is only
// eventually consistent.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Kind names a class of change.
type Kind string

const (
	KindIdentity      Kind = "identity"
	KindLedger        Kind = "ledger"
	KindSearchContext Kind = "search-context"
	KindItinerary     Kind = "itinerary"
)

const storageTopic = "citytailor.storage"

const (
	metaKind   = "kind"
	metaOrigin = "origin"
)

// Notification is what subscribers receive.
type Notification struct {
	Kind    Kind
	Origin  string
	Payload json.RawMessage
	SentAt  time.Time
}

// Decode unmarshals the payload into v.
func (n Notification) Decode(v any) error {
	return json.Unmarshal(n.Payload, v)
}

type Handler func(Notification)

// Publisher is the port components publish through.
type Publisher interface {
	Publish(ctx context.Context, kind Kind, payload any)
}

// Channel is the storage-change channel shared by every tab of one browser
// profile. It never echoes a message back to the tab that sent it.
type Channel struct {
	pubsub *gochannel.GoChannel
}

func NewChannel(logger *slog.Logger) *Channel {
	return &Channel{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NewSlogLogger(logger)),
	}
}

func (c *Channel) Close() error {
	return c.pubsub.Close()
}

var _ Publisher = (*Notifier)(nil)

// Notifier is one tab's endpoint on a Channel.
type Notifier struct {
	tabID   string
	channel *Channel
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	handlers map[Kind]map[uint64]Handler
	nextID   uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// New attaches a tab to channel. channel may be nil for a tab that never
// talks to siblings.
func New(channel *Channel, logger *slog.Logger) (*Notifier, error) {
	n := &Notifier{
		tabID:    "tab_" + uuid.NewString(),
		channel:  channel,
		logger:   logger.With(slog.String("component", "notifier")),
		now:      time.Now,
		handlers: make(map[Kind]map[uint64]Handler),
		done:     make(chan struct{}),
	}
	if channel == nil {
		close(n.done)
		n.cancel = func() {}
		return n, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := channel.pubsub.Subscribe(ctx, storageTopic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to storage channel: %w", err)
	}
	n.cancel = cancel
	go n.listen(msgs)
	return n, nil
}

// TabID identifies this endpoint.
func (n *Notifier) TabID() string { return n.tabID }

// Publish delivers to same-tab subscribers synchronously and to other tabs
// through the channel. Failures are logged, never returned.
func (n *Notifier) Publish(ctx context.Context, kind Kind, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to encode notification", slog.String("kind", string(kind)), slog.Any("error", err))
		return
	}
	note := Notification{Kind: kind, Origin: n.tabID, Payload: raw, SentAt: n.now()}
	n.dispatch(note)

	if n.channel == nil {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), raw)
	msg.Metadata.Set(metaKind, string(kind))
	msg.Metadata.Set(metaOrigin, n.tabID)
	if err := n.channel.pubsub.Publish(storageTopic, msg); err != nil {
		n.logger.WarnContext(ctx, "Failed to broadcast notification", slog.String("kind", string(kind)), slog.Any("error", err))
	}
}

// Subscribe registers handler for kind and returns its unsubscribe function.
func (n *Notifier) Subscribe(kind Kind, handler Handler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	if n.handlers[kind] == nil {
		n.handlers[kind] = make(map[uint64]Handler)
	}
	n.handlers[kind][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.handlers[kind], id)
			n.mu.Unlock()
		})
	}
}

func (n *Notifier) listen(msgs <-chan *message.Message) {
	defer close(n.done)
	for msg := range msgs {
		origin := msg.Metadata.Get(metaOrigin)
		if origin != n.tabID {
			n.dispatch(Notification{
				Kind:    Kind(msg.Metadata.Get(metaKind)),
				Origin:  origin,
				Payload: json.RawMessage(msg.Payload),
				SentAt:  n.now(),
			})
		}
		msg.Ack()
	}
}

func (n *Notifier) dispatch(note Notification) {
	n.mu.RLock()
	handlers := make([]Handler, 0, len(n.handlers[note.Kind]))
	for _, h := range n.handlers[note.Kind] {
		handlers = append(handlers, h)
	}
	n.mu.RUnlock()

	for _, h := range handlers {
		h(note)
	}
}

// Close detaches the tab from the channel.
func (n *Notifier) Close() {
	n.cancel()
	<-n.done
}
