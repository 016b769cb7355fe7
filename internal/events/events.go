// Package events is the in-process hub that fans sync observations out to
// live subscribers.
//
// Delivery is best-effort: there is no buffering or replay, and a slow or
// gone subscriber never stalls a publisher. The persisted store is the source
// of truth; the stream only tells you to go look.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bidwatch/lotkeeper/internal/lotkeeper"
)

// SchemaVersion is stamped on every envelope.
const SchemaVersion = "1"

// Type enumerates the events this core produces.
type Type string

const (
	TypeSyncStarted   Type = "sync_started"
	TypeSyncCompleted Type = "sync_completed"
	TypeSyncError     Type = "sync_error"
	TypeLotUpdated    Type = "lot_updated"
)

type (
	// Envelope is the versioned message delivered to subscribers.
	Envelope struct {
		Version   string    `json:"version"`
		Type      Type      `json:"type"`
		Timestamp time.Time `json:"timestamp"`
		Payload   any       `json:"payload"`
	}

	SyncStartedPayload struct {
		TargetCode string `json:"target_code"`
		MaxPages   int    `json:"max_pages,omitempty"`
		DryRun     bool   `json:"dry_run,omitempty"`
	}

	LotUpdatedPayload struct {
		Code          string             `json:"code"`
		Title         string             `json:"title"`
		State         lotkeeper.LotState `json:"state"`
		BidCount      int                `json:"bid_count"`
		CurrentAmount float64            `json:"current_amount"`
		Currency      string             `json:"currency"`
	}

	SyncCompletedPayload struct {
		Summary lotkeeper.SyncRunSummary `json:"summary"`
	}

	SyncErrorPayload struct {
		TargetCode string `json:"target_code"`
		Error      string `json:"error"`
	}
)

// New wraps a payload in a timestamped envelope.
func New(t Type, payload any) Envelope {
	return Envelope{
		Version:   SchemaVersion,
		Type:      t,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// subscriberBuffer is how many undelivered events a subscriber may lag
// before publishes to it start getting dropped.
const subscriberBuffer = 64

// Bus fans published envelopes out to every attached subscriber.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Envelope
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Envelope)}
}

// Subscribe attaches a new subscriber and returns its handle and channel.
// The channel is closed on Unsubscribe.
func (b *Bus) Subscribe() (string, <-chan Envelope) {
	ch := make(chan Envelope, subscriberBuffer)
	id := uuid.NewString()

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	return id, ch
}

// Unsubscribe detaches a subscriber and closes its channel. Unknown handles
// are a no-op, so a deferred unsubscribe racing a disconnect is harmless.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers the envelope to every currently attached subscriber
// without blocking. A subscriber whose buffer is full loses the event.
//
// Sends stay under the read lock: they can't block, and it keeps a
// concurrent Unsubscribe from closing a channel mid-broadcast.
func (b *Bus) Publish(e Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			slog.Debug("dropping event for slow subscriber", "type", e.Type)
		}
	}
}

// Subscribers returns the current number of attached subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
