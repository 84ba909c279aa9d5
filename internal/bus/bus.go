// Package bus fans room events out to local subscribers and bridges them
// across nodes through a remote transport.
package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/skye-cyber/DistriChat/internal/metrics"
	"github.com/skye-cyber/DistriChat/internal/models"
)

// Subscriber receives room events. Notify must not block; it reports false
// when the subscriber can no longer accept events, at which point the bus
// drops it so one dead consumer cannot stall a room.
type Subscriber interface {
	ID() string
	Notify(ev models.Event) bool
}

// RemoteTransport carries events between nodes. store.RedisStore implements
// it; a nil transport leaves the bus node-local.
type RemoteTransport interface {
	Publish(ctx context.Context, ev models.Event) error
	Subscribe(ctx context.Context) (<-chan models.Event, error)
}

// Bus is the per-process broadcast hub.
type Bus struct {
	nodeID    string
	transport RemoteTransport

	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber
}

// New creates a bus. nodeID stamps outgoing events so this process can skip
// its own traffic when it arrives back over the transport.
func New(nodeID string, transport RemoteTransport) *Bus {
	return &Bus{
		nodeID:    nodeID,
		transport: transport,
		rooms:     make(map[string]map[string]Subscriber),
	}
}

// Subscribe attaches a subscriber to a room.
func (b *Bus) Subscribe(roomID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room, ok := b.rooms[roomID]
	if !ok {
		room = make(map[string]Subscriber)
		b.rooms[roomID] = room
	}
	room[sub.ID()] = sub
}

// Unsubscribe detaches a subscriber from a room.
func (b *Bus) Unsubscribe(roomID string, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room, ok := b.rooms[roomID]
	if !ok {
		return
	}
	delete(room, subID)
	if len(room) == 0 {
		delete(b.rooms, roomID)
	}
}

// SubscriberCount returns how many subscribers a room has.
func (b *Bus) SubscriberCount(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[roomID])
}

// Publish validates an event, delivers it to the room's local subscribers
// and forwards it over the remote transport. Subscribers that joined after
// the snapshot was taken catch up from history, not from this delivery.
func (b *Bus) Publish(ctx context.Context, ev models.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.Origin == "" {
		ev.Origin = b.nodeID
	}

	b.deliver(ev)
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()

	if b.transport != nil && ev.Origin == b.nodeID {
		if err := b.transport.Publish(ctx, ev); err != nil {
			log.Warn().Err(err).
				Str("room_id", ev.RoomID).
				Str("type", string(ev.Type)).
				Msg("remote publish failed, local delivery done")
		}
	}
	return nil
}

// deliver fans out to a snapshot of the room's subscribers taken under the
// read lock, so a slow Notify never holds up subscription changes.
func (b *Bus) deliver(ev models.Event) {
	b.mu.RLock()
	room := b.rooms[ev.RoomID]
	subs := make([]Subscriber, 0, len(room))
	for _, sub := range room {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.Notify(ev) {
			log.Debug().
				Str("subscriber", sub.ID()).
				Str("room_id", ev.RoomID).
				Msg("subscriber not keeping up, dropped")
			b.Unsubscribe(ev.RoomID, sub.ID())
		}
	}
}

// Run consumes the remote transport until ctx is cancelled, delivering
// events from other nodes to local subscribers. Events stamped with this
// node's id were already delivered locally and are skipped.
func (b *Bus) Run(ctx context.Context) error {
	if b.transport == nil {
		<-ctx.Done()
		return nil
	}

	events, err := b.transport.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Origin == b.nodeID {
				continue
			}
			if err := ev.Validate(); err != nil {
				log.Warn().Err(err).Str("origin", ev.Origin).Msg("dropping invalid remote event")
				continue
			}
			b.deliver(ev)
		}
	}
}
