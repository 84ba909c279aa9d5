package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skye-cyber/DistriChat/internal/models"
)

type fakeSub struct {
	id     string
	mu     sync.Mutex
	events []models.Event
	dead   bool
}

func (f *fakeSub) ID() string { return f.id }

func (f *fakeSub) Notify(ev models.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead {
		return false
	}
	f.events = append(f.events, ev)
	return true
}

func (f *fakeSub) received() []models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Event, len(f.events))
	copy(out, f.events)
	return out
}

// fakeTransport is an in-process RemoteTransport connecting two buses.
type fakeTransport struct {
	mu    sync.Mutex
	chans []chan models.Event
}

func (t *fakeTransport) Publish(ctx context.Context, ev models.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.chans {
		ch <- ev
	}
	return nil
}

func (t *fakeTransport) Subscribe(ctx context.Context) (<-chan models.Event, error) {
	ch := make(chan models.Event, 64)
	t.mu.Lock()
	t.chans = append(t.chans, ch)
	t.mu.Unlock()
	return ch, nil
}

func chatEvent(roomID, body string) models.Event {
	return models.Event{
		Type:   models.EventChatMessage,
		RoomID: roomID,
		Message: &models.Message{
			ID:     "01J0000000000000000000TEST",
			RoomID: roomID,
			Body:   body,
		},
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestPublishReachesRoomSubscribersOnly(t *testing.T) {
	b := New("node-a", nil)

	in := &fakeSub{id: "in"}
	other := &fakeSub{id: "other"}
	b.Subscribe("room-1", in)
	b.Subscribe("room-2", other)

	require.NoError(t, b.Publish(context.Background(), chatEvent("room-1", "hi")))

	assert.Len(t, in.received(), 1)
	assert.Empty(t, other.received())
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	b := New("node-a", nil)

	err := b.Publish(context.Background(), models.Event{Type: "bogus", RoomID: "room-1"})
	assert.Error(t, err)

	err = b.Publish(context.Background(), models.Event{Type: models.EventChatMessage, RoomID: "room-1"})
	assert.Error(t, err)
}

func TestFailedSubscriberIsDropped(t *testing.T) {
	b := New("node-a", nil)

	dead := &fakeSub{id: "dead", dead: true}
	alive := &fakeSub{id: "alive"}
	b.Subscribe("room-1", dead)
	b.Subscribe("room-1", alive)

	require.NoError(t, b.Publish(context.Background(), chatEvent("room-1", "one")))
	assert.Equal(t, 1, b.SubscriberCount("room-1"))

	require.NoError(t, b.Publish(context.Background(), chatEvent("room-1", "two")))
	assert.Len(t, alive.received(), 2)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New("node-a", nil)

	sub := &fakeSub{id: "s1"}
	b.Subscribe("room-1", sub)
	require.NoError(t, b.Publish(context.Background(), chatEvent("room-1", "one")))

	b.Unsubscribe("room-1", "s1")
	require.NoError(t, b.Publish(context.Background(), chatEvent("room-1", "two")))

	assert.Len(t, sub.received(), 1)
	assert.Equal(t, 0, b.SubscriberCount("room-1"))
}

func TestRemoteEventsCrossNodesWithoutEcho(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &fakeTransport{}
	busA := New("node-a", transport)
	busB := New("node-b", transport)

	go busA.Run(ctx)
	go busB.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	subA := &fakeSub{id: "a"}
	subB := &fakeSub{id: "b"}
	busA.Subscribe("room-1", subA)
	busB.Subscribe("room-1", subB)

	require.NoError(t, busA.Publish(ctx, chatEvent("room-1", "hello")))

	// Local delivery on A, remote delivery on B, and the echo back on A's
	// own subscription is skipped.
	assert.Eventually(t, func() bool {
		return len(subB.received()) == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, subA.received(), 1)
}
