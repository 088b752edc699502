// ABOUTME: Tests for the view update Broadcaster
// ABOUTME: Covers fan-out, slow subscribers, unsubscribe, and context cancellation

package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_SubscribersReceiveUpdate(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context())
	ch2, _ := b.Subscribe(t.Context())

	b.Publish(Update{ConversationID: "c1", Streaming: true})

	for i, ch := range []<-chan Update{ch1, ch2} {
		select {
		case u := <-ch:
			assert.Equal(t, "c1", u.ConversationID, "subscriber %d", i)
			assert.True(t, u.Streaming)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, _ = b.Subscribe(t.Context())

	done := make(chan struct{})
	go func() {
		for range subscriberBufferSize * 3 {
			b.Publish(Update{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
}

func TestBroadcaster_FullSubscriberMissesFinalUpdate(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context())
	for range subscriberBufferSize {
		b.Publish(Update{Streaming: true})
	}
	b.Publish(Update{Streaming: false})

	for range subscriberBufferSize {
		u := <-ch
		assert.True(t, u.Streaming)
	}
	select {
	case u := <-ch:
		t.Fatalf("unexpected update after full buffer: %+v", u)
	default:
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, id := b.Subscribe(t.Context())
	b.Unsubscribe(id)
	b.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcaster_ContextCancellationUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcaster_SubscribeAfterClose(t *testing.T) {
	b := NewBroadcaster(nil)
	b.Close()

	ch, _ := b.Subscribe(t.Context())
	_, ok := <-ch
	assert.False(t, ok)
}
