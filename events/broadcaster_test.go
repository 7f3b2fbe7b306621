package events

import "testing"

func Test_Broadcaster_PublishReachesSubscribers(t *testing.T) {
	b := NewBroadcaster()
	first := b.Subscribe()
	second := b.Subscribe()
	defer b.Unsubscribe(first)
	defer b.Unsubscribe(second)

	b.Publish(Event{Type: EventConflict, EntryID: "1", DiskText: "disk"})

	for _, ch := range []chan Event{first, second} {
		select {
		case ev := <-ch:
			if ev.Type != EventConflict || ev.DiskText != "disk" {
				t.Errorf("unexpected event %+v", ev)
			}
			if ev.Timestamp == 0 {
				t.Error("expected timestamp to be filled in")
			}
		default:
			t.Error("expected an event on every subscriber")
		}
	}
}

func Test_Broadcaster_SlowConsumerDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 200; i++ {
		b.Publish(Event{Type: EventSetChanged})
	}
	if len(ch) != cap(ch) {
		t.Errorf("expected buffer to be full (%d), got %d", cap(ch), len(ch))
	}
}

func Test_Broadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	if b.Count() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.Count())
	}
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	if b.Count() != 0 {
		t.Errorf("expected 0 subscribers, got %d", b.Count())
	}
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed")
	}
}

func Test_Broadcaster_NilIsSafe(t *testing.T) {
	var b *Broadcaster
	b.Publish(Event{Type: EventReloaded})
}
