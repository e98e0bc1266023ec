package mqtt

import (
	"testing"
)

func TestOfflineBufferEmptyDrain(t *testing.T) {
	b := newOfflineBuffer(10)
	if got := b.drainAll(); got != nil {
		t.Errorf("expected nil from empty drain, got %d items", len(got))
	}
}

func TestOfflineBufferPushAndDrain(t *testing.T) {
	b := newOfflineBuffer(10)
	for i := 0; i < 5; i++ {
		b.push(bufferedMsg{topic: TopicEvents, payload: []byte{byte(i)}})
	}

	got := b.drainAll()
	if len(got) != 5 {
		t.Fatalf("expected 5 items, got %d", len(got))
	}
	for i := 0; i < 5; i++ {
		if got[i].payload[0] != byte(i) {
			t.Errorf("item %d: expected payload %d, got %d", i, i, got[i].payload[0])
		}
	}
	if b.drainAll() != nil {
		t.Error("second drain should be empty")
	}
}

func TestOfflineBufferOverflowDropsOldest(t *testing.T) {
	capacity := 5
	b := newOfflineBuffer(capacity)

	// Push 0..7, buffer keeps 3..7
	for i := 0; i < capacity+3; i++ {
		b.push(bufferedMsg{topic: TopicEvents, payload: []byte{byte(i)}})
	}

	got := b.drainAll()
	if len(got) != capacity {
		t.Fatalf("expected %d items, got %d", capacity, len(got))
	}
	for i := 0; i < capacity; i++ {
		want := byte(i + 3)
		if got[i].payload[0] != want {
			t.Errorf("item %d: expected payload %d, got %d", i, want, got[i].payload[0])
		}
	}
}

func TestOfflineBufferCoalescesRetained(t *testing.T) {
	b := newOfflineBuffer(2)

	for i := 0; i < 50; i++ {
		b.push(bufferedMsg{topic: TopicStatus, payload: []byte{byte(i)}, retained: true})
	}
	b.push(bufferedMsg{topic: TopicEvents, payload: []byte("on"), qos: 1})
	b.push(bufferedMsg{topic: TopicSystem, payload: []byte("mode"), qos: 1, retained: true})

	if b.len() != 3 {
		t.Fatalf("expected 3 buffered messages, got %d", b.len())
	}

	got := b.drainAll()
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	// FIFO entries first, then retained topics in first-seen order.
	if got[0].topic != TopicEvents {
		t.Errorf("item 0: expected events topic, got %s", got[0].topic)
	}
	if got[1].topic != TopicStatus || got[1].payload[0] != 49 {
		t.Errorf("item 1: expected newest status (49), got %s %v", got[1].topic, got[1].payload)
	}
	if got[2].topic != TopicSystem || !got[2].retained {
		t.Errorf("item 2: expected retained system message, got %+v", got[2])
	}
}

func TestOfflineBufferMultipleCycles(t *testing.T) {
	b := newOfflineBuffer(5)

	for i := 0; i < 3; i++ {
		b.push(bufferedMsg{topic: TopicEvents, payload: []byte{byte(i)}})
	}
	if got := b.drainAll(); len(got) != 3 {
		t.Fatalf("cycle 1: expected 3 items, got %d", len(got))
	}

	for i := 10; i < 14; i++ {
		b.push(bufferedMsg{topic: TopicEvents, payload: []byte{byte(i)}})
	}
	got := b.drainAll()
	if len(got) != 4 {
		t.Fatalf("cycle 2: expected 4 items, got %d", len(got))
	}
	for i, msg := range got {
		if want := byte(10 + i); msg.payload[0] != want {
			t.Errorf("cycle 2 item %d: expected %d, got %d", i, want, msg.payload[0])
		}
	}
}

func TestOfflineBufferPreservesFields(t *testing.T) {
	b := newOfflineBuffer(10)
	b.push(bufferedMsg{
		topic:   TopicEvents,
		payload: []byte(`{"test":true}`),
		qos:     1,
	})

	got := b.drainAll()
	if len(got) != 1 {
		t.Fatalf("expected 1 item, got %d", len(got))
	}
	if got[0].topic != TopicEvents {
		t.Errorf("topic: got %s, want %s", got[0].topic, TopicEvents)
	}
	if string(got[0].payload) != `{"test":true}` {
		t.Errorf("payload: got %s", got[0].payload)
	}
	if got[0].qos != 1 {
		t.Errorf("qos: got %d, want 1", got[0].qos)
	}
}
