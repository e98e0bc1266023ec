package mqtt

import "log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// offlineBuffer holds messages while the broker is unreachable.
// Retained messages are coalesced per topic (only the newest matters to a
// subscriber); everything else goes into a fixed-capacity FIFO that drops
// the oldest entry when full.
// Not safe for concurrent use; caller must synchronize.
type offlineBuffer struct {
	buf      []bufferedMsg
	capacity int
	head     int // next write position
	count    int
	overflow bool // true if any message was dropped since last drain

	retained map[string]bufferedMsg
	order    []string // retained topics in first-seen order
}

func newOfflineBuffer(capacity int) *offlineBuffer {
	return &offlineBuffer{
		buf:      make([]bufferedMsg, capacity),
		capacity: capacity,
		retained: make(map[string]bufferedMsg),
	}
}

func (b *offlineBuffer) push(msg bufferedMsg) {
	if msg.retained {
		if _, ok := b.retained[msg.topic]; !ok {
			b.order = append(b.order, msg.topic)
		}
		b.retained[msg.topic] = msg
		return
	}

	if b.count == b.capacity {
		if !b.overflow {
			log.Printf("mqtt: offline buffer full (%d messages), dropping oldest", b.capacity)
			b.overflow = true
		}
		// head already points at the oldest entry
		b.buf[b.head] = msg
		b.head = (b.head + 1) % b.capacity
		return
	}
	b.buf[b.head] = msg
	b.head = (b.head + 1) % b.capacity
	b.count++
}

// drainAll returns queued messages oldest first, followed by the newest
// retained message of each topic, and empties the buffer.
func (b *offlineBuffer) drainAll() []bufferedMsg {
	if b.count == 0 && len(b.order) == 0 {
		return nil
	}

	result := make([]bufferedMsg, 0, b.count+len(b.order))
	start := (b.head - b.count + b.capacity) % b.capacity
	for i := 0; i < b.count; i++ {
		result = append(result, b.buf[(start+i)%b.capacity])
	}
	for _, topic := range b.order {
		result = append(result, b.retained[topic])
	}

	b.count = 0
	b.head = 0
	b.overflow = false
	b.retained = make(map[string]bufferedMsg)
	b.order = nil
	return result
}

func (b *offlineBuffer) len() int {
	return b.count + len(b.order)
}
