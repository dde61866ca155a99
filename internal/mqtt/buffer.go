package mqtt

import "log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO of messages waiting for the send
// worker, including those held while the broker is unreachable or the
// publish breaker is open.
// Not safe for concurrent use; the caller must synchronize.
type ringBuffer struct {
	buf      []bufferedMsg
	capacity int
	head     int // next write position
	count    int
	dropped  int // messages overwritten since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{
		buf:      make([]bufferedMsg, capacity),
		capacity: capacity,
	}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	if r.count == r.capacity {
		if r.dropped == 0 {
			log.Printf("mqtt: buffer full (%d messages), dropping oldest", r.capacity)
		}
		r.dropped++
		// head already points at the oldest entry
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		return
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
}

// requeue puts msgs back at the front, ahead of anything pushed since the
// drain. Entries beyond capacity are dropped from the newest end.
func (r *ringBuffer) requeue(msgs []bufferedMsg) {
	if len(msgs) == 0 {
		return
	}
	pending := r.drainAll()
	dropped := r.dropped
	all := make([]bufferedMsg, 0, len(msgs)+len(pending))
	all = append(all, msgs...)
	all = append(all, pending...)
	for _, m := range all {
		if r.count == r.capacity {
			dropped++
			continue
		}
		r.push(m)
	}
	r.dropped = dropped
}

// pop removes and returns the oldest message.
func (r *ringBuffer) pop() (bufferedMsg, bool) {
	if r.count == 0 {
		return bufferedMsg{}, false
	}
	i := (r.head - r.count + r.capacity) % r.capacity
	msg := r.buf[i]
	r.buf[i] = bufferedMsg{}
	r.count--
	return msg, true
}

// drainAll returns the buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	result := make([]bufferedMsg, r.count)
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}

	r.count = 0
	r.head = 0
	return result
}

// takeDropped returns and clears the overflow count.
func (r *ringBuffer) takeDropped() int {
	n := r.dropped
	r.dropped = 0
	return n
}

func (r *ringBuffer) len() int {
	return r.count
}
