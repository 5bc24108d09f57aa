package sim

import (
	"sync"

	"joyride/server/internal/physics"
)

const (
	inputQueueOccupancyMetricKey = "sim_input_queue_occupancy"
	inputQueueEvictedMetricKey   = "sim_input_queue_evicted_total"
)

// InputQueue stores sequence-numbered inputs for a single connection in a
// fixed-size ring. It is safe for a concurrent network-receive producer and
// the serial tick consumer. When full, the oldest input is evicted so the
// most recent intent always survives.
type InputQueue struct {
	mu      sync.Mutex
	data    []physics.Input
	head    int
	tail    int
	count   int
	metrics Metrics
}

// Metrics is the counter surface the queue reports occupancy to.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// NewInputQueue constructs a ring buffer with the provided capacity.
func NewInputQueue(capacity int, metrics Metrics) *InputQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &InputQueue{
		data:    make([]physics.Input, capacity),
		metrics: metrics,
	}
}

// Capacity reports the maximum number of inputs the queue can hold.
func (q *InputQueue) Capacity() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

// Push appends an input, evicting the oldest entry if the ring is full.
// It reports whether an eviction occurred.
func (q *InputQueue) Push(in physics.Input) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	evicted := false
	if q.count == len(q.data) {
		q.head = (q.head + 1) % len(q.data)
		q.count--
		evicted = true
		if q.metrics != nil {
			q.metrics.Add(inputQueueEvictedMetricKey, 1)
		}
	}
	q.data[q.tail] = in
	q.tail = (q.tail + 1) % len(q.data)
	q.count++
	q.storeOccupancyLocked()
	return evicted
}

// Drain returns all queued inputs in FIFO order and clears the ring.
func (q *InputQueue) Drain() []physics.Input {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return nil
	}
	inputs := make([]physics.Input, q.count)
	for i := 0; i < q.count; i++ {
		inputs[i] = q.data[(q.head+i)%len(q.data)]
	}
	q.head = 0
	q.tail = 0
	q.count = 0
	q.storeOccupancyLocked()
	return inputs
}

// Pop removes and returns the oldest queued input, if any.
func (q *InputQueue) Pop() (physics.Input, bool) {
	if q == nil {
		return physics.Input{}, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return physics.Input{}, false
	}
	in := q.data[q.head]
	q.head = (q.head + 1) % len(q.data)
	q.count--
	q.storeOccupancyLocked()
	return in, true
}

// Len reports the number of queued inputs.
func (q *InputQueue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *InputQueue) storeOccupancyLocked() {
	if q.metrics == nil {
		return
	}
	q.metrics.Store(inputQueueOccupancyMetricKey, uint64(q.count))
}
