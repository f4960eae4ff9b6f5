// Package queue provides the FIFO storage behind mpsc channels.
package queue

// Queue is a generic FIFO queue.
//
// Queue is not safe for concurrent use. The channel state lock guards the
// shared queue, and the private receive buffer is owned by one goroutine.
type Queue[T any] struct {
	items []T
	head  int
}

// New creates a new empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends items to the tail of the queue.
func (q *Queue[T]) Push(items ...T) {
	if q.head > 0 && len(q.items)+len(items) > cap(q.items) {
		// reclaim the popped prefix before append grows the backing array
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	q.items = append(q.items, items...)
}

// Pop removes and returns the first item. ok is false if the queue is empty.
func (q *Queue[T]) Pop() (item T, ok bool) {
	if q.head >= len(q.items) {
		return item, false
	}
	var zero T
	item = q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return item, true
}

// Empty returns true if the queue has no items.
func (q *Queue[T]) Empty() bool {
	return q.head >= len(q.items)
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	return len(q.items) - q.head
}

// Clear removes all items from the queue, keeping its capacity.
func (q *Queue[T]) Clear() {
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
}

// Swap exchanges the contents of q and other in constant time.
func (q *Queue[T]) Swap(other *Queue[T]) {
	q.items, other.items = other.items, q.items
	q.head, other.head = other.head, q.head
}
