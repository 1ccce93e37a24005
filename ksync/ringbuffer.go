package ksync

import "github.com/elinor-voss/protokernel/task"

// RingBuffer is the fixed-capacity byte queue used by device producers
// (the keyboard decoder) and task consumers (a blocking read syscall). Grounded on ioqueue_t / ioq_putchar / ioq_getchar in
// device/ioqueue.c, built directly on this package's Mutex and CondVar
// rather than raw cli/sti, per spec.md §4.3.
type RingBuffer struct {
	mu       *Mutex
	notFull  *CondVar
	notEmpty *CondVar

	buf        []byte
	head, tail int
	count      int
}

// NewRingBuffer creates a ring buffer of the given byte capacity.
func NewRingBuffer(s *task.Scheduler, capacity int) *RingBuffer {
	if capacity <= 0 {
		panic("ksync: ring buffer capacity must be positive")
	}
	mu := NewMutex(s)
	return &RingBuffer{
		mu:       mu,
		notFull:  NewCondVar(s, mu),
		notEmpty: NewCondVar(s, mu),
		buf:      make([]byte, capacity),
	}
}

// Put blocks while the buffer is full, then appends b and wakes one
// waiting consumer.
func (r *RingBuffer) Put(b byte) {
	r.mu.Acquire()
	for r.count == len(r.buf) {
		r.notFull.Wait()
	}
	r.buf[r.tail] = b
	r.tail = (r.tail + 1) % len(r.buf)
	r.count++
	r.notEmpty.Signal()
	r.mu.Release()
}

// Get blocks while the buffer is empty, then removes and returns the
// oldest byte, waking one waiting producer.
func (r *RingBuffer) Get() byte {
	r.mu.Acquire()
	for r.count == 0 {
		r.notEmpty.Wait()
	}
	b := r.buf[r.head]
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	r.notFull.Signal()
	r.mu.Release()
	return b
}

// Len reports the number of bytes currently queued. 0 <= Len() <=
// Cap() always holds (spec.md §8 property 4).
func (r *RingBuffer) Len() int {
	r.mu.Acquire()
	defer r.mu.Release()
	return r.count
}

// Cap reports the fixed capacity.
func (r *RingBuffer) Cap() int { return len(r.buf) }
