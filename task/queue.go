package task

// queue is a simple FIFO of *TCB used for the ready queue; the waiter
// lists of ksync's semaphores and condition variables are separate
// slices kept in the same FIFO order. It is intrusive in
// spirit — the original links PCBs through embedded list cells — but
// since Go has no embeddable intrusive pointers without unsafe tricks,
// this keeps a plain slice; callers already serialize access with the
// scheduler's own lock, so no extra synchronization is added here.
type queue struct {
	items []*TCB
}

func (q *queue) pushBack(t *TCB) {
	q.items = append(q.items, t)
}

func (q *queue) pushFront(t *TCB) {
	q.items = append([]*TCB{t}, q.items...)
}

func (q *queue) popFront() *TCB {
	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t
}

func (q *queue) empty() bool { return len(q.items) == 0 }

func (q *queue) contains(t *TCB) bool {
	for _, e := range q.items {
		if e == t {
			return true
		}
	}
	return false
}
