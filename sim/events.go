package sim

import "container/heap"

type event struct {
	at    int64
	seq   uint64
	fn    func()
	index int
}

type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x any) {
	e := x.(*event)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// schedule runs fn at now+delay picoseconds.
func (m *Machine) schedule(delay int64, fn func()) *event {
	if delay < 0 {
		delay = 0
	}
	m.seq++
	e := &event{at: m.now + delay, seq: m.seq, fn: fn}
	heap.Push(&m.events, e)
	return e
}

// cancel removes e if it is still queued.
func (m *Machine) cancel(e *event) {
	if e != nil && e.index >= 0 && e.index < len(m.events) && m.events[e.index] == e {
		heap.Remove(&m.events, e.index)
	}
}

// runDue runs every event scheduled at or before now.
func (m *Machine) runDue() {
	for len(m.events) > 0 && m.events[0].at <= m.now {
		e := heap.Pop(&m.events).(*event)
		e.fn()
	}
}

// runNext advances time to the next event and runs everything due then. It
// reports false when nothing is scheduled.
func (m *Machine) runNext() bool {
	if len(m.events) == 0 {
		return false
	}
	if at := m.events[0].at; at > m.now {
		m.now = at
	}
	m.runDue()
	m.checkInterrupts()
	return true
}
