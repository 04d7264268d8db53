package peernet

import "sync"

// Queue is an unbounded event mailbox. Producers never block on a slow
// consumer; events come out in the order they were pushed.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
	out    chan Event
	done   chan struct{}
	once   sync.Once
}

func NewQueue() *Queue {
	q := &Queue{
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
	go q.pump()
	return q
}

// Push appends e. It reports false once the queue is closed.
func (q *Queue) Push(e Event) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Events returns the receiving side. It is closed after Close.
func (q *Queue) Events() <-chan Event {
	return q.out
}

// Close stops delivery. Events still queued are dropped.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}

func (q *Queue) pump() {
	defer close(q.out)

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-q.notify:
				continue
			case <-q.done:
				return
			}
		}
		e := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- e:
		case <-q.done:
			return
		}
	}
}
