package scroll

import "sync"

// notifier delivers snapshots to the change callback from a single
// goroutine, in the order transitions happened, without holding the
// controller lock. The callback may therefore call back into the controller.
type notifier struct {
	fn     func(Snapshot)
	mu     sync.Mutex
	queue  []Snapshot
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newNotifier(fn func(Snapshot)) *notifier {
	n := &notifier{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) push(s Snapshot) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, s)
	n.mu.Unlock()
	n.signal()
}

// close drops undelivered snapshots and stops the goroutine once the
// callback in progress, if any, returns. It does not wait, so it is safe to
// call from inside the callback.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.queue = nil
	n.mu.Unlock()
	n.signal()
}

func (n *notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for range n.wake {
		for {
			n.mu.Lock()
			if n.closed {
				n.mu.Unlock()
				return
			}
			if len(n.queue) == 0 {
				n.mu.Unlock()
				break
			}
			s := n.queue[0]
			n.queue = n.queue[1:]
			n.mu.Unlock()

			n.fn(s)
		}
	}
}
