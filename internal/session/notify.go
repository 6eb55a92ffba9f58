package session

import "sync"

type event struct {
	transcript *TranscriptEvent
	state      *VoiceState
	flushed    chan struct{}
}

// notifier delivers events to the observer on its own goroutine, preserving
// the order in which they were pushed. push never blocks.
type notifier struct {
	mu       sync.Mutex
	queue    []event
	observer Observer

	wake     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
}

func newNotifier() *notifier {
	n := &notifier{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) subscribe(o Observer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observer = o
}

func (n *notifier) push(ev event) {
	n.mu.Lock()
	n.queue = append(n.queue, ev)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// flush blocks until every event pushed before the call has been delivered.
func (n *notifier) flush() {
	ch := make(chan struct{})
	n.push(event{flushed: ch})
	select {
	case <-ch:
	case <-n.done:
	}
}

// close delivers whatever is queued and stops the dispatcher.
func (n *notifier) close() {
	n.quitOnce.Do(func() { close(n.quit) })
	<-n.done
}

func (n *notifier) run() {
	defer close(n.done)

	for {
		select {
		case <-n.wake:
			n.drain()
		case <-n.quit:
			n.drain()
			return
		}
	}
}

func (n *notifier) drain() {
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		ev := n.queue[0]
		n.queue = n.queue[1:]
		o := n.observer
		n.mu.Unlock()

		if ev.flushed != nil {
			close(ev.flushed)
			continue
		}
		if o == nil {
			continue
		}
		if ev.transcript != nil {
			o.OnTranscript(*ev.transcript)
		}
		if ev.state != nil {
			o.OnVoiceState(*ev.state)
		}
	}
}
