package waiter

import (
	"sync"

	"github.com/evanphx/nkern/log"
)

type EventType uint64

type Waiter struct {
	mu sync.RWMutex

	waiters []*Event
}

type Event struct {
	Mask     EventType
	Context  interface{}
	Callback func(e *Event, fired EventType)
}

func (w *Waiter) Register(e *Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.waiters = append(w.waiters, e)
}

func triggerChan(e *Event, _ EventType) {
	c := e.Context.(chan struct{})

	select {
	case c <- struct{}{}:
	default:
	}
}

// RegisterChannel arranges for c to receive a token whenever an event in
// mask fires. Tokens do not queue up; c should be buffered with size 1.
func (w *Waiter) RegisterChannel(mask EventType, c chan struct{}) *Event {
	e := &Event{
		Callback: triggerChan,
		Context:  c,
		Mask:     mask,
	}

	w.Register(e)

	return e
}

func (w *Waiter) Unregister(e *Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, ev := range w.waiters {
		if ev == e {
			w.waiters = append(w.waiters[:i], w.waiters[i+1:]...)
			return
		}
	}
}

func (w *Waiter) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return len(w.waiters)
}

func (w *Waiter) Notify(mask EventType) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	log.L.Trace("waiters-notify", "count", len(w.waiters))

	for _, e := range w.waiters {
		log.L.Trace("waiters-walk", "event-mask", e.Mask, "notify-mask", mask, "match", mask&e.Mask)
		if mask&e.Mask != 0 {
			e.Callback(e, mask&e.Mask)
		}
	}
}
