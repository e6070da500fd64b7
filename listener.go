package memdb

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
)

// Listener receives every transaction of the collections it is subscribed to,
// after the mutation has been applied. Listeners run on the mutating caller's
// goroutine, one at a time per collection, in the order the mutations were
// applied. A listener must not mutate the collection it observes.
type Listener interface {
	OnTransaction(txn *Transaction) error
}

type ListenerFunc func(txn *Transaction) error

func (f ListenerFunc) OnTransaction(txn *Transaction) error {
	return f(txn)
}

// publisher delivers a collection's transactions in ticket order. Tickets are
// handed out inside the collection's critical section, and delivery happens
// after the data lock is released, so slow listeners never block readers.
type publisher struct {
	mu        sync.Mutex
	cond      sync.Cond
	next      uint64
	listeners []Listener

	published atomic.Uint64
	failures  atomic.Uint64
}

func (p *publisher) init() {
	p.cond.L = &p.mu
}

func (p *publisher) subscribe(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(slices.Clip(p.listeners), l)
}

func (p *publisher) publish(ticket uint64, txn *Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.next != ticket {
		p.cond.Wait()
	}
	defer func() {
		p.next++
		p.cond.Broadcast()
	}()

	var errs []error
	for _, l := range p.listeners {
		if err := safelyDeliver(l, txn); err != nil {
			errs = append(errs, err)
		}
	}
	p.published.Add(1)
	if len(errs) > 0 {
		p.failures.Add(1)
		return errors.Join(errs...)
	}
	return nil
}

func (p *publisher) counts() (published, failures uint64) {
	return p.published.Load(), p.failures.Load()
}
