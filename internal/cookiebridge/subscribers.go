package cookiebridge

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Subscription is the handle returned by Bridge.Subscribe.
type Subscription struct {
	set  *subscriberSet
	id   uint64
	once sync.Once
}

// Unsubscribe removes the callback. It is safe to call more than once and
// from inside the callback itself.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.set == nil {
		return
	}
	s.once.Do(func() { s.set.remove(s.id) })
}

type subscriber struct {
	id uint64
	fn func(string)
}

// subscriberSet is copy-on-write: writers swap in a new slice under mu,
// notify iterates whatever snapshot was current when it started.
type subscriberSet struct {
	mu     sync.Mutex
	nextID uint64
	list   atomic.Pointer[[]subscriber]
}

func (s *subscriberSet) add(fn func(string)) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID

	cur := s.snapshot()
	next := make([]subscriber, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, subscriber{id: id, fn: fn})
	s.list.Store(&next)

	return &Subscription{set: s, id: id}
}

func (s *subscriberSet) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snapshot()
	next := make([]subscriber, 0, len(cur))
	for _, sub := range cur {
		if sub.id != id {
			next = append(next, sub)
		}
	}
	s.list.Store(&next)
}

func (s *subscriberSet) snapshot() []subscriber {
	if p := s.list.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *subscriberSet) count() int {
	return len(s.snapshot())
}

// notify calls every subscriber in registration order. A panicking
// subscriber is logged and skipped.
func (s *subscriberSet) notify(log *slog.Logger, header string) {
	for _, sub := range s.snapshot() {
		callSubscriber(log, sub, header)
	}
}

func callSubscriber(log *slog.Logger, sub subscriber, header string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("cookie subscriber panicked", "subscriber", sub.id, "panic", r)
		}
	}()
	sub.fn(header)
}
