/*
 * === This file is part of Polaris ===
 *
 * Copyright 2026 the Polaris authors.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package event

import (
	"sort"
	"sync"
)

// Observers is a typed registry of change callbacks. Every registration
// returns a Subscription handle; the callback stays attached until that
// handle is cancelled. Notify never holds the internal lock while calling
// back, so callbacks may subscribe or unsubscribe freely.
type Observers[T any] struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]func(T)
}

func (o *Observers[T]) Subscribe(fn func(T)) *Subscription {
	if fn == nil {
		return &Subscription{}
	}
	o.mu.Lock()
	if o.fns == nil {
		o.fns = make(map[uint64]func(T))
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	o.mu.Unlock()

	return &Subscription{cancel: func() {
		o.mu.Lock()
		delete(o.fns, id)
		o.mu.Unlock()
	}}
}

func (o *Observers[T]) Notify(value T) {
	o.mu.Lock()
	if len(o.fns) == 0 {
		o.mu.Unlock()
		return
	}
	ids := make([]uint64, 0, len(o.fns))
	for id := range o.fns {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	// registration order
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		o.mu.Lock()
		fn, ok := o.fns[id]
		o.mu.Unlock()
		if ok {
			fn(value)
		}
	}
}

func (o *Observers[T]) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.fns)
}

// Subscription ties the lifetime of a callback to an explicit handle.
// Unsubscribe is idempotent and safe on a nil receiver.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// NewSubscription wraps an arbitrary release function, e.g. a transport
// monitored item, into a Subscription.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Subscriptions is a bag of handles released together.
type Subscriptions []*Subscription

func (s Subscriptions) UnsubscribeAll() {
	for _, sub := range s {
		sub.Unsubscribe()
	}
}
