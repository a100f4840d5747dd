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

// Package condition evaluates trees of boolean conditions over the live
// state and values of units. Conditions are inert until Listen is called
// and release every subscription they hold on Clear.
package condition

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/p2o-lab/polaris-backend-sub002/common/event"
	"github.com/p2o-lab/polaris-backend-sub002/common/logger"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "condition")

// ErrUnknownType is returned for a definition whose type is not known, at
// any nesting level.
var ErrUnknownType = errors.New("no condition found")

type Status int8

const (
	Undefined Status = iota
	False
	True
)

func (s Status) String() string {
	switch s {
	case False:
		return "false"
	case True:
		return "true"
	}
	return "undefined"
}

func statusOf(b bool) Status {
	if b {
		return True
	}
	return False
}

type Condition interface {
	// Listen activates the condition. Calling it on a listening condition
	// does nothing.
	Listen(ctx context.Context) error
	// Clear releases every subscription and resets the status to
	// Undefined. It is safe to call repeatedly.
	Clear()
	Fulfilled() Status
	// OnChange registers fn for changes of a defined status.
	OnChange(fn func(bool)) *event.Subscription
	// Units lists the names of the units the condition reads.
	Units() []string
	String() string
}

// base carries the status bookkeeping shared by all variants.
type base struct {
	mu        sync.Mutex
	status    Status
	listening bool
	subs      event.Subscriptions
	observers event.Observers[bool]
}

func newBase() base {
	return base{status: False}
}

func (b *base) Fulfilled() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *base) OnChange(fn func(bool)) *event.Subscription {
	return b.observers.Subscribe(fn)
}

// begin marks the condition as listening, reporting false if it already was.
// A condition that listens again starts from false, as a new one does.
func (b *base) begin() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listening {
		return false
	}
	b.listening = true
	b.status = False
	return true
}

func (b *base) hold(subs ...*event.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subs...)
}

// update stores the new status of a listening condition and emits it when
// it flipped from a defined value.
func (b *base) update(value bool) {
	b.mu.Lock()
	if !b.listening {
		b.mu.Unlock()
		return
	}
	prev := b.status
	b.status = statusOf(value)
	emit := prev != Undefined && prev != b.status
	b.mu.Unlock()

	if emit {
		b.observers.Notify(value)
	}
}

func (b *base) clear() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.listening = false
	b.status = Undefined
	b.mu.Unlock()
	subs.UnsubscribeAll()
}

func unionUnits(children []Condition) []string {
	set := make(map[string]struct{})
	for _, c := range children {
		for _, u := range c.Units() {
			set[u] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
