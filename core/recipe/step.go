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

package recipe

import (
	"context"
	"fmt"

	"github.com/p2o-lab/polaris-backend-sub002/core/condition"
	"github.com/p2o-lab/polaris-backend-sub002/core/operation"
)

type Transition struct {
	nextName  string
	next      *Step
	condition condition.Condition
}

func (t *Transition) NextStep() string {
	return t.nextName
}

func (t *Transition) Condition() condition.Condition {
	return t.condition
}

type Step struct {
	name        string
	operations  []*operation.Operation
	transitions []*Transition
}

func (s *Step) Name() string {
	return s.name
}

func (s *Step) Operations() []*operation.Operation {
	return s.operations
}

func (s *Step) Transitions() []*Transition {
	return s.transitions
}

type forceRequest struct {
	from   string
	target string
	reply  chan error
}

type outcome struct {
	nextName string
	next     *Step
	forced   bool
	// reply acknowledges a forced transition once it is applied
	reply chan error
}

// execute launches the operations of the step, then races the guard
// conditions of its transitions. The first transition whose condition is
// fulfilled wins; simultaneous winners resolve to the first declared. A
// forced transition wins over all of them. Every condition is cleared and
// every operation still retrying is stopped before execute returns.
func (s *Step) execute(ctx context.Context, r *Recipe, force <-chan forceRequest) (outcome, error) {
	for _, op := range s.operations {
		op.Start(ctx)
	}
	defer func() {
		for _, op := range s.operations {
			op.Stop()
		}
	}()

	fired := make(chan struct{}, 1)
	subs := make([]func(), 0, len(s.transitions))
	for _, t := range s.transitions {
		sub := t.condition.OnChange(func(v bool) {
			if v {
				select {
				case fired <- struct{}{}:
				default:
				}
			}
		})
		subs = append(subs, sub.Unsubscribe)
	}
	defer func() {
		for _, unsubscribe := range subs {
			unsubscribe()
		}
		for _, t := range s.transitions {
			t.condition.Clear()
		}
	}()

	for _, t := range s.transitions {
		if err := t.condition.Listen(ctx); err != nil {
			return outcome{}, fmt.Errorf("step %s: %w", s.name, err)
		}
	}

	winner := s.firstFulfilled()
	for winner < 0 {
		select {
		case <-fired:
			// a condition may have flipped back before we got here
			winner = s.firstFulfilled()
		case req := <-force:
			if req.from != s.name {
				req.reply <- fmt.Errorf("recipe is at step %s, not %s", s.name, req.from)
				continue
			}
			return outcome{nextName: req.target, next: r.stepsByName[req.target], forced: true, reply: req.reply}, nil
		case <-ctx.Done():
			return outcome{}, ctx.Err()
		}
	}

	t := s.transitions[winner]
	return outcome{nextName: t.nextName, next: t.next}, nil
}

func (s *Step) firstFulfilled() int {
	for i, t := range s.transitions {
		if t.condition.Fulfilled() == condition.True {
			return i
		}
	}
	return -1
}
