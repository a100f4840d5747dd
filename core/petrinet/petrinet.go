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

// Package petrinet runs the small workflow nets that implement the phases
// of aggregated services. States hold operations, transitions hold a guard
// condition; a state is entered once every transition leading to it has
// fired, and a run ends once every branch has ended.
package petrinet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/p2o-lab/polaris-backend-sub002/common/logger"
	"github.com/p2o-lab/polaris-backend-sub002/core/condition"
	"github.com/p2o-lab/polaris-backend-sub002/core/metrics"
	"github.com/p2o-lab/polaris-backend-sub002/core/operation"
	"github.com/p2o-lab/polaris-backend-sub002/core/unit"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "petrinet")

// Finished is the successor that ends a branch.
const Finished = "finished"

var (
	ErrAlreadyRunning = errors.New("petrinet already running")
	ErrStopped        = errors.New("petrinet stopped")
)

type StateDefinition struct {
	ID              string                 `json:"id" yaml:"id"`
	Operations      []operation.Definition `json:"operations,omitempty" yaml:"operations,omitempty"`
	NextTransitions []string               `json:"nextTransitions,omitempty" yaml:"nextTransitions,omitempty"`
}

type TransitionDefinition struct {
	ID         string               `json:"id" yaml:"id"`
	Condition  condition.Definition `json:"condition" yaml:"condition"`
	NextStates []string             `json:"nextStates,omitempty" yaml:"nextStates,omitempty"`
}

type Definition struct {
	States            []StateDefinition      `json:"states" yaml:"states"`
	Transitions       []TransitionDefinition `json:"transitions" yaml:"transitions"`
	InitialTransition string                 `json:"initialTransition" yaml:"initialTransition"`
}

type Options struct {
	Clock     clock.Clock
	Operation operation.Options
}

type State struct {
	id           string
	operations   []*operation.Operation
	next         []*Transition
	predecessors int
}

func (s *State) ID() string {
	return s.id
}

type Transition struct {
	id        string
	condition condition.Condition
	next      []*State
}

func (t *Transition) ID() string {
	return t.id
}

type Net struct {
	states      []*State
	transitions []*Transition
	initial     *Transition
	units       unit.Set

	mu      sync.Mutex
	current *run
}

func New(def Definition, units unit.Set, opts Options) (*Net, error) {
	if def.InitialTransition == "" {
		return nil, fmt.Errorf("petrinet: initialTransition is required")
	}
	if opts.Operation.Clock == nil {
		opts.Operation.Clock = opts.Clock
	}

	n := &Net{}
	statesByID := make(map[string]*State, len(def.States))
	transitionsByID := make(map[string]*Transition, len(def.Transitions))
	used := make(map[string]struct{})

	for _, sd := range def.States {
		if sd.ID == "" || sd.ID == Finished {
			return nil, fmt.Errorf("petrinet: invalid state id %q", sd.ID)
		}
		if _, dup := statesByID[sd.ID]; dup {
			return nil, fmt.Errorf("petrinet: duplicate state %s", sd.ID)
		}
		s := &State{id: sd.ID}
		for i, od := range sd.Operations {
			op, err := operation.New(od, units, opts.Operation)
			if err != nil {
				return nil, fmt.Errorf("petrinet: state %s: operation %d: %w", sd.ID, i, err)
			}
			s.operations = append(s.operations, op)
			used[op.Unit()] = struct{}{}
		}
		statesByID[sd.ID] = s
		n.states = append(n.states, s)
	}

	builder := condition.Builder{Units: units, Clock: opts.Clock}
	for _, td := range def.Transitions {
		if td.ID == "" {
			return nil, fmt.Errorf("petrinet: transition without id")
		}
		if _, dup := transitionsByID[td.ID]; dup {
			return nil, fmt.Errorf("petrinet: duplicate transition %s", td.ID)
		}
		cond, err := builder.Build(td.Condition)
		if err != nil {
			return nil, fmt.Errorf("petrinet: transition %s: %w", td.ID, err)
		}
		for _, u := range cond.Units() {
			used[u] = struct{}{}
		}
		t := &Transition{id: td.ID, condition: cond}
		seen := make(map[string]struct{})
		for _, next := range td.NextStates {
			if next == Finished {
				continue
			}
			s, ok := statesByID[next]
			if !ok {
				return nil, fmt.Errorf("petrinet: transition %s: unknown state %s", td.ID, next)
			}
			if _, dup := seen[next]; dup {
				continue
			}
			seen[next] = struct{}{}
			t.next = append(t.next, s)
			s.predecessors++
		}
		transitionsByID[td.ID] = t
		n.transitions = append(n.transitions, t)
	}

	for _, sd := range def.States {
		s := statesByID[sd.ID]
		for _, id := range sd.NextTransitions {
			t, ok := transitionsByID[id]
			if !ok {
				return nil, fmt.Errorf("petrinet: state %s: unknown transition %s", sd.ID, id)
			}
			s.next = append(s.next, t)
		}
		if s.predecessors == 0 {
			log.WithField("state", s.id).Warn("state is not reachable")
		}
	}

	initial, ok := transitionsByID[def.InitialTransition]
	if !ok {
		return nil, fmt.Errorf("petrinet: unknown initial transition %s", def.InitialTransition)
	}
	n.initial = initial

	names := make([]string, 0, len(used))
	for u := range used {
		names = append(names, u)
	}
	n.units = units.Subset(names)
	return n, nil
}

func (n *Net) Units() unit.Set {
	return n.units
}

func (n *Net) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current != nil
}

// Run fires the initial transition once its condition holds and follows
// the net until every branch has ended. It returns ErrStopped if Stop was
// called, or the context error if ctx ended first.
func (n *Net) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		net:       n,
		ctx:       ctx,
		cancel:    cancel,
		arrivals:  make(map[*State]int),
		activated: make(map[*Transition]*activeTransition),
	}
	n.mu.Lock()
	if n.current != nil {
		n.mu.Unlock()
		return ErrAlreadyRunning
	}
	n.current = r
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.current = nil
		n.mu.Unlock()
	}()

	r.activate(n.initial)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.stop()
		<-done
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.err
}

// Stop clears every listening condition and stops every operation of the
// current run.
func (n *Net) Stop() {
	n.mu.Lock()
	r := n.current
	n.mu.Unlock()
	if r != nil {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()
		r.cancel()
	}
}

type activeTransition struct {
	sub   func()
	fired bool
}

// run is the token state of one execution of a net. wg counts listening
// transitions and executing operations; a run ends when it drains.
type run struct {
	net    *Net
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	arrivals  map[*State]int
	activated map[*Transition]*activeTransition
	entered   []*State
	stopped   bool
	err       error
}

func (r *run) activate(t *Transition) {
	r.mu.Lock()
	if _, seen := r.activated[t]; seen || r.ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	active := &activeTransition{}
	r.activated[t] = active
	r.wg.Add(1)
	r.mu.Unlock()

	sub := t.condition.OnChange(func(v bool) {
		if v {
			go r.fire(t)
		}
	})
	r.mu.Lock()
	active.sub = sub.Unsubscribe
	r.mu.Unlock()

	if err := t.condition.Listen(r.ctx); err != nil {
		log.WithField("transition", t.id).WithError(err).Error("cannot listen")
		r.mu.Lock()
		if r.err == nil {
			r.err = fmt.Errorf("transition %s: %w", t.id, err)
		}
		r.mu.Unlock()
		if r.release(t) {
			r.wg.Done()
		}
		return
	}
	if t.condition.Fulfilled() == condition.True {
		r.fire(t)
	}
}

// release ends a listening transition without firing it.
func (r *run) release(t *Transition) bool {
	r.mu.Lock()
	active := r.activated[t]
	if active == nil || active.fired {
		r.mu.Unlock()
		return false
	}
	active.fired = true
	sub := active.sub
	r.mu.Unlock()

	if sub != nil {
		sub()
	}
	t.condition.Clear()
	return true
}

func (r *run) fire(t *Transition) {
	if !r.release(t) {
		return
	}
	defer r.wg.Done()
	if r.ctx.Err() != nil {
		return
	}

	metrics.PetrinetTransitions.Inc()
	log.WithField("transition", t.id).Debug("transition fired")
	for _, s := range t.next {
		r.arrive(s)
	}
}

func (r *run) arrive(s *State) {
	r.mu.Lock()
	r.arrivals[s]++
	ready := r.arrivals[s] == s.predecessors
	if ready {
		r.entered = append(r.entered, s)
	}
	r.mu.Unlock()
	if ready {
		r.enter(s)
	}
}

func (r *run) enter(s *State) {
	log.WithField("state", s.id).Debug("state entered")
	for _, op := range s.operations {
		r.wg.Add(1)
		done := op.Start(r.ctx)
		go func() {
			defer r.wg.Done()
			<-done
		}()
	}
	for _, t := range s.next {
		r.activate(t)
	}
}

func (r *run) stop() {
	r.mu.Lock()
	transitions := make([]*Transition, 0, len(r.activated))
	for t := range r.activated {
		transitions = append(transitions, t)
	}
	entered := append([]*State(nil), r.entered...)
	r.mu.Unlock()

	for _, t := range transitions {
		if r.release(t) {
			r.wg.Done()
		}
	}
	for _, s := range entered {
		for _, op := range s.operations {
			op.Stop()
		}
	}
}
