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

// Package recipe executes step graphs. Each step launches its operations
// and races the guard conditions of its outgoing transitions; the winning
// transition selects the next step until a terminal transition is taken.
package recipe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/p2o-lab/polaris-backend-sub002/common/event"
	"github.com/p2o-lab/polaris-backend-sub002/common/logger"
	"github.com/p2o-lab/polaris-backend-sub002/common/utils/uid"
	"github.com/p2o-lab/polaris-backend-sub002/core/condition"
	"github.com/p2o-lab/polaris-backend-sub002/core/metrics"
	"github.com/p2o-lab/polaris-backend-sub002/core/operation"
	"github.com/p2o-lab/polaris-backend-sub002/core/unit"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "recipe")

type Status string

const (
	Idle      = Status("idle")
	Running   = Status("running")
	Paused    = Status("paused")
	Stopped   = Status("stopped")
	Completed = Status("completed")
)

var (
	ErrAlreadyRunning = errors.New("recipe already running")
	ErrNotRunning     = errors.New("recipe not running")
)

type ErrUnknownStep struct {
	Step string
}

func (e ErrUnknownStep) Error() string {
	return fmt.Sprintf("step %s not found", e.Step)
}

type Options struct {
	Clock     clock.Clock
	Operation operation.Options
	Emit      func(event.Event)
}

type Recipe struct {
	id          uid.ID
	name        string
	description string
	protected   bool
	units       unit.Set
	initial     *Step
	steps       []*Step
	stepsByName map[string]*Step
	warnings    []string
	opts        Options

	mu      sync.Mutex
	status  Status
	current *Step
	cancel  context.CancelFunc
	done    chan struct{}
	force   chan forceRequest
	runErr  error
}

// New validates def against units and builds every condition and
// operation up front. Any dangling reference is an error; no recipe is
// returned in an invalid state.
func New(def Definition, units unit.Set, opts Options) (*Recipe, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("recipe: name is required")
	}
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("recipe %s: no steps", def.Name)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Operation.Clock == nil {
		opts.Operation.Clock = opts.Clock
	}
	if opts.Operation.Emit == nil {
		opts.Operation.Emit = opts.Emit
	}

	r := &Recipe{
		id:          uid.New(),
		name:        def.Name,
		description: def.Description,
		protected:   def.Protected,
		stepsByName: make(map[string]*Step, len(def.Steps)),
		opts:        opts,
		status:      Idle,
	}

	for _, sd := range def.Steps {
		if sd.Name == "" {
			return nil, fmt.Errorf("recipe %s: step without name", def.Name)
		}
		if isTerminal(sd.Name) {
			return nil, fmt.Errorf("recipe %s: step name %s is reserved", def.Name, sd.Name)
		}
		if _, dup := r.stepsByName[sd.Name]; dup {
			return nil, fmt.Errorf("recipe %s: duplicate step %s", def.Name, sd.Name)
		}
		s := &Step{name: sd.Name}
		r.steps = append(r.steps, s)
		r.stepsByName[sd.Name] = s
	}

	builder := condition.Builder{Units: units, Clock: opts.Clock}
	used := make(map[string]struct{})
	for i, sd := range def.Steps {
		s := r.steps[i]
		for j, od := range sd.Operations {
			op, err := operation.New(od, units, opts.Operation)
			if err != nil {
				return nil, fmt.Errorf("recipe %s: step %s: operation %d: %w", def.Name, sd.Name, j, err)
			}
			s.operations = append(s.operations, op)
			used[op.Unit()] = struct{}{}
		}
		for j, td := range sd.Transitions {
			t := &Transition{nextName: td.NextStep}
			if !isTerminal(td.NextStep) {
				next, ok := r.stepsByName[td.NextStep]
				if !ok {
					return nil, fmt.Errorf("recipe %s: step %s: transition %d: %w", def.Name, sd.Name, j, ErrUnknownStep{Step: td.NextStep})
				}
				t.next = next
			}
			cond, err := builder.Build(td.Condition)
			if err != nil {
				return nil, fmt.Errorf("recipe %s: step %s: transition %d: %w", def.Name, sd.Name, j, err)
			}
			t.condition = cond
			for _, u := range cond.Units() {
				used[u] = struct{}{}
			}
			s.transitions = append(s.transitions, t)
		}
	}

	initial, ok := r.stepsByName[def.InitialStep]
	if !ok {
		return nil, fmt.Errorf("recipe %s: initial step: %w", def.Name, ErrUnknownStep{Step: def.InitialStep})
	}
	r.initial = initial

	names := make([]string, 0, len(used))
	for u := range used {
		names = append(names, u)
	}
	r.units = units.Subset(names)

	r.warnings = r.checkTermination()
	for _, w := range r.warnings {
		log.WithField("recipe", r.name).Warn(w)
	}
	return r, nil
}

// checkTermination reports steps from which no terminal transition can be
// reached. Such steps loop forever once entered.
func (r *Recipe) checkTermination() []string {
	reaches := make(map[*Step]bool)
	for _, s := range r.steps {
		for _, t := range s.transitions {
			if t.next == nil {
				reaches[s] = true
			}
		}
	}
	for changed := true; changed; {
		changed = false
		for _, s := range r.steps {
			if reaches[s] {
				continue
			}
			for _, t := range s.transitions {
				if t.next != nil && reaches[t.next] {
					reaches[s] = true
					changed = true
					break
				}
			}
		}
	}
	var out []string
	for _, s := range r.steps {
		if !reaches[s] {
			out = append(out, fmt.Sprintf("step %s cannot reach a terminal transition", s.name))
		}
	}
	return out
}

func (r *Recipe) ID() uid.ID {
	return r.id
}

func (r *Recipe) Name() string {
	return r.name
}

func (r *Recipe) Description() string {
	return r.description
}

func (r *Recipe) Protected() bool {
	return r.protected
}

// Units are the units referenced by any step, in the order of the set the
// recipe was built against.
func (r *Recipe) Units() unit.Set {
	return r.units
}

func (r *Recipe) Steps() []*Step {
	return r.steps
}

func (r *Recipe) InitialStep() *Step {
	return r.initial
}

func (r *Recipe) Warnings() []string {
	return r.warnings
}

func (r *Recipe) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// CurrentStep returns the name of the step being executed, or "".
func (r *Recipe) CurrentStep() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return ""
	}
	return r.current.name
}

// Err returns the error that ended the last run, if any.
func (r *Recipe) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}

// Done is closed when the current run ends, whatever its outcome.
func (r *Recipe) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return r.done
}

// Start connects every referenced unit, then executes the initial step in
// the background. If any unit fails to connect, the recipe does not start
// and the aggregated error is returned.
func (r *Recipe) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.status == Running || r.status == Paused {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.status = Idle
	r.mu.Unlock()

	if err := r.units.ConnectAll(ctx); err != nil {
		err = fmt.Errorf("recipe %s: %w", r.name, err)
		log.WithField("recipe", r.name).WithError(err).Error("start failed")
		r.emit(event.NewRecipeStatusChanged(r.id.String(), r.name, string(Idle), "", err))
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.mu.Lock()
	r.status = Running
	r.current = r.initial
	r.cancel = cancel
	r.done = make(chan struct{})
	r.force = make(chan forceRequest)
	r.runErr = nil
	done, force := r.done, r.force
	r.mu.Unlock()

	log.WithField("recipe", r.name).Info("recipe started")
	r.emitStatus(nil)
	go r.loop(runCtx, done, force)
	return nil
}

func (r *Recipe) loop(ctx context.Context, done chan struct{}, force <-chan forceRequest) {
	defer close(done)

	step := r.initial
	for {
		r.mu.Lock()
		r.current = step
		r.mu.Unlock()
		log.WithField("recipe", r.name).WithField("step", step.name).Debug("executing step")

		entered := r.opts.Clock.Now()
		out, err := step.execute(ctx, r, force)
		if err != nil {
			r.mu.Lock()
			stopped := r.status == Stopped
			if !stopped {
				r.status = Stopped
				r.runErr = err
			}
			r.mu.Unlock()
			if !stopped {
				log.WithField("recipe", r.name).WithError(err).Error("recipe failed")
				metrics.RecipeRuns.WithLabelValues(string(Stopped)).Inc()
				r.emitStatus(err)
			}
			return
		}

		metrics.StepDuration.Observe(r.opts.Clock.Since(entered).Seconds())
		metrics.StepsCompleted.WithLabelValues(strconv.FormatBool(out.forced)).Inc()
		r.emit(event.NewStepCompleted(r.id.String(), step.name, out.nextName, out.forced))

		if out.next == nil {
			r.mu.Lock()
			// a concurrent Stop already decided the outcome
			stopped := r.status == Stopped
			if !stopped {
				r.status = Completed
			}
			r.current = nil
			r.mu.Unlock()
			if out.reply != nil {
				out.reply <- nil
			}
			if stopped {
				return
			}
			log.WithField("recipe", r.name).Info("recipe completed")
			metrics.RecipeRuns.WithLabelValues(string(Completed)).Inc()
			r.emitStatus(nil)
			return
		}

		step = out.next
		if out.reply != nil {
			r.mu.Lock()
			r.current = step
			r.mu.Unlock()
			out.reply <- nil
		}
	}
}

// ForceTransition moves a running recipe from step `from` to step `to`
// (or to a terminal target), bypassing the guard conditions of `from`.
func (r *Recipe) ForceTransition(from, to string) error {
	r.mu.Lock()
	status, current, force, done := r.status, r.current, r.force, r.done
	r.mu.Unlock()

	if status != Running && status != Paused {
		return ErrNotRunning
	}
	if current == nil || current.name != from {
		return fmt.Errorf("recipe %s: cannot force transition from %s: current step is %s", r.name, from, r.CurrentStep())
	}
	if _, ok := r.stepsByName[to]; !ok && !isTerminal(to) {
		return fmt.Errorf("recipe %s: cannot force transition to %s: %w", r.name, to, ErrUnknownStep{Step: to})
	}

	req := forceRequest{from: from, target: to, reply: make(chan error, 1)}
	select {
	case force <- req:
	case <-done:
		return ErrNotRunning
	}
	var err error
	select {
	case err = <-req.reply:
	case <-done:
		// a forced completion replies right before the loop ends
		select {
		case err = <-req.reply:
		default:
			return ErrNotRunning
		}
	}
	if err != nil {
		return fmt.Errorf("recipe %s: %w", r.name, err)
	}
	log.WithField("recipe", r.name).Infof("forced transition %s -> %s", from, to)
	return nil
}

// Pause pauses every service of every referenced unit. The step state of
// the recipe is left as is.
func (r *Recipe) Pause(ctx context.Context) error {
	r.mu.Lock()
	if r.status != Running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.status = Paused
	r.mu.Unlock()

	err := r.eachUnit(func(u unit.Unit) error { return unit.PauseServices(ctx, u) })
	r.emitStatus(err)
	return err
}

func (r *Recipe) Resume(ctx context.Context) error {
	r.mu.Lock()
	if r.status != Paused {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.status = Running
	r.mu.Unlock()

	err := r.eachUnit(func(u unit.Unit) error { return unit.ResumeServices(ctx, u) })
	r.emitStatus(err)
	return err
}

// Stop clears the guard conditions of the current step, stops its
// operations and marks the recipe stopped. Every referenced unit then gets
// a stop for the services that accept one; units are not otherwise forced
// into any state.
func (r *Recipe) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.status != Running && r.status != Paused {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.status = Stopped
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done

	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()

	err := r.eachUnit(func(u unit.Unit) error { return unit.StopServices(ctx, u) })
	log.WithField("recipe", r.name).Info("recipe stopped")
	metrics.RecipeRuns.WithLabelValues(string(Stopped)).Inc()
	r.emitStatus(err)
	return err
}

func (r *Recipe) eachUnit(fn func(unit.Unit) error) error {
	var merr *multierror.Error
	for _, u := range r.units {
		if err := fn(u); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

func (r *Recipe) emitStatus(err error) {
	r.mu.Lock()
	status := r.status
	current := ""
	if r.current != nil {
		current = r.current.name
	}
	r.mu.Unlock()
	r.emit(event.NewRecipeStatusChanged(r.id.String(), r.name, string(status), current, err))
}

func (r *Recipe) emit(e event.Event) {
	if r.opts.Emit != nil {
		r.opts.Emit(e)
	}
}

// StepNames lists step names in declaration order.
func (r *Recipe) StepNames() []string {
	out := make([]string, len(r.steps))
	for i, s := range r.steps {
		out[i] = s.name
	}
	return out
}

// ReferencedUnits lists unit names, sorted.
func (r *Recipe) ReferencedUnits() []string {
	names := r.units.Names()
	sort.Strings(names)
	return names
}
