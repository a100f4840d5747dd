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

// Package operation dispatches a single command to a service, retrying a
// bounded number of times while the service rejects it.
package operation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/p2o-lab/polaris-backend-sub002/common/event"
	"github.com/p2o-lab/polaris-backend-sub002/common/logger"
	"github.com/p2o-lab/polaris-backend-sub002/core/condition"
	"github.com/p2o-lab/polaris-backend-sub002/core/metrics"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
	"github.com/p2o-lab/polaris-backend-sub002/core/unit"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "operation")

const (
	DefaultMaxAttempts = 10
	DefaultRetryDelay  = 500 * time.Millisecond
)

type State string

const (
	Idle      = State("idle")
	Executing = State("executing")
	Completed = State("completed")
	Aborted   = State("aborted")
)

type ParameterDefinition struct {
	Name  string                `json:"name" yaml:"name"`
	Value interface{}           `json:"value" yaml:"value"`
	Scope []condition.ScopeItem `json:"scope,omitempty" yaml:"scope,omitempty"`
}

type Definition struct {
	Module    string                `json:"module,omitempty" yaml:"module,omitempty"`
	Service   string                `json:"service" yaml:"service"`
	Strategy  string                `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Command   string                `json:"command,omitempty" yaml:"command,omitempty"`
	Parameter []ParameterDefinition `json:"parameter,omitempty" yaml:"parameter,omitempty"`
}

// Options tune the retry policy. Zero values select the defaults.
type Options struct {
	Clock       clock.Clock
	MaxAttempts int
	RetryDelay  time.Duration
	Emit        func(event.Event)
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	return o
}

type parameter struct {
	name    string
	literal interface{}
	formula *condition.Formula
}

func (p parameter) value(ctx context.Context) (interface{}, error) {
	if p.formula == nil {
		return p.literal, nil
	}
	return p.formula.Evaluate(ctx)
}

type Operation struct {
	unit     string
	service  service.Controllable
	strategy string
	command  service.Command
	params   []parameter
	opts     Options

	mu       sync.Mutex
	state    State
	attempts int
	lastErr  error
	stop     chan struct{}
}

// New resolves the definition against units. String parameter values
// that carry a scope, or that reference unit values, are compiled as
// expressions and evaluated at dispatch time.
func New(def Definition, units unit.Set, opts Options) (*Operation, error) {
	if def.Service == "" {
		return nil, fmt.Errorf("operation: service is required")
	}
	u, svc, err := units.ResolveService(def.Module, def.Service)
	if err != nil {
		return nil, fmt.Errorf("operation: %w", err)
	}
	cmd := service.START
	if def.Command != "" {
		if cmd, err = service.ParseCommand(def.Command); err != nil {
			return nil, fmt.Errorf("operation %s.%s: %w", u.Name(), def.Service, err)
		}
	}

	op := &Operation{
		unit:     u.Name(),
		service:  svc,
		strategy: def.Strategy,
		command:  cmd,
		opts:     opts.withDefaults(),
		state:    Idle,
	}
	builder := condition.Builder{Units: units}
	for _, pd := range def.Parameter {
		if pd.Name == "" {
			return nil, fmt.Errorf("operation %s.%s: parameter without name", u.Name(), def.Service)
		}
		p := parameter{name: pd.Name, literal: pd.Value}
		if text, isString := pd.Value.(string); isString && (len(pd.Scope) > 0 || looksLikeFormula(text)) {
			scope, err := builder.Scope(pd.Scope)
			if err != nil {
				return nil, fmt.Errorf("operation %s.%s: parameter %s: %w", u.Name(), def.Service, pd.Name, err)
			}
			if p.formula, err = condition.CompileFormula(text, scope, builder.ResolveToken); err != nil {
				return nil, fmt.Errorf("operation %s.%s: parameter %s: %w", u.Name(), def.Service, pd.Name, err)
			}
		}
		op.params = append(op.params, p)
	}
	return op, nil
}

// looksLikeFormula is true for text containing a dotted name outside of
// quotes, i.e. something CompileFormula would bind.
func looksLikeFormula(text string) bool {
	found := false
	condition.RewriteTokens(text, func(token string) string {
		found = true
		return token
	})
	return found
}

func (o *Operation) Unit() string {
	return o.unit
}

func (o *Operation) Service() service.Controllable {
	return o.service
}

func (o *Operation) Command() service.Command {
	return o.command
}

func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Operation) Attempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts
}

func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

func (o *Operation) String() string {
	return fmt.Sprintf("%s %s.%s", o.command, o.unit, o.service.Name())
}

// Execute dispatches the command until it is accepted, the attempts are
// exhausted, Stop is called or ctx ends. Failures never propagate; they
// are reported through the final state.
func (o *Operation) Execute(ctx context.Context) State {
	return o.run(ctx, o.begin())
}

// Start marks the operation as executing and runs it in the background.
// The returned channel yields the final state.
func (o *Operation) Start(ctx context.Context) <-chan State {
	stop := o.begin()
	done := make(chan State, 1)
	go func() {
		done <- o.run(ctx, stop)
	}()
	return done
}

// begin starts a new run and returns its stop channel, which identifies
// the run from then on. A run still executing is superseded.
func (o *Operation) begin() chan struct{} {
	stop := make(chan struct{})
	o.mu.Lock()
	if o.state == Executing && o.stop != nil {
		close(o.stop)
	}
	o.state = Executing
	o.attempts = 0
	o.lastErr = nil
	o.stop = stop
	o.mu.Unlock()
	o.emit()
	return stop
}

// active must be called with mu held.
func (o *Operation) active(stop chan struct{}) bool {
	return o.stop == stop && o.state == Executing
}

func (o *Operation) run(ctx context.Context, stop chan struct{}) State {
	started := o.opts.Clock.Now()
	for {
		o.mu.Lock()
		stopped := !o.active(stop)
		o.mu.Unlock()
		if stopped {
			return o.finish(stop, started, Aborted)
		}

		// armed before dispatching so attempts are spaced from start to start
		timer := o.opts.Clock.Timer(o.opts.RetryDelay)

		err := o.dispatch(ctx)
		o.mu.Lock()
		if !o.active(stop) {
			o.mu.Unlock()
			timer.Stop()
			return o.finish(stop, started, Aborted)
		}
		o.attempts++
		o.lastErr = err
		attempts := o.attempts
		o.mu.Unlock()
		metrics.OperationAttempts.WithLabelValues(string(o.command)).Inc()

		if err == nil {
			timer.Stop()
			return o.finish(stop, started, Completed)
		}
		log.WithField("operation", o.String()).
			WithField("attempt", attempts).
			WithError(err).
			Debug("dispatch failed")
		if attempts >= o.opts.MaxAttempts {
			timer.Stop()
			log.WithField("operation", o.String()).
				WithError(err).
				Warnf("aborted after %d attempts", attempts)
			return o.finish(stop, started, Aborted)
		}

		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return o.finish(stop, started, Aborted)
		case <-ctx.Done():
			timer.Stop()
			o.mu.Lock()
			if o.stop == stop {
				o.lastErr = ctx.Err()
			}
			o.mu.Unlock()
			return o.finish(stop, started, Aborted)
		}
	}
}

func (o *Operation) dispatch(ctx context.Context) error {
	var params map[string]interface{}
	if len(o.params) > 0 {
		params = make(map[string]interface{}, len(o.params))
		for _, p := range o.params {
			v, err := p.value(ctx)
			if err != nil {
				return fmt.Errorf("parameter %s: %w", p.name, err)
			}
			params[p.name] = v
		}
	}
	if o.strategy != "" || params != nil {
		if err := o.service.SetProcedure(ctx, o.strategy, params); err != nil {
			return err
		}
	}
	return o.service.Execute(ctx, o.command)
}

// finish records the outcome of the run identified by stop. A superseded
// run leaves the state of its successor alone.
func (o *Operation) finish(stop chan struct{}, started time.Time, st State) State {
	o.mu.Lock()
	if o.stop != stop {
		o.mu.Unlock()
		return st
	}
	if o.state == Executing || st == Aborted {
		o.state = st
	}
	final := o.state
	o.mu.Unlock()

	metrics.OperationOutcomes.WithLabelValues(string(final)).Inc()
	metrics.OperationLatency.WithLabelValues(string(final)).Observe(o.opts.Clock.Since(started).Seconds())
	o.emit()
	return final
}

// Stop aborts the current run and ends its retry loop. A command that was
// already dispatched is not recalled.
func (o *Operation) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Executing {
		return
	}
	o.state = Aborted
	if o.stop != nil {
		close(o.stop)
	}
}

func (o *Operation) emit() {
	if o.opts.Emit == nil {
		return
	}
	o.mu.Lock()
	e := event.NewOperationStateChanged(o.unit, o.service.Name(), string(o.command), string(o.state), o.attempts, o.lastErr)
	o.mu.Unlock()
	o.opts.Emit(e)
}
