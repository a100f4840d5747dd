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

// Package aggregated composes services of several units into one virtual
// service. Each phase of the composite either runs a configured petrinet
// or broadcasts the phase command to every constituent and waits for all
// of them to settle in the phase's successor state.
package aggregated

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/p2o-lab/polaris-backend-sub002/common/event"
	"github.com/p2o-lab/polaris-backend-sub002/common/logger"
	"github.com/p2o-lab/polaris-backend-sub002/core/condition"
	"github.com/p2o-lab/polaris-backend-sub002/core/operation"
	"github.com/p2o-lab/polaris-backend-sub002/core/petrinet"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
	"github.com/p2o-lab/polaris-backend-sub002/core/unit"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "aggregated")

// phases maps the stateMachine keys of a definition to the states whose
// hook they replace.
var phases = map[string]service.State{
	"starting":   service.STARTING,
	"execute":    service.EXECUTE,
	"pausing":    service.PAUSING,
	"resuming":   service.RESUMING,
	"completing": service.COMPLETING,
	"aborting":   service.ABORTING,
	"stopping":   service.STOPPING,
	"holding":    service.HOLDING,
	"unholding":  service.UNHOLDING,
	"resetting":  service.RESETTING,
}

type ServiceReference struct {
	PEA     string `json:"pea" yaml:"pea"`
	Service string `json:"service" yaml:"service"`
}

type Definition struct {
	Name              string                         `json:"name" yaml:"name"`
	Description       string                         `json:"description,omitempty" yaml:"description,omitempty"`
	NecessaryServices []ServiceReference             `json:"necessaryServices" yaml:"necessaryServices"`
	StateMachine      map[string]petrinet.Definition `json:"stateMachine,omitempty" yaml:"stateMachine,omitempty"`
	CommandEnable     map[string]string              `json:"commandEnable,omitempty" yaml:"commandEnable,omitempty"`
	Parameters        []service.Parameter            `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

type Options struct {
	Clock clock.Clock
	// StateChangeTimeout bounds the broadcast fallback of every phase but
	// EXECUTE. Zero selects unit.DefaultConfig().StateChangeTimeout.
	StateChangeTimeout time.Duration
	Operation          operation.Options
}

type constituent struct {
	unit    string
	service service.Controllable
}

func (c constituent) String() string {
	return c.unit + "." + c.service.Name()
}

// Service is a composite service. It is driven like any other machine.
type Service struct {
	*service.Machine

	clock        clock.Clock
	timeout      time.Duration
	constituents []constituent
	nets         map[service.State]*petrinet.Net
	enable       map[service.Command]*condition.Formula
	units        unit.Set

	mu   sync.Mutex
	subs []*event.Subscription
}

func New(def Definition, units unit.Set, opts Options) (*Service, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("aggregated service: name is required")
	}
	if len(def.NecessaryServices) == 0 {
		return nil, fmt.Errorf("aggregated service %s: no necessary services", def.Name)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.StateChangeTimeout <= 0 {
		opts.StateChangeTimeout = unit.DefaultConfig().StateChangeTimeout
	}
	if opts.Operation.Clock == nil {
		opts.Operation.Clock = opts.Clock
	}

	s := &Service{
		clock:   opts.Clock,
		timeout: opts.StateChangeTimeout,
		nets:    make(map[service.State]*petrinet.Net),
		enable:  make(map[service.Command]*condition.Formula),
	}
	used := make(map[string]struct{})

	for _, ref := range def.NecessaryServices {
		u, svc, err := units.ResolveService(ref.PEA, ref.Service)
		if err != nil {
			return nil, fmt.Errorf("aggregated service %s: %w", def.Name, err)
		}
		s.constituents = append(s.constituents, constituent{unit: u.Name(), service: svc})
		used[u.Name()] = struct{}{}
	}

	for key, netDef := range def.StateMachine {
		st, ok := phases[strings.ToLower(key)]
		if !ok {
			return nil, fmt.Errorf("aggregated service %s: unknown phase %q", def.Name, key)
		}
		net, err := petrinet.New(netDef, units, petrinet.Options{Clock: opts.Clock, Operation: opts.Operation})
		if err != nil {
			return nil, fmt.Errorf("aggregated service %s: phase %s: %w", def.Name, key, err)
		}
		s.nets[st] = net
		for _, name := range net.Units().Names() {
			used[name] = struct{}{}
		}
	}

	builder := condition.Builder{Units: units, Clock: opts.Clock}
	resolve := s.resolver(units, builder)
	for key, text := range def.CommandEnable {
		cmd, err := service.ParseCommand(key)
		if err != nil {
			return nil, fmt.Errorf("aggregated service %s: commandEnable: %w", def.Name, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		f, err := condition.CompileFormula(text, nil, resolve)
		if err != nil {
			return nil, fmt.Errorf("aggregated service %s: commandEnable %s: %w", def.Name, key, err)
		}
		s.enable[cmd] = f
		for _, name := range f.Units() {
			used[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(used))
	for name := range used {
		names = append(names, name)
	}
	sort.Strings(names)
	s.units = units.Subset(names)

	var procedures []service.Procedure
	if len(def.Parameters) > 0 {
		procedures = []service.Procedure{{Name: "default", Default: true, Parameters: def.Parameters}}
	}
	s.Machine = service.NewMachine(def.Name, nil, procedures)
	s.Machine.SetClock(opts.Clock)
	for _, st := range phases {
		s.Machine.SetHook(st, s.hookFor(st))
	}
	if len(s.enable) > 0 {
		s.watchCommandEnable()
		s.Machine.SetCommandEnableFilter(s.narrow)
	}
	return s, nil
}

// resolver binds <pea>.<service>.state to the state name of a service and
// <pea>.<service>.<command> to whether the command is enabled. Any other
// token resolves like in conditions.
func (s *Service) resolver(units unit.Set, builder condition.Builder) condition.Resolver {
	return func(token string) (string, unit.ValueSource, error) {
		parts := strings.Split(token, ".")
		if len(parts) == 3 {
			if u, svc, err := units.ResolveService(parts[0], parts[1]); err == nil {
				if strings.EqualFold(parts[2], "state") {
					return u.Name(), &stateSource{name: token, service: svc}, nil
				}
				cmd, err := service.ParseCommand(parts[2])
				if err != nil {
					return "", nil, err
				}
				return u.Name(), &enableSource{name: token, service: svc, command: cmd}, nil
			}
		}
		return builder.ResolveToken(token)
	}
}

// watchCommandEnable re-applies the command-enable expressions whenever a
// value they read changes.
func (s *Service) watchCommandEnable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for _, f := range s.enable {
		for _, b := range f.Bindings() {
			if _, dup := seen[b.Name]; dup {
				continue
			}
			seen[b.Name] = struct{}{}
			sub, err := b.Source.Subscribe(func(interface{}) {
				s.Machine.RefreshCommandEnable()
			})
			if err != nil {
				log.WithField("service", s.Name()).
					WithField("value", b.Name).
					WithError(err).
					Warn("cannot watch command enable input")
				continue
			}
			s.subs = append(s.subs, sub)
		}
	}
}

func (s *Service) narrow(st service.State, ce service.CommandEnable) service.CommandEnable {
	for cmd, f := range s.enable {
		if !ce.Enabled(cmd) {
			continue
		}
		enabled := false
		v, err := f.Evaluate(context.Background())
		if err == nil {
			enabled, err = condition.Truthy(v)
		}
		if err != nil {
			log.WithField("service", s.Name()).
				WithField("command", string(cmd)).
				WithField("state", st.String()).
				WithError(err).
				Debug("command enable expression failed")
		}
		ce = ce.With(cmd, enabled)
	}
	return ce
}

// Units lists every unit the composite drives or reads.
func (s *Service) Units() unit.Set {
	return s.units
}

// Constituents lists the necessary services as <unit>.<service>.
func (s *Service) Constituents() []string {
	out := make([]string, len(s.constituents))
	for i, c := range s.constituents {
		out[i] = c.String()
	}
	return out
}

// Phases lists the states whose hook runs a petrinet.
func (s *Service) Phases() []service.State {
	out := make([]service.State, 0, len(s.nets))
	for st := range s.nets {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close releases the watches of the command-enable expressions and stops
// any running phase net.
func (s *Service) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	for _, net := range s.nets {
		net.Stop()
	}
}

func (s *Service) hookFor(st service.State) service.Hook {
	if st == service.EXECUTE {
		return s.onExecute
	}
	return func(ctx context.Context, m *service.Machine) error {
		if net, ok := s.nets[st]; ok {
			return s.runNet(ctx, st, net)
		}
		cmd := m.LastCommand()
		if cmd == "" || cmd.Target() != st {
			cmd, _ = service.CommandForState(st)
		}
		target, _ := st.Successor()
		if err := s.broadcast(ctx, cmd); err != nil {
			return err
		}
		return s.waitAll(ctx, target, s.timeout, strings.ToLower(st.String()))
	}
}

// onExecute completes the composite once its execute net has ended, or
// once every constituent has completed on its own.
func (s *Service) onExecute(ctx context.Context, m *service.Machine) error {
	if net, ok := s.nets[service.EXECUTE]; ok {
		if err := s.runNet(ctx, service.EXECUTE, net); err != nil {
			return err
		}
	} else if err := s.waitAll(ctx, service.COMPLETED, 0, "execute"); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	err := m.SelfComplete(ctx)
	if service.IsRejected(err) {
		return nil
	}
	return err
}

func (s *Service) runNet(ctx context.Context, st service.State, net *petrinet.Net) error {
	log.WithField("service", s.Name()).
		WithField("state", st.String()).
		Debug("running phase net")
	err := net.Run(ctx)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// broadcast sends cmd to every constituent that currently accepts it.
// Rejections are ignored; the wait that follows decides the outcome.
func (s *Service) broadcast(ctx context.Context, cmd service.Command) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	for _, c := range s.constituents {
		if !c.service.CommandEnable().Enabled(cmd) {
			continue
		}
		wg.Add(1)
		go func(c constituent) {
			defer wg.Done()
			err := c.service.Execute(ctx, cmd)
			if err == nil || service.IsRejected(err) {
				return
			}
			mu.Lock()
			result = multierror.Append(result, fmt.Errorf("%s: %w", c, err))
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return result.ErrorOrNil()
}

// waitAll blocks until every constituent is in target. A positive timeout
// turns an overlong wait into a *unit.TimeoutError.
func (s *Service) waitAll(ctx context.Context, target service.State, timeout time.Duration, op string) error {
	conds := make([]condition.Condition, len(s.constituents))
	for i, c := range s.constituents {
		conds[i] = condition.NewState(c.unit, c.service, target)
	}
	all := condition.NewAnd(conds...)

	reached := make(chan struct{}, 1)
	sub := all.OnChange(func(v bool) {
		if v {
			select {
			case reached <- struct{}{}:
			default:
			}
		}
	})
	defer sub.Unsubscribe()
	defer all.Clear()

	if err := all.Listen(ctx); err != nil {
		return err
	}
	if all.Fulfilled() == condition.True {
		return nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := s.clock.Timer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-reached:
		return nil
	case <-expired:
		return &unit.TimeoutError{Unit: s.Name(), Op: op, After: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}
