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

package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/looplab/fsm"
	"github.com/p2o-lab/polaris-backend-sub002/common/event"
	"github.com/p2o-lab/polaris-backend-sub002/common/logger"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "service")

const advanceEvent = "advance"

// Hook runs when a machine enters the state it is registered for. The
// state has already been committed and announced when the hook runs.
//
// Hooks of transient states run synchronously inside the triggering
// Execute call; the machine advances to the successor state once the hook
// returns nil. The EXECUTE hook runs on its own goroutine and signals
// completion through Machine.SelfComplete. Every hook gets a context that
// is cancelled as soon as the machine leaves the hook's state.
type Hook func(ctx context.Context, m *Machine) error

type Hooks map[State]Hook

// CommandEnableFilter narrows the static command-enable snapshot of a
// state. Composite services use it to add their own preconditions.
type CommandEnableFilter func(state State, static CommandEnable) CommandEnable

type StateChange struct {
	Service       string
	State         State
	CommandEnable CommandEnable
	Command       Command
	Timestamp     time.Time
}

// Controllable is implemented by every service that can be driven by
// commands, local machines and remote services alike.
type Controllable interface {
	Name() string
	State() State
	CommandEnable() CommandEnable
	Execute(ctx context.Context, cmd Command) error
	SetProcedure(ctx context.Context, procedure string, params map[string]interface{}) error
	SubscribeState(fn func(StateChange)) *event.Subscription
}

type Machine struct {
	name  string
	clock clock.Clock
	hooks Hooks

	mu            sync.Mutex
	notifyMu      sync.Mutex
	sm            *fsm.FSM
	commandEnable CommandEnable
	filter        CommandEnableFilter
	lastCommand   Command
	generation    uint64
	phaseCancel   context.CancelFunc

	procedures []Procedure
	defaults   []Procedure
	selected   int

	observers event.Observers[StateChange]
}

// NewMachine returns a machine resting in IDLE. Procedures are copied; the
// copy taken here is what RESETTING restores.
func NewMachine(name string, hooks Hooks, procedures []Procedure) *Machine {
	m := &Machine{
		name:          name,
		clock:         clock.New(),
		hooks:         hooks,
		sm:            newFSM(IDLE),
		commandEnable: CommandEnableFor(IDLE),
		defaults:      copyProcedures(procedures),
	}
	if m.hooks == nil {
		m.hooks = Hooks{}
	}
	for i := range m.defaults {
		m.defaults[i].resetParameters()
		if m.defaults[i].Default {
			m.selected = i
		}
	}
	m.procedures = copyProcedures(m.defaults)
	return m
}

func newFSM(initial State) *fsm.FSM {
	events := fsm.Events{}
	for _, st := range States {
		ce := CommandEnableFor(st)
		for _, cmd := range Commands {
			if ce.Enabled(cmd) {
				events = append(events, fsm.EventDesc{
					Name: string(cmd),
					Src:  []string{st.String()},
					Dst:  cmd.Target().String(),
				})
			}
		}
		if next, ok := st.Successor(); ok {
			events = append(events, fsm.EventDesc{
				Name: advanceEvent,
				Src:  []string{st.String()},
				Dst:  next.String(),
			})
		}
	}
	return fsm.NewFSM(initial.String(), events, fsm.Callbacks{})
}

func (m *Machine) SetClock(c clock.Clock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = c
}

func (m *Machine) Clock() clock.Clock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock
}

func (m *Machine) SetHook(s State, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks[s] = hook
}

func (m *Machine) SetCommandEnableFilter(filter CommandEnableFilter) {
	m.mu.Lock()
	m.filter = filter
	m.mu.Unlock()
	m.RefreshCommandEnable()
}

func (m *Machine) Name() string {
	return m.name
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current()
}

func (m *Machine) current() State {
	st, _ := ParseState(m.sm.Current())
	return st
}

func (m *Machine) CommandEnable() CommandEnable {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commandEnable
}

func (m *Machine) LastCommand() Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCommand
}

// SubscribeState registers fn for every committed state change. Callbacks
// are delivered in commit order and must not issue commands to the same
// machine synchronously.
func (m *Machine) SubscribeState(fn func(StateChange)) *event.Subscription {
	return m.observers.Subscribe(fn)
}

// Execute runs cmd through the command-enable gate, commits the target
// state, announces it, runs the state's hook and auto-advances through
// transient states. A rejected command returns *CommandRejectedError and
// changes nothing. A hook error is returned as is; the committed state is
// not rolled back.
func (m *Machine) Execute(ctx context.Context, cmd Command) error {
	return m.execute(ctx, cmd, false)
}

// SelfComplete is the internal completion signal of the EXECUTE phase. It
// bypasses any command-enable filter but not the static table.
func (m *Machine) SelfComplete(ctx context.Context) error {
	return m.execute(ctx, COMPLETE, true)
}

func (m *Machine) execute(ctx context.Context, cmd Command, internal bool) error {
	if _, ok := _targets[cmd]; !ok {
		return fmt.Errorf("service %s: unknown command %q", m.name, cmd)
	}

	m.mu.Lock()
	from := m.current()
	gate := m.commandEnable
	if internal {
		gate = CommandEnableFor(from)
	}
	if !gate.Enabled(cmd) {
		m.mu.Unlock()
		log.WithField("service", m.name).
			WithField("state", from.String()).
			Debugf("command %s rejected", cmd)
		return &CommandRejectedError{Service: m.name, Command: cmd, State: from}
	}
	if err := m.sm.Event(context.Background(), string(cmd)); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("service %s: %w", m.name, err)
	}
	m.lastCommand = cmd
	phaseCtx, gen := m.commit(ctx, cmd)
	m.announce(cmd)

	return m.enter(phaseCtx, gen)
}

// commit must be called with mu held, right after the fsm moved.
func (m *Machine) commit(ctx context.Context, cmd Command) (context.Context, uint64) {
	if m.phaseCancel != nil {
		m.phaseCancel()
	}
	st := m.current()
	m.commandEnable = m.filtered(st)
	m.generation++

	// phases outlive the call that started them
	phaseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.phaseCancel = cancel
	if st == RESETTING {
		m.procedures = copyProcedures(m.defaults)
	}
	return phaseCtx, m.generation
}

// announce releases mu and notifies observers. notifyMu is taken before mu
// is released so that notifications keep commit order.
func (m *Machine) announce(cmd Command) {
	change := StateChange{
		Service:       m.name,
		State:         m.current(),
		CommandEnable: m.commandEnable,
		Command:       cmd,
		Timestamp:     m.clock.Now(),
	}
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	log.WithField("service", m.name).
		WithField("state", change.State.String()).
		Debug("state changed")
	m.observers.Notify(change)
}

func (m *Machine) filtered(st State) CommandEnable {
	static := CommandEnableFor(st)
	if m.filter == nil {
		return static
	}
	narrowed := m.filter(st, static)
	// a filter may only clear bits
	for _, cmd := range Commands {
		if !static.Enabled(cmd) {
			narrowed = narrowed.With(cmd, false)
		}
	}
	return narrowed
}

func (m *Machine) enter(ctx context.Context, gen uint64) error {
	for {
		m.mu.Lock()
		if m.generation != gen {
			m.mu.Unlock()
			return nil
		}
		st := m.current()
		hook := m.hooks[st]
		m.mu.Unlock()

		if st == EXECUTE {
			if hook != nil {
				go m.runExecute(ctx, hook)
			}
			return nil
		}

		if hook != nil {
			if err := hook(ctx, m); err != nil {
				log.WithField("service", m.name).
					WithField("state", st.String()).
					WithError(err).
					Warn("state hook failed")
				return err
			}
		}

		if _, ok := st.Successor(); !ok {
			return nil
		}

		m.mu.Lock()
		if m.generation != gen {
			// another command moved the machine while the hook ran
			m.mu.Unlock()
			return nil
		}
		if err := m.sm.Event(context.Background(), advanceEvent); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("service %s: %w", m.name, err)
		}
		ctx, gen = m.commit(ctx, "")
		m.announce("")
	}
}

func (m *Machine) runExecute(ctx context.Context, hook Hook) {
	if err := hook(ctx, m); err != nil && ctx.Err() == nil {
		log.WithField("service", m.name).
			WithError(err).
			Warn("execute hook failed")
	}
}

// ForceState moves the machine without running hooks or checking the
// command-enable gate. It exists for recovery tooling and tests.
func (m *Machine) ForceState(s State) {
	m.mu.Lock()
	m.sm.SetState(s.String())
	m.commit(context.Background(), "")
	m.announce("")
}

// RefreshCommandEnable re-applies the filter to the current state and
// announces the snapshot if it changed.
func (m *Machine) RefreshCommandEnable() {
	m.mu.Lock()
	next := m.filtered(m.current())
	if next == m.commandEnable {
		m.mu.Unlock()
		return
	}
	m.commandEnable = next
	m.announce("")
}

func (m *Machine) Procedures() []Procedure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyProcedures(m.procedures)
}

// CurrentProcedure returns a copy of the selected procedure.
func (m *Machine) CurrentProcedure() (Procedure, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.procedures) == 0 {
		return Procedure{}, false
	}
	return copyProcedure(m.procedures[m.selected]), true
}

func (m *Machine) SelectProcedure(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectProcedure(name)
}

func (m *Machine) selectProcedure(name string) error {
	if name == "" {
		return nil
	}
	for i := range m.procedures {
		if m.procedures[i].Name == name {
			m.selected = i
			return nil
		}
	}
	return &UnknownProcedureError{Service: m.name, Procedure: name}
}

// SetParameters assigns values to parameters of the selected procedure.
// Nothing is assigned if any name is unknown.
func (m *Machine) SetParameters(params map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setParameters(params)
}

func (m *Machine) setParameters(params map[string]interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if len(m.procedures) == 0 {
		return &UnknownProcedureError{Service: m.name, Procedure: ""}
	}
	proc := &m.procedures[m.selected]
	for name := range params {
		if _, ok := proc.Parameter(name); !ok {
			return &UnknownParameterError{Service: m.name, Procedure: proc.Name, Parameter: name}
		}
	}
	for name, value := range params {
		p, _ := proc.Parameter(name)
		p.Value = value
	}
	return nil
}

func (m *Machine) SetProcedure(_ context.Context, procedure string, params map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.selectProcedure(procedure); err != nil {
		return err
	}
	return m.setParameters(params)
}

// SetProcessValue records an output value of the selected procedure. It
// returns false if the procedure declares no such process value.
func (m *Machine) SetProcessValue(name string, value interface{}) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.procedures) == 0 {
		return false
	}
	out := m.procedures[m.selected].ProcessValuesOut
	for i := range out {
		if out[i].Name == name {
			out[i].Value = value
			return true
		}
	}
	return false
}

// ParameterValue reads a parameter of the selected procedure.
func (m *Machine) ParameterValue(name string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.procedures) == 0 {
		return nil, false
	}
	p, ok := m.procedures[m.selected].Parameter(name)
	if !ok {
		return nil, false
	}
	return p.Value, true
}
