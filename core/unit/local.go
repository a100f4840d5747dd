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

package unit

import (
	"context"
	"sync"

	"github.com/p2o-lab/polaris-backend-sub002/common/event"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
)

// Variable is an in-process live value.
type Variable struct {
	name string

	mu    sync.Mutex
	value interface{}

	observers event.Observers[interface{}]
}

func NewVariable(name string, initial interface{}) *Variable {
	return &Variable{name: name, value: initial}
}

func (v *Variable) Name() string {
	return v.name
}

func (v *Variable) Get() interface{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

func (v *Variable) Value(context.Context) (interface{}, error) {
	return v.Get(), nil
}

// Set stores value and notifies every subscriber, also when the value is
// unchanged.
func (v *Variable) Set(value interface{}) {
	v.mu.Lock()
	v.value = value
	v.mu.Unlock()
	v.observers.Notify(value)
}

func (v *Variable) Subscribe(fn func(interface{})) (*event.Subscription, error) {
	return v.observers.Subscribe(fn), nil
}

// VariableProvider is implemented by services that expose process values.
// Local registers them under the service name as data assembly.
type VariableProvider interface {
	Variables() []*Variable
}

// Local is a unit hosted in process: virtual services and plain variables.
type Local struct {
	name string

	mu        sync.Mutex
	connected bool
	services  map[string]service.Controllable
	order     []string
	variables map[string]*Variable

	connObservers event.Observers[ConnectionChange]
}

func NewLocal(name string) *Local {
	return &Local{
		name:      name,
		services:  make(map[string]service.Controllable),
		variables: make(map[string]*Variable),
	}
}

func (l *Local) Name() string {
	return l.name
}

func (l *Local) AddService(svc service.Controllable) {
	l.mu.Lock()
	if _, exists := l.services[svc.Name()]; !exists {
		l.order = append(l.order, svc.Name())
	}
	l.services[svc.Name()] = svc
	l.mu.Unlock()

	if provider, ok := svc.(VariableProvider); ok {
		for _, v := range provider.Variables() {
			l.AddVariable(svc.Name(), v)
		}
	}
}

func (l *Local) AddVariable(dataAssembly string, v *Variable) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.variables[variableKey(dataAssembly, v.Name())] = v
}

func (l *Local) Connect(context.Context) error {
	l.mu.Lock()
	was := l.connected
	l.connected = true
	l.mu.Unlock()
	if !was {
		l.connObservers.Notify(ConnectionChange{Unit: l.name, Connected: true})
	}
	return nil
}

func (l *Local) Disconnect(context.Context) error {
	l.mu.Lock()
	was := l.connected
	l.connected = false
	l.mu.Unlock()
	if was {
		l.connObservers.Notify(ConnectionChange{Unit: l.name, Connected: false})
	}
	return nil
}

func (l *Local) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *Local) Service(name string) (service.Controllable, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	svc, ok := l.services[name]
	if !ok {
		return nil, &ServiceNotFoundError{Unit: l.name, Service: name}
	}
	return svc, nil
}

func (l *Local) Services() []service.Controllable {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]service.Controllable, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, l.services[name])
	}
	return out
}

func (l *Local) Variable(dataAssembly, variable string) (ValueSource, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := variableKey(dataAssembly, variable)
	v, ok := l.variables[key]
	if !ok {
		return nil, &VariableNotFoundError{Unit: l.name, Variable: key}
	}
	return v, nil
}

func (l *Local) SubscribeConnection(fn func(ConnectionChange)) *event.Subscription {
	return l.connObservers.Subscribe(fn)
}
