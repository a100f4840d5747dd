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
	"fmt"
	"sort"
	"sync"

	"github.com/p2o-lab/polaris-backend-sub002/common/event"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
)

// Node names of a remote service, relative to the service name.
const (
	NodeStateCur     = "StateCur"
	NodeCommandEn    = "CommandEn"
	NodeCommandOp    = "CommandOp"
	NodeProcedureReq = "ProcedureReq"
)

func ServiceNode(serviceName, node string) string {
	return serviceName + "." + node
}

// PEA is a process equipment assembly reached through a Transport.
type PEA struct {
	name      string
	transport Transport
	cache     *ValueCache
	config    Config

	mu        sync.Mutex
	connected bool
	services  map[string]*RemoteService
	order     []string
	watches   map[string]*nodeWatch
	stopWatch chan struct{}

	connObservers event.Observers[ConnectionChange]
}

type nodeWatch struct {
	observers event.Observers[interface{}]
	sub       *event.Subscription
}

func NewPEA(name string, t Transport, serviceNames []string, config Config) *PEA {
	p := &PEA{
		name:      name,
		transport: t,
		cache:     NewValueCache(t, config.CacheStaleness),
		config:    config,
		services:  make(map[string]*RemoteService),
		watches:   make(map[string]*nodeWatch),
	}
	for _, svcName := range serviceNames {
		p.services[svcName] = newRemoteService(p, svcName)
		p.order = append(p.order, svcName)
	}
	return p
}

func (p *PEA) Name() string {
	return p.name
}

func (p *PEA) Config() Config {
	return p.config
}

func (p *PEA) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Connect opens the transport within the connect timeout, primes the state
// of every service and starts watching for connection losses.
func (p *PEA) Connect(ctx context.Context) error {
	if p.Connected() {
		return nil
	}
	err := withTimeout(ctx, p.name, "connect", p.config.ConnectTimeout, p.transport.Connect)
	if err != nil {
		log.WithUnit(p.name).WithError(err).Warn("connection failed")
		return err
	}

	for _, svcName := range p.order {
		if err := p.services[svcName].prime(ctx); err != nil {
			return fmt.Errorf("unit %s: %w", p.name, err)
		}
	}

	p.mu.Lock()
	p.connected = true
	p.stopWatch = make(chan struct{})
	go p.watchDisconnects(p.stopWatch)
	p.mu.Unlock()

	log.WithUnit(p.name).Info("connected")
	p.connObservers.Notify(ConnectionChange{Unit: p.name, Connected: true})
	return nil
}

func (p *PEA) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return nil
	}
	p.connected = false
	close(p.stopWatch)
	p.mu.Unlock()

	p.cache.Flush()
	err := withTimeout(ctx, p.name, "disconnect", p.config.DisconnectTimeout, p.transport.Disconnect)
	log.WithUnit(p.name).Info("disconnected")
	p.connObservers.Notify(ConnectionChange{Unit: p.name, Connected: false, Err: err})
	return err
}

func (p *PEA) watchDisconnects(stop <-chan struct{}) {
	select {
	case <-stop:
	case err := <-p.transport.Disconnects():
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
		p.cache.Flush()
		log.WithUnit(p.name).WithError(err).Warn("connection lost")
		p.connObservers.Notify(ConnectionChange{Unit: p.name, Connected: false, Err: err})
	}
}

func (p *PEA) SubscribeConnection(fn func(ConnectionChange)) *event.Subscription {
	return p.connObservers.Subscribe(fn)
}

func (p *PEA) Service(name string) (service.Controllable, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	svc, ok := p.services[name]
	if !ok {
		return nil, &ServiceNotFoundError{Unit: p.name, Service: name}
	}
	return svc, nil
}

func (p *PEA) Services() []service.Controllable {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]service.Controllable, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.services[name])
	}
	return out
}

func (p *PEA) Variable(dataAssembly, variable string) (ValueSource, error) {
	if dataAssembly == "" {
		return nil, &VariableNotFoundError{Unit: p.name, Variable: variableKey(dataAssembly, variable)}
	}
	return &nodeValue{pea: p, node: variableKey(dataAssembly, variable)}, nil
}

func (p *PEA) read(ctx context.Context, node string) (interface{}, error) {
	if !p.Connected() {
		return nil, ErrNotConnected
	}
	return p.cache.Get(ctx, node)
}

func (p *PEA) write(ctx context.Context, node string, value interface{}) error {
	if !p.Connected() {
		return ErrNotConnected
	}
	return p.transport.Write(ctx, node, value)
}

// watch shares one transport subscription per node between all observers
// and feeds the value cache from it.
func (p *PEA) watch(node string, fn func(interface{})) (*event.Subscription, error) {
	p.mu.Lock()
	w, ok := p.watches[node]
	if !ok {
		w = &nodeWatch{}
		sub, err := p.transport.Subscribe(node, func(v interface{}) {
			p.cache.Observe(node, v)
			w.observers.Notify(v)
		})
		if err != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("unit %s: subscribe %s: %w", p.name, node, err)
		}
		w.sub = sub
		p.watches[node] = w
	}
	p.mu.Unlock()

	inner := w.observers.Subscribe(fn)
	return event.NewSubscription(func() {
		inner.Unsubscribe()
		p.mu.Lock()
		defer p.mu.Unlock()
		if w.observers.Len() == 0 && p.watches[node] == w {
			delete(p.watches, node)
			w.sub.Unsubscribe()
		}
	}), nil
}

// WatchedNodes lists the nodes with a live transport subscription.
func (p *PEA) WatchedNodes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.watches))
	for node := range p.watches {
		out = append(out, node)
	}
	sort.Strings(out)
	return out
}

type nodeValue struct {
	pea  *PEA
	node string
}

func (v *nodeValue) Name() string {
	return v.pea.name + "." + v.node
}

func (v *nodeValue) Value(ctx context.Context) (interface{}, error) {
	return v.pea.read(ctx, v.node)
}

func (v *nodeValue) Subscribe(fn func(interface{})) (*event.Subscription, error) {
	return v.pea.watch(v.node, fn)
}
