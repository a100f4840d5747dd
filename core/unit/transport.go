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
)

// Transport is the field-protocol collaborator of a remote unit. Node ids
// are opaque strings.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Read(ctx context.Context, node string) (interface{}, error)
	Write(ctx context.Context, node string, value interface{}) error
	Subscribe(node string, fn func(interface{})) (*event.Subscription, error)
	// Disconnects delivers unsolicited connection losses.
	Disconnects() <-chan error
}

// MemoryTransport keeps node values in memory. It backs simulated units and
// tests; Set plays the device side, Write the client side.
type MemoryTransport struct {
	mu        sync.Mutex
	values    map[string]interface{}
	observers map[string]*event.Observers[interface{}]
	connected bool
	reads     int

	disconnects chan error

	// ConnectHook, when set, runs on every Connect and may fail it or block.
	ConnectHook func(ctx context.Context) error
	// OnWrite, when set, runs after every client write, outside the lock.
	OnWrite func(node string, value interface{})
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		values:      make(map[string]interface{}),
		observers:   make(map[string]*event.Observers[interface{}]),
		disconnects: make(chan error, 1),
	}
}

func (t *MemoryTransport) Connect(ctx context.Context) error {
	if t.ConnectHook != nil {
		if err := t.ConnectHook(ctx); err != nil {
			return err
		}
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *MemoryTransport) Disconnect(context.Context) error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	return nil
}

func (t *MemoryTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *MemoryTransport) Read(_ context.Context, node string) (interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return nil, ErrNotConnected
	}
	t.reads++
	return t.values[node], nil
}

// Reads counts the remote reads served so far.
func (t *MemoryTransport) Reads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reads
}

func (t *MemoryTransport) Write(_ context.Context, node string, value interface{}) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return ErrNotConnected
	}
	t.mu.Unlock()

	t.Set(node, value)
	if t.OnWrite != nil {
		t.OnWrite(node, value)
	}
	return nil
}

// Set changes a node value as the device would and notifies subscribers.
func (t *MemoryTransport) Set(node string, value interface{}) {
	t.mu.Lock()
	t.values[node] = value
	obs := t.observers[node]
	t.mu.Unlock()
	if obs != nil {
		obs.Notify(value)
	}
}

// Get reads a node value as the device sees it, bypassing the connection.
func (t *MemoryTransport) Get(node string) interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.values[node]
}

func (t *MemoryTransport) Subscribe(node string, fn func(interface{})) (*event.Subscription, error) {
	t.mu.Lock()
	obs, ok := t.observers[node]
	if !ok {
		obs = &event.Observers[interface{}]{}
		t.observers[node] = obs
	}
	t.mu.Unlock()
	return obs.Subscribe(fn), nil
}

func (t *MemoryTransport) Disconnects() <-chan error {
	return t.disconnects
}

// Drop simulates a connection loss.
func (t *MemoryTransport) Drop(err error) {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	select {
	case t.disconnects <- err:
	default:
	}
}
