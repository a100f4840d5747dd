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

// Package unit is the boundary between the orchestration core and the
// process-equipment units it drives. A unit owns services and live values;
// remote units reach them through a Transport, local units host them in
// process.
package unit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/p2o-lab/polaris-backend-sub002/common/event"
	"github.com/p2o-lab/polaris-backend-sub002/common/logger"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "unit")

type Unit interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Connected() bool
	Service(name string) (service.Controllable, error)
	Services() []service.Controllable
	Variable(dataAssembly, variable string) (ValueSource, error)
	SubscribeConnection(fn func(ConnectionChange)) *event.Subscription
}

// ValueSource is a named live value that can be read and watched.
type ValueSource interface {
	Name() string
	Value(ctx context.Context) (interface{}, error)
	Subscribe(fn func(interface{})) (*event.Subscription, error)
}

type ConnectionChange struct {
	Unit      string
	Connected bool
	Err       error
}

// DefaultVariable is the variable read when a reference names only a data
// assembly.
const DefaultVariable = "V"

var (
	ErrTimeout      = errors.New("timeout")
	ErrNotConnected = errors.New("unit not connected")
)

// TimeoutError is returned when a connect, disconnect or state-change wait
// exceeds its configured duration. It matches ErrTimeout with errors.Is.
type TimeoutError struct {
	Unit  string
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("unit %s: %s timed out after %s", e.Unit, e.Op, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

type ServiceNotFoundError struct {
	Unit    string
	Service string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("unit %s: service %s not found", e.Unit, e.Service)
}

type VariableNotFoundError struct {
	Unit     string
	Variable string
}

func (e *VariableNotFoundError) Error() string {
	return fmt.Sprintf("unit %s: variable %s not found", e.Unit, e.Variable)
}

// Config carries the timeouts of a remote unit.
type Config struct {
	ConnectTimeout     time.Duration
	DisconnectTimeout  time.Duration
	StateChangeTimeout time.Duration
	CacheStaleness     time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		DisconnectTimeout:  2 * time.Second,
		StateChangeTimeout: 30 * time.Second,
		CacheStaleness:     100 * time.Millisecond,
	}
}

func variableKey(dataAssembly, variable string) string {
	if variable == "" {
		variable = DefaultVariable
	}
	return dataAssembly + "." + variable
}

// withTimeout runs fn and gives up after d, returning a *TimeoutError.
// fn keeps running in the background if it ignores its context.
func withTimeout(ctx context.Context, unitName, op string, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()
	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return &TimeoutError{Unit: unitName, Op: op, After: d}
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{Unit: unitName, Op: op, After: d}
		}
		return ctx.Err()
	}
}
