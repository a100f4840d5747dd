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
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
)

// Set is an ordered collection of units with unique names. References in
// recipe documents resolve against a Set.
type Set []Unit

func (s Set) Resolve(name string) (Unit, error) {
	if name == "" {
		switch len(s) {
		case 1:
			return s[0], nil
		case 0:
			return nil, fmt.Errorf("no unit available")
		default:
			return nil, fmt.Errorf("module must be named when %d units are in scope", len(s))
		}
	}
	for _, u := range s {
		if u.Name() == name {
			return u, nil
		}
	}
	return nil, fmt.Errorf("unit %s not found", name)
}

// ResolveService resolves a unit and one of its services.
func (s Set) ResolveService(unitName, serviceName string) (Unit, service.Controllable, error) {
	u, err := s.Resolve(unitName)
	if err != nil {
		return nil, nil, err
	}
	svc, err := u.Service(serviceName)
	if err != nil {
		return nil, nil, err
	}
	return u, svc, nil
}

func (s Set) Names() []string {
	out := make([]string, len(s))
	for i, u := range s {
		out[i] = u.Name()
	}
	return out
}

// Subset keeps the units whose names are listed, in the order of s.
func (s Set) Subset(names []string) Set {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	var out Set
	for _, u := range s {
		if _, ok := want[u.Name()]; ok {
			out = append(out, u)
		}
	}
	return out
}

// ConnectAll connects every unit concurrently. The returned error collects
// every failure.
func (s Set) ConnectAll(ctx context.Context) error {
	return s.each(func(u Unit) error {
		if err := u.Connect(ctx); err != nil {
			return fmt.Errorf("connect %s: %w", u.Name(), err)
		}
		return nil
	})
}

func (s Set) DisconnectAll(ctx context.Context) error {
	return s.each(func(u Unit) error {
		if err := u.Disconnect(ctx); err != nil {
			return fmt.Errorf("disconnect %s: %w", u.Name(), err)
		}
		return nil
	})
}

func (s Set) each(fn func(Unit) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		merr *multierror.Error
	)
	for _, u := range s {
		wg.Add(1)
		go func(u Unit) {
			defer wg.Done()
			if err := fn(u); err != nil {
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()
	return merr.ErrorOrNil()
}

// StopServices sends stop to every service of u that currently accepts it.
// Services are not otherwise forced into any state.
func StopServices(ctx context.Context, u Unit) error {
	return dispatchAll(ctx, u, service.STOP)
}

func PauseServices(ctx context.Context, u Unit) error {
	return dispatchAll(ctx, u, service.PAUSE)
}

func ResumeServices(ctx context.Context, u Unit) error {
	return dispatchAll(ctx, u, service.RESUME)
}

func dispatchAll(ctx context.Context, u Unit, cmd service.Command) error {
	var merr *multierror.Error
	for _, svc := range u.Services() {
		if !svc.CommandEnable().Enabled(cmd) {
			continue
		}
		if err := svc.Execute(ctx, cmd); err != nil && !service.IsRejected(err) {
			merr = multierror.Append(merr, fmt.Errorf("%s %s.%s: %w", cmd, u.Name(), svc.Name(), err))
		}
	}
	return merr.ErrorOrNil()
}
