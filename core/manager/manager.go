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

// Package manager is the registry of one orchestration instance: the units
// it drives, the recipes and aggregated services built over them and the
// player. Every component receives the unit set it may resolve against
// explicitly; nothing reaches back into the manager.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/p2o-lab/polaris-backend-sub002/common/event"
	"github.com/p2o-lab/polaris-backend-sub002/common/logger"
	"github.com/p2o-lab/polaris-backend-sub002/core/aggregated"
	"github.com/p2o-lab/polaris-backend-sub002/core/metrics"
	"github.com/p2o-lab/polaris-backend-sub002/core/operation"
	"github.com/p2o-lab/polaris-backend-sub002/core/player"
	"github.com/p2o-lab/polaris-backend-sub002/core/recipe"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
	"github.com/p2o-lab/polaris-backend-sub002/core/unit"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "manager")

// AggregatedUnit is the local unit hosting every aggregated service.
const AggregatedUnit = "aggregated"

var (
	ErrProtected = errors.New("recipe is protected")
	ErrNotFound  = errors.New("not found")
	ErrInUse     = errors.New("in use")
)

type Options struct {
	Clock              clock.Clock
	StateChangeTimeout time.Duration
	SettleDelay        time.Duration
	Operation          operation.Options
	Writers            []event.Writer
}

type Manager struct {
	opts Options

	mu         sync.RWMutex
	units      unit.Set
	recipes    []*recipe.Recipe
	aggregated []*aggregated.Service
	host       *unit.Local
	subs       []*event.Subscription

	player *player.Player
}

func New(opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	m := &Manager{opts: opts}
	m.opts.Operation.Emit = m.Emit
	if m.opts.Operation.Clock == nil {
		m.opts.Operation.Clock = opts.Clock
	}
	m.player = player.New(player.Options{
		Clock:       opts.Clock,
		SettleDelay: opts.SettleDelay,
		Emit:        m.Emit,
	})
	return m
}

// Emit forwards e to every configured writer.
func (m *Manager) Emit(e event.Event) {
	if e == nil {
		return
	}
	metrics.EventsWritten.WithLabelValues(e.GetName()).Inc()
	for _, w := range m.opts.Writers {
		w.WriteEvent(e)
	}
}

func (m *Manager) Player() *player.Player {
	return m.player
}

// AddUnit registers u and forwards its connection and service state
// changes as events.
func (m *Manager) AddUnit(u unit.Unit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.units.Resolve(u.Name()); err == nil {
		return fmt.Errorf("unit %s already registered", u.Name())
	}
	m.units = append(m.units, u)
	m.watch(u)
	log.WithField("unit", u.Name()).Info("unit registered")
	return nil
}

// watch must be called with mu held.
func (m *Manager) watch(u unit.Unit) {
	m.subs = append(m.subs, u.SubscribeConnection(func(c unit.ConnectionChange) {
		m.Emit(event.NewUnitConnectionChanged(c.Unit, c.Connected, c.Err))
	}))
	for _, svc := range u.Services() {
		m.watchService(u.Name(), svc)
	}
}

func (m *Manager) watchService(unitName string, svc service.Controllable) {
	m.subs = append(m.subs, svc.SubscribeState(func(c service.StateChange) {
		metrics.ServiceStateChanges.WithLabelValues(c.State.String()).Inc()
		m.Emit(event.NewServiceStateChanged(unitName, c.Service, c.State.String(), string(c.Command), c.Timestamp))
	}))
}

func (m *Manager) Unit(name string) (unit.Unit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.units {
		if u.Name() == name {
			return u, nil
		}
	}
	return nil, fmt.Errorf("unit %s: %w", name, ErrNotFound)
}

func (m *Manager) Units() unit.Set {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append(unit.Set(nil), m.units...)
}

// RemoveUnit disconnects and drops a unit no recipe or aggregated service
// references.
func (m *Manager) RemoveUnit(ctx context.Context, name string) error {
	m.mu.Lock()
	idx := -1
	for i, u := range m.units {
		if u.Name() == name {
			idx = i
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("unit %s: %w", name, ErrNotFound)
	}
	for _, r := range m.recipes {
		if _, err := r.Units().Resolve(name); err == nil {
			m.mu.Unlock()
			return fmt.Errorf("unit %s: used by recipe %s: %w", name, r.Name(), ErrInUse)
		}
	}
	for _, a := range m.aggregated {
		if _, err := a.Units().Resolve(name); err == nil {
			m.mu.Unlock()
			return fmt.Errorf("unit %s: used by aggregated service %s: %w", name, a.Name(), ErrInUse)
		}
	}
	u := m.units[idx]
	m.units = append(m.units[:idx], m.units[idx+1:]...)
	m.mu.Unlock()

	return u.Disconnect(ctx)
}

func (m *Manager) recipeOptions() recipe.Options {
	return recipe.Options{Clock: m.opts.Clock, Operation: m.opts.Operation, Emit: m.Emit}
}

// AddRecipe builds def against the registered units.
func (m *Manager) AddRecipe(def recipe.Definition) (*recipe.Recipe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := recipe.New(def, m.units, m.recipeOptions())
	if err != nil {
		return nil, err
	}
	m.recipes = append(m.recipes, r)
	log.WithField("recipe", r.Name()).Info("recipe registered")
	return r, nil
}

func (m *Manager) Recipe(id string) (*recipe.Recipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.recipes {
		if r.ID().String() == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("recipe %s: %w", id, ErrNotFound)
}

func (m *Manager) Recipes() []*recipe.Recipe {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*recipe.Recipe(nil), m.recipes...)
}

// RemoveRecipe drops a recipe. Protected recipes and recipes on the
// playlist are refused.
func (m *Manager) RemoveRecipe(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.recipes {
		if r.ID().String() != id {
			continue
		}
		if r.Protected() {
			return fmt.Errorf("recipe %s: %w", r.Name(), ErrProtected)
		}
		if m.player.Contains(r) {
			return fmt.Errorf("recipe %s: on the playlist: %w", r.Name(), ErrInUse)
		}
		m.recipes = append(m.recipes[:i], m.recipes[i+1:]...)
		return nil
	}
	return fmt.Errorf("recipe %s: %w", id, ErrNotFound)
}

// AddAggregated builds def against the registered units and hosts the new
// service in the AggregatedUnit, so recipes can drive it like any other.
func (m *Manager) AddAggregated(def aggregated.Definition) (*aggregated.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.host != nil {
		if _, err := m.host.Service(def.Name); err == nil {
			return nil, fmt.Errorf("aggregated service %s already registered", def.Name)
		}
	}
	s, err := aggregated.New(def, m.units, aggregated.Options{
		Clock:              m.opts.Clock,
		StateChangeTimeout: m.opts.StateChangeTimeout,
		Operation:          m.opts.Operation,
	})
	if err != nil {
		return nil, err
	}
	if m.host == nil {
		m.host = unit.NewLocal(AggregatedUnit)
		m.units = append(m.units, m.host)
		m.subs = append(m.subs, m.host.SubscribeConnection(func(c unit.ConnectionChange) {
			m.Emit(event.NewUnitConnectionChanged(c.Unit, c.Connected, c.Err))
		}))
	}
	m.host.AddService(s)
	m.watchService(AggregatedUnit, s)
	m.aggregated = append(m.aggregated, s)
	log.WithField("service", s.Name()).Info("aggregated service registered")
	return s, nil
}

func (m *Manager) Aggregated() []*aggregated.Service {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*aggregated.Service(nil), m.aggregated...)
}

// Shutdown stops the player, releases every aggregated service,
// disconnects every unit and closes the writers.
func (m *Manager) Shutdown(ctx context.Context) error {
	var merr *multierror.Error
	if st := m.player.Status(); st == player.Running || st == player.Paused {
		if err := m.player.Stop(ctx); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	m.mu.Lock()
	units := append(unit.Set(nil), m.units...)
	subs := m.subs
	m.subs = nil
	for _, s := range m.aggregated {
		s.Close()
	}
	m.mu.Unlock()

	if err := units.DisconnectAll(ctx); err != nil {
		merr = multierror.Append(merr, err)
	}
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	for _, w := range m.opts.Writers {
		if err := w.Close(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	log.Info("manager shut down")
	return merr.ErrorOrNil()
}
