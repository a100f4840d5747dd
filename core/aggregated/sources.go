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

package aggregated

import (
	"context"

	"github.com/p2o-lab/polaris-backend-sub002/common/event"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
)

// stateSource exposes the state name of a service as a live value.
type stateSource struct {
	name    string
	service service.Controllable
}

func (s *stateSource) Name() string {
	return s.name
}

func (s *stateSource) Value(context.Context) (interface{}, error) {
	return s.service.State().String(), nil
}

func (s *stateSource) Subscribe(fn func(interface{})) (*event.Subscription, error) {
	return s.service.SubscribeState(func(c service.StateChange) {
		fn(c.State.String())
	}), nil
}

// enableSource exposes one command-enable bit of a service.
type enableSource struct {
	name    string
	service service.Controllable
	command service.Command
}

func (s *enableSource) Name() string {
	return s.name
}

func (s *enableSource) Value(context.Context) (interface{}, error) {
	return s.service.CommandEnable().Enabled(s.command), nil
}

func (s *enableSource) Subscribe(fn func(interface{})) (*event.Subscription, error) {
	return s.service.SubscribeState(func(c service.StateChange) {
		fn(c.CommandEnable.Enabled(s.command))
	}), nil
}
