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

package condition

import (
	"context"
	"fmt"

	"github.com/p2o-lab/polaris-backend-sub002/core/service"
)

// State is fulfilled while a service is in the expected state.
type State struct {
	base
	unit     string
	service  service.Controllable
	expected service.State
}

func NewState(unitName string, svc service.Controllable, expected service.State) *State {
	return &State{base: newBase(), unit: unitName, service: svc, expected: expected}
}

func (s *State) Listen(context.Context) error {
	if !s.begin() {
		return nil
	}
	sub := s.service.SubscribeState(func(c service.StateChange) {
		s.update(c.State == s.expected)
	})
	s.hold(sub)
	s.update(s.service.State() == s.expected)
	return nil
}

func (s *State) Clear() {
	s.clear()
}

func (s *State) Units() []string {
	return []string{s.unit}
}

func (s *State) String() string {
	return fmt.Sprintf("%s.%s is %s", s.unit, s.service.Name(), s.expected)
}
