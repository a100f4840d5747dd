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

// Package service implements the generic state machine shared by every
// controllable unit, physical or virtual, together with its static
// command-enable table, procedures and parameters.
package service

import (
	"fmt"
	"strings"
)

type State int

const (
	IDLE State = iota
	STARTING
	EXECUTE
	PAUSING
	PAUSED
	RESUMING
	COMPLETING
	COMPLETED
	STOPPING
	STOPPED
	ABORTING
	ABORTED
	RESETTING
	HOLDING
	HELD
	UNHOLDING
)

var _names = []string{
	"IDLE",
	"STARTING",
	"EXECUTE",
	"PAUSING",
	"PAUSED",
	"RESUMING",
	"COMPLETING",
	"COMPLETED",
	"STOPPING",
	"STOPPED",
	"ABORTING",
	"ABORTED",
	"RESETTING",
	"HOLDING",
	"HELD",
	"UNHOLDING",
}

// States lists every state in declaration order.
var States = func() []State {
	out := make([]State, len(_names))
	for i := range _names {
		out[i] = State(i)
	}
	return out
}()

func (s State) String() string {
	if s < IDLE || s > UNHOLDING {
		return "UNKNOWN"
	}
	return _names[s]
}

// ParseState accepts state names case-insensitively.
func ParseState(s string) (State, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, v := range _names {
		if name == v {
			return State(i), nil
		}
	}
	return IDLE, fmt.Errorf("unknown state %q", s)
}

// IsTerminal is true for the states a run ends in. They lead back to IDLE
// only through RESETTING.
func (s State) IsTerminal() bool {
	return s == COMPLETED || s == STOPPED || s == ABORTED
}

// Successor returns the state a transient phase advances to once its hook
// has returned. EXECUTE and the resting states have no successor.
func (s State) Successor() (State, bool) {
	next, ok := _successors[s]
	return next, ok
}

var _successors = map[State]State{
	STARTING:   EXECUTE,
	PAUSING:    PAUSED,
	RESUMING:   EXECUTE,
	COMPLETING: COMPLETED,
	STOPPING:   STOPPED,
	ABORTING:   ABORTED,
	RESETTING:  IDLE,
	HOLDING:    HELD,
	UNHOLDING:  EXECUTE,
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	st, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}
