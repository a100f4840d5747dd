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
	"fmt"
	"strings"
)

type Command string

const (
	START    = Command("start")
	RESTART  = Command("restart")
	STOP     = Command("stop")
	PAUSE    = Command("pause")
	RESUME   = Command("resume")
	COMPLETE = Command("complete")
	ABORT    = Command("abort")
	RESET    = Command("reset")
	HOLD     = Command("hold")
	UNHOLD   = Command("unhold")
)

// Commands lists every command in bit order.
var Commands = []Command{START, RESTART, STOP, PAUSE, RESUME, COMPLETE, ABORT, RESET, HOLD, UNHOLD}

var _targets = map[Command]State{
	START:    STARTING,
	RESTART:  STARTING,
	STOP:     STOPPING,
	PAUSE:    PAUSING,
	RESUME:   RESUMING,
	COMPLETE: COMPLETING,
	ABORT:    ABORTING,
	RESET:    RESETTING,
	HOLD:     HOLDING,
	UNHOLD:   UNHOLDING,
}

func (c Command) String() string {
	return string(c)
}

// Target is the state a machine enters when the command is accepted.
func (c Command) Target() State {
	return _targets[c]
}

func ParseCommand(s string) (Command, error) {
	c := Command(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := _targets[c]; !ok {
		return "", fmt.Errorf("unknown command %q", s)
	}
	return c, nil
}

// CommandForState returns the command whose target is the given state, or
// false if the state is not entered by any command.
func CommandForState(s State) (Command, bool) {
	for _, c := range Commands {
		if c == RESTART {
			continue
		}
		if _targets[c] == s {
			return c, true
		}
	}
	return "", false
}
