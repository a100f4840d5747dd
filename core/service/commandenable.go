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

// CommandEnable is the named bitmask of commands a service currently
// accepts. It is the only authorization gate of a Machine.
type CommandEnable struct {
	Start    bool `json:"start"`
	Restart  bool `json:"restart"`
	Stop     bool `json:"stop"`
	Pause    bool `json:"pause"`
	Resume   bool `json:"resume"`
	Complete bool `json:"complete"`
	Abort    bool `json:"abort"`
	Reset    bool `json:"reset"`
	Hold     bool `json:"hold"`
	Unhold   bool `json:"unhold"`
}

func (c CommandEnable) Enabled(cmd Command) bool {
	if p := c.field(cmd); p != nil {
		return *p
	}
	return false
}

// With returns a copy with the bit of cmd set to value.
func (c CommandEnable) With(cmd Command, value bool) CommandEnable {
	if p := c.field(cmd); p != nil {
		*p = value
	}
	return c
}

func (c *CommandEnable) field(cmd Command) *bool {
	switch cmd {
	case START:
		return &c.Start
	case RESTART:
		return &c.Restart
	case STOP:
		return &c.Stop
	case PAUSE:
		return &c.Pause
	case RESUME:
		return &c.Resume
	case COMPLETE:
		return &c.Complete
	case ABORT:
		return &c.Abort
	case RESET:
		return &c.Reset
	case HOLD:
		return &c.Hold
	case UNHOLD:
		return &c.Unhold
	}
	return nil
}

// Map keys the bits by command name.
func (c CommandEnable) Map() map[string]bool {
	out := make(map[string]bool, len(Commands))
	for _, cmd := range Commands {
		out[string(cmd)] = c.Enabled(cmd)
	}
	return out
}

// Bits packs the mask into an integer, bit i being Commands[i]. This is the
// encoding of the CommandEn node of remote units.
func (c CommandEnable) Bits() uint32 {
	var out uint32
	for i, cmd := range Commands {
		if c.Enabled(cmd) {
			out |= 1 << uint(i)
		}
	}
	return out
}

func CommandEnableFromBits(bits uint32) CommandEnable {
	var c CommandEnable
	for i, cmd := range Commands {
		c = c.With(cmd, bits&(1<<uint(i)) != 0)
	}
	return c
}

func CommandEnableOf(cmds ...Command) CommandEnable {
	var c CommandEnable
	for _, cmd := range cmds {
		c = c.With(cmd, true)
	}
	return c
}

// CommandEnableFor reads the static table.
func CommandEnableFor(s State) CommandEnable {
	return _commandEnableTable[s]
}

var _commandEnableTable = map[State]CommandEnable{
	IDLE:       CommandEnableOf(START, STOP, ABORT),
	STARTING:   CommandEnableOf(STOP, ABORT, HOLD),
	EXECUTE:    CommandEnableOf(RESTART, STOP, PAUSE, COMPLETE, ABORT, HOLD),
	PAUSING:    CommandEnableOf(STOP, ABORT, HOLD),
	PAUSED:     CommandEnableOf(RESUME, STOP, ABORT, HOLD),
	RESUMING:   CommandEnableOf(STOP, ABORT, HOLD),
	COMPLETING: CommandEnableOf(STOP, ABORT, HOLD),
	COMPLETED:  CommandEnableOf(RESET, STOP, ABORT),
	STOPPING:   CommandEnableOf(ABORT),
	STOPPED:    CommandEnableOf(RESET, ABORT),
	ABORTING:   {},
	ABORTED:    CommandEnableOf(RESET),
	RESETTING:  CommandEnableOf(STOP, ABORT),
	HOLDING:    CommandEnableOf(STOP, ABORT),
	HELD:       CommandEnableOf(UNHOLD, STOP, ABORT),
	UNHOLDING:  CommandEnableOf(STOP, ABORT),
}
