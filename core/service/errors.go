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
	"errors"
	"fmt"
)

type CommandRejectedError struct {
	Service string
	Command Command
	State   State
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("service %s: command %s not enabled in state %s", e.Service, e.Command, e.State)
}

// IsRejected reports whether err is, or wraps, a CommandRejectedError.
func IsRejected(err error) bool {
	var rejected *CommandRejectedError
	return errors.As(err, &rejected)
}

type UnknownProcedureError struct {
	Service   string
	Procedure string
}

func (e *UnknownProcedureError) Error() string {
	return fmt.Sprintf("service %s: procedure %s not found", e.Service, e.Procedure)
}

type UnknownParameterError struct {
	Service   string
	Procedure string
	Parameter string
}

func (e *UnknownParameterError) Error() string {
	return fmt.Sprintf("service %s: procedure %s has no parameter %s", e.Service, e.Procedure, e.Parameter)
}
