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

package recipe

import (
	"github.com/p2o-lab/polaris-backend-sub002/core/condition"
	"github.com/p2o-lab/polaris-backend-sub002/core/operation"
)

// Transition targets that end a recipe.
const (
	NextCompleted = "completed"
	NextFinished  = "finished"
)

func isTerminal(next string) bool {
	return next == NextCompleted || next == NextFinished
}

type TransitionDefinition struct {
	NextStep  string               `json:"next_step" yaml:"next_step"`
	Condition condition.Definition `json:"condition" yaml:"condition"`
}

type StepDefinition struct {
	Name        string                 `json:"name" yaml:"name"`
	Operations  []operation.Definition `json:"operations,omitempty" yaml:"operations,omitempty"`
	Transitions []TransitionDefinition `json:"transitions" yaml:"transitions"`
}

type Definition struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Protected   bool             `json:"protected,omitempty" yaml:"protected,omitempty"`
	InitialStep string           `json:"initial_step" yaml:"initial_step"`
	Steps       []StepDefinition `json:"steps" yaml:"steps"`
}
