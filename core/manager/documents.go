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

package manager

import (
	"fmt"

	"github.com/p2o-lab/polaris-backend-sub002/core/aggregated"
	"github.com/p2o-lab/polaris-backend-sub002/core/recipe"
	"github.com/p2o-lab/polaris-backend-sub002/core/schemata"
	"gopkg.in/yaml.v3"
)

// DecodeRecipe validates and decodes a YAML or JSON recipe document.
func DecodeRecipe(data []byte) (recipe.Definition, error) {
	var def recipe.Definition
	if err := schemata.Validate(data, schemata.FormatRecipe); err != nil {
		return def, err
	}
	if err := yaml.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("cannot decode recipe: %w", err)
	}
	return def, nil
}

// DecodeAggregated validates and decodes an aggregated-service document.
func DecodeAggregated(data []byte) (aggregated.Definition, error) {
	var def aggregated.Definition
	if err := schemata.Validate(data, schemata.FormatAggregated); err != nil {
		return def, err
	}
	if err := yaml.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("cannot decode aggregated service: %w", err)
	}
	return def, nil
}

func (m *Manager) LoadRecipe(data []byte) (*recipe.Recipe, error) {
	def, err := DecodeRecipe(data)
	if err != nil {
		return nil, err
	}
	return m.AddRecipe(def)
}

func (m *Manager) LoadAggregated(data []byte) (*aggregated.Service, error) {
	def, err := DecodeAggregated(data)
	if err != nil {
		return nil, err
	}
	return m.AddAggregated(def)
}
