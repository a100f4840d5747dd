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

// Package simulation builds in-process units from a YAML description, for
// running recipes without any equipment attached.
package simulation

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
	"github.com/p2o-lab/polaris-backend-sub002/core/unit"
	"github.com/p2o-lab/polaris-backend-sub002/core/virtual"
	"gopkg.in/yaml.v3"
)

type Timer struct {
	Name       string  `yaml:"name"`
	Duration   float64 `yaml:"duration,omitempty"`
	UpdateRate float64 `yaml:"updateRate,omitempty"`
}

type Variable struct {
	DataAssembly string      `yaml:"dataAssembly"`
	Variable     string      `yaml:"variable,omitempty"`
	Value        interface{} `yaml:"value"`
}

type Unit struct {
	Name      string     `yaml:"name"`
	Timers    []Timer    `yaml:"timers,omitempty"`
	Services  []string   `yaml:"services,omitempty"`
	Variables []Variable `yaml:"variables,omitempty"`
}

type Document struct {
	Units []Unit `yaml:"units"`
}

func Decode(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("cannot decode simulation: %w", err)
	}
	if len(doc.Units) == 0 {
		return doc, fmt.Errorf("simulation declares no units")
	}
	return doc, nil
}

// Build creates one local unit per declared unit. Timers run on clk; plain
// services are bare state machines that only move on commands.
func (d Document) Build(clk clock.Clock) (unit.Set, error) {
	if clk == nil {
		clk = clock.New()
	}
	seen := make(map[string]struct{})
	set := make(unit.Set, 0, len(d.Units))
	for _, ud := range d.Units {
		if ud.Name == "" {
			return nil, fmt.Errorf("simulation: unit without name")
		}
		if _, dup := seen[ud.Name]; dup {
			return nil, fmt.Errorf("simulation: duplicate unit %s", ud.Name)
		}
		seen[ud.Name] = struct{}{}

		local := unit.NewLocal(ud.Name)
		services := make(map[string]struct{})
		add := func(svc service.Controllable) error {
			if _, dup := services[svc.Name()]; dup {
				return fmt.Errorf("simulation: unit %s: duplicate service %s", ud.Name, svc.Name())
			}
			services[svc.Name()] = struct{}{}
			local.AddService(svc)
			return nil
		}

		for _, td := range ud.Timers {
			timer := virtual.NewTimer(td.Name, clk)
			params := make(map[string]interface{})
			if td.Duration > 0 {
				params[virtual.ParamDuration] = td.Duration
			}
			if td.UpdateRate > 0 {
				params[virtual.ParamUpdateRate] = td.UpdateRate
			}
			if err := timer.SetParameters(params); err != nil {
				return nil, fmt.Errorf("simulation: unit %s: %w", ud.Name, err)
			}
			if err := add(timer); err != nil {
				return nil, err
			}
		}
		for _, name := range ud.Services {
			m := service.NewMachine(name, nil, nil)
			m.SetClock(clk)
			if err := add(m); err != nil {
				return nil, err
			}
		}
		for _, vd := range ud.Variables {
			if vd.DataAssembly == "" {
				return nil, fmt.Errorf("simulation: unit %s: variable without dataAssembly", ud.Name)
			}
			name := vd.Variable
			if name == "" {
				name = unit.DefaultVariable
			}
			local.AddVariable(vd.DataAssembly, unit.NewVariable(name, vd.Value))
		}
		set = append(set, local)
	}
	return set, nil
}
