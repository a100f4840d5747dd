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
	"github.com/jinzhu/copier"
)

type Parameter struct {
	Name    string      `json:"name" yaml:"name"`
	Unit    string      `json:"unit,omitempty" yaml:"unit,omitempty"`
	Default interface{} `json:"default" yaml:"default"`
	Value   interface{} `json:"value" yaml:"value"`
}

// Procedure is a named mode of operation of a service. Procedures are
// called strategies in recipe documents.
type Procedure struct {
	Name             string      `json:"name" yaml:"name"`
	Default          bool        `json:"default,omitempty" yaml:"default,omitempty"`
	Parameters       []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	ProcessValuesIn  []Parameter `json:"processValuesIn,omitempty" yaml:"processValuesIn,omitempty"`
	ProcessValuesOut []Parameter `json:"processValuesOut,omitempty" yaml:"processValuesOut,omitempty"`
	ReportValues     []Parameter `json:"reportValues,omitempty" yaml:"reportValues,omitempty"`
}

// NewParameter returns a parameter whose current value is its default.
func NewParameter(name string, defaultValue interface{}) Parameter {
	return Parameter{Name: name, Default: defaultValue, Value: defaultValue}
}

func (p *Procedure) Parameter(name string) (*Parameter, bool) {
	for i := range p.Parameters {
		if p.Parameters[i].Name == name {
			return &p.Parameters[i], true
		}
	}
	return nil, false
}

// ParameterValues maps parameter names to their current values.
func (p *Procedure) ParameterValues() map[string]interface{} {
	out := make(map[string]interface{}, len(p.Parameters))
	for _, param := range p.Parameters {
		out[param.Name] = param.Value
	}
	return out
}

func (p *Procedure) resetParameters() {
	for _, group := range [][]Parameter{p.Parameters, p.ProcessValuesIn, p.ProcessValuesOut, p.ReportValues} {
		for i := range group {
			group[i].Value = group[i].Default
		}
	}
}

func copyProcedure(p Procedure) (out Procedure) {
	_ = copier.CopyWithOption(&out, &p, copier.Option{DeepCopy: true})
	return
}

func copyProcedures(in []Procedure) []Procedure {
	out := make([]Procedure, len(in))
	for i := range in {
		out[i] = copyProcedure(in[i])
	}
	return out
}
