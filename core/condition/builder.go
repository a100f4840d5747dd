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
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/p2o-lab/polaris-backend-sub002/core/service"
	"github.com/p2o-lab/polaris-backend-sub002/core/unit"
)

// Definition is the document form of a condition, discriminated by Type.
type Definition struct {
	Type string `json:"type" yaml:"type"`

	// time, in seconds
	Duration *float64 `json:"duration,omitempty" yaml:"duration,omitempty"`

	// state, variable
	Module       string      `json:"module,omitempty" yaml:"module,omitempty"`
	Service      string      `json:"service,omitempty" yaml:"service,omitempty"`
	State        string      `json:"state,omitempty" yaml:"state,omitempty"`
	DataAssembly string      `json:"dataAssembly,omitempty" yaml:"dataAssembly,omitempty"`
	Variable     string      `json:"variable,omitempty" yaml:"variable,omitempty"`
	Operator     string      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value        interface{} `json:"value,omitempty" yaml:"value,omitempty"`

	// expression
	Expression string      `json:"expression,omitempty" yaml:"expression,omitempty"`
	Scope      []ScopeItem `json:"scope,omitempty" yaml:"scope,omitempty"`

	// and, or, not
	Conditions []Definition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Condition  *Definition  `json:"condition,omitempty" yaml:"condition,omitempty"`
}

type ScopeItem struct {
	Name         string `json:"name" yaml:"name"`
	Module       string `json:"module,omitempty" yaml:"module,omitempty"`
	DataAssembly string `json:"dataAssembly" yaml:"dataAssembly"`
	Variable     string `json:"variable,omitempty" yaml:"variable,omitempty"`
}

// Builder turns definitions into conditions. Unit references resolve
// against Units; Time conditions run on Clock.
type Builder struct {
	Units unit.Set
	Clock clock.Clock
}

func (b Builder) Build(def Definition) (Condition, error) {
	switch strings.ToLower(def.Type) {
	case "time":
		if def.Duration == nil {
			return nil, fmt.Errorf("time condition: duration is required")
		}
		d := time.Duration(*def.Duration * float64(time.Second))
		return NewTime(d, b.Clock)

	case "state":
		if def.Service == "" {
			return nil, fmt.Errorf("state condition: service is required")
		}
		u, svc, err := b.Units.ResolveService(def.Module, def.Service)
		if err != nil {
			return nil, fmt.Errorf("state condition: %w", err)
		}
		expected, err := service.ParseState(def.State)
		if err != nil {
			return nil, fmt.Errorf("state condition: %w", err)
		}
		return NewState(u.Name(), svc, expected), nil

	case "variable":
		if def.DataAssembly == "" {
			return nil, fmt.Errorf("variable condition: dataAssembly is required")
		}
		u, err := b.Units.Resolve(def.Module)
		if err != nil {
			return nil, fmt.Errorf("variable condition: %w", err)
		}
		src, err := u.Variable(def.DataAssembly, def.Variable)
		if err != nil {
			return nil, fmt.Errorf("variable condition: %w", err)
		}
		return NewVariable(u.Name(), src, def.Operator, def.Value)

	case "expression":
		if def.Expression == "" {
			return nil, fmt.Errorf("expression condition: expression is required")
		}
		scope, err := b.Scope(def.Scope)
		if err != nil {
			return nil, fmt.Errorf("expression condition: %w", err)
		}
		f, err := CompileFormula(def.Expression, scope, b.ResolveToken)
		if err != nil {
			return nil, err
		}
		return NewExpression(f), nil

	case "and", "or":
		if len(def.Conditions) == 0 {
			return nil, fmt.Errorf("%s condition: conditions are required", def.Type)
		}
		children := make([]Condition, 0, len(def.Conditions))
		for i, childDef := range def.Conditions {
			child, err := b.Build(childDef)
			if err != nil {
				return nil, fmt.Errorf("%s condition [%d]: %w", def.Type, i, err)
			}
			children = append(children, child)
		}
		if strings.ToLower(def.Type) == "and" {
			return NewAnd(children...), nil
		}
		return NewOr(children...), nil

	case "not":
		if def.Condition == nil {
			return nil, fmt.Errorf("not condition: condition is required")
		}
		child, err := b.Build(*def.Condition)
		if err != nil {
			return nil, fmt.Errorf("not condition: %w", err)
		}
		return NewNot(child), nil
	}
	return nil, fmt.Errorf("%w for type %q", ErrUnknownType, def.Type)
}

// Scope resolves explicit scope entries into formula bindings.
func (b Builder) Scope(items []ScopeItem) ([]Binding, error) {
	out := make([]Binding, 0, len(items))
	for _, item := range items {
		if item.Name == "" || item.DataAssembly == "" {
			return nil, fmt.Errorf("scope entry needs name and dataAssembly")
		}
		u, err := b.Units.Resolve(item.Module)
		if err != nil {
			return nil, fmt.Errorf("scope %s: %w", item.Name, err)
		}
		src, err := u.Variable(item.DataAssembly, item.Variable)
		if err != nil {
			return nil, fmt.Errorf("scope %s: %w", item.Name, err)
		}
		out = append(out, Binding{Name: item.Name, Unit: u.Name(), Source: src})
	}
	return out, nil
}

// ResolveToken resolves a bare dotted token of a formula. Three parts name
// unit, data assembly and variable. Two parts name a unit and a data
// assembly if the first part is a unit, otherwise a data assembly and a
// variable of the only unit in scope.
func (b Builder) ResolveToken(token string) (string, unit.ValueSource, error) {
	parts := strings.Split(token, ".")
	var moduleName, dataAssembly, variable string
	switch len(parts) {
	case 3:
		moduleName, dataAssembly, variable = parts[0], parts[1], parts[2]
	case 2:
		if _, err := b.Units.Resolve(parts[0]); err == nil {
			moduleName, dataAssembly = parts[0], parts[1]
		} else {
			dataAssembly, variable = parts[0], parts[1]
		}
	default:
		return "", nil, fmt.Errorf("token %s is not of the form unit.dataAssembly[.variable]", token)
	}
	u, err := b.Units.Resolve(moduleName)
	if err != nil {
		return "", nil, err
	}
	src, err := u.Variable(dataAssembly, variable)
	if err != nil {
		return "", nil, err
	}
	return u.Name(), src, nil
}
