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
	"strconv"
	"strings"

	"github.com/p2o-lab/polaris-backend-sub002/core/unit"
)

var operators = map[string]struct{}{
	"==": {}, "<": {}, ">": {}, "<=": {}, ">=": {},
}

// Variable compares a live value with a literal.
type Variable struct {
	base
	unit     string
	source   unit.ValueSource
	operator string
	literal  interface{}
}

func NewVariable(unitName string, source unit.ValueSource, operator string, literal interface{}) (*Variable, error) {
	if operator == "" {
		operator = "=="
	}
	if _, ok := operators[operator]; !ok {
		return nil, fmt.Errorf("variable condition: unknown operator %q", operator)
	}
	if literal == nil {
		return nil, fmt.Errorf("variable condition: value is required")
	}
	return &Variable{
		base:     newBase(),
		unit:     unitName,
		source:   source,
		operator: operator,
		literal:  literal,
	}, nil
}

func (v *Variable) Listen(ctx context.Context) error {
	if !v.begin() {
		return nil
	}
	sub, err := v.source.Subscribe(func(value interface{}) {
		v.update(Compare(value, v.operator, v.literal))
	})
	if err != nil {
		v.clear()
		return fmt.Errorf("variable condition %s: %w", v.source.Name(), err)
	}
	v.hold(sub)

	value, err := v.source.Value(ctx)
	if err != nil {
		log.WithField("variable", v.source.Name()).WithError(err).Warn("initial read failed")
		return nil
	}
	v.update(Compare(value, v.operator, v.literal))
	return nil
}

func (v *Variable) Clear() {
	v.clear()
}

func (v *Variable) Units() []string {
	return []string{v.unit}
}

func (v *Variable) String() string {
	return fmt.Sprintf("%s %s %v", v.source.Name(), v.operator, v.literal)
}

// Compare applies operator to a and b, numerically when both sides are
// numbers or numeric strings, lexically otherwise.
func Compare(a interface{}, operator string, b interface{}) bool {
	if a == nil {
		return false
	}
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		switch operator {
		case "==":
			return fa == fb
		case "<":
			return fa < fb
		case ">":
			return fa > fb
		case "<=":
			return fa <= fb
		case ">=":
			return fa >= fb
		}
		return false
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch operator {
	case "==":
		return sa == sb
	case "<":
		return sa < sb
	case ">":
		return sa > sb
	case "<=":
		return sa <= sb
	case ">=":
		return sa >= sb
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
