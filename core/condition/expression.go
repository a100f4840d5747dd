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
	"sync"
)

// Expression re-evaluates a formula whenever one of its bindings changes.
type Expression struct {
	base
	formula *Formula

	valuesMu sync.Mutex
	values   map[string]interface{}
}

func NewExpression(f *Formula) *Expression {
	return &Expression{base: newBase(), formula: f}
}

func (e *Expression) Listen(ctx context.Context) error {
	if !e.begin() {
		return nil
	}
	e.valuesMu.Lock()
	e.values = make(map[string]interface{}, len(e.formula.bindings))
	e.valuesMu.Unlock()

	for _, b := range e.formula.bindings {
		b := b
		sub, err := b.Source.Subscribe(func(v interface{}) {
			e.valuesMu.Lock()
			e.values[b.Ident] = v
			e.valuesMu.Unlock()
			e.evaluate()
		})
		if err != nil {
			e.Clear()
			return fmt.Errorf("expression %s: %w", e.formula, err)
		}
		e.hold(sub)
	}

	for _, b := range e.formula.bindings {
		v, err := b.Source.Value(ctx)
		if err != nil {
			log.WithField("expression", e.formula.String()).
				WithError(err).
				Warnf("initial read of %s failed", b.Name)
			continue
		}
		e.valuesMu.Lock()
		e.values[b.Ident] = v
		e.valuesMu.Unlock()
	}
	e.evaluate()
	return nil
}

func (e *Expression) evaluate() {
	e.valuesMu.Lock()
	env := make(map[string]interface{}, len(e.values))
	for k, v := range e.values {
		env[k] = v
	}
	e.valuesMu.Unlock()

	result, err := e.formula.Eval(env)
	if err != nil {
		log.WithField("expression", e.formula.String()).WithError(err).Debug("evaluation failed")
		e.update(false)
		return
	}
	ok, err := Truthy(result)
	if err != nil {
		log.WithField("expression", e.formula.String()).WithError(err).Warn("unusable result")
	}
	e.update(ok)
}

func (e *Expression) Clear() {
	e.clear()
}

func (e *Expression) Units() []string {
	return e.formula.Units()
}

func (e *Expression) String() string {
	return e.formula.String()
}
