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
	"strings"
)

type reduction int

const (
	every reduction = iota
	some
)

// Composite reduces the statuses of its children with every (And) or some
// (Or). Undefined children count as false.
type Composite struct {
	base
	op       reduction
	children []Condition
}

func NewAnd(children ...Condition) *Composite {
	return &Composite{base: newBase(), op: every, children: children}
}

func NewOr(children ...Condition) *Composite {
	return &Composite{base: newBase(), op: some, children: children}
}

func (c *Composite) Listen(ctx context.Context) error {
	if !c.begin() {
		return nil
	}
	for _, child := range c.children {
		c.hold(child.OnChange(func(bool) { c.recompute() }))
	}
	for _, child := range c.children {
		if err := child.Listen(ctx); err != nil {
			c.Clear()
			return err
		}
	}
	c.recompute()
	return nil
}

func (c *Composite) recompute() {
	c.update(c.reduce())
}

func (c *Composite) reduce() bool {
	if c.op == every {
		for _, child := range c.children {
			if child.Fulfilled() != True {
				return false
			}
		}
		return len(c.children) > 0
	}
	for _, child := range c.children {
		if child.Fulfilled() == True {
			return true
		}
	}
	return false
}

func (c *Composite) Clear() {
	c.clear()
	for _, child := range c.children {
		child.Clear()
	}
}

func (c *Composite) Children() []Condition {
	return c.children
}

func (c *Composite) Units() []string {
	return unionUnits(c.children)
}

func (c *Composite) String() string {
	parts := make([]string, len(c.children))
	for i, child := range c.children {
		parts[i] = child.String()
	}
	sep := " and "
	if c.op == some {
		sep = " or "
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Not negates its child. Its status starts as the negation of the child's
// status at construction time and again whenever it starts listening.
type Not struct {
	base
	child Condition
}

func NewNot(child Condition) *Not {
	n := &Not{base: newBase(), child: child}
	n.status = statusOf(child.Fulfilled() != True)
	return n
}

func (n *Not) Listen(ctx context.Context) error {
	if !n.begin() {
		return nil
	}
	n.mu.Lock()
	n.status = statusOf(n.child.Fulfilled() != True)
	n.mu.Unlock()
	n.hold(n.child.OnChange(func(v bool) { n.update(!v) }))
	if err := n.child.Listen(ctx); err != nil {
		n.Clear()
		return err
	}
	n.update(n.child.Fulfilled() != True)
	return nil
}

func (n *Not) Clear() {
	n.clear()
	n.child.Clear()
}

func (n *Not) Units() []string {
	return n.child.Units()
}

func (n *Not) String() string {
	return fmt.Sprintf("not %s", n.child)
}
