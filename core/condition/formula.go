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
	"sort"
	"strings"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/ast"
	"github.com/antonmedv/expr/parser"
	"github.com/antonmedv/expr/vm"
	"github.com/p2o-lab/polaris-backend-sub002/core/unit"
)

// Binding ties a name of a formula to a live value.
type Binding struct {
	// Ident is the identifier the compiled program reads.
	Ident string
	// Name is the name as written in the formula, or the scope name.
	Name   string
	Unit   string
	Source unit.ValueSource
}

// Resolver maps a dotted token of a formula to the unit and value it
// denotes.
type Resolver func(token string) (unitName string, source unit.ValueSource, err error)

// Formula is a compiled expression whose free names are all bound.
type Formula struct {
	source   string
	program  *vm.Program
	bindings []Binding
}

// CompileFormula binds the explicit scope entries and every bare dotted
// token of text, then compiles the rewritten text. A name that is neither
// in scope nor resolvable is an error.
func CompileFormula(text string, scope []Binding, resolve Resolver) (*Formula, error) {
	f := &Formula{source: text}
	known := make(map[string]struct{})
	for _, b := range scope {
		if b.Ident == "" {
			b.Ident = b.Name
		}
		f.bindings = append(f.bindings, b)
		known[b.Ident] = struct{}{}
	}

	tokens := make(map[string]string)
	var resolveErr error
	rewritten := RewriteTokens(text, func(token string) string {
		if ident, ok := tokens[token]; ok {
			return ident
		}
		ident := fmt.Sprintf("__t%d", len(tokens))
		tokens[token] = ident
		if resolve == nil {
			resolveErr = fmt.Errorf("expression %q: cannot resolve %s", text, token)
			return ident
		}
		unitName, src, err := resolve(token)
		if err != nil {
			if resolveErr == nil {
				resolveErr = fmt.Errorf("expression %q: cannot resolve %s: %w", text, token, err)
			}
			return ident
		}
		f.bindings = append(f.bindings, Binding{Ident: ident, Name: token, Unit: unitName, Source: src})
		known[ident] = struct{}{}
		return ident
	})
	if resolveErr != nil {
		return nil, resolveErr
	}

	tree, err := parser.Parse(rewritten)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", text, err)
	}
	free := &identCollector{callees: make(map[ast.Node]struct{})}
	ast.Walk(&tree.Node, free)
	var unbound []string
	for _, name := range free.freeNames() {
		if _, ok := known[name]; !ok {
			unbound = append(unbound, name)
		}
	}
	if len(unbound) > 0 {
		sort.Strings(unbound)
		return nil, fmt.Errorf("expression %q: unresolved name %s", text, strings.Join(unbound, ", "))
	}

	f.program, err = expr.Compile(rewritten)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", text, err)
	}
	return f, nil
}

func (f *Formula) String() string {
	return f.source
}

func (f *Formula) Bindings() []Binding {
	return f.bindings
}

func (f *Formula) Units() []string {
	set := make(map[string]struct{})
	for _, b := range f.bindings {
		if b.Unit != "" {
			set[b.Unit] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Read reads every binding once.
func (f *Formula) Read(ctx context.Context) (map[string]interface{}, error) {
	env := make(map[string]interface{}, len(f.bindings))
	for _, b := range f.bindings {
		v, err := b.Source.Value(ctx)
		if err != nil {
			return nil, fmt.Errorf("expression %q: read %s: %w", f.source, b.Name, err)
		}
		env[b.Ident] = v
	}
	return env, nil
}

func (f *Formula) Eval(env map[string]interface{}) (interface{}, error) {
	return expr.Run(f.program, env)
}

// Evaluate reads every binding and runs the program.
func (f *Formula) Evaluate(ctx context.Context) (interface{}, error) {
	env, err := f.Read(ctx)
	if err != nil {
		return nil, err
	}
	return f.Eval(env)
}

// Truthy interprets a formula result: booleans as is, numbers as non-zero.
func Truthy(v interface{}) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	if _, isString := v.(string); !isString {
		if n, ok := toFloat(v); ok {
			return n != 0, nil
		}
	}
	return false, fmt.Errorf("expression result %v is neither boolean nor numeric", v)
}

type identCollector struct {
	idents  []*ast.IdentifierNode
	callees map[ast.Node]struct{}
}

func (c *identCollector) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.CallNode:
		c.callees[n.Callee] = struct{}{}
	case *ast.IdentifierNode:
		c.idents = append(c.idents, n)
	}
}

// freeNames lists identifiers that are not function names. The walk is
// post-order, so callees are only known once it has finished.
func (c *identCollector) freeNames() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, n := range c.idents {
		if _, isCallee := c.callees[n]; isCallee {
			continue
		}
		if _, dup := seen[n.Value]; dup {
			continue
		}
		seen[n.Value] = struct{}{}
		out = append(out, n.Value)
	}
	return out
}

// RewriteTokens replaces every dotted identifier outside of string
// literals with the name returned by rename.
func RewriteTokens(text string, rename func(token string) string) string {
	var b strings.Builder
	var quote byte
	for i := 0; i < len(text); {
		c := text[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(text) {
				b.WriteByte(text[i+1])
				i += 2
				continue
			}
			if c == quote {
				quote = 0
			}
			i++
			continue
		}
		if c == '"' || c == '\'' || c == '`' {
			quote = c
			b.WriteByte(c)
			i++
			continue
		}
		if isIdentStart(c) && (i == 0 || (!isIdentPart(text[i-1]) && text[i-1] != '.')) {
			j := i
			for j < len(text) && (isIdentPart(text[j]) || (text[j] == '.' && j+1 < len(text) && isIdentStart(text[j+1]))) {
				j++
			}
			token := text[i:j]
			if strings.Contains(token, ".") {
				b.WriteString(rename(token))
			} else {
				b.WriteString(token)
			}
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
