package pipeline

import (
	"fmt"
	"sort"

	"raster/internal/ir"
)

// Environment maps function names to functions.
type Environment map[string]*Function

// BuildEnvironment collects every function reachable from the outputs
// through calls, tuple references, and buffer-variable references.
// Callees are resolved against the known set, since a Call expression
// carries only a name.
func BuildEnvironment(outputs []*Function, known ...*Function) Environment {
	registry := make(map[string]*Function, len(known))
	for _, f := range known {
		registry[f.name] = f
	}
	env := make(Environment)
	var visit func(f *Function)
	visit = func(f *Function) {
		if _, ok := env[f.name]; ok {
			return
		}
		env[f.name] = f
		for _, callee := range directCallees(f, Environment(registry)) {
			if g, ok := registry[callee]; ok {
				visit(g)
			}
		}
	}
	for _, f := range outputs {
		visit(f)
	}
	return env
}

// Register adds a function to the environment.
func (env Environment) Register(fs ...*Function) Environment {
	for _, f := range fs {
		env[f.name] = f
	}
	return env
}

// directCallees returns the function names f calls, including through
// its specializations and extern arguments. Call and extern-argument
// names absent from env are still returned; callers decide whether that
// is an error. A buffer-variable reference counts only when env holds
// its name.
func directCallees(f *Function, env Environment) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name != f.name && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	collect := func(n ir.Node) {
		ir.Walk(n, func(nd ir.Node) bool {
			switch v := nd.(type) {
			case *ir.Call:
				if v.Kind == ir.FuncCall {
					add(v.Name)
				}
			case *ir.Variable:
				if v.Binding.IsBuffer() && v.Binding.Name != "" {
					if env != nil {
						if _, ok := env[v.Binding.Name]; ok {
							add(v.Binding.Name)
						}
					}
				}
			}
			return true
		})
	}
	var collectDef func(d *Definition)
	collectDef = func(d *Definition) {
		for _, v := range d.Values {
			collect(v)
		}
		for _, a := range d.Args {
			collect(a)
		}
		if d.Predicate != nil {
			collect(d.Predicate)
		}
		if d.RDom != nil && d.RDom.Predicate != nil {
			collect(d.RDom.Predicate)
		}
		for _, s := range d.Specializations {
			if s.Condition != nil {
				collect(s.Condition)
			}
			if s.Definition != nil {
				collectDef(s.Definition)
			}
		}
	}
	if f.extern != nil {
		for _, a := range f.extern.Args {
			if a.FuncName != "" {
				add(a.FuncName)
			}
			if a.Expr != nil {
				collect(a.Expr)
			}
		}
	}
	for _, d := range f.Stages() {
		collectDef(d)
	}
	sort.Strings(out)
	return out
}

// Callees exposes the dependency edges of f restricted to env.
func Callees(f *Function, env Environment) []string {
	var out []string
	for _, c := range directCallees(f, env) {
		if _, ok := env[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// RealizationOrder partitions the environment into fused groups and
// orders them leaves-first. The order is deterministic: rank ties
// break by name. A dependency cycle outside a fused group is a user
// error.
func RealizationOrder(outputs []*Function, env Environment) (order []string, groups [][]string, err error) {
	// Union compute_with members into groups.
	parent := make(map[string]string, len(env))
	var find func(string) string
	find = func(x string) string {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	names := make([]string, 0, len(env))
	for name := range env {
		parent[name] = name
		names = append(names, name)
	}
	sort.Strings(names)
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			// Deterministic representative: smaller name wins.
			if ra < rb {
				parent[rb] = ra
			} else {
				parent[ra] = rb
			}
		}
	}
	for _, name := range names {
		f := env[name]
		for _, d := range f.Stages() {
			fl := d.Schedule.FuseLevel
			if !fl.IsInlined() && !fl.IsRoot() && fl.Func != "" {
				if _, ok := env[fl.Func]; !ok {
					return nil, nil, fmt.Errorf("pipeline: %s is computed with unknown function %s", name, fl.Func)
				}
				union(name, fl.Func)
			}
		}
	}

	members := make(map[string][]string)
	for _, name := range names {
		r := find(name)
		members[r] = append(members[r], name)
	}

	// Group-level DAG edges.
	edges := make(map[string]map[string]bool)
	for _, name := range names {
		r := find(name)
		if edges[r] == nil {
			edges[r] = make(map[string]bool)
		}
		for _, callee := range Callees(env[name], env) {
			cr := find(callee)
			if cr != r {
				edges[r][cr] = true
			}
		}
	}

	// Leaves-first DFS with cycle detection, visiting roots by name.
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int)
	var groupOrder []string
	var visit func(string, []string) error
	visit = func(r string, stack []string) error {
		switch color[r] {
		case black:
			return nil
		case grey:
			return fmt.Errorf("pipeline: dependency cycle involving %s", joinCycle(stack, r))
		}
		color[r] = grey
		callees := make([]string, 0, len(edges[r]))
		for c := range edges[r] {
			callees = append(callees, c)
		}
		sort.Strings(callees)
		for _, c := range callees {
			if err := visit(c, append(stack, r)); err != nil {
				return err
			}
		}
		color[r] = black
		groupOrder = append(groupOrder, r)
		return nil
	}
	roots := make([]string, 0, len(outputs))
	for _, f := range outputs {
		roots = append(roots, find(f.name))
	}
	sort.Strings(roots)
	for _, r := range roots {
		if err := visit(r, nil); err != nil {
			return nil, nil, err
		}
	}
	// Functions not reachable from any output are ordered too, for a
	// stable result on over-full environments.
	for _, name := range names {
		if err := visit(find(name), nil); err != nil {
			return nil, nil, err
		}
	}

	for _, r := range groupOrder {
		group := orderGroup(members[r], env)
		groups = append(groups, group)
		order = append(order, group...)
	}
	return order, groups, nil
}

// orderGroup orders a fused group so that each stage's fuse target
// precedes it; within ties, by name.
func orderGroup(group []string, env Environment) []string {
	sort.Strings(group)
	if len(group) == 1 {
		return group
	}
	inGroup := make(map[string]bool, len(group))
	for _, g := range group {
		inGroup[g] = true
	}
	visited := make(map[string]bool)
	var out []string
	var visit func(string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		for _, d := range env[name].Stages() {
			fl := d.Schedule.FuseLevel
			if fl.Func != "" && inGroup[fl.Func] {
				visit(fl.Func)
			}
		}
		out = append(out, name)
	}
	for _, g := range group {
		visit(g)
	}
	return out
}

func joinCycle(stack []string, last string) string {
	s := ""
	for _, x := range stack {
		s += x + " -> "
	}
	return s + last
}
