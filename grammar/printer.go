package grammar

import (
	"fmt"
	"strings"
)

func (p *Program) String() string {
	var b strings.Builder
	for _, s := range p.Statements {
		b.WriteString(s.String())
		b.WriteString("\n")
	}
	return b.String()
}

func (s *Statement) String() string {
	switch {
	case s.Comment != nil:
		return s.Comment.Text
	case s.Func != nil:
		return s.Func.String()
	case s.Directive != nil:
		return s.Directive.String()
	case s.Realize != nil:
		return s.Realize.String()
	}
	return ""
}

func (f *FuncDef) String() string {
	return fmt.Sprintf("func %s(%s) = %s", f.Name, strings.Join(f.Params, ", "), f.Body)
}

func (d *Directive) String() string {
	args := make([]string, len(d.Args))
	for i, a := range d.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s.%s(%s)", d.Func, d.Name, strings.Join(args, ", "))
}

func (a *Arg) String() string {
	if a.Ident != nil {
		return *a.Ident
	}
	return fmt.Sprintf("%d", *a.Number)
}

func (r *Realize) String() string {
	sizes := make([]string, len(r.Sizes))
	for i, s := range r.Sizes {
		sizes[i] = fmt.Sprintf("%d", s)
	}
	return fmt.Sprintf("realize %s(%s)", r.Name, strings.Join(sizes, ", "))
}

func (e *Expr) String() string {
	var b strings.Builder
	b.WriteString(e.Left.String())
	for _, op := range e.Ops {
		fmt.Fprintf(&b, " %s %s", op.Operator, op.Right)
	}
	return b.String()
}

func (u *Unary) String() string {
	return u.Operator + u.Value.String()
}

func (p *Primary) String() string {
	switch {
	case p.Call != nil:
		return p.Call.String()
	case p.Float != nil:
		return fmt.Sprintf("%g", *p.Float)
	case p.Number != nil:
		return fmt.Sprintf("%d", *p.Number)
	case p.Ident != nil:
		return *p.Ident
	case p.Parens != nil:
		return "(" + p.Parens.String() + ")"
	}
	return ""
}

func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", c.Name, strings.Join(args, ", "))
}
