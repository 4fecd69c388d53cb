package ir

import (
	"fmt"
	"strings"
)

// PrintExpr renders an expression in a compact infix form.
func PrintExpr(e Expr) string {
	var b strings.Builder
	writeExpr(&b, e)
	return b.String()
}

// PrintStmt renders a statement tree with two-space indentation.
func PrintStmt(s Stmt) string {
	var p printer
	p.stmt(s)
	return p.b.String()
}

func writeBinary(b *strings.Builder, op string, x, y Expr) {
	b.WriteString("(")
	writeExpr(b, x)
	b.WriteString(" " + op + " ")
	writeExpr(b, y)
	b.WriteString(")")
}

func writeExpr(b *strings.Builder, e Expr) {
	switch v := e.(type) {
	case *IntImm:
		fmt.Fprintf(b, "%d", v.Value)
	case *UIntImm:
		if v.T.IsBool() {
			if v.Value != 0 {
				b.WriteString("true")
			} else {
				b.WriteString("false")
			}
			return
		}
		fmt.Fprintf(b, "%d", v.Value)
	case *FloatImm:
		fmt.Fprintf(b, "%gf", v.Value)
	case *StringImm:
		fmt.Fprintf(b, "%q", v.Value)
	case *Variable:
		b.WriteString(v.Name)
	case *Cast:
		fmt.Fprintf(b, "%s(", v.T)
		writeExpr(b, v.Value)
		b.WriteString(")")
	case *Reinterpret:
		fmt.Fprintf(b, "reinterpret<%s>(", v.T)
		writeExpr(b, v.Value)
		b.WriteString(")")
	case *Add:
		writeBinary(b, "+", v.A, v.B)
	case *Sub:
		writeBinary(b, "-", v.A, v.B)
	case *Mul:
		writeBinary(b, "*", v.A, v.B)
	case *Div:
		writeBinary(b, "/", v.A, v.B)
	case *Mod:
		writeBinary(b, "%", v.A, v.B)
	case *Min:
		b.WriteString("min(")
		writeExpr(b, v.A)
		b.WriteString(", ")
		writeExpr(b, v.B)
		b.WriteString(")")
	case *Max:
		b.WriteString("max(")
		writeExpr(b, v.A)
		b.WriteString(", ")
		writeExpr(b, v.B)
		b.WriteString(")")
	case *EQ:
		writeBinary(b, "==", v.A, v.B)
	case *NE:
		writeBinary(b, "!=", v.A, v.B)
	case *LT:
		writeBinary(b, "<", v.A, v.B)
	case *LE:
		writeBinary(b, "<=", v.A, v.B)
	case *GT:
		writeBinary(b, ">", v.A, v.B)
	case *GE:
		writeBinary(b, ">=", v.A, v.B)
	case *And:
		writeBinary(b, "&&", v.A, v.B)
	case *Or:
		writeBinary(b, "||", v.A, v.B)
	case *Not:
		b.WriteString("!")
		writeExpr(b, v.A)
	case *Select:
		b.WriteString("select(")
		writeExpr(b, v.Cond)
		b.WriteString(", ")
		writeExpr(b, v.TrueValue)
		b.WriteString(", ")
		writeExpr(b, v.FalseValue)
		b.WriteString(")")
	case *Load:
		fmt.Fprintf(b, "%s[", v.Name)
		writeExpr(b, v.Index)
		b.WriteString("]")
		if !IsConstTrue(v.Predicate) {
			b.WriteString(" if ")
			writeExpr(b, v.Predicate)
		}
	case *Ramp:
		b.WriteString("ramp(")
		writeExpr(b, v.Base)
		b.WriteString(", ")
		writeExpr(b, v.Stride)
		fmt.Fprintf(b, ", %d)", v.Lanes)
	case *Broadcast:
		b.WriteString("x")
		fmt.Fprintf(b, "%d(", v.Lanes)
		writeExpr(b, v.Value)
		b.WriteString(")")
	case *Shuffle:
		b.WriteString("shuffle({")
		for i, vec := range v.Vectors {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(b, vec)
		}
		b.WriteString("}, {")
		for i, idx := range v.Indices {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "%d", idx)
		}
		b.WriteString("})")
	case *VectorReduce:
		fmt.Fprintf(b, "vector_reduce(%s, ", v.Op)
		writeExpr(b, v.Value)
		fmt.Fprintf(b, ", %d)", v.Lanes)
	case *Let:
		fmt.Fprintf(b, "(let %s = ", v.Name)
		writeExpr(b, v.Value)
		b.WriteString(" in ")
		writeExpr(b, v.Body)
		b.WriteString(")")
	case *Call:
		b.WriteString(v.Name)
		if v.ValueIndex != 0 {
			fmt.Fprintf(b, ".%d", v.ValueIndex)
		}
		b.WriteString("(")
		for i, a := range v.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(b, a)
		}
		b.WriteString(")")
	default:
		fmt.Fprintf(b, "<%T>", e)
	}
}

type printer struct {
	b      strings.Builder
	indent int
}

func (p *printer) line(format string, args ...any) {
	p.b.WriteString(strings.Repeat("  ", p.indent))
	fmt.Fprintf(&p.b, format, args...)
	p.b.WriteString("\n")
}

func (p *printer) stmt(s Stmt) {
	if s == nil {
		return
	}
	switch v := s.(type) {
	case *LetStmt:
		p.line("let %s = %s", v.Name, PrintExpr(v.Value))
		p.stmt(v.Body)
	case *AssertStmt:
		p.line("assert(%s, %s)", PrintExpr(v.Condition), PrintExpr(v.Message))
	case *ProducerConsumer:
		if v.IsProducer {
			p.line("produce %s {", v.Name)
		} else {
			p.line("consume %s {", v.Name)
		}
		p.indent++
		p.stmt(v.Body)
		p.indent--
		p.line("}")
	case *For:
		kind := v.ForType.String()
		p.line("%s %s in [%s, %s + %s) {", kind, v.Name,
			PrintExpr(v.Min), PrintExpr(v.Min), PrintExpr(v.Extent))
		p.indent++
		p.stmt(v.Body)
		p.indent--
		p.line("}")
	case *Store:
		suffix := ""
		if !IsConstTrue(v.Predicate) {
			suffix = " if " + PrintExpr(v.Predicate)
		}
		p.line("%s[%s] = %s%s", v.Name, PrintExpr(v.Index), PrintExpr(v.Value), suffix)
	case *Provide:
		vals := make([]string, len(v.Values))
		for i, val := range v.Values {
			vals[i] = PrintExpr(val)
		}
		args := make([]string, len(v.Args))
		for i, a := range v.Args {
			args[i] = PrintExpr(a)
		}
		suffix := ""
		if !IsConstTrue(v.Predicate) {
			suffix = " if " + PrintExpr(v.Predicate)
		}
		p.line("%s(%s) = {%s}%s", v.Name, strings.Join(args, ", "), strings.Join(vals, ", "), suffix)
	case *Allocate:
		exts := make([]string, len(v.Extents))
		for i, e := range v.Extents {
			exts[i] = PrintExpr(e)
		}
		cond := ""
		if !IsConstTrue(v.Condition) {
			cond = " if " + PrintExpr(v.Condition)
		}
		p.line("allocate %s[%s * %s]%s", v.Name, v.T, strings.Join(exts, " * "), cond)
		p.stmt(v.Body)
	case *Free:
		p.line("free %s", v.Name)
	case *Realize:
		bounds := make([]string, len(v.Bounds))
		for i, r := range v.Bounds {
			bounds[i] = fmt.Sprintf("[%s, %s)", PrintExpr(r.Min), PrintExpr(r.Extent))
		}
		cond := ""
		if !IsConstTrue(v.Condition) {
			cond = " if " + PrintExpr(v.Condition)
		}
		p.line("realize %s(%s)%s {", v.Name, strings.Join(bounds, ", "), cond)
		p.indent++
		p.stmt(v.Body)
		p.indent--
		p.line("}")
	case *Block:
		p.stmt(v.First)
		p.stmt(v.Rest)
	case *Fork:
		p.line("fork {")
		p.indent++
		p.stmt(v.First)
		p.indent--
		p.line("} and {")
		p.indent++
		p.stmt(v.Rest)
		p.indent--
		p.line("}")
	case *IfThenElse:
		p.line("if (%s) {", PrintExpr(v.Condition))
		p.indent++
		p.stmt(v.Then)
		p.indent--
		if v.Else != nil {
			p.line("} else {")
			p.indent++
			p.stmt(v.Else)
			p.indent--
		}
		p.line("}")
	case *Evaluate:
		p.line("%s", PrintExpr(v.Value))
	case *Prefetch:
		bounds := make([]string, len(v.Bounds))
		for i, r := range v.Bounds {
			bounds[i] = fmt.Sprintf("[%s, %s)", PrintExpr(r.Min), PrintExpr(r.Extent))
		}
		p.line("prefetch %s(%s) {", v.Name, strings.Join(bounds, ", "))
		p.indent++
		p.stmt(v.Body)
		p.indent--
		p.line("}")
	case *Atomic:
		if v.MutexName == "" {
			p.line("atomic (%s) {", v.ProducerName)
		} else {
			p.line("atomic (%s, %s) {", v.ProducerName, v.MutexName)
		}
		p.indent++
		p.stmt(v.Body)
		p.indent--
		p.line("}")
	case *Acquire:
		p.line("acquire (%s, %s) {", PrintExpr(v.Semaphore), PrintExpr(v.Count))
		p.indent++
		p.stmt(v.Body)
		p.indent--
		p.line("}")
	default:
		p.line("<%T>", s)
	}
}
