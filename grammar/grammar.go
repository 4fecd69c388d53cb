// Package grammar defines the textual pipeline-description format the
// raster CLI and integration tests use: one declarative func per line,
// schedule directives, and a realize line naming the output.
package grammar

type Program struct {
	Statements []*Statement `@@*`
}

type Statement struct {
	Comment   *Comment   `  @@`
	Func      *FuncDef   `| @@`
	Realize   *Realize   `| @@`
	Directive *Directive `| @@`
}

type Comment struct {
	Text string `@Comment`
}

// FuncDef is a declarative definition: func f(x, y) = <expr>.
type FuncDef struct {
	Name   string   `"func" @Ident "("`
	Params []string `[ @Ident { "," @Ident } ] ")"`
	Body   *Expr    `"=" @@`
}

// Directive attaches one schedule directive to a function, e.g.
// g.compute_at(f, x) or f.vectorize(x, 4).
type Directive struct {
	Func string `@Ident "."`
	Name string `@Ident "("`
	Args []*Arg `[ @@ { "," @@ } ] ")"`
}

// Arg is either an identifier (a var or func name) or an integer.
type Arg struct {
	Ident  *string `  @Ident`
	Number *int64  `| @Integer`
}

// Realize names the pipeline output and its concrete extent per dim.
type Realize struct {
	Name  string  `"realize" @Ident "("`
	Sizes []int64 `[ @Integer { "," @Integer } ] ")"`
}

type Expr struct {
	Left *Unary   `@@`
	Ops  []*BinOp `{ @@ }`
}

type BinOp struct {
	Operator string `@("||" | "&&" | "==" | "!=" | "<=" | ">=" | "<" | ">" | "+" | "-" | "*" | "/" | "%")`
	Right    *Unary `@@`
}

type Unary struct {
	Operator string   `[ @("-" | "!") ]`
	Value    *Primary `@@`
}

type Primary struct {
	Call   *Call    `  @@`
	Float  *float64 `| @Float`
	Number *int64   `| @Integer`
	Ident  *string  `| @Ident`
	Parens *Expr    `| "(" @@ ")"`
}

// Call covers both references to other funcs, input images, and the
// builtin operations (min, max, select).
type Call struct {
	Name string  `@Ident "("`
	Args []*Expr `[ @@ { "," @@ } ] ")"`
}
