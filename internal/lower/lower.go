// Package lower turns a declarative pipeline of lattice functions plus
// their schedules into a single imperative loop-nest statement ready
// for a backend code generator.
package lower

import (
	"fmt"

	"github.com/tliron/commonlog"

	"raster/internal/ir"
	"raster/internal/pipeline"
	"raster/internal/target"
)

var log = commonlog.GetLogger("raster.lower")

// Options adjusts a lowering run.
type Options struct {
	Target target.Target
	// OutputBounds pins output regions to concrete ranges; without an
	// entry, an output's region comes from its buffer descriptor.
	OutputBounds map[string]ir.Region
	// BufferParams declares constraints and alignment requirements on
	// externally supplied buffers.
	BufferParams map[string]*BufferParam
}

// Result is the contract handed to the backend: the lowered statement
// together with the realization order, the environment, the output
// buffers, and the target.
type Result struct {
	Name    string
	Stmt    ir.Stmt
	Order   []string
	Groups  [][]string
	Env     pipeline.Environment
	Outputs []string
	Target  target.Target
}

func tracePass(name string, s ir.Stmt) {
	log.Debugf("after %s:\n%s", name, ir.PrintStmt(s))
}

// Lower runs the lowering pipeline over the outputs. Passes run
// leaves-first per the realization order; each consumes and produces a
// statement tree. User errors abort with a diagnostic; internal
// invariant violations panic.
func Lower(name string, outputs []*pipeline.Function, env pipeline.Environment, opts Options) (*Result, error) {
	tgt := opts.Target
	if tgt.Bits == 0 {
		tgt = target.Host()
	}
	log.Infof("lowering pipeline %s for %s", name, tgt)

	for _, f := range outputs {
		if _, ok := env[f.Name()]; !ok {
			env.Register(f)
		}
	}

	order, groups, err := pipeline.RealizationOrder(outputs, env)
	if err != nil {
		return nil, err
	}
	log.Debugf("realization order: %v", order)

	s, err := ScheduleFunctions(outputs, groups, env, tgt)
	if err != nil {
		return nil, err
	}
	tracePass("schedule_functions", s)

	s, err = InferBounds(s, outputs, env, opts.OutputBounds)
	if err != nil {
		return nil, err
	}
	tracePass("bounds_inference", s)

	s, err = AddImageChecks(s, outputs, env, opts.BufferParams, tgt)
	if err != nil {
		return nil, err
	}
	tracePass("add_image_checks", s)

	s = SkipStages(s, order)
	tracePass("skip_stages", s)

	s, err = FoldStorage(s, env)
	if err != nil {
		return nil, err
	}
	tracePass("storage_folding", s)

	s = UnifyDuplicateLets(s)
	tracePass("unify_duplicate_lets", s)

	s = RemoveUndef(s)
	tracePass("remove_undef", s)

	s = FlattenStorage(s, outputs, env)
	tracePass("storage_flattening", s)

	s, err = VectorizeLoops(s, env)
	if err != nil {
		return nil, err
	}
	tracePass("vectorize_loops", s)

	s = ir.SimplifyStmt(s)
	tracePass("final_simplify", s)

	if err := sanityCheck(s, env); err != nil {
		panic(err)
	}

	outNames := make([]string, len(outputs))
	for i, f := range outputs {
		outNames[i] = f.Name()
	}
	return &Result{
		Name:    name,
		Stmt:    s,
		Order:   order,
		Groups:  groups,
		Env:     env,
		Outputs: outNames,
		Target:  tgt,
	}, nil
}

// sanityCheck verifies that no Realize survives for a function that
// was inlined away and that no Provide survives storage flattening;
// either is an internal error in the pass pipeline.
func sanityCheck(s ir.Stmt, env pipeline.Environment) error {
	var bad error
	ir.Walk(s, func(n ir.Node) bool {
		switch v := n.(type) {
		case *ir.Realize:
			if f, ok := env[v.Name]; ok && f.CanBeInlined() {
				bad = fmt.Errorf("lower: inlined function %s still has a Realize", v.Name)
			}
		case *ir.Provide:
			bad = fmt.Errorf("lower: Provide for %s survived storage flattening", v.Name)
		}
		return bad == nil
	})
	return bad
}
