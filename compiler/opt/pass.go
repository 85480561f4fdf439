package opt

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/wind-language/wind-rewrite/compiler/ir"
)

type (
	// Pass rewrites a module in place.
	// Run reports whether anything was changed.
	Pass interface {
		Name() string
		Run(ctx context.Context, m *ir.Module) (bool, error)
	}

	// Manager runs passes to a fixpoint bounded by MaxRounds.
	Manager struct {
		Passes    []Pass
		MaxRounds int
	}

	UnknownPassError struct {
		Name string
	}
)

const MaxRounds = 10

func NewManager(passes ...Pass) *Manager {
	return &Manager{
		Passes:    passes,
		MaxRounds: MaxRounds,
	}
}

// New builds a manager from pass names: fold, dce, strength.
func New(names ...string) (*Manager, error) {
	m := NewManager()

	for _, name := range names {
		var p Pass

		switch name {
		case "fold":
			p = ConstantFolding{}
		case "dce":
			p = DeadCode{}
		case "strength":
			p = NewStrengthReduction()
		default:
			return nil, UnknownPassError{Name: name}
		}

		m.Add(p)
	}

	return m, nil
}

func Default() *Manager {
	m, err := New("fold", "dce", "strength")
	if err != nil {
		panic(err)
	}

	return m
}

func (m *Manager) Add(p Pass) {
	m.Passes = append(m.Passes, p)
}

// RunAll runs every pass once per round until a round changes nothing
// or MaxRounds rounds were run.
func (m *Manager) RunAll(ctx context.Context, mod *ir.Module) (rounds int, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "opt: run passes", "passes", len(m.Passes))
	defer tr.Finish("rounds", &rounds, "err", &err)

	max := m.MaxRounds
	if max <= 0 || max > MaxRounds {
		max = MaxRounds
	}

	for rounds < max {
		rounds++

		changed := false

		for _, p := range m.Passes {
			c, err := p.Run(ctx, mod)
			if err != nil {
				return rounds, errors.Wrap(err, "pass %v", p.Name())
			}

			if tr.If("opt_pass") {
				tr.Printw("pass done", "round", rounds, "pass", p.Name(), "changed", c)
			}

			changed = changed || c
		}

		if !changed {
			break
		}
	}

	return rounds, nil
}

func (e UnknownPassError) Error() string {
	return fmt.Sprintf("unknown pass: %v", e.Name)
}

// rewriteBody applies f to the top-level expression of every statement.
func rewriteBody(f *ir.Function, rw func(ir.Expr) (ir.Expr, bool, error)) (changed bool, err error) {
	for i, s := range f.Body {
		switch s := s.(type) {
		case ir.ExprStmt:
			x, c, err := rw(s.X)
			if err != nil {
				return changed, err
			}

			if c {
				f.Body[i] = ir.ExprStmt{X: x}
				changed = true
			}
		case ir.Return:
			x, c, err := rw(s.X)
			if err != nil {
				return changed, err
			}

			if c {
				f.Body[i] = ir.Return{X: x}
				changed = true
			}
		default:
			panic(s)
		}
	}

	return changed, nil
}
