package opt

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/wind-language/wind-rewrite/compiler/ir"
	"github.com/wind-language/wind-rewrite/compiler/set"
)

type (
	// DeadCode drops statements without effects and everything after the first return.
	DeadCode struct{}
)

func (DeadCode) Name() string { return "dce" }

func (p DeadCode) Run(ctx context.Context, m *ir.Module) (changed bool, err error) {
	tr := tlog.SpanFromContext(ctx)

	for _, f := range m.Funcs() {
		live := liveStatements(f.Body)

		if live.Size() == len(f.Body) {
			continue
		}

		if tr.If("opt_dce") {
			tr.Printw("dropped statements", "func", f.Metadata, "live", live, "total", len(f.Body))
		}

		body := make([]ir.Statement, 0, live.Size())

		live.Range(func(i int) bool {
			body = append(body, f.Body[i])
			return true
		})

		f.Body = body
		changed = true
	}

	return changed, nil
}

func liveStatements(body []ir.Statement) set.Bitmap {
	live := set.MakeBitmap(len(body))

	for i, s := range body {
		switch s := s.(type) {
		case ir.Return:
			live.Set(i)
			return live
		case ir.ExprStmt:
			if ir.HasSideEffects(s.X) {
				live.Set(i)
			}
		default:
			live.Set(i)
		}
	}

	return live
}
