package compiler

import (
	"bytes"
	"context"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/wind-language/wind-rewrite/compiler/asm"
	"github.com/wind-language/wind-rewrite/compiler/ir"
	"github.com/wind-language/wind-rewrite/compiler/lower"
	"github.com/wind-language/wind-rewrite/compiler/obj"
	"github.com/wind-language/wind-rewrite/compiler/opt"
)

// ReadFile decodes an IR module file.
func ReadFile(ctx context.Context, name string) (*ir.Module, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	m, err := ir.DecodeModule(bytes.NewReader(text))
	if err != nil {
		return nil, errors.Wrap(err, "decode %v", name)
	}

	return m, nil
}

func CompileFile(ctx context.Context, name string, cfg Config) (data []byte, err error) {
	m, err := ReadFile(ctx, name)
	if err != nil {
		return nil, err
	}

	return Compile(ctx, m, cfg)
}

// Compile optimizes m in place and returns an ELF relocatable object.
func Compile(ctx context.Context, m *ir.Module, cfg Config) (data []byte, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile module", "funcs", len(m.Functions))
	defer tr.Finish("err", &err)

	_, err = Optimize(ctx, m, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "optimize")
	}

	b := asm.New()

	err = lower.New(cfg.Lower).CompileModule(ctx, b, m)
	if err != nil {
		return nil, errors.Wrap(err, "lower")
	}

	err = b.Finalize(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "finalize")
	}

	data, err = obj.Write(ctx, b)
	if err != nil {
		return nil, errors.Wrap(err, "write object")
	}

	return data, nil
}

// Optimize runs the configured passes over m.
func Optimize(ctx context.Context, m *ir.Module, cfg Config) (rounds int, err error) {
	mgr, err := opt.New(cfg.Opt.Passes...)
	if err != nil {
		return 0, err
	}

	if cfg.Opt.MaxRounds != 0 {
		mgr.MaxRounds = cfg.Opt.MaxRounds
	}

	return mgr.RunAll(ctx, m)
}
