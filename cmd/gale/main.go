package main

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/wind-language/wind-rewrite/compiler"
	"github.com/wind-language/wind-rewrite/compiler/format"
)

var errColor = color.New(color.FgRed, color.Bold)

func main() {
	compileCmd := &cli.Command{
		Name:        "compile",
		Description: "compile ir modules into elf relocatable objects",
		Action:      compileAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("output,o", "", "output file, only for a single input"),
			cli.NewFlag("config,c", "", "toml config file"),
			cli.NewFlag("jobs,j", runtime.GOMAXPROCS(0), "files compiled in parallel"),
		},
	}

	dumpCmd := &cli.Command{
		Name:        "dump",
		Description: "print ir module",
		Action:      dumpAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("opt", false, "run optimization passes first"),
			cli.NewFlag("config,c", "", "toml config file"),
		},
	}

	app := &cli.Command{
		Name:        "gale",
		Description: "gale is an ahead-of-time compiler backend for x86-64",
		Commands: []*cli.Command{
			compileCmd,
			dumpCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func compileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	if len(c.Args) == 0 {
		return errors.New("no input files")
	}

	out := c.String("output")
	if out != "" && len(c.Args) > 1 {
		return errors.New("--output with %d input files", len(c.Args))
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, c.Int("jobs")))

	for _, a := range c.Args {
		a := a
		name := out
		if name == "" {
			name = objName(a)
		}

		g.Go(func() error {
			err := compileOne(gctx, a, name, cfg)
			if err != nil {
				errColor.Fprintf(os.Stderr, "%v: %v\n", a, err)
			}

			return err
		})
	}

	return g.Wait()
}

func compileOne(ctx context.Context, in, out string, cfg compiler.Config) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile file", "in", in, "out", out)
	defer tr.Finish("err", &err)

	data, err := compiler.CompileFile(ctx, in, cfg)
	if err != nil {
		return errors.Wrap(err, "compile %v", in)
	}

	err = os.WriteFile(out, data, 0o644)
	if err != nil {
		return errors.Wrap(err, "write %v", out)
	}

	return nil
}

func dumpAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	for _, a := range c.Args {
		m, err := compiler.ReadFile(ctx, a)
		if err != nil {
			return errors.Wrap(err, "dump %v", a)
		}

		if c.Bool("opt") {
			rounds, err := compiler.Optimize(ctx, m, cfg)
			if err != nil {
				return errors.Wrap(err, "optimize %v", a)
			}

			tlog.Printw("optimized", "file", a, "rounds", rounds)
		}

		b, err := format.Format(ctx, nil, m)
		if err != nil {
			return errors.Wrap(err, "format %v", a)
		}

		_, err = os.Stdout.Write(b)
		if err != nil {
			return errors.Wrap(err, "write")
		}
	}

	return nil
}

func loadConfig(c *cli.Command) (compiler.Config, error) {
	name := c.String("config")
	if name == "" {
		return compiler.DefaultConfig(), nil
	}

	return compiler.LoadConfig(name)
}

// objName replaces the input extension with .o.
func objName(in string) string {
	return strings.TrimSuffix(in, filepath.Ext(in)) + ".o"
}
