package compiler

import (
	"bytes"
	"context"
	"debug/elf"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wind-language/wind-rewrite/compiler/ir"
	"github.com/wind-language/wind-rewrite/compiler/opt"
)

func testModule(t *testing.T) *ir.Module {
	t.Helper()

	m := ir.NewModule()

	twice := ir.NewFunction("twice", []ir.Param{{Name: "x", Type: ir.U32}}, ir.U32, 0, []ir.Statement{
		ir.Return{X: ir.NewBinary(ir.Mul, ir.Local{Offset: -8, Type: ir.U32}, ir.Int(2))},
	})

	main := ir.NewFunction("main", nil, ir.U32, ir.NoMangle, nil)

	require.NoError(t, m.Push(twice))
	require.NoError(t, m.Push(main))

	call, err := m.ResolveCall("twice", []ir.Expr{ir.Int(21)})
	require.NoError(t, err)

	main.Body = []ir.Statement{
		ir.ExprStmt{X: ir.NewBinary(ir.Add, ir.Int(20), ir.Int(1))},
		ir.Return{X: call},
		ir.ExprStmt{X: ir.Int(8)},
	}

	return m
}

func TestCompile(t *testing.T) {
	ctx := context.Background()

	m := testModule(t)

	data, err := Compile(ctx, m, DefaultConfig())
	require.NoError(t, err)

	main, ok := m.Lookup("main")
	require.True(t, ok)
	require.Len(t, main.Body, 1)

	twice := m.Funcs()[0]
	ret := twice.Body[0].(ir.Return)
	assert.True(t, ir.ExprEqual(ir.NewBinary(ir.Shl, ir.Local{Offset: -8, Type: ir.U32}, ir.Int(1)), ret.X), "%v", ret.X)

	f, err := elf.NewFile(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, elf.ET_REL, f.Type)
	assert.Nil(t, f.Section(".rela.text"), "internal call is patched in place")

	syms, err := f.Symbols()
	require.NoError(t, err)

	byName := map[string]elf.Symbol{}
	for _, s := range syms {
		byName[s.Name] = s
	}

	require.Contains(t, byName, "main")
	require.Contains(t, byName, twice.Mangled)

	assert.Equal(t, elf.STB_GLOBAL, elf.ST_BIND(byName["main"].Info))
	assert.Equal(t, elf.STB_LOCAL, elf.ST_BIND(byName[twice.Mangled].Info))
	assert.Equal(t, elf.STT_FUNC, elf.ST_TYPE(byName["main"].Info))
}

func TestCompileMagicDivision(t *testing.T) {
	ctx := context.Background()

	for _, typ := range []ir.DataType{ir.U8, ir.U16} {
		m := ir.NewModule()

		f := ir.NewFunction("div3", []ir.Param{{Name: "x", Type: typ}}, typ, ir.NoMangle, []ir.Statement{
			ir.Return{X: ir.NewBinary(ir.Div, ir.Local{Offset: -8, Type: typ}, ir.Int(3))},
		})
		require.NoError(t, m.Push(f))

		_, err := Compile(ctx, m, DefaultConfig())
		require.NoError(t, err)

		x := f.Body[0].(ir.Return).X

		shr, ok := x.(*ir.Binary)
		require.True(t, ok, "%v", x)
		require.Equal(t, ir.Shr, shr.Op)
		require.True(t, shr.L.(*ir.Binary).Wide)

		for v := uint64(0); v < 1<<(8*typ.Size()); v++ {
			q, err := ir.Eval(x, map[int16]uint64{-8: v})
			require.NoError(t, err)

			if !assert.Equal(t, v/3, q, "%v: %d / 3", typ, v) {
				break
			}
		}
	}
}

func TestCompileFile(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, ir.EncodeModule(&buf, testModule(t)))

	dir := t.TempDir()
	name := filepath.Join(dir, "prog.ir")

	require.NoError(t, os.WriteFile(name, buf.Bytes(), 0o644))

	cfg := DefaultConfig()
	cfg.Lower.ExportAll = true

	data, err := CompileFile(ctx, name, cfg)
	require.NoError(t, err)

	f, err := elf.NewFile(bytes.NewReader(data))
	require.NoError(t, err)

	syms, err := f.Symbols()
	require.NoError(t, err)

	globals := 0
	for _, s := range syms {
		if elf.ST_BIND(s.Info) == elf.STB_GLOBAL {
			globals++
		}
	}

	assert.Equal(t, 2, globals)

	_, err = CompileFile(ctx, filepath.Join(dir, "missing.ir"), cfg)
	assert.Error(t, err)
}

func TestOptimizeConfig(t *testing.T) {
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.Opt.Passes = []string{"fold"}

	m := testModule(t)

	rounds, err := Optimize(ctx, m, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, rounds)

	main, _ := m.Lookup("main")
	assert.Len(t, main.Body, 3, "no dce configured")

	cfg.Opt.Passes = []string{"fold", "inline"}

	_, err = Optimize(ctx, m, cfg)
	assert.ErrorAs(t, err, &opt.UnknownPassError{})
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(`
[opt]
passes = ["dce"]
max_rounds = 3

[lower]
rodata_section = ".rodata.str"
export_all = true
`)
	require.NoError(t, err)

	assert.Equal(t, []string{"dce"}, cfg.Opt.Passes)
	assert.Equal(t, 3, cfg.Opt.MaxRounds)
	assert.Equal(t, ".text", cfg.Lower.TextSection)
	assert.Equal(t, ".rodata.str", cfg.Lower.RodataSection)
	assert.True(t, cfg.Lower.ExportAll)

	_, err = ParseConfig("[opt]\npass = 1\n")
	assert.Error(t, err)

	_, err = ParseConfig("[opt\n")
	assert.Error(t, err)

	name := filepath.Join(t.TempDir(), "gale.toml")
	require.NoError(t, os.WriteFile(name, []byte("[lower]\ntext_section = \".text.gale\"\n"), 0o644))

	cfg, err = LoadConfig(name)
	require.NoError(t, err)
	assert.Equal(t, ".text.gale", cfg.Lower.TextSection)
	assert.Equal(t, []string{"fold", "dce", "strength"}, cfg.Opt.Passes)
}
