package lower

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wind-language/wind-rewrite/compiler/asm"
	"github.com/wind-language/wind-rewrite/compiler/ir"
	"github.com/wind-language/wind-rewrite/compiler/opt"
)

func compile(t *testing.T, cfg Config, fs ...*ir.Function) *asm.Builder {
	t.Helper()

	ctx := context.Background()

	m := ir.NewModule()
	for _, f := range fs {
		require.NoError(t, m.Push(f))
	}

	b := asm.New()

	require.NoError(t, New(cfg).CompileModule(ctx, b, m))
	require.NoError(t, b.Finalize(ctx))

	return b
}

func TestReturnConstant(t *testing.T) {
	f := ir.NewFunction("main", nil, ir.I32, ir.NoMangle, []ir.Statement{
		ir.Return{X: ir.Int(42)},
	})

	b := compile(t, Config{}, f)

	exp := []byte{
		0x55,                         // push rbp
		0x48, 0x89, 0xe5,             // mov rbp, rsp
		0xb8, 0x2a, 0x00, 0x00, 0x00, // mov eax, 42
		0x48, 0x89, 0xec,             // mov rsp, rbp
		0x5d,                         // pop rbp
		0xc3,                         // ret
	}

	assert.Equal(t, exp, b.Section(".text").Code())

	l, _ := b.Label("main")
	require.NotNil(t, l)
	assert.True(t, l.Global)
}

func TestArgsAndBinary(t *testing.T) {
	a := ir.Local{Offset: -8, Type: ir.I32}
	c := ir.Local{Offset: -16, Type: ir.I32}

	f := ir.NewFunction("add", []ir.Param{{Name: "a", Type: ir.I32}, {Name: "b", Type: ir.I32}}, ir.I32, 0, []ir.Statement{
		ir.Return{X: ir.NewBinary(ir.Add, a, c)},
	})

	b := compile(t, Config{}, f)

	exp := []byte{
		0x55,
		0x48, 0x89, 0xe5,
		0x48, 0x81, 0xec, 0x10, 0x00, 0x00, 0x00, // sub rsp, 16
		0x48, 0x89, 0x7d, 0xf8,                   // mov [rbp-8], rdi
		0x48, 0x89, 0x75, 0xf0,                   // mov [rbp-16], rsi
		0x48, 0x63, 0x45, 0xf8,                   // movsxd rax, [rbp-8]
		0x50,                                     // push rax
		0x48, 0x63, 0x45, 0xf0,                   // movsxd rax, [rbp-16]
		0x48, 0x89, 0xc1,                         // mov rcx, rax
		0x58,                                     // pop rax
		0x48, 0x01, 0xc8,                         // add rax, rcx
		0x48, 0x63, 0xc0,                         // movsxd rax, eax
		0x48, 0x89, 0xec,
		0x5d,
		0xc3,
	}

	assert.Equal(t, exp, b.Section(".text").Code())

	l, _ := b.Label(f.Mangled)
	require.NotNil(t, l)
	assert.False(t, l.Global)

	b = compile(t, Config{ExportAll: true}, f)

	l, _ = b.Label(f.Mangled)
	assert.True(t, l.Global)
}

func TestExternCallWithString(t *testing.T) {
	puts := ir.NewFunction("puts", []ir.Param{{Name: "s", Type: ir.Pointer{Target: ir.U8}}}, ir.I32, ir.NoMangle, nil)

	main := ir.NewFunction("main", nil, ir.I32, ir.NoMangle, []ir.Statement{
		ir.ExprStmt{X: &ir.Call{Callee: puts.Signature.Clone(), Args: []ir.Expr{ir.Str("hi")}}},
		ir.Return{X: ir.Int(0)},
	})

	b := compile(t, Config{}, main)

	assert.Equal(t, []string{"puts"}, b.Externs)
	assert.Equal(t, []byte("hi\x00"), b.Section(".rodata").Code())

	assert.Equal(t, []asm.Reloc{
		{Section: ".text", Symbol: ".str.0", Offset: 7, Addend: -4},
		{Section: ".text", Symbol: "puts", Offset: 14, Addend: -4},
	}, b.Relocs)

	code := b.Section(".text").Code()

	assert.Equal(t, []byte{0x48, 0x8d, 0x05}, code[4:7], "lea rax, [rip+str]")
	assert.Equal(t, []byte{0x50, 0x5f, 0xe8}, code[11:14], "push rax; pop rdi; call")
}

func TestInternalCallPatched(t *testing.T) {
	one := ir.NewFunction("one", nil, ir.U64, 0, []ir.Statement{
		ir.Return{X: ir.Int(1)},
	})

	main := ir.NewFunction("main", nil, ir.U64, ir.NoMangle, []ir.Statement{
		ir.Return{X: &ir.Call{Callee: one.Signature.Clone()}},
	})

	b := compile(t, Config{}, one, main)

	assert.Empty(t, b.Externs)
	assert.Empty(t, b.Relocs)
}

func TestCallAlignment(t *testing.T) {
	ext := ir.NewFunction("ext", nil, ir.U64, ir.NoMangle, nil)

	x := ir.Local{Offset: -8, Type: ir.U64}

	f := ir.NewFunction("f", nil, ir.U64, ir.NoMangle, []ir.Statement{
		ir.Return{X: ir.NewBinary(ir.Add, x, &ir.Call{Callee: ext.Signature.Clone()})},
	})

	b := compile(t, Config{}, f)
	code := b.Section(".text").Code()

	// one temporary on the stack: pad before the call, restore after
	pad := []byte{0x48, 0x81, 0xec, 0x08, 0x00, 0x00, 0x00, 0xe8}
	assert.True(t, bytes.Contains(code, pad), "% x", code)

	restore := []byte{0x48, 0x81, 0xc4, 0x08, 0x00, 0x00, 0x00}
	assert.True(t, bytes.Contains(code, restore), "% x", code)
}

func TestDivision(t *testing.T) {
	u := ir.Local{Offset: -8, Type: ir.U64}
	s := ir.Local{Offset: -16, Type: ir.I64}

	f := ir.NewFunction("f", nil, ir.U64, ir.NoMangle, []ir.Statement{
		ir.ExprStmt{X: ir.NewBinary(ir.Div, u, ir.Int(3))},
		ir.ExprStmt{X: ir.NewBinary(ir.Div, s, ir.Int(3))},
		ir.ExprStmt{X: ir.NewBinary(ir.Shr, s, ir.Int(1))},
	})

	b := compile(t, Config{}, f)
	code := b.Section(".text").Code()

	assert.True(t, bytes.Contains(code, []byte{0x31, 0xd2, 0x48, 0xf7, 0xf1}), "xor edx, edx; div rcx")
	assert.True(t, bytes.Contains(code, []byte{0x48, 0x99, 0x48, 0xf7, 0xf9}), "cqo; idiv rcx")
	assert.True(t, bytes.Contains(code, []byte{0x48, 0xd3, 0xf8}), "sar rax, cl")

	// no return statement: implicit epilogue
	assert.Equal(t, []byte{0x48, 0x89, 0xec, 0x5d, 0xc3}, code[len(code)-5:])
}

func TestMagicDivision(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		name    string
		typ     ir.DataType
		div     uint64
		reduced bool
	}{
		{"u8_3", ir.U8, 3, true},
		{"u16_3", ir.U16, 3, true},
		{"u32_3", ir.U32, 3, true},
		{"u8_7", ir.U8, 7, true},
		{"u16_7", ir.U16, 7, true},
		{"u32_7", ir.U32, 7, false}, // 33-bit multiplier overflows the product
	} {
		t.Run(tc.name, func(t *testing.T) {
			x := ir.Local{Offset: -8, Type: tc.typ}

			f := ir.NewFunction("div", []ir.Param{{Name: "x", Type: tc.typ}}, tc.typ, ir.NoMangle, []ir.Statement{
				ir.Return{X: ir.NewBinary(ir.Div, x, ir.Int(tc.div))},
			})

			m := ir.NewModule()
			require.NoError(t, m.Push(f))

			_, err := opt.Default().RunAll(ctx, m)
			require.NoError(t, err)

			b := asm.New()
			require.NoError(t, New(Config{}).CompileModule(ctx, b, m))
			require.NoError(t, b.Finalize(ctx))

			code := b.Section(".text").Code()
			div := []byte{0x31, 0xd2, 0x48, 0xf7, 0xf1} // xor edx, edx; div rcx

			if !tc.reduced {
				assert.True(t, bytes.Contains(code, div), "% x", code)
				return
			}

			assert.False(t, bytes.Contains(code, div), "% x", code)

			shr := f.Body[0].(ir.Return).X.(*ir.Binary)
			mul := shr.L.(*ir.Binary)

			require.Equal(t, ir.Shr, shr.Op)
			require.Equal(t, ir.Mul, mul.Op)
			require.True(t, mul.Wide)

			// mov eax, magic; mov rcx, rax; pop rax; imul rax, rcx; push rax
			// the product goes to the stack untruncated
			seq := binary.LittleEndian.AppendUint32([]byte{0xb8}, uint32(mul.R.(ir.Int)))
			seq = append(seq, 0x48, 0x89, 0xc1, 0x58, 0x48, 0x0f, 0xaf, 0xc1, 0x50)
			assert.True(t, bytes.Contains(code, seq), "% x", code)

			// mov eax, shift; mov rcx, rax; pop rax; shr rax, cl
			seq = binary.LittleEndian.AppendUint32([]byte{0xb8}, uint32(shr.R.(ir.Int)))
			seq = append(seq, 0x48, 0x89, 0xc1, 0x58, 0x48, 0xd3, 0xe8)
			assert.True(t, bytes.Contains(code, seq), "% x", code)

			mask := uint64(1)<<(8*tc.typ.Size()) - 1

			for _, v := range []uint64{0, 1, tc.div - 1, tc.div, mask / 2, mask - 1, mask} {
				q, err := ir.Eval(shr, map[int16]uint64{-8: v})
				require.NoError(t, err)
				assert.Equal(t, v/tc.div, q, "%v / %v", v, tc.div)
			}
		})
	}
}

func TestFrameSize(t *testing.T) {
	f := ir.NewFunction("f", []ir.Param{{Name: "a", Type: ir.U8}}, ir.Void, 0, []ir.Statement{
		ir.ExprStmt{X: &ir.Call{Args: []ir.Expr{ir.Local{Offset: -40, Type: ir.U32}}}},
	})

	assert.Equal(t, int64(48), frameSize(f))

	f = ir.NewFunction("g", []ir.Param{{Name: "a", Type: ir.U8}}, ir.Void, 0, nil)
	assert.Equal(t, int64(16), frameSize(f))

	f = ir.NewFunction("h", nil, ir.Void, 0, nil)
	assert.Equal(t, int64(0), frameSize(f))
}

func TestErrors(t *testing.T) {
	ctx := context.Background()

	var many []ir.Param
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		many = append(many, ir.Param{Name: n, Type: ir.U64})
	}

	for _, tc := range []struct {
		name string
		f    *ir.Function
		err  any
	}{
		{"float", ir.NewFunction("f", nil, ir.F64, 0, []ir.Statement{ir.Return{X: ir.Float(1.5)}}), &UnsupportedExprError{}},
		{"void_local", ir.NewFunction("f", nil, ir.Void, 0, []ir.Statement{ir.ExprStmt{X: ir.Local{Offset: -8, Type: ir.Void}}}), &UnsupportedTypeError{}},
		{"many_args", ir.NewFunction("f", many, ir.Void, 0, nil), &TooManyArgsError{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := ir.NewModule()
			require.NoError(t, m.Push(tc.f))

			err := New(Config{}).CompileModule(ctx, asm.New(), m)
			assert.ErrorAs(t, err, tc.err)
		})
	}
}
