package ir

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestCodecForwardCall(t *testing.T) {
	m := NewModule()

	p := Struct{Path: "pair", Fields: []Field{{Name: "a", Type: I32}, {Name: "b", Type: I32}}}
	require.NoError(t, m.DefineType("pair", p))

	callee := NewFunction("twice", []Param{{Name: "x", Type: I32}}, I32, 0, []Statement{
		Return{X: NewBinary(Mul, Local{Offset: -8, Type: I32}, Int(2))},
	})

	main := NewFunction("main", nil, I32, NoMangle, nil)

	// main is declared first and calls a later function
	require.NoError(t, m.Push(main))
	require.NoError(t, m.Push(callee))

	call, err := m.ResolveCall("twice", []Expr{Int(21)})
	require.NoError(t, err)

	main.Body = []Statement{
		ExprStmt{X: Str("hello")},
		Return{X: call},
	}

	var buf bytes.Buffer

	err = EncodeModule(&buf, m)
	require.NoError(t, err)

	d, err := DecodeModule(&buf)
	require.NoError(t, err)

	pt, err := d.ResolveType("pair")
	require.NoError(t, err)
	assert.True(t, TypeEqual(p, pt))

	funcs := d.Funcs()
	require.Len(t, funcs, 2)

	assert.Equal(t, "main", funcs[0].Mangled)
	assert.Equal(t, callee.Mangled, funcs[1].Mangled)

	require.Len(t, funcs[0].Body, 2)
	assert.Equal(t, ExprStmt{X: Str("hello")}, funcs[0].Body[0])

	ret, ok := funcs[0].Body[1].(Return)
	require.True(t, ok)

	dc, ok := ret.X.(*Call)
	require.True(t, ok)
	assert.Equal(t, callee.Mangled, dc.Callee.Mangled)
	assert.True(t, ExprEqual(call, dc))

	require.Len(t, funcs[1].Body, 1)
	assert.True(t, ExprEqual(callee.Body[0].(Return).X, funcs[1].Body[0].(Return).X))
}

func TestCodecFlagsAndWide(t *testing.T) {
	m := NewModule()

	x := Local{Offset: -8, Type: U8}
	wide := &Binary{Op: Mul, L: x, R: Int(171), Wide: true}

	f := NewFunction("div3", []Param{{Name: "x", Type: U8}}, U8, NoMangle, []Statement{
		Return{X: NewBinary(Shr, wide, Int(9))},
	})
	require.NoError(t, m.Push(f))

	var buf bytes.Buffer
	require.NoError(t, EncodeModule(&buf, m))

	d, err := DecodeModule(&buf)
	require.NoError(t, err)

	g, ok := d.Lookup("div3")
	require.True(t, ok)

	assert.True(t, g.Flags.Has(NoMangle))
	assert.True(t, ExprEqual(f.Body[0].(Return).X, g.Body[0].(Return).X))

	for _, tc := range []struct {
		name  string
		flags []string
		ok    bool
	}{
		{"none", nil, true},
		{"no_mangle", []string{"no_mangle"}, true},
		{"unknown", []string{"inline"}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			data, err := msgpack.Marshal(&fileModule{Funcs: []fileFunc{{
				Name:   "f",
				Flags:  tc.flags,
				Return: fileType{Kind: "scalar", Bytes: 4},
			}}})
			require.NoError(t, err)

			m, err := DecodeModule(bytes.NewReader(data))
			if !tc.ok {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)

			f := m.Funcs()[0]
			assert.Equal(t, tc.flags, f.Flags.Names())
		})
	}
}

func TestCodecRejectsGarbage(t *testing.T) {
	_, err := DecodeModule(bytes.NewReader([]byte{0xc1}))
	assert.Error(t, err)
}
