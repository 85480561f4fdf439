package ir

type (
	// Module is the unit of compilation.
	// It is built once by a front-end, then rewritten in place by optimization passes.
	Module struct {
		Types     map[string]DataType
		Functions map[string]*Function // mangled name -> func

		meta  map[string]string // metadata -> mangled name
		order []string
	}
)

func NewModule() *Module {
	return &Module{
		Types: map[string]DataType{
			"void": Void,
			"i8":   I8,
			"u8":   U8,
			"i16":  I16,
			"u16":  U16,
			"i32":  I32,
			"u32":  U32,
			"i64":  I64,
			"u64":  U64,
		},
		Functions: make(map[string]*Function),
		meta:      make(map[string]string),
	}
}

func (m *Module) ResolveType(name string) (DataType, error) {
	t, ok := m.Types[name]
	if !ok {
		return nil, TypeNotFoundError{Name: name}
	}

	return t, nil
}

func (m *Module) DefineType(name string, t DataType) error {
	if _, ok := m.Types[name]; ok {
		return AlreadyDefinedTypeError{Name: name}
	}

	m.Types[name] = t

	return nil
}

// Push adds f to the module.
// Pushing a second function with the same metadata or the same link symbol is an error.
func (m *Module) Push(f *Function) error {
	if _, ok := m.meta[f.Metadata]; ok {
		return AlreadyDefinedFunctionError{Name: f.Metadata}
	}

	if _, ok := m.Functions[f.Mangled]; ok {
		return AlreadyDefinedFunctionError{Name: f.Metadata}
	}

	m.meta[f.Metadata] = f.Mangled
	m.Functions[f.Mangled] = f
	m.order = append(m.order, f.Mangled)

	return nil
}

// Funcs returns functions in declaration order.
func (m *Module) Funcs() []*Function {
	r := make([]*Function, 0, len(m.order))

	for _, name := range m.order {
		r = append(r, m.Functions[name])
	}

	return r
}

// Lookup finds a function by its mangled name.
func (m *Module) Lookup(mangled string) (*Function, bool) {
	f, ok := m.Functions[mangled]
	return f, ok
}

// LookupMetadata finds the exact overload with the given metadata.
func (m *Module) LookupMetadata(meta string) (*Function, bool) {
	mangled, ok := m.meta[meta]
	if !ok {
		return nil, false
	}

	return m.Functions[mangled], true
}

// ResolveCall picks the first overload of name, in declaration order,
// whose parameters accept args. Untyped literals take the parameter type.
// The callee signature is copied into the call.
func (m *Module) ResolveCall(name string, args []Expr) (*Call, error) {
next:
	for _, mangled := range m.order {
		f := m.Functions[mangled]

		if f.Name != name || len(f.Args) != len(args) {
			continue
		}

		for i, a := range args {
			t, err := InferType(a, f.Args[i].Type)
			if err != nil || !TypeEqual(t, f.Args[i].Type) {
				continue next
			}
		}

		return &Call{
			Callee: f.Signature.Clone(),
			Args:   args,
		}, nil
	}

	return nil, FunctionNotFoundError{Name: name, Args: len(args)}
}
