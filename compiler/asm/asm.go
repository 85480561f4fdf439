package asm

import (
	"context"
	"encoding/binary"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/wind-language/wind-rewrite/compiler/asm/amd64"
)

type (
	// Builder accumulates machine code in sections of labels.
	// References to labels are resolved by Finalize:
	// within a section they are patched in place,
	// otherwise they become relocations.
	Builder struct {
		Sections []*Section
		Externs  []string
		Relocs   []Reloc

		sect    int
		pending []ref
	}

	Section struct {
		Name   string
		Kind   Kind
		Labels []*Label

		label int
	}

	Kind int

	Label struct {
		Name   string
		Offset int // from the section start
		Code   []byte

		Global bool
		Weak   bool
	}

	// Reloc asks the linker to store Symbol + Addend - P
	// into the 4 bytes at Offset of Section.
	Reloc struct {
		Section string
		Symbol  string
		Offset  int
		Addend  int64
	}

	ref struct {
		name  string
		sect  int
		label int
		at    int // instruction start within the label
		size  int // instruction length

		from loc.PC
	}

	DuplicateLabelError struct {
		Name string
	}

	LabelNotFoundError struct {
		Name string
	}

	SectionNotFoundError struct {
		Name string
	}
)

const (
	KindText Kind = iota
	KindData
	KindReadOnly
)

func New() *Builder {
	return &Builder{sect: -1}
}

// AddSection creates the section if needed and makes it current.
func (b *Builder) AddSection(name string, kind Kind) *Section {
	if i := b.sectionIndex(name); i >= 0 {
		b.sect = i
		return b.Sections[i]
	}

	s := &Section{Name: name, Kind: kind, label: -1}

	b.Sections = append(b.Sections, s)
	b.sect = len(b.Sections) - 1

	return s
}

func (b *Builder) Section(name string) *Section {
	i := b.sectionIndex(name)
	if i < 0 {
		return nil
	}

	return b.Sections[i]
}

func (b *Builder) BindSection(name string) error {
	i := b.sectionIndex(name)
	if i < 0 {
		return SectionNotFoundError{Name: name}
	}

	b.sect = i

	return nil
}

// AddLabel appends a new label to the current section and makes it current.
func (b *Builder) AddLabel(name string) error {
	if l, _ := b.Label(name); l != nil {
		return DuplicateLabelError{Name: name}
	}

	s := b.cur()

	s.Labels = append(s.Labels, &Label{
		Name:   name,
		Offset: s.Size(),
	})

	s.label = len(s.Labels) - 1

	return nil
}

// Label finds a label by name in any section.
func (b *Builder) Label(name string) (*Label, *Section) {
	for _, s := range b.Sections {
		for _, l := range s.Labels {
			if l.Name == name {
				return l, s
			}
		}
	}

	return nil, nil
}

// BindLabel makes the named label and its section current.
func (b *Builder) BindLabel(name string) error {
	for i, s := range b.Sections {
		for j, l := range s.Labels {
			if l.Name == name {
				b.sect = i
				s.label = j

				return nil
			}
		}
	}

	return LabelNotFoundError{Name: name}
}

func (b *Builder) SetGlobal(name string) error {
	l, _ := b.Label(name)
	if l == nil {
		return LabelNotFoundError{Name: name}
	}

	l.Global = true

	return nil
}

func (b *Builder) SetWeak(name string) error {
	l, _ := b.Label(name)
	if l == nil {
		return LabelNotFoundError{Name: name}
	}

	l.Weak = true

	return nil
}

// AddExtern declares a symbol defined outside of this object.
func (b *Builder) AddExtern(name string) {
	for _, e := range b.Externs {
		if e == name {
			return
		}
	}

	b.Externs = append(b.Externs, name)
}

// Emit appends code to the current label and returns its offset within the label.
func (b *Builder) Emit(code []byte) int {
	s := b.cur()
	l := s.cur()

	at := len(l.Code)
	l.Code = append(l.Code, code...)

	s.layout()

	return at
}

// EmitAt overwrites code at the offset within the current label.
func (b *Builder) EmitAt(at int, code []byte) {
	l := b.cur().cur()

	copy(l.Code[at:at+len(code)], code)
}

// Encode emits the result of an encoder call.
func (b *Builder) Encode(code []byte, err error) error {
	if err != nil {
		return err
	}

	b.Emit(code)

	return nil
}

// SymbolJmp emits jmp to a label resolved at Finalize.
func (b *Builder) SymbolJmp(name string) error {
	return b.symbol(name, loc.Caller(1))(amd64.Jmp(0))
}

// SymbolCall emits call to a label resolved at Finalize.
func (b *Builder) SymbolCall(name string) error {
	return b.symbol(name, loc.Caller(1))(amd64.Call(0))
}

// SymbolLea emits lea reg, [rip+name] resolved at Finalize.
func (b *Builder) SymbolLea(reg amd64.Reg, name string) error {
	return b.symbol(name, loc.Caller(1))(amd64.Lea(reg, amd64.Ptr(amd64.RIP, 0, 8)))
}

func (b *Builder) symbol(name string, from loc.PC) func([]byte, error) error {
	return func(code []byte, err error) error {
		if err != nil {
			return errors.Wrap(err, "ref %v", name)
		}

		s := b.cur()
		at := b.Emit(code)

		b.pending = append(b.pending, ref{
			name:  name,
			sect:  b.sect,
			label: s.label,
			at:    at,
			size:  len(code),
			from:  from,
		})

		return nil
	}
}

// Finalize resolves pending references.
// Each reference ends with a 4 byte field relative to the next instruction.
func (b *Builder) Finalize(ctx context.Context) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "asm: finalize", "refs", len(b.pending))
	defer tr.Finish("err", &err)

	for _, r := range b.pending {
		s := b.Sections[r.sect]
		l := s.Labels[r.label]

		field := r.at + r.size - 4
		next := l.Offset + r.at + r.size

		target, ts := b.Label(r.name)

		if target != nil && ts == s {
			rel := int64(target.Offset - next)

			binary.LittleEndian.PutUint32(l.Code[field:], uint32(int32(rel)))

			if tr.If("asm_patch") {
				tr.Printw("patch", "name", r.name, "section", s.Name, "label", l.Name, "rel", rel, "from", r.from)
			}

			continue
		}

		binary.LittleEndian.PutUint32(l.Code[field:], 0)

		b.Relocs = append(b.Relocs, Reloc{
			Section: s.Name,
			Symbol:  r.name,
			Offset:  l.Offset + field,
			Addend:  -4,
		})

		if tr.If("asm_reloc") {
			tr.Printw("relocation", "name", r.name, "section", s.Name, "label", l.Name, "offset", l.Offset+field, "from", r.from)
		}
	}

	b.pending = b.pending[:0]

	return nil
}

// Code concatenates all labels of the section.
func (s *Section) Code() []byte {
	var c []byte

	for _, l := range s.Labels {
		c = append(c, l.Code...)
	}

	return c
}

func (s *Section) Size() (n int) {
	for _, l := range s.Labels {
		n += len(l.Code)
	}

	return n
}

func (s *Section) cur() *Label {
	if s.label < 0 {
		panic(fmt.Sprintf("section %v: no label bound", s.Name))
	}

	return s.Labels[s.label]
}

// layout shifts labels after a growing one.
func (s *Section) layout() {
	off := 0

	for _, l := range s.Labels {
		l.Offset = off
		off += len(l.Code)
	}
}

func (b *Builder) cur() *Section {
	if b.sect < 0 {
		panic("no section bound")
	}

	return b.Sections[b.sect]
}

func (b *Builder) sectionIndex(name string) int {
	for i, s := range b.Sections {
		if s.Name == name {
			return i
		}
	}

	return -1
}

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindData:
		return "data"
	case KindReadOnly:
		return "rodata"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (e DuplicateLabelError) Error() string {
	return fmt.Sprintf("duplicate label: %v", e.Name)
}

func (e LabelNotFoundError) Error() string {
	return fmt.Sprintf("label not found: %v", e.Name)
}

func (e SectionNotFoundError) Error() string {
	return fmt.Sprintf("section not found: %v", e.Name)
}
