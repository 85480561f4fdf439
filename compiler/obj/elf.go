package obj

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"fortio.org/safecast"
	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/wind-language/wind-rewrite/compiler/asm"
)

type (
	SymbolNotFoundError struct {
		Name    string
		Section string
	}

	symbol struct {
		name  string
		bind  elf.SymBind
		typ   elf.SymType
		shndx uint16
		value uint64
		size  uint64

		seq int
	}

	section struct {
		name string
		hdr  elf.Section64
		data []byte
	}

	strtab struct {
		b   []byte
		idx map[string]uint32
	}

	symbols struct {
		heap.Heap[symbol]
	}
)

const (
	ehdrSize = 64
	shdrSize = 64
	symSize  = 24
	relaSize = 24
)

// WriteFile writes the builder contents as an ELF64 relocatable object.
func WriteFile(ctx context.Context, name string, b *asm.Builder) error {
	data, err := Write(ctx, b)
	if err != nil {
		return err
	}

	err = os.WriteFile(name, data, 0o644)
	if err != nil {
		return errors.Wrap(err, "write file")
	}

	return nil
}

// Write serializes a finalized builder as an x86-64 ELF64 relocatable object.
func Write(ctx context.Context, b *asm.Builder) (_ []byte, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "obj: write elf", "sections", len(b.Sections), "relocs", len(b.Relocs))
	defer tr.Finish("err", &err)

	shstr := newStrtab()
	str := newStrtab()

	secs := []*section{{}}

	for _, s := range b.Sections {
		sec := &section{
			name: s.Name,
			data: s.Code(),
		}

		sec.hdr.Type = uint32(elf.SHT_PROGBITS)

		switch s.Kind {
		case asm.KindText:
			sec.hdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)
			sec.hdr.Addralign = 16
		case asm.KindData:
			sec.hdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
			sec.hdr.Addralign = 8
		case asm.KindReadOnly:
			sec.hdr.Flags = uint64(elf.SHF_ALLOC)
			sec.hdr.Addralign = 8
		default:
			return nil, errors.New("section %v: unsupported kind %v", s.Name, s.Kind)
		}

		secs = append(secs, sec)
	}

	// symbols

	syms := symbols{Heap: heap.Heap[symbol]{Less: symbolLess}}
	seq := 0

	add := func(s symbol) {
		s.seq = seq
		seq++

		syms.Push(s)
	}

	defined := map[string]bool{}

	for i, s := range b.Sections {
		shndx, err := safecast.Conv[uint16](i + 1)
		if err != nil {
			return nil, errors.Wrap(err, "section index")
		}

		add(symbol{bind: elf.STB_LOCAL, typ: elf.STT_SECTION, shndx: shndx})

		for _, l := range s.Labels {
			if private(l.Name) {
				continue
			}

			sym := symbol{
				name:  l.Name,
				bind:  elf.STB_LOCAL,
				typ:   elf.STT_OBJECT,
				shndx: shndx,
				value: uint64(l.Offset),
				size:  uint64(len(l.Code)),
			}

			if s.Kind == asm.KindText {
				sym.typ = elf.STT_FUNC
			}

			switch {
			case l.Weak:
				sym.bind = elf.STB_WEAK
			case l.Global:
				sym.bind = elf.STB_GLOBAL
			}

			defined[l.Name] = true

			add(sym)
		}
	}

	for _, e := range b.Externs {
		if defined[e] {
			continue
		}

		add(symbol{name: e, bind: elf.STB_GLOBAL, typ: elf.STT_NOTYPE, shndx: uint16(elf.SHN_UNDEF)})
	}

	ordered := []symbol{{}}
	index := map[string]int{}
	sectSym := map[uint16]int{}
	firstGlobal := 0

	for syms.Len() != 0 {
		s := syms.Pop()

		if s.bind != elf.STB_LOCAL && firstGlobal == 0 {
			firstGlobal = len(ordered)
		}

		if s.typ == elf.STT_SECTION {
			sectSym[s.shndx] = len(ordered)
		} else {
			index[s.name] = len(ordered)
		}

		ordered = append(ordered, s)
	}

	if firstGlobal == 0 {
		firstGlobal = len(ordered)
	}

	if tr.If("obj_symbols") {
		for i, s := range ordered {
			tr.Printw("symbol", "i", i, "name", s.name, "bind", s.bind, "type", s.typ, "shndx", s.shndx, "value", s.value)
		}
	}

	// relocations

	relas := map[int][]elf.Rela64{}

	for _, r := range b.Relocs {
		si := -1

		for i, s := range b.Sections {
			if s.Name == r.Section {
				si = i + 1
			}
		}

		if si < 0 {
			return nil, errors.New("relocation in unknown section: %v", r.Section)
		}

		symi, addend, ok := 0, r.Addend, false

		if l, ls := b.Label(r.Symbol); l != nil && private(r.Symbol) {
			for i, s := range b.Sections {
				if s == ls {
					symi, ok = sectSym[uint16(i+1)]
				}
			}

			addend += int64(l.Offset)
		} else {
			symi, ok = index[r.Symbol]
		}

		if !ok {
			return nil, SymbolNotFoundError{Name: r.Symbol, Section: r.Section}
		}

		symu, err := safecast.Conv[uint32](symi)
		if err != nil {
			return nil, errors.Wrap(err, "symbol index")
		}

		relas[si] = append(relas[si], elf.Rela64{
			Off:    uint64(r.Offset),
			Info:   elf.R_INFO(symu, uint32(elf.R_X86_64_PC32)),
			Addend: addend,
		})
	}

	nsec := len(secs)

	symtabIdx := nsec + len(relas)
	strtabIdx := symtabIdx + 1
	shstrtabIdx := strtabIdx + 1

	for i := 1; i < nsec; i++ {
		rs, ok := relas[i]
		if !ok {
			continue
		}

		var buf bytes.Buffer

		err = binary.Write(&buf, binary.LittleEndian, rs)
		if err != nil {
			return nil, errors.Wrap(err, "encode relocations")
		}

		rel := &section{name: ".rela" + secs[i].name, data: buf.Bytes()}

		rel.hdr.Type = uint32(elf.SHT_RELA)
		rel.hdr.Flags = uint64(elf.SHF_INFO_LINK)
		rel.hdr.Link = uint32(symtabIdx)
		rel.hdr.Info = uint32(i)
		rel.hdr.Addralign = 8
		rel.hdr.Entsize = relaSize

		secs = append(secs, rel)
	}

	{
		var buf bytes.Buffer

		for _, s := range ordered {
			sym := elf.Sym64{
				Info:  elf.ST_INFO(s.bind, s.typ),
				Shndx: s.shndx,
				Value: s.value,
				Size:  s.size,
			}

			if s.name != "" {
				sym.Name = str.add(s.name)
			}

			err = binary.Write(&buf, binary.LittleEndian, &sym)
			if err != nil {
				return nil, errors.Wrap(err, "encode symbol %v", s.name)
			}
		}

		symtab := &section{name: ".symtab", data: buf.Bytes()}

		symtab.hdr.Type = uint32(elf.SHT_SYMTAB)
		symtab.hdr.Link = uint32(strtabIdx)
		symtab.hdr.Info = uint32(firstGlobal)
		symtab.hdr.Addralign = 8
		symtab.hdr.Entsize = symSize

		secs = append(secs, symtab)
	}

	strsec := &section{name: ".strtab", data: str.b}
	strsec.hdr.Type = uint32(elf.SHT_STRTAB)
	strsec.hdr.Addralign = 1

	secs = append(secs, strsec)

	shstrsec := &section{name: ".shstrtab"}
	shstrsec.hdr.Type = uint32(elf.SHT_STRTAB)
	shstrsec.hdr.Addralign = 1

	secs = append(secs, shstrsec)

	for _, s := range secs[1:] {
		s.hdr.Name = shstr.add(s.name)
	}

	shstrsec.data = shstr.b

	// layout

	off := uint64(ehdrSize)

	for _, s := range secs[1:] {
		off = align(off, max(s.hdr.Addralign, 1))

		s.hdr.Off = off
		s.hdr.Size = uint64(len(s.data))

		off += s.hdr.Size
	}

	shoff := align(off, 8)

	shnum, err := safecast.Conv[uint16](len(secs))
	if err != nil {
		return nil, errors.Wrap(err, "too many sections")
	}

	shstrndx, err := safecast.Conv[uint16](shstrtabIdx)
	if err != nil {
		return nil, errors.Wrap(err, "too many sections")
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shoff,
		Ehsize:    ehdrSize,
		Shentsize: shdrSize,
		Shnum:     shnum,
		Shstrndx:  shstrndx,
	}

	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	var buf bytes.Buffer

	buf.Grow(int(shoff) + len(secs)*shdrSize)

	err = binary.Write(&buf, binary.LittleEndian, &hdr)
	if err != nil {
		return nil, errors.Wrap(err, "encode header")
	}

	for _, s := range secs[1:] {
		pad(&buf, s.hdr.Off)
		buf.Write(s.data)
	}

	pad(&buf, shoff)

	for _, s := range secs {
		err = binary.Write(&buf, binary.LittleEndian, &s.hdr)
		if err != nil {
			return nil, errors.Wrap(err, "encode section header %v", s.name)
		}
	}

	tr.Printw("elf object", "size", buf.Len(), "symbols", len(ordered), "sections", len(secs))

	return buf.Bytes(), nil
}

// symbolLess puts locals first, keeping creation order otherwise.
func symbolLess(d []symbol, i, j int) bool {
	if a, b := d[i].bind == elf.STB_LOCAL, d[j].bind == elf.STB_LOCAL; a != b {
		return a
	}

	return d[i].seq < d[j].seq
}

// private labels are not exported to the symbol table.
func private(name string) bool {
	return strings.HasPrefix(name, ".")
}

func newStrtab() *strtab {
	return &strtab{
		b:   []byte{0},
		idx: map[string]uint32{},
	}
}

func (t *strtab) add(s string) uint32 {
	if i, ok := t.idx[s]; ok {
		return i
	}

	i := uint32(len(t.b))

	t.b = append(t.b, s...)
	t.b = append(t.b, 0)
	t.idx[s] = i

	return i
}

func align(x, a uint64) uint64 {
	return (x + a - 1) &^ (a - 1)
}

func pad(buf *bytes.Buffer, to uint64) {
	for uint64(buf.Len()) < to {
		buf.WriteByte(0)
	}
}

func (e SymbolNotFoundError) Error() string {
	return fmt.Sprintf("symbol not found: %v (referenced from %v)", e.Name, e.Section)
}
