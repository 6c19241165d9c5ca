package zapptest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/distr1/zapp"
)

// ELF describes a synthetic ELF executable. The generated file is not
// runnable, but carries enough structure for debug/elf: a PT_INTERP program
// header, a .dynamic section and its .dynstr string table.
type ELF struct {
	Machine elf.Machine // defaults to the host machine
	Interp  string      // PT_INTERP; omitted if empty
	Needed  []string    // DT_NEEDED entries
	RunPath string      // DT_RUNPATH; omitted if empty
	RPath   string      // DT_RPATH; omitted if empty
}

func align(buf *bytes.Buffer, n int) {
	for buf.Len()%n != 0 {
		buf.WriteByte(0)
	}
}

// Bytes serializes e as a little-endian ELF64 file.
func (e ELF) Bytes(t testing.TB) []byte {
	machine := e.Machine
	if machine == elf.EM_NONE {
		machine = zapp.HostMachine()
		if machine == elf.EM_NONE {
			t.Skip("unknown host architecture")
		}
	}
	le := binary.LittleEndian

	const (
		ehsize    = 64
		phentsize = 56
		shentsize = 64
	)
	var phnum int
	if e.Interp != "" {
		phnum = 1
	}

	var body bytes.Buffer
	body.Write(make([]byte, ehsize+phnum*phentsize))

	interpOff := body.Len()
	if e.Interp != "" {
		body.WriteString(e.Interp)
		body.WriteByte(0)
	}
	interpSize := body.Len() - interpOff

	// .dynstr
	dynstrOff := body.Len()
	var dynstr bytes.Buffer
	dynstr.WriteByte(0)
	addStr := func(s string) uint64 {
		off := uint64(dynstr.Len())
		dynstr.WriteString(s)
		dynstr.WriteByte(0)
		return off
	}
	var dyns []elf.Dyn64
	for _, n := range e.Needed {
		dyns = append(dyns, elf.Dyn64{Tag: int64(elf.DT_NEEDED), Val: addStr(n)})
	}
	if e.RunPath != "" {
		dyns = append(dyns, elf.Dyn64{Tag: int64(elf.DT_RUNPATH), Val: addStr(e.RunPath)})
	}
	if e.RPath != "" {
		dyns = append(dyns, elf.Dyn64{Tag: int64(elf.DT_RPATH), Val: addStr(e.RPath)})
	}
	dyns = append(dyns, elf.Dyn64{Tag: int64(elf.DT_NULL)})
	body.Write(dynstr.Bytes())

	// .dynamic
	align(&body, 8)
	dynamicOff := body.Len()
	for _, d := range dyns {
		binary.Write(&body, le, d)
	}
	dynamicSize := body.Len() - dynamicOff

	// .shstrtab
	shstrtabOff := body.Len()
	const shstrtab = "\x00.interp\x00.dynstr\x00.dynamic\x00.shstrtab\x00"
	body.WriteString(shstrtab)

	align(&body, 8)
	shoff := body.Len()
	sections := []elf.Section64{
		{}, // SHN_UNDEF
		{
			Name:      1, // .interp
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint64(elf.SHF_ALLOC),
			Off:       uint64(interpOff),
			Size:      uint64(interpSize),
			Addralign: 1,
		},
		{
			Name:      9, // .dynstr
			Type:      uint32(elf.SHT_STRTAB),
			Flags:     uint64(elf.SHF_ALLOC),
			Off:       uint64(dynstrOff),
			Size:      uint64(dynstr.Len()),
			Addralign: 1,
		},
		{
			Name:      17, // .dynamic
			Type:      uint32(elf.SHT_DYNAMIC),
			Flags:     uint64(elf.SHF_ALLOC | elf.SHF_WRITE),
			Off:       uint64(dynamicOff),
			Size:      uint64(dynamicSize),
			Link:      2, // .dynstr
			Addralign: 8,
			Entsize:   16,
		},
		{
			Name:      26, // .shstrtab
			Type:      uint32(elf.SHT_STRTAB),
			Off:       uint64(shstrtabOff),
			Size:      uint64(len(shstrtab)),
			Addralign: 1,
		},
	}
	for _, s := range sections {
		binary.Write(&body, le, s)
	}

	b := body.Bytes()
	var hdr bytes.Buffer
	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	binary.Write(&hdr, le, elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     ehsize,
		Shoff:     uint64(shoff),
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     uint16(phnum),
		Shentsize: shentsize,
		Shnum:     uint16(len(sections)),
		Shstrndx:  uint16(len(sections) - 1),
	})
	if e.Interp != "" {
		binary.Write(&hdr, le, elf.Prog64{
			Type:   uint32(elf.PT_INTERP),
			Flags:  uint32(elf.PF_R),
			Off:    uint64(interpOff),
			Filesz: uint64(interpSize),
			Memsz:  uint64(interpSize),
			Align:  1,
		})
	}
	copy(b, hdr.Bytes())
	return b
}
