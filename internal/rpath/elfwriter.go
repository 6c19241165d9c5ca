package rpath

import (
	"bytes"
	"context"
	"debug/elf"
	"io/ioutil"
	"os"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// slot is the location of a search path string within the file.
type slot struct {
	tag elf.DynTag
	off uint64 // file offset of the first byte
	len int    // excluding the terminating NUL
}

// dynEntries returns the tag/value pairs of the .dynamic section of f.
func dynEntries(f *elf.File, ds *elf.Section) ([][2]uint64, error) {
	d, err := ds.Data()
	if err != nil {
		return nil, err
	}
	var entries [][2]uint64
	switch f.Class {
	case elf.ELFCLASS32:
		for ; len(d) >= 8; d = d[8:] {
			entries = append(entries, [2]uint64{
				uint64(f.ByteOrder.Uint32(d[0:4])),
				uint64(f.ByteOrder.Uint32(d[4:8])),
			})
		}
	case elf.ELFCLASS64:
		for ; len(d) >= 16; d = d[16:] {
			entries = append(entries, [2]uint64{
				f.ByteOrder.Uint64(d[0:8]),
				f.ByteOrder.Uint64(d[8:16]),
			})
		}
	default:
		return nil, xerrors.Errorf("unsupported ELF class %v", f.Class)
	}
	return entries, nil
}

// searchPathSlots locates the DT_RPATH and DT_RUNPATH strings of f.
func searchPathSlots(f *elf.File) ([]slot, error) {
	ds := f.SectionByType(elf.SHT_DYNAMIC)
	if ds == nil {
		return nil, xerrors.Errorf("no .dynamic section")
	}
	if ds.Link == 0 || int(ds.Link) >= len(f.Sections) {
		return nil, xerrors.Errorf(".dynamic: invalid string table index %d", ds.Link)
	}
	strtab := f.Sections[ds.Link]
	str, err := strtab.Data()
	if err != nil {
		return nil, err
	}
	entries, err := dynEntries(f, ds)
	if err != nil {
		return nil, err
	}

	var (
		slots []slot
		refs  []uint64 // offsets of all other dynamic strings
	)
loop:
	for _, e := range entries {
		tag, val := elf.DynTag(e[0]), e[1]
		switch tag {
		case elf.DT_NULL:
			break loop
		case elf.DT_RPATH, elf.DT_RUNPATH:
			if val >= uint64(len(str)) {
				return nil, xerrors.Errorf("%v: string offset %d out of range", tag, val)
			}
			n := bytes.IndexByte(str[val:], 0)
			if n == -1 {
				return nil, xerrors.Errorf("%v: unterminated string", tag)
			}
			slots = append(slots, slot{tag: tag, off: strtab.Offset + val, len: n})
		case elf.DT_NEEDED, elf.DT_SONAME:
			refs = append(refs, strtab.Offset+val)
		}
	}
	if len(slots) == 0 {
		return nil, xerrors.Errorf("neither DT_RPATH nor DT_RUNPATH present")
	}
	// Linkers may merge strings sharing a suffix; such a string must not
	// change underneath its other user.
	for _, s := range slots {
		for _, ref := range refs {
			if ref > s.off && ref <= s.off+uint64(s.len) {
				return nil, xerrors.Errorf("%v string is shared with another dynamic entry", s.tag)
			}
		}
	}
	return slots, nil
}

// ELFWriter is a Setter which rewrites the existing DT_RPATH/DT_RUNPATH
// strings of the file in place, without any external tools. The string table
// cannot grow, so value must fit into the space of the existing search path,
// and files without a search path cannot be patched.
type ELFWriter struct{}

func (ELFWriter) SetSearchPath(ctx context.Context, fn, value string) error {
	st, err := os.Stat(fn)
	if err != nil {
		return err
	}
	b, err := ioutil.ReadFile(fn)
	if err != nil {
		return err
	}
	f, err := elf.NewFile(bytes.NewReader(b))
	if err != nil {
		return err
	}
	slots, err := searchPathSlots(f)
	if err != nil {
		return xerrors.Errorf("%s: %v", fn, err)
	}
	for _, s := range slots {
		if len(value) > s.len {
			return xerrors.Errorf("%s: %v has room for %d bytes, need %d", fn, s.tag, s.len, len(value))
		}
	}
	for _, s := range slots {
		dst := b[s.off : s.off+uint64(s.len)]
		n := copy(dst, value)
		// Zero the remainder so that strings(1) does not show the old value.
		for i := n; i < len(dst); i++ {
			dst[i] = 0
		}
	}
	return renameio.WriteFile(fn, b, st.Mode().Perm())
}
