// Package program loads MIPS ELF binaries into an initial emulator state
// and patches Go runtime constructs the emulator does not support.
package program

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"github.com/okx/xlayer-fpvm/core/state"
)

// LoadELF maps the PT_LOAD segments of f into a fresh state and points the
// program counter at the ELF entry.
func LoadELF(f *elf.File) (*state.State, error) {
	st := state.New()
	st.PC = uint32(f.Entry)
	st.NextPC = uint32(f.Entry + 4)

	for i, prog := range f.Progs {
		if prog.Type == 0x70000003 {
			// MIPS_ABIFLAGS
			continue
		}

		r := io.Reader(io.NewSectionReader(prog, 0, int64(prog.Filesz)))
		if prog.Filesz != prog.Memsz {
			if prog.Type == elf.PT_LOAD {
				if prog.Filesz < prog.Memsz {
					r = io.MultiReader(r, bytes.NewReader(make([]byte, prog.Memsz-prog.Filesz)))
				} else {
					return nil, fmt.Errorf("invalid PT_LOAD program segment %d, file size (%d) > mem size (%d)", i, prog.Filesz, prog.Memsz)
				}
			} else {
				return nil, fmt.Errorf("program segment %d has different file size (%d) than mem size (%d): filling for non PT_LOAD segments is not supported", i, prog.Filesz, prog.Memsz)
			}
		}

		if prog.Vaddr+prog.Memsz >= uint64(1)<<32 {
			return nil, fmt.Errorf("program segment %d out of 32-bit mem range: %x - %x (size: %x)", i, prog.Vaddr, prog.Vaddr+prog.Memsz, prog.Memsz)
		}
		if err := st.Memory.SetMemoryRange(uint32(prog.Vaddr), r); err != nil {
			return nil, fmt.Errorf("failed to read program segment %d: %w", i, err)
		}
	}

	return st, nil
}
