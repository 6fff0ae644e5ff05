package vm

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/okx/xlayer-fpvm/core/memory"
)

// Linux O32 syscall numbers handled by the kernel surface.
const (
	SysMmap      = 4090
	SysBrk       = 4045
	SysClone     = 4120
	SysExitGroup = 4246
	SysRead      = 4003
	SysWrite     = 4004
	SysFcntl     = 4055
)

// File descriptors of the emulated process. The hint and preimage channels
// occupy fixed fds beyond the stdio triple.
const (
	FdStdin         = 0
	FdStdout        = 1
	FdStderr        = 2
	FdHintRead      = 3
	FdHintWrite     = 4
	FdPreimageRead  = 5
	FdPreimageWrite = 6
)

// MIPS errno values.
const (
	MipsEBADF  = 0x9
	MipsEINVAL = 0x16
)

// BrkStart is the constant program break reported by the brk syscall.
const BrkStart = 0x40_00_00_00

func (m *VM) handleSyscall() error {
	syscallNum := m.state.Registers[2] // v0

	v0 := uint32(0)
	v1 := uint32(0)

	a0 := m.state.Registers[4]
	a1 := m.state.Registers[5]
	a2 := m.state.Registers[6]

	switch syscallNum {
	case SysMmap:
		sz := a1
		if sz&memory.PageAddrMask != 0 { // adjust size to align with page size
			sz += memory.PageSize - (sz & memory.PageAddrMask)
		}
		if a0 == 0 {
			v0 = m.state.Heap
			m.state.Heap += sz
		} else {
			v0 = a0
		}
	case SysBrk:
		v0 = BrkStart
	case SysClone: // not supported
		v0 = 1
	case SysExitGroup:
		m.state.Exited = true
		m.state.ExitCode = uint8(a0)
		return nil
	case SysRead:
		// args: a0 = fd, a1 = addr, a2 = count
		// returns: v0 = read, v1 = err code
		switch a0 {
		case FdStdin:
			// leave v0 and v1 zero: read nothing, no error
		case FdHintRead:
			// the hint response is ignored, so pretend it was all read
			v0 = a2
		case FdPreimageRead:
			effAddr := a1 & 0xFF_FF_FF_FC
			if err := m.trackMemAccess(effAddr); err != nil {
				return err
			}
			mem, err := m.state.Memory.GetMemory(effAddr)
			if err != nil {
				return err
			}
			dat, datLen, err := m.readPreimage(m.state.PreimageKey, m.state.PreimageOffset)
			if err != nil {
				return err
			}
			alignment := a1 & 3
			space := 4 - alignment
			if space < datLen {
				datLen = space
			}
			if a2 < datLen {
				datLen = a2
			}
			var outMem [4]byte
			binary.BigEndian.PutUint32(outMem[:], mem)
			copy(outMem[alignment:], dat[:datLen])
			if err := m.state.Memory.SetMemory(effAddr, binary.BigEndian.Uint32(outMem[:])); err != nil {
				return err
			}
			m.state.PreimageOffset += datLen
			v0 = datLen
		default:
			v0 = 0xFF_FF_FF_FF
			v1 = MipsEBADF
		}
	case SysWrite:
		// args: a0 = fd, a1 = addr, a2 = count
		// returns: v0 = written, v1 = err code
		switch a0 {
		case FdStdout:
			_, _ = io.Copy(m.stdOut, m.state.Memory.ReadMemoryRange(a1, a2))
			v0 = a2
		case FdStderr:
			_, _ = io.Copy(m.stdErr, m.state.Memory.ReadMemoryRange(a1, a2))
			v0 = a2
		case FdHintWrite:
			hintData, err := io.ReadAll(m.state.Memory.ReadMemoryRange(a1, a2))
			if err != nil {
				return err
			}
			m.state.LastHint = append(m.state.LastHint, hintData...)
			// deliver complete length-prefixed hints, keep the remainder buffered
			for len(m.state.LastHint) >= 4 {
				hintLen := binary.BigEndian.Uint32(m.state.LastHint[:4])
				if hintLen > uint32(len(m.state.LastHint[4:])) {
					break // incomplete hint
				}
				hint := m.state.LastHint[4 : 4+hintLen]
				m.state.LastHint = m.state.LastHint[4+hintLen:]
				if err := m.preimageOracle.Hint(hint); err != nil {
					return fmt.Errorf("%w: hint: %v", ErrOracle, err)
				}
			}
			v0 = a2
		case FdPreimageWrite:
			effAddr := a1 & 0xFF_FF_FF_FC
			if err := m.trackMemAccess(effAddr); err != nil {
				return err
			}
			mem, err := m.state.Memory.GetMemory(effAddr)
			if err != nil {
				return err
			}
			key := m.state.PreimageKey
			alignment := a1 & 3
			space := 4 - alignment
			if space < a2 {
				a2 = space
			}
			// the new bytes shift into the tail of the 32-byte key
			copy(key[:], key[a2:])
			var tmp [4]byte
			binary.BigEndian.PutUint32(tmp[:], mem)
			copy(key[32-a2:], tmp[alignment:])
			m.state.PreimageKey = key
			m.state.PreimageOffset = 0
			v0 = a2
		default:
			v0 = 0xFF_FF_FF_FF
			v1 = MipsEBADF
		}
	case SysFcntl:
		// args: a0 = fd, a1 = cmd
		if a1 == 3 { // F_GETFL
			switch a0 {
			case FdStdin, FdHintRead, FdPreimageRead:
				v0 = 0 // O_RDONLY
			case FdStdout, FdStderr, FdHintWrite, FdPreimageWrite:
				v0 = 1 // O_WRONLY
			default:
				v0 = 0xFF_FF_FF_FF
				v1 = MipsEBADF
			}
		} else {
			v0 = 0xFF_FF_FF_FF
			v1 = MipsEINVAL // cmd not recognized by this kernel
		}
	default:
		// The on-chain interpreter treats unrecognized syscall numbers as
		// no-ops that clear v0/v1.
		if m.strictSyscalls {
			return fmt.Errorf("%w: %d", ErrUnknownSyscall, syscallNum)
		}
	}

	m.state.Registers[2] = v0
	m.state.Registers[7] = v1

	m.state.PC = m.state.NextPC
	m.state.NextPC = m.state.NextPC + 4
	return nil
}
