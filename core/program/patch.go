package program

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/okx/xlayer-fpvm/core/memory"
	"github.com/okx/xlayer-fpvm/core/state"
)

// goPatchSymbols are Go runtime entry points that get stubbed out with an
// immediate return: they pull in threads, the garbage collector or
// floating point, none of which the emulated context supports.
var goPatchSymbols = []string{
	"runtime.gcenable",
	"runtime.init.5",            // patch out: init() { go forcegchelper() }
	"runtime.main.func1",        // patch out: main.func() { newm(sysmon, ....) }
	"runtime.deductSweepCredit", // uses floating point nums and interacts with gc we disabled
	"runtime.(*gcControllerState).commit",
	"github.com/prometheus/client_golang/prometheus.init",
	"github.com/prometheus/client_golang/prometheus.init.0",
	"github.com/prometheus/procfs.init",
	"github.com/prometheus/common/model.init",
	"github.com/prometheus/client_model/go.init",
	"github.com/prometheus/client_model/go.init.0",
	"github.com/prometheus/client_model/go.init.1",
	"flag.init", // skip flag pkg init, we need to debug arg-processing more to see why this fails
	"runtime.check", // no floats, so we cannot pass the float64nan check
}

// PatchGo stubs out the unsupported Go runtime symbols of f in the loaded
// memory of st.
func PatchGo(f *elf.File, st *state.State) error {
	symbols, err := f.Symbols()
	if err != nil {
		return fmt.Errorf("failed to read symbols data: %w", err)
	}

	for _, s := range symbols {
		patch := false
		for _, name := range goPatchSymbols {
			if s.Name == name {
				patch = true
				break
			}
		}
		switch {
		case patch:
			// jr $ra; nop
			if err := st.Memory.SetMemoryRange(uint32(s.Value), bytes.NewReader([]byte{
				0x03, 0xe0, 0x00, 0x08,
				0, 0, 0, 0,
			})); err != nil {
				return fmt.Errorf("failed to patch Go runtime symbol %q: %w", s.Name, err)
			}
		case s.Name == "runtime.MemProfileRate":
			// disable mem profiling, to avoid a lot of unnecessary floating point ops
			if err := st.Memory.SetMemory(uint32(s.Value), 0); err != nil {
				return fmt.Errorf("failed to zero runtime.MemProfileRate: %w", err)
			}
		}
	}
	return nil
}

// StackPointer is the initial stack pointer of the emulated program.
const StackPointer = 0x7F_FF_D0_00

// SetupStack writes the initial argc/argv/envp/auxv block the Go MIPS
// runtime expects and points r29 at it.
func SetupStack(st *state.State) error {
	sp := uint32(StackPointer)

	// allocate 1 page for the initial stack data, and 16 KiB for the stack to grow
	if err := st.Memory.SetMemoryRange(sp-4*memory.PageSize, bytes.NewReader(make([]byte, 5*memory.PageSize))); err != nil {
		return fmt.Errorf("failed to allocate stack pages: %w", err)
	}
	st.Registers[29] = sp

	storeMem := func(addr uint32, v uint32) error {
		return st.Memory.SetMemory(addr, v)
	}

	items := []struct {
		addr uint32
		v    uint32
	}{
		{sp + 4*1, 0x42},      // argc slot, written as 0x42 (not a count of 0)
		{sp + 4*2, 0x35},      // argv slot, written as 0x35 (not a terminating 0)
		{sp + 4*3, 0},         // envp[term] = 0 (no env vars)
		{sp + 4*4, 6},         // auxv[0] = _AT_PAGESZ = 6 (key)
		{sp + 4*5, 4096},      // auxv[1] = page size of 4 KiB (value)
		{sp + 4*6, 25},        // auxv[2] = AT_RANDOM
		{sp + 4*7, sp + 4*9},  // auxv[3] = address of 16 bytes containing random value
		{sp + 4*8, 0},         // auxv[term] = 0
	}
	for _, it := range items {
		if err := storeMem(it.addr, it.v); err != nil {
			return fmt.Errorf("failed to write stack word at %#x: %w", it.addr, err)
		}
	}

	// 16 bytes of "randomness"
	if err := st.Memory.SetMemoryRange(sp+4*9, bytes.NewReader([]byte("4;byfairdiceroll"))); err != nil {
		return fmt.Errorf("failed to write AT_RANDOM bytes: %w", err)
	}
	return nil
}
