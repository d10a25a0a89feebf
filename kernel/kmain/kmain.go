// Package kmain contains the boot sequence that runs once the rt0 code has
// set up a minimal environment for executing Go code.
package kmain

import (
	"github.com/Nanoteck137/nano-os/kernel"
	"github.com/Nanoteck137/nano-os/kernel/cpu"
	"github.com/Nanoteck137/nano-os/kernel/driver/tty"
	"github.com/Nanoteck137/nano-os/kernel/driver/video/console"
	"github.com/Nanoteck137/nano-os/kernel/hal"
	"github.com/Nanoteck137/nano-os/kernel/kfmt"
	"github.com/Nanoteck137/nano-os/kernel/mem/discovery"
	"github.com/Nanoteck137/nano-os/kernel/mem/pmm/allocator"
	"github.com/Nanoteck137/nano-os/kernel/mem/rangeset"
	"github.com/Nanoteck137/nano-os/multiboot"
)

// State describes the progress of the boot sequence.
type State uint8

// The boot sequence states in the order they are entered.
const (
	StateBooting State = iota
	StateConsoleReady
	StateDiscovering
	StateHandoff
	StateHalted
)

// HaltReason describes why the boot sequence entered StateHalted.
type HaltReason uint8

// The supported halt reasons.
const (
	HaltNone HaltReason = iota

	// HaltCompleted is set when the free memory registry was handed to
	// the allocator.
	HaltCompleted

	// HaltFatal is set when the boot sequence could not continue.
	HaltFatal
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	panicFn             = kfmt.Panic
	disableInterruptsFn = cpu.DisableInterrupts
	haltFn              = cpu.Halt
	allocatorInitFn     = allocator.Init

	// boot holds the boot sequence state. It is a global so that the
	// registry storage does not live on the small rt0 stack.
	boot bootContext
)

// bootContext owns the resources used by the boot sequence.
type bootContext struct {
	state  State
	reason HaltReason

	cons console.Ega
	vt   tty.Vt

	pipeline discovery.Pipeline

	// registry points to registryStorage until it is handed over to
	// the allocator.
	registry        *rangeset.RangeSet
	registryStorage rangeset.RangeSet
}

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr uintptr) {
	boot.run(multibootInfoPtr)
}

func (b *bootContext) run(multibootInfoPtr uintptr) {
	b.state, b.reason = StateBooting, HaltNone
	multiboot.SetInfoPtr(multibootInfoPtr)

	hal.AttachTerminal(&b.vt, &b.cons)
	b.vt.SetColor(console.White, console.Magenta)
	b.vt.Clear()
	kfmt.SetOutputSink(&b.vt)
	b.state = StateConsoleReady

	kfmt.Printf("Welcome to NanoOS v0.01\n")
	if cmdLine, ok := multiboot.CmdLine(); ok {
		kfmt.Printf("Command Line: %s\n", cmdLine)
	}

	b.state = StateDiscovering
	b.registry = &b.registryStorage
	b.pipeline = discovery.Pipeline{BootInfoAddr: uint64(multibootInfoPtr)}
	if err := b.pipeline.Run(multiboot.Info{}, b.registry, &b.vt); err != nil {
		b.halt(HaltFatal, err)
		return
	}

	b.state = StateHandoff
	free := b.registry
	b.registry = nil
	if err := allocatorInitFn(free); err != nil {
		b.halt(HaltFatal, err)
		return
	}

	b.halt(HaltCompleted, nil)
}

// halt moves the boot sequence to StateHalted and stops the CPU. Fatal errors
// are reported through the kernel panic handler.
func (b *bootContext) halt(reason HaltReason, err *kernel.Error) {
	b.state, b.reason = StateHalted, reason

	if reason == HaltFatal {
		panicFn(err)
		return
	}

	disableInterruptsFn()
	haltFn()
}
