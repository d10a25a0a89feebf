// Package discovery builds the registry of free physical memory from the
// information supplied by the boot loader.
package discovery

import (
	"io"

	"github.com/Nanoteck137/nano-os/kernel"
	"github.com/Nanoteck137/nano-os/kernel/kfmt"
	"github.com/Nanoteck137/nano-os/kernel/mem"
	"github.com/Nanoteck137/nano-os/kernel/mem/rangeset"
	"github.com/Nanoteck137/nano-os/multiboot"
)

var (
	// ErrMissingMemoryMap is returned when the boot loader did not supply
	// a memory map.
	ErrMissingMemoryMap = &kernel.Error{Module: "mem_discovery", Message: "boot loader did not supply a memory map"}

	// ErrMissingSectionInfo is returned when the boot loader did not
	// supply the ELF sections of the kernel image or none of them is
	// loaded in memory.
	ErrMissingSectionInfo = &kernel.Error{Module: "mem_discovery", Message: "boot loader did not supply the kernel ELF sections"}

	outputPrefix = []byte("[mem_discovery] ")

	// lowMemory is the legacy region that hosts BIOS data and firmware.
	lowMemory = rangeset.Range{Start: 0, End: uint64(mem.LowMemoryEnd) - 1}
)

// BootInfo provides the boot loader supplied data that memory discovery
// consumes.
type BootInfo interface {
	// VisitMemRegions invokes visitor for each entry of the memory map. It
	// returns false if no memory map is available.
	VisitMemRegions(visitor multiboot.MemRegionVisitor) bool

	// VisitElfSections invokes visitor for each non-empty section of the
	// kernel image. It returns false if no section info is available.
	VisitElfSections(visitor multiboot.ElfSectionVisitor) bool

	// TotalSize returns the size of the boot information structure.
	TotalSize() uint32
}

// Stage identifies a step of the discovery pipeline.
type Stage uint8

// The pipeline stages in execution order.
const (
	StageAcquireMemoryMap Stage = iota
	StageSeedRegistry
	StageExcludeLowMemory
	StageExcludeKernelImage
	StageExcludeBootInfo
	StageDone
)

// String implements fmt.Stringer for Stage.
func (s Stage) String() string {
	switch s {
	case StageAcquireMemoryMap:
		return "acquire-memory-map"
	case StageSeedRegistry:
		return "seed-registry"
	case StageExcludeLowMemory:
		return "exclude-low-memory"
	case StageExcludeKernelImage:
		return "exclude-kernel-image"
	case StageExcludeBootInfo:
		return "exclude-boot-info"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Pipeline runs the memory discovery stages. A Pipeline is used once; the
// zero value with BootInfoAddr set is ready to run.
type Pipeline struct {
	// BootInfoAddr is the physical address of the boot information
	// structure.
	BootInfoAddr uint64

	stage  Stage
	failed bool

	areaCount, availCount int
	kernelImage, bootInfo rangeset.Range
}

// Stage returns the stage that the pipeline is currently at. After Run
// returns this is either StageDone or the stage that failed.
func (p *Pipeline) Stage() Stage {
	return p.stage
}

// FailedStage returns the stage that caused Run to fail. The second return
// value is false if Run did not fail.
func (p *Pipeline) FailedStage() (Stage, bool) {
	return p.stage, p.failed
}

// KernelImage returns the address window occupied by the loaded kernel
// image. It is valid once the kernel image stage has completed.
func (p *Pipeline) KernelImage() rangeset.Range {
	return p.kernelImage
}

// BootInfo returns the address window occupied by the boot information
// structure. It is valid once the boot info stage has completed.
func (p *Pipeline) BootInfo() rangeset.Range {
	return p.bootInfo
}

// Run clears free and fills it with the physical memory that is free for use
// according to info. Progress is written to w. Run stops at the first stage
// that fails and returns its error; stages are never retried.
func (p *Pipeline) Run(info BootInfo, free *rangeset.RangeSet, w io.Writer) *kernel.Error {
	if w == nil {
		w = io.Discard
	}
	out := kfmt.PrefixWriter{Sink: w, Prefix: outputPrefix}

	free.Clear()
	p.failed = false

	for p.stage = StageAcquireMemoryMap; p.stage < StageDone; p.stage++ {
		var err *kernel.Error

		switch p.stage {
		case StageAcquireMemoryMap:
			err = p.acquireMemoryMap(info, &out)
		case StageSeedRegistry:
			err = p.seedRegistry(info, free)
		case StageExcludeLowMemory:
			err = free.Remove(lowMemory)
		case StageExcludeKernelImage:
			err = p.excludeKernelImage(info, free, &out)
		case StageExcludeBootInfo:
			err = p.excludeBootInfo(info, free, &out)
		}

		if err != nil {
			p.failed = true
			kfmt.Fprintf(&out, "stage %s failed: [%s] %s\n", p.stage.String(), err.Module, err.Message)
			return err
		}
	}

	kfmt.Fprintf(&out, "free memory ranges:\n")
	for _, r := range free.Ranges() {
		kfmt.Fprintf(&out, "  [0x%10x - 0x%10x]\n", r.Start, r.End)
	}
	kfmt.Fprintf(&out, "free memory: %dKb\n", uint64(mem.Size(free.TotalSize())/mem.Kb))

	return nil
}

func (p *Pipeline) acquireMemoryMap(info BootInfo, w io.Writer) *kernel.Error {
	p.areaCount, p.availCount = 0, 0

	if !info.VisitMemRegions(func(entry multiboot.MemoryMapEntry) bool {
		p.areaCount++
		if entry.Type == multiboot.MemAvailable {
			p.availCount++
		}
		return true
	}) {
		return ErrMissingMemoryMap
	}

	kfmt.Fprintf(w, "memory map: %d entries, %d available\n", p.areaCount, p.availCount)
	return nil
}

// seedRegistry inserts every available memory region into free.
func (p *Pipeline) seedRegistry(info BootInfo, free *rangeset.RangeSet) *kernel.Error {
	var err *kernel.Error

	info.VisitMemRegions(func(entry multiboot.MemoryMapEntry) bool {
		if entry.Type != multiboot.MemAvailable {
			return true
		}

		var r rangeset.Range
		if r, err = rangeset.FromExclusive(entry.PhysAddress, entry.PhysAddress+entry.Length); err != nil {
			return false
		}

		err = free.Insert(r)
		return err == nil
	})

	return err
}

// excludeKernelImage removes the window spanned by the loaded sections of
// the kernel image from free.
func (p *Pipeline) excludeKernelImage(info BootInfo, free *rangeset.RangeSet, w io.Writer) *kernel.Error {
	var (
		err    *kernel.Error
		loaded bool
		span   rangeset.Range
	)

	if !info.VisitElfSections(func(flags multiboot.ElfSectionFlag, address, size uint64) {
		if err != nil || flags&multiboot.ElfSectionAllocated == 0 {
			return
		}

		var r rangeset.Range
		if r, err = rangeset.FromExclusive(address, address+size); err != nil {
			return
		}

		if !loaded {
			span, loaded = r, true
			return
		}

		span.Start = min(span.Start, r.Start)
		span.End = max(span.End, r.End)
	}) {
		return ErrMissingSectionInfo
	}

	switch {
	case err != nil:
		return err
	case !loaded:
		return ErrMissingSectionInfo
	}

	p.kernelImage = span
	kfmt.Fprintf(w, "kernel image: [0x%10x - 0x%10x]\n", span.Start, span.End)
	return free.Remove(span)
}

// excludeBootInfo removes the boot information structure from free.
func (p *Pipeline) excludeBootInfo(info BootInfo, free *rangeset.RangeSet, w io.Writer) *kernel.Error {
	r, err := rangeset.FromExclusive(p.BootInfoAddr, p.BootInfoAddr+uint64(info.TotalSize()))
	if err != nil {
		return err
	}

	p.bootInfo = r
	kfmt.Fprintf(w, "boot info: [0x%10x - 0x%10x]\n", r.Start, r.End)
	return free.Remove(r)
}
