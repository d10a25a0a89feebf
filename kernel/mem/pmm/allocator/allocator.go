// Package allocator implements the physical frame allocator that takes over
// the free memory registry produced by memory discovery.
package allocator

import (
	"math"

	"github.com/Nanoteck137/nano-os/kernel"
	"github.com/Nanoteck137/nano-os/kernel/kfmt"
	"github.com/Nanoteck137/nano-os/kernel/mem"
	"github.com/Nanoteck137/nano-os/kernel/mem/pmm"
	"github.com/Nanoteck137/nano-os/kernel/mem/rangeset"
)

const pageMask = uint64(mem.PageSize - 1)

var (
	// frameAllocator is the allocator instance used by the package-level
	// AllocFrame and FreeFrame functions.
	frameAllocator regionAllocator

	errMissingRegistry   = &kernel.Error{Module: "pmm", Message: "no free memory registry supplied"}
	errOutOfMemory       = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errInvalidFrame      = &kernel.Error{Module: "pmm", Message: "invalid frame"}
	errFrameNotAllocated = &kernel.Error{Module: "pmm", Message: "frame was not allocated by the frame allocator"}
)

// regionAllocator hands out page frames by carving them off the lowest
// range of a free memory registry. Freed frames are merged back into the
// registry.
type regionAllocator struct {
	free *rangeset.RangeSet

	// allocated tracks the frames handed out by AllocFrame. Only those
	// frames may be returned to free.
	allocated rangeset.RangeSet

	// allocCount tracks the number of frames currently allocated.
	allocCount uint64
}

// init takes ownership of free and trims every range to page boundaries so
// that each remaining range is made up of whole frames.
func (alloc *regionAllocator) init(free *rangeset.RangeSet) *kernel.Error {
	if free == nil {
		return errMissingRegistry
	}

	for i := 0; i < free.Len(); {
		r, before := free.Ranges()[i], free.Len()

		if r.Start&pageMask != 0 {
			head := rangeset.Range{Start: r.Start, End: min(r.Start|pageMask, r.End)}
			if err := free.Remove(head); err != nil {
				return err
			}
		}

		if r.End&pageMask != pageMask {
			tail := rangeset.Range{Start: max(r.End&^pageMask, r.Start), End: r.End}
			if err := free.Remove(tail); err != nil {
				return err
			}
		}

		// Trimming either deletes the range or leaves it at index i
		if free.Len() == before {
			i++
		}
	}

	alloc.free = free
	alloc.allocated.Clear()
	alloc.allocCount = 0
	return nil
}

// AllocFrame reserves the lowest free frame.
func (alloc *regionAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	if alloc.free == nil || alloc.free.Len() == 0 {
		return pmm.InvalidFrame, errOutOfMemory
	}

	start := alloc.free.Ranges()[0].Start
	page := rangeset.Range{Start: start, End: start + pageMask}
	if err := alloc.allocated.Insert(page); err != nil {
		return pmm.InvalidFrame, err
	}

	if err := alloc.free.Remove(page); err != nil {
		_ = alloc.allocated.Remove(page)
		return pmm.InvalidFrame, err
	}

	alloc.allocCount++
	return pmm.FrameFromAddress(start), nil
}

// FreeFrame returns a frame obtained by AllocFrame to the registry. Frames
// that were never allocated, such as the ones excluded by memory discovery,
// are rejected.
func (alloc *regionAllocator) FreeFrame(frame pmm.Frame) *kernel.Error {
	if alloc.free == nil || !frame.Valid() || frame > pmm.Frame(math.MaxUint64>>mem.PageShift) {
		return errInvalidFrame
	}

	addr := frame.Address()
	if !alloc.allocated.Contains(addr) {
		return errFrameNotAllocated
	}

	page := rangeset.Range{Start: addr, End: addr + pageMask}
	if err := alloc.allocated.Remove(page); err != nil {
		return err
	}

	if err := alloc.free.Insert(page); err != nil {
		_ = alloc.allocated.Insert(page)
		return err
	}

	if alloc.allocCount > 0 {
		alloc.allocCount--
	}
	return nil
}

// printMemoryMap prints the free ranges managed by the allocator.
func (alloc *regionAllocator) printMemoryMap() {
	kfmt.Printf("[pmm] free memory map:\n")
	for _, r := range alloc.free.Ranges() {
		kfmt.Printf("\t[0x%10x - 0x%10x], frames: %d\n", r.Start, r.End, mem.Size(r.Size()).Pages())
	}
	kfmt.Printf("[pmm] free memory: %dKb\n", uint64(mem.Size(alloc.free.TotalSize())/mem.Kb))
}

// Init sets up the kernel physical memory allocation sub-system. The
// allocator takes ownership of free; callers must not use it afterwards.
func Init(free *rangeset.RangeSet) *kernel.Error {
	if err := frameAllocator.init(free); err != nil {
		return err
	}

	frameAllocator.printMemoryMap()
	return nil
}

// AllocFrame reserves a free physical frame.
func AllocFrame() (pmm.Frame, *kernel.Error) {
	return frameAllocator.AllocFrame()
}

// FreeFrame releases a frame obtained by AllocFrame. Freeing any other frame
// fails.
func FreeFrame(frame pmm.Frame) *kernel.Error {
	return frameAllocator.FreeFrame(frame)
}
