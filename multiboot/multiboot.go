// Package multiboot provides read-only access to the multiboot2 information
// block that the boot loader passes to the kernel.
package multiboot

import "unsafe"

var infoData uintptr

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

// info describes the multiboot info section header.
type info struct {
	// Total size of multiboot info section.
	totalSize uint32

	// Always set to zero; reserved for future use
	reserved uint32
}

// tagHeader describes the header the preceedes each tag.
type tagHeader struct {
	// The type of the tag
	tagType tagType

	// The size of the tag including the header but *not* including any
	// padding. Each tag starts at an 8-byte aligned address.
	size uint32
}

// mmapHeader describes the header for a memory map specification.
type mmapHeader struct {
	// The size of each entry.
	entrySize uint32

	// The version of the entries that follow.
	entryVersion uint32
}

// elfSectionsHeader describes the header of the ELF sections tag. It is
// followed by numSections section headers, each sectionSize bytes long.
type elfSectionsHeader struct {
	numSections        uint32
	sectionSize        uint32
	strtabSectionIndex uint32
}

// elfSection32 and elfSection64 are the ELF section header layouts that can
// be found in the ELF sections tag; the tag's sectionSize selects one.
type elfSection32 struct {
	nameIndex   uint32
	sectionType uint32
	flags       uint32
	address     uint32
	offset      uint32
	size        uint32
	link        uint32
	info        uint32
	addrAlign   uint32
	entSize     uint32
}

type elfSection64 struct {
	nameIndex   uint32
	sectionType uint32
	flags       uint64
	address     uint64
	offset      uint64
	size        uint64
	link        uint32
	info        uint32
	addrAlign   uint64
	entSize     uint64
}

// FramebufferType defines the type of the initialized framebuffer.
type FramebufferType uint8

const (
	// FramebufferTypeIndexed specifies a 256-color palette.
	FramebufferTypeIndexed FramebufferType = iota

	// FramebufferTypeRGB specifies direct RGB mode.
	FramebufferTypeRGB

	// FramebufferTypeEGA specifies EGA text mode.
	FramebufferTypeEGA
)

// FramebufferInfo provides information about the initialized framebuffer.
type FramebufferInfo struct {
	// The framebuffer physical address.
	PhysAddr uint64

	// Row pitch in bytes.
	Pitch uint32

	// Width and height in pixels (or characters if Type = FramebufferTypeEGA)
	Width, Height uint32

	// Bits per pixel (non EGA modes only).
	Bpp uint8

	// Framebuffer type.
	Type FramebufferType
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the boot loader. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(MemoryMapEntry) bool

// ElfSectionFlag defines an OR-able flag associated with an ELF section.
type ElfSectionFlag uint32

const (
	// ElfSectionWritable marks the section as writable.
	ElfSectionWritable ElfSectionFlag = 1 << iota

	// ElfSectionAllocated means that the section is allocated in memory
	// when the image is loaded (e.g .bss sections)
	ElfSectionAllocated

	// ElfSectionExecutable marks the section as executable.
	ElfSectionExecutable
)

// ElfSectionVisitor defines a visitor function that gets invoked by
// VisitElfSections for each non-empty ELF section of the loaded kernel image.
type ElfSectionVisitor func(flags ElfSectionFlag, address, size uint64)

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before invoking any other function
// exported by this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// TotalSize returns the size in bytes of the multiboot information block,
// including its header and terminating tag.
func TotalSize() uint32 {
	return (*info)(unsafe.Pointer(infoData)).totalSize
}

// VisitMemRegions invokes the supplied visitor for each memory region that
// is defined by the multiboot info data that we received from the bootloader.
// Entries with an unknown type are reported as MemReserved.
//
// VisitMemRegions returns false if the boot loader did not supply a memory
// map.
func VisitMemRegions(visitor MemRegionVisitor) bool {
	curPtr, size, found := findTagByType(tagMemoryMap)
	if !found {
		return false
	}

	// curPtr points to the memory map header (2 dwords long)
	ptrMapHeader := (*mmapHeader)(unsafe.Pointer(curPtr))
	if ptrMapHeader.entrySize == 0 {
		return true
	}

	endPtr := curPtr + uintptr(size)
	for curPtr += unsafe.Sizeof(mmapHeader{}); curPtr+unsafe.Sizeof(MemoryMapEntry{}) <= endPtr; curPtr += uintptr(ptrMapHeader.entrySize) {
		entry := *(*MemoryMapEntry)(unsafe.Pointer(curPtr))
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			break
		}
	}

	return true
}

// VisitElfSections invokes visitor for each non-empty ELF section that
// belongs to the loaded kernel image. Both 32-bit and 64-bit section headers
// are supported.
//
// VisitElfSections returns false if the boot loader did not supply the ELF
// section headers of the kernel image.
func VisitElfSections(visitor ElfSectionVisitor) bool {
	curPtr, _, found := findTagByType(tagElfSymbols)
	if !found {
		return false
	}

	hdr := (*elfSectionsHeader)(unsafe.Pointer(curPtr))
	secPtr := curPtr + unsafe.Sizeof(elfSectionsHeader{})

	for secIndex := uint32(0); secIndex < hdr.numSections; secIndex, secPtr = secIndex+1, secPtr+uintptr(hdr.sectionSize) {
		var (
			flags         ElfSectionFlag
			address, size uint64
		)

		switch uintptr(hdr.sectionSize) {
		case unsafe.Sizeof(elfSection64{}):
			sec := (*elfSection64)(unsafe.Pointer(secPtr))
			flags, address, size = ElfSectionFlag(sec.flags), sec.address, sec.size
		case unsafe.Sizeof(elfSection32{}):
			sec := (*elfSection32)(unsafe.Pointer(secPtr))
			flags, address, size = ElfSectionFlag(sec.flags), uint64(sec.address), uint64(sec.size)
		default:
			return true
		}

		if size == 0 {
			continue
		}

		visitor(flags, address, size)
	}

	return true
}

// CmdLine returns the kernel command line passed by the boot loader. The
// returned string points to the multiboot info block and is not copied. The
// second return value is false if the boot loader did not supply a command
// line.
func CmdLine() (string, bool) {
	curPtr, size, found := findTagByType(tagBootCmdLine)
	if !found {
		return "", false
	}

	// The command line is a C-style NULL-terminated string
	var length int
	for ; uint32(length) < size && *(*byte)(unsafe.Pointer(curPtr + uintptr(length))) != 0; length++ {
	}

	if length == 0 {
		return "", true
	}
	return unsafe.String((*byte)(unsafe.Pointer(curPtr)), length), true
}

// GetFramebufferInfo returns information about the framebuffer initialized by the
// bootloader. This function returns nil if no framebuffer info is available.
func GetFramebufferInfo() *FramebufferInfo {
	curPtr, _, found := findTagByType(tagFramebufferInfo)
	if !found {
		return nil
	}

	return (*FramebufferInfo)(unsafe.Pointer(curPtr))
}

// findTagByType scans the multiboot info data looking for the start of of the
// specified type. It returns a pointer to the tag contents start offset and
// the content length exluding the tag header.
func findTagByType(tagType tagType) (uintptr, uint32, bool) {
	var (
		hdrSize = unsafe.Sizeof(tagHeader{})
		curPtr  = infoData + unsafe.Sizeof(info{})
		endPtr  = infoData + uintptr(TotalSize())
	)

	for curPtr+hdrSize <= endPtr {
		ptrTagHeader := (*tagHeader)(unsafe.Pointer(curPtr))
		if ptrTagHeader.tagType == tagMbSectionEnd || ptrTagHeader.size < uint32(hdrSize) {
			break
		}

		if ptrTagHeader.tagType == tagType {
			return curPtr + hdrSize, ptrTagHeader.size - uint32(hdrSize), true
		}

		// Tags are aligned at 8-byte aligned addresses
		curPtr += (uintptr(ptrTagHeader.size) + 7) &^ 7
	}

	return 0, 0, false
}

// Info exposes the multiboot accessors of this package as methods so the
// boot information can be passed to consumers that accept an interface.
type Info struct{}

// VisitMemRegions calls the package-level VisitMemRegions.
func (Info) VisitMemRegions(visitor MemRegionVisitor) bool {
	return VisitMemRegions(visitor)
}

// VisitElfSections calls the package-level VisitElfSections.
func (Info) VisitElfSections(visitor ElfSectionVisitor) bool {
	return VisitElfSections(visitor)
}

// TotalSize calls the package-level TotalSize.
func (Info) TotalSize() uint32 {
	return TotalSize()
}
