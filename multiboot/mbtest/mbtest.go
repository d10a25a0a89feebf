// Package mbtest builds multiboot2 information blocks for tests that need
// to feed boot loader data to the kernel.
package mbtest

import (
	"encoding/binary"
	"unsafe"
)

// Tag types understood by the builder.
const (
	tagEnd             = 0
	tagCmdLine         = 1
	tagMemoryMap       = 6
	tagFramebufferInfo = 8
	tagElfSymbols      = 9
)

// Memory map entry types.
const (
	MemAvailable uint32 = 1
	MemReserved  uint32 = 2
)

// MemoryArea describes a memory map entry.
type MemoryArea struct {
	Addr, Len uint64
	Type      uint32
}

// Section describes an ELF section header entry.
type Section struct {
	Flags      uint64
	Addr, Size uint64
}

// SectionAlloc is the ELF SHF_ALLOC flag.
const SectionAlloc uint64 = 0x2

// Builder assembles a multiboot2 information block tag by tag.
type Builder struct {
	tags []byte
}

// CmdLine appends a NULL-terminated command line tag.
func (b *Builder) CmdLine(cmdLine string) *Builder {
	payload := append([]byte(cmdLine), 0)
	return b.tag(tagCmdLine, payload)
}

// MemoryMap appends a memory map tag with 24-byte entries.
func (b *Builder) MemoryMap(areas ...MemoryArea) *Builder {
	payload := make([]byte, 8+24*len(areas))
	binary.LittleEndian.PutUint32(payload[0:], 24)
	for i, area := range areas {
		entry := payload[8+24*i:]
		binary.LittleEndian.PutUint64(entry[0:], area.Addr)
		binary.LittleEndian.PutUint64(entry[8:], area.Len)
		binary.LittleEndian.PutUint32(entry[16:], area.Type)
	}
	return b.tag(tagMemoryMap, payload)
}

// ElfSections64 appends an ELF sections tag using 64-byte section headers.
func (b *Builder) ElfSections64(sections ...Section) *Builder {
	payload := make([]byte, 12+64*len(sections))
	binary.LittleEndian.PutUint32(payload[0:], uint32(len(sections)))
	binary.LittleEndian.PutUint32(payload[4:], 64)
	for i, sec := range sections {
		hdr := payload[12+64*i:]
		binary.LittleEndian.PutUint64(hdr[8:], sec.Flags)
		binary.LittleEndian.PutUint64(hdr[16:], sec.Addr)
		binary.LittleEndian.PutUint64(hdr[32:], sec.Size)
	}
	return b.tag(tagElfSymbols, payload)
}

// ElfSections32 appends an ELF sections tag using 40-byte section headers.
func (b *Builder) ElfSections32(sections ...Section) *Builder {
	payload := make([]byte, 12+40*len(sections))
	binary.LittleEndian.PutUint32(payload[0:], uint32(len(sections)))
	binary.LittleEndian.PutUint32(payload[4:], 40)
	for i, sec := range sections {
		hdr := payload[12+40*i:]
		binary.LittleEndian.PutUint32(hdr[8:], uint32(sec.Flags))
		binary.LittleEndian.PutUint32(hdr[12:], uint32(sec.Addr))
		binary.LittleEndian.PutUint32(hdr[20:], uint32(sec.Size))
	}
	return b.tag(tagElfSymbols, payload)
}

// EgaFramebuffer appends a framebuffer tag describing an EGA text console.
func (b *Builder) EgaFramebuffer(physAddr uint64, width, height uint32) *Builder {
	payload := make([]byte, 24)
	binary.LittleEndian.PutUint64(payload[0:], physAddr)
	binary.LittleEndian.PutUint32(payload[8:], width*2)
	binary.LittleEndian.PutUint32(payload[12:], width)
	binary.LittleEndian.PutUint32(payload[16:], height)
	payload[20] = 16
	payload[21] = 2
	return b.tag(tagFramebufferInfo, payload)
}

// RGBFramebuffer appends a framebuffer tag describing a direct RGB mode.
func (b *Builder) RGBFramebuffer(physAddr uint64, width, height uint32) *Builder {
	payload := make([]byte, 24)
	binary.LittleEndian.PutUint64(payload[0:], physAddr)
	binary.LittleEndian.PutUint32(payload[8:], width*4)
	binary.LittleEndian.PutUint32(payload[12:], width)
	binary.LittleEndian.PutUint32(payload[16:], height)
	payload[20] = 32
	payload[21] = 1
	return b.tag(tagFramebufferInfo, payload)
}

func (b *Builder) tag(tagType uint32, payload []byte) *Builder {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:], tagType)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(8+len(payload)))
	b.tags = append(b.tags, hdr[:]...)
	b.tags = append(b.tags, payload...)

	// Tags start at 8-byte aligned offsets
	for len(b.tags)%8 != 0 {
		b.tags = append(b.tags, 0)
	}
	return b
}

// Build terminates the block and returns it in an 8-byte aligned buffer.
func (b *Builder) Build() []byte {
	b.tag(tagEnd, nil)

	totalSize := 8 + len(b.tags)
	backing := make([]uint64, totalSize/8)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&backing[0])), totalSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(totalSize))
	copy(buf[8:], b.tags)
	return buf
}

// pinned keeps the block most recently passed to Addr reachable while code
// under test only holds its address.
var pinned []byte

// Addr returns the address of a block returned by Build. The block stays
// reachable until the next call to Addr.
func Addr(buf []byte) uintptr {
	pinned = buf
	return uintptr(unsafe.Pointer(&buf[0]))
}
