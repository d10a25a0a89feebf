// Package rangeset implements a coalescing set of closed address ranges. The
// package does not depend on any boot-time facility and none of its
// operations allocate memory, so it can be used both before the kernel has a
// memory allocator and from hosted tests.
package rangeset

import (
	"math"

	"github.com/Nanoteck137/nano-os/kernel"
	"golang.org/x/exp/slices"
)

// MaxRanges defines the number of disjoint ranges that a RangeSet can track.
const MaxRanges = 256

var (
	// ErrInvalidRange is returned when a range whose start is greater
	// than its end is supplied to a RangeSet or built by FromExclusive.
	ErrInvalidRange = &kernel.Error{Module: "rangeset", Message: "range start is greater than range end"}

	// ErrDegenerateRange is returned by FromExclusive when the exclusive
	// upper bound is 0 and converting it to an inclusive bound would wrap
	// around to the maximum address.
	ErrDegenerateRange = &kernel.Error{Module: "rangeset", Message: "exclusive upper bound of 0 cannot be converted to an inclusive range"}

	// ErrRangeSetFull is returned when an operation would need more than
	// MaxRanges entries to represent its result.
	ErrRangeSetFull = &kernel.Error{Module: "rangeset", Message: "range set capacity exhausted"}
)

// Range describes the closed interval [Start, End].
type Range struct {
	// The first address in the range.
	Start uint64

	// The last address in the range.
	End uint64
}

// FromExclusive returns the closed range that covers [start, endExclusive).
func FromExclusive(start, endExclusive uint64) (Range, *kernel.Error) {
	if endExclusive == 0 {
		return Range{}, ErrDegenerateRange
	}

	r := Range{Start: start, End: endExclusive - 1}
	if !r.Valid() {
		return Range{}, ErrInvalidRange
	}

	return r, nil
}

// Valid returns true if r.Start <= r.End.
func (r Range) Valid() bool {
	return r.Start <= r.End
}

// Contains returns true if addr is part of r.
func (r Range) Contains(addr uint64) bool {
	return r.Start <= addr && addr <= r.End
}

// Overlaps returns true if r and r2 share at least one address.
func (r Range) Overlaps(r2 Range) bool {
	return r.Start <= r2.End && r2.Start <= r.End
}

// Size returns the number of addresses in r. The range that spans the entire
// 64-bit address space contains 2^64 addresses so its size wraps to 0.
func (r Range) Size() uint64 {
	return r.End - r.Start + 1
}

// RangeSet tracks a set of addresses as a minimal list of closed ranges. The
// ranges are kept sorted by their start address and no two ranges overlap or
// are adjacent to each other.
//
// The zero value is an empty set that is ready to use. A RangeSet stores its
// ranges in a fixed-size array; copying a RangeSet copies its contents.
type RangeSet struct {
	ranges [MaxRanges]Range
	count  int
}

// Len returns the number of disjoint ranges in the set.
func (s *RangeSet) Len() int {
	return s.count
}

// Ranges returns the ranges in the set sorted by start address. The returned
// slice aliases the set's storage and is only valid until the next call to
// Insert, Remove or Clear.
func (s *RangeSet) Ranges() []Range {
	return s.ranges[:s.count:s.count]
}

// Clear removes all ranges from the set.
func (s *RangeSet) Clear() {
	s.count = 0
}

// Contains returns true if addr belongs to one of the ranges in the set.
func (s *RangeSet) Contains(addr uint64) bool {
	set := s.ranges[:s.count]
	i, _ := slices.BinarySearchFunc(set, addr, func(e Range, addr uint64) int {
		if e.End >= addr {
			return 1
		}
		return -1
	})

	return i < len(set) && set[i].Start <= addr
}

// TotalSize returns the number of addresses covered by the set.
func (s *RangeSet) TotalSize() uint64 {
	var total uint64
	for _, r := range s.ranges[:s.count] {
		total += r.Size()
	}
	return total
}

// Insert adds all addresses in r to the set. Any existing ranges that overlap
// r or are adjacent to it are merged with r into a single range.
func (s *RangeSet) Insert(r Range) *kernel.Error {
	if !r.Valid() {
		return ErrInvalidRange
	}

	// [i, j) is the run of ranges that overlap r or touch one of its ends.
	set := s.ranges[:s.count]
	i, _ := slices.BinarySearchFunc(set, r, touchesOrFollowsStart)
	j, _ := slices.BinarySearchFunc(set, r, startsPastEndGap)

	if i == j {
		if s.count == MaxRanges {
			return ErrRangeSetFull
		}

		s.count = len(slices.Insert(set, i, r))
		return nil
	}

	merged := Range{
		Start: min(r.Start, set[i].Start),
		End:   max(r.End, set[j-1].End),
	}
	s.count = len(slices.Replace(set, i, j, merged))
	return nil
}

// Remove removes all addresses in r from the set. Ranges fully covered by r
// are dropped, ranges partially covered by r are truncated and a range that
// strictly contains r is split in two.
func (s *RangeSet) Remove(r Range) *kernel.Error {
	if !r.Valid() {
		return ErrInvalidRange
	}

	// [i, j) is the run of ranges that share at least one address with r.
	set := s.ranges[:s.count]
	i, _ := slices.BinarySearchFunc(set, r, endsAtOrAfterStart)
	j, _ := slices.BinarySearchFunc(set, r, startsPastEnd)
	if i == j {
		return nil
	}

	var (
		remainder [2]Range
		n         int
	)

	if first := set[i]; first.Start < r.Start {
		remainder[n] = Range{Start: first.Start, End: r.Start - 1}
		n++
	}

	if last := set[j-1]; last.End > r.End {
		remainder[n] = Range{Start: r.End + 1, End: last.End}
		n++
	}

	if s.count-(j-i)+n > MaxRanges {
		return ErrRangeSetFull
	}

	s.count = len(slices.Replace(set, i, j, remainder[:n]...))
	return nil
}

// The comparators below never report a match; they partition the sorted set
// so that BinarySearchFunc returns the index of the first range for which the
// condition holds. Bounds are compared without computing r.Start-1 or
// r.End+1 when that would wrap around.

// touchesOrFollowsStart reports whether e ends at or after r.Start-1.
func touchesOrFollowsStart(e, r Range) int {
	if r.Start == 0 || e.End >= r.Start-1 {
		return 1
	}
	return -1
}

// startsPastEndGap reports whether e starts after r.End+1.
func startsPastEndGap(e, r Range) int {
	if r.End != math.MaxUint64 && e.Start > r.End+1 {
		return 1
	}
	return -1
}

// endsAtOrAfterStart reports whether e ends at or after r.Start.
func endsAtOrAfterStart(e, r Range) int {
	if e.End >= r.Start {
		return 1
	}
	return -1
}

// startsPastEnd reports whether e starts after r.End.
func startsPastEnd(e, r Range) int {
	if e.Start > r.End {
		return 1
	}
	return -1
}
