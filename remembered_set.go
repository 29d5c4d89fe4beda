package rset

import (
	"github.com/v2pro/plz/countlog"
)

// RememberedSet is the per-direction facade over the slot tables owned
// by each chunk. Inserts run on the write-barrier path, possibly
// concurrently; iteration requires mutator exclusion.
type RememberedSet struct {
	direction Direction
}

func NewRememberedSet(direction Direction) *RememberedSet {
	if direction >= numDirections {
		countlog.Fatal("event!rset.unknown direction", "direction", direction)
		panic("unknown direction")
	}
	return &RememberedSet{direction: direction}
}

func (rs *RememberedSet) Direction() Direction {
	return rs.direction
}

// Insert records the slot at addr. Idempotent. addr must lie within chunk.
func (rs *RememberedSet) Insert(chunk *Chunk, addr Address) {
	offset := rs.chunkOffset(chunk, addr)
	tables := chunk.slotTables(rs.direction)
	if tables == nil {
		tables = chunk.allocateSlotTables(rs.direction)
	}
	tables[offset>>pageSizeShift].insert(offset & (PageSize - 1))
}

// Remove drops the slot at addr. No-op if it was never recorded.
// addr must lie within chunk even when nothing is attached yet.
func (rs *RememberedSet) Remove(chunk *Chunk, addr Address) {
	offset := rs.chunkOffset(chunk, addr)
	tables := chunk.slotTables(rs.direction)
	if tables == nil {
		return
	}
	tables[offset>>pageSizeShift].remove(offset & (PageSize - 1))
}

// RemoveRange drops every slot in [start, end). The range may span
// multiple pages of the chunk.
func (rs *RememberedSet) RemoveRange(chunk *Chunk, start, end Address) {
	startOffset, endOffset := rs.rangeOffsets(chunk, start, end)
	tables := chunk.slotTables(rs.direction)
	if tables == nil {
		return
	}
	for page := startOffset >> pageSizeShift; page <= (endOffset-1)>>pageSizeShift; page++ {
		pageStart := page << pageSizeShift
		pageEnd := pageStart + PageSize
		rangeStart := startOffset
		if rangeStart < pageStart {
			rangeStart = pageStart
		}
		rangeEnd := endOffset
		if rangeEnd > pageEnd {
			rangeEnd = pageEnd
		}
		tables[page].removeRange(rangeStart-pageStart, rangeEnd-pageStart)
	}
}

// InsertTyped records a pointer embedded in a relocatable instruction
// sequence. A host equal to the chunk base (or zero) means no specific
// host object.
func (rs *RememberedSet) InsertTyped(chunk *Chunk, host Address, kind SlotKind, slot Address) {
	slotOffset := rs.chunkOffset(chunk, slot)
	hostOffset := uintptr(0)
	if host != 0 && host != chunk.base {
		hostOffset = rs.chunkOffset(chunk, host)
	}
	tables := chunk.typedSlotTables(rs.direction)
	if tables == nil {
		tables = chunk.allocateTypedSlotTables(rs.direction)
	}
	tables[slotOffset>>pageSizeShift].insert(kind, hostOffset, slotOffset)
}

// RemoveRangeTyped drops every typed slot whose slot address falls in
// [start, end). Unlike IterateTyped it never releases the tables.
func (rs *RememberedSet) RemoveRangeTyped(chunk *Chunk, start, end Address) {
	rs.rangeOffsets(chunk, start, end)
	tables := chunk.typedSlotTables(rs.direction)
	if tables == nil {
		return
	}
	for page := range tables {
		tables[page].removeRange(chunk.base, start, end)
	}
}

// IterateChunks yields every chunk holding a non-empty table of either
// kind for this direction.
func (rs *RememberedSet) IterateChunks(heap *Heap, callback func(chunk *Chunk)) {
	scan := heap.ScanChunks()
	for chunk := scan(); chunk != nil; chunk = scan() {
		if chunk.slotTables(rs.direction) != nil || chunk.typedSlotTables(rs.direction) != nil {
			callback(chunk)
		}
	}
}

// Iterate filters every recorded slot in the heap with the policy.
func (rs *RememberedSet) Iterate(heap *Heap, policy SlotPolicy) {
	rs.IterateChunks(heap, func(chunk *Chunk) {
		rs.IterateChunk(chunk, policy)
	})
}

// IterateChunk filters the chunk's recorded slots with the policy and
// releases the whole table once the pass drains the last slot.
func (rs *RememberedSet) IterateChunk(chunk *Chunk, policy SlotPolicy) {
	tables := chunk.slotTables(rs.direction)
	if tables == nil {
		return
	}
	retained := 0
	for page := range tables {
		pageBase := chunk.base + Address(uintptr(page)<<pageSizeShift)
		retained += tables[page].iterate(pageBase, policy)
	}
	if retained == 0 {
		chunk.releaseSlotTables(rs.direction)
	}
	if countlog.ShouldLog(countlog.LevelTrace) {
		countlog.Trace("event!rset.iterated chunk",
			"base", chunk.base,
			"direction", rs.direction,
			"retained", retained)
	}
}

// IterateTyped filters every recorded typed slot in the heap.
func (rs *RememberedSet) IterateTyped(heap *Heap, policy TypedSlotPolicy) {
	rs.IterateChunks(heap, func(chunk *Chunk) {
		rs.IterateTypedChunk(chunk, policy)
	})
}

// IterateTypedChunk mirrors IterateChunk for typed slots.
func (rs *RememberedSet) IterateTypedChunk(chunk *Chunk, policy TypedSlotPolicy) {
	tables := chunk.typedSlotTables(rs.direction)
	if tables == nil {
		return
	}
	retained := 0
	for page := range tables {
		retained += tables[page].iterate(chunk.base, policy)
	}
	if retained == 0 {
		chunk.releaseTypedSlotTables(rs.direction)
	}
}

// ClearAll unconditionally releases both table kinds on every chunk.
// Only the old-to-old set may be cleared wholesale; old-to-new entries
// are consumed incrementally by each minor collection.
func (rs *RememberedSet) ClearAll(heap *Heap) {
	if rs.direction != OldToOld {
		countlog.Fatal("event!rset.clear all is restricted to old-to-old",
			"direction", rs.direction)
		panic("clear all is restricted to old-to-old")
	}
	scan := heap.ScanChunks()
	for chunk := scan(); chunk != nil; chunk = scan() {
		chunk.releaseSlotTables(rs.direction)
		chunk.releaseTypedSlotTables(rs.direction)
	}
	countlog.Debug("event!rset.cleared all", "direction", rs.direction)
}

// ClearInvalidSlots drops every slot whose containing object is no
// longer reachable. Must run after marking finalized and before dead
// memory is reclaimed, so later relocation never touches garbage.
func (rs *RememberedSet) ClearInvalidSlots(heap *Heap, live LivenessPredicate) {
	rs.IterateChunks(heap, func(chunk *Chunk) {
		rs.IterateChunk(chunk, func(addr Address) SlotVerdict {
			if live(chunk, addr) {
				return KeepSlot
			}
			return RemoveSlot
		})
		// the containing object of a typed slot is its host
		rs.IterateTypedChunk(chunk, func(kind SlotKind, host Address, slot Address) SlotVerdict {
			if live(chunk, host) {
				return KeepSlot
			}
			return RemoveSlot
		})
	})
}

// VerifyValidSlots re-checks the liveness predicate without mutating
// any table and reports each violating slot through fail. Used to
// assert ClearInvalidSlots ran before a moving phase.
func (rs *RememberedSet) VerifyValidSlots(heap *Heap, live LivenessPredicate, fail func(chunk *Chunk, addr Address)) {
	rs.IterateChunks(heap, func(chunk *Chunk) {
		if tables := chunk.slotTables(rs.direction); tables != nil {
			for page := range tables {
				pageBase := chunk.base + Address(uintptr(page)<<pageSizeShift)
				tables[page].iterate(pageBase, func(addr Address) SlotVerdict {
					if !live(chunk, addr) {
						fail(chunk, addr)
					}
					return KeepSlot
				})
			}
		}
		if tables := chunk.typedSlotTables(rs.direction); tables != nil {
			for page := range tables {
				tables[page].iterate(chunk.base, func(kind SlotKind, host Address, slot Address) SlotVerdict {
					if !live(chunk, host) {
						fail(chunk, slot)
					}
					return KeepSlot
				})
			}
		}
	})
}

// rangeOffsets validates a half-open removal range against the chunk
// before any table lookup, so a bad range is fatal even on a chunk
// with nothing attached.
func (rs *RememberedSet) rangeOffsets(chunk *Chunk, start, end Address) (uintptr, uintptr) {
	startOffset := rs.chunkOffset(chunk, start)
	endOffset := uintptr(end - chunk.base)
	if startOffset >= endOffset || endOffset > chunk.size {
		countlog.Fatal("event!rset.invalid removal range",
			"base", chunk.base,
			"start", start,
			"end", end)
		panic("invalid removal range")
	}
	return startOffset, endOffset
}

func (rs *RememberedSet) chunkOffset(chunk *Chunk, addr Address) uintptr {
	if !chunk.Contains(addr) {
		countlog.Fatal("event!rset.slot address outside chunk",
			"addr", addr,
			"base", chunk.base,
			"size", chunk.size)
		panic("slot address outside chunk")
	}
	return uintptr(addr - chunk.base)
}
