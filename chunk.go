package rset

import (
	"sync/atomic"
	"unsafe"

	"github.com/doonfrs/v8-crosswalk/arena"
	"github.com/v2pro/plz/countlog"
)

// Chunk is a contiguous heap region subdivided into fixed-size pages.
// It exclusively owns at most one slot table array and one typed slot
// table array per direction; all access goes through the attach and
// release accessors, the raw structures are never handed out for
// unmediated mutation. Attaching happens on the write-barrier path and
// may race with concurrent inserts, so the owning pointers are swapped
// with CAS. Detaching only happens while mutators are excluded.
type Chunk struct {
	base   Address
	size   uintptr
	region *arena.Region

	slotTablePtrs      [numDirections]unsafe.Pointer // *[]slotTable
	typedSlotTablePtrs [numDirections]unsafe.Pointer // *[]typedSlotTable
}

func newChunk(base Address, size uintptr, region *arena.Region) *Chunk {
	return &Chunk{base: base, size: size, region: region}
}

func (chunk *Chunk) Base() Address {
	return chunk.base
}

func (chunk *Chunk) Size() uintptr {
	return chunk.size
}

func (chunk *Chunk) Contains(addr Address) bool {
	return addr >= chunk.base && addr < chunk.base+Address(chunk.size)
}

func (chunk *Chunk) PageCount() int {
	return int((chunk.size + PageSize - 1) >> pageSizeShift)
}

func (chunk *Chunk) slotTables(direction Direction) []slotTable {
	p := atomic.LoadPointer(&chunk.slotTablePtrs[direction])
	if p == nil {
		return nil
	}
	return *(*[]slotTable)(p)
}

func (chunk *Chunk) allocateSlotTables(direction Direction) []slotTable {
	tables := make([]slotTable, chunk.PageCount())
	if atomic.CompareAndSwapPointer(&chunk.slotTablePtrs[direction], nil, unsafe.Pointer(&tables)) {
		countlog.Trace("event!rset.attach slot tables",
			"base", chunk.base,
			"direction", direction)
		return tables
	}
	return chunk.slotTables(direction)
}

func (chunk *Chunk) releaseSlotTables(direction Direction) {
	atomic.StorePointer(&chunk.slotTablePtrs[direction], nil)
	countlog.Trace("event!rset.release slot tables",
		"base", chunk.base,
		"direction", direction)
}

func (chunk *Chunk) typedSlotTables(direction Direction) []typedSlotTable {
	p := atomic.LoadPointer(&chunk.typedSlotTablePtrs[direction])
	if p == nil {
		return nil
	}
	return *(*[]typedSlotTable)(p)
}

func (chunk *Chunk) allocateTypedSlotTables(direction Direction) []typedSlotTable {
	tables := make([]typedSlotTable, chunk.PageCount())
	if atomic.CompareAndSwapPointer(&chunk.typedSlotTablePtrs[direction], nil, unsafe.Pointer(&tables)) {
		countlog.Trace("event!rset.attach typed slot tables",
			"base", chunk.base,
			"direction", direction)
		return tables
	}
	return chunk.typedSlotTables(direction)
}

func (chunk *Chunk) releaseTypedSlotTables(direction Direction) {
	atomic.StorePointer(&chunk.typedSlotTablePtrs[direction], nil)
	countlog.Trace("event!rset.release typed slot tables",
		"base", chunk.base,
		"direction", direction)
}
