package rset

import (
	"sync"

	"github.com/v2pro/plz/countlog"
)

const (
	typedOffsetBits = 29
	// maxTypedOffset bounds both offsets of a typed slot so the kind
	// can share the offset word.
	maxTypedOffset  = 1 << typedOffsetBits
	typedOffsetMask = maxTypedOffset - 1
)

// typedSlot packs (kind, host offset, slot offset); offsets are
// chunk-relative.
type typedSlot struct {
	kindAndOffset uint32
	hostOffset    uint32
}

func packTypedSlot(kind SlotKind, hostOffset, slotOffset uintptr) typedSlot {
	if hostOffset >= maxTypedOffset || slotOffset >= maxTypedOffset {
		countlog.Fatal("event!rset.typed slot offset exceeds packing limit",
			"kind", kind,
			"hostOffset", hostOffset,
			"slotOffset", slotOffset)
		panic("typed slot offset exceeds packing limit")
	}
	return typedSlot{
		kindAndOffset: uint32(kind)<<typedOffsetBits | uint32(slotOffset),
		hostOffset:    uint32(hostOffset),
	}
}

func (slot typedSlot) kind() SlotKind {
	return SlotKind(slot.kindAndOffset >> typedOffsetBits)
}

func (slot typedSlot) slotOffset() uintptr {
	return uintptr(slot.kindAndOffset & typedOffsetMask)
}

// typedSlotTable records the pointers of one page that are embedded in
// relocatable instruction sequences. Entries carry a decoding kind a
// bitmap cannot represent and are sparse, so they live in an ordered
// list instead of bit cells. Not deduplicated.
type typedSlotTable struct {
	// only bounds insert-insert races; iteration runs with mutators excluded
	appendMutex sync.Mutex
	slots       []typedSlot
}

func (table *typedSlotTable) insert(kind SlotKind, hostOffset, slotOffset uintptr) {
	slot := packTypedSlot(kind, hostOffset, slotOffset)
	table.appendMutex.Lock()
	table.slots = append(table.slots, slot)
	table.appendMutex.Unlock()
}

// iterate visits entries in insertion order, dropping the ones the
// policy removes. Returns the count still present.
func (table *typedSlotTable) iterate(chunkBase Address, policy TypedSlotPolicy) int {
	retained := table.slots[:0]
	for _, slot := range table.slots {
		verdict := policy(slot.kind(),
			chunkBase+Address(slot.hostOffset),
			chunkBase+Address(slot.slotOffset()))
		if verdict == KeepSlot {
			retained = append(retained, slot)
		}
	}
	table.slots = retained
	return len(retained)
}

// removeRange is an iterate composition, not separate storage: entries
// whose slot address falls in [start, end) are removed.
func (table *typedSlotTable) removeRange(chunkBase, start, end Address) int {
	return table.iterate(chunkBase, func(kind SlotKind, host Address, slot Address) SlotVerdict {
		if start <= slot && slot < end {
			return RemoveSlot
		}
		return KeepSlot
	})
}
