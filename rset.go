// Package rset tracks the memory locations holding pointers that cross
// a generation boundary, so that minor collections and compaction can
// find and patch them without rescanning the heap. Slots are recorded
// per chunk at page granularity by write barriers and consumed by the
// marker and the compactor through filtering iteration.
package rset

// Address is a location inside the managed heap.
type Address uintptr

// Direction selects which generation boundary a remembered set tracks.
// It is fixed per RememberedSet instance, never mixed at runtime.
type Direction uint8

const (
	// OldToOld tracks pointers needed across full compaction.
	OldToOld Direction = iota
	// OldToNew tracks pointers needed for minor collections only.
	OldToNew

	numDirections = 2
)

func (direction Direction) String() string {
	if direction == OldToOld {
		return "oldToOld"
	}
	return "oldToNew"
}

// SlotVerdict is returned by policies to retain or drop a visited slot.
type SlotVerdict uint8

const (
	KeepSlot SlotVerdict = iota
	RemoveSlot
)

// SlotKind tells the dispatcher how a typed slot encodes its pointer.
type SlotKind uint8

const (
	KindCodeTarget SlotKind = iota
	KindIndirectionCell
	KindCodeEntry
	KindDebugTarget
	KindEmbeddedObject
	KindObject

	numSlotKinds = 6
)

// SlotPolicy inspects one plain slot address. The policy may rewrite
// the pointer stored there before answering.
type SlotPolicy func(addr Address) SlotVerdict

// TypedSlotPolicy inspects one typed slot as (kind, host, slot) addresses.
type TypedSlotPolicy func(kind SlotKind, host Address, slot Address) SlotVerdict

// ObjectPolicy inspects one decoded heap-object reference and may
// redirect it to a moved object's new address.
type ObjectPolicy func(ref *Address) SlotVerdict

// LivenessPredicate reports whether the object containing addr is
// still reachable. Only meaningful after marking finalized.
type LivenessPredicate func(chunk *Chunk, addr Address) bool
