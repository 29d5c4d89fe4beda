package rset

import (
	"unsafe"

	"github.com/v2pro/plz/countlog"
)

// RefCodec decodes and re-encodes pointers embedded in relocatable
// instruction sequences. Supplied by the code backend; one method pair
// per embedding, plus the predicate reporting whether a breakpoint
// site currently carries a live patch.
type RefCodec interface {
	CodeTarget(slot Address) Address
	SetCodeTarget(slot Address, code Address)
	IndirectionCell(slot Address) Address
	SetIndirectionCell(slot Address, cell Address)
	CodeEntry(slot Address) Address
	SetCodeEntry(slot Address, code Address)
	EmbeddedObject(slot Address) Address
	SetEmbeddedObject(slot Address, object Address)
	IsPatchedBreakpoint(slot Address) bool
	BreakpointTarget(slot Address) Address
	SetBreakpointTarget(slot Address, code Address)
}

// UpdateTypedSlot decodes the reference behind one typed slot, applies
// the policy and re-encodes. Decoded kinds re-encode only when the
// policy redirected the reference. Breakpoint slots re-encode
// unconditionally while patched, re-validating the live patch; an
// unpatched breakpoint slot is stale and answers RemoveSlot without
// consulting the policy.
func UpdateTypedSlot(codec RefCodec, kind SlotKind, host Address, slot Address, policy ObjectPolicy) SlotVerdict {
	switch kind {
	case KindCodeTarget:
		return updateDecoded(codec.CodeTarget, codec.SetCodeTarget, slot, policy)
	case KindIndirectionCell:
		return updateDecoded(codec.IndirectionCell, codec.SetIndirectionCell, slot, policy)
	case KindCodeEntry:
		return updateDecoded(codec.CodeEntry, codec.SetCodeEntry, slot, policy)
	case KindEmbeddedObject:
		return updateDecoded(codec.EmbeddedObject, codec.SetEmbeddedObject, slot, policy)
	case KindDebugTarget:
		if !codec.IsPatchedBreakpoint(slot) {
			return RemoveSlot
		}
		ref := codec.BreakpointTarget(slot)
		verdict := policy(&ref)
		codec.SetBreakpointTarget(slot, ref)
		return verdict
	case KindObject:
		return policy((*Address)(unsafe.Pointer(uintptr(slot))))
	}
	countlog.Fatal("event!rset.unknown typed slot kind",
		"kind", kind,
		"host", host,
		"slot", slot)
	panic("unknown typed slot kind")
}

func updateDecoded(decode func(Address) Address, encode func(Address, Address), slot Address, policy ObjectPolicy) SlotVerdict {
	ref := decode(slot)
	old := ref
	verdict := policy(&ref)
	if ref != old {
		encode(slot, ref)
	}
	return verdict
}
