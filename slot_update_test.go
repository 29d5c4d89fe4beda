package rset

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// fakeCodec stores one decoded reference regardless of slot address
// and counts re-encodes.
type fakeCodec struct {
	ref     Address
	writes  int
	patched bool
}

func (codec *fakeCodec) CodeTarget(slot Address) Address { return codec.ref }
func (codec *fakeCodec) SetCodeTarget(slot Address, code Address) {
	codec.ref = code
	codec.writes++
}
func (codec *fakeCodec) IndirectionCell(slot Address) Address { return codec.ref }
func (codec *fakeCodec) SetIndirectionCell(slot Address, cell Address) {
	codec.ref = cell
	codec.writes++
}
func (codec *fakeCodec) CodeEntry(slot Address) Address { return codec.ref }
func (codec *fakeCodec) SetCodeEntry(slot Address, code Address) {
	codec.ref = code
	codec.writes++
}
func (codec *fakeCodec) EmbeddedObject(slot Address) Address { return codec.ref }
func (codec *fakeCodec) SetEmbeddedObject(slot Address, object Address) {
	codec.ref = object
	codec.writes++
}
func (codec *fakeCodec) IsPatchedBreakpoint(slot Address) bool { return codec.patched }
func (codec *fakeCodec) BreakpointTarget(slot Address) Address { return codec.ref }
func (codec *fakeCodec) SetBreakpointTarget(slot Address, code Address) {
	codec.ref = code
	codec.writes++
}

func Test_decoded_kinds_reencode_only_on_change(t *testing.T) {
	should := require.New(t)
	kinds := []SlotKind{KindCodeTarget, KindIndirectionCell, KindCodeEntry, KindEmbeddedObject}
	for _, kind := range kinds {
		codec := &fakeCodec{ref: 0x1000}
		verdict := UpdateTypedSlot(codec, kind, 0, 0x10, func(ref *Address) SlotVerdict {
			return KeepSlot
		})
		should.Equal(KeepSlot, verdict)
		should.Equal(0, codec.writes)
		verdict = UpdateTypedSlot(codec, kind, 0, 0x10, func(ref *Address) SlotVerdict {
			*ref = 0x2000
			return KeepSlot
		})
		should.Equal(KeepSlot, verdict)
		should.Equal(1, codec.writes)
		should.Equal(Address(0x2000), codec.ref)
	}
}

func Test_breakpoint_reencodes_even_when_unchanged(t *testing.T) {
	should := require.New(t)
	codec := &fakeCodec{ref: 0x1000, patched: true}
	verdict := UpdateTypedSlot(codec, KindDebugTarget, 0, 0x10, func(ref *Address) SlotVerdict {
		return KeepSlot
	})
	should.Equal(KeepSlot, verdict)
	// the live patch is re-validated on every update
	should.Equal(1, codec.writes)
	should.Equal(Address(0x1000), codec.ref)
}

func Test_unpatched_breakpoint_slot_is_stale(t *testing.T) {
	should := require.New(t)
	codec := &fakeCodec{ref: 0x1000}
	policyCalled := false
	verdict := UpdateTypedSlot(codec, KindDebugTarget, 0, 0x10, func(ref *Address) SlotVerdict {
		policyCalled = true
		return KeepSlot
	})
	should.Equal(RemoveSlot, verdict)
	should.False(policyCalled)
	should.Equal(0, codec.writes)
}

func Test_plain_object_slot_updates_in_place(t *testing.T) {
	should := require.New(t)
	word := Address(0x1000)
	slot := Address(uintptr(unsafe.Pointer(&word)))
	verdict := UpdateTypedSlot(&fakeCodec{}, KindObject, 0, slot, func(ref *Address) SlotVerdict {
		should.Equal(Address(0x1000), *ref)
		*ref = 0x2000
		return KeepSlot
	})
	should.Equal(KeepSlot, verdict)
	should.Equal(Address(0x2000), word)
}

func Test_unknown_slot_kind_is_fatal(t *testing.T) {
	should := require.New(t)
	should.Panics(func() {
		UpdateTypedSlot(&fakeCodec{}, SlotKind(numSlotKinds), 0, 0, func(ref *Address) SlotVerdict {
			return KeepSlot
		})
	})
}
