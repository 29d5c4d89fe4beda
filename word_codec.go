package rset

import (
	"unsafe"
)

const (
	// codeHeaderSize displaces a code object's address from its first
	// instruction; entry-style encodings store the instruction address.
	codeHeaderSize = 0x40

	breakpointPatchedMarker = 0xcc
	breakpointClearedMarker = 0x90
)

// WordCodec is a RefCodec over raw chunk memory. Object references are
// stored as plain words; code references are stored as instruction
// entry addresses; a breakpoint site is one marker byte followed by
// the entry word of the patched-in handler.
type WordCodec struct{}

func (WordCodec) CodeTarget(slot Address) Address {
	return loadWord(slot) - codeHeaderSize
}

func (WordCodec) SetCodeTarget(slot Address, code Address) {
	storeWord(slot, code+codeHeaderSize)
}

func (WordCodec) IndirectionCell(slot Address) Address {
	return loadWord(slot)
}

func (WordCodec) SetIndirectionCell(slot Address, cell Address) {
	storeWord(slot, cell)
}

func (WordCodec) CodeEntry(slot Address) Address {
	return loadWord(slot) - codeHeaderSize
}

func (WordCodec) SetCodeEntry(slot Address, code Address) {
	storeWord(slot, code+codeHeaderSize)
}

func (WordCodec) EmbeddedObject(slot Address) Address {
	return loadWord(slot)
}

func (WordCodec) SetEmbeddedObject(slot Address, object Address) {
	storeWord(slot, object)
}

func (WordCodec) IsPatchedBreakpoint(slot Address) bool {
	return loadByte(slot) == breakpointPatchedMarker
}

func (WordCodec) BreakpointTarget(slot Address) Address {
	return loadWord(slot+1) - codeHeaderSize
}

func (WordCodec) SetBreakpointTarget(slot Address, code Address) {
	storeWord(slot+1, code+codeHeaderSize)
}

// PatchBreakpoint installs a live patch at the site, as the debugger
// would before the slot is remembered.
func (WordCodec) PatchBreakpoint(slot Address, code Address) {
	storeByte(slot, breakpointPatchedMarker)
	storeWord(slot+1, code+codeHeaderSize)
}

// ClearBreakpoint reverts the site to its unpatched state.
func (WordCodec) ClearBreakpoint(slot Address) {
	storeByte(slot, breakpointClearedMarker)
}

func loadWord(addr Address) Address {
	return *(*Address)(unsafe.Pointer(uintptr(addr)))
}

func storeWord(addr Address, value Address) {
	*(*Address)(unsafe.Pointer(uintptr(addr))) = value
}

func loadByte(addr Address) byte {
	return *(*byte)(unsafe.Pointer(uintptr(addr)))
}

func storeByte(addr Address, value byte) {
	*(*byte)(unsafe.Pointer(uintptr(addr))) = value
}
