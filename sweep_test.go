package rset

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/v2pro/plz"
)

func Test_parallel_sweep_patches_every_chunk(t *testing.T) {
	should := require.New(t)
	heap := NewHeap(HeapConfig{})
	defer plz.Close(heap)
	rs := NewRememberedSet(OldToOld)
	var chunks []*Chunk
	for i := 0; i < 4; i++ {
		chunk := allocateChunk(should, heap, 1)
		chunks = append(chunks, chunk)
		for slot := 0; slot < 16; slot++ {
			addr := chunk.Base() + Address(slot*pointerSize)
			storeWord(addr, Address(slot))
			rs.Insert(chunk, addr)
		}
	}
	sweeper := NewSweeper(SweeperConfig{Workers: 3})
	var patched int64
	sweeper.Sweep(rs, heap, func(addr Address) SlotVerdict {
		storeWord(addr, loadWord(addr)+1)
		atomic.AddInt64(&patched, 1)
		return RemoveSlot
	}, nil)
	should.Equal(int64(64), patched)
	for _, chunk := range chunks {
		should.Nil(chunk.slotTables(OldToOld))
		for slot := 0; slot < 16; slot++ {
			should.Equal(Address(slot+1), loadWord(chunk.Base()+Address(slot*pointerSize)))
		}
	}
}

func Test_sweep_covers_typed_slots(t *testing.T) {
	should := require.New(t)
	heap := NewHeap(HeapConfig{})
	defer plz.Close(heap)
	rs := NewRememberedSet(OldToNew)
	chunk := allocateChunk(should, heap, 1)
	rs.InsertTyped(chunk, 0, KindObject, chunk.Base()+8)
	var typedVisited int64
	NewSweeper(SweeperConfig{Workers: 2}).Sweep(rs, heap, nil,
		func(kind SlotKind, host Address, slot Address) SlotVerdict {
			atomic.AddInt64(&typedVisited, 1)
			return RemoveSlot
		})
	should.Equal(int64(1), typedVisited)
	should.Nil(chunk.typedSlotTables(OldToNew))
}

func Test_sweep_of_empty_heap_completes(t *testing.T) {
	should := require.New(t)
	heap := NewHeap(HeapConfig{})
	defer plz.Close(heap)
	rs := NewRememberedSet(OldToOld)
	allocateChunk(should, heap, 1)
	NewSweeper(SweeperConfig{}).Sweep(rs, heap, keepAll, nil)
}
