package rset

import (
	"sync/atomic"
	"unsafe"

	"github.com/esdb/biter"
)

const (
	pageSizeShift = 20
	// PageSize is the fixed page unit subdividing every chunk; slot
	// tables address one page each.
	PageSize = 1 << pageSizeShift

	pointerShift = 3
	pointerSize  = 1 << pointerShift

	slotsPerWord   = 64
	wordsPerBucket = 64
	slotsPerBucket = slotsPerWord * wordsPerBucket
	bucketsPerPage = PageSize / pointerSize / slotsPerBucket
)

type slotBucket [wordsPerBucket]uint64

// slotTable records which pointer cells of one page hold tracked slots,
// one bit per cell. Buckets are compare-and-allocated on first use so
// sparse pages stay cheap, and bits are set with narrow CAS updates so
// concurrent inserts into the same page need no lock.
type slotTable struct {
	buckets [bucketsPerPage]unsafe.Pointer // *slotBucket
}

func (table *slotTable) insert(offset uintptr) {
	slot := offset >> pointerShift
	bucket := table.bucket(slot / slotsPerBucket)
	word := &bucket[(slot%slotsPerBucket)/slotsPerWord]
	mask := uint64(1) << (slot % slotsPerWord)
	for {
		old := atomic.LoadUint64(word)
		if old&mask != 0 {
			return
		}
		if atomic.CompareAndSwapUint64(word, old, old|mask) {
			return
		}
	}
}

func (table *slotTable) remove(offset uintptr) {
	slot := offset >> pointerShift
	bucket := table.lookupBucket(slot / slotsPerBucket)
	if bucket == nil {
		return
	}
	word := &bucket[(slot%slotsPerBucket)/slotsPerWord]
	mask := uint64(1) << (slot % slotsPerWord)
	for {
		old := atomic.LoadUint64(word)
		if old&mask == 0 {
			return
		}
		if atomic.CompareAndSwapUint64(word, old, old&^mask) {
			return
		}
	}
}

// removeRange clears every slot whose pointer cell overlaps the
// half-open byte range [start, end). The start bound floors into its
// containing cell, agreeing with how insert maps unaligned offsets.
// Buckets entirely covered by the range are released wholesale.
func (table *slotTable) removeRange(start, end uintptr) {
	first := start >> pointerShift
	limit := (end + pointerSize - 1) >> pointerShift
	for slot := first; slot < limit; {
		bucketIdx := slot / slotsPerBucket
		bucketStart := bucketIdx * slotsPerBucket
		bucketEnd := bucketStart + slotsPerBucket
		if slot == bucketStart && bucketEnd <= limit {
			atomic.StorePointer(&table.buckets[bucketIdx], nil)
			slot = bucketEnd
			continue
		}
		bucket := table.lookupBucket(bucketIdx)
		if bucket == nil {
			slot = bucketEnd
			continue
		}
		for slot < limit && slot < bucketEnd {
			wordStart := slot - slot%slotsPerWord
			wordEnd := wordStart + slotsPerWord
			mask := ^uint64(0) << (slot - wordStart)
			if limit < wordEnd {
				mask &= (uint64(1) << (limit - wordStart)) - 1
			}
			word := &bucket[(slot%slotsPerBucket)/slotsPerWord]
			for {
				old := atomic.LoadUint64(word)
				if old&mask == 0 {
					break
				}
				if atomic.CompareAndSwapUint64(word, old, old&^mask) {
					break
				}
			}
			slot = wordEnd
		}
	}
}

// iterate visits every present slot exactly once, clears the ones the
// policy removes and frees buckets drained by the pass. Callers must
// have excluded concurrent inserts. Returns the count still present.
func (table *slotTable) iterate(pageBase Address, policy SlotPolicy) int {
	retained := 0
	for bucketIdx := range table.buckets {
		bucket := table.lookupBucket(uintptr(bucketIdx))
		if bucket == nil {
			continue
		}
		inBucket := 0
		for wordIdx := range bucket {
			word := bucket[wordIdx]
			if word == 0 {
				continue
			}
			iter := biter.Bits(word).ScanForward()
			for {
				bit := iter()
				if bit == biter.NotFound {
					break
				}
				slot := uintptr(bucketIdx)*slotsPerBucket +
					uintptr(wordIdx)*slotsPerWord + uintptr(bit)
				if policy(pageBase+Address(slot<<pointerShift)) == KeepSlot {
					retained++
					inBucket++
				} else {
					word &^= uint64(1) << uintptr(bit)
				}
			}
			bucket[wordIdx] = word
		}
		if inBucket == 0 {
			atomic.StorePointer(&table.buckets[bucketIdx], nil)
		}
	}
	return retained
}

func (table *slotTable) bucket(bucketIdx uintptr) *slotBucket {
	p := atomic.LoadPointer(&table.buckets[bucketIdx])
	if p != nil {
		return (*slotBucket)(p)
	}
	fresh := new(slotBucket)
	if atomic.CompareAndSwapPointer(&table.buckets[bucketIdx], nil, unsafe.Pointer(fresh)) {
		return fresh
	}
	// lost the race, somebody else allocated it
	return (*slotBucket)(atomic.LoadPointer(&table.buckets[bucketIdx]))
}

func (table *slotTable) lookupBucket(bucketIdx uintptr) *slotBucket {
	return (*slotBucket)(atomic.LoadPointer(&table.buckets[bucketIdx]))
}
