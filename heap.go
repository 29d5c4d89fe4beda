package rset

import (
	"sync"

	"github.com/doonfrs/v8-crosswalk/arena"
	"github.com/hashicorp/golang-lru"
	"github.com/v2pro/plz/countlog"
)

type HeapConfig struct {
	// ChunkLookupCacheSize bounds the page -> chunk cache used by
	// ChunkOf on the write-barrier path.
	ChunkLookupCacheSize int
}

// Heap owns the chunk registry and the memory behind it. Chunks are
// only ever added; releasing memory is the arena's job at Close.
type Heap struct {
	HeapConfig
	arena *arena.Arena

	// only locks the chunks slice, the chunks themselves guard their own state
	chunksMutex *sync.Mutex
	chunks      []*Chunk

	lookup *lru.ARCCache
}

func NewHeap(config HeapConfig) *Heap {
	if config.ChunkLookupCacheSize == 0 {
		config.ChunkLookupCacheSize = 1024
	}
	lookup, _ := lru.NewARC(config.ChunkLookupCacheSize)
	return &Heap{
		HeapConfig:  config,
		arena:       arena.New(),
		chunksMutex: &sync.Mutex{},
		lookup:      lookup,
	}
}

// AllocateChunk maps a chunk spanning the given number of pages and
// registers it with the heap.
func (heap *Heap) AllocateChunk(pages int) (*Chunk, error) {
	region, err := heap.arena.Map(pages << pageSizeShift)
	countlog.TraceCall("callee!arena.Map", err)
	if err != nil {
		return nil, err
	}
	chunk := newChunk(Address(region.Base()), uintptr(region.Size()), region)
	heap.chunksMutex.Lock()
	heap.chunks = append(heap.chunks, chunk)
	heap.chunksMutex.Unlock()
	countlog.Debug("event!rset.allocate chunk",
		"base", chunk.base,
		"pages", pages)
	return chunk, nil
}

// ScanChunks returns a lazy iterator over every chunk, restartable by
// calling again. The iterator yields nil once exhausted.
func (heap *Heap) ScanChunks() func() *Chunk {
	heap.chunksMutex.Lock()
	chunks := heap.chunks
	heap.chunksMutex.Unlock()
	next := 0
	return func() *Chunk {
		if next >= len(chunks) {
			return nil
		}
		chunk := chunks[next]
		next++
		return chunk
	}
}

// ChunkOf resolves the chunk containing addr, or nil. Page-keyed ARC
// cache in front of a registry scan; barriers hit the same pages over
// and over.
func (heap *Heap) ChunkOf(addr Address) *Chunk {
	pageKey := uint64(addr >> pageSizeShift)
	if cached, found := heap.lookup.Get(pageKey); found {
		chunk := cached.(*Chunk)
		if chunk.Contains(addr) {
			return chunk
		}
	}
	scan := heap.ScanChunks()
	for chunk := scan(); chunk != nil; chunk = scan() {
		if chunk.Contains(addr) {
			heap.lookup.Add(pageKey, chunk)
			return chunk
		}
	}
	return nil
}

func (heap *Heap) Close() error {
	return heap.arena.Close()
}
