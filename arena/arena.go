package arena

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"github.com/v2pro/plz"
	"github.com/v2pro/plz/countlog"
)

// Region is one contiguous anonymous mapping. The memory is zeroed by
// the kernel and stays valid until released.
type Region struct {
	mem mmap.MMap
}

func (region *Region) Base() uintptr {
	return uintptr(unsafe.Pointer(&region.mem[0]))
}

func (region *Region) Size() int {
	return len(region.mem)
}

func (region *Region) Bytes() []byte {
	return region.mem
}

// Arena is thread safe
type Arena struct {
	// only lock the modification of regions map
	// does not cover reading or writing mapped memory
	mapMutex *sync.Mutex
	regions  map[*Region]bool
}

func New() *Arena {
	return &Arena{
		mapMutex: &sync.Mutex{},
		regions:  map[*Region]bool{},
	}
}

func (arena *Arena) Map(size int) (*Region, error) {
	if size == 0 {
		return nil, errors.New("0 is not a valid region size")
	}
	mem, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	countlog.TraceCall("callee!mmap.MapRegion", err)
	if err != nil {
		return nil, err
	}
	region := &Region{mem: mem}
	arena.mapMutex.Lock()
	arena.regions[region] = true
	arena.mapMutex.Unlock()
	countlog.Debug("event!arena.map region", "base", region.Base(), "size", size)
	return region, nil
}

func (arena *Arena) Release(region *Region) error {
	arena.mapMutex.Lock()
	if !arena.regions[region] {
		arena.mapMutex.Unlock()
		return nil
	}
	delete(arena.regions, region)
	arena.mapMutex.Unlock()
	err := region.mem.Unmap()
	countlog.TraceCall("callee!mmap.Unmap", err)
	return err
}

func (arena *Arena) Close() error {
	arena.mapMutex.Lock()
	defer arena.mapMutex.Unlock()
	var errs []error
	for region := range arena.regions {
		err := region.mem.Unmap()
		if err != nil {
			errs = append(errs, err)
			countlog.Error("event!arena.failed to unmap region", "err", err)
		}
	}
	arena.regions = map[*Region]bool{}
	return plz.MergeErrors(errs...)
}
