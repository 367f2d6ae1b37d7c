package pmm

import (
	"github.com/tdelabro/kernel-from-scratch/kernel"
	"github.com/tdelabro/kernel-from-scratch/kernel/hal/multiboot"
	"github.com/tdelabro/kernel-from-scratch/kernel/kfmt/early"
	"github.com/tdelabro/kernel-from-scratch/kernel/mem"
	ksync "github.com/tdelabro/kernel-from-scratch/kernel/sync"
)

const (
	// totalFrames covers the entire 4GiB 32-bit physical address space at
	// 4KiB granularity.
	totalFrames = 1024 * 1024
	bitmapWords = totalFrames / 32
)

var (
	errNoFrameAvailable = &kernel.Error{Module: "pmm", Message: "no free frame available"}
	errFrameNotInUse    = &kernel.Error{Module: "pmm", Message: "frame not in use"}
	errFrameOutOfBounds = &kernel.Error{Module: "pmm", Message: "frame index out of bounds"}

	// errFrameAlreadyInUse is also exposed as ErrFrameAlreadyInUse since
	// callers that pre-reserve identity-mapped regions (e.g. kernel/gdt)
	// need to tell an idempotent double-reservation apart from a real
	// conflict.
	errFrameAlreadyInUse = &kernel.Error{Module: "pmm", Message: "frame already in use"}
)

// ErrFrameAlreadyInUse is returned by AllocSpecific when the requested
// frame is already reserved.
var ErrFrameAlreadyInUse = errFrameAlreadyInUse

// Bitmap implements a physical frame allocator that tracks the allocation
// state of every frame with a single bit: 1 if in use, 0 if free. A word
// index hint (skip) lets repeated allocations avoid rescanning words that
// are known to be fully allocated.
type Bitmap struct {
	words      [bitmapWords]uint32
	skip       uint32
	frameCount uint32
}

// nextAvailable scans the bitmap, starting at the skip hint, for the first
// word that is not fully allocated and returns the frame for its first free
// bit.
func (b *Bitmap) nextAvailable() (Frame, *kernel.Error) {
	for i := b.skip; i < uint32(len(b.words)); i++ {
		if b.words[i] == ^uint32(0) {
			continue
		}

		var j uint32
		for b.words[i]&(0x80000000>>j) != 0 {
			j++
		}

		return Frame(i*32 + j), nil
	}

	return InvalidFrame, errNoFrameAvailable
}

func (b *Bitmap) markUsed(f Frame) *kernel.Error {
	i, mask := f.index()
	if i >= uint32(len(b.words)) {
		return errFrameOutOfBounds
	}

	if b.words[i]&mask != 0 {
		return errFrameAlreadyInUse
	}

	b.words[i] |= mask
	return nil
}

func (b *Bitmap) markFree(f Frame) *kernel.Error {
	i, mask := f.index()
	if i >= uint32(len(b.words)) {
		return errFrameOutOfBounds
	}

	if b.words[i]&mask == 0 {
		return errFrameNotInUse
	}

	b.words[i] &^= mask
	if i < b.skip {
		b.skip = i
	}
	return nil
}

// index returns the bitmap word index and bit mask for f.
func (f Frame) index() (word uint32, mask uint32) {
	word = uint32(f) / 32
	bit := uint32(f) % 32
	return word, 0x80000000 >> bit
}

// AllocFrame reserves and returns the first available frame.
func (b *Bitmap) AllocFrame() (Frame, *kernel.Error) {
	f, err := b.nextAvailable()
	if err != nil {
		return InvalidFrame, err
	}

	if err := b.markUsed(f); err != nil {
		return InvalidFrame, err
	}
	b.skip = uint32(f) / 32

	return f, nil
}

// AllocSpecific reserves f, failing if it is already in use.
func (b *Bitmap) AllocSpecific(f Frame) *kernel.Error {
	return b.markUsed(f)
}

// Free releases f, failing if it is not currently in use.
func (b *Bitmap) Free(f Frame) *kernel.Error {
	return b.markFree(f)
}

// IsAvailable reports whether f is currently free.
func (b *Bitmap) IsAvailable(f Frame) bool {
	i, mask := f.index()
	if i >= uint32(len(b.words)) {
		return false
	}
	return b.words[i]&mask == 0
}

var (
	lock      ksync.Spinlock
	singleton Bitmap

	// visitMemRegionsFn is overridden by tests to feed Init a synthetic
	// memory map without going through the real multiboot info block.
	visitMemRegionsFn = multiboot.VisitMemRegions
)

// Init walks the memory regions reported by the bootloader, marking every
// frame in a non-available region (and every frame past the end of the
// last available region) as permanently allocated. It must be called
// exactly once, before any call to AllocFrame/AllocSpecific/Free.
func Init() *kernel.Error {
	lock.Acquire()
	defer lock.Release()

	singleton = Bitmap{}

	var highestFrame Frame

	visitMemRegionsFn(func(region *multiboot.MemoryMapEntry) bool {
		startFrame := Frame(region.PhysAddress >> mem.PageShift)
		frameSpan := Frame((region.Length + uint64(mem.PageSize) - 1) >> mem.PageShift)
		endFrame := startFrame + frameSpan

		if region.Type == multiboot.MemAvailable && endFrame > highestFrame {
			highestFrame = endFrame
		}

		if region.Type != multiboot.MemAvailable {
			for f := startFrame; f < endFrame && f.IsValid(); f++ {
				_ = singleton.markUsed(f)
			}
		}

		return true
	})

	singleton.frameCount = uint32(highestFrame)
	for f := highestFrame; f < totalFrames; f++ {
		_ = singleton.markUsed(f)
	}

	early.Printf(
		"[pmm] tracking %d frames (%d reserved)\n",
		singleton.frameCount,
		countUsed(&singleton),
	)

	return nil
}

func countUsed(b *Bitmap) uint32 {
	var used uint32
	for _, w := range b.words {
		for bit := uint32(0); bit < 32; bit++ {
			if w&(0x80000000>>bit) != 0 {
				used++
			}
		}
	}
	return used
}

// AllocFrame reserves and returns the first available frame from the
// process-wide bitmap singleton.
func AllocFrame() (Frame, *kernel.Error) {
	lock.Acquire()
	defer lock.Release()
	return singleton.AllocFrame()
}

// AllocSpecific reserves frame f from the process-wide bitmap singleton.
func AllocSpecific(f Frame) *kernel.Error {
	lock.Acquire()
	defer lock.Release()
	return singleton.AllocSpecific(f)
}

// Free releases frame f back to the process-wide bitmap singleton.
func Free(f Frame) *kernel.Error {
	lock.Acquire()
	defer lock.Release()
	return singleton.Free(f)
}

// IsAvailable reports whether f is currently free in the process-wide
// bitmap singleton.
func IsAvailable(f Frame) bool {
	lock.Acquire()
	defer lock.Release()
	return singleton.IsAvailable(f)
}
