package pmm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdelabro/kernel-from-scratch/kernel/hal/multiboot"
)

func freshBitmap() *Bitmap {
	return &Bitmap{frameCount: totalFrames}
}

func TestAllocFrameReturnsDistinctFrames(t *testing.T) {
	b := freshBitmap()

	f1, err := b.AllocFrame()
	require.Nil(t, err)
	f2, err := b.AllocFrame()
	require.Nil(t, err)

	assert.NotEqual(t, f1, f2, "expected distinct frames")
	assert.Zero(t, f1.Address()%0x1000, "expected a page-aligned address")
	assert.Zero(t, f2.Address()%0x1000, "expected a page-aligned address")
}

func TestFreeThenAllocReusesLowestFreeFrame(t *testing.T) {
	b := freshBitmap()

	f1, _ := b.AllocFrame()
	_, _ = b.AllocFrame()

	require.Nil(t, b.Free(f1))

	f3, err := b.AllocFrame()
	require.Nil(t, err)
	assert.Equal(t, f1, f3, "expected reallocation to return the freed frame")
}

func TestIsAvailableTracksAllocState(t *testing.T) {
	b := freshBitmap()

	f, _ := b.AllocFrame()
	assert.False(t, b.IsAvailable(f), "expected frame to be unavailable right after allocation")

	require.Nil(t, b.Free(f))
	assert.True(t, b.IsAvailable(f), "expected frame to be available after free")
}

func TestAllocSpecificFailsIffAlreadyInUse(t *testing.T) {
	b := freshBitmap()

	target := Frame(42)
	require.Nil(t, b.AllocSpecific(target))
	assert.Equal(t, errFrameAlreadyInUse, b.AllocSpecific(target))

	require.Nil(t, b.Free(target))
	assert.Nil(t, b.AllocSpecific(target), "expected reservation to succeed again after free")
}

func TestFreeingUnallocatedFrameFails(t *testing.T) {
	b := freshBitmap()

	assert.Equal(t, errFrameNotInUse, b.Free(Frame(7)))
}

func TestAllocFrameExhaustion(t *testing.T) {
	b := freshBitmap()
	for i := range b.words {
		b.words[i] = ^uint32(0)
	}

	_, err := b.AllocFrame()
	assert.Equal(t, errNoFrameAvailable, err)
}

// TestInitMarksReservedRegions exercises scenario S1 from the boot-info
// memory map: a 0x0-0xA0000 available region, a reserved region up to
// 0x100000, and a large available region after that. Init only consults
// the memory map; it does not know where the kernel image itself sits
// inside the available range above 0x100000 — that span is reserved
// separately (kernel/kmain, via AllocSpecific) once the linker symbols
// are available.
func TestInitMarksReservedRegions(t *testing.T) {
	prevVisit := visitMemRegionsFn
	defer func() { visitMemRegionsFn = prevVisit }()

	regions := []multiboot.MemoryMapEntry{
		{PhysAddress: 0x0, Length: 0xA0000, Type: multiboot.MemAvailable},
		{PhysAddress: 0xA0000, Length: 0x60000, Type: multiboot.MemReserved},
		{PhysAddress: 0x100000, Length: 0x7F00000, Type: multiboot.MemAvailable},
	}

	visitMemRegionsFn = func(visitor multiboot.MemRegionVisitor) {
		for i := range regions {
			if !visitor(&regions[i]) {
				return
			}
		}
	}

	require.Nil(t, Init())

	assert.False(t, IsAvailable(FrameFromAddress(0xA0000)), "expected frame at 0xA0000 to be reserved")
	assert.True(t, IsAvailable(FrameFromAddress(0x100000)), "expected frame at 0x100000 to be available")
	assert.True(t, IsAvailable(FrameFromAddress(0x200000)), "expected frame at 0x200000 to be available")
}
