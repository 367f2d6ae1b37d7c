package vmm

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdelabro/kernel-from-scratch/kernel"
	"github.com/tdelabro/kernel-from-scratch/kernel/mem/pmm"
)

// vmmTestFixture backs the directory and whatever tables get allocated
// during a test with ordinary Go arrays, addressed by the same physical
// address scheme Map/Unmap use, so tests never dereference a real
// physical or recursively-mapped address.
type vmmTestFixture struct {
	dir    [1024]pageDirectoryEntry
	tables map[uintptr]*[1024]pageTableEntry

	nextFrame    pmm.Frame
	flushCount   int
	flushedAddrs []uintptr
}

func newVMMTestFixture(t *testing.T) *vmmTestFixture {
	t.Helper()

	f := &vmmTestFixture{
		tables:    map[uintptr]*[1024]pageTableEntry{},
		nextFrame: pmm.Frame(256), // arbitrary, away from any frame under test
	}

	origDirPtrFn, origTablePtrFn := dirPtrFn, tablePtrFn
	origFlush := flushTLBEntryFn
	origFrameAllocator := frameAllocator
	origDirPhysAddr, origPagingEnabled := dirPhysAddr, pagingEnabled

	t.Cleanup(func() {
		dirPtrFn, tablePtrFn = origDirPtrFn, origTablePtrFn
		flushTLBEntryFn = origFlush
		frameAllocator = origFrameAllocator
		dirPhysAddr, pagingEnabled = origDirPhysAddr, origPagingEnabled
	})

	dirPhysAddr = 0
	pagingEnabled = false

	dirPtrFn = func(addr uintptr) unsafe.Pointer { return unsafe.Pointer(&f.dir[0]) }
	tablePtrFn = func(addr uintptr) unsafe.Pointer {
		tbl, ok := f.tables[addr]
		if !ok {
			tbl = &[1024]pageTableEntry{}
			f.tables[addr] = tbl
		}
		return unsafe.Pointer(&tbl[0])
	}
	flushTLBEntryFn = func(addr uintptr) {
		f.flushCount++
		f.flushedAddrs = append(f.flushedAddrs, addr)
	}
	frameAllocator = func() (pmm.Frame, *kernel.Error) {
		frame := f.nextFrame
		f.nextFrame++
		return frame, nil
	}

	return f
}

func TestInitInstallsRecursiveMapping(t *testing.T) {
	newVMMTestFixture(t)

	dirFrame := pmm.Frame(7)
	Init(dirFrame)

	dir := directory()
	require.True(t, dir[recursiveDirIndex].HasFlags(FlagPresent|FlagRW), "expected the recursive slot to be present and writable")
	assert.Equal(t, dirFrame, dir[recursiveDirIndex].Frame())
}

func TestMapAllocatesMissingPageTable(t *testing.T) {
	newVMMTestFixture(t)

	phys := uintptr(0x300000)
	virt := uintptr(0x40000000)

	require.Nil(t, Map(phys, virt, FlagRW))

	got, err := Translate(virt)
	require.Nil(t, err)
	assert.Equal(t, phys, got)
}

func TestMapRejectsDoubleMap(t *testing.T) {
	newVMMTestFixture(t)

	virt := uintptr(0x40000000)
	require.Nil(t, Map(0x300000, virt, FlagRW))

	defer func() {
		assert.NotNil(t, recover(), "expected double-mapping the same virt to panic")
	}()
	_ = Map(0x301000, virt, FlagRW)
}

func TestUnmapThenMapRetargets(t *testing.T) {
	newVMMTestFixture(t)

	virt := uintptr(0x40000000)
	require.Nil(t, pmm.AllocSpecific(pmm.FrameFromAddress(0x300000)))
	require.Nil(t, Map(0x300000, virt, FlagRW))
	require.Nil(t, Unmap(virt))
	require.Nil(t, Map(0x301000, virt, FlagRW))

	got, err := Translate(virt)
	require.Nil(t, err)
	assert.Equal(t, uintptr(0x301000), got)
}

func TestUnmapReleasesFrameToBitmap(t *testing.T) {
	newVMMTestFixture(t)

	phys := uintptr(0x300000)
	virt := uintptr(0x40000000)
	frame := pmm.FrameFromAddress(phys)

	require.Nil(t, pmm.AllocSpecific(frame))
	require.Nil(t, Map(phys, virt, FlagRW))
	require.False(t, pmm.IsAvailable(frame), "expected frame to remain reserved while mapped")

	require.Nil(t, Unmap(virt))
	assert.True(t, pmm.IsAvailable(frame), "expected frame to be released back to the bitmap after unmap")
}

func TestUnmapUnknownMappingFails(t *testing.T) {
	newVMMTestFixture(t)

	assert.Equal(t, ErrInvalidMapping, Unmap(0x50000000))
}

func TestMapRejectsReservedVirtRange(t *testing.T) {
	newVMMTestFixture(t)

	assert.Equal(t, errVirtAddrReserved, Map(0x300000, recursiveTableBase, FlagRW))
}
