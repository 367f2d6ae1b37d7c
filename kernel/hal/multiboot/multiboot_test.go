package multiboot

import (
	"reflect"
	"testing"
	"unsafe"
)

func TestInitRejectsBadMagic(t *testing.T) {
	if err := Init(0xdeadbeef, 0); err != ErrNotMultiboot2 {
		t.Fatalf("expected ErrNotMultiboot2; got %v", err)
	}
}

func TestInitAcceptsMultiboot2Magic(t *testing.T) {
	if err := Init(bootloaderMagic, 0xf00d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if infoData != 0xf00d {
		t.Fatalf("expected infoData to be set to 0xf00d; got %#x", infoData)
	}
}

// buildInfo assembles a fake multiboot2 info block containing the supplied
// tags (each already 8-byte aligned and terminated by its own tagMbSectionEnd
// if the caller wants one) and returns a pointer usable as infoData.
func buildInfo(t *testing.T, tagBlocks ...[]byte) uintptr {
	t.Helper()

	var buf []byte
	buf = append(buf, make([]byte, 8)...) // info header (totalSize, reserved)

	for _, block := range tagBlocks {
		buf = append(buf, block...)
	}

	// terminating tag
	buf = append(buf, 0, 0, 0, 0, 8, 0, 0, 0)

	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&buf))
	return hdr.Data
}

func tagBytes(tt tagType, payload []byte) []byte {
	size := uint32(8 + len(payload))
	b := make([]byte, 0, size)
	b = append(b, byte(tt), byte(tt>>8), byte(tt>>16), byte(tt>>24))
	b = append(b, byte(size), byte(size>>8), byte(size>>16), byte(size>>24))
	b = append(b, payload...)

	// pad to 8-byte alignment
	for len(b)%8 != 0 {
		b = append(b, 0)
	}
	return b
}

func TestVisitMemRegionsMarksUnknownTypesReserved(t *testing.T) {
	// mmap entries are 24 bytes: physAddr(8) + length(8) + type(4) + reserved(4)
	entry := func(physAddr, length uint64, typ uint32) []byte {
		b := make([]byte, 24)
		for i := 0; i < 8; i++ {
			b[i] = byte(physAddr >> (8 * i))
		}
		for i := 0; i < 8; i++ {
			b[8+i] = byte(length >> (8 * i))
		}
		for i := 0; i < 4; i++ {
			b[16+i] = byte(typ >> (8 * i))
		}
		return b
	}

	mmapHdr := []byte{24, 0, 0, 0, 0, 0, 0, 0} // entrySize=24, entryVersion=0
	payload := append(mmapHdr, entry(0, 0x1000, uint32(MemAvailable))...)
	payload = append(payload, entry(0x1000, 0x1000, 99)...) // unknown type

	infoData = buildInfo(t, tagBytes(tagMemoryMap, payload))

	var seen []MemoryEntryType
	VisitMemRegions(func(e *MemoryMapEntry) bool {
		seen = append(seen, e.Type)
		return true
	})

	if len(seen) != 2 {
		t.Fatalf("expected 2 regions; got %d", len(seen))
	}
	if seen[0] != MemAvailable {
		t.Fatalf("expected first region to be MemAvailable; got %v", seen[0])
	}
	if seen[1] != MemReserved {
		t.Fatalf("expected unknown type to be normalized to MemReserved; got %v", seen[1])
	}
}

func TestVisitMemRegionsAbortsWhenVisitorReturnsFalse(t *testing.T) {
	mmapHdr := []byte{24, 0, 0, 0, 0, 0, 0, 0}
	entry := make([]byte, 24)
	entry[16] = byte(MemAvailable)
	payload := append(mmapHdr, entry...)
	payload = append(payload, entry...)

	infoData = buildInfo(t, tagBytes(tagMemoryMap, payload))

	count := 0
	VisitMemRegions(func(e *MemoryMapEntry) bool {
		count++
		return false
	})

	if count != 1 {
		t.Fatalf("expected visitor to be invoked exactly once; got %d", count)
	}
}

func TestFramebufferInfoAbsent(t *testing.T) {
	infoData = buildInfo(t)

	if _, ok := FramebufferInfo(); ok {
		t.Fatal("expected ok=false when no framebuffer tag is present")
	}
}

func TestFramebufferInfoPresent(t *testing.T) {
	payload := make([]byte, 24) // physAddr(8) + pitch(4) + width(4) + height(4) + bpp(1) + type(1) + reserved(2)
	payload[0] = 0x34
	payload[8] = 0x50 // pitch low byte
	payload[12] = 80  // width
	payload[16] = 25  // height
	payload[20] = 32  // bpp
	payload[21] = byte(FramebufferTypeRGB)

	infoData = buildInfo(t, tagBytes(tagFramebufferInfo, payload))

	fb, ok := FramebufferInfo()
	if !ok {
		t.Fatal("expected ok=true when framebuffer tag is present")
	}
	if fb.Width != 80 || fb.Height != 25 {
		t.Fatalf("unexpected framebuffer dimensions: %+v", fb)
	}
	if fb.Type != FramebufferTypeRGB {
		t.Fatalf("expected FramebufferTypeRGB; got %v", fb.Type)
	}
}
