package macho

import (
	"encoding/binary"
	"testing"

	"github.com/Amaranese/ocak-go/machotypes"
	"github.com/google/go-cmp/cmp"
)

// buildMinimal constructs a 64-bit Mach-O kext bundle buffer with a single
// __DATA segment (no sections) containing dataSize bytes of payload,
// returning the full buffer and the file offset the payload starts at.
func buildMinimal(t *testing.T, dataSize int) ([]byte, int) {
	t.Helper()

	const segCmdSize = machotypes.SegmentCommand64Size
	headerEnd := machotypes.FileHeaderSize64
	segCmdOff := headerEnd
	dataOff := segCmdOff + segCmdSize

	buf := make([]byte, dataOff+dataSize)
	order := binary.LittleEndian

	order.PutUint32(buf[0:4], uint32(machotypes.Magic64))
	order.PutUint32(buf[4:8], uint32(machotypes.CPUTypeX86_64))
	order.PutUint32(buf[8:12], 0)
	order.PutUint32(buf[12:16], uint32(machotypes.MhKextBundle))
	order.PutUint32(buf[16:20], 1) // ncmds
	order.PutUint32(buf[20:24], uint32(segCmdSize))
	order.PutUint32(buf[24:28], 0)
	order.PutUint32(buf[28:32], 0)

	pos := segCmdOff
	order.PutUint32(buf[pos:pos+4], uint32(machotypes.LcSegment64))
	order.PutUint32(buf[pos+4:pos+8], uint32(segCmdSize))
	copy(buf[pos+8:pos+24], "__DATA")
	order.PutUint64(buf[pos+24:pos+32], 0x1000)            // vmaddr
	order.PutUint64(buf[pos+32:pos+40], uint64(dataSize))  // vmsize
	order.PutUint64(buf[pos+40:pos+48], uint64(dataOff))   // fileoff
	order.PutUint64(buf[pos+48:pos+56], uint64(dataSize))  // filesize
	order.PutUint32(buf[pos+56:pos+60], 7)                 // maxprot
	order.PutUint32(buf[pos+60:pos+64], 7)                 // initprot
	order.PutUint32(buf[pos+64:pos+68], 0)                 // nsects
	order.PutUint32(buf[pos+68:pos+72], 0)                 // flags

	return buf, dataOff
}

func TestNewContextParsesMinimalSegment(t *testing.T) {
	buf, dataOff := buildMinimal(t, 16)
	binary.LittleEndian.PutUint64(buf[dataOff:], 0xdeadbeefcafebabe)

	ctx, err := NewContext(buf)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if len(ctx.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(ctx.Segments))
	}

	seg, ok := ctx.SegmentByName("__DATA")
	if !ok {
		t.Fatal("SegmentByName(__DATA) not found")
	}
	if seg.VMAddr != 0x1000 {
		t.Errorf("VMAddr = %#x, want 0x1000", seg.VMAddr)
	}

	word, ok := ctx.Bytes(0x1000, 8)
	if !ok || binary.LittleEndian.Uint64(word) != 0xdeadbeefcafebabe {
		t.Errorf("Bytes(0x1000, 8) = %x, ok=%v", word, ok)
	}
}

// segSummary is a comparison-friendly projection of a Segment, used so
// cmp.Diff reports a readable name/address mismatch instead of dumping the
// full wire struct (including its zero-valued CmdOff/Sections bookkeeping).
type segSummary struct {
	Name   string
	VMAddr uint64
	VMSize uint64
}

func buildTwoSegments(t *testing.T) []byte {
	t.Helper()

	const segCmdSize = machotypes.SegmentCommand64Size
	headerEnd := machotypes.FileHeaderSize64
	seg0Off := headerEnd
	seg1Off := seg0Off + segCmdSize
	dataOff := seg1Off + segCmdSize

	buf := make([]byte, dataOff)
	order := binary.LittleEndian

	order.PutUint32(buf[0:4], uint32(machotypes.Magic64))
	order.PutUint32(buf[4:8], uint32(machotypes.CPUTypeX86_64))
	order.PutUint32(buf[8:12], 0)
	order.PutUint32(buf[12:16], uint32(machotypes.MhKextBundle))
	order.PutUint32(buf[16:20], 2) // ncmds
	order.PutUint32(buf[20:24], uint32(2*segCmdSize))
	order.PutUint32(buf[24:28], 0)
	order.PutUint32(buf[28:32], 0)

	writeSeg := func(off int, name string, vmaddr, vmsize uint64) {
		order.PutUint32(buf[off:off+4], uint32(machotypes.LcSegment64))
		order.PutUint32(buf[off+4:off+8], uint32(segCmdSize))
		copy(buf[off+8:off+24], name)
		order.PutUint64(buf[off+24:off+32], vmaddr)
		order.PutUint64(buf[off+32:off+40], vmsize)
		order.PutUint64(buf[off+40:off+48], 0) // fileoff
		order.PutUint64(buf[off+48:off+56], 0) // filesize
		order.PutUint32(buf[off+56:off+60], 7)
		order.PutUint32(buf[off+60:off+64], 7)
		order.PutUint32(buf[off+64:off+68], 0)
		order.PutUint32(buf[off+68:off+72], 0)
	}
	writeSeg(seg0Off, "__TEXT", 0x0, 0x1000)
	writeSeg(seg1Off, "__DATA", 0x2000, 0x2000)

	return buf
}

func TestNewContextEnumeratesSegmentsInOrder(t *testing.T) {
	ctx, err := NewContext(buildTwoSegments(t))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	got := make([]segSummary, len(ctx.Segments))
	for i, seg := range ctx.Segments {
		got[i] = segSummary{Name: cstr16(seg.SegName), VMAddr: seg.VMAddr, VMSize: seg.VMSize}
	}
	want := []segSummary{
		{Name: "__TEXT", VMAddr: 0x0, VMSize: 0x1000},
		{Name: "__DATA", VMAddr: 0x2000, VMSize: 0x2000},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Segments mismatch (-want +got):\n%s", diff)
	}
}

func TestNewContextRejectsBadMagic(t *testing.T) {
	buf, _ := buildMinimal(t, 8)
	binary.LittleEndian.PutUint32(buf[0:4], 0x12345678)

	if _, err := NewContext(buf); err == nil {
		t.Fatal("expected an error for a bad magic number")
	}
}

func TestNewContextRejectsTruncatedLoadCommands(t *testing.T) {
	buf, _ := buildMinimal(t, 8)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(machotypes.SegmentCommand64Size+8))

	if _, err := NewContext(buf); err == nil {
		t.Fatal("expected an error when SizeCommands exceeds the sum of command sizes")
	}
}

func TestNewContextRejectsWrongCPUType(t *testing.T) {
	buf, _ := buildMinimal(t, 8)
	binary.LittleEndian.PutUint32(buf[4:8], 0x0000000c) // CPU_TYPE_ARM

	if _, err := NewContext(buf); err == nil {
		t.Fatal("expected an error for a non-x86_64 cpu type")
	}
}

func TestFileOffsetResolvesWithinSegment(t *testing.T) {
	buf, dataOff := buildMinimal(t, 32)
	ctx, err := NewContext(buf)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	off, remaining, ok := ctx.FileOffset(0x1008)
	if !ok {
		t.Fatal("FileOffset(0x1008) not found")
	}
	if want := uint64(dataOff + 8); off != want {
		t.Errorf("FileOffset(0x1008) = %d, want %d", off, want)
	}
	if remaining != 24 {
		t.Errorf("remaining = %d, want 24", remaining)
	}

	if _, _, ok := ctx.FileOffset(0x5000); ok {
		t.Error("FileOffset should fail for an address outside every segment")
	}
}
