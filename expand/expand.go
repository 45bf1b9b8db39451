// Package expand rewrites a Mach-O whose segments are tightly packed in
// file order into one whose file layout is a faithful image of memory:
// every segment's file offset equals its virtual offset from the first
// segment, so a straight mmap of the output reproduces the runtime image.
//
// Grounded on MachoExpandImage64 and InternalStripLoadCommands64 in
// original_source/Library/OcMachoLib/Header.c; ported field-for-field,
// except that DysymtabCommand.NToc, which the original shifts by delta
// although it is an entry count, is left unchanged (Open Question (a)).
package expand

import (
	"encoding/binary"
	"errors"

	"github.com/Amaranese/ocak-go/macho"
	"github.com/Amaranese/ocak-go/machotypes"
)

// PageSize is the x86 page size the expander aligns segment deltas to.
const PageSize = 0x1000

// ErrBufferTooSmall is returned when dest cannot hold the expanded image.
var ErrBufferTooSmall = errors.New("expand: destination buffer too small")

// ErrFileSizeExceedsVMSize is returned when a segment's on-disk size
// exceeds its virtual size, which the expander cannot represent (it can
// only grow a segment's file footprint, never shrink its virtual one).
var ErrFileSizeExceedsVMSize = errors.New("expand: segment file size exceeds virtual size")

// ErrBrokenImageInvariant is returned when, after rewriting, a segment's
// (vaddr - foff) no longer matches the first segment's — i.e. the output
// would not be a faithful memory image.
var ErrBrokenImageInvariant = errors.New("expand: vaddr-foff invariant broken across segments")

func alignUp(v uint32) uint32 {
	return (v + PageSize - 1) &^ (PageSize - 1)
}

// Expand writes the expanded image of ctx's source buffer into dest and
// returns the number of bytes written. strip additionally removes the
// load commands in machotypes.StrippableCommands from the output.
func Expand(ctx *macho.Context, dest []byte, strip bool) (int, error) {
	order := ctx.Order
	src := ctx.Buf

	headerSize := machotypes.FileHeaderSize64 + int(ctx.Header.SizeCommands)
	if headerSize > len(dest) {
		return 0, ErrBufferTooSmall
	}
	copy(dest[:headerSize], src[:headerSize])

	var (
		currentDelta uint32
		currentSize  uint64
		firstBias    uint64 // first segment's vaddr - foff in the output
		haveFirst    bool
	)

	for i := range ctx.Segments {
		seg := &ctx.Segments[i]

		originalDelta := currentDelta
		currentDelta = alignUp(currentDelta)

		if seg.FileSize > seg.VMSize {
			return 0, ErrFileSizeExceedsVMSize
		}
		if !haveFirst {
			firstBias = seg.VMAddr - (seg.FileOff + uint64(currentDelta))
			haveFirst = true
		}

		copyFileOffset := seg.FileOff
		copyFileSize := seg.FileSize
		copyVMSize := seg.VMSize
		if copyFileOffset <= uint64(headerSize) {
			// Never overwrite the header; ported verbatim from
			// MachoExpandImage64, including its FileSize-minus-offset
			// arithmetic for the header-overlap case.
			copyFileOffset = uint64(headerSize)
			copyFileSize = seg.FileSize - copyFileOffset
			copyVMSize = seg.VMSize - copyFileOffset
			if copyFileSize > seg.FileSize || copyVMSize > seg.VMSize {
				return 0, errors.New("expand: header does not fit within first segment")
			}
		}

		newSize := copyFileOffset + uint64(currentDelta) + copyVMSize
		if newSize < copyFileOffset || newSize > uint64(len(dest)) {
			return 0, ErrBufferTooSmall
		}
		currentSize = newSize

		zero(dest, copyFileOffset+uint64(originalDelta), copyFileOffset+uint64(currentDelta))
		copy(dest[copyFileOffset+uint64(currentDelta):copyFileOffset+uint64(currentDelta)+copyFileSize],
			src[copyFileOffset:copyFileOffset+copyFileSize])
		zero(dest, copyFileOffset+uint64(currentDelta)+copyFileSize, copyFileOffset+uint64(currentDelta)+copyVMSize)

		newFileOff := seg.FileOff + uint64(currentDelta)
		putSegmentFileOffsetAndSize(dest, order, seg.CmdOff, newFileOff, seg.VMSize)

		if seg.VMAddr-newFileOff != firstBias {
			return 0, ErrBrokenImageInvariant
		}

		if cstr16(seg.SegName) == "__LINKEDIT" {
			patchSymtab(ctx, dest, currentDelta)
			patchDysymtab(ctx, dest, currentDelta)
		}

		originalDelta = currentDelta
		copyFileOffset = seg.FileOff
		for j := range seg.Sections {
			sectOff := sectionOffsetInDest(seg, j)
			sect := &seg.Sections[j]
			if sect.Offset == 0 {
				putUint32(dest, sectOff+offsetFieldOffset, uint32(copyFileOffset)+currentDelta)
				currentDelta += uint32(sect.Size)
			} else {
				putUint32(dest, sectOff+offsetFieldOffset, sect.Offset+currentDelta)
				copyFileOffset = uint64(sect.Offset) + sect.Size
			}
		}

		currentDelta = originalDelta + uint32(seg.VMSize-seg.FileSize)
	}

	if currentSize == 0 {
		// No valid segments contributed bytes: a kernel-resource kext whose
		// payload lives outside segments. Fall back to a raw copy.
		fileSize := len(src)
		if fileSize > len(dest) {
			return 0, ErrBufferTooSmall
		}
		copy(dest[headerSize:fileSize], src[headerSize:fileSize])
		currentSize = uint64(fileSize)
	}

	if strip {
		StripLoadCommands(dest)
	}

	return int(currentSize), nil
}

func zero(b []byte, from, to uint64) {
	if to <= from {
		return
	}
	for i := from; i < to; i++ {
		b[i] = 0
	}
}

// cstr16 mirrors macho's own helper; duplicated here rather than exported
// across packages for a one-line string trim.
func cstr16(b [16]byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b[:])
}

const (
	segFileOffFieldOff  = machotypes.LoadCmdHdrSize + 16 + 8 + 8 // after Cmd,CmdSize,SegName,VMAddr,VMSize
	segFileSizeFieldOff = segFileOffFieldOff + 8
	offsetFieldOffset   = 16 + 16 + 8 + 8 // Section64.Offset field offset
)

func putSegmentFileOffsetAndSize(dest []byte, order binary.ByteOrder, cmdOff int, fileOff, fileSize uint64) {
	order.PutUint64(dest[cmdOff+segFileOffFieldOff:], fileOff)
	order.PutUint64(dest[cmdOff+segFileSizeFieldOff:], fileSize)
}

func sectionOffsetInDest(seg *macho.Segment, index int) int {
	return seg.CmdOff + machotypes.SegmentCommand64Size + index*machotypes.Section64Size
}

func putUint32(dest []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(dest[off:], v)
}

func patchSymtab(ctx *macho.Context, dest []byte, delta uint32) {
	sc, ok := ctx.SymtabCmd()
	if !ok {
		return
	}
	off := ctx.SymtabCmdOff
	const symOffField = machotypes.LoadCmdHdrSize
	const strOffField = machotypes.LoadCmdHdrSize + 8
	if sc.SymOff != 0 {
		putUint32(dest, off+symOffField, sc.SymOff+delta)
	}
	if sc.StrOff != 0 {
		putUint32(dest, off+strOffField, sc.StrOff+delta)
	}
}

// Field offsets within DysymtabCommand, after LoadCmdHdr, in declaration
// order (each a uint32): ILocalSym, NLocalSym, IExtdefSym, NExtdefSym,
// IUndefSym, NUndefSym, TocOff, NToc, ModTabOff, NModTab, ExtRefSymOff,
// NExtRefSyms, IndirectSymOff, NIndirectSyms, ExtRelOff, NExtRel,
// LocRelOff, NLocRel.
const (
	dysymModTabOffField   = machotypes.LoadCmdHdrSize + 8*4
	dysymExtRefSymOffField = machotypes.LoadCmdHdrSize + 10*4
	dysymIndirectSymField  = machotypes.LoadCmdHdrSize + 12*4
	dysymExtRelOffField    = machotypes.LoadCmdHdrSize + 14*4
	dysymLocRelOffField    = machotypes.LoadCmdHdrSize + 16*4
)

func patchDysymtab(ctx *macho.Context, dest []byte, delta uint32) {
	dc, ok := ctx.Dysymtab()
	if !ok {
		return
	}
	off := ctx.DysymtabCmdOff

	// NToc is an entry count, not a file offset, so it is left unchanged;
	// the original adds delta to it — see Open Question (a) in DESIGN.md.
	if dc.ModTabOff != 0 {
		putUint32(dest, off+dysymModTabOffField, dc.ModTabOff+delta)
	}
	if dc.ExtRefSymOff != 0 {
		putUint32(dest, off+dysymExtRefSymOffField, dc.ExtRefSymOff+delta)
	}
	if dc.IndirectSymOff != 0 {
		putUint32(dest, off+dysymIndirectSymField, dc.IndirectSymOff+delta)
	}
	if dc.ExtRelOff != 0 {
		putUint32(dest, off+dysymExtRelOffField, dc.ExtRelOff+delta)
	}
	if dc.LocRelOff != 0 {
		putUint32(dest, off+dysymLocRelOffField, dc.LocRelOff+delta)
	}
}
