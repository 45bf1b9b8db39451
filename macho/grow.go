package macho

import "github.com/Amaranese/ocak-go/machotypes"

// GrowSegment extends seg's VMSize and FileSize by delta bytes, updating
// both the parsed Segment record and its load command's bytes in the
// backing buffer in place. The caller is responsible for having already
// grown Buf itself (length and, if needed, capacity) to cover the new file
// range; this only keeps the segment's own bookkeeping consistent with
// that growth so later FileOffset/Bytes lookups into the newly covered
// range succeed instead of reporting "not addressable".
func (c *Context) GrowSegment(seg *Segment, delta uint64) {
	seg.VMSize += delta
	seg.FileSize += delta

	const (
		vmSizeFieldOff   = machotypes.LoadCmdHdrSize + 16 + 8 // after Cmd,CmdSize,SegName,VMAddr
		fileSizeFieldOff = vmSizeFieldOff + 8 + 8              // after ...,VMSize,FileOff
	)
	c.Order.PutUint64(c.Buf[seg.CmdOff+vmSizeFieldOff:], seg.VMSize)
	c.Order.PutUint64(c.Buf[seg.CmdOff+fileSizeFieldOff:], seg.FileSize)
}

// GrowSection extends sect's Size by delta bytes and rewrites the matching
// section_64 record in place. seg must be sect's owning segment (the one
// it was found through via SectionByName/NextSection), since a section_64
// record carries no back-pointer to its own file offset.
func (c *Context) GrowSection(seg *Segment, sect *Section, delta uint64) {
	sect.Size += delta

	idx := sect.Index - 1
	off := seg.CmdOff + machotypes.SegmentCommand64Size + idx*machotypes.Section64Size
	const sizeFieldOff = 16 + 16 + 8 // after SectName,SegName,Addr
	c.Order.PutUint64(c.Buf[off+sizeFieldOff:], sect.Size)
}
