package macho

import "bytes"

// cstr16 trims the NUL padding off a fixed 16-byte Mach-O name field.
func cstr16(b [16]byte) string {
	if i := bytes.IndexByte(b[:], 0); i >= 0 {
		return string(b[:i])
	}
	return string(b[:])
}

// NextSegment returns the segment following prev in load-command order, or
// the first segment if prev is nil. Every returned Segment was already
// bounds-checked against the buffer during NewContext, so callers may trust
// it without re-validating.
func (c *Context) NextSegment(prev *Segment) (*Segment, bool) {
	if prev == nil {
		if len(c.Segments) == 0 {
			return nil, false
		}
		return &c.Segments[0], true
	}
	for i := range c.Segments {
		if c.Segments[i].CmdOff == prev.CmdOff {
			if i+1 < len(c.Segments) {
				return &c.Segments[i+1], true
			}
			return nil, false
		}
	}
	return nil, false
}

// NextSection returns the section following prev within seg, or the first
// section if prev is nil.
func (c *Context) NextSection(seg *Segment, prev *Section) (*Section, bool) {
	if prev == nil {
		if len(seg.Sections) == 0 {
			return nil, false
		}
		return &seg.Sections[0], true
	}
	for i := range seg.Sections {
		if seg.Sections[i].Index == prev.Index {
			if i+1 < len(seg.Sections) {
				return &seg.Sections[i+1], true
			}
			return nil, false
		}
	}
	return nil, false
}

// SegmentByName finds a segment by its (NUL-trimmed) name.
func (c *Context) SegmentByName(name string) (*Segment, bool) {
	for i := range c.Segments {
		if cstr16(c.Segments[i].SegName) == name {
			return &c.Segments[i], true
		}
	}
	return nil, false
}

// SectionByName finds a section by segment+section name pair.
func (c *Context) SectionByName(segName, sectName string) (*Section, bool) {
	seg, ok := c.SegmentByName(segName)
	if !ok {
		return nil, false
	}
	for i := range seg.Sections {
		if cstr16(seg.Sections[i].SectName) == sectName {
			return &seg.Sections[i], true
		}
	}
	return nil, false
}

// SectionByIndex finds a section by its 1-based nlist64 n_sect index,
// searching across all segments in order.
func (c *Context) SectionByIndex(index int) (*Section, bool) {
	for i := range c.Segments {
		for j := range c.Segments[i].Sections {
			if c.Segments[i].Sections[j].Index == index {
				return &c.Segments[i].Sections[j], true
			}
		}
	}
	return nil, false
}

// SectionByAddress finds the section containing a virtual address.
func (c *Context) SectionByAddress(addr uint64) (*Section, bool) {
	for i := range c.Segments {
		seg := &c.Segments[i]
		if addr < seg.VMAddr || addr >= seg.VMAddr+seg.VMSize {
			continue
		}
		for j := range seg.Sections {
			sect := &seg.Sections[j]
			if addr >= sect.Addr && addr < sect.Addr+sect.Size {
				return sect, true
			}
		}
	}
	return nil, false
}
