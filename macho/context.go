// Package macho is the zero-copy Mach-O reader: it validates a 64-bit
// kernel or kext image in place over a caller-owned byte buffer and exposes
// bounds-checked enumeration of its load commands, segments, sections and
// symbol tables. No accessor ever returns a range that falls outside the
// buffer it was constructed from.
package macho

import (
	"encoding/binary"
	"log"

	"github.com/Amaranese/ocak-go/machotypes"
)

// Segment is a validated LC_SEGMENT_64 load command together with its
// trailing section array and the byte offset at which its command begins.
type Segment struct {
	machotypes.SegmentCommand64
	Sections []Section
	CmdOff   int
}

// Section is a validated section_64 record.
type Section struct {
	machotypes.Section64
	Index int // 1-based, matching nlist64's n_sect convention
}

// Context is the root handle produced by parsing a Mach-O buffer. It
// borrows the buffer; callers must not mutate it while a Context is live
// unless they are the orchestrator performing an in-place patch pass.
type Context struct {
	Buf    []byte
	Header machotypes.FileHeader
	Order  binary.ByteOrder

	Segments []Segment

	symtabCmd   *machotypes.SymtabCommand
	dysymtabCmd *machotypes.DysymtabCommand
	uuidCmd     *machotypes.UUIDCommand
	threadCmd   *machotypes.UnixThreadCommand
	threadOff   int

	// SymtabCmdOff and DysymtabCmdOff are the byte offsets of LC_SYMTAB and
	// LC_DYSYMTAB within Buf (0 if absent), needed by the image expander to
	// locate and rewrite the matching commands in a destination buffer that
	// shares this context's header-and-load-commands layout.
	SymtabCmdOff   int
	DysymtabCmdOff int

	symtab   []machotypes.Nlist64
	strtab   []byte
	symCache bool

	// SkippedArchitectures lists fat-binary slices present in the input
	// that were not selected because they weren't x86_64.
	SkippedArchitectures []SkippedArchitecture
}

// NewContext validates buf as a 64-bit Mach-O kernel or kext image,
// transparently unwrapping a fat binary first if one is present, and
// returns a Context giving bounds-checked access to its contents.
//
// No partial Context is ever returned: either every load command validates
// or an error comes back and ctx is nil.
func NewContext(buf []byte) (*Context, error) {
	var skipped []SkippedArchitecture
	if slice, sk, ok, err := filterFatArchitecture64(buf); err != nil {
		return nil, err
	} else if ok {
		buf = slice
		skipped = sk
	}

	if len(buf) < machotypes.FileHeaderSize64 {
		return nil, machotypes.NewFormatError(0, "file too small for a 64-bit mach header", len(buf))
	}

	order := binary.ByteOrder(binary.LittleEndian)
	magic := machotypes.Magic(order.Uint32(buf[0:4]))
	if magic != machotypes.Magic64 {
		return nil, machotypes.NewFormatError(0, "invalid magic number", magic)
	}

	hdr := machotypes.FileHeader{
		Magic:        magic,
		CPUType:      machotypes.CPUType(order.Uint32(buf[4:8])),
		CPUSubtype:   order.Uint32(buf[8:12]),
		Type:         machotypes.FileType(order.Uint32(buf[12:16])),
		NCommands:    order.Uint32(buf[16:20]),
		SizeCommands: order.Uint32(buf[20:24]),
		Flags:        order.Uint32(buf[24:28]),
		Reserved:     order.Uint32(buf[28:32]),
	}

	if hdr.CPUType != machotypes.CPUTypeX86_64 {
		return nil, machotypes.NewFormatError(4, "unsupported cpu type", hdr.CPUType)
	}
	if hdr.Type != machotypes.MhExecute && hdr.Type != machotypes.MhKextBundle {
		return nil, machotypes.NewFormatError(12, "unsupported file type", hdr.Type)
	}

	cmdsStart := machotypes.FileHeaderSize64
	cmdsEnd := uint64(cmdsStart) + uint64(hdr.SizeCommands)
	if cmdsEnd > uint64(len(buf)) {
		return nil, machotypes.NewFormatError(int64(cmdsStart), "load commands overrun buffer", hdr.SizeCommands)
	}

	ctx := &Context{
		Buf:                  buf,
		Header:               hdr,
		Order:                order,
		SkippedArchitectures: skipped,
	}

	if err := ctx.parseLoadCommands(cmdsStart, int(hdr.SizeCommands), int(hdr.NCommands)); err != nil {
		return nil, err
	}

	return ctx, nil
}

// parseLoadCommands walks every load command in [off, off+size), validating
// that each is well formed and that the sum of individual command sizes
// equals size exactly, per MachoInitializeContext's command-size-sum check.
func (c *Context) parseLoadCommands(off, size, nCommands int) error {
	var sum int
	pos := off
	end := off + size

	for i := 0; i < nCommands; i++ {
		if pos+machotypes.LoadCmdHdrSize > end {
			return machotypes.NewFormatError(int64(pos), "load command header overruns commands area", nil)
		}

		cmd := machotypes.LoadCmd(c.Order.Uint32(c.Buf[pos : pos+4]))
		cmdSize := c.Order.Uint32(c.Buf[pos+4 : pos+8])

		if cmdSize < machotypes.LoadCmdHdrSize {
			return machotypes.NewFormatError(int64(pos), "load command smaller than its header", cmdSize)
		}
		if cmdSize%8 != 0 {
			return machotypes.NewFormatError(int64(pos), "load command size not a multiple of 8", cmdSize)
		}
		if pos+int(cmdSize) > end {
			return machotypes.NewFormatError(int64(pos), "load command overruns commands area", cmdSize)
		}

		if err := c.dispatchLoadCommand(cmd, pos, int(cmdSize)); err != nil {
			return err
		}

		sum += int(cmdSize)
		pos += int(cmdSize)
	}

	if sum != size {
		return machotypes.NewFormatError(int64(off), "sum of command sizes does not match header SizeCommands", sum)
	}

	return nil
}

func (c *Context) dispatchLoadCommand(cmd machotypes.LoadCmd, off, size int) error {
	switch cmd {
	case machotypes.LcSegment64:
		return c.parseSegment64(off, size)
	case machotypes.LcSymtab:
		var sc machotypes.SymtabCommand
		if err := decode(c.Buf[off:off+size], c.Order, &sc); err != nil {
			return machotypes.NewFormatError(int64(off), "failed to decode LC_SYMTAB", err)
		}
		c.symtabCmd = &sc
		c.SymtabCmdOff = off
	case machotypes.LcDysymtab:
		var dc machotypes.DysymtabCommand
		if err := decode(c.Buf[off:off+size], c.Order, &dc); err != nil {
			return machotypes.NewFormatError(int64(off), "failed to decode LC_DYSYMTAB", err)
		}
		c.dysymtabCmd = &dc
		c.DysymtabCmdOff = off
	case machotypes.LcUUID:
		var uc machotypes.UUIDCommand
		if err := decode(c.Buf[off:off+size], c.Order, &uc); err != nil {
			return machotypes.NewFormatError(int64(off), "failed to decode LC_UUID", err)
		}
		c.uuidCmd = &uc
	case machotypes.LcUnixThread:
		var tc machotypes.UnixThreadCommand
		if err := decode(c.Buf[off:off+machotypes.UnixThreadCommandSize], c.Order, &tc); err != nil {
			return machotypes.NewFormatError(int64(off), "failed to decode LC_UNIXTHREAD", err)
		}
		c.threadCmd = &tc
		c.threadOff = off
	default:
		// Forward-compat: unrecognised or strippable commands are kept in
		// the buffer untouched but not modelled; this mirrors file.go's
		// informational log on an unknown command rather than a hard
		// failure, since §4.1 only requires header/size validation here.
		logUnknownCommand(cmd)
	}
	return nil
}

func (c *Context) parseSegment64(off, size int) error {
	var sc machotypes.SegmentCommand64
	if err := decode(c.Buf[off:off+machotypes.SegmentCommand64Size], c.Order, &sc); err != nil {
		return machotypes.NewFormatError(int64(off), "failed to decode LC_SEGMENT_64", err)
	}

	if sc.FileOff+sc.FileSize < sc.FileOff {
		return machotypes.NewFormatError(int64(off), "segment file range overflows", sc.SegName)
	}
	if sc.FileOff+sc.FileSize > uint64(len(c.Buf)) {
		return machotypes.NewFormatError(int64(off), "segment file range overruns buffer", sc.SegName)
	}

	wantSize := machotypes.SegmentCommand64Size + int(sc.NSects)*machotypes.Section64Size
	if wantSize != size {
		return machotypes.NewFormatError(int64(off), "segment command size inconsistent with section count", size)
	}

	seg := Segment{SegmentCommand64: sc, CmdOff: off}
	sectOff := off + machotypes.SegmentCommand64Size
	for i := 0; i < int(sc.NSects); i++ {
		var sect machotypes.Section64
		if err := decode(c.Buf[sectOff:sectOff+machotypes.Section64Size], c.Order, &sect); err != nil {
			return machotypes.NewFormatError(int64(sectOff), "failed to decode section_64", err)
		}
		if sect.Offset != 0 {
			if uint64(sect.Offset) < sc.FileOff {
				return machotypes.NewFormatError(int64(sectOff), "section offset precedes its segment", sect.SectName)
			}
			if uint64(sect.Offset)+sect.Size > uint64(len(c.Buf)) {
				return machotypes.NewFormatError(int64(sectOff), "section range overruns buffer", sect.SectName)
			}
		}
		if sect.Align > 31 {
			return machotypes.NewFormatError(int64(sectOff), "section alignment shift too large", sect.Align)
		}
		seg.Sections = append(seg.Sections, Section{Section64: sect, Index: i + 1})
		sectOff += machotypes.Section64Size
	}

	c.Segments = append(c.Segments, seg)
	return nil
}

func decode(b []byte, order binary.ByteOrder, v interface{}) error {
	return binary.Read(sliceReader(b), order, v)
}

// sliceReader adapts a []byte to io.Reader without an extra allocation for
// the common fixed-size-struct decode path.
type sliceReader []byte

func (s sliceReader) Read(p []byte) (int, error) {
	n := copy(p, s)
	return n, nil
}

func logUnknownCommand(cmd machotypes.LoadCmd) {
	// Matches the teacher's forward-compatibility log in file.go's NewFile
	// ("found NEW load command: %s, please let the author know :)"): an
	// unrecognised load command is not an error, just unmodelled.
	log.Printf("macho: skipping unmodelled load command %#x", uint32(cmd))
}
