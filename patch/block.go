package patch

// BlockKext overwrites a kext's text entry point so the bundle fails to
// load rather than running, mirroring PatcherBlockKext.
//
// The load address a kext's kmod_info actually registers as its start
// routine is only recoverable from the enclosing image's __PRELINK_INFO
// walk (prelink.KmodInfo.StartAddr), which this package does not have
// access to when Ctx was built through NewFromKext. As a documented
// stand-in, BlockKext patches the first instruction of __TEXT,__text
// instead — in practice the compiler places a kext's registered start
// function first in that section — with a two-instruction sequence that
// returns KERN_FAILURE immediately.
func (c *Context) BlockKext() error {
	sect, ok := c.Mach.SectionByName("__TEXT", "__text")
	if !ok {
		return errSkip("no __TEXT,__text section to block")
	}
	off, _, ok := c.Mach.FileOffset(sect.Addr)
	if !ok {
		return errSkip("__TEXT,__text section not addressable")
	}
	if off+6 > uint64(len(c.Buf)) {
		return errSkip("__TEXT,__text section too small to block")
	}

	// mov eax, 5 (KERN_FAILURE); ret
	copy(c.Buf[off:off+6], []byte{0xb8, 0x05, 0x00, 0x00, 0x00, 0xc3})
	return nil
}
