package macho

import "github.com/Amaranese/ocak-go/machotypes"

// FormatError is the reader's view of machotypes.FormatError, re-exported
// so callers of this package can errors.As against macho.FormatError
// without importing machotypes directly.
type FormatError = machotypes.FormatError

// RuntimeEntryAddress reads the kernel's entry point out of an LC_UNIXTHREAD
// command's saved x86_THREAD_STATE64, as MachoRuntimeGetEntryAddress does
// against an already-expanded runtime image. It is a read-only diagnostic:
// nothing in the patch pipeline depends on it.
func (c *Context) RuntimeEntryAddress() (uint64, bool) {
	if c.threadCmd == nil {
		return 0, false
	}
	if c.threadCmd.Flavor != 4 { // x86_THREAD_STATE64
		return 0, false
	}
	if c.threadCmd.Count != machotypes.X86ThreadStateCount {
		return 0, false
	}

	stateOff := c.threadOff + machotypes.UnixThreadCommandSize
	ripOff := stateOff + machotypes.X86ThreadStateRipIdx*8
	if ripOff+8 > len(c.Buf) {
		return 0, false
	}
	return c.Order.Uint64(c.Buf[ripOff : ripOff+8]), true
}
