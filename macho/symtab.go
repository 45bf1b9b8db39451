package macho

import (
	"bytes"

	"github.com/Amaranese/ocak-go/machotypes"
)

// Symtab lazily parses and caches the nlist64 array and string table
// described by LC_SYMTAB, bounds-checking (nsyms*sizeof(nlist64)+symoff)
// and (strsize+stroff) against the file size and requiring the string
// table to end in a NUL, per §4.1.
func (c *Context) Symtab() ([]machotypes.Nlist64, []byte, error) {
	if c.symCache {
		return c.symtab, c.strtab, nil
	}
	if c.symtabCmd == nil {
		c.symCache = true
		return nil, nil, nil
	}

	sc := c.symtabCmd
	symEnd := uint64(sc.SymOff) + uint64(sc.NSyms)*machotypes.Nlist64Size
	if symEnd > uint64(len(c.Buf)) {
		return nil, nil, machotypes.NewFormatError(int64(sc.SymOff), "symtab overruns buffer", sc.NSyms)
	}
	strEnd := uint64(sc.StrOff) + uint64(sc.StrSize)
	if strEnd > uint64(len(c.Buf)) {
		return nil, nil, machotypes.NewFormatError(int64(sc.StrOff), "string table overruns buffer", sc.StrSize)
	}
	if sc.StrSize > 0 && c.Buf[strEnd-1] != 0 {
		return nil, nil, machotypes.NewFormatError(int64(sc.StrOff), "string table is not NUL-terminated", nil)
	}

	syms := make([]machotypes.Nlist64, sc.NSyms)
	pos := sc.SymOff
	for i := range syms {
		b := c.Buf[pos : pos+machotypes.Nlist64Size]
		syms[i] = machotypes.Nlist64{
			StrX:  c.Order.Uint32(b[0:4]),
			Type:  b[4],
			Sect:  b[5],
			Desc:  c.Order.Uint16(b[6:8]),
			Value: c.Order.Uint64(b[8:16]),
		}
		pos += machotypes.Nlist64Size
	}

	c.symtab = syms
	c.strtab = c.Buf[sc.StrOff:strEnd]
	c.symCache = true
	return c.symtab, c.strtab, nil
}

// Dysymtab returns the parsed LC_DYSYMTAB command, if present.
func (c *Context) Dysymtab() (*machotypes.DysymtabCommand, bool) {
	return c.dysymtabCmd, c.dysymtabCmd != nil
}

// SymtabCmd returns the parsed LC_SYMTAB command, if present.
func (c *Context) SymtabCmd() (*machotypes.SymtabCommand, bool) {
	return c.symtabCmd, c.symtabCmd != nil
}

// UUID returns the image's LC_UUID bytes, if present.
func (c *Context) UUID() ([16]byte, bool) {
	if c.uuidCmd == nil {
		return [16]byte{}, false
	}
	return c.uuidCmd.UUID, true
}

// SymbolName resolves an nlist64 entry's string-table index to a name. An
// out-of-range index is treated as absent rather than an error, per §4.1.
func (c *Context) SymbolName(sym machotypes.Nlist64) (string, bool) {
	if uint64(sym.StrX) >= uint64(len(c.strtab)) {
		return "", false
	}
	rest := c.strtab[sym.StrX:]
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		return string(rest[:i]), true
	}
	return "", false
}
