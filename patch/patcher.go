package patch

import (
	"github.com/Amaranese/ocak-go/kext"
	"github.com/Amaranese/ocak-go/macho"
)

// Context is a patcher's view onto one mutable buffer: either the raw
// kernel image (NewFromBuffer) or a single kext's executable inside a
// prelinked image (NewFromKext). It mirrors the split between
// PatcherInitContextFromBuffer and PatcherInitContextFromPrelinked — kept
// as two constructors because the kernel-only patch pass runs before any
// PrelinkedContext exists.
type Context struct {
	Buf  []byte
	Mach *macho.Context
	Kext *kext.PrelinkedKext // nil for a kernel-only Context
}

// NewFromBuffer initialises a patcher directly over a raw buffer (the
// kernel image itself, before a prelinked context exists).
func NewFromBuffer(buf []byte) (*Context, error) {
	mc, err := macho.NewContext(buf)
	if err != nil {
		return nil, err
	}
	return &Context{Buf: buf, Mach: mc}, nil
}

// NewFromKext initialises a patcher over one kext's executable, resolving
// a symbolic base through the kext's own resolver (which recurses into its
// dependencies).
func NewFromKext(buf []byte, k *kext.PrelinkedKext) (*Context, error) {
	mc, err := macho.NewContext(buf)
	if err != nil {
		return nil, err
	}
	return &Context{Buf: buf, Mach: mc, Kext: k}, nil
}

func (c *Context) resolveBase(name string) (uint64, bool) {
	if c.Kext != nil {
		sym, ok := c.Kext.LookupByName(name, kext.Any)
		return sym.Value, ok
	}
	syms, _, err := c.Mach.Symtab()
	if err != nil {
		return 0, false
	}
	for _, s := range syms {
		if n, ok := c.Mach.SymbolName(s); ok && n == name {
			return s.Value, true
		}
	}
	return 0, false
}

// ApplyGenericPatch searches Ctx's buffer for Find (optionally masked),
// optionally restricted to [base, base+Limit) when Base names a symbol,
// and overwrites each of the first Skip-then-Count matches with Replace
// (optionally masked so only set bits are overwritten).
//
// A malformed descriptor or a search that finds nothing returns a
// *SkipError: per §7 error kind 3, the caller logs it and continues rather
// than treating it as fatal.
func (c *Context) ApplyGenericPatch(d *Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}

	start, end := 0, len(c.Buf)
	if d.Base != "" {
		addr, ok := c.resolveBase(d.Base)
		if !ok {
			return errSkip("symbolic base not found: " + d.Base)
		}
		off, _, ok := c.Mach.FileOffset(addr)
		if !ok {
			return errSkip("symbolic base resolves outside any segment: " + d.Base)
		}
		start = int(off)
		end = start
		if d.Limit > 0 {
			end += int(d.Limit)
		} else {
			end = len(c.Buf)
		}
		if end > len(c.Buf) {
			end = len(c.Buf)
		}
	}

	if len(d.Find) == 0 {
		// No search pattern: apply once directly at the resolved base.
		if start+len(d.Replace) > len(c.Buf) {
			return errSkip("replacement at base overruns buffer")
		}
		writeMasked(c.Buf[start:], d.Replace, d.ReplaceMask)
		return nil
	}

	matched, skipped := 0, 0
	for i := start; i+len(d.Find) <= end; {
		if !matchMasked(c.Buf[i:i+len(d.Find)], d.Find, d.Mask) {
			i++
			continue
		}
		if skipped < int(d.Skip) {
			skipped++
			i++
			continue
		}

		writeMasked(c.Buf[i:i+len(d.Replace)], d.Replace, d.ReplaceMask)
		matched++
		i += len(d.Find)

		if d.Count != 0 && uint32(matched) >= d.Count {
			break
		}
	}

	if matched == 0 {
		return errSkip("pattern not found: " + d.Comment)
	}
	return nil
}

func matchMasked(window, find, mask []byte) bool {
	for i := range find {
		w, f := window[i], find[i]
		if len(mask) > 0 {
			w &= mask[i]
			f &= mask[i]
		}
		if w != f {
			return false
		}
	}
	return true
}

func writeMasked(dst, replace, mask []byte) {
	for i := range replace {
		if len(mask) == 0 || mask[i] == 0xff {
			dst[i] = replace[i]
			continue
		}
		dst[i] = (dst[i] &^ mask[i]) | (replace[i] & mask[i])
	}
}
