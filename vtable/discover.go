package vtable

import (
	"fmt"

	"github.com/Amaranese/ocak-go/kext"
	"github.com/Amaranese/ocak-go/macho"
)

// vtableHeaderWords is the count of Itanium ABI header words (offset-to-top,
// RTTI pointer) preceding the first real virtual-function slot.
const vtableHeaderWords = 2

// ErrVtableSymbolMissing is returned when an SMCP symbol names a class
// whose class-vtable or metaclass-vtable symbol cannot be found, per
// Discover's "abort if either is missing" contract.
type ErrVtableSymbolMissing struct {
	Class  string
	Symbol string
}

func (e *ErrVtableSymbolMissing) Error() string {
	return fmt.Sprintf("class %s: vtable symbol %s not found", e.Class, e.Symbol)
}

// ClassCandidate is one class discovered via its super-metaclass-pointer
// symbol, with its derived vtable symbol names resolved to addresses.
type ClassCandidate struct {
	ClassName     string
	ClassVtable   string
	ClassVtableVA uint64
	MetaVtable    string
	MetaVtableVA  uint64

	// SMCPValue is the address of the SMCP symbol itself (not its stored
	// value): ResolveParentOf dereferences this address to find the
	// parent's metaclass instance.
	SMCPValue uint64
}

// Discover scans k's own linked symbol table for SMCP symbols and resolves
// each to the matching class-vtable and metaclass-vtable symbol, per
// step 1 of the linker contract.
func Discover(k *kext.PrelinkedKext) ([]ClassCandidate, error) {
	byName := make(map[string]uint64, len(k.Symbols))
	for _, s := range k.Symbols {
		byName[s.Name] = s.Value
	}

	var out []ClassCandidate
	for _, s := range k.Symbols {
		class, ok := ClassNameFromSMCP(s.Name)
		if !ok {
			continue
		}

		cv := VtableName(class)
		cvAddr, ok := byName[cv]
		if !ok {
			return nil, &ErrVtableSymbolMissing{Class: class, Symbol: cv}
		}
		mv := MetaVtableName(class)
		mvAddr, ok := byName[mv]
		if !ok {
			return nil, &ErrVtableSymbolMissing{Class: class, Symbol: mv}
		}

		out = append(out, ClassCandidate{
			ClassName:     class,
			ClassVtable:   cv,
			ClassVtableVA: cvAddr,
			MetaVtable:    mv,
			MetaVtableVA:  mvAddr,
			SMCPValue:     s.Value,
		})
	}
	return out, nil
}

// ResolveParentOf derives the parent-vtable-name map Link's fixed point
// needs, by dereferencing each candidate's SMCP: the value *stored at* the
// SMCP's own address is the parent class's metaclass instance address, not
// the SMCP's own address, so finding the parent requires a memory read
// through ctx followed by a by-value symbol lookup, per
// InternalGetOcVtableByNameWorker's own superClassMetaClassPointer walk.
// A candidate whose SMCP doesn't resolve (root classes, or a pointer into a
// part of the graph this kext can't see) is simply absent from the result,
// leaving it without a class-vtable parent — correct for OSObject's own
// immediate subclasses, which terminate there.
func ResolveParentOf(ctx *macho.Context, k *kext.PrelinkedKext, candidates []ClassCandidate) map[string]string {
	out := make(map[string]string, len(candidates))
	for _, c := range candidates {
		word, ok := ctx.Bytes(c.SMCPValue, 8)
		if !ok {
			continue
		}
		parentInstanceAddr := ctx.Order.Uint64(word)
		sym, ok := k.LookupByValue(parentInstanceAddr, kext.CxxOnly)
		if !ok {
			continue
		}
		parentClass, ok := ClassNameFromMetaClassInstance(sym.Name)
		if !ok {
			continue
		}
		out[c.ClassVtable] = VtableName(parentClass)
	}
	return out
}

// SeedKnownVtable reads an already-linked vtable's entries directly out of
// the image by name, for bootstrapping Link's fixed point from a vtable
// that was never itself submitted as a LinkRequest: the hard-coded
// OSMetaClass root, or an already-prelinked dependency kext's own vtables.
// It reuses sliceRaw in its "scan to true terminator" mode (no parent
// length, no solve list), which is exactly right for a vtable this engine
// didn't link itself and so has no parent/solve context for.
func SeedKnownVtable(ctx *macho.Context, k *kext.PrelinkedKext, name string) ([]kext.VtableEntry, bool) {
	sym, ok := k.LookupByName(name, kext.Any)
	if !ok {
		return nil, false
	}
	entries, err := sliceRaw(ctx, k, sym.Value, nil, 0)
	if err != nil {
		return nil, false
	}
	return entries, true
}

// sliceRaw reads the raw 8-byte vtable slot words starting at vaddr's
// header, resolving each nonzero word to a symbol via the kext's by-value
// lookup (cxx-only) and pulling from solve (in order) for each zero word,
// per step 2 and step 4's "take the next symbol from S". maxLen, if
// nonzero, bounds iteration to a known parent length; zero means scan
// until a zero word is hit with solve exhausted (a true terminator).
func sliceRaw(ctx *macho.Context, k *kext.PrelinkedKext, vaddr uint64, solve []kext.Symbol, maxLen int) ([]kext.VtableEntry, error) {
	start := vaddr + vtableHeaderWords*8

	var entries []kext.VtableEntry
	solveIdx := 0
	for i := 0; maxLen == 0 || i < maxLen; i++ {
		word, ok := ctx.Bytes(start+uint64(i)*8, 8)
		if !ok {
			if maxLen != 0 {
				return nil, fmt.Errorf("vtable slot %d out of bounds", i)
			}
			break
		}
		val := ctx.Order.Uint64(word)

		if val != 0 {
			if sym, found := k.LookupByValue(val, kext.CxxOnly); found {
				entries = append(entries, kext.VtableEntry{Name: sym.Name, Value: sym.Value})
			} else {
				entries = append(entries, kext.VtableEntry{})
			}
			continue
		}

		if solveIdx >= len(solve) {
			if maxLen == 0 {
				break // true terminator: no more relocations point here
			}
			entries = append(entries, kext.VtableEntry{})
			continue
		}
		s := solve[solveIdx]
		solveIdx++
		entries = append(entries, kext.VtableEntry{Name: s.Name, Value: s.Value})
	}
	return entries, nil
}
