// Package kext models a single bundle extracted from (or destined for) a
// prelinked kernel image, and answers the name/value symbol queries the
// vtable linker needs across a kext's transitive dependencies.
//
// Grounded on the PRELINKED_KEXT model implied by
// InternalGetOcVtableByNameWorker/InternalGetOcVtableByName in Vtables.c:
// a processed flag set before recursing into dependencies and cleared in a
// single unlock pass after the outermost query completes, rather than an
// allocated visited-set.
package kext

import "github.com/Amaranese/ocak-go/macho"

// Symbol is one resolved entry out of a kext's linked symbol table.
type Symbol struct {
	Name  string
	Value uint64
}

// Filter restricts a symbol query to a subset of a kext's symbol table.
type Filter int

const (
	// Any matches every symbol in the linked table.
	Any Filter = iota
	// CxxOnly restricts the search to the trailing slice of the table
	// whose length is NumberOfCxxSymbols — the C++ mangled symbols a
	// virtual-function entry must resolve against.
	CxxOnly
)

// PrelinkedKext is one in-memory bundle record produced by (or consumed
// during) prelinking.
type PrelinkedKext struct {
	Identifier string

	// Context is this kext's own Mach-O sub-context, if it carries an
	// executable (kernel-resource kexts carry none).
	Context *macho.Context

	// Symbols is the kext's linked symbol table, as produced during
	// prelinking: ordinary symbols first, C++ symbols last.
	Symbols []Symbol
	// NumberOfCxxSymbols is the length of the trailing C++-symbols slice
	// of Symbols.
	NumberOfCxxSymbols int

	// Dependencies are back-references into other PrelinkedKexts this one
	// was linked against, in dependency order.
	Dependencies []*PrelinkedKext

	// Vtables are this kext's linked vtables, populated by the vtable
	// linker.
	Vtables []Vtable

	// processed breaks cycles during recursive symbol lookup. It must be
	// false before any query begins and is restored to false by Unlock
	// once the outermost query returns.
	processed bool
}

// Vtable is declared here (rather than imported from package vtable) to
// avoid a dependency cycle: package vtable needs *PrelinkedKext, and
// PrelinkedKext needs to hold vtable results.
type Vtable struct {
	Name    string
	Entries []VtableEntry
}

// VtableEntry is one {name, address} slot. A zero Value with empty Name
// marks an entry whose backing symbol was stripped.
type VtableEntry struct {
	Name  string
	Value uint64
}

// CxxSymbols returns the trailing C++-mangled slice of k's own linked
// symbol table, the "solve" list a vtable-linking request consumes for
// slots it cannot resolve from a parent.
func (k *PrelinkedKext) CxxSymbols() []Symbol {
	return k.symbolsFor(CxxOnly)
}

func (k *PrelinkedKext) symbolsFor(filter Filter) []Symbol {
	if filter == Any {
		return k.Symbols
	}
	start := len(k.Symbols) - k.NumberOfCxxSymbols
	if start < 0 {
		start = 0
	}
	return k.Symbols[start:]
}

// LookupByName searches this kext's linked symbol table, then each
// dependency in order, skipping any dependency already marked processed.
// It calls Unlock itself once the search concludes, so the processed flags
// it set are cleared for the next query.
func (k *PrelinkedKext) LookupByName(name string, filter Filter) (Symbol, bool) {
	sym, ok := k.lookupByName(name, filter)
	k.Unlock()
	return sym, ok
}

func (k *PrelinkedKext) lookupByName(name string, filter Filter) (Symbol, bool) {
	if k.processed {
		return Symbol{}, false
	}
	k.processed = true

	for _, s := range k.symbolsFor(filter) {
		if s.Name == name {
			return s, true
		}
	}
	for _, dep := range k.Dependencies {
		if sym, ok := dep.lookupByName(name, filter); ok {
			return sym, true
		}
	}
	return Symbol{}, false
}

// LookupByValue is the by-address mirror of LookupByName: it returns the
// first symbol across this kext and its transitive dependencies whose
// value equals addr.
func (k *PrelinkedKext) LookupByValue(addr uint64, filter Filter) (Symbol, bool) {
	sym, ok := k.lookupByValue(addr, filter)
	k.Unlock()
	return sym, ok
}

func (k *PrelinkedKext) lookupByValue(addr uint64, filter Filter) (Symbol, bool) {
	if k.processed {
		return Symbol{}, false
	}
	k.processed = true

	for _, s := range k.symbolsFor(filter) {
		if s.Value == addr {
			return s, true
		}
	}
	for _, dep := range k.Dependencies {
		if sym, ok := dep.lookupByValue(addr, filter); ok {
			return sym, true
		}
	}
	return Symbol{}, false
}

// Unlock clears the processed flag across this kext and its transitive
// dependencies. Safe to call even when no query is in flight.
func (k *PrelinkedKext) Unlock() {
	if !k.processed {
		return
	}
	k.processed = false
	for _, dep := range k.Dependencies {
		dep.Unlock()
	}
}
