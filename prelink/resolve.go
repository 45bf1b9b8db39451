package prelink

import (
	"strings"

	"github.com/Amaranese/ocak-go/kext"
	"github.com/Amaranese/ocak-go/macho"
	"github.com/Amaranese/ocak-go/machotypes"
)

// BuildKernelKext wraps the kernel image's own exported symbol table as a
// PrelinkedKext so seeding the OSMetaClass root vtable (defined in the
// kernel itself, never in any kext) can go through the same
// LookupByName/SeedKnownVtable machinery every other kext's lookups use.
func BuildKernelKext(ctx *macho.Context) *kext.PrelinkedKext {
	k := &kext.PrelinkedKext{Identifier: "kernel", Context: ctx}
	k.Symbols, k.NumberOfCxxSymbols = symbolsFromContext(ctx)
	return k
}

// BuildPrelinkedKexts constructs one kext.PrelinkedKext per listing
// (kernel-resource listings and ones without a parsable mapped executable
// get a record with no sub-context or symbols), each other one carrying
// its own sub-image's linked symbol table and its
// OSBundleLibraries dependencies wired up by bundle identifier (plus the
// kernel itself, always an implicit dependency), so the by-name/by-value
// queries kext.PrelinkedKext exposes and the vtable linker's fixed-point
// pass actually have real data to run against instead of the orchestrator's
// own parallel, unconnected KextListing records.
//
// Grounded on PRELINKED_KEXT's own population in Vtables.c:
// InternalCreateVtablesPrelinked64 builds LinkedSymbolTable,
// NumberOfCxxSymbols and Dependencies from exactly this kind of per-kext
// nlist-plus-OSBundleLibraries walk before vtable linking ever begins.
func BuildPrelinkedKexts(ctx *macho.Context, listings []KextListing, kernelKext *kext.PrelinkedKext) map[string]*kext.PrelinkedKext {
	out := make(map[string]*kext.PrelinkedKext, len(listings))
	for _, l := range listings {
		out[l.Bundle.ID] = &kext.PrelinkedKext{Identifier: l.Bundle.ID}
	}

	for _, l := range listings {
		k := out[l.Bundle.ID]
		if kernelKext != nil {
			k.Dependencies = append(k.Dependencies, kernelKext)
		}
		if l.Bundle.OSKernelResource || l.Kmod.Size == 0 {
			continue
		}

		sub, ok := ctx.Bytes(l.Kmod.Address, l.Kmod.Size)
		if !ok {
			continue
		}
		subCtx, err := macho.NewContext(sub)
		if err != nil {
			continue
		}
		k.Context = subCtx
		k.Symbols, k.NumberOfCxxSymbols = symbolsFromContext(subCtx)

		for dep := range l.Bundle.OSBundleLibraries {
			if depKext, ok := out[dep]; ok && depKext != k {
				k.Dependencies = append(k.Dependencies, depKext)
			}
		}
	}
	return out
}

// symbolsFromContext reads an image's own linked symbol table, partitioning
// it into ordinary symbols followed by C++-mangled ones so the trailing-
// slice convention the kext.CxxOnly filter relies on
// (Kext->NumberOfSymbols - Kext->NumberOfCxxSymbols in Vtables.c) holds.
func symbolsFromContext(ctx *macho.Context) ([]kext.Symbol, int) {
	nlist, _, err := ctx.Symtab()
	if err != nil || len(nlist) == 0 {
		return nil, 0
	}

	var plain, cxx []kext.Symbol
	for _, n := range nlist {
		if n.Type&machotypes.NTypeStab != 0 {
			continue
		}
		name, ok := ctx.SymbolName(n)
		if !ok || name == "" {
			continue
		}
		sym := kext.Symbol{Name: name, Value: n.Value}
		if strings.HasPrefix(name, "__Z") {
			cxx = append(cxx, sym)
		} else {
			plain = append(plain, sym)
		}
	}
	return append(plain, cxx...), len(cxx)
}
