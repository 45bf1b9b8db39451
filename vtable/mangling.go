// Package vtable finishes the C++ ABI linking work a compiler/linker would
// normally perform: given a kext's super-metaclass-pointer symbols, it
// constructs the class and metaclass vtables a compiler would have emitted
// had the kext been linked against its dependencies directly, patching any
// slot the kext left unresolved to point at the parent's implementation.
//
// Grounded on Vtables.c: InternalPatchByVtables64 (discovery + fixed-point
// driver), InternalInitializeVtableByEntriesAndRelocations64 (per-slot
// walk), InternalPatchVtableSymbol (the six-rule single-entry patch).
package vtable

import "strings"

// Symbol-name derivation below implements a concrete, internally consistent
// Itanium C++ ABI mangling scheme realizing the derivations Header.c names
// only by function (MachoGetClassNameFromSuperMetaClassPointer,
// MachoGetVtableNameFromClassName, ...); the exact mangled forms used by
// the original compiler are not present in the retrieved source. The one
// exception is PureVirtualSymbol, a real, unchanged Itanium ABI name.

// PureVirtualSymbol is the Itanium ABI marker for a declared-but-unimplemented
// virtual function.
const PureVirtualSymbol = "___cxa_pure_virtual"

// PadSlotMarker is the substring a parent vtable entry's name carries when
// that slot is reserved for ABI-compatible future expansion rather than
// backing a real virtual function.
const PadSlotMarker = "_RESERVED"

// OSMetaClassVtableName is the hard-coded parent vtable name metaclass
// vtables inherit from; metaclasses always derive directly from
// OSMetaClass and this is not discoverable from the image itself.
const OSMetaClassVtableName = "__ZTVN8OSMetaClassE"

// smcpPrefix tags the super-metaclass-pointer symbol the discovery pass
// scans for; it names a class's stored pointer to its superclass's
// metaclass instance.
const smcpPrefix = "__ZN"
const smcpSuffix = "9MetaClass10superClassE"

// ClassNameFromSMCP extracts the plain class name out of a super-metaclass-
// pointer symbol, or ok=false if sym isn't one.
func ClassNameFromSMCP(sym string) (string, bool) {
	if !strings.HasPrefix(sym, smcpPrefix) || !strings.HasSuffix(sym, smcpSuffix) {
		return "", false
	}
	mid := sym[len(smcpPrefix) : len(sym)-len(smcpSuffix)]
	name, ok := stripLengthPrefix(mid)
	return name, ok
}

// IsSMCPSymbol reports whether sym follows the super-metaclass-pointer
// naming convention.
func IsSMCPSymbol(sym string) bool {
	_, ok := ClassNameFromSMCP(sym)
	return ok
}

// metaClassInstanceSuffix tags the symbol naming a class's singleton
// metaclass instance — the value an SMCP's stored pointer resolves to.
const metaClassInstanceSuffix = "9MetaClassE"

// ClassNameFromMetaClassInstance extracts the plain class name out of a
// metaclass-instance symbol, or ok=false if sym isn't one. Used to turn the
// address an SMCP's stored pointer resolves to back into a parent class
// name, the step MetaClassInstanceName's derivation runs in reverse.
func ClassNameFromMetaClassInstance(sym string) (string, bool) {
	if !strings.HasPrefix(sym, smcpPrefix) || !strings.HasSuffix(sym, metaClassInstanceSuffix) {
		return "", false
	}
	mid := sym[len(smcpPrefix) : len(sym)-len(metaClassInstanceSuffix)]
	return stripLengthPrefix(mid)
}

// VtableName derives a class's own vtable symbol from its plain name.
func VtableName(class string) string {
	return "__ZTV" + lengthPrefix(class)
}

// MetaVtableName derives a class's metaclass vtable symbol from its plain
// name.
func MetaVtableName(class string) string {
	return "__ZTVN" + lengthPrefix(class) + "9MetaClassE"
}

// MetaClassInstanceName derives the symbol naming a class's singleton
// metaclass instance.
func MetaClassInstanceName(class string) string {
	return "__ZN" + lengthPrefix(class) + "9MetaClassE"
}

// FinalSymbolName derives the "gMetaClass" global every OSObject subclass
// defines alongside its metaclass instance.
func FinalSymbolName(class string) string {
	return "__ZN" + lengthPrefix(class) + "10gMetaClassE"
}

// FunctionPrefix returns the mangled prefix every member function of class
// starts with; used to tell a declared-but-undefined virtual apart from an
// ordinary unresolved external.
func FunctionPrefix(class string) string {
	return "__ZN" + lengthPrefix(class)
}

func lengthPrefix(name string) string {
	return itoa(len(name)) + name
}

func stripLengthPrefix(s string) (string, bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return "", false
	}
	n := atoi(s[:i])
	if i+n != len(s) {
		return "", false
	}
	return s[i:], true
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
