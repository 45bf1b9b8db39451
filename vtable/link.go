package vtable

import (
	"fmt"
	"log"
	"strings"

	"github.com/Amaranese/ocak-go/kext"
	"github.com/Amaranese/ocak-go/macho"
)

// ErrFixedPointFailed is returned when an entire pass over the pending
// queue patches zero classes while work remains: the input is cyclic or a
// referenced parent vtable was never produced.
type ErrFixedPointFailed struct {
	Remaining []string
}

func (e *ErrFixedPointFailed) Error() string {
	return fmt.Sprintf("vtable linking stuck with %d class(es) unresolved: %v", len(e.Remaining), e.Remaining)
}

// ErrABIBreak is returned when a child overrides a pad slot with a
// different symbol than the parent's.
type ErrABIBreak struct {
	Class, Parent, Child string
}

func (e *ErrABIBreak) Error() string {
	return fmt.Sprintf("class %s: pad slot ABI break (parent %s, child %s)", e.Class, e.Parent, e.Child)
}

// ErrUndefinedVirtual is returned when a child slot is still undefined
// (zero value), its name carries the class's own function prefix, and the
// parent entry is named and not a pad slot.
type ErrUndefinedVirtual struct {
	Class, Symbol string
}

func (e *ErrUndefinedVirtual) Error() string {
	return fmt.Sprintf("class %s: virtual method %s declared but not defined", e.Class, e.Symbol)
}

// patchEntry is the single-entry patch rule, the semantic heart of the
// linker (InternalPatchVtableSymbol). childClass names the class the slot
// belongs to, for the undeclared-virtual check.
func patchEntry(parent, child kext.VtableEntry, childClass string) (kext.VtableEntry, error) {
	if parent.Name == "" {
		return child, nil
	}
	if child.Value != 0 {
		return child, nil
	}
	if child.Name == PureVirtualSymbol {
		return child, nil
	}
	if child.Name == parent.Name {
		return child, nil
	}
	if strings.Contains(parent.Name, PadSlotMarker) {
		return kext.VtableEntry{}, &ErrABIBreak{Class: childClass, Parent: parent.Name, Child: child.Name}
	}
	if child.Name != "" && strings.HasPrefix(child.Name, FunctionPrefix(childClass)) {
		return kext.VtableEntry{}, &ErrUndefinedVirtual{Class: childClass, Symbol: child.Name}
	}

	solved := kext.VtableEntry{Name: parent.Name, Value: parent.Value}
	if solved.Value&1 != 0 {
		log.Printf("vtable: %s: solved entry %s has misaligned (odd) address %#x", childClass, solved.Name, solved.Value)
	}
	return solved, nil
}

// patchVtable builds the patched child vtable against an already-linked
// parent, per step 4.
func patchVtable(class string, parent []kext.VtableEntry, childRaw []kext.VtableEntry) ([]kext.VtableEntry, error) {
	n := len(parent)
	if len(childRaw) < n {
		n = len(childRaw)
	}
	out := make([]kext.VtableEntry, 0, n)
	for i := 0; i < n; i++ {
		patched, err := patchEntry(parent[i], childRaw[i], class)
		if err != nil {
			return nil, err
		}
		out = append(out, patched)
	}
	return out, nil
}

// writeVtableEntries patches the resolved slot values back into the image
// itself, completing step 4's "rewrite vtables in place" rather than only
// producing the Go-level result Link returns; ctx is nil in tests that
// never reach a successful patch, so writes are skipped rather than
// panicking.
func writeVtableEntries(ctx *macho.Context, vaddr uint64, entries []kext.VtableEntry) {
	if ctx == nil {
		return
	}
	start := vaddr + vtableHeaderWords*8
	for i, e := range entries {
		word, ok := ctx.Bytes(start+uint64(i)*8, 8)
		if !ok {
			continue
		}
		ctx.Order.PutUint64(word, e.Value)
	}
}

// pending is one class still awaiting linking.
type pending struct {
	candidate ClassCandidate
	k         *kext.PrelinkedKext
	solveCls  []kext.Symbol // solve symbols for the class vtable
	solveMeta []kext.Symbol // solve symbols for the metaclass vtable
}

// LinkRequest is one class submitted for vtable linking: the candidate
// discovered in its kext plus the ordered list of its own declared C++
// symbols to consume as "solve" entries for unresolved slots, split between
// the class vtable and the metaclass vtable.
type LinkRequest struct {
	Kext           *kext.PrelinkedKext
	Candidate      ClassCandidate
	ClassSolve     []kext.Symbol
	MetaClassSolve []kext.Symbol
}

// Link iterates the fixed point described in step 3: a class becomes
// patchable once the parent vtable that parentOf names (keyed by vtable
// symbol name) is present in linked. Each class and metaclass vtable it
// links is recorded into linked, keyed by vtable symbol name; metaclass
// vtables need OSMetaClassVtableName to be in linked already. It returns
// only an error (for example *ErrFixedPointFailed), not the vtables.
func Link(ctx *macho.Context, requests []LinkRequest, parentOf map[string]string, linked map[string][]kext.VtableEntry) error {
	queue := make([]pending, 0, len(requests))
	for _, r := range requests {
		queue = append(queue, pending{candidate: r.Candidate, k: r.Kext, solveCls: r.ClassSolve, solveMeta: r.MetaClassSolve})
	}

	for len(queue) > 0 {
		var remaining []pending
		progressed := false

		for _, p := range queue {
			classParentName, haveClassParent := parentOf[p.candidate.ClassVtable]
			classParent, classParentLinked := linked[classParentName]
			if haveClassParent && !classParentLinked {
				remaining = append(remaining, p)
				continue
			}

			// Metaclass vtables always inherit from the hard-coded
			// OSMetaClass root.
			metaParent, haveMetaParent := linked[OSMetaClassVtableName]
			if !haveMetaParent {
				remaining = append(remaining, p)
				continue
			}

			classRaw, err := sliceRaw(ctx, p.k, p.candidate.ClassVtableVA, p.solveCls, len(classParent))
			if err != nil {
				return err
			}
			classLinked, err := patchVtable(p.candidate.ClassName, classParent, classRaw)
			if err != nil {
				return err
			}

			metaRaw, err := sliceRaw(ctx, p.k, p.candidate.MetaVtableVA, p.solveMeta, len(metaParent))
			if err != nil {
				return err
			}
			metaLinked, err := patchVtable(p.candidate.ClassName, metaParent, metaRaw)
			if err != nil {
				return err
			}

			linked[p.candidate.ClassVtable] = classLinked
			linked[p.candidate.MetaVtable] = metaLinked
			writeVtableEntries(ctx, p.candidate.ClassVtableVA, classLinked)
			writeVtableEntries(ctx, p.candidate.MetaVtableVA, metaLinked)
			p.k.Vtables = append(p.k.Vtables,
				kext.Vtable{Name: p.candidate.ClassVtable, Entries: classLinked},
				kext.Vtable{Name: p.candidate.MetaVtable, Entries: metaLinked},
			)
			progressed = true
		}

		if !progressed && len(remaining) > 0 {
			names := make([]string, 0, len(remaining))
			for _, p := range remaining {
				names = append(names, p.candidate.ClassName)
			}
			return &ErrFixedPointFailed{Remaining: names}
		}
		queue = remaining
	}
	return nil
}
