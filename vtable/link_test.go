package vtable

import (
	"testing"

	"github.com/Amaranese/ocak-go/kext"
)

func TestPatchEntrySixRules(t *testing.T) {
	const class = "Child"

	tests := []struct {
		name   string
		parent kext.VtableEntry
		child  kext.VtableEntry
		want   kext.VtableEntry
		errIs  func(error) bool
	}{
		{
			name:   "rule 1: no parent entry passes the child through",
			parent: kext.VtableEntry{},
			child:  kext.VtableEntry{Name: "_x", Value: 0x10},
			want:   kext.VtableEntry{Name: "_x", Value: 0x10},
		},
		{
			name:   "rule 2: locally defined child passes through",
			parent: kext.VtableEntry{Name: "_parentFn", Value: 0x20},
			child:  kext.VtableEntry{Name: "_childFn", Value: 0x30},
			want:   kext.VtableEntry{Name: "_childFn", Value: 0x30},
		},
		{
			name:   "rule 3: pure virtual marker passes through",
			parent: kext.VtableEntry{Name: "_parentFn", Value: 0x20},
			child:  kext.VtableEntry{Name: PureVirtualSymbol},
			want:   kext.VtableEntry{Name: PureVirtualSymbol},
		},
		{
			name:   "rule 4: same name as parent passes through",
			parent: kext.VtableEntry{Name: "_sharedFn", Value: 0x40},
			child:  kext.VtableEntry{Name: "_sharedFn"},
			want:   kext.VtableEntry{Name: "_sharedFn"},
		},
		{
			name:   "rule 5: pad slot override is an ABI break",
			parent: kext.VtableEntry{Name: "_RESERVED3"},
			child:  kext.VtableEntry{Name: "_somethingElse"},
			errIs:  func(err error) bool { _, ok := err.(*ErrABIBreak); return ok },
		},
		{
			name:   "rule 6: declared-but-undefined virtual errors",
			parent: kext.VtableEntry{Name: "_parentFn", Value: 0x20},
			child:  kext.VtableEntry{Name: FunctionPrefix(class) + "9undefinedEv"},
			errIs:  func(err error) bool { _, ok := err.(*ErrUndefinedVirtual); return ok },
		},
		{
			name:   "fallback: unresolved slot solved from parent",
			parent: kext.VtableEntry{Name: "_parentFn", Value: 0x20},
			child:  kext.VtableEntry{},
			want:   kext.VtableEntry{Name: "_parentFn", Value: 0x20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := patchEntry(tt.parent, tt.child, class)
			if tt.errIs != nil {
				if err == nil || !tt.errIs(err) {
					t.Fatalf("patchEntry() error = %v, want a matching error type", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("patchEntry(): unexpected error %v", err)
			}
			if got != tt.want {
				t.Fatalf("patchEntry() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPatchVtableTruncatesToShorterSide(t *testing.T) {
	parent := []kext.VtableEntry{
		{Name: "_p0", Value: 1},
		{Name: "_p1", Value: 2},
		{Name: "_p2", Value: 3},
	}
	child := []kext.VtableEntry{
		{Name: "_c0", Value: 10},
	}

	got, err := patchVtable("Child", parent, child)
	if err != nil {
		t.Fatalf("patchVtable: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("patchVtable returned %d entries, want 1 (bounded by the shorter side)", len(got))
	}
	if got[0] != child[0] {
		t.Errorf("got[0] = %+v, want %+v (locally defined passthrough)", got[0], child[0])
	}
}

func TestLinkFailsOnFixedPointWithMissingParent(t *testing.T) {
	requests := []LinkRequest{
		{
			Kext: &kext.PrelinkedKext{},
			Candidate: ClassCandidate{
				ClassName:   "Orphan",
				ClassVtable: "__ZTV6Orphan",
				MetaVtable:  "__ZTVN6Orphan9MetaClassE",
			},
		},
	}
	parentOf := map[string]string{"__ZTV6Orphan": "__ZTV6Ghost"}
	linked := map[string][]kext.VtableEntry{
		OSMetaClassVtableName: {{Name: "_metaRoot", Value: 1}},
	}

	err := Link(nil, requests, parentOf, linked)
	fp, ok := err.(*ErrFixedPointFailed)
	if !ok {
		t.Fatalf("Link() error = %v (%T), want *ErrFixedPointFailed", err, err)
	}
	if len(fp.Remaining) != 1 || fp.Remaining[0] != "Orphan" {
		t.Errorf("ErrFixedPointFailed.Remaining = %v, want [Orphan]", fp.Remaining)
	}
}

func TestLinkFailsWithoutMetaClassRoot(t *testing.T) {
	requests := []LinkRequest{
		{
			Kext: &kext.PrelinkedKext{},
			Candidate: ClassCandidate{
				ClassName:   "Root",
				ClassVtable: "__ZTV4Root",
				MetaVtable:  "__ZTVN4Root9MetaClassE",
			},
		},
	}
	// No parent declared, but OSMetaClassVtableName is also absent from
	// linked, so the metaclass half can never proceed.
	err := Link(nil, requests, map[string]string{}, map[string][]kext.VtableEntry{})
	if _, ok := err.(*ErrFixedPointFailed); !ok {
		t.Fatalf("Link() error = %v (%T), want *ErrFixedPointFailed", err, err)
	}
}
