package vtable

import (
	"testing"

	"github.com/Amaranese/ocak-go/kext"
)

func TestDiscoverFindsCandidates(t *testing.T) {
	k := &kext.PrelinkedKext{
		Symbols: []kext.Symbol{
			{Name: "__ZN8OSObject9MetaClass10superClassE", Value: 0x1000},
			{Name: VtableName("OSObject"), Value: 0x2000},
			{Name: MetaVtableName("OSObject"), Value: 0x3000},
		},
	}

	got, err := Discover(k)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Discover found %d candidates, want 1", len(got))
	}
	if got[0].ClassName != "OSObject" || got[0].ClassVtableVA != 0x2000 || got[0].MetaVtableVA != 0x3000 {
		t.Errorf("Discover candidate = %+v", got[0])
	}
}

func TestDiscoverMissingVtableErrors(t *testing.T) {
	k := &kext.PrelinkedKext{
		Symbols: []kext.Symbol{
			{Name: "__ZN8OSObject9MetaClass10superClassE", Value: 0x1000},
			// Class vtable symbol is missing entirely.
		},
	}

	_, err := Discover(k)
	if _, ok := err.(*ErrVtableSymbolMissing); !ok {
		t.Fatalf("expected *ErrVtableSymbolMissing, got %T (%v)", err, err)
	}
}
