package kext

import "testing"

func TestLookupByNameWalksDependenciesInOrder(t *testing.T) {
	base := &PrelinkedKext{
		Identifier: "com.example.base",
		Symbols:    []Symbol{{Name: "_baseFn", Value: 0x100}},
	}
	helper := &PrelinkedKext{
		Identifier: "com.example.helper",
		Symbols:    []Symbol{{Name: "_helperFn", Value: 0x200}},
	}
	child := &PrelinkedKext{
		Identifier:   "com.example.child",
		Symbols:      []Symbol{{Name: "_childFn", Value: 0x300}},
		Dependencies: []*PrelinkedKext{base, helper},
	}

	if sym, ok := child.LookupByName("_childFn", Any); !ok || sym.Value != 0x300 {
		t.Fatalf("LookupByName(_childFn) = %+v, %v", sym, ok)
	}
	if sym, ok := child.LookupByName("_baseFn", Any); !ok || sym.Value != 0x100 {
		t.Fatalf("LookupByName(_baseFn) = %+v, %v", sym, ok)
	}
	if sym, ok := child.LookupByName("_helperFn", Any); !ok || sym.Value != 0x200 {
		t.Fatalf("LookupByName(_helperFn) = %+v, %v", sym, ok)
	}
	if _, ok := child.LookupByName("_missing", Any); ok {
		t.Fatal("LookupByName(_missing) unexpectedly found a symbol")
	}
}

func TestLookupClearsProcessedFlagAfterQuery(t *testing.T) {
	a := &PrelinkedKext{Identifier: "a"}
	b := &PrelinkedKext{Identifier: "b", Dependencies: []*PrelinkedKext{a}}
	a.Dependencies = []*PrelinkedKext{b} // cyclic

	if _, ok := b.LookupByName("_nope", Any); ok {
		t.Fatal("unexpectedly found a symbol in an empty cyclic graph")
	}
	if a.processed || b.processed {
		t.Fatalf("processed flags left set after query: a=%v b=%v", a.processed, b.processed)
	}

	// A second query over the same cyclic graph must not hang or
	// immediately report every node as already processed.
	a.Symbols = []Symbol{{Name: "_aFn", Value: 0x42}}
	if sym, ok := b.LookupByName("_aFn", Any); !ok || sym.Value != 0x42 {
		t.Fatalf("second LookupByName(_aFn) = %+v, %v", sym, ok)
	}
}

func TestLookupByValueCxxOnlyFilter(t *testing.T) {
	k := &PrelinkedKext{
		Identifier: "com.example.cxx",
		Symbols: []Symbol{
			{Name: "_plainFn", Value: 0x10},
			{Name: "__ZN4Base3fooEv", Value: 0x20},
			{Name: "__ZN4Base3barEv", Value: 0x30},
		},
		NumberOfCxxSymbols: 2,
	}

	if _, ok := k.LookupByValue(0x10, CxxOnly); ok {
		t.Fatal("CxxOnly lookup found a non-C++ symbol by value")
	}
	if sym, ok := k.LookupByValue(0x20, CxxOnly); !ok || sym.Name != "__ZN4Base3fooEv" {
		t.Fatalf("LookupByValue(0x20, CxxOnly) = %+v, %v", sym, ok)
	}
	if sym, ok := k.LookupByValue(0x10, Any); !ok || sym.Name != "_plainFn" {
		t.Fatalf("LookupByValue(0x10, Any) = %+v, %v", sym, ok)
	}
}

func TestUnlockIsSafeWithNoQueryInFlight(t *testing.T) {
	k := &PrelinkedKext{Identifier: "idle"}
	k.Unlock() // must not panic
	if k.processed {
		t.Fatal("processed flag set after an idle Unlock")
	}
}
