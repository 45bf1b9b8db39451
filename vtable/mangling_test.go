package vtable

import "testing"

func TestClassNameFromSMCP(t *testing.T) {
	tests := []struct {
		sym       string
		wantClass string
		wantOK    bool
	}{
		{"__ZN8OSObject9MetaClass10superClassE", "OSObject", true},
		{"__ZN12IOUserClient9MetaClass10superClassE", "IOUserClient", true},
		{"__ZN8OSObjectE", "", false},
		{"not a symbol at all", "", false},
	}
	for _, tt := range tests {
		class, ok := ClassNameFromSMCP(tt.sym)
		if ok != tt.wantOK || class != tt.wantClass {
			t.Errorf("ClassNameFromSMCP(%q) = (%q, %v), want (%q, %v)", tt.sym, class, ok, tt.wantClass, tt.wantOK)
		}
	}
}

func TestVtableNameDerivations(t *testing.T) {
	const class = "IOUserClient"
	if got, want := VtableName(class), "__ZTV12IOUserClient"; got != want {
		t.Errorf("VtableName(%q) = %q, want %q", class, got, want)
	}
	if got, want := MetaVtableName(class), "__ZTVN12IOUserClient9MetaClassE"; got != want {
		t.Errorf("MetaVtableName(%q) = %q, want %q", class, got, want)
	}
	if got, want := MetaClassInstanceName(class), "__ZN12IOUserClient9MetaClassE"; got != want {
		t.Errorf("MetaClassInstanceName(%q) = %q, want %q", class, got, want)
	}
	if got, want := FinalSymbolName(class), "__ZN12IOUserClient10gMetaClassE"; got != want {
		t.Errorf("FinalSymbolName(%q) = %q, want %q", class, got, want)
	}
	if got, want := FunctionPrefix(class), "__ZN12IOUserClient"; got != want {
		t.Errorf("FunctionPrefix(%q) = %q, want %q", class, got, want)
	}
}

func TestIsSMCPSymbol(t *testing.T) {
	if !IsSMCPSymbol("__ZN8OSObject9MetaClass10superClassE") {
		t.Error("expected a valid SMCP symbol to be recognised")
	}
	if IsSMCPSymbol("__ZTV8OSObject") {
		t.Error("a vtable symbol must not be recognised as an SMCP symbol")
	}
}
