package patch

import "testing"

func TestApplyGenericPatchFindReplace(t *testing.T) {
	buf := []byte{0x01, 0x02, 0xAA, 0xBB, 0x03, 0xAA, 0xBB, 0x04}
	c := &Context{Buf: buf}

	err := c.ApplyGenericPatch(&Descriptor{
		Comment: "replace AA BB pairs",
		Find:    []byte{0xAA, 0xBB},
		Replace: []byte{0xCC, 0xDD},
	})
	if err != nil {
		t.Fatalf("ApplyGenericPatch: %v", err)
	}

	want := []byte{0x01, 0x02, 0xCC, 0xDD, 0x03, 0xCC, 0xDD, 0x04}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x (buf=%x)", i, buf[i], want[i], buf)
		}
	}
}

func TestApplyGenericPatchSkipAndCount(t *testing.T) {
	buf := []byte{0xAA, 0xAA, 0xAA, 0xAA}
	c := &Context{Buf: buf}

	err := c.ApplyGenericPatch(&Descriptor{
		Comment: "patch only the second match",
		Find:    []byte{0xAA},
		Replace: []byte{0xBB},
		Skip:    1,
		Count:   1,
	})
	if err != nil {
		t.Fatalf("ApplyGenericPatch: %v", err)
	}

	want := []byte{0xAA, 0xBB, 0xAA, 0xAA}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x (buf=%x)", i, buf[i], want[i], buf)
		}
	}
}

func TestApplyGenericPatchMasked(t *testing.T) {
	buf := []byte{0x12, 0x34}
	c := &Context{Buf: buf}

	err := c.ApplyGenericPatch(&Descriptor{
		Comment:     "only touch the low nibble of the first byte",
		Find:        []byte{0x10, 0x34},
		Mask:        []byte{0xF0, 0xFF},
		Replace:     []byte{0xF9, 0x34},
		ReplaceMask: []byte{0x0F, 0x00},
	})
	if err != nil {
		t.Fatalf("ApplyGenericPatch: %v", err)
	}
	if buf[0] != 0x19 {
		t.Errorf("buf[0] = %#x, want 0x19 (high nibble preserved)", buf[0])
	}
	if buf[1] != 0x34 {
		t.Errorf("buf[1] = %#x, want unchanged 0x34", buf[1])
	}
}

func TestApplyGenericPatchNotFoundIsSkip(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03}
	c := &Context{Buf: buf}

	err := c.ApplyGenericPatch(&Descriptor{
		Comment: "nonexistent pattern",
		Find:    []byte{0xFF, 0xFF},
		Replace: []byte{0x00, 0x00},
	})
	if _, ok := err.(*SkipError); !ok {
		t.Fatalf("expected *SkipError, got %T (%v)", err, err)
	}
}

func TestDescriptorValidateBorked(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
	}{
		{"no replacement", Descriptor{Find: []byte{1}}},
		{"find/replace length mismatch with no base", Descriptor{Find: []byte{1, 2}, Replace: []byte{1}}},
		{"mask length mismatch", Descriptor{Find: []byte{1}, Replace: []byte{1}, Mask: []byte{1, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.d.validate(); err == nil {
				t.Fatalf("expected a validation error")
			}
		})
	}
}
