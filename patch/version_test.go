package patch

import "testing"

func TestParseDarwinVersion(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"", 0},
		{"19.6.0", 190600},
		{"10.15.4", 101504},
		{"9.8.0", 90800},
		{"20", 200000},
		{"not-a-version", 0},
		{"1.2.3", 10203},
		{"1..3", 0},
		{"15", 150000},
	}
	for _, tt := range tests {
		if got := ParseDarwinVersion(tt.in); got != tt.want {
			t.Errorf("ParseDarwinVersion(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormatDarwinVersionRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 90800, 101504, 190600, 999999} {
		s := FormatDarwinVersion(v)
		if got := ParseDarwinVersion(s); got != v {
			t.Errorf("round trip for %d: formatted %q, reparsed %d", v, s, got)
		}
	}
}

func TestMatchDarwinVersion(t *testing.T) {
	tests := []struct {
		name               string
		current, min, max  uint32
		want               bool
	}{
		{"open window matches anything", 190600, 0, 0, true},
		{"current zero with open max matches", 0, 0, 0, true},
		{"current zero with closed max never matches", 0, 0, 200000, false},
		{"within closed window", 150000, 100000, 190000, true},
		{"below min", 90000, 100000, 190000, false},
		{"above max", 200000, 100000, 190000, false},
		{"at min boundary", 100000, 100000, 190000, true},
		{"at max boundary", 190000, 100000, 190000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchDarwinVersion(tt.current, tt.min, tt.max); got != tt.want {
				t.Errorf("MatchDarwinVersion(%d, %d, %d) = %v, want %v", tt.current, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestReadDarwinVersion(t *testing.T) {
	kernel := []byte("xxx Darwin Kernel Version 19.6.0: Mon Apr 20 zzz")
	if got, want := ReadDarwinVersion(kernel), uint32(190600); got != want {
		t.Errorf("ReadDarwinVersion() = %d, want %d", got, want)
	}

	if got := ReadDarwinVersion([]byte("no marker here")); got != 0 {
		t.Errorf("ReadDarwinVersion() with no marker = %d, want 0", got)
	}
}
