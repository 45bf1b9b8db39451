// Package patch implements Darwin kernel version parsing/matching and the
// generic find/replace/mask binary patcher used by both the kernel-wide and
// per-kext patch passes, plus the fixed set of named quirk patches.
//
// Grounded on original_source/Platform/OpenCore/OpenCoreKernel.c:
// OcParseDarwinVersion, OcMatchDarwinVersion, OcKernelReadDarwinVersion,
// OcKernelApplyPatches.
package patch

import "bytes"

// ParseDarwinVersion parses a "Darwin Kernel Version" style "X.Y.Z" string
// into a packed integer with two decimal digits per component (so
// "10.15.4" becomes 101504). An empty string, a string not starting with a
// digit, or any malformed component returns 0.
//
// Ported digit-for-digit from OcParseDarwinVersion, including its handling
// of single-digit components (parsed as if left-padded with a zero), with
// one deliberate deviation: the original happily parses "1..3" as 010003,
// treating the empty middle component as zero, but the empty component is
// rejected here as invalid input.
func ParseDarwinVersion(s string) uint32 {
	if len(s) == 0 || s[0] < '0' || s[0] > '9' {
		return 0
	}

	var version uint32
	pos := 0
	for part := 0; part < 3; part++ {
		// A component that starts on a '.' (i.e. two dots back to back,
		// as in "1..3") is an explicitly empty component rather than a
		// missing trailing one ("15" has no third component at all,
		// which is fine); spec.md calls this out as invalid.
		if pos < len(s) && s[pos] == '.' {
			return 0
		}

		version *= 100

		var versionPart uint32
		for digit := 0; digit < 2; digit++ {
			var c byte
			if pos < len(s) {
				c = s[pos]
			}
			if c != '.' && c != 0 {
				versionPart *= 10
			}
			switch {
			case c >= '0' && c <= '9':
				versionPart += uint32(c - '0')
				pos++
			case c == '.' || c == 0:
				// single-digit component; leave as is
			default:
				return 0
			}
		}

		version += versionPart

		if pos < len(s) && s[pos] == '.' {
			pos++
		}
	}

	return version
}

// FormatDarwinVersion is the inverse of ParseDarwinVersion, producing the
// canonical "X.Y.Z" form for round-tripping in tests
// (ParseDarwinVersion(FormatDarwinVersion(x)) == x for x in [0, 999999]).
func FormatDarwinVersion(v uint32) string {
	maj := v / 10000
	min := (v / 100) % 100
	patch := v % 100
	return itoa(maj) + "." + itoa(min) + "." + itoa(patch)
}

func itoa(n uint32) string {
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

// MatchDarwinVersion reports whether current falls within [min, max],
// under the convention that current=0 and max=0 both mean "open / infinite".
//
// This is ported unchanged from OcMatchDarwinVersion, including the policy
// call flagged as Open Question (b): current=0 trivially matches an
// already-open (max=0) window, which is debatable but kept as-is.
func MatchDarwinVersion(current, min, max uint32) bool {
	if max == 0 {
		max = current
	}
	if current == 0 {
		return max == 0
	}
	if current > max {
		return false
	}
	if current < min {
		return false
	}
	return true
}

const darwinVersionMarker = "Darwin Kernel Version "

// ReadDarwinVersion scans kernel text for the ASCII marker
// "Darwin Kernel Version " and parses up to 31 bytes following it,
// terminated by ':' or the end of the buffer, as an "X.Y.Z" version
// string. Returns 0 (treated as "open" by MatchDarwinVersion) if the
// marker isn't found.
func ReadDarwinVersion(kernel []byte) uint32 {
	idx := bytes.Index(kernel, []byte(darwinVersionMarker))
	if idx < 0 {
		return 0
	}
	start := idx + len(darwinVersionMarker)

	var buf [31]byte
	n := 0
	for ; n < len(buf); n++ {
		off := start + n
		if off >= len(kernel) || kernel[off] == ':' {
			break
		}
		buf[n] = kernel[off]
	}

	return ParseDarwinVersion(string(buf[:n]))
}
