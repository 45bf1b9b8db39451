package patch

// Descriptor is one configured binary patch: find bytes (optionally
// masked) replaced with replace bytes (optionally masked), gated by a
// kernel version window and optionally anchored to a resolved symbol.
type Descriptor struct {
	// Identifier is either the literal "kernel" or a kext bundle
	// identifier naming the patch's target.
	Identifier string
	Comment    string
	Enabled    bool

	MinKernel uint32
	MaxKernel uint32

	// Base, if non-empty, is a symbol name the patcher resolves to an
	// address before searching; the search window becomes
	// [addr, addr+Limit) instead of the whole buffer.
	Base string

	Find        []byte
	Replace     []byte
	Mask        []byte // same length as Find when present
	ReplaceMask []byte // same length as Find when present

	Count uint32 // 0 = unlimited
	Skip  uint32 // number of early matches to ignore
	Limit uint32 // maximum scan distance from Base
}

// validate reproduces OcKernelApplyPatches's "is this patch borked" check:
// nothing to replace, no way to locate a search range, or a find/mask
// length mismatch are all policy skips, not hard errors.
func (d *Descriptor) validate() error {
	if len(d.Replace) == 0 {
		return errSkip("patch has no replacement bytes")
	}
	if d.Base == "" && len(d.Find) != len(d.Replace) {
		return errSkip("find/replace length mismatch with no symbolic base")
	}
	if len(d.Mask) > 0 && len(d.Mask) != len(d.Find) {
		return errSkip("mask/find length mismatch")
	}
	if len(d.ReplaceMask) > 0 && len(d.ReplaceMask) != len(d.Find) {
		return errSkip("replace-mask/find length mismatch")
	}
	return nil
}

// AddKextEntry describes a kext to be injected into the prelinked image.
type AddKextEntry struct {
	BundlePath string
	PlistData  []byte
	ExecPath   string
	ExecData   []byte

	MinKernel uint32
	MaxKernel uint32
	Comment   string

	// Enabled is cleared by the orchestrator on a collaborator failure
	// (missing plist/executable file) so the engine can continue with the
	// remaining kexts, per §7 error kind 5.
	Enabled bool
}

// BlockKextEntry names a kext whose start routine should be overwritten so
// loading fails safely.
type BlockKextEntry struct {
	Identifier string
	MinKernel  uint32
	MaxKernel  uint32
	Comment    string
	Enabled    bool
}

// SkipError marks a policy skip (§7 error kind 3): the caller should log it
// at info level and continue, never treat it as a hard failure.
type SkipError struct{ Reason string }

func (e *SkipError) Error() string { return e.Reason }

func errSkip(reason string) error { return &SkipError{Reason: reason} }
