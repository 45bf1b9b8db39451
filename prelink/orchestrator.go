package prelink

import (
	"fmt"
	"log"

	"github.com/Amaranese/ocak-go/kext"
	"github.com/Amaranese/ocak-go/macho"
	"github.com/Amaranese/ocak-go/patch"
)

// KextContext builds a patcher Context over one already-linked kext's
// mapped executable range inside a prelinked kernel image, looked up by
// bundle identifier, mirroring PatcherInitContextFromPrelinked's by-name
// lookup against the __PRELINK_INFO dictionary. When kexts carries a
// PrelinkedKext record for identifier, the Context is built through
// patch.NewFromKext so a symbolic Base in a patch descriptor resolves
// through that kext's own linked symbol table (and its dependencies)
// instead of only searching its raw LC_SYMTAB.
func KextContext(ctx *macho.Context, listings []KextListing, identifier string, kexts map[string]*kext.PrelinkedKext) (*patch.Context, error) {
	for _, l := range listings {
		if l.Bundle.ID != identifier {
			continue
		}
		if l.Bundle.OSKernelResource {
			return nil, fmt.Errorf("prelink: %s is a kernel-resource kext with no executable", identifier)
		}
		buf, ok := ctx.Bytes(l.Kmod.Address, l.Kmod.Size)
		if !ok {
			return nil, fmt.Errorf("prelink: %s's mapped range is not addressable", identifier)
		}
		if k, ok := kexts[identifier]; ok {
			return patch.NewFromKext(buf, k)
		}
		return patch.NewFromBuffer(buf)
	}
	return nil, fmt.Errorf("prelink: kext %s not found in __PRELINK_INFO", identifier)
}

// ApplyKernelPatches runs the kernel-only half of OcKernelApplyPatches:
// user-configured patches whose Identifier is the literal "kernel", the
// kernel-only named quirks, and the CPUID emulation patch.
func ApplyKernelPatches(cfg *Config, darwinVersion uint32, kernelBuf []byte, cpuInfo CPUInfo) []error {
	pc, err := patch.NewFromBuffer(kernelBuf)
	if err != nil {
		return []error{err}
	}

	var errs []error
	for i, d := range cfg.Patch {
		if !d.Enabled || d.Identifier != "kernel" {
			continue
		}
		if !patch.MatchDarwinVersion(darwinVersion, d.MinKernel, d.MaxKernel) {
			log.Printf("prelink: kernel patcher skips %s (%s) patch at %d due to version window", d.Identifier, d.Comment, i)
			continue
		}
		if err := pc.ApplyGenericPatch(d); err != nil {
			if skip, ok := err.(*patch.SkipError); ok {
				log.Printf("prelink: kernel patch %q skipped: %v", d.Comment, skip)
				continue
			}
			errs = append(errs, err)
		}
	}

	errs = append(errs, patch.KernelQuirks(pc, cfg.Quirks, cfg.Cpuid1Data, cfg.Cpuid1Mask, cpuInfo)...)
	return errs
}

// prelinkedQuirkTargets names, for each named quirk that operates on a
// prelinked kext rather than the raw kernel, the bundle identifier it
// patches. These are fixed per quirk in the original implementation
// (each PatchX function searches a specific kext's linked symbol table);
// kept as a lookup table here rather than inlined so ApplyPrelinkedPatches
// stays a straight loop.
var prelinkedQuirkTargets = map[string]string{
	"AppleCpuPmCfgLock":    "com.apple.driver.AppleIntelCPUPowerManagement",
	"ExternalDiskIcons":    "com.apple.driver.AppleAHCIPort",
	"ThirdPartyDrives":     "com.apple.iokit.IOAHCIFamily",
	"XhciPortLimit":        "com.apple.driver.AppleUSBXHCI",
	"DisableIoMapper":      "com.apple.iokit.IOPCIFamily",
	"DisableRtcChecksum":   "com.apple.driver.AppleRTC",
	"IncreasePciBarSize":   "com.apple.iokit.IOPCIFamily",
	"CustomSmbiosGuid":     "com.apple.driver.AppleSMBIOS",
	"DummyPowerManagement": "com.apple.driver.AppleIntelCPUPowerManagement",
}

// ApplyPrelinkedPatches runs the prelinked-context half of
// OcKernelApplyPatches: user-configured patches targeting a specific kext
// identifier, and the named quirks that patch a specific well-known kext.
// A target kext that isn't present in this image is a policy skip, logged
// and otherwise ignored, matching PatcherInitContextFromPrelinked's
// "init failure" continue.
func ApplyPrelinkedPatches(cfg *Config, darwinVersion uint32, ctx *macho.Context, listings []KextListing, kexts map[string]*kext.PrelinkedKext) []error {
	var errs []error

	for i, d := range cfg.Patch {
		if !d.Enabled || d.Identifier == "kernel" {
			continue
		}
		if !patch.MatchDarwinVersion(darwinVersion, d.MinKernel, d.MaxKernel) {
			log.Printf("prelink: kernel patcher skips %s (%s) patch at %d due to version window", d.Identifier, d.Comment, i)
			continue
		}

		pc, err := KextContext(ctx, listings, d.Identifier, kexts)
		if err != nil {
			log.Printf("prelink: kernel patcher %s (%s) init failure - %v", d.Identifier, d.Comment, err)
			continue
		}

		if err := pc.ApplyGenericPatch(d); err != nil {
			if skip, ok := err.(*patch.SkipError); ok {
				log.Printf("prelink: patch %q for %s skipped: %v", d.Comment, d.Identifier, skip)
				continue
			}
			errs = append(errs, err)
		}
	}

	applyQuirk := func(enabled bool, name string) {
		if !enabled {
			return
		}
		target := prelinkedQuirkTargets[name]
		pc, err := KextContext(ctx, listings, target, kexts)
		if err != nil {
			log.Printf("prelink: quirk %s target %s unavailable - %v", name, target, err)
			return
		}
		q := patch.Quirks{}
		switch name {
		case "AppleCpuPmCfgLock":
			q.AppleCpuPmCfgLock = true
		case "ExternalDiskIcons":
			q.ExternalDiskIcons = true
		case "ThirdPartyDrives":
			q.ThirdPartyDrives = true
		case "XhciPortLimit":
			q.XhciPortLimit = true
		case "DisableIoMapper":
			q.DisableIoMapper = true
		case "DisableRtcChecksum":
			q.DisableRtcChecksum = true
		case "IncreasePciBarSize":
			q.IncreasePciBarSize = true
		case "CustomSmbiosGuid":
			q.CustomSmbiosGuid = true
		case "DummyPowerManagement":
			q.DummyPowerManagement = true
		}
		errs = append(errs, patch.PrelinkedQuirks(pc, q)...)
	}

	applyQuirk(cfg.Quirks.AppleCpuPmCfgLock, "AppleCpuPmCfgLock")
	applyQuirk(cfg.Quirks.ExternalDiskIcons, "ExternalDiskIcons")
	applyQuirk(cfg.Quirks.ThirdPartyDrives, "ThirdPartyDrives")
	applyQuirk(cfg.Quirks.XhciPortLimit, "XhciPortLimit")
	applyQuirk(cfg.Quirks.DisableIoMapper, "DisableIoMapper")
	applyQuirk(cfg.Quirks.DisableRtcChecksum, "DisableRtcChecksum")
	applyQuirk(cfg.Quirks.IncreasePciBarSize, "IncreasePciBarSize")
	applyQuirk(cfg.Quirks.CustomSmbiosGuid, "CustomSmbiosGuid")
	applyQuirk(cfg.Quirks.DummyPowerManagement, "DummyPowerManagement")

	return errs
}

// BlockKexts overwrites the entry point of every enabled, version-matched
// Block entry so the named kext fails to load, mirroring
// OcKernelBlockKexts.
func BlockKexts(cfg *Config, darwinVersion uint32, ctx *macho.Context, listings []KextListing) []error {
	var errs []error
	for _, b := range cfg.Block {
		if !b.Enabled {
			continue
		}
		if !patch.MatchDarwinVersion(darwinVersion, b.MinKernel, b.MaxKernel) {
			log.Printf("prelink: prelink blocker skips %s (%s) due to version window", b.Identifier, b.Comment)
			continue
		}

		pc, err := KextContext(ctx, listings, b.Identifier, nil)
		if err != nil {
			log.Printf("prelink: prelink blocker %s (%s) init failure - %v", b.Identifier, b.Comment, err)
			continue
		}

		if err := pc.BlockKext(); err != nil {
			log.Printf("prelink: prelink blocker %s (%s) failed - %v", b.Identifier, b.Comment, err)
			continue
		}
		log.Printf("prelink: prelink blocker %s (%s) applied", b.Identifier, b.Comment)
	}
	return errs
}

// ProcessPrelinked runs the full per-boot pass over an already-expanded
// prelinked kernel image: kernel patches, kext patches and quirks, kext
// blocking, and finally kext injection, mirroring
// OcKernelProcessPrelinked. kernelBuf's capacity must already include the
// headroom LoadKextsAndReserve reported, since InjectKexts appends each
// injected kext's executable to the backing array. Returns the (possibly
// grown) buffer.
func ProcessPrelinked(cfg *Config, darwinVersion uint32, kernelBuf []byte, cpuInfo CPUInfo) ([]byte, []error, error) {
	ctx, err := macho.NewContext(kernelBuf)
	if err != nil {
		return nil, nil, err
	}

	listings, err := ListKexts(ctx)
	if err != nil {
		return nil, nil, err
	}

	kernelKext := BuildKernelKext(ctx)
	kexts := BuildPrelinkedKexts(ctx, listings, kernelKext)

	var errs []error
	errs = append(errs, ApplyKernelPatches(cfg, darwinVersion, kernelBuf, cpuInfo)...)
	errs = append(errs, ApplyPrelinkedPatches(cfg, darwinVersion, ctx, listings, kexts)...)
	errs = append(errs, BlockKexts(cfg, darwinVersion, ctx, listings)...)

	out, err := InjectKexts(cfg, ctx, kernelBuf, kexts, kernelKext)
	if err != nil {
		return kernelBuf, errs, err
	}
	return out, errs, nil
}
