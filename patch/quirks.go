package patch

// Named quirk patches, grounded on the quirk-dispatch block in
// OcKernelApplyPatches (`if (Config->Kernel.Quirks.X) { PatchX(...) }`).
// Each is a thin wrapper around ApplyGenericPatch using a fixed pattern.
//
// The byte patterns below are placeholders, not the real firmware
// constants: original_source's filtered code-only excerpt names the patch
// functions but not their pattern bytes (those live in headers/constant
// tables outside the retrieved slice). Each pattern is distinct and
// labelled so a real constant can drop in without changing call sites.

// Quirks mirrors Config.Kernel.Quirks.* from §6: a boolean per named
// patch, gating whether Apply invokes it.
type Quirks struct {
	AppleCpuPmCfgLock       bool
	AppleXcpmCfgLock        bool
	AppleXcpmExtraMsrs      bool
	AppleXcpmForceBoost     bool
	DisableIoMapper         bool
	DisableRtcChecksum      bool
	ExternalDiskIcons       bool
	IncreasePciBarSize      bool
	LapicKernelPanic        bool
	PanicNoKextDump         bool
	PowerTimeoutKernelPanic bool
	ThirdPartyDrives        bool
	XhciPortLimit           bool
	CustomSmbiosGuid        bool
	DummyPowerManagement    bool
}

// PrelinkedQuirks applies the quirks that operate on the prelinked kernel
// context (matching OcKernelApplyPatches's !IsKernelPatch branch).
func PrelinkedQuirks(c *Context, q Quirks) []error {
	var errs []error
	run := func(enabled bool, apply func() error) {
		if !enabled {
			return
		}
		if err := apply(); err != nil {
			errs = append(errs, err)
		}
	}

	run(q.AppleCpuPmCfgLock, func() error { return patchAppleCpuPmCfgLock(c) })
	run(q.ExternalDiskIcons, func() error { return patchForceInternalDiskIcons(c) })
	run(q.ThirdPartyDrives, func() error { return patchThirdPartyDriveSupport(c) })
	run(q.XhciPortLimit, func() error { return patchUsbXhciPortLimit(c) })
	run(q.DisableIoMapper, func() error { return patchAppleIoMapperSupport(c) })
	run(q.DisableRtcChecksum, func() error { return patchAppleRtcChecksum(c) })
	run(q.IncreasePciBarSize, func() error { return patchIncreasePciBarSize(c) })
	run(q.CustomSmbiosGuid, func() error { return patchCustomSmbiosGuid(c) })
	run(q.DummyPowerManagement, func() error { return patchDummyPowerManagement(c) })

	return errs
}

// KernelQuirks applies the quirks that run against the raw kernel buffer
// (matching OcKernelApplyPatches's IsKernelPatch branch), plus the CPUID
// emulation patch when non-zero emulation data is configured.
func KernelQuirks(c *Context, q Quirks, cpuid1Data, cpuid1Mask [4]uint32, cpuInfo CPUInfo) []error {
	var errs []error
	run := func(enabled bool, apply func() error) {
		if !enabled {
			return
		}
		if err := apply(); err != nil {
			errs = append(errs, err)
		}
	}

	run(q.AppleXcpmCfgLock, func() error { return patchAppleXcpmCfgLock(c) })
	run(q.AppleXcpmExtraMsrs, func() error { return patchAppleXcpmExtraMsrs(c) })
	run(q.AppleXcpmForceBoost, func() error { return patchAppleXcpmForceBoost(c) })
	run(q.PanicNoKextDump, func() error { return patchPanicKextDump(c) })
	run(q.LapicKernelPanic, func() error { return patchLapicKernelPanic(c) })
	run(q.PowerTimeoutKernelPanic, func() error { return patchPowerStateTimeout(c) })

	if cpuid1Data != ([4]uint32{}) {
		if err := patchKernelCPUID(c, cpuInfo, cpuid1Data, cpuid1Mask); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}

// CPUInfo is the vendor/family/model/stepping tuple consumed only by the
// CPUID emulation patch, per §6.
type CPUInfo struct {
	Vendor   string
	Family   uint8
	Model    uint8
	Stepping uint8
}

func patchAppleCpuPmCfgLock(c *Context) error {
	return c.ApplyGenericPatch(&Descriptor{
		Comment: "AppleCpuPmCfgLock",
		Find:    []byte{0x65, 0x48, 0x8b, 0x04, 0x25, 0x00, 0x00, 0x00, 0x00, 0x0f, 0x30},
		Replace: []byte{0x65, 0x48, 0x8b, 0x04, 0x25, 0x00, 0x00, 0x00, 0x00, 0x90, 0x90},
	})
}

func patchForceInternalDiskIcons(c *Context) error {
	return c.ApplyGenericPatch(&Descriptor{
		Comment: "ExternalDiskIcons",
		Find:    []byte{0x49, 0x6e, 0x74, 0x65, 0x72, 0x6e, 0x61, 0x6c},
		Replace: []byte{0x45, 0x78, 0x74, 0x65, 0x72, 0x6e, 0x61, 0x6c},
	})
}

func patchThirdPartyDriveSupport(c *Context) error {
	return c.ApplyGenericPatch(&Descriptor{
		Comment: "ThirdPartyDrives",
		Find:    []byte{0x52, 0x6f, 0x74, 0x61, 0x74, 0x69, 0x6f, 0x6e},
		Replace: []byte{0x72, 0x6f, 0x74, 0x61, 0x74, 0x69, 0x6f, 0x6e},
		Mask:    []byte{0xff, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	})
}

func patchUsbXhciPortLimit(c *Context) error {
	return c.ApplyGenericPatch(&Descriptor{
		Comment: "XhciPortLimit",
		Find:    []byte{0x0f, 0x82, 0x00, 0x00, 0x00, 0x00, 0x44},
		Replace: []byte{0x90, 0x90, 0x00, 0x00, 0x00, 0x00, 0x44},
		Mask:    []byte{0xff, 0xff, 0x00, 0x00, 0x00, 0x00, 0xff},
	})
}

func patchAppleIoMapperSupport(c *Context) error {
	return c.ApplyGenericPatch(&Descriptor{
		Comment: "DisableIoMapper",
		Base:    "_IOMapperIOPCIIsSafe",
		Replace: []byte{0xb0, 0x00, 0xc3}, // mov al, 0; ret
		Limit:   16,
	})
}

func patchAppleRtcChecksum(c *Context) error {
	return c.ApplyGenericPatch(&Descriptor{
		Comment: "DisableRtcChecksum",
		Find:    []byte{0x38, 0xb0, 0x14, 0x01},
		Replace: []byte{0x38, 0xb0, 0x00, 0x00},
	})
}

func patchIncreasePciBarSize(c *Context) error {
	return c.ApplyGenericPatch(&Descriptor{
		Comment: "IncreasePciBarSize",
		Find:    []byte{0x00, 0x00, 0x20, 0x00},
		Replace: []byte{0x00, 0x00, 0x00, 0x01},
	})
}

func patchCustomSmbiosGuid(c *Context) error {
	return c.ApplyGenericPatch(&Descriptor{
		Comment: "CustomSmbiosGuid",
		Base:    "_AppleSmbiosTableGuid",
		Replace: make([]byte, 16),
		Limit:   16,
	})
}

func patchDummyPowerManagement(c *Context) error {
	return c.ApplyGenericPatch(&Descriptor{
		Comment: "DummyPowerManagement",
		Base:    "__ZN25AppleIntelCPUPowerManagement5startEP9IOService",
		Replace: []byte{0x31, 0xc0, 0xc3}, // xor eax, eax; ret
		Limit:   8,
	})
}

func patchAppleXcpmCfgLock(c *Context) error {
	return c.ApplyGenericPatch(&Descriptor{
		Comment: "AppleXcpmCfgLock",
		Find:    []byte{0x0f, 0x32, 0x25, 0x00, 0x00, 0x00, 0x10},
		Replace: []byte{0x0f, 0x32, 0x25, 0x00, 0x00, 0x00, 0x00},
	})
}

func patchAppleXcpmExtraMsrs(c *Context) error {
	return c.ApplyGenericPatch(&Descriptor{
		Comment: "AppleXcpmExtraMsrs",
		Find:    []byte{0x65, 0x01, 0x00, 0x00},
		Replace: []byte{0x65, 0x01, 0x00, 0x01},
	})
}

func patchAppleXcpmForceBoost(c *Context) error {
	return c.ApplyGenericPatch(&Descriptor{
		Comment: "AppleXcpmForceBoost",
		Find:    []byte{0x74, 0x01, 0xe9},
		Replace: []byte{0x90, 0x90, 0xe9},
	})
}

func patchPanicKextDump(c *Context) error {
	return c.ApplyGenericPatch(&Descriptor{
		Comment: "PanicNoKextDump",
		Base:    "_panic_dump_kexts",
		Replace: []byte{0xc3}, // ret
		Limit:   4,
	})
}

func patchLapicKernelPanic(c *Context) error {
	return c.ApplyGenericPatch(&Descriptor{
		Comment: "LapicKernelPanic",
		Find:    []byte{0x8b, 0x46, 0x04, 0x3d, 0x01},
		Replace: []byte{0x8b, 0x46, 0x04, 0x3d, 0x00},
	})
}

func patchPowerStateTimeout(c *Context) error {
	return c.ApplyGenericPatch(&Descriptor{
		Comment: "PowerTimeoutKernelPanic",
		Find:    []byte{0x41, 0xbc, 0x00, 0x00, 0x00, 0x00},
		Replace: []byte{0x41, 0xbc, 0xff, 0xff, 0xff, 0x7f},
	})
}

func patchKernelCPUID(c *Context, _ CPUInfo, data, mask [4]uint32) error {
	replace := make([]byte, 16)
	replaceMask := make([]byte, 16)
	for i, v := range data {
		putLE32(replace[i*4:], v)
	}
	for i, v := range mask {
		putLE32(replaceMask[i*4:], v)
	}
	return c.ApplyGenericPatch(&Descriptor{
		Comment:     "Cpuid1Emulation",
		Base:        "_cpuid_features",
		Replace:     replace,
		ReplaceMask: replaceMask,
		Limit:       16,
	})
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
