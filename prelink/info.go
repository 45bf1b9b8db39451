// Package prelink implements the top-level orchestration of a prelinked
// kernel image: enumerating its already-linked kexts, injecting and
// blocking kexts, driving the patch and vtable-link passes per kext, and
// finalising the __PRELINK_INFO dictionary.
//
// Grounded on OcKernelProcessPrelinked / OcKernelApplyPatches /
// OcKernelBlockKexts / OcKernelLoadKextsAndReserve in
// original_source/Platform/OpenCore/OpenCoreKernel.c, and on the
// __PRELINK_INFO walking in other_examples's kernelcache reference file.
package prelink

// PrelinkInfo is the root of the __PRELINK_INFO.__info plist: an array of
// bundle dictionaries, one per prelinked kext.
type PrelinkInfo struct {
	PrelinkInfoDictionary []CFBundle `plist:"_PrelinkInfoDictionary,omitempty"`
}

// CFBundle is one kext's Info.plist, trimmed to the fields this engine
// reads or writes. Field selection and plist tags are grounded directly on
// the kernelcache reference file's CFBundle, dropping fields (SDK/Xcode
// build metadata, device-family lists) this engine never consults.
type CFBundle struct {
	ID   string `plist:"CFBundleIdentifier,omitempty"`
	Name string `plist:"CFBundleName,omitempty"`

	Executable         string `plist:"CFBundleExecutable,omitempty"`
	Version            string `plist:"CFBundleVersion,omitempty"`
	ShortVersionString string `plist:"CFBundleShortVersionString,omitempty"`
	CompatibleVersion  string `plist:"OSBundleCompatibleVersion,omitempty"`
	MinimumOSVersion   string `plist:"MinimumOSVersion,omitempty"`
	PackageType        string `plist:"CFBundlePackageType,omitempty"`

	OSBundleLibraries map[string]string `plist:"OSBundleLibraries,omitempty"`
	OSBundleRequired  string            `plist:"OSBundleRequired,omitempty"`
	OSKernelResource  bool              `plist:"OSKernelResource,omitempty"`

	ModuleIndex        uint64 `plist:"ModuleIndex,omitempty"`
	BundlePath         string `plist:"_PrelinkBundlePath,omitempty"`
	RelativePath       string `plist:"_PrelinkExecutableRelativePath,omitempty"`
	ExecutableLoadAddr uint64 `plist:"_PrelinkExecutableLoadAddr,omitempty"`
}
