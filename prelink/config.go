package prelink

import "github.com/Amaranese/ocak-go/patch"

// Storage is the filesystem seam the orchestrator uses to load a kext's
// Info.plist and executable by bundle-relative path, matching §6's
// Storage interface. The concrete implementation (reading from the ESP or
// an embedded archive) lives entirely with the caller.
type Storage interface {
	ReadFile(path string) ([]byte, error)
}

// CPUInfo is the vendor/family/model/stepping tuple the CPUID emulation
// quirk consults; re-exported from package patch so callers assembling a
// Config don't need to import both packages for one type.
type CPUInfo = patch.CPUInfo

// Config is the already-parsed configuration the orchestrator consumes.
// Building a Config from an on-disk config file is explicitly out of
// scope (spec.md's config-file loader is a separate, unimplemented
// collaborator).
type Config struct {
	Add   []*patch.AddKextEntry
	Block []*patch.BlockKextEntry
	Patch []*patch.Descriptor

	Quirks patch.Quirks

	Cpuid1Data [4]uint32
	Cpuid1Mask [4]uint32
}

// reserveSlack approximates PRELINKED_KEXT's per-kext bookkeeping and
// alignment overhead inside PrelinkedReserveKextSize; the real constant
// lives in a header outside the retrieved source slice, so this is a
// labelled stand-in rather than the original value.
const reserveSlack = 0x1000

// prelinkInfoReserveSize approximates PRELINK_INFO_RESERVE_SIZE, the fixed
// slack OcKernelLoadKextsAndReserve always adds up front for the growth of
// the __PRELINK_INFO plist dictionary itself.
const prelinkInfoReserveSize = 0x4000

// LoadKextsAndReserve resolves each enabled Add entry's plist/executable
// bytes through storage (when not already populated) and returns the total
// byte count a caller must reserve before expanding the prelinked image,
// mirroring OcKernelLoadKextsAndReserve. A kext whose files cannot be read
// has its Enabled flag cleared in place (§7 error kind 5) rather than
// aborting the whole pass.
func LoadKextsAndReserve(storage Storage, cfg *Config) uint32 {
	reserve := uint32(prelinkInfoReserveSize)

	for _, k := range cfg.Add {
		if !k.Enabled {
			continue
		}

		if len(k.PlistData) == 0 {
			if k.BundlePath == "" {
				k.Enabled = false
				continue
			}
			data, err := storage.ReadFile(k.BundlePath + "/Info.plist")
			if err != nil {
				k.Enabled = false
				continue
			}
			k.PlistData = data

			if k.ExecPath != "" {
				execData, err := storage.ReadFile(k.BundlePath + "/" + k.ExecPath)
				if err != nil {
					k.Enabled = false
					k.PlistData = nil
					continue
				}
				k.ExecData = execData
			}
		}

		reserve += uint32(len(k.PlistData)) + uint32(len(k.ExecData)) + reserveSlack
	}

	return reserve
}
