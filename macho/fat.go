package macho

import (
	"encoding/binary"

	"github.com/Amaranese/ocak-go/machotypes"
)

// SkippedArchitecture records a fat-binary slice that was present but not
// selected, so a caller debugging "kernel not recognised" can tell a fat
// wrapper was there at all and what it actually contained.
type SkippedArchitecture struct {
	CPUType machotypes.CPUType
	Offset  uint32
	Size    uint32
}

// filterFatArchitecture64 looks for a fat_header/fat_arch wrapper at the
// front of buf and, if present, returns the x86_64 slice inside it along
// with every other architecture it skipped over. If buf is not a fat
// binary, ok is false and slice is nil; the caller keeps using buf itself.
func filterFatArchitecture64(buf []byte) (slice []byte, skipped []SkippedArchitecture, ok bool, err error) {
	if len(buf) < machotypes.FatHeaderSize {
		return nil, nil, false, nil
	}

	be := binary.BigEndian.Uint32(buf[0:4])
	le := binary.LittleEndian.Uint32(buf[0:4])
	var order binary.ByteOrder
	switch {
	case be == uint32(machotypes.MagicFat):
		order = binary.BigEndian
	case le == uint32(machotypes.MagicFat):
		order = binary.LittleEndian
	default:
		return nil, nil, false, nil
	}

	nArch := order.Uint32(buf[4:8])

	// Overflow-checked bound on the arch table, matching
	// MachoFilterFatArchitecture64's explicit multiply-then-add check.
	archTableSize := uint64(nArch) * uint64(machotypes.FatArchSize)
	if archTableSize/uint64(machotypes.FatArchSize) != uint64(nArch) {
		return nil, nil, false, machotypes.NewFormatError(0, "fat arch table size overflow", nArch)
	}
	total := archTableSize + uint64(machotypes.FatHeaderSize)
	if total > uint64(len(buf)) {
		return nil, nil, false, machotypes.NewFormatError(0, "fat arch table overruns buffer", total)
	}

	var found *SkippedArchitecture
	var foundOff, foundSize uint32

	off := machotypes.FatHeaderSize
	for i := uint32(0); i < nArch; i++ {
		rec := buf[off : off+machotypes.FatArchSize]
		cpuType := machotypes.CPUType(order.Uint32(rec[0:4]))
		archOff := order.Uint32(rec[8:12])
		archSize := order.Uint32(rec[12:16])

		if uint64(archOff)+uint64(archSize) > uint64(len(buf)) {
			return nil, nil, false, machotypes.NewFormatError(int64(off), "fat arch slice overruns buffer", cpuType)
		}

		if cpuType == machotypes.CPUTypeX86_64 && found == nil {
			foundOff, foundSize = archOff, archSize
			found = &SkippedArchitecture{CPUType: cpuType, Offset: archOff, Size: archSize}
		} else {
			skipped = append(skipped, SkippedArchitecture{CPUType: cpuType, Offset: archOff, Size: archSize})
		}
		off += machotypes.FatArchSize
	}

	if found == nil {
		return nil, skipped, false, machotypes.NewFormatError(0, "fat binary contains no x86_64 slice", nil)
	}

	return buf[foundOff : foundOff+foundSize], skipped, true, nil
}
