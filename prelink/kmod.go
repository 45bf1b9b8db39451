package prelink

import (
	"bytes"
	"fmt"

	"github.com/Amaranese/ocak-go/machotypes"
	"github.com/blacktop/go-plist"

	"github.com/Amaranese/ocak-go/macho"
)

// KmodInfo is one __kmod_info record: the kernel's in-memory bookkeeping
// struct for a single loaded kext, walked from the __PRELINK_INFO segment's
// __kmod_info pointer array. Field layout and names are ported from the
// kernelcache reference file's KmodInfoT, minus the arm64e tagged-pointer
// and chained-fixup handling that struct carries — this engine targets
// x86_64 desktop kernels, which store plain virtual addresses here.
type KmodInfo struct {
	NextAddr          uint64
	InfoVersion       int32
	ID                uint32
	Name              string
	Version           string
	ReferenceCount    int32
	ReferenceListAddr uint64
	Address           uint64
	Size              uint64
	HeaderSize        uint64
	StartAddr         uint64
	StopAddr          uint64
}

const kmodInfoSize = 8 + 4 + 4 + 64 + 64 + 4 + 4 /*pad*/ + 8 + 8 + 8 + 8 + 8 + 8

// KextListing pairs a walked KmodInfo with its matching Info.plist bundle
// record, joined by the bundle's ModuleIndex into the __kmod_info array
// (kernel-resource bundles, which never got a kmod_info entry, are joined
// to a zero KmodInfo instead, matching KextList's "print 0 if
// OSKernelResource" behaviour).
type KextListing struct {
	Bundle CFBundle
	Kmod   KmodInfo
}

// ListKexts enumerates every kext already linked into a prelinked kernel
// image by walking __PRELINK_INFO's __kmod_info pointer array side by side
// with the __info plist dictionary, matching KextList.
// It is a read-only diagnostic: nothing here is on the patch/link path.
func ListKexts(ctx *macho.Context) ([]KextListing, error) {
	infos, err := kextInfos(ctx)
	if err != nil {
		return nil, err
	}

	info, err := kextPrelinkInfo(ctx)
	if err != nil {
		return nil, err
	}

	var out []KextListing
	for _, bundle := range info.PrelinkInfoDictionary {
		var kmod KmodInfo
		if !bundle.OSKernelResource && bundle.ModuleIndex < uint64(len(infos)) {
			kmod = infos[bundle.ModuleIndex]
		}
		out = append(out, KextListing{Bundle: bundle, Kmod: kmod})
	}
	return out, nil
}

func kextInfos(ctx *macho.Context) ([]KmodInfo, error) {
	sect, ok := ctx.SectionByName("__PRELINK_INFO", "__kmod_info")
	if !ok {
		return nil, fmt.Errorf("prelink: section __PRELINK_INFO.__kmod_info not found")
	}
	data, ok := ctx.Bytes(sect.Addr, sect.Size)
	if !ok {
		return nil, fmt.Errorf("prelink: __kmod_info section range invalid")
	}

	ptrs, err := readUint64Array(ctx, data)
	if err != nil {
		return nil, err
	}

	infos := make([]KmodInfo, 0, len(ptrs))
	for _, ptr := range ptrs {
		raw, ok := ctx.Bytes(ptr, kmodInfoSize)
		if !ok {
			return nil, fmt.Errorf("prelink: __kmod_info pointer %#x outside any segment", ptr)
		}
		infos = append(infos, decodeKmodInfo(raw, ctx.Order))
	}
	return infos, nil
}

func decodeKmodInfo(b []byte, order machoByteOrder) KmodInfo {
	pos := 0
	u64 := func() uint64 { v := order.Uint64(b[pos : pos+8]); pos += 8; return v }
	u32 := func() uint32 { v := order.Uint32(b[pos : pos+4]); pos += 4; return v }
	str := func(n int) string {
		s := b[pos : pos+n]
		pos += n
		if i := bytes.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
		return string(s)
	}

	var info KmodInfo
	info.NextAddr = u64()
	info.InfoVersion = int32(u32())
	info.ID = u32()
	info.Name = str(64)
	info.Version = str(64)
	info.ReferenceCount = int32(u32())
	pos += 4 // struct padding before the next 8-byte-aligned field
	info.ReferenceListAddr = u64()
	info.Address = u64()
	info.Size = u64()
	info.HeaderSize = u64()
	info.StartAddr = u64()
	info.StopAddr = u64()
	return info
}

func kextPrelinkInfo(ctx *macho.Context) (*PrelinkInfo, error) {
	sect, ok := ctx.SectionByName("__PRELINK_INFO", "__info")
	if !ok {
		return nil, fmt.Errorf("prelink: section __PRELINK_INFO.__info not found")
	}
	data, ok := ctx.Bytes(sect.Addr, sect.Size)
	if !ok {
		return nil, fmt.Errorf("prelink: __info section range invalid")
	}

	var info PrelinkInfo
	decoder := plist.NewDecoder(bytes.NewReader(bytes.Trim(data, "\x00")))
	if err := decoder.Decode(&info); err != nil {
		return nil, fmt.Errorf("prelink: decoding __PRELINK_INFO.__info: %w", err)
	}
	return &info, nil
}

// machoByteOrder is the subset of encoding/binary.ByteOrder this file
// needs, named locally so kmod.go doesn't have to import encoding/binary
// just to spell the parameter type.
type machoByteOrder interface {
	Uint32([]byte) uint32
	Uint64([]byte) uint64
}

func readUint64Array(ctx *macho.Context, data []byte) ([]uint64, error) {
	if len(data)%8 != 0 {
		return nil, machotypes.NewFormatError(0, "pointer array size not a multiple of 8", len(data))
	}
	out := make([]uint64, len(data)/8)
	for i := range out {
		out[i] = ctx.Order.Uint64(data[i*8 : i*8+8])
	}
	return out, nil
}
