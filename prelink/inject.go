package prelink

import (
	"bytes"
	"fmt"
	"log"

	"github.com/blacktop/go-plist"

	"github.com/Amaranese/ocak-go/kext"
	"github.com/Amaranese/ocak-go/macho"
	"github.com/Amaranese/ocak-go/vtable"
)

// ErrReserveExceeded is returned when growing __PRELINK_TEXT or
// __PRELINK_INFO to fit injected data would need more bytes than
// LoadKextsAndReserve's headroom left in buf's capacity, matching
// PrelinkedInjectPrepare's own capacity check.
var ErrReserveExceeded = fmt.Errorf("prelink: injected data exceeds reserved capacity")

// ErrSegmentNotFileFinal is returned when the segment InjectKexts needs to
// grow isn't currently the file's last segment. Growing a segment in place
// by extending buf only works when nothing else already occupies the file
// range past it; shifting a trailing segment out of the way to make room
// is out of scope for this engine.
type ErrSegmentNotFileFinal struct{ Segment string }

func (e *ErrSegmentNotFileFinal) Error() string {
	return fmt.Sprintf("prelink: segment %s is not the file-final segment, cannot grow it in place", e.Segment)
}

// InjectKexts appends every enabled Add entry's executable to buf, growing
// __PRELINK_TEXT to cover the new range, links its vtables against its
// declared dependencies (vtable.Discover + vtable.Link, seeded from the
// kernel's own OSMetaClass root and from each dependency's already-resident
// vtables), registers the new kext into kexts so later Add entries and
// future lookups can resolve symbols against it, and extends the
// __PRELINK_INFO.__info dictionary with a matching CFBundle record —
// growing that section's and segment's size fields in place when the
// re-encoded dictionary no longer fits, rather than simply failing.
// Mirrors PrelinkedInjectPrepare followed by the per-kext injection loop in
// OcKernelProcessPrelinked. buf's capacity must already include the
// headroom LoadKextsAndReserve reported.
func InjectKexts(cfg *Config, ctx *macho.Context, buf []byte, kexts map[string]*kext.PrelinkedKext, kernelKext *kext.PrelinkedKext) ([]byte, error) {
	sect, ok := ctx.SectionByName("__PRELINK_INFO", "__info")
	if !ok {
		return nil, fmt.Errorf("prelink: section __PRELINK_INFO.__info not found")
	}
	off, _, ok := ctx.FileOffset(sect.Addr)
	if !ok {
		return nil, fmt.Errorf("prelink: __info section not addressable")
	}

	info, err := kextPrelinkInfo(ctx)
	if err != nil {
		return nil, err
	}

	textSeg, nextLoadAddr, err := appendLoadAddress(ctx, buf)
	if err != nil {
		return nil, err
	}
	nextModuleIndex := len(info.PrelinkInfoDictionary)

	var metaRoot []kext.VtableEntry
	var haveMetaRoot bool
	if kernelKext != nil {
		metaRoot, haveMetaRoot = vtable.SeedKnownVtable(ctx, kernelKext, vtable.OSMetaClassVtableName)
	}

	for _, entry := range cfg.Add {
		if !entry.Enabled || len(entry.PlistData) == 0 {
			continue
		}

		var bundle CFBundle
		decoder := plist.NewDecoder(bytes.NewReader(entry.PlistData))
		if err := decoder.Decode(&bundle); err != nil {
			entry.Enabled = false
			continue
		}

		injected := &kext.PrelinkedKext{Identifier: bundle.ID}
		if kernelKext != nil {
			injected.Dependencies = append(injected.Dependencies, kernelKext)
		}
		for dep := range bundle.OSBundleLibraries {
			if depKext, ok := kexts[dep]; ok {
				injected.Dependencies = append(injected.Dependencies, depKext)
			}
		}

		if len(entry.ExecData) > 0 {
			delta := uint64(len(entry.ExecData))
			loadAddr := nextLoadAddr

			if uint64(len(buf))+delta > uint64(cap(buf)) {
				return nil, ErrReserveExceeded
			}
			newLen := len(buf) + len(entry.ExecData)
			buf = buf[:newLen]
			copy(buf[newLen-len(entry.ExecData):], entry.ExecData)
			ctx.Buf = buf
			ctx.GrowSegment(textSeg, delta)
			nextLoadAddr += delta

			bundle.ExecutableLoadAddr = loadAddr
			bundle.RelativePath = entry.ExecPath

			if sub, ok := ctx.Bytes(loadAddr, delta); ok {
				if subCtx, err := macho.NewContext(sub); err == nil {
					injected.Context = subCtx
					injected.Symbols, injected.NumberOfCxxSymbols = symbolsFromContext(subCtx)
					if linkErr := linkInjectedVtables(subCtx, injected, metaRoot, haveMetaRoot); linkErr != nil {
						log.Printf("prelink: %s: vtable linking failed - %v", bundle.ID, linkErr)
					}
				} else {
					log.Printf("prelink: %s's executable does not parse as Mach-O, skipping vtable link - %v", bundle.ID, err)
				}
			}
		}

		// Merge the new kext into the same dependency graph other kexts
		// resolve through: the per-kext linked-symbol-table model this
		// engine uses (kext.PrelinkedKext.Dependencies, not one global
		// symbol table) makes registering the kext here the faithful
		// equivalent of Vtables.c's LinkedSymbolTable population for it.
		kexts[bundle.ID] = injected

		bundle.BundlePath = entry.BundlePath
		bundle.ModuleIndex = uint64(nextModuleIndex)
		nextModuleIndex++

		info.PrelinkInfoDictionary = append(info.PrelinkInfoDictionary, bundle)
	}

	encoded, err := plist.Marshal(info, plist.XMLFormat)
	if err != nil {
		return nil, fmt.Errorf("prelink: re-encoding __PRELINK_INFO.__info: %w", err)
	}
	encoded = append(encoded, 0) // NUL terminator, matching the original XML blob's convention

	if uint64(len(encoded)) > sect.Size {
		buf, err = growPrelinkInfo(ctx, buf, sect, off, uint64(len(encoded)))
		if err != nil {
			return nil, err
		}
	}

	dst := buf[off : off+sect.Size]
	copy(dst, encoded)
	for i := len(encoded); i < len(dst); i++ {
		dst[i] = 0
	}

	return buf, nil
}

// growPrelinkInfo extends __info's section (and its containing
// __PRELINK_INFO segment) to fit a dictionary of the given size, matching
// step 6's "refreshes the containing segment" rather than simply failing,
// per LoadKextsAndReserve's headroom. It requires __info to currently be
// the file-final section (typical kernelcache layout, and the only
// ordering this in-place growth can support without shifting bytes after
// it), returning ErrSegmentNotFileFinal otherwise rather than corrupting
// the image.
func growPrelinkInfo(ctx *macho.Context, buf []byte, sect *macho.Section, sectOff uint64, wantSize uint64) ([]byte, error) {
	seg, ok := ctx.SegmentByName("__PRELINK_INFO")
	if !ok {
		return nil, fmt.Errorf("prelink: segment __PRELINK_INFO not found")
	}

	needed := sectOff + wantSize
	if sectOff+sect.Size != uint64(len(buf)) {
		return nil, &ErrSegmentNotFileFinal{Segment: "__PRELINK_INFO"}
	}
	if needed > uint64(cap(buf)) {
		return nil, ErrReserveExceeded
	}

	delta := wantSize - sect.Size
	buf = buf[:needed]
	ctx.Buf = buf
	ctx.GrowSection(seg, sect, delta)
	ctx.GrowSegment(seg, delta)
	log.Printf("prelink: grew __PRELINK_INFO.__info by %d bytes to fit the injected dictionary", delta)
	return buf, nil
}

// linkInjectedVtables runs the vtable linker against an injected kext's own
// sub-context, seeding the fixed point from the kernel's own OSMetaClass
// root vtable and from every declared dependency's already-resident
// vtables, completing step 5's "merges its symbols" in its vtable-linking
// half: patching the new kext's virtual dispatch tables against the
// already-prelinked dependency graph instead of leaving every unresolved
// SMCP-derived slot untouched.
func linkInjectedVtables(subCtx *macho.Context, injected *kext.PrelinkedKext, metaRoot []kext.VtableEntry, haveMetaRoot bool) error {
	candidates, err := vtable.Discover(injected)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	parentOf := vtable.ResolveParentOf(subCtx, injected, candidates)

	linked := map[string][]kext.VtableEntry{}
	if haveMetaRoot {
		linked[vtable.OSMetaClassVtableName] = metaRoot
	}
	for _, dep := range injected.Dependencies {
		seedDependencyVtables(linked, dep)
	}

	requests := make([]vtable.LinkRequest, 0, len(candidates))
	for _, c := range candidates {
		requests = append(requests, vtable.LinkRequest{
			Kext:           injected,
			Candidate:      c,
			ClassSolve:     injected.CxxSymbols(),
			MetaClassSolve: injected.CxxSymbols(),
		})
	}

	return vtable.Link(subCtx, requests, parentOf, linked)
}

// seedDependencyVtables reads every class vtable an already-linked
// dependency kext declares (via its own SMCPs) directly out of its
// sub-image, bootstrapping Link's fixed point with vtables this engine
// never linked itself but which are already fully resolved in the image.
func seedDependencyVtables(linked map[string][]kext.VtableEntry, dep *kext.PrelinkedKext) {
	if dep.Context == nil {
		return
	}
	candidates, err := vtable.Discover(dep)
	if err != nil {
		return
	}
	for _, c := range candidates {
		if entries, ok := vtable.SeedKnownVtable(dep.Context, dep, c.ClassVtable); ok {
			linked[c.ClassVtable] = entries
		}
		if entries, ok := vtable.SeedKnownVtable(dep.Context, dep, c.MetaVtable); ok {
			linked[c.MetaVtable] = entries
		}
	}
}

// appendLoadAddress finds __PRELINK_TEXT, the segment new kext executables
// are appended into, and returns the virtual address at which the next
// appended executable should land: immediately past its current contents.
// It requires __PRELINK_TEXT to currently be the file-final segment, since
// appending bytes to buf only extends whatever segment's file range
// already ends at len(buf) — shifting a trailing segment out of the way to
// make room is out of scope for this engine.
func appendLoadAddress(ctx *macho.Context, buf []byte) (*macho.Segment, uint64, error) {
	seg, ok := ctx.SegmentByName("__PRELINK_TEXT")
	if !ok {
		return nil, 0, fmt.Errorf("prelink: segment __PRELINK_TEXT not found")
	}
	if seg.FileOff+seg.FileSize != uint64(len(buf)) {
		return nil, 0, &ErrSegmentNotFileFinal{Segment: "__PRELINK_TEXT"}
	}
	return seg, seg.VMAddr + seg.VMSize, nil
}
