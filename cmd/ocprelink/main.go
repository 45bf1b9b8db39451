package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Amaranese/ocak-go/expand"
	"github.com/Amaranese/ocak-go/macho"
	"github.com/Amaranese/ocak-go/patch"
	"github.com/Amaranese/ocak-go/prelink"
)

func main() {
	kernelPath := flag.String("kernel", "", "path to a prelinked kernelcache image")
	list := flag.Bool("list", false, "list already-linked kexts and exit")
	reserve := flag.Uint("reserve", 0x40000, "extra capacity (bytes) to reserve for kext injection")
	doExpand := flag.Bool("expand", false, "expand the processed image's file layout to mirror its memory layout before writing out")
	strip := flag.Bool("strip", false, "when -expand, also strip LC_CODE_SIGNATURE/LC_DYLD_INFO and other strippable load commands")
	outPath := flag.String("out", "", "path to write the processed image to")
	flag.Parse()

	if *kernelPath == "" {
		fmt.Fprintln(os.Stderr, "ocprelink: -kernel is required")
		os.Exit(1)
	}

	raw, err := os.ReadFile(*kernelPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ocprelink: %v\n", err)
		os.Exit(1)
	}

	buf := make([]byte, len(raw), len(raw)+int(*reserve))
	copy(buf, raw)

	if *list {
		listKexts(buf)
		return
	}

	cfg := &prelink.Config{}
	darwinVersion := patch.ReadDarwinVersion(buf)

	out, errs, err := prelink.ProcessPrelinked(cfg, darwinVersion, buf, prelink.CPUInfo{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ocprelink: %v\n", err)
		os.Exit(1)
	}
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "ocprelink: %v\n", e)
	}

	fmt.Printf("ocprelink: processed %d bytes -> %d bytes (darwin version %d)\n", len(raw), len(out), darwinVersion)

	final := out
	if *doExpand {
		expanded, err := expandImage(out, *strip)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ocprelink: expand: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("ocprelink: expanded %d bytes -> %d bytes\n", len(out), len(expanded))
		final = expanded
	}

	if *outPath != "" {
		if err := os.WriteFile(*outPath, final, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "ocprelink: %v\n", err)
			os.Exit(1)
		}
	}
}

// expandImage rewrites buf's file layout to mirror its memory layout via
// expand.Expand, growing the destination buffer and retrying when the first
// guess undershoots, matching MachoExpandImage64's caller-owns-the-buffer
// contract (the expander itself never resizes its own output).
func expandImage(buf []byte, strip bool) ([]byte, error) {
	ctx, err := macho.NewContext(buf)
	if err != nil {
		return nil, err
	}

	size := len(buf) + len(buf)/4 + 0x10000
	for {
		dest := make([]byte, size)
		n, err := expand.Expand(ctx, dest, strip)
		if err == nil {
			return dest[:n], nil
		}
		if err != expand.ErrBufferTooSmall {
			return nil, err
		}
		size *= 2
	}
}

func listKexts(buf []byte) {
	ctx, err := macho.NewContext(buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ocprelink: %v\n", err)
		os.Exit(1)
	}

	listings, err := prelink.ListKexts(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ocprelink: %v\n", err)
		os.Exit(1)
	}

	for _, l := range listings {
		if l.Bundle.OSKernelResource {
			fmt.Printf("%#016x: %s (%s)\n", 0, l.Bundle.ID, l.Bundle.Version)
			continue
		}
		fmt.Printf("%#016x: %s (%s)\n", l.Kmod.Address, l.Bundle.ID, l.Bundle.Version)
	}
}
