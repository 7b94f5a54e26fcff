package compiler

import (
	"debug/elf"
	"fmt"
	"io"
)

// readELFInterp reads the .interp section of an ELF binary, which holds
// the null-terminated path of its dynamic linker (e.g.
// "/lib64/ld-linux-x86-64.so.2" for glibc or "/lib/ld-musl-x86_64.so.1"
// for musl). Statically-linked binaries have no .interp section.
func readELFInterp(r io.ReaderAt) ([]byte, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("compiler: not an ELF binary: %w", err)
	}
	defer f.Close()

	sec := f.Section(".interp")
	if sec == nil {
		return nil, fmt.Errorf("compiler: no .interp section (statically linked)")
	}
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("compiler: read .interp: %w", err)
	}
	return data, nil
}
