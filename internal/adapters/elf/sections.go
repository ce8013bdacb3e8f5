// Package elf extracts section virtual addresses from a target binary so
// symbols can be loaded at their true runtime addresses. The target is
// position-independent and loaded at a fixed high base, so every section's
// runtime address is base + section VMA.
package elf

import (
	"debug/elf"
	"fmt"
	"sort"
	"strings"

	"github.com/bnema/kdbg/internal/ports"
)

// trackedSections are the sections encoded into the symbol-load command.
var trackedSections = []string{".text", ".rodata", ".data", ".bss"}

// Reader adapts the package functions to the symbol-table port.
type Reader struct{}

var _ ports.SymbolTable = Reader{}

func (Reader) Sections(binary string) (map[string]uint64, error) {
	return Sections(binary)
}

func (Reader) LoadCommand(binary string, base uint64, sections map[string]uint64) string {
	return SymbolFileCommand(binary, base, sections)
}

// Sections reads the binary's section headers and returns name to virtual
// address for the tracked sections.
func Sections(binary string) (map[string]uint64, error) {
	file, err := elf.Open(binary)
	if err != nil {
		return nil, fmt.Errorf("open target binary: %w", err)
	}
	defer func() { _ = file.Close() }()

	sections := make(map[string]uint64, len(trackedSections))
	for _, name := range trackedSections {
		if section := file.Section(name); section != nil {
			sections[name] = section.Addr
		}
	}

	if _, ok := sections[".text"]; !ok {
		return nil, fmt.Errorf("target binary %s has no .text section", binary)
	}

	return sections, nil
}

// SymbolFileCommand builds the single "add symbol file at runtime address"
// command encoding all known sections. The .text address is the primary
// argument; the rest ride as -s flags.
func SymbolFileCommand(binary string, base uint64, sections map[string]uint64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "add-symbol-file %s 0x%x", binary, base+sections[".text"])

	names := make([]string, 0, len(sections))
	for name := range sections {
		if name != ".text" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(&b, " -s %s 0x%x", name, base+sections[name])
	}

	return b.String()
}
