/*
 * r0vm - ELF guest image loader.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package loader reads a 32-bit RISC-V executable ELF image into guest
// memory and returns its entry point.
package loader

import (
	"bytes"
	"debug/elf"
	"fmt"

	"github.com/rv32zk/r0vm/internal/memory"
)

const maxProgramHeaders = 256

// MemWriter is the subset of *memory.Memory the loader needs; privileged
// writes bypass watchpoints and cycle accounting the way a real prover's
// trusted setup would.
type MemWriter interface {
	Write(addr uint32, size memory.Size, data uint32, privileged bool) bool
}

// Load parses a 32-bit RISC-V executable ELF image, validates it, and
// writes every PT_LOAD segment into mem word by word (zero-filling the
// portion of each segment beyond its file size). It returns the entry
// point, which is guaranteed to be a 4-byte-aligned address below
// memory.GuestMax.
func Load(mem MemWriter, image []byte) (entry uint32, err error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return 0, fmt.Errorf("elf parse error: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return 0, fmt.Errorf("not a 32-bit ELF")
	}
	if f.Data != elf.ELFDATA2LSB {
		return 0, fmt.Errorf("not a little-endian ELF")
	}
	if f.Machine != elf.EM_RISCV {
		return 0, fmt.Errorf("invalid machine type, must be RISC-V")
	}
	if f.Type != elf.ET_EXEC {
		return 0, fmt.Errorf("invalid ELF type, must be executable")
	}

	if f.Entry > uint64(^uint32(0)) {
		return 0, fmt.Errorf("entry point larger than 32 bits")
	}
	entry = uint32(f.Entry)
	if entry >= memory.GuestMax || entry%4 != 0 {
		return 0, fmt.Errorf("invalid entrypoint %#08x", entry)
	}

	if len(f.Progs) > maxProgramHeaders {
		return 0, fmt.Errorf("too many program headers: %d", len(f.Progs))
	}

	for _, seg := range f.Progs {
		if seg.Type != elf.PT_LOAD {
			continue
		}
		if err := loadSegment(mem, image, seg); err != nil {
			return 0, err
		}
	}

	return entry, nil
}

func loadSegment(mem MemWriter, image []byte, seg *elf.Prog) error {
	if seg.Filesz >= uint64(memory.GuestMax) {
		return fmt.Errorf("invalid segment file size %d", seg.Filesz)
	}
	if seg.Memsz >= uint64(memory.GuestMax) {
		return fmt.Errorf("invalid segment mem size %d", seg.Memsz)
	}
	vaddr := uint32(seg.Vaddr)
	if seg.Vaddr > uint64(^uint32(0)) {
		return fmt.Errorf("segment vaddr larger than 32 bits")
	}
	if vaddr%4 != 0 {
		return fmt.Errorf("segment vaddr %#08x is unaligned", vaddr)
	}
	offset := uint32(seg.Off)
	fileSize := uint32(seg.Filesz)
	memSize := uint32(seg.Memsz)

	for i := uint32(0); i < memSize; i += 4 {
		addr := vaddr + i
		if addr < vaddr {
			return fmt.Errorf("segment vaddr %#08x overflows", vaddr)
		}
		if addr >= memory.GuestMax {
			return fmt.Errorf("address %#08x exceeds maximum guest address %#08x", addr, memory.GuestMax)
		}

		var word uint32
		if i < fileSize {
			length := fileSize - i
			if length > 4 {
				length = 4
			}
			for j := uint32(0); j < length; j++ {
				off := int(offset + i + j)
				if off >= len(image) {
					return fmt.Errorf("invalid segment offset %d", off)
				}
				word |= uint32(image[off]) << (j * 8)
			}
		}
		if !mem.Write(addr, memory.Word, word, true) {
			return fmt.Errorf("failed to write segment data at %#08x", addr)
		}
	}
	return nil
}
