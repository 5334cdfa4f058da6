package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/rv32zk/r0vm/internal/memory"
)

// buildRISCVElf32 assembles a minimal 32-bit RISC-V ET_EXEC image with a
// single PT_LOAD segment carrying payload at vaddr, entry at entry.
func buildRISCVElf32(t *testing.T, vaddr, entry uint32, payload []byte) []byte {
	t.Helper()
	const ehdrSize = 52
	const phdrSize = 32
	phoff := uint32(ehdrSize)
	dataOff := phoff + phdrSize

	buf := new(bytes.Buffer)

	ident := [16]byte{0x7f, 'E', 'L', 'F', 1 /* ELFCLASS32 */, 1 /* ELFDATA2LSB */, 1, 0}
	buf.Write(ident[:])
	binary.Write(buf, binary.LittleEndian, uint16(elf.ET_EXEC))
	binary.Write(buf, binary.LittleEndian, uint16(elf.EM_RISCV))
	binary.Write(buf, binary.LittleEndian, uint32(1)) // e_version
	binary.Write(buf, binary.LittleEndian, entry)
	binary.Write(buf, binary.LittleEndian, phoff)
	binary.Write(buf, binary.LittleEndian, uint32(0)) // e_shoff
	binary.Write(buf, binary.LittleEndian, uint32(0)) // e_flags
	binary.Write(buf, binary.LittleEndian, uint16(ehdrSize))
	binary.Write(buf, binary.LittleEndian, uint16(phdrSize))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // e_phnum
	binary.Write(buf, binary.LittleEndian, uint16(0)) // e_shentsize
	binary.Write(buf, binary.LittleEndian, uint16(0)) // e_shnum
	binary.Write(buf, binary.LittleEndian, uint16(0)) // e_shstrndx

	binary.Write(buf, binary.LittleEndian, uint32(elf.PT_LOAD))
	binary.Write(buf, binary.LittleEndian, dataOff)
	binary.Write(buf, binary.LittleEndian, vaddr)
	binary.Write(buf, binary.LittleEndian, vaddr) // p_paddr
	binary.Write(buf, binary.LittleEndian, uint32(len(payload)))
	binary.Write(buf, binary.LittleEndian, uint32(len(payload)))
	binary.Write(buf, binary.LittleEndian, uint32(5)) // p_flags: R+X
	binary.Write(buf, binary.LittleEndian, uint32(4)) // p_align

	buf.Write(payload)
	return buf.Bytes()
}

func TestLoadValidImage(t *testing.T) {
	mem := memory.New()
	vaddr := memory.GuestMin
	payload := []byte{0x13, 0x00, 0x00, 0x00} // addi x0, x0, 0 (nop)
	image := buildRISCVElf32(t, vaddr, vaddr, payload)

	entry, err := Load(mem, image)
	if err != nil {
		t.Fatal(err)
	}
	if entry != vaddr {
		t.Errorf("entry = %#08x, want %#08x", entry, vaddr)
	}
	v, ok := mem.Read(vaddr, memory.Word, true)
	if !ok || v != 0x00000013 {
		t.Errorf("loaded word = %#x, ok=%v, want 0x13", v, ok)
	}
}

func TestLoadRejectsMisalignedEntry(t *testing.T) {
	mem := memory.New()
	vaddr := memory.GuestMin
	image := buildRISCVElf32(t, vaddr, vaddr+1, []byte{0, 0, 0, 0})
	if _, err := Load(mem, image); err == nil {
		t.Errorf("expected an error for a misaligned entry point")
	}
}

func TestLoadZeroFillsBeyondFileSize(t *testing.T) {
	mem := memory.New()
	vaddr := memory.GuestMin
	payload := []byte{0xaa, 0xbb, 0xcc, 0xdd}
	image := buildRISCVElf32(t, vaddr, vaddr, payload)
	// Inflate p_memsz beyond p_filesz by hand: overwrite memsz field (offset
	// 52+20 in the header) to request one extra zero-filled word.
	binary.LittleEndian.PutUint32(image[52+20:], uint32(len(payload)+4))

	if _, err := Load(mem, image); err != nil {
		t.Fatal(err)
	}
	v, ok := mem.Read(vaddr+4, memory.Word, true)
	if !ok || v != 0 {
		t.Errorf("bytes beyond file size should read as zero, got %#x ok=%v", v, ok)
	}
}
