package cpu

import (
	"testing"

	"github.com/rv32zk/r0vm/internal/memory"
)

func encodeRType(funct7, rs2, rs1, funct3, rd, opcode uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeIType(imm uint32, rs1, funct3, rd, opcode uint32) uint32 {
	return (imm&0xfff)<<20 | rs1<<15 | funct3<<12 | rd<<7 | opcode
}

func encodeBType(imm uint32, rs2, rs1, funct3, opcode uint32) uint32 {
	return ((imm>>12)&1)<<31 | ((imm>>5)&0x3f)<<25 | rs2<<20 | rs1<<15 | funct3<<12 |
		((imm>>1)&0xf)<<8 | ((imm>>11)&1)<<7 | opcode
}

func newTestMem() *memory.Memory {
	return memory.New()
}

func TestExecuteADDI(t *testing.T) {
	mem := newTestMem()
	hart := &HartState{}
	hart.SetReg(1, 5)
	insn := encodeIType(10, 1, 0x0, 2, opImm) // addi x2, x1, 10
	if err := Execute(insn, hart, mem); err != nil {
		t.Fatal(err)
	}
	if hart.Reg(2) != 15 {
		t.Errorf("x2 = %d, want 15", hart.Reg(2))
	}
	if hart.PC != 4 {
		t.Errorf("PC = %d, want 4", hart.PC)
	}
}

func TestExecuteADDNegativeImmediate(t *testing.T) {
	mem := newTestMem()
	hart := &HartState{}
	hart.SetReg(1, 5)
	insn := encodeIType(0xfff, 1, 0x0, 2, opImm) // addi x2, x1, -1
	if err := Execute(insn, hart, mem); err != nil {
		t.Fatal(err)
	}
	if hart.Reg(2) != 4 {
		t.Errorf("x2 = %d, want 4", hart.Reg(2))
	}
}

func TestExecuteBranchTaken(t *testing.T) {
	mem := newTestMem()
	hart := &HartState{}
	hart.SetReg(1, 7)
	hart.SetReg(2, 7)
	insn := encodeBType(8, 2, 1, 0x0, opBranch) // beq x1, x2, +8
	if err := Execute(insn, hart, mem); err != nil {
		t.Fatal(err)
	}
	if hart.PC != 8 {
		t.Errorf("PC = %d, want 8 (branch taken)", hart.PC)
	}
}

func TestExecuteBranchNotTaken(t *testing.T) {
	mem := newTestMem()
	hart := &HartState{}
	hart.SetReg(1, 7)
	hart.SetReg(2, 9)
	insn := encodeBType(8, 2, 1, 0x0, opBranch) // beq x1, x2, +8
	if err := Execute(insn, hart, mem); err != nil {
		t.Fatal(err)
	}
	if hart.PC != 4 {
		t.Errorf("PC = %d, want 4 (branch not taken)", hart.PC)
	}
}

func TestExecuteLoadStoreWord(t *testing.T) {
	mem := newTestMem()
	hart := &HartState{}
	addr := memory.GuestMin + 0x40
	hart.SetReg(1, addr)
	hart.SetReg(2, 0x12345678)

	store := encodeSType(0, 2, 1, 0x2, opStore) // sw x2, 0(x1)
	if err := Execute(store, hart, mem); err != nil {
		t.Fatal(err)
	}

	hart.PC = 0
	load := encodeIType(0, 1, 0x2, 3, opLoad) // lw x3, 0(x1)
	if err := Execute(load, hart, mem); err != nil {
		t.Fatal(err)
	}
	if hart.Reg(3) != 0x12345678 {
		t.Errorf("x3 = %#x, want 0x12345678", hart.Reg(3))
	}
}

func encodeSType(imm uint32, rs2, rs1, funct3, opcode uint32) uint32 {
	return ((imm>>5)&0x7f)<<25 | rs2<<20 | rs1<<15 | funct3<<12 | (imm&0x1f)<<7 | opcode
}

func TestExecuteMulDivByZero(t *testing.T) {
	mem := newTestMem()
	hart := &HartState{}
	hart.SetReg(1, 42)
	hart.SetReg(2, 0)

	div := encodeRType(0x01, 2, 1, 0x4, 3, opReg) // div x3, x1, x2
	if err := Execute(div, hart, mem); err != nil {
		t.Fatal(err)
	}
	if hart.Reg(3) != 0xffffffff {
		t.Errorf("div by zero = %#x, want 0xffffffff", hart.Reg(3))
	}

	hart.PC = 0
	rem := encodeRType(0x01, 2, 1, 0x6, 4, opReg) // rem x4, x1, x2
	if err := Execute(rem, hart, mem); err != nil {
		t.Fatal(err)
	}
	if hart.Reg(4) != 42 {
		t.Errorf("rem by zero = %d, want 42 (dividend unchanged)", hart.Reg(4))
	}
}

func TestExecuteMul(t *testing.T) {
	mem := newTestMem()
	hart := &HartState{}
	hart.SetReg(1, 6)
	hart.SetReg(2, 7)
	mul := encodeRType(0x01, 2, 1, 0x0, 3, opReg) // mul x3, x1, x2
	if err := Execute(mul, hart, mem); err != nil {
		t.Fatal(err)
	}
	if hart.Reg(3) != 42 {
		t.Errorf("x3 = %d, want 42", hart.Reg(3))
	}
}

func TestExecuteJALAndJALR(t *testing.T) {
	mem := newTestMem()
	hart := &HartState{}
	hart.PC = 100
	jal := encodeJType(16, 1, opJal) // jal x1, +16
	if err := Execute(jal, hart, mem); err != nil {
		t.Fatal(err)
	}
	if hart.PC != 116 {
		t.Errorf("PC after jal = %d, want 116", hart.PC)
	}
	if hart.Reg(1) != 104 {
		t.Errorf("ra = %d, want 104", hart.Reg(1))
	}

	hart.SetReg(2, 200)
	jalr := encodeIType(5, 2, 0x0, 3, opJalr) // jalr x3, 5(x2)
	if err := Execute(jalr, hart, mem); err != nil {
		t.Fatal(err)
	}
	if hart.PC != 204 { // (200+5) & ~1
		t.Errorf("PC after jalr = %d, want 204", hart.PC)
	}
}

func encodeJType(imm uint32, rd, opcode uint32) uint32 {
	return ((imm>>20)&1)<<31 | ((imm>>1)&0x3ff)<<21 | ((imm>>11)&1)<<20 | ((imm>>12)&0xff)<<12 | rd<<7 | opcode
}

func TestSimulatorStepHalt(t *testing.T) {
	mem := newTestMem()
	entry := memory.GuestMin
	sim := New(mem, entry)

	// ecall with t0=0 (HALT), a0=0 (TERMINATE, user exit 0).
	sim.Hart.SetReg(RegT0, EcallHalt)
	sim.Hart.SetReg(RegA0, 0)
	mem.Write(entry, memory.Word, 0x00000073, true) // ecall encoding

	exit, err := sim.Step()
	if err != nil {
		t.Fatal(err)
	}
	if exit == nil || exit.Reason != ExitHalted {
		t.Fatalf("expected ExitHalted, got %+v", exit)
	}
}

func TestSimulatorStepCycleCountSyscall(t *testing.T) {
	mem := newTestMem()
	entry := memory.GuestMin
	sim := New(mem, entry)

	namePtr := memory.GuestMin + 0x100
	name := "risc0_zkvm_platform::syscall::nr::SYS_CYCLE_COUNT"
	for i, c := range []byte(name) {
		mem.WriteByte(namePtr+uint32(i), c)
	}
	mem.WriteByte(namePtr+uint32(len(name)), 0)

	sim.Hart.SetReg(RegT0, EcallSoftware)
	sim.Hart.SetReg(RegA0, 0) // to_guest_ptr = 0, no result buffer
	sim.Hart.SetReg(RegA1, 0) // to_guest_words = 0
	sim.Hart.SetReg(RegA2, namePtr)
	mem.Write(entry, memory.Word, 0x00000073, true)

	exit, err := sim.Step()
	if err != nil {
		t.Fatal(err)
	}
	if exit != nil {
		t.Fatalf("expected normal continuation, got exit %+v", exit)
	}
	if sim.Hart.PC != entry+4 {
		t.Errorf("PC after SOFTWARE ecall = %#x, want %#x", sim.Hart.PC, entry+4)
	}
}
