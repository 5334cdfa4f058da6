/*
 * r0vm - RV32IM instruction execute.
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

package cpu

import (
	"fmt"

	"github.com/rv32zk/r0vm/internal/memory"
)

const (
	opLoad    = 0b0000011
	opImm     = 0b0010011
	opAuipc   = 0b0010111
	opStore   = 0b0100011
	opReg     = 0b0110011
	opLui     = 0b0110111
	opBranch  = 0b1100011
	opJalr    = 0b1100111
	opJal     = 0b1101111
	opSystem  = 0b1110011
)

// memReader/memWriter are satisfied by *memory.Memory; declared narrowly so
// tests can substitute a fake.
type memReader interface {
	Read(addr uint32, size memory.Size, privileged bool) (uint32, bool)
}
type memWriter interface {
	Write(addr uint32, size memory.Size, data uint32, privileged bool) bool
}
type memReadWriter interface {
	memReader
	memWriter
}

// Execute performs one non-SYSTEM RV32IM instruction against hart and mem,
// advancing hart.PC. Callers must intercept SYSTEM-opcode (ecall) words
// before calling Execute; it is a programmer error to pass one here.
func Execute(insn uint32, hart *HartState, mem memReadWriter) error {
	opcode := decodeOpcode(insn)
	rd := decodeRd(insn)
	rs1 := decodeRs1(insn)
	rs2 := decodeRs2(insn)
	funct3 := decodeFunct3(insn)
	funct7 := decodeFunct7(insn)

	nextPC := hart.PC + 4

	switch opcode {
	case opLui:
		hart.SetReg(rd, decodeImmU(insn))

	case opAuipc:
		hart.SetReg(rd, hart.PC+decodeImmU(insn))

	case opJal:
		hart.SetReg(rd, nextPC)
		nextPC = hart.PC + decodeImmJ(insn)

	case opJalr:
		target := (hart.Reg(rs1) + decodeImmI(insn)) &^ 1
		hart.SetReg(rd, nextPC)
		nextPC = target

	case opBranch:
		a, b := hart.Reg(rs1), hart.Reg(rs2)
		taken := false
		switch funct3 {
		case 0x0: // BEQ
			taken = a == b
		case 0x1: // BNE
			taken = a != b
		case 0x4: // BLT
			taken = int32(a) < int32(b)
		case 0x5: // BGE
			taken = int32(a) >= int32(b)
		case 0x6: // BLTU
			taken = a < b
		case 0x7: // BGEU
			taken = a >= b
		default:
			return fmt.Errorf("illegal instruction: branch funct3 %#x", funct3)
		}
		if taken {
			nextPC = hart.PC + decodeImmB(insn)
		}

	case opLoad:
		addr := hart.Reg(rs1) + decodeImmI(insn)
		switch funct3 {
		case 0x0: // LB
			v, ok := mem.Read(addr, memory.Byte, false)
			if !ok {
				return fmt.Errorf("load access fault at %#08x", addr)
			}
			hart.SetReg(rd, signExtend(v, 8))
		case 0x1: // LH
			v, ok := mem.Read(addr, memory.Half, false)
			if !ok {
				return fmt.Errorf("load access fault at %#08x", addr)
			}
			hart.SetReg(rd, signExtend(v, 16))
		case 0x2: // LW
			v, ok := mem.Read(addr, memory.Word, false)
			if !ok {
				return fmt.Errorf("load access fault at %#08x", addr)
			}
			hart.SetReg(rd, v)
		case 0x4: // LBU
			v, ok := mem.Read(addr, memory.Byte, false)
			if !ok {
				return fmt.Errorf("load access fault at %#08x", addr)
			}
			hart.SetReg(rd, v)
		case 0x5: // LHU
			v, ok := mem.Read(addr, memory.Half, false)
			if !ok {
				return fmt.Errorf("load access fault at %#08x", addr)
			}
			hart.SetReg(rd, v)
		default:
			return fmt.Errorf("illegal instruction: load funct3 %#x", funct3)
		}

	case opStore:
		addr := hart.Reg(rs1) + decodeImmS(insn)
		val := hart.Reg(rs2)
		var ok bool
		switch funct3 {
		case 0x0: // SB
			ok = mem.Write(addr, memory.Byte, val, false)
		case 0x1: // SH
			ok = mem.Write(addr, memory.Half, val, false)
		case 0x2: // SW
			ok = mem.Write(addr, memory.Word, val, false)
		default:
			return fmt.Errorf("illegal instruction: store funct3 %#x", funct3)
		}
		if !ok {
			return fmt.Errorf("store access fault at %#08x", addr)
		}

	case opImm:
		a := hart.Reg(rs1)
		imm := decodeImmI(insn)
		var result uint32
		switch funct3 {
		case 0x0: // ADDI
			result = a + imm
		case 0x1: // SLLI
			result = a << (imm & 0x1f)
		case 0x2: // SLTI
			result = b2u(int32(a) < int32(imm))
		case 0x3: // SLTIU
			result = b2u(a < imm)
		case 0x4: // XORI
			result = a ^ imm
		case 0x5: // SRLI / SRAI
			shamt := imm & 0x1f
			if funct7 == 0x20 {
				result = uint32(int32(a) >> shamt)
			} else {
				result = a >> shamt
			}
		case 0x6: // ORI
			result = a | imm
		case 0x7: // ANDI
			result = a & imm
		default:
			return fmt.Errorf("illegal instruction: op-imm funct3 %#x", funct3)
		}
		hart.SetReg(rd, result)

	case opReg:
		a, b := hart.Reg(rs1), hart.Reg(rs2)
		result, err := executeOp(funct3, funct7, a, b)
		if err != nil {
			return err
		}
		hart.SetReg(rd, result)

	default:
		return fmt.Errorf("illegal instruction: opcode %#09b at %#08x", opcode, hart.PC)
	}

	hart.PC = nextPC
	return nil
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// executeOp implements the register-register OP instructions, including the
// M-extension (funct7 == 0x01).
func executeOp(funct3, funct7 uint32, a, b uint32) (uint32, error) {
	switch funct7 {
	case 0x00:
		switch funct3 {
		case 0x0: // ADD
			return a + b, nil
		case 0x1: // SLL
			return a << (b & 0x1f), nil
		case 0x2: // SLT
			return b2u(int32(a) < int32(b)), nil
		case 0x3: // SLTU
			return b2u(a < b), nil
		case 0x4: // XOR
			return a ^ b, nil
		case 0x5: // SRL
			return a >> (b & 0x1f), nil
		case 0x6: // OR
			return a | b, nil
		case 0x7: // AND
			return a & b, nil
		}
	case 0x20:
		switch funct3 {
		case 0x0: // SUB
			return a - b, nil
		case 0x5: // SRA
			return uint32(int32(a) >> (b & 0x1f)), nil
		}
	case 0x01:
		return executeMulDiv(funct3, a, b)
	}
	return 0, fmt.Errorf("illegal instruction: op funct3 %#x funct7 %#x", funct3, funct7)
}

// executeMulDiv implements the M-extension's register-register forms.
// Division and remainder by zero follow the RISC-V spec's defined results
// rather than trapping: div-by-zero yields all-ones, rem-by-zero yields the
// dividend unchanged, and INT_MIN/-1 overflow yields INT_MIN unchanged.
func executeMulDiv(funct3 uint32, a, b uint32) (uint32, error) {
	switch funct3 {
	case 0x0: // MUL
		return a * b, nil
	case 0x1: // MULH
		return uint32((int64(int32(a)) * int64(int32(b))) >> 32), nil
	case 0x2: // MULHSU
		return uint32((int64(int32(a)) * int64(uint64(b))) >> 32), nil
	case 0x3: // MULHU
		return uint32((uint64(a) * uint64(b)) >> 32), nil
	case 0x4: // DIV
		sa, sb := int32(a), int32(b)
		if sb == 0 {
			return 0xffffffff, nil
		}
		if sa == -2147483648 && sb == -1 {
			return uint32(sa), nil
		}
		return uint32(sa / sb), nil
	case 0x5: // DIVU
		if b == 0 {
			return 0xffffffff, nil
		}
		return a / b, nil
	case 0x6: // REM
		sa, sb := int32(a), int32(b)
		if sb == 0 {
			return a, nil
		}
		if sa == -2147483648 && sb == -1 {
			return 0, nil
		}
		return uint32(sa % sb), nil
	case 0x7: // REMU
		if b == 0 {
			return a, nil
		}
		return a % b, nil
	}
	return 0, fmt.Errorf("illegal instruction: muldiv funct3 %#x", funct3)
}

// IsSystem reports whether insn is a SYSTEM-opcode instruction (ecall/ebreak
// family); the caller must route these to the ecall handler instead of
// Execute.
func IsSystem(insn uint32) bool {
	return decodeOpcode(insn) == opSystem
}

// IsEcall reports whether insn is specifically the ecall encoding this
// machine recognizes: SYSTEM opcode, funct3 zero, funct7 zero, and rs2 in
// {0, 1} (ECALL/EBREAK share the opcode; both are routed to the same
// handler here since the guest ABI uses x5 to select the operation).
func IsEcall(insn uint32) bool {
	if decodeOpcode(insn) != opSystem {
		return false
	}
	funct3 := decodeFunct3(insn)
	funct7 := decodeFunct7(insn)
	rs2 := decodeRs2(insn)
	return funct3 == 0 && funct7 == 0 && (rs2 == 0 || rs2 == 1)
}
