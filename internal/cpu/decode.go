/*
 * r0vm - RV32IM instruction field decode.
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

// Instruction fields common to every RV32 encoding.
func decodeOpcode(insn uint32) uint32 { return insn & 0x7f }
func decodeRd(insn uint32) int        { return int((insn >> 7) & 0x1f) }
func decodeFunct3(insn uint32) uint32 { return (insn >> 12) & 0x7 }
func decodeRs1(insn uint32) int       { return int((insn >> 15) & 0x1f) }
func decodeRs2(insn uint32) int       { return int((insn >> 20) & 0x1f) }
func decodeFunct7(insn uint32) uint32 { return (insn >> 25) & 0x7f }

// signExtend sign-extends the low `bits` bits of v.
func signExtend(v uint32, bits uint) uint32 {
	shift := 32 - bits
	return uint32(int32(v<<shift) >> shift)
}

// decodeImmI extracts the sign-extended 12-bit immediate of an I-type
// instruction (OP-IMM, LOAD, JALR).
func decodeImmI(insn uint32) uint32 {
	return signExtend(insn>>20, 12)
}

// decodeImmS extracts the sign-extended 12-bit immediate of an S-type
// instruction (STORE).
func decodeImmS(insn uint32) uint32 {
	imm := ((insn >> 25) << 5) | ((insn >> 7) & 0x1f)
	return signExtend(imm, 12)
}

// decodeImmB extracts the sign-extended 13-bit immediate of a B-type
// instruction (BRANCH). Bit 0 is always zero.
func decodeImmB(insn uint32) uint32 {
	imm := ((insn>>31)&0x1)<<12 |
		((insn>>7)&0x1)<<11 |
		((insn>>25)&0x3f)<<5 |
		((insn>>8)&0xf)<<1
	return signExtend(imm, 13)
}

// decodeImmU extracts the 20-bit upper immediate of a U-type instruction
// (LUI, AUIPC), already shifted into the top bits of a 32-bit word.
func decodeImmU(insn uint32) uint32 {
	return insn & 0xfffff000
}

// decodeImmJ extracts the sign-extended 21-bit immediate of a J-type
// instruction (JAL). Bit 0 is always zero.
func decodeImmJ(insn uint32) uint32 {
	imm := ((insn>>31)&0x1)<<20 |
		((insn>>12)&0xff)<<12 |
		((insn>>20)&0x1)<<11 |
		((insn>>21)&0x3ff)<<1
	return signExtend(imm, 21)
}
