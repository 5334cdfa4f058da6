/*
 * r0vm - RV32IM hart state and register ABI names.
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

// Package cpu implements the RV32IM hart: register file, instruction
// decode, and the execute step for every non-ecall instruction. The ecall
// path and the surrounding Simulator that ties the hart to guest memory and
// cycle accounting live alongside it in this package.
package cpu

// Register ABI indices, named the way the calling convention names them.
const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegGP   = 3
	RegTP   = 4
	RegT0   = 5
	RegT1   = 6
	RegT2   = 7
	RegS0   = 8
	RegFP   = 8
	RegS1   = 9
	RegA0   = 10
	RegA1   = 11
	RegA2   = 12
	RegA3   = 13
	RegA4   = 14
	RegA5   = 15
	RegA6   = 16
	RegA7   = 17
	RegS2   = 18
	RegS3   = 19
	RegS4   = 20
	RegS5   = 21
	RegS6   = 22
	RegS7   = 23
	RegS8   = 24
	RegS9   = 25
	RegS10  = 26
	RegS11  = 27
	RegT3   = 28
	RegT4   = 29
	RegT5   = 30
	RegT6   = 31
)

// Ecall selector values, read from x5 (t0) at a SYSTEM instruction.
const (
	EcallHalt     = 0
	EcallInput    = 1
	EcallSoftware = 2
	EcallSHA      = 3
	EcallBigInt   = 4
)

// Halt sub-codes carried in the low byte of a0 for an EcallHalt.
const (
	HaltTerminate = 0
	HaltPause     = 1
)

// Standard guest file descriptors for SYS_READ/SYS_WRITE.
const (
	FDStdin   = 0
	FDStdout  = 1
	FDStderr  = 2
	FDJournal = 3
)

// HartState is the RV32IM register file and program counter. x0 is kept in
// Registers[0] for uniformity but SetReg is a no-op against it, matching the
// architectural constant-zero register.
type HartState struct {
	Registers [32]uint32
	PC        uint32
}

// Reg returns the value of register r (0-31).
func (h *HartState) Reg(r int) uint32 {
	return h.Registers[r]
}

// SetReg writes value to register r, except that writes to x0 are discarded.
func (h *HartState) SetReg(r int, value uint32) {
	if r == RegZero {
		return
	}
	h.Registers[r] = value
}
