/*
 * r0vm - Session cycle accountant.
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

// Package cycle models the prover-side cost of executing the guest program:
// per-opcode base costs plus a virtual Merkle-chain page-paging cost, rolled
// up into fixed-size segments the way the downstream prover segments proof
// generation.
package cycle

import "fmt"

const (
	// PreCycle is the fixed per-segment setup cost: byte/RAM lookup table
	// init plus the segment's initial RESET command.
	PreCycle = 1 + 1561 + 1 + 27 + 2
	// PostCycle is the fixed per-segment teardown cost.
	PostCycle = 2 + 2 + 2
	// OtherConstCycle covers SHA and other fixed per-segment ZK bookkeeping.
	OtherConstCycle = 73 + 50

	// SegmentLimit is the maximum prover cycles a single segment may hold
	// before a new segment is started.
	SegmentLimit = 1_048_576

	// RootPageIdx is the page index of the Merkle root; it is shorter than a
	// normal page (11 SHA blocks instead of 16).
	RootPageIdx = 219862

	pageBlocksNormal = 16
	pageBlocksRoot   = 11
)

// pageInitCycles is the SHA cost of bringing one page into the Merkle chain:
// 1 (init trigger) + 5 (SHA_INIT) + (SHA_LOAD + SHA_MAIN) per block.
func pageInitCycles(blocks int) int {
	return 1 + 5 + (16+52)*blocks
}

// Accountant tracks cycle costs for the currently executing session. It
// implements memory.Accountant: memory.Memory calls ReadPage/WritePage on
// every non-privileged access, and the stepper calls Step once per
// instruction retired.
type Accountant struct {
	numSegment int

	curSegmentCycle    int
	curSegmentResident map[uint32]struct{}
	curSegmentDirty    map[uint32]struct{}

	stepRead  map[uint32]struct{}
	stepWrite map[uint32]struct{}
}

// New returns a fresh accountant at segment zero.
func New() *Accountant {
	return &Accountant{
		curSegmentResident: make(map[uint32]struct{}),
		curSegmentDirty:    make(map[uint32]struct{}),
		stepRead:           make(map[uint32]struct{}),
		stepWrite:          make(map[uint32]struct{}),
	}
}

// ReadPage records that pageIdx was read during the step in progress.
func (a *Accountant) ReadPage(pageIdx uint32) {
	a.stepRead[pageIdx] = struct{}{}
}

// WritePage records that pageIdx was written during the step in progress.
func (a *Accountant) WritePage(pageIdx uint32) {
	a.stepWrite[pageIdx] = struct{}{}
}

// SessionCycle returns the total prover cycle count spent so far across all
// completed and in-progress segments.
func (a *Accountant) SessionCycle() uint32 {
	segTotal := PreCycle + PostCycle + OtherConstCycle + a.curSegmentCycle
	return uint32(a.numSegment*SegmentLimit + segTotal)
}

// NumSegment returns the number of segments that have been rolled over so
// far (not counting the currently open one).
func (a *Accountant) NumSegment() int {
	return a.numSegment
}

// chainCost walks the page-paging Merkle chain from pageIdx up to the root,
// charging pageInitCycles for every ancestor not already resident/dirty in
// this segment or in newlyTouched, and returns the total cost plus the set of
// newly touched page indices (in walk order).
func chainCost(pageIdx uint32, settled map[uint32]struct{}) (cost int, touched []uint32) {
	newlyTouched := make(map[uint32]struct{})
	cur := pageIdx
	for {
		if _, ok := settled[cur]; ok {
			return cost, touched
		}
		if _, ok := newlyTouched[cur]; ok {
			return cost, touched
		}

		if cur == RootPageIdx {
			cost += pageInitCycles(pageBlocksRoot)
			newlyTouched[cur] = struct{}{}
			touched = append(touched, cur)
			return cost, touched
		}

		cost += pageInitCycles(pageBlocksNormal)
		newlyTouched[cur] = struct{}{}
		touched = append(touched, cur)

		cur = (0x0D00_0000 + cur*32) >> 10
	}
}

// Step charges the cost of one retired instruction: its fixed opcode cost,
// any ecall-specific extra cost, and the paging cost of every page it
// touched that was not already resident/dirty in the current segment. If the
// resulting segment total would exceed SegmentLimit, the segment is rolled
// over and the same step is re-priced against a fresh, empty segment. The
// segment is rolled over at most once per step: a step too large to fit even
// an empty segment is charged to the fresh segment as is, leaving that
// segment above SegmentLimit.
func (a *Accountant) Step(opcodeCycle, extraCycle int) {
	rolledOver := false
	for {
		readCycle := 0
		var newResident []uint32
		for pageIdx := range a.stepRead {
			c, touched := chainCost(pageIdx, a.curSegmentResident)
			readCycle += c
			newResident = append(newResident, touched...)
		}

		writeCycle := 0
		var newDirty []uint32
		for pageIdx := range a.stepWrite {
			c, touched := chainCost(pageIdx, a.curSegmentDirty)
			writeCycle += c
			newDirty = append(newDirty, touched...)
		}

		stepTotal := opcodeCycle + extraCycle + readCycle + writeCycle
		newSegmentTotal := PreCycle + PostCycle + OtherConstCycle + a.curSegmentCycle + stepTotal

		if newSegmentTotal > SegmentLimit && !rolledOver {
			a.numSegment++
			a.curSegmentCycle = 0
			a.curSegmentResident = make(map[uint32]struct{})
			a.curSegmentDirty = make(map[uint32]struct{})
			rolledOver = true
			continue
		}

		a.curSegmentCycle += stepTotal
		for _, p := range newResident {
			a.curSegmentResident[p] = struct{}{}
		}
		for _, p := range newDirty {
			a.curSegmentDirty[p] = struct{}{}
		}
		a.stepRead = make(map[uint32]struct{})
		a.stepWrite = make(map[uint32]struct{})
		return
	}
}

// OpcodeCycle returns the fixed prover cost of the given raw instruction word,
// based solely on its opcode/funct3/funct7 fields. It returns an error for
// bit patterns that do not correspond to a supported RV32IM instruction.
func OpcodeCycle(insn uint32) (int, error) {
	opcode := insn & 0x7f
	funct3 := (insn >> 12) & 0x7
	funct7 := (insn >> 25) & 0x7f

	switch opcode {
	case 0b0000011: // LOAD
		return 1, nil
	case 0b0010011: // OP-IMM
		switch funct3 {
		case 0x0, 0x1, 0x2, 0x3:
			return 1, nil
		case 0x4, 0x5, 0x6, 0x7:
			return 2, nil
		}
		return 0, fmt.Errorf("illegal instruction: op-imm funct3 %#x", funct3)
	case 0b0010111: // AUIPC
		return 1, nil
	case 0b0100011: // STORE
		return 1, nil
	case 0b0110011: // OP / M-extension
		switch [2]uint32{funct3, funct7} {
		case [2]uint32{0x0, 0x00}, [2]uint32{0x0, 0x20}, [2]uint32{0x1, 0x00},
			[2]uint32{0x2, 0x00}, [2]uint32{0x3, 0x00},
			[2]uint32{0x0, 0x01}, [2]uint32{0x1, 0x01}, [2]uint32{0x2, 0x01}, [2]uint32{0x3, 0x01}:
			return 1, nil
		case [2]uint32{0x4, 0x00}, [2]uint32{0x5, 0x00}, [2]uint32{0x5, 0x20}, [2]uint32{0x6, 0x00}, [2]uint32{0x7, 0x00},
			[2]uint32{0x4, 0x01}, [2]uint32{0x5, 0x01}, [2]uint32{0x6, 0x01}, [2]uint32{0x7, 0x01}:
			return 2, nil
		}
		return 0, fmt.Errorf("illegal instruction: op funct3 %#x funct7 %#x", funct3, funct7)
	case 0b0110111: // LUI
		return 1, nil
	case 0b1100011: // BRANCH
		return 1, nil
	case 0b1100111: // JALR
		return 1, nil
	case 0b1101111: // JAL
		return 1, nil
	case 0b1110011: // SYSTEM
		return 1, nil
	}
	return 0, fmt.Errorf("illegal instruction: opcode %#09b", opcode)
}
