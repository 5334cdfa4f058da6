/*
 * r0vm - GDB stub target: wraps one Simulator with breakpoints, watchpoints
 * and the step/continue/range-step execution mode.
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

// Package gdbstub implements enough of the GDB remote serial protocol to
// attach a stock `gdb-multiarch -q -ex "target remote :PORT"` session to a
// running guest program: register and memory access, software breakpoints,
// hardware watchpoints, step/continue/range-step, and host-I/O access to the
// loaded ELF image for "info proc" / exec-file queries.
package gdbstub

import (
	"github.com/rv32zk/r0vm/internal/cpu"
	"github.com/rv32zk/r0vm/internal/memory"
)

// execMode mirrors the four resumption modes a single-thread GDB target can
// be in between stop-reason waits.
type execMode int

const (
	modeContinue execMode = iota
	modeStep
	modeRangeStep
	modeInterrupted
)

// pollInterval is how many instructions the stepper runs between checks for
// incoming bytes from the debugger while in Continue or RangeStep mode. Step
// mode polls every instruction since single steps are already that granular.
const pollInterval = 1024

// stopReason classifies why a wait-for-stop-reason call returned control to
// the command loop.
type stopReason int

const (
	stopNone stopReason = iota
	stopSwBreak
	stopDoneStep
	stopExited
	stopTerminated
	stopWatch
	stopSignal
)

type stopEvent struct {
	reason  stopReason
	code    uint8
	watch   memory.WatchKind
	addr    uint32
}

// target bundles one guest simulator with the debugger-visible state GDB
// expects to manipulate: software breakpoints (checked against PC after each
// instruction) and the current resumption mode. Hardware watchpoints live in
// memory.Memory itself since Step() already reports them via ExitWatchpoint.
type target struct {
	sim         *cpu.Simulator
	elf         []byte
	breakpoints map[uint32]struct{}
	mode        execMode
	rangeStart  uint32
	rangeEnd    uint32
}

func newTarget(sim *cpu.Simulator, elf []byte) *target {
	return &target{
		sim:         sim,
		elf:         elf,
		breakpoints: make(map[uint32]struct{}),
		mode:        modeContinue,
	}
}

// peeker's Peek reports whether the connection has at least one byte ready
// without blocking, used as the poll_incoming_data equivalent.
type peeker interface {
	Peek() bool
}

// run executes the target according to its current mode until either a stop
// condition fires or incoming debugger data is detected, matching the
// poll cadence of a real gdbstub event loop: every instruction in Step mode,
// every pollInterval instructions in Continue/RangeStep mode.
func (t *target) run(p peeker) (stopEvent, bool) {
	switch t.mode {
	case modeStep:
		if p.Peek() {
			return stopEvent{}, false
		}
		return t.stepOnce(), true

	case modeInterrupted:
		if p.Peek() {
			return stopEvent{}, false
		}
		return stopEvent{reason: stopSignal}, true

	default: // modeContinue, modeRangeStep
		for i := 0; ; i++ {
			if i%pollInterval == 0 && p.Peek() {
				return stopEvent{}, false
			}
			ev := t.stepOnce()
			if ev.reason != stopNone {
				return ev, true
			}
			if t.mode == modeRangeStep {
				t.sim.Lock()
				pc := t.sim.Hart.PC
				t.sim.Unlock()
				if pc < t.rangeStart || pc >= t.rangeEnd {
					return stopEvent{reason: stopDoneStep}, true
				}
			}
		}
	}
}

// stepOnce executes exactly one instruction and classifies the result: a
// halt/pause/watchpoint exit from the simulator, a software breakpoint hit on
// the new PC, or (in Step mode) a plain "done stepping". It holds the
// session lock only for the duration of this one step, never across the
// peeks or network I/O surrounding it.
func (t *target) stepOnce() stopEvent {
	t.sim.Lock()
	exit, err := t.sim.Step()
	pc := t.sim.Hart.PC
	t.sim.Unlock()

	if err != nil {
		return stopEvent{reason: stopTerminated}
	}
	if exit != nil {
		switch exit.Reason {
		case cpu.ExitPaused:
			return stopEvent{reason: stopSwBreak}
		case cpu.ExitHalted:
			return stopEvent{reason: stopExited, code: uint8(exit.Code)}
		case cpu.ExitWatchpoint:
			return stopEvent{reason: stopWatch, watch: exit.Watch, addr: exit.WatchPC}
		}
	}

	if _, hit := t.breakpoints[pc]; hit {
		return stopEvent{reason: stopSwBreak}
	}
	if t.mode == modeStep {
		return stopEvent{reason: stopDoneStep}
	}
	return stopEvent{reason: stopNone}
}
