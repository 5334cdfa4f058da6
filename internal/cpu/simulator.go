/*
 * r0vm - Simulator: ties the hart, guest memory, cycle accounting and the
 * ecall handler together into one instruction stepper.
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
	"bytes"
	"fmt"
	"sync"

	"github.com/rv32zk/r0vm/internal/cycle"
	"github.com/rv32zk/r0vm/internal/memory"
	"github.com/rv32zk/r0vm/internal/syscall"
)

// ExitReason describes why Step stopped producing further instructions
// without error.
type ExitReason int

const (
	// ExitNone means the step completed normally; execution continues.
	ExitNone ExitReason = iota
	ExitHalted
	ExitPaused
	ExitWatchpoint
)

// ExitCode is returned by Step when a halt, pause or watchpoint trigger
// ends the current instruction stream.
type ExitCode struct {
	Reason  ExitReason
	Code    uint32          // guest-supplied exit code for Halted/Paused
	Watch   memory.WatchKind // valid only for ExitWatchpoint
	WatchPC uint32           // valid only for ExitWatchpoint
}

// Simulator is one guest program's complete execution state: its hart,
// memory, cycle accountant and host-facing stdio/env/argv.
type Simulator struct {
	Mem   *memory.Memory
	Hart  HartState
	Cycle *cycle.Accountant

	env  map[string]string
	args []string

	stdin   bytes.Reader
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	journal bytes.Buffer

	// mu serializes access to the session's mutable state (hart, memory,
	// accountant) between whichever of the GDB event loop or the operator
	// console currently owns it. Held only for the duration of one step or
	// one command, never across a blocking network read.
	mu       sync.Mutex
	lastExit *ExitCode
}

// Lock and Unlock hand ownership of the session to the caller for one step
// or one command.
func (s *Simulator) Lock()   { s.mu.Lock() }
func (s *Simulator) Unlock() { s.mu.Unlock() }

// LastExit returns the Halted/Paused exit code the session most recently
// stopped on, or nil if it is still runnable.
func (s *Simulator) LastExit() *ExitCode { return s.lastExit }

// New builds a Simulator with the hart's PC set to entry, memory wired to
// the cycle accountant for non-privileged accesses.
func New(mem *memory.Memory, entry uint32) *Simulator {
	acct := cycle.New()
	mem.SetAccountant(acct)
	s := &Simulator{
		Mem:   mem,
		Cycle: acct,
		env:   make(map[string]string),
	}
	s.Hart.PC = entry
	return s
}

// SetEnv installs the guest-visible environment variables consulted by
// SYS_GETENV.
func (s *Simulator) SetEnv(env map[string]string) {
	s.env = env
}

// SetArgs installs the guest-visible argv consulted by SYS_ARGC/SYS_ARGS.
func (s *Simulator) SetArgs(args []string) {
	s.args = args
}

// FeedStdin sets the data the guest will consume through SYS_READ, replacing
// any input not yet read.
func (s *Simulator) FeedStdin(data []byte) {
	s.stdin = *bytes.NewReader(data)
}

// Stdout, Stderr and Journal expose the accumulated SYS_WRITE/SYS_LOG output
// streams, which the top-level driver prints once the session ends.
func (s *Simulator) Stdout() []byte  { return s.stdout.Bytes() }
func (s *Simulator) Stderr() []byte  { return s.stderr.Bytes() }
func (s *Simulator) Journal() []byte { return s.journal.Bytes() }

// syscall.Context implementation.

func (s *Simulator) Reg(r int) uint32       { return s.Hart.Reg(r) }
func (s *Simulator) SetReg(r int, v uint32) { s.Hart.SetReg(r, v) }
func (s *Simulator) SessionCycle() uint32   { return s.Cycle.SessionCycle() }
func (s *Simulator) Args() []string         { return s.args }

func (s *Simulator) Getenv(name string) (string, bool) {
	v, ok := s.env[name]
	return v, ok
}

func (s *Simulator) ReadGuestByte(addr uint32) (uint8, bool) {
	return s.Mem.ReadByte(addr)
}

func (s *Simulator) WriteGuestByte(addr uint32, b uint8) bool {
	return s.Mem.WriteByte(addr, b)
}

func (s *Simulator) StdinRead(p []byte) (int, error) {
	return s.stdin.Read(p)
}

func (s *Simulator) StdinAvail() uint32 {
	return uint32(s.stdin.Len())
}

func (s *Simulator) AppendFD(fd uint32, data []byte) error {
	switch fd {
	case FDStdout:
		s.stdout.Write(data)
	case FDStderr:
		s.stderr.Write(data)
	case FDJournal:
		s.journal.Write(data)
	default:
		return fmt.Errorf("cannot write to unsupported output channel %d", fd)
	}
	return nil
}

// Step executes exactly one guest instruction: fetch, charge its opcode
// cycle cost, execute (dispatching to the ecall handler for SYSTEM
// instructions), and charge any paging cost incurred by the memory it
// touched. A non-nil ExitCode reports a halt, pause or watchpoint stop;
// execution can be resumed afterward unless Reason is ExitHalted.
func (s *Simulator) Step() (*ExitCode, error) {
	insn, ok := s.Mem.Read(s.Hart.PC, memory.Word, false)
	if !ok {
		return nil, fmt.Errorf("cannot read the next instruction at %#08x", s.Hart.PC)
	}

	s.Mem.ClearTrigger()

	opcodeCycle, err := cycle.OpcodeCycle(insn)
	if err != nil {
		return nil, err
	}

	if IsEcall(insn) {
		exit, extraCycle, err := s.ecall()
		if err != nil {
			return nil, err
		}
		s.Cycle.Step(opcodeCycle, extraCycle)

		if exit == nil {
			if tr := s.Mem.TakeTrigger(); tr != nil {
				return &ExitCode{Reason: ExitWatchpoint, Watch: tr.Kind, WatchPC: tr.Addr}, nil
			}
		}
		if exit != nil {
			s.lastExit = exit
		}
		return exit, nil
	}

	if err := Execute(insn, &s.Hart, s.Mem); err != nil {
		return nil, fmt.Errorf("execution fault at %#08x: %w", s.Hart.PC, err)
	}
	s.Cycle.Step(opcodeCycle, 0)

	if tr := s.Mem.TakeTrigger(); tr != nil {
		return &ExitCode{Reason: ExitWatchpoint, Watch: tr.Kind, WatchPC: tr.Addr}, nil
	}
	return nil, nil
}

// ecall dispatches on x5 (t0) to the five ecall families. It returns the new
// PC implicitly by mutating s.Hart.PC, any terminal ExitCode, and the extra
// cycle cost of the ecall.
func (s *Simulator) ecall() (*ExitCode, int, error) {
	switch s.Hart.Reg(RegT0) {
	case EcallHalt:
		return s.ecallHalt()
	case EcallInput:
		s.Hart.PC += 4
		return nil, 0, nil
	case EcallSoftware:
		return s.ecallSoftware()
	case EcallSHA:
		return s.ecallSHA()
	case EcallBigInt:
		return s.ecallBigInt()
	default:
		return nil, 0, fmt.Errorf("unknown ecall %d at %#08x", s.Hart.Reg(RegT0), s.Hart.PC)
	}
}

func (s *Simulator) ecallHalt() (*ExitCode, int, error) {
	totReg := s.Hart.Reg(RegA0)
	haltType := totReg & 0xff
	userExit := (totReg >> 8) & 0xff

	switch haltType {
	case HaltTerminate:
		return &ExitCode{Reason: ExitHalted, Code: userExit}, 0, nil
	case HaltPause:
		return &ExitCode{Reason: ExitPaused, Code: userExit}, 0, nil
	default:
		return nil, 0, fmt.Errorf("illegal halt type %d at %#08x", haltType, s.Hart.PC)
	}
}

func alignUp4(v uint32) uint32 {
	return (v + 3) &^ 3
}

func (s *Simulator) ecallSoftware() (*ExitCode, int, error) {
	toGuestPtr := s.Hart.Reg(RegA0)
	if (toGuestPtr < memory.GuestMin || toGuestPtr >= memory.GuestMax) && toGuestPtr != 0 {
		return nil, 0, fmt.Errorf("to_guest_ptr %#08x of a SOFTWARE syscall at %#08x is invalid", toGuestPtr, s.Hart.PC)
	}

	toGuestWords := s.Hart.Reg(RegA1)
	namePtr := s.Hart.Reg(RegA2)
	chunks := alignUp4(toGuestWords)

	name, err := s.readCString(namePtr)
	if err != nil {
		return nil, 0, fmt.Errorf("name_ptr of a SOFTWARE syscall cannot be read: %w", err)
	}

	toGuest, err := syscall.Handle(name, toGuestWords, s)
	if err != nil {
		return nil, 0, err
	}

	if toGuestPtr != 0 {
		for i, word := range toGuest {
			for b := 0; b < 4; b++ {
				addr := toGuestPtr + uint32(i*4+b)
				if !s.Mem.WriteByte(addr, uint8(word>>(8*b))) {
					return nil, 0, fmt.Errorf("cannot write SOFTWARE syscall result at %#08x", addr)
				}
			}
		}
	}

	s.Hart.PC += 4
	return nil, int(1 + chunks + 1), nil
}

func (s *Simulator) readCString(ptr uint32) (string, error) {
	var buf []byte
	for {
		b, ok := s.Mem.ReadByte(ptr)
		if !ok {
			return "", fmt.Errorf("cannot read byte at %#08x", ptr)
		}
		if b == 0 {
			break
		}
		buf = append(buf, b)
		ptr++
	}
	return string(buf), nil
}

func (s *Simulator) ecallSHA() (*ExitCode, int, error) {
	outStatePtr := s.Hart.Reg(RegA0)
	inStatePtr := s.Hart.Reg(RegA1)
	block1Ptr := s.Hart.Reg(RegA2)
	block2Ptr := s.Hart.Reg(RegA3)
	count := s.Hart.Reg(RegA4)

	extra, err := syscall.HandleSHA(s, outStatePtr, inStatePtr, block1Ptr, block2Ptr, count)
	if err != nil {
		return nil, 0, err
	}
	s.Hart.PC += 4
	return nil, extra, nil
}

func (s *Simulator) ecallBigInt() (*ExitCode, int, error) {
	zPtr := s.Hart.Reg(RegA0)
	op := s.Hart.Reg(RegA1)
	xPtr := s.Hart.Reg(RegA2)
	yPtr := s.Hart.Reg(RegA3)
	nPtr := s.Hart.Reg(RegA4)

	extra, err := syscall.HandleBigInt(s, zPtr, op, xPtr, yPtr, nPtr)
	if err != nil {
		return nil, 0, err
	}
	s.Hart.PC += 4
	return nil, extra, nil
}
