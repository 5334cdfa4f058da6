/*
 * r0vm - SOFTWARE ecall dispatch: the named guest syscall table.
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

// Package syscall dispatches the guest's named SOFTWARE syscalls (the
// risc0_zkvm_platform syscall ABI). It never touches guest memory directly;
// the Context interface is the only thing it needs from the simulator.
package syscall

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Names of the guest-visible syscalls, exactly as the guest's libc resolves
// them by symbol name before passing a pointer to them through a2 (REG_A2).
const (
	SysRandom          = "risc0_zkvm_platform::syscall::nr::SYS_RANDOM"
	SysCycleCount      = "risc0_zkvm_platform::syscall::nr::SYS_CYCLE_COUNT"
	SysPanic           = "risc0_zkvm_platform::syscall::nr::SYS_PANIC"
	SysGetenv          = "risc0_zkvm_platform::syscall::nr::SYS_GETENV"
	SysRead            = "risc0_zkvm_platform::syscall::nr::SYS_READ"
	SysReadAvail       = "risc0_zkvm_platform::syscall::nr::SYS_READ_AVAIL"
	SysWrite           = "risc0_zkvm_platform::syscall::nr::SYS_WRITE"
	SysLog             = "risc0_zkvm_platform::syscall::nr::SYS_LOG"
	SysVerify          = "risc0_zkvm_platform::syscall::nr::SYS_VERIFY"
	SysVerifyIntegrity = "risc0_zkvm_platform::syscall::nr::SYS_VERIFY_INTEGRITY"
	SysArgc            = "risc0_zkvm_platform::syscall::nr::SYS_ARGC"
	SysArgs            = "risc0_zkvm_platform::syscall::nr::SYS_ARGS"
)

// Standard guest file descriptors, matching the cpu package's FD* constants.
const (
	FDStdin   = 0
	FDStdout  = 1
	FDStderr  = 2
	FDJournal = 3
)

// Context is everything Handle needs from the running simulator: register
// access, a byte-at-a-time view of guest memory, environment and argv, the
// session cycle counter, and the stdio buffers. It is satisfied by
// *cpu.Simulator.
type Context interface {
	Reg(r int) uint32
	SetReg(r int, v uint32)
	ReadGuestByte(addr uint32) (uint8, bool)
	WriteGuestByte(addr uint32, b uint8) bool
	SessionCycle() uint32
	Getenv(name string) (string, bool)
	Args() []string
	StdinRead(p []byte) (int, error)
	StdinAvail() uint32
	AppendFD(fd uint32, data []byte) error
}

// Register ABI indices used by the syscall calling convention (a0-a5). Kept
// local so this package has no dependency on the cpu package.
const (
	regA0 = 10
	regA1 = 11
	regA3 = 13
	regA4 = 14
	regA5 = 15
)

// Handle dispatches a named SOFTWARE syscall. toGuestWords is the number of
// 32-bit words the guest made available at the to_guest pointer; Handle
// returns exactly that many words of result data for the caller to copy back
// into guest memory (the caller is responsible for the copy, since only it
// knows the destination pointer and whether it is zero/absent).
//
// An unrecognized syscall name is not an error: it falls through with no
// register writes, and the toGuestWords result words it returns are all
// zero, matching what guest programs built against unknown syscall numbers
// actually observe.
func Handle(name string, toGuestWords uint32, ctx Context) ([]uint32, error) {
	toGuest := make([]uint32, toGuestWords)

	switch name {
	case SysRandom:
		buf := make([]byte, len(toGuest)*4)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("SYS_RANDOM: %w", err)
		}
		for i := range toGuest {
			toGuest[i] = binary.LittleEndian.Uint32(buf[i*4:])
		}
		ctx.SetReg(regA0, 0)
		ctx.SetReg(regA1, 0)

	case SysCycleCount:
		ctx.SetReg(regA0, ctx.SessionCycle())
		ctx.SetReg(regA1, 0)

	case SysPanic:
		msg, err := readGuestString(ctx, ctx.Reg(regA3), ctx.Reg(regA4))
		if err != nil {
			return nil, fmt.Errorf("SYS_PANIC: %w", err)
		}
		return nil, fmt.Errorf("guest panicked: %s", msg)

	case SysGetenv:
		name, err := readGuestString(ctx, ctx.Reg(regA3), ctx.Reg(regA4))
		if err != nil {
			return nil, fmt.Errorf("SYS_GETENV: %w", err)
		}
		val, ok := ctx.Getenv(name)
		if !ok {
			ctx.SetReg(regA0, 0xffffffff)
			ctx.SetReg(regA1, 0)
			break
		}
		n := copyStringToWords(toGuest, val)
		ctx.SetReg(regA0, uint32(n))
		ctx.SetReg(regA1, 0)

	case SysRead:
		fd := ctx.Reg(regA3)
		nbytes := int(ctx.Reg(regA4))
		if fd != FDStdin {
			return nil, fmt.Errorf("SYS_READ: bad read file descriptor %d", fd)
		}
		buf := make([]byte, nbytes)
		nread, err := readFull(ctx, buf)
		if err != nil {
			return nil, fmt.Errorf("SYS_READ: %w", err)
		}
		for i := 0; i+4 <= len(toGuest)*4 && i+4 <= nread; i += 4 {
			toGuest[i/4] = binary.LittleEndian.Uint32(buf[i:])
		}
		aligned := len(toGuest) * 4
		var tail [4]byte
		if nread > aligned {
			copy(tail[:], buf[aligned:nread])
		}
		ctx.SetReg(regA0, uint32(nread))
		ctx.SetReg(regA1, binary.LittleEndian.Uint32(tail[:]))

	case SysReadAvail:
		fd := ctx.Reg(regA3)
		if fd != FDStdin {
			return nil, fmt.Errorf("SYS_READ_AVAIL: bad read file descriptor %d", fd)
		}
		ctx.SetReg(regA0, ctx.StdinAvail())
		ctx.SetReg(regA1, 0)

	case SysWrite:
		fd := ctx.Reg(regA3)
		bufPtr := ctx.Reg(regA4)
		bufLen := ctx.Reg(regA5)
		data, err := readGuestBytes(ctx, bufPtr, bufLen)
		if err != nil {
			return nil, fmt.Errorf("SYS_WRITE: %w", err)
		}
		if err := ctx.AppendFD(fd, data); err != nil {
			return nil, fmt.Errorf("SYS_WRITE: %w", err)
		}
		ctx.SetReg(regA0, 0)
		ctx.SetReg(regA1, 0)

	case SysLog:
		bufPtr := ctx.Reg(regA3)
		bufLen := ctx.Reg(regA4)
		data, err := readGuestBytes(ctx, bufPtr, bufLen)
		if err != nil {
			return nil, fmt.Errorf("SYS_LOG: %w", err)
		}
		if err := ctx.AppendFD(FDStdout, data); err != nil {
			return nil, fmt.Errorf("SYS_LOG: %w", err)
		}
		ctx.SetReg(regA0, 0)
		ctx.SetReg(regA1, 0)

	case SysVerify, SysVerifyIntegrity:
		ctx.SetReg(regA0, 0)
		ctx.SetReg(regA1, 0)

	case SysArgc:
		ctx.SetReg(regA0, uint32(len(ctx.Args())))
		ctx.SetReg(regA1, 0)

	case SysArgs:
		idx := ctx.Reg(regA3)
		args := ctx.Args()
		if int(idx) >= len(args) {
			return nil, fmt.Errorf("SYS_ARGS: index %d out of range for argv of len %d", idx, len(args))
		}
		n := copyStringToWords(toGuest, args[idx])
		ctx.SetReg(regA0, uint32(n))
		ctx.SetReg(regA1, 0)

	default:
		// Unrecognized SOFTWARE syscall name: silent no-op, no registers
		// touched, result words left zero.
	}

	return toGuest, nil
}

func readGuestString(ctx Context, ptr, length uint32) (string, error) {
	buf, err := readGuestBytes(ctx, ptr, length)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func readGuestBytes(ctx Context, ptr, length uint32) ([]byte, error) {
	buf := make([]byte, length)
	for i := uint32(0); i < length; i++ {
		b, ok := ctx.ReadGuestByte(ptr + i)
		if !ok {
			return nil, fmt.Errorf("cannot read guest memory at %#08x", ptr+i)
		}
		buf[i] = b
	}
	return buf, nil
}

func copyStringToWords(toGuest []uint32, s string) int {
	b := []byte(s)
	n := len(toGuest) * 4
	if len(b) < n {
		n = len(b)
	}
	buf := make([]byte, len(toGuest)*4)
	copy(buf, b[:n])
	for i := range toGuest {
		toGuest[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return len(b)
}

func readFull(ctx Context, buf []byte) (int, error) {
	total := 0
	for len(buf) > 0 {
		n, err := ctx.StdinRead(buf)
		if n > 0 {
			total += n
			buf = buf[n:]
		}
		if err != nil || n == 0 {
			break
		}
	}
	return total, nil
}
