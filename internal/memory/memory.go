/*
 * r0vm - Guest memory: paged, lazily allocated, with hardware watchpoints.
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

// Package memory implements the guest's paged address space: a sparse map of
// 1024-byte pages indexed by addr>>10, hardware watchpoints, and an optional
// accounting callback invoked on every non-privileged access.
package memory

import "fmt"

const (
	// GuestMin is the lowest addressable guest byte, inclusive.
	GuestMin uint32 = 0x0000_0400
	// GuestMax is the highest addressable guest byte, exclusive.
	GuestMax uint32 = 0x0C00_0000

	pageWords = 256 // 1024 bytes per page, addressed as 256 uint32 words
	pageMask  = 0x3ff
)

// Size is the access width of a load or store.
type Size int

const (
	Byte Size = iota
	Half
	Word
)

// WatchKind mirrors the GDB remote protocol's watchpoint kinds.
type WatchKind int

const (
	WatchWrite WatchKind = iota
	WatchRead
	WatchAccess
)

type watchpoint struct {
	addr uint32
	len  uint32
	kind WatchKind
}

// Accountant receives page-touch notifications for cycle costing. It is
// satisfied by *cycle.Accountant; defined here to avoid an import cycle
// between memory and cycle.
type Accountant interface {
	ReadPage(pageIdx uint32)
	WritePage(pageIdx uint32)
}

// Memory is the guest's paged address space.
type Memory struct {
	pages      map[uint32]*[pageWords]uint32
	watch      []watchpoint
	trigger    *WatchTrigger
	accountant Accountant
}

// WatchTrigger records the watchpoint that fired during the most recent step.
// It latches once per step: the first trigger wins, and Simulator.Step clears
// it before executing the next instruction.
type WatchTrigger struct {
	Kind WatchKind
	Addr uint32
}

// New returns an empty, ready-to-use guest memory.
func New() *Memory {
	return &Memory{pages: make(map[uint32]*[pageWords]uint32)}
}

// SetAccountant installs the cycle accounting callback used for every
// non-privileged access. Privileged accesses (ELF loading, GDB register and
// memory peeks) bypass it entirely.
func (m *Memory) SetAccountant(a Accountant) {
	m.accountant = a
}

// AddWatchpoint installs a hardware watchpoint over [addr, addr+len). Returns
// false if an identical watchpoint already exists.
func (m *Memory) AddWatchpoint(addr, length uint32, kind WatchKind) bool {
	wp := watchpoint{addr: addr, len: length, kind: kind}
	for _, e := range m.watch {
		if e == wp {
			return false
		}
	}
	m.watch = append(m.watch, wp)
	return true
}

// RemoveWatchpoint removes a previously installed watchpoint. Returns false
// if no matching watchpoint was found.
func (m *Memory) RemoveWatchpoint(addr, length uint32, kind WatchKind) bool {
	wp := watchpoint{addr: addr, len: length, kind: kind}
	for i, e := range m.watch {
		if e == wp {
			m.watch = append(m.watch[:i], m.watch[i+1:]...)
			return true
		}
	}
	return false
}

// TakeTrigger returns and clears the watchpoint that fired since the last
// call, or nil if none fired.
func (m *Memory) TakeTrigger() *WatchTrigger {
	t := m.trigger
	m.trigger = nil
	return t
}

// ClearTrigger resets the per-step watchpoint latch. Called once at the
// start of every instruction step.
func (m *Memory) ClearTrigger() {
	m.trigger = nil
}

func (m *Memory) checkWatchpoints(addr, length uint32, isWrite bool) {
	if m.trigger != nil {
		return
	}
	for _, e := range m.watch {
		if isWrite && e.kind == WatchRead {
			continue
		}
		if !isWrite && e.kind == WatchWrite {
			continue
		}
		watchStart, watchEnd := e.addr, e.addr+e.len
		actionStart, actionEnd := addr, addr+length
		if actionStart < watchStart && actionEnd > watchStart {
			m.trigger = &WatchTrigger{Kind: e.kind, Addr: addr}
			return
		}
		if actionStart >= watchStart && actionStart < watchEnd {
			m.trigger = &WatchTrigger{Kind: e.kind, Addr: addr}
			return
		}
	}
}

func (m *Memory) page(idx uint32) *[pageWords]uint32 {
	p, ok := m.pages[idx]
	if !ok {
		p = &[pageWords]uint32{}
		m.pages[idx] = p
	}
	return p
}

func inBounds(addr uint32) bool {
	return addr >= GuestMin && addr < GuestMax
}

// Read loads a value of the given size at addr. Privileged reads skip
// watchpoint checks and cycle accounting; used by the ELF loader and the GDB
// memory-read commands. ok is false if addr falls outside the guest window.
func (m *Memory) Read(addr uint32, size Size, privileged bool) (value uint32, ok bool) {
	if !inBounds(addr) {
		return 0, false
	}
	pageIdx := addr >> 10
	p := m.page(pageIdx)

	if !privileged && m.accountant != nil {
		m.accountant.ReadPage(pageIdx)
	}

	off := (addr & pageMask) / 4
	word := p[off]

	switch size {
	case Byte:
		if !privileged {
			m.checkWatchpoints(addr, 1, false)
		}
		shift := (addr & 3) * 8
		return (word >> shift) & 0xff, true
	case Half:
		if !privileged {
			m.checkWatchpoints(addr, 2, false)
		}
		if addr&3 == 2 {
			return (word >> 16) & 0xffff, true
		}
		return word & 0xffff, true
	case Word:
		if !privileged {
			m.checkWatchpoints(addr, 4, false)
		}
		return word, true
	default:
		panic(fmt.Sprintf("memory: invalid access size %d", size))
	}
}

// Write stores data of the given size at addr. ok is false if addr falls
// outside the guest window; the caller must treat that as a fatal access
// error per the stepper's error-handling contract.
func (m *Memory) Write(addr uint32, size Size, data uint32, privileged bool) (ok bool) {
	if !inBounds(addr) {
		return false
	}
	pageIdx := addr >> 10
	p := m.page(pageIdx)

	if !privileged && m.accountant != nil {
		m.accountant.WritePage(pageIdx)
	}

	off := (addr & pageMask) / 4
	word := p[off]

	switch size {
	case Byte:
		if !privileged {
			m.checkWatchpoints(addr, 1, true)
		}
		shift := (addr & 3) * 8
		word = (word &^ (0xff << shift)) | ((data & 0xff) << shift)
	case Half:
		if !privileged {
			m.checkWatchpoints(addr, 2, true)
		}
		if addr&3 == 2 {
			word = (word & 0x0000ffff) | ((data & 0xffff) << 16)
		} else {
			word = (word & 0xffff0000) | (data & 0xffff)
		}
	case Word:
		if !privileged {
			m.checkWatchpoints(addr, 4, true)
		}
		word = data
	default:
		panic(fmt.Sprintf("memory: invalid access size %d", size))
	}

	p[off] = word
	return true
}

// ReadByte is a convenience wrapper over Read for non-privileged byte access,
// matching the shape of the guest-facing read path used throughout the ecall
// handler.
func (m *Memory) ReadByte(addr uint32) (uint8, bool) {
	v, ok := m.Read(addr, Byte, false)
	return uint8(v), ok
}

// WriteByte is the write counterpart of ReadByte.
func (m *Memory) WriteByte(addr uint32, b uint8) bool {
	return m.Write(addr, Byte, uint32(b), false)
}
