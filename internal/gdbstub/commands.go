/*
 * r0vm - GDB remote serial protocol command dispatch.
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

package gdbstub

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rv32zk/r0vm/internal/memory"
	"github.com/rv32zk/r0vm/internal/serializer"
)

// execFileName is reported to qXfer:exec-file:read and host-I/O open/pread
// so `info proc exe`-style introspection finds something plausible.
const execFileName = "/r0code.elf"

// errDisconnect and errKill are sentinel errors a command handler returns to
// ask the session loop to close the connection (a 'D' or 'k' packet).
var errDisconnect = fmt.Errorf("gdbstub: client requested disconnect")
var errKill = fmt.Errorf("gdbstub: client requested kill")

// session carries per-connection state the command handlers need beyond the
// target itself: no-ack mode and the currently open host-I/O file handle.
type session struct {
	t          *target
	noAck      bool
	hostIoOpen bool
}

// dispatch handles one complete packet payload and returns the raw reply
// payload to send back (without framing), or nil when the packet has no reply
// of its own: resume packets (the caller's run loop sends the stop reply
// instead), 'k', and packets this stub does not support (runSession answers
// those with an empty reply).
func (s *session) dispatch(pkt []byte) ([]byte, error) {
	if len(pkt) == 0 {
		return nil, nil
	}
	switch pkt[0] {
	case '?':
		return []byte("S05"), nil
	case 'g':
		return s.cmdReadRegisters(), nil
	case 'G':
		return s.cmdWriteRegisters(pkt[1:]), nil
	case 'p':
		return s.cmdReadRegister(pkt[1:]), nil
	case 'P':
		return s.cmdWriteRegister(pkt[1:]), nil
	case 'm':
		return s.cmdReadMemory(pkt[1:]), nil
	case 'M':
		return s.cmdWriteMemory(pkt[1:]), nil
	case 'Z':
		return s.cmdInsertBreak(pkt[1:]), nil
	case 'z':
		return s.cmdRemoveBreak(pkt[1:]), nil
	case 'q':
		return s.cmdQuery(pkt[1:]), nil
	case 'Q':
		return s.cmdSet(pkt[1:]), nil
	case 'H':
		return []byte("OK"), nil
	case 'D':
		return []byte("OK"), errDisconnect
	case 'k':
		return nil, errKill
	case 'c', 'C':
		s.t.mode = modeContinue
		return nil, nil
	case 's', 'S':
		s.t.mode = modeStep
		return nil, nil
	case 'v':
		return s.cmdMultiLetter(pkt[1:]), nil
	default:
		return nil, nil // unsupported packet: runSession sends an empty reply
	}
}

func (s *session) cmdReadRegisters() []byte {
	var r serializer.RegisterSet
	for i := 0; i < 32; i++ {
		r.GPR[i] = s.t.sim.Hart.Reg(i)
	}
	r.PC = s.t.sim.Hart.PC
	return []byte(r.Encode())
}

func (s *session) cmdWriteRegisters(payload []byte) []byte {
	r, err := serializer.Decode(string(payload))
	if err != nil {
		return []byte("E01")
	}
	for i := 0; i < 32; i++ {
		s.t.sim.Hart.SetReg(i, r.GPR[i])
	}
	s.t.sim.Hart.PC = r.PC
	return []byte("OK")
}

func (s *session) cmdReadRegister(payload []byte) []byte {
	n, err := strconv.ParseUint(string(payload), 16, 32)
	if err != nil {
		return []byte("E01")
	}
	var v uint32
	switch {
	case n < 32:
		v = s.t.sim.Hart.Reg(int(n))
	case n == 32:
		v = s.t.sim.Hart.PC
	default:
		return []byte("E01")
	}
	return []byte(serializer.EncodeWordsLE([]uint32{v}))
}

func (s *session) cmdWriteRegister(payload []byte) []byte {
	parts := strings.SplitN(string(payload), "=", 2)
	if len(parts) != 2 {
		return []byte("E01")
	}
	n, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return []byte("E01")
	}
	words, err := serializer.DecodeWordsLE(parts[1])
	if err != nil || len(words) != 1 {
		return []byte("E01")
	}
	switch {
	case n < 32:
		s.t.sim.Hart.SetReg(int(n), words[0])
	case n == 32:
		s.t.sim.Hart.PC = words[0]
	default:
		return []byte("E01")
	}
	return []byte("OK")
}

// parseAddrLength parses the "addr,length" form common to m/M/Z/z.
func parseAddrLength(s string) (addr, length uint32, ok bool) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	a, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, 0, false
	}
	l, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint32(a), uint32(l), true
}

func (s *session) cmdReadMemory(payload []byte) []byte {
	addr, length, ok := parseAddrLength(string(payload))
	if !ok {
		return []byte("E01")
	}
	data := make([]byte, 0, length)
	for i := uint32(0); i < length; i++ {
		v, ok := s.t.sim.Mem.Read(addr+i, memory.Byte, true)
		if !ok {
			return []byte("E01")
		}
		data = append(data, byte(v))
	}
	return []byte(serializer.EncodeMemory(data))
}

func (s *session) cmdWriteMemory(payload []byte) []byte {
	parts := strings.SplitN(string(payload), ":", 2)
	if len(parts) != 2 {
		return []byte("E01")
	}
	addr, length, ok := parseAddrLength(parts[0])
	if !ok {
		return []byte("E01")
	}
	data, err := serializer.DecodeMemory(parts[1])
	if err != nil || uint32(len(data)) != length {
		return []byte("E01")
	}
	for i, b := range data {
		if !s.t.sim.Mem.Write(addr+uint32(i), memory.Byte, uint32(b), true) {
			return []byte("E01")
		}
	}
	return []byte("OK")
}

// breakpoint kind 0 is software; 2/3/4 map to the GDB watch-kind convention
// (write/read/access) that memory.WatchKind already mirrors.
func (s *session) cmdInsertBreak(payload []byte) []byte {
	parts := strings.SplitN(string(payload), ",", 3)
	if len(parts) < 2 {
		return []byte("E01")
	}
	kind, err := strconv.ParseUint(parts[0], 16, 8)
	if err != nil {
		return []byte("E01")
	}
	addr, _, ok := parseAddrLength(parts[1] + ",0")
	if !ok {
		return []byte("E01")
	}
	if kind == 0 {
		s.t.breakpoints[addr] = struct{}{}
		return []byte("OK")
	}
	length := uint32(0)
	if len(parts) == 3 {
		if l, err := strconv.ParseUint(parts[2], 16, 32); err == nil {
			length = uint32(l)
		}
	}
	wk, ok := watchKindFromGDB(kind)
	if !ok {
		return nil
	}
	s.t.sim.Mem.AddWatchpoint(addr, length, wk)
	return []byte("OK")
}

func (s *session) cmdRemoveBreak(payload []byte) []byte {
	parts := strings.SplitN(string(payload), ",", 3)
	if len(parts) < 2 {
		return []byte("E01")
	}
	kind, err := strconv.ParseUint(parts[0], 16, 8)
	if err != nil {
		return []byte("E01")
	}
	addr, _, ok := parseAddrLength(parts[1] + ",0")
	if !ok {
		return []byte("E01")
	}
	if kind == 0 {
		delete(s.t.breakpoints, addr)
		return []byte("OK")
	}
	length := uint32(0)
	if len(parts) == 3 {
		if l, err := strconv.ParseUint(parts[2], 16, 32); err == nil {
			length = uint32(l)
		}
	}
	wk, ok := watchKindFromGDB(kind)
	if !ok {
		return nil
	}
	s.t.sim.Mem.RemoveWatchpoint(addr, length, wk)
	return []byte("OK")
}

func watchKindFromGDB(kind uint64) (memory.WatchKind, bool) {
	switch kind {
	case 2:
		return memory.WatchWrite, true
	case 3:
		return memory.WatchRead, true
	case 4:
		return memory.WatchAccess, true
	default:
		return 0, false
	}
}

func (s *session) cmdQuery(payload []byte) []byte {
	q := string(payload)
	switch {
	case strings.HasPrefix(q, "Supported"):
		return []byte("PacketSize=4000;swbreak+;hwbreak+;qXfer:exec-file:read+;QStartNoAckMode+;vContSupported+")
	case q == "Attached":
		return []byte("1")
	case q == "C":
		return []byte("QC0")
	case q == "fThreadInfo":
		return []byte("m0")
	case q == "sThreadInfo":
		return []byte("l")
	case q == "Symbol::":
		return []byte("OK")
	case strings.HasPrefix(q, "Rcmd,"):
		return s.cmdMonitor(q[len("Rcmd,"):])
	case strings.HasPrefix(q, "Xfer:exec-file:read:"):
		return s.cmdXferExecFile(q[len("Xfer:exec-file:read:"):])
	default:
		return nil
	}
}

func (s *session) cmdSet(payload []byte) []byte {
	q := string(payload)
	switch {
	case q == "StartNoAckMode":
		s.noAck = true
		return []byte("OK")
	default:
		return nil
	}
}

// cmdMonitor implements "monitor" commands sent through qRcmd: the payload
// is the command text, hex-encoded. Only "monitor cycles" is recognized,
// reporting the session's accumulated cycle count; anything else is echoed
// back as an error message so `monitor help` style typos are visible.
func (s *session) cmdMonitor(hexCmd string) []byte {
	raw, err := hexDecodeASCII(hexCmd)
	if err != nil {
		return []byte("E01")
	}
	cmd := strings.TrimSpace(string(raw))
	var reply string
	switch cmd {
	case "cycles":
		reply = fmt.Sprintf("session cycle count: %d\n", s.t.sim.SessionCycle())
	default:
		reply = fmt.Sprintf("unknown monitor command %q\n", cmd)
	}
	return []byte(hexEncodeASCII([]byte(reply)))
}

func (s *session) cmdXferExecFile(rest string) []byte {
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return []byte("E01")
	}
	offLen := strings.SplitN(parts[1], ",", 2)
	if len(offLen) != 2 {
		return []byte("E01")
	}
	offset, err1 := strconv.ParseUint(offLen[0], 16, 32)
	length, err2 := strconv.ParseUint(offLen[1], 16, 32)
	if err1 != nil || err2 != nil {
		return []byte("E01")
	}
	buf := make([]byte, length)
	n := serializer.CopyRangeToBuf([]byte(execFileName), int(offset), int(length), buf)
	if n == 0 && int(offset) >= len(execFileName) {
		return []byte("l")
	}
	return append([]byte("m"), buf[:n]...)
}

func hexDecodeASCII(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		out[i] = unhex(s[i*2])<<4 | unhex(s[i*2+1])
	}
	return out, nil
}

func hexEncodeASCII(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		sb.WriteByte(hexDigit(c >> 4))
		sb.WriteByte(hexDigit(c & 0xf))
	}
	return sb.String()
}

// cmdMultiLetter handles the "v"-prefixed packets: vCont, vCont?, vFile.
func (s *session) cmdMultiLetter(payload []byte) []byte {
	q := string(payload)
	switch {
	case q == "Cont?":
		return []byte("vCont;c;C;s;S;r")
	case strings.HasPrefix(q, "Cont;"):
		return s.cmdVCont(q[len("Cont;"):])
	case strings.HasPrefix(q, "File:"):
		return s.cmdVFile(q[len("File:"):])
	default:
		return nil
	}
}

// cmdVCont sets the execution mode for the next run loop iteration; it does
// not itself produce an immediate reply (the caller sends the eventual stop
// reason once resumption completes), so it returns nil and flags the mode
// change via t.mode directly.
func (s *session) cmdVCont(actionStr string) []byte {
	actions := strings.Split(actionStr, ";")
	if len(actions) == 0 {
		return []byte("E01")
	}
	action := actions[0]
	switch {
	case strings.HasPrefix(action, "c"), strings.HasPrefix(action, "C"):
		s.t.mode = modeContinue
	case strings.HasPrefix(action, "s"), strings.HasPrefix(action, "S"):
		s.t.mode = modeStep
	case strings.HasPrefix(action, "r"):
		bounds := strings.SplitN(action[1:], ",", 2)
		if len(bounds) != 2 {
			return []byte("E01")
		}
		start, err1 := strconv.ParseUint(bounds[0], 16, 32)
		end, err2 := strconv.ParseUint(bounds[1], 16, 32)
		if err1 != nil || err2 != nil {
			return []byte("E01")
		}
		s.t.mode = modeRangeStep
		s.t.rangeStart = uint32(start)
		s.t.rangeEnd = uint32(end)
	default:
		return []byte("E01")
	}
	return nil
}

// cmdVFile implements the handful of host-I/O sub-commands GDB issues to
// read back the loaded ELF for "info proc" style introspection: only the
// well-known exec file name is servable.
func (s *session) cmdVFile(rest string) []byte {
	switch {
	case strings.HasPrefix(rest, "setfs:"):
		return []byte("F0")
	case strings.HasPrefix(rest, "open:"):
		parts := strings.SplitN(rest[len("open:"):], ",", 3)
		if len(parts) < 1 {
			return []byte("F-1,1")
		}
		name, err := hexDecodeASCII(parts[0])
		if err != nil || string(name) != execFileName {
			return []byte("F-1,2")
		}
		s.hostIoOpen = true
		return []byte("F0")
	case strings.HasPrefix(rest, "pread:"):
		parts := strings.SplitN(rest[len("pread:"):], ",", 3)
		if len(parts) != 3 || !s.hostIoOpen {
			return []byte("F-1,9")
		}
		count, err1 := strconv.ParseUint(parts[1], 16, 32)
		offset, err2 := strconv.ParseUint(parts[2], 16, 32)
		if err1 != nil || err2 != nil {
			return []byte("F-1,1")
		}
		buf := make([]byte, count)
		n := serializer.CopyRangeToBuf(s.t.elf, int(offset), int(count), buf)
		return append([]byte(fmt.Sprintf("F%x;", n)), buf[:n]...)
	case strings.HasPrefix(rest, "fstat:"):
		if !s.hostIoOpen {
			return []byte("F-1,9")
		}
		return []byte(fmt.Sprintf("F%x;", len(s.t.elf)))
	case strings.HasPrefix(rest, "close:"):
		s.hostIoOpen = false
		return []byte("F0")
	case strings.HasPrefix(rest, "readlink:"):
		name, err := hexDecodeASCII(rest[len("readlink:"):])
		if err != nil {
			return []byte("F-1,1")
		}
		var target []byte
		switch string(name) {
		case "/proc/1/exe":
			target = []byte(execFileName)
		case "/proc/1/cwd":
			target = []byte("/")
		default:
			return []byte("F-1,2")
		}
		return append([]byte(fmt.Sprintf("F%x;", len(target))), target...)
	default:
		return []byte("F-1,1")
	}
}
