/*
 * r0vm - Operator console: commands to load, run and inspect one guest
 * simulator interactively.
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

// Package console implements the operator's interactive REPL: load an ELF
// guest image, run or single-step it, inspect registers and memory, and
// start the GDB remote debug server on demand.
package console

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rv32zk/r0vm/internal/cpu"
	"github.com/rv32zk/r0vm/internal/gdbstub"
	"github.com/rv32zk/r0vm/internal/loader"
	"github.com/rv32zk/r0vm/internal/memory"
	"github.com/rv32zk/r0vm/util/hex"
)

// Console holds the one guest simulator an operator session drives.
type Console struct {
	sim       *cpu.Simulator
	elf       []byte
	gdbServer *gdbstub.Server
}

// New returns an empty console with no guest image loaded yet.
func New() *Console {
	return &Console{}
}

// Simulator returns the currently loaded guest simulator, or nil if no
// image has been loaded.
func (c *Console) Simulator() *cpu.Simulator {
	return c.sim
}

// ELF returns the raw bytes of the most recently loaded guest image.
func (c *Console) ELF() []byte {
	return c.elf
}

type cmd struct {
	name    string
	min     int
	process func(*Console, *cmdLine) (bool, error)
}

var cmdList = []cmd{
	{name: "load", min: 1, process: (*Console).cmdLoad},
	{name: "continue", min: 1, process: (*Console).cmdRun},
	{name: "step", min: 2, process: (*Console).cmdStep},
	{name: "regs", min: 2, process: (*Console).cmdRegisters},
	{name: "mem", min: 3, process: (*Console).cmdMemory},
	{name: "cycles", min: 2, process: (*Console).cmdCycles},
	{name: "segments", min: 2, process: (*Console).cmdSegments},
	{name: "break", min: 3, process: (*Console).cmdBreak},
	{name: "gdb", min: 3, process: (*Console).cmdGdb},
	{name: "quit", min: 1, process: (*Console).cmdQuit},
	{name: "help", min: 1, process: (*Console).cmdHelp},
}

func matchCommand(c cmd, name string) bool {
	if len(name) < c.min || len(name) > len(c.name) {
		return false
	}
	return c.name[:len(name)] == name
}

func matchList(name string) []cmd {
	var matches []cmd
	for _, c := range cmdList {
		if matchCommand(c, name) {
			matches = append(matches, c)
		}
	}
	return matches
}

// ProcessCommand parses and executes one command line. The bool return is
// true when the operator asked to quit the console.
func (c *Console) ProcessCommand(commandLine string) (bool, error) {
	line := &cmdLine{line: commandLine}
	name := line.getWord()
	if name == "" {
		return false, nil
	}

	matches := matchList(name)
	switch len(matches) {
	case 0:
		return false, fmt.Errorf("unknown command: %s", name)
	case 1:
		// Hold the session lock for the duration of this one command so the
		// GDB event loop never mutates the simulator mid-command.
		if c.sim != nil {
			c.sim.Lock()
			defer c.sim.Unlock()
		}
		return matches[0].process(c, line)
	default:
		return false, fmt.Errorf("ambiguous command: %s", name)
	}
}

// CompleteCmd lists every command name whose prefix matches the word typed
// so far, for liner's tab-completion hook.
func CompleteCmd(commandLine string) []string {
	line := &cmdLine{line: commandLine}
	name := line.getWord()
	var names []string
	for _, c := range matchList(name) {
		names = append(names, c.name)
	}
	return names
}

func (c *Console) cmdLoad(line *cmdLine) (bool, error) {
	path := line.getWord()
	if path == "" {
		return false, errors.New("usage: load <elf-path>")
	}
	image, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("cannot read %s: %w", path, err)
	}

	mem := memory.New()
	entry, err := loader.Load(mem, image)
	if err != nil {
		return false, fmt.Errorf("cannot load %s: %w", path, err)
	}
	c.sim = cpu.New(mem, entry)
	c.elf = image
	fmt.Printf("loaded %s, entry %#08x\n", path, entry)
	return false, nil
}

func (c *Console) cmdRun(_ *cmdLine) (bool, error) {
	if c.sim == nil {
		return false, errors.New("no guest image loaded")
	}
	for {
		exit, err := c.sim.Step()
		if err != nil {
			return false, err
		}
		if exit != nil {
			reportExit(exit)
			return false, nil
		}
	}
}

func (c *Console) cmdStep(line *cmdLine) (bool, error) {
	if c.sim == nil {
		return false, errors.New("no guest image loaded")
	}
	count := 1
	if w := line.getWord(); w != "" {
		n, err := strconv.Atoi(w)
		if err != nil {
			return false, fmt.Errorf("invalid step count %q: %w", w, err)
		}
		count = n
	}
	for i := 0; i < count; i++ {
		exit, err := c.sim.Step()
		if err != nil {
			return false, err
		}
		if exit != nil {
			reportExit(exit)
			return false, nil
		}
	}
	fmt.Printf("pc=%#08x\n", c.sim.Hart.PC)
	return false, nil
}

func reportExit(exit *cpu.ExitCode) {
	switch exit.Reason {
	case cpu.ExitHalted:
		fmt.Printf("halted, exit code %d\n", exit.Code)
	case cpu.ExitPaused:
		fmt.Printf("paused, code %d\n", exit.Code)
	case cpu.ExitWatchpoint:
		fmt.Printf("watchpoint hit at %#08x\n", exit.WatchPC)
	}
}

func (c *Console) cmdRegisters(_ *cmdLine) (bool, error) {
	if c.sim == nil {
		return false, errors.New("no guest image loaded")
	}
	for row := 0; row < 32; row += 4 {
		var str strings.Builder
		regs := make([]uint32, 4)
		for i := range regs {
			regs[i] = c.sim.Hart.Reg(row + i)
		}
		fmt.Printf("x%-2d-x%-2d: ", row, row+3)
		hex.FormatWord(&str, regs)
		fmt.Println(str.String())
	}
	var pc strings.Builder
	hex.FormatWord(&pc, []uint32{c.sim.Hart.PC})
	fmt.Printf("pc     : %s\n", pc.String())
	return false, nil
}

func (c *Console) cmdMemory(line *cmdLine) (bool, error) {
	if c.sim == nil {
		return false, errors.New("no guest image loaded")
	}
	addrStr := line.getWord()
	lenStr := line.getWord()
	addr, err := strconv.ParseUint(addrStr, 0, 32)
	if err != nil {
		return false, fmt.Errorf("invalid address %q: %w", addrStr, err)
	}
	length := uint64(16)
	if lenStr != "" {
		length, err = strconv.ParseUint(lenStr, 0, 32)
		if err != nil {
			return false, fmt.Errorf("invalid length %q: %w", lenStr, err)
		}
	}
	for i := uint64(0); i < length; i += 4 {
		v, ok := c.sim.Mem.Read(uint32(addr)+uint32(i), memory.Word, true)
		if !ok {
			return false, fmt.Errorf("address %#08x is out of bounds", uint32(addr)+uint32(i))
		}
		raw := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
		var bytes strings.Builder
		hex.FormatBytes(&bytes, true, raw)
		fmt.Printf("%#08x: %#08x  %s\n", uint32(addr)+uint32(i), v, bytes.String())
	}
	return false, nil
}

func (c *Console) cmdCycles(_ *cmdLine) (bool, error) {
	if c.sim == nil {
		return false, errors.New("no guest image loaded")
	}
	fmt.Printf("session cycle count: %d\n", c.sim.Cycle.SessionCycle())
	return false, nil
}

func (c *Console) cmdSegments(_ *cmdLine) (bool, error) {
	if c.sim == nil {
		return false, errors.New("no guest image loaded")
	}
	fmt.Printf("segments rolled over: %d\n", c.sim.Cycle.NumSegment())
	return false, nil
}

func (c *Console) cmdBreak(line *cmdLine) (bool, error) {
	if c.sim == nil {
		return false, errors.New("no guest image loaded")
	}
	addrStr := line.getWord()
	addr, err := strconv.ParseUint(addrStr, 0, 32)
	if err != nil {
		return false, fmt.Errorf("invalid address %q: %w", addrStr, err)
	}
	c.sim.Mem.AddWatchpoint(uint32(addr), 4, memory.WatchAccess)
	fmt.Printf("watchpoint set at %#08x\n", addr)
	return false, nil
}

func (c *Console) cmdGdb(line *cmdLine) (bool, error) {
	if c.sim == nil {
		return false, errors.New("no guest image loaded")
	}
	port := line.getWord()
	if port == "" {
		port = "9000"
	}
	server, err := gdbstub.Start(port, c.sim, c.elf)
	if err != nil {
		return false, err
	}
	c.gdbServer = server
	fmt.Printf("gdb remote debug server listening on port %s\n", port)
	return false, nil
}

func (c *Console) cmdQuit(_ *cmdLine) (bool, error) {
	if c.gdbServer != nil {
		c.gdbServer.Stop()
	}
	return true, nil
}

func (c *Console) cmdHelp(_ *cmdLine) (bool, error) {
	fmt.Println("commands: load <path>, continue, step [n], regs, mem <addr> [len], cycles, segments, break <addr>, gdb [port], quit")
	return false, nil
}
