/*
 * r0vm - Main process.
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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	"github.com/rv32zk/r0vm/internal/console"
	"github.com/rv32zk/r0vm/internal/cpu"
	"github.com/rv32zk/r0vm/internal/gdbstub"
	"github.com/rv32zk/r0vm/internal/memory"
	logger "github.com/rv32zk/r0vm/util/logger"
)

var Logger *slog.Logger

func main() {
	optElf := getopt.StringLong("elf", 'e', "", "Guest ELF image to load")
	optPort := getopt.StringLong("port", 'p', "9000", "GDB remote debug server listen port")
	optEnv := getopt.StringLong("env", 'E', "", "Guest environment variables, comma-separated KEY=VALUE pairs")
	optStdin := getopt.StringLong("stdin", 'i', "", "File whose contents feed the guest's SYS_READ stream")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if optLogFile != nil && *optLogFile != "" {
		file, _ = os.Create(*optLogFile)
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	debug := false
	Logger = slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel, AddSource: false}, &debug))
	slog.SetDefault(Logger)

	Logger.Info("r0vm started")

	c := console.New()

	if *optElf != "" {
		if err := loadInto(c, *optElf, *optEnv, *optStdin); err != nil {
			Logger.Error(err.Error())
			os.Exit(1)
		}
	}
	if sim := c.Simulator(); sim != nil {
		sim.SetArgs(getopt.Args())
	}

	os.Exit(run(c, *optPort))
}

// run wires F (ELF already loaded into c), starts the GDB transport (H) and
// the operator console (I) concurrently, waits for either to finish, then
// continues stepping the session headless until Halted/Paused/error, drains
// STDOUT/STDERR/JOURNAL, and returns the guest's halt code.
func run(c *console.Console, port string) int {
	sim := c.Simulator()
	if sim == nil {
		sim = cpu.New(memory.New(), memory.GuestMin)
	}

	server, err := gdbstub.Start(port, sim, c.ELF())
	if err != nil {
		Logger.Error(err.Error())
		return 1
	}

	consoleDone := make(chan struct{})
	go func() {
		console.Run(c)
		close(consoleDone)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-consoleDone:
		Logger.Info("operator console exited")
	case <-server.SessionDone():
		Logger.Info("gdb debugger detached")
	case <-sigChan:
		Logger.Info("received shutdown signal")
	}

	server.Stop()

	exit := runHeadless(sim)
	drainOutput(sim)
	return int(exit.Code)
}

// runHeadless steps sim, with nobody else now contending for its lock, until
// it halts, pauses, or faults, returning the terminal exit code.
func runHeadless(sim *cpu.Simulator) *cpu.ExitCode {
	if exit := sim.LastExit(); exit != nil {
		return exit
	}
	for {
		sim.Lock()
		exit, err := sim.Step()
		sim.Unlock()
		if err != nil {
			Logger.Error(err.Error())
			return &cpu.ExitCode{Reason: cpu.ExitHalted, Code: 1}
		}
		if exit != nil && exit.Reason != cpu.ExitWatchpoint {
			return exit
		}
	}
}

func drainOutput(sim *cpu.Simulator) {
	if out := sim.Stdout(); len(out) > 0 {
		os.Stdout.Write(out)
	}
	if errOut := sim.Stderr(); len(errOut) > 0 {
		os.Stderr.Write(errOut)
	}
	if journal := sim.Journal(); len(journal) > 0 {
		fmt.Fprintf(os.Stderr, "journal: %s\n", journal)
	}
}

// loadInto reads the guest ELF image and wires the optional env/stdin
// sources into the console's simulator before any execution starts.
func loadInto(c *console.Console, path, env, stdinPath string) error {
	if _, err := c.ProcessCommand("load " + path); err != nil {
		return err
	}

	sim := c.Simulator()
	if sim == nil {
		return nil
	}
	if env != "" {
		sim.SetEnv(parseEnv(env))
	}
	if stdinPath != "" {
		data, err := os.ReadFile(stdinPath)
		if err != nil {
			return err
		}
		sim.FeedStdin(data)
	}
	return nil
}

func parseEnv(spec string) map[string]string {
	env := make(map[string]string)
	for _, pair := range strings.Split(spec, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			env[kv[0]] = kv[1]
		}
	}
	return env
}
