/*
 * r0vm - GDB stub server: a single TCP listener accepting one debugger
 * connection at a time.
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
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rv32zk/r0vm/internal/cpu"
)

// Server listens for a single GDB remote connection on one TCP port and
// drives sessions against sim until Stop is called.
type Server struct {
	wg          sync.WaitGroup
	listener    net.Listener
	shutdown    chan struct{}
	stopOnce    sync.Once
	sessionDone chan struct{}
	sim         *cpu.Simulator
	elf         []byte
}

// Start opens a listener on port and begins accepting connections in the
// background. Each accepted connection runs its own session sequentially;
// a guest program only makes sense to debug from one GDB client at a time.
func Start(port string, sim *cpu.Simulator, elf []byte) (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:"+port)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %s: %w", port, err)
	}
	s := &Server{
		listener:    listener,
		shutdown:    make(chan struct{}),
		sessionDone: make(chan struct{}, 1),
		sim:         sim,
		elf:         elf,
	}
	slog.Info("gdb remote debug server started on " + listener.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections()
	return s, nil
}

// SessionDone reports, once per completed GDB connection, that a debugger
// attached and then detached or disconnected. The top-level driver selects
// on this alongside the operator console to decide when to stop waiting on
// either front end and resume headless.
func (s *Server) SessionDone() <-chan struct{} {
	return s.sessionDone
}

// Stop closes the listener and waits (up to one second) for the in-flight
// session to finish. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.shutdown)
		s.listener.Close()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			slog.Warn("timed out waiting for the gdb session to finish")
		}
	})
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdown:
			return
		default:
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.shutdown:
					return
				default:
					continue
				}
			}
			runSession(conn, s.sim, s.elf)
			select {
			case s.sessionDone <- struct{}{}:
			default:
			}
		}
	}
}
