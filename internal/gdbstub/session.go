/*
 * r0vm - GDB stub per-connection session loop.
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
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/rv32zk/r0vm/internal/cpu"
)

// connPeeker adapts a net.Conn into the peeker interface run() needs to
// detect incoming debugger bytes without blocking the stepper: it probes the
// socket with a near-zero read deadline, the same trick
// gdbstub::conn::Connection::peek uses over a blocking stream.
type connPeeker struct {
	r *bufio.Reader
	c net.Conn
}

func (p *connPeeker) Peek() bool {
	p.c.SetReadDeadline(time.Now())
	_, err := p.r.Peek(1)
	p.c.SetReadDeadline(time.Time{})
	return err == nil
}

// runSession drives one GDB connection end to end: packet read, dispatch,
// reply, and the Step/Continue/RangeStep run loop in between. It returns
// once the client disconnects, kills the session, or the connection errors.
func runSession(conn net.Conn, sim *cpu.Simulator, elf []byte) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	pr := newPacketReader(r, conn)
	s := &session{t: newTarget(sim, elf)}
	peek := &connPeeker{r: r, c: conn}

	slog.Info("gdb debugger attached")

	for {
		pkt, err := pr.ReadPacket()
		if err == errCtrlC {
			s.t.mode = modeInterrupted
			if stopped := s.driveToStop(peek, r, conn); stopped {
				continue
			}
			return
		}
		if err != nil {
			slog.Info(fmt.Sprintf("gdb connection closed: %v", err))
			return
		}
		pr.noAck = s.noAck

		sim.Lock()
		reply, cmdErr := s.dispatch(pkt)
		sim.Unlock()
		if reply == nil && cmdErr == nil && !isResumePacket(pkt) {
			// Unsupported packet: answer with an empty reply.
			reply = []byte{}
		}
		if reply != nil {
			if err := sendPacket(conn, r, s.noAck, reply); err != nil {
				return
			}
		}
		if cmdErr == errDisconnect || cmdErr == errKill {
			return
		}

		// 'c'/'C'/'s'/'S' one-letter resume packets and vCont actions leave
		// no reply queued above; drive the target until the next stop.
		if isResumePacket(pkt) {
			if !s.driveToStop(peek, r, conn) {
				return
			}
		}
	}
}

func isResumePacket(pkt []byte) bool {
	if len(pkt) == 0 {
		return false
	}
	switch pkt[0] {
	case 'c', 'C', 's', 'S':
		return true
	case 'v':
		return len(pkt) > 5 && string(pkt[1:6]) == "Cont;"
	default:
		return false
	}
}

// driveToStop runs the target until it reports a stop reason or new
// incoming data preempts it, sends the stop-reply packet, and reports
// whether the session should keep reading packets (false means the
// connection died mid-resume).
func (s *session) driveToStop(peek *connPeeker, r *bufio.Reader, conn net.Conn) bool {
	ev, hadStop := s.t.run(peek)
	if !hadStop {
		// incoming data arrived; let the outer loop read and handle it.
		return true
	}
	reply := stopReply(ev)
	if err := sendPacket(conn, r, s.noAck, reply); err != nil {
		return false
	}
	return true
}

func stopReply(ev stopEvent) []byte {
	switch ev.reason {
	case stopSwBreak:
		return []byte("T05swbreak:;")
	case stopDoneStep:
		return []byte("S05")
	case stopExited:
		return []byte(fmt.Sprintf("W%02x", ev.code))
	case stopTerminated:
		return []byte("X06")
	case stopWatch:
		kind := "watch"
		switch ev.watch {
		case 0:
			kind = "watch"
		case 1:
			kind = "rwatch"
		case 2:
			kind = "awatch"
		}
		return []byte(fmt.Sprintf("T05%s:%08x;", kind, ev.addr))
	case stopSignal:
		return []byte("S02")
	default:
		return []byte("S05")
	}
}
