package gdbstub

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/rv32zk/r0vm/internal/cpu"
	"github.com/rv32zk/r0vm/internal/memory"
)

func TestChecksumAndFrame(t *testing.T) {
	payload := []byte("OK")
	sum := checksum(payload)
	if sum != 'O'+'K' {
		t.Errorf("checksum = %d, want %d", sum, 'O'+'K')
	}
	framed := frame(payload)
	if framed[0] != '$' || framed[len(framed)-3] != '#' {
		t.Errorf("frame() = %q, missing delimiters", framed)
	}
}

type bufConn struct {
	bytes.Buffer
}

func TestPacketReaderRoundTrip(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(frame([]byte("qSupported")))

	var out bufConn
	pr := newPacketReader(bufio.NewReader(&wire), &out)
	payload, err := pr.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != "qSupported" {
		t.Errorf("payload = %q, want qSupported", payload)
	}
	if out.String() != "+" {
		t.Errorf("ack = %q, want +", out.String())
	}
}

func TestPacketReaderRejectsBadChecksum(t *testing.T) {
	var wire bytes.Buffer
	wire.Write([]byte("$OK#00")) // wrong checksum
	wire.Write(frame([]byte("OK")))

	var out bufConn
	pr := newPacketReader(bufio.NewReader(&wire), &out)
	payload, err := pr.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != "OK" {
		t.Errorf("payload = %q, want OK (after one nak)", payload)
	}
	if out.String() != "-+" {
		t.Errorf("acks = %q, want -+", out.String())
	}
}

func newTestSession() *session {
	mem := memory.New()
	sim := cpu.New(mem, memory.GuestMin)
	return &session{t: newTarget(sim, []byte("elfbytes"))}
}

func TestDispatchQuestionMark(t *testing.T) {
	s := newTestSession()
	reply, err := s.dispatch([]byte("?"))
	if err != nil || string(reply) != "S05" {
		t.Errorf("dispatch(?) = %q, %v", reply, err)
	}
}

func TestDispatchRegistersRoundTrip(t *testing.T) {
	s := newTestSession()
	s.t.sim.Hart.SetReg(1, 0xdeadbeef)
	s.t.sim.Hart.PC = 0x1000

	g, err := s.dispatch([]byte("g"))
	if err != nil {
		t.Fatal(err)
	}

	writeBack := append([]byte("G"), g...)
	s.t.sim.Hart.SetReg(1, 0)
	s.t.sim.Hart.PC = 0
	reply, err := s.dispatch(writeBack)
	if err != nil || string(reply) != "OK" {
		t.Fatalf("dispatch(G) = %q, %v", reply, err)
	}
	if s.t.sim.Hart.Reg(1) != 0xdeadbeef || s.t.sim.Hart.PC != 0x1000 {
		t.Errorf("registers not restored: x1=%#x pc=%#x", s.t.sim.Hart.Reg(1), s.t.sim.Hart.PC)
	}
}

func TestDispatchMemoryReadWrite(t *testing.T) {
	s := newTestSession()
	addr := memory.GuestMin + 0x20

	write := []byte("M" + hexAddr(addr) + ",4:deadbeef")
	reply, err := s.dispatch(write)
	if err != nil || string(reply) != "OK" {
		t.Fatalf("dispatch(M) = %q, %v", reply, err)
	}

	read := []byte("m" + hexAddr(addr) + ",4")
	reply, err = s.dispatch(read)
	if err != nil {
		t.Fatal(err)
	}
	if string(reply) != "deadbeef" {
		t.Errorf("dispatch(m) = %q, want deadbeef", reply)
	}
}

func hexAddr(a uint32) string {
	const digits = "0123456789abcdef"
	b := make([]byte, 0, 8)
	started := false
	for shift := 28; shift >= 0; shift -= 4 {
		d := (a >> uint(shift)) & 0xf
		if d != 0 || started || shift == 0 {
			b = append(b, digits[d])
			started = true
		}
	}
	return string(b)
}

func TestDispatchBreakpoints(t *testing.T) {
	s := newTestSession()
	addr := memory.GuestMin + 0x10

	reply, err := s.dispatch([]byte("Z0," + hexAddr(addr) + ",4"))
	if err != nil || string(reply) != "OK" {
		t.Fatalf("dispatch(Z0) = %q, %v", reply, err)
	}
	if _, ok := s.t.breakpoints[addr]; !ok {
		t.Errorf("breakpoint at %#x was not installed", addr)
	}

	reply, err = s.dispatch([]byte("z0," + hexAddr(addr) + ",4"))
	if err != nil || string(reply) != "OK" {
		t.Fatalf("dispatch(z0) = %q, %v", reply, err)
	}
	if _, ok := s.t.breakpoints[addr]; ok {
		t.Errorf("breakpoint at %#x was not removed", addr)
	}
}

func TestDispatchWatchpoint(t *testing.T) {
	s := newTestSession()
	addr := memory.GuestMin + 0x10

	reply, err := s.dispatch([]byte("Z2," + hexAddr(addr) + ",4"))
	if err != nil || string(reply) != "OK" {
		t.Fatalf("dispatch(Z2) = %q, %v", reply, err)
	}
	if !s.t.sim.Mem.RemoveWatchpoint(addr, 4, memory.WatchWrite) {
		t.Errorf("write watchpoint at %#x was not installed", addr)
	}
}

func TestQSupportedAdvertisesFeatures(t *testing.T) {
	s := newTestSession()
	reply, err := s.dispatch([]byte("qSupported:multiprocess+"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(reply), "QStartNoAckMode+") {
		t.Errorf("qSupported reply = %q, missing QStartNoAckMode", reply)
	}
}

func TestStartNoAckMode(t *testing.T) {
	s := newTestSession()
	reply, err := s.dispatch([]byte("QStartNoAckMode"))
	if err != nil || string(reply) != "OK" {
		t.Fatalf("dispatch(QStartNoAckMode) = %q, %v", reply, err)
	}
	if !s.noAck {
		t.Errorf("noAck was not set")
	}
}

func TestTargetRunStepsUntilHalt(t *testing.T) {
	mem := memory.New()
	sim := cpu.New(mem, memory.GuestMin)
	sim.Hart.SetReg(5, cpu.EcallHalt) // t0
	sim.Hart.SetReg(10, 0)            // a0: terminate, exit 0
	mem.Write(memory.GuestMin, memory.Word, 0x00000073, true)

	tg := newTarget(sim, nil)
	tg.mode = modeContinue
	ev, hadStop := tg.run(&alwaysEmptyPeeker{})
	if !hadStop {
		t.Fatal("expected a stop event")
	}
	if ev.reason != stopExited {
		t.Errorf("reason = %v, want stopExited", ev.reason)
	}
}

type alwaysEmptyPeeker struct{}

func (alwaysEmptyPeeker) Peek() bool { return false }
