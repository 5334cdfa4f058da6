package memory

import "testing"

func TestReadWriteWord(t *testing.T) {
	m := New()
	addr := GuestMin + 0x100
	if !m.Write(addr, Word, 0xdeadbeef, false) {
		t.Fatalf("write rejected for in-bounds address")
	}
	v, ok := m.Read(addr, Word, false)
	if !ok || v != 0xdeadbeef {
		t.Errorf("got %#x, %v; want 0xdeadbeef, true", v, ok)
	}
}

func TestOutOfBounds(t *testing.T) {
	m := New()
	if _, ok := m.Read(GuestMin-4, Word, false); ok {
		t.Errorf("read below GuestMin should fail")
	}
	if _, ok := m.Read(GuestMax, Word, false); ok {
		t.Errorf("read at GuestMax should fail, window is half-open")
	}
	if m.Write(GuestMax, Word, 1, false) {
		t.Errorf("write at GuestMax should fail, window is half-open")
	}
}

func TestByteHalfPacking(t *testing.T) {
	m := New()
	addr := GuestMin
	m.Write(addr, Word, 0x11223344, false)

	b, _ := m.Read(addr, Byte, false)
	if b != 0x44 {
		t.Errorf("byte 0 = %#x, want 0x44", b)
	}
	b, _ = m.Read(addr+1, Byte, false)
	if b != 0x33 {
		t.Errorf("byte 1 = %#x, want 0x33", b)
	}

	m.WriteByte(addr+3, 0xff)
	v, _ := m.Read(addr, Word, false)
	if v != 0xff223344 {
		t.Errorf("word after byte write = %#x, want 0xff223344", v)
	}

	h, _ := m.Read(addr+2, Half, false)
	if h != 0xff22 {
		t.Errorf("high half = %#x, want 0xff22", h)
	}
}

func TestWatchpointWrite(t *testing.T) {
	m := New()
	addr := GuestMin + 0x400
	m.AddWatchpoint(addr, 4, WatchWrite)

	m.ClearTrigger()
	m.Write(addr, Word, 1, false)
	tr := m.TakeTrigger()
	if tr == nil || tr.Addr != addr || tr.Kind != WatchWrite {
		t.Fatalf("expected write watchpoint to fire at %#x, got %+v", addr, tr)
	}

	// A write just past the watched range [addr, addr+4) does not fire.
	m.Write(addr+4, Word, 1, false)
	if m.TakeTrigger() != nil {
		t.Errorf("a write at %#x, outside the watched range, should not fire", addr+4)
	}
}

func TestWatchpointReadDoesNotMatchWriteOnly(t *testing.T) {
	m := New()
	addr := GuestMin + 0x800
	m.AddWatchpoint(addr, 4, WatchWrite)

	m.ClearTrigger()
	m.Read(addr, Word, false)
	if m.TakeTrigger() != nil {
		t.Errorf("a write-only watchpoint must not fire on reads")
	}
}

type fakeAccountant struct {
	reads, writes []uint32
}

func (f *fakeAccountant) ReadPage(idx uint32)  { f.reads = append(f.reads, idx) }
func (f *fakeAccountant) WritePage(idx uint32) { f.writes = append(f.writes, idx) }

func TestAccountantSkippedWhenPrivileged(t *testing.T) {
	m := New()
	acct := &fakeAccountant{}
	m.SetAccountant(acct)

	addr := GuestMin + 0x40
	m.Write(addr, Word, 1, true)
	m.Read(addr, Word, true)
	if len(acct.reads) != 0 || len(acct.writes) != 0 {
		t.Errorf("privileged accesses must not notify the accountant")
	}

	m.Write(addr, Word, 1, false)
	m.Read(addr, Word, false)
	if len(acct.writes) != 1 || len(acct.reads) != 1 {
		t.Errorf("non-privileged accesses must notify the accountant, got reads=%v writes=%v", acct.reads, acct.writes)
	}
}
