package syscall

import (
	"encoding/binary"
	"math/big"
	"testing"
)

type fakeCtx struct {
	regs         [32]uint32
	mem          map[uint32]uint8
	env          map[string]string
	args         []string
	cycle        uint32
	stdin        []byte
	stdinPos     int
	stdout       []byte
	stderr       []byte
	journal      []byte
}

func newFakeCtx() *fakeCtx {
	return &fakeCtx{mem: make(map[uint32]uint8), env: make(map[string]string)}
}

func (f *fakeCtx) Reg(r int) uint32          { return f.regs[r] }
func (f *fakeCtx) SetReg(r int, v uint32)    { f.regs[r] = v }
func (f *fakeCtx) SessionCycle() uint32      { return f.cycle }
func (f *fakeCtx) Args() []string            { return f.args }
func (f *fakeCtx) StdinAvail() uint32        { return uint32(len(f.stdin) - f.stdinPos) }

func (f *fakeCtx) ReadGuestByte(addr uint32) (uint8, bool) {
	b, ok := f.mem[addr]
	return b, ok
}

func (f *fakeCtx) WriteGuestByte(addr uint32, b uint8) bool {
	f.mem[addr] = b
	return true
}

func (f *fakeCtx) Getenv(name string) (string, bool) {
	v, ok := f.env[name]
	return v, ok
}

func (f *fakeCtx) StdinRead(p []byte) (int, error) {
	n := copy(p, f.stdin[f.stdinPos:])
	f.stdinPos += n
	return n, nil
}

func (f *fakeCtx) AppendFD(fd uint32, data []byte) error {
	switch fd {
	case FDStdout:
		f.stdout = append(f.stdout, data...)
	case FDStderr:
		f.stderr = append(f.stderr, data...)
	case FDJournal:
		f.journal = append(f.journal, data...)
	default:
		return errGuestWrite("WRITE", fd)
	}
	return nil
}

func (f *fakeCtx) putString(ptr uint32, s string) {
	for i, b := range []byte(s) {
		f.mem[ptr+uint32(i)] = b
	}
	f.mem[ptr+uint32(len(s))] = 0
}

func TestHandleUnknownSyscallIsSilentNoOp(t *testing.T) {
	ctx := newFakeCtx()
	ctx.regs[regA0] = 0xdeadbeef
	_, err := Handle("totally_unknown_name", 0, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.regs[regA0] != 0xdeadbeef {
		t.Errorf("unknown syscall must not touch registers, a0 changed to %#x", ctx.regs[regA0])
	}
}

func TestHandleCycleCount(t *testing.T) {
	ctx := newFakeCtx()
	ctx.cycle = 12345
	_, err := Handle(SysCycleCount, 0, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ctx.regs[regA0] != 12345 {
		t.Errorf("a0 = %d, want 12345", ctx.regs[regA0])
	}
}

func TestHandleGetenvMissing(t *testing.T) {
	ctx := newFakeCtx()
	ctx.putString(0x1000, "MISSING")
	ctx.regs[regA3] = 0x1000
	ctx.regs[regA4] = 7
	_, err := Handle(SysGetenv, 4, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ctx.regs[regA0] != 0xffffffff {
		t.Errorf("a0 = %#x, want 0xffffffff for missing var", ctx.regs[regA0])
	}
}

func TestHandleGetenvFound(t *testing.T) {
	ctx := newFakeCtx()
	ctx.env["FOO"] = "bar"
	ctx.putString(0x1000, "FOO")
	ctx.regs[regA3] = 0x1000
	ctx.regs[regA4] = 3
	words, err := Handle(SysGetenv, 1, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ctx.regs[regA0] != 3 {
		t.Errorf("a0 = %d, want 3 (len of \"bar\")", ctx.regs[regA0])
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, words[0])
	if string(buf[:3]) != "bar" {
		t.Errorf("result word = %q, want \"bar\"", buf[:3])
	}
}

func TestHandlePanicReturnsError(t *testing.T) {
	ctx := newFakeCtx()
	ctx.putString(0x2000, "boom")
	ctx.regs[regA3] = 0x2000
	ctx.regs[regA4] = 4
	if _, err := Handle(SysPanic, 0, ctx); err == nil {
		t.Errorf("expected an error from SYS_PANIC")
	}
}

func TestHandleArgcArgs(t *testing.T) {
	ctx := newFakeCtx()
	ctx.args = []string{"prog", "a", "bb"}
	if _, err := Handle(SysArgc, 0, ctx); err != nil {
		t.Fatal(err)
	}
	if ctx.regs[regA0] != 3 {
		t.Errorf("argc = %d, want 3", ctx.regs[regA0])
	}

	ctx.regs[regA3] = 2
	words, err := Handle(SysArgs, 1, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ctx.regs[regA0] != 2 {
		t.Errorf("arg len = %d, want 2", ctx.regs[regA0])
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, words[0])
	if string(buf[:2]) != "bb" {
		t.Errorf("arg bytes = %q, want \"bb\"", buf[:2])
	}
}

func TestHandleSHAKnownAnswer(t *testing.T) {
	ctx := newFakeCtx()
	// SHA-256 initial constants (FIPS-180-4 section 5.3.3), big-endian.
	initial := [8]uint32{
		0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a,
		0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19,
	}
	const inStatePtr, outStatePtr, block1Ptr, block2Ptr = 0x3000, 0x3100, 0x3200, 0x3300
	for i, w := range initial {
		putBE32Helper(ctx, inStatePtr+uint32(i*4), w)
	}
	// A single 0x80 byte followed by zero padding and a bit-length suffix of
	// 0 encodes the empty-message SHA-256 block.
	block := make([]byte, 64)
	block[0] = 0x80
	for i, b := range block[:32] {
		ctx.mem[block1Ptr+uint32(i)] = b
	}
	for i, b := range block[32:] {
		ctx.mem[block2Ptr+uint32(i)] = b
	}

	if _, err := HandleSHA(ctx, outStatePtr, inStatePtr, block1Ptr, block2Ptr, 1); err != nil {
		t.Fatal(err)
	}

	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	got := ""
	for i := uint32(0); i < 32; i++ {
		got += hexByte(ctx.mem[outStatePtr+i])
	}
	if got != want {
		t.Errorf("sha256(\"\") = %s, want %s", got, want)
	}
}

func putBE32Helper(ctx *fakeCtx, addr uint32, v uint32) {
	ctx.mem[addr] = byte(v >> 24)
	ctx.mem[addr+1] = byte(v >> 16)
	ctx.mem[addr+2] = byte(v >> 8)
	ctx.mem[addr+3] = byte(v)
}

func hexByte(b byte) string {
	const hexDigits = "0123456789abcdef"
	return string([]byte{hexDigits[b>>4], hexDigits[b&0xf]})
}

func TestHandleBigIntPlainMultiply(t *testing.T) {
	ctx := newFakeCtx()
	const zPtr, xPtr, yPtr, nPtr = 0x4000, 0x4100, 0x4200, 0x4300
	putBigIntLEHelper(ctx, xPtr, big.NewInt(6))
	putBigIntLEHelper(ctx, yPtr, big.NewInt(7))
	putBigIntLEHelper(ctx, nPtr, big.NewInt(0))

	if _, err := HandleBigInt(ctx, zPtr, 0, xPtr, yPtr, nPtr); err != nil {
		t.Fatal(err)
	}
	got := loadBigIntLEHelper(ctx, zPtr)
	if got.Cmp(big.NewInt(42)) != 0 {
		t.Errorf("z = %s, want 42", got)
	}
}

func TestHandleBigIntModMultiply(t *testing.T) {
	ctx := newFakeCtx()
	const zPtr, xPtr, yPtr, nPtr = 0x5000, 0x5100, 0x5200, 0x5300
	putBigIntLEHelper(ctx, xPtr, big.NewInt(123456789))
	putBigIntLEHelper(ctx, yPtr, big.NewInt(987654321))
	putBigIntLEHelper(ctx, nPtr, big.NewInt(1000003))

	if _, err := HandleBigInt(ctx, zPtr, 0, xPtr, yPtr, nPtr); err != nil {
		t.Fatal(err)
	}
	got := loadBigIntLEHelper(ctx, zPtr)
	want := new(big.Int).Mul(big.NewInt(123456789), big.NewInt(987654321))
	want.Mod(want, big.NewInt(1000003))
	if got.Cmp(want) != 0 {
		t.Errorf("z = %s, want %s", got, want)
	}
}

func putBigIntLEHelper(ctx *fakeCtx, ptr uint32, v *big.Int) {
	be := v.Bytes()
	buf := make([]byte, bigIntWords*4)
	copy(buf[len(buf)-len(be):], be)
	reverseBytes(buf)
	for i, b := range buf {
		ctx.mem[ptr+uint32(i)] = b
	}
}

func loadBigIntLEHelper(ctx *fakeCtx, ptr uint32) *big.Int {
	buf := make([]byte, bigIntWords*4)
	for i := range buf {
		buf[i] = ctx.mem[ptr+uint32(i)]
	}
	reverseBytes(buf)
	return new(big.Int).SetBytes(buf)
}
