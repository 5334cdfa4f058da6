package cycle

import "testing"

func TestOpcodeCycleKnownForms(t *testing.T) {
	cases := []struct {
		name string
		insn uint32
		want int
	}{
		{"LUI", 0b0110111, 1},
		{"ADDI", 0x00000013, 1},       // opcode OP-IMM, funct3=0
		{"SLLI", 0x00001013, 2},       // funct3=1
		{"ADD", 0x00000033, 1},        // funct3=0 funct7=0
		{"XOR r", 0x00004033, 2},      // funct3=4 funct7=0
		{"MUL", 0x02000033, 1},        // funct3=0 funct7=1
		{"DIV", 0x02004033, 2},        // funct3=4 funct7=1
		{"SYSTEM/ecall", 0x00000073, 1},
	}
	for _, c := range cases {
		got, err := OpcodeCycle(c.insn)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", c.name, err)
			continue
		}
		if got != c.want {
			t.Errorf("%s: got %d, want %d", c.name, got, c.want)
		}
	}
}

func TestOpcodeCycleIllegal(t *testing.T) {
	if _, err := OpcodeCycle(0x7f); err == nil {
		t.Errorf("expected error for unassigned opcode")
	}
}

func TestSessionCycleAccumulatesWithoutRollover(t *testing.T) {
	a := New()
	start := a.SessionCycle()
	a.ReadPage(10)
	a.Step(1, 0)
	if a.NumSegment() != 0 {
		t.Fatalf("expected no rollover for a single small step")
	}
	if a.SessionCycle() <= start {
		t.Errorf("session cycle should grow after a step")
	}
}

func TestSessionCycleRevisitIsCheap(t *testing.T) {
	a := New()
	a.ReadPage(42)
	a.Step(1, 0)
	afterFirst := a.SessionCycle()

	a.ReadPage(42)
	a.Step(1, 0)
	afterSecond := a.SessionCycle()

	// Revisiting an already-resident page in the same segment only pays the
	// opcode cost again, not the paging cost.
	if afterSecond-afterFirst != 1 {
		t.Errorf("revisit cost = %d, want 1 (opcode only)", afterSecond-afterFirst)
	}
}

func TestSegmentRolloverOnOverflow(t *testing.T) {
	a := New()
	// Force a rollover by charging a step larger than the remaining budget.
	a.Step(SegmentLimit, 0)
	if a.NumSegment() != 1 {
		t.Fatalf("expected exactly one rollover, got numSegment=%d", a.NumSegment())
	}
}

func TestRootPageShorterChain(t *testing.T) {
	settled := map[uint32]struct{}{}
	cost, touched := chainCost(RootPageIdx, settled)
	want := pageInitCycles(pageBlocksRoot)
	if cost != want {
		t.Errorf("root page cost = %d, want %d", cost, want)
	}
	if len(touched) != 1 || touched[0] != RootPageIdx {
		t.Errorf("root page chain should stop immediately, got %v", touched)
	}
}
