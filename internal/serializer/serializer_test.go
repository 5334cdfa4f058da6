package serializer

import "testing"

func TestEncodeDecodeWordsRoundTrip(t *testing.T) {
	words := []uint32{0x00000000, 0xdeadbeef, 0x12345678}
	s := EncodeWordsLE(words)
	if s != "00000000efbeadde78563412" {
		t.Errorf("EncodeWordsLE = %q", s)
	}
	back, err := DecodeWordsLE(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != len(words) {
		t.Fatalf("len(back) = %d, want %d", len(back), len(words))
	}
	for i := range words {
		if back[i] != words[i] {
			t.Errorf("word %d = %#x, want %#x", i, back[i], words[i])
		}
	}
}

func TestDecodeWordsLERejectsOddLength(t *testing.T) {
	if _, err := DecodeWordsLE("aabbcc"); err == nil {
		t.Errorf("expected an error for a payload that is not a multiple of 4 bytes")
	}
}

func TestDecodeWordsLERejectsBadHex(t *testing.T) {
	if _, err := DecodeWordsLE("zzzzzzzz"); err == nil {
		t.Errorf("expected an error for invalid hex")
	}
}

func TestRegisterSetRoundTrip(t *testing.T) {
	var r RegisterSet
	r.GPR[1] = 0x1000
	r.GPR[10] = 42
	r.PC = 0x400

	s := r.Encode()
	back, err := Decode(s)
	if err != nil {
		t.Fatal(err)
	}
	if back.PC != r.PC || back.GPR[1] != r.GPR[1] || back.GPR[10] != r.GPR[10] {
		t.Errorf("round trip mismatch: got %+v, want %+v", back, r)
	}
}

func TestDecodeRejectsWrongRegisterCount(t *testing.T) {
	if _, err := Decode(EncodeWordsLE([]uint32{1, 2, 3})); err == nil {
		t.Errorf("expected an error when the register count does not match")
	}
}

func TestEncodeDecodeMemory(t *testing.T) {
	data := []byte{0x01, 0x02, 0xff, 0x00}
	s := EncodeMemory(data)
	back, err := DecodeMemory(s)
	if err != nil {
		t.Fatal(err)
	}
	if string(back) != string(data) {
		t.Errorf("DecodeMemory(EncodeMemory(data)) = %v, want %v", back, data)
	}
}

func TestCopyRangeToBuf(t *testing.T) {
	data := []byte("0123456789")
	buf := make([]byte, 4)

	n := CopyRangeToBuf(data, 2, 4, buf)
	if n != 4 || string(buf[:n]) != "2345" {
		t.Errorf("CopyRangeToBuf middle = %q, n=%d", buf[:n], n)
	}

	n = CopyRangeToBuf(data, 8, 4, buf)
	if n != 2 || string(buf[:n]) != "89" {
		t.Errorf("CopyRangeToBuf tail = %q, n=%d", buf[:n], n)
	}

	n = CopyRangeToBuf(data, 20, 4, buf)
	if n != 0 {
		t.Errorf("CopyRangeToBuf past end: n=%d, want 0", n)
	}
}
