/*
 * r0vm - Raw SHA-256 block compression for the SHA ecall.
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

package syscall

import (
	"fmt"
	"math/bits"
)

// shaRoundConstants are the FIPS-180-4 SHA-256 round constants K.
var shaRoundConstants = [64]uint32{
	0x428a2f98, 0x71374491, 0xb5c0fbcf, 0xe9b5dba5, 0x3956c25b, 0x59f111f1, 0x923f82a4, 0xab1c5ed5,
	0xd807aa98, 0x12835b01, 0x243185be, 0x550c7dc3, 0x72be5d74, 0x80deb1fe, 0x9bdc06a7, 0xc19bf174,
	0xe49b69c1, 0xefbe4786, 0x0fc19dc6, 0x240ca1cc, 0x2de92c6f, 0x4a7484aa, 0x5cb0a9dc, 0x76f988da,
	0x983e5152, 0xa831c66d, 0xb00327c8, 0xbf597fc7, 0xc6e00bf3, 0xd5a79147, 0x06ca6351, 0x14292967,
	0x27b70a85, 0x2e1b2138, 0x4d2c6dfc, 0x53380d13, 0x650a7354, 0x766a0abb, 0x81c2c92e, 0x92722c85,
	0xa2bfe8a1, 0xa81a664b, 0xc24b8b70, 0xc76c51a3, 0xd192e819, 0xd6990624, 0xf40e3585, 0x106aa070,
	0x19a4c116, 0x1e376c08, 0x2748774c, 0x34b0bcb5, 0x391c0cb3, 0x4ed8aa4a, 0x5b9cca4f, 0x682e6ff3,
	0x748f82ee, 0x78a5636f, 0x84c87814, 0x8cc70208, 0x90befffa, 0xa4506ceb, 0xbef9a3f7, 0xc67178f2,
}

// compressSHA256 runs one SHA-256 compression over state, consuming one
// 64-byte block built from the 32 bytes of block1 followed by the 32 bytes
// of block2 (the guest splits each 64-byte block across two pointers);
// HandleSHA calls it once per requested block. This is the raw
// Merkle-Damgard compression function with no padding or length suffix; it is the primitive the SHA ecall exposes
// directly to the guest to let it build its own Merkle tree.
func compressSHA256(state *[8]uint32, block1, block2 [32]byte) {
	var w [64]uint32
	for i := 0; i < 8; i++ {
		w[i] = be32(block1[i*4:])
		w[8+i] = be32(block2[i*4:])
	}
	for i := 16; i < 64; i++ {
		s0 := bits.RotateLeft32(w[i-15], -7) ^ bits.RotateLeft32(w[i-15], -18) ^ (w[i-15] >> 3)
		s1 := bits.RotateLeft32(w[i-2], -17) ^ bits.RotateLeft32(w[i-2], -19) ^ (w[i-2] >> 10)
		w[i] = w[i-16] + s0 + w[i-7] + s1
	}

	a, b, c, d, e, f, g, h := state[0], state[1], state[2], state[3], state[4], state[5], state[6], state[7]

	for i := 0; i < 64; i++ {
		s1 := bits.RotateLeft32(e, -6) ^ bits.RotateLeft32(e, -11) ^ bits.RotateLeft32(e, -25)
		ch := (e & f) ^ (^e & g)
		t1 := h + s1 + ch + shaRoundConstants[i] + w[i]
		s0 := bits.RotateLeft32(a, -2) ^ bits.RotateLeft32(a, -13) ^ bits.RotateLeft32(a, -22)
		maj := (a & b) ^ (a & c) ^ (b & c)
		t2 := s0 + maj

		h, g, f = g, f, e
		e = d + t1
		d, c, b = c, b, a
		a = t1 + t2
	}

	state[0] += a
	state[1] += b
	state[2] += c
	state[3] += d
	state[4] += e
	state[5] += f
	state[6] += g
	state[7] += h
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// HandleSHA implements the SHA ecall: read an 8-word big-endian state, run
// count compression rounds over blocks read from two source pointers, write
// the resulting state back. It returns the extra cycle cost charged for this
// ecall (73 cycles per compression round).
func HandleSHA(ctx Context, outStatePtr, inStatePtr, block1Ptr, block2Ptr, count uint32) (extraCycles int, err error) {
	var stateBytes [32]byte
	for i := range stateBytes {
		b, ok := ctx.ReadGuestByte(inStatePtr + uint32(i))
		if !ok {
			return 0, errGuestRead("SHA", inStatePtr+uint32(i))
		}
		stateBytes[i] = b
	}
	var state [8]uint32
	for i := 0; i < 8; i++ {
		state[i] = be32(stateBytes[i*4:])
	}

	for round := uint32(0); round < count; round++ {
		var block1, block2 [32]byte
		if err := readBlockBytes(ctx, block1Ptr, block1[:]); err != nil {
			return 0, err
		}
		if err := readBlockBytes(ctx, block2Ptr, block2[:]); err != nil {
			return 0, err
		}
		// Block bytes are used exactly as laid out in guest memory: the
		// guest already packs them so a straight byte copy matches the
		// FIPS-180 big-endian block convention compressSHA256 expects.
		compressSHA256(&state, block1, block2)

		block1Ptr += 64
		block2Ptr += 64
	}

	var out [32]byte
	for i := 0; i < 8; i++ {
		putBE32(out[i*4:], state[i])
	}
	for i, b := range out {
		// Guest reads the result back word-by-word through the same
		// byte-addressed interface it wrote the input with.
		if ok := writeGuestByte(ctx, outStatePtr+uint32(i), b); !ok {
			return 0, errGuestWrite("SHA", outStatePtr+uint32(i))
		}
	}

	return int(73 * count), nil
}

func readBlockBytes(ctx Context, ptr uint32, out []byte) error {
	for i := range out {
		b, ok := ctx.ReadGuestByte(ptr + uint32(i))
		if !ok {
			return errGuestRead("SHA", ptr+uint32(i))
		}
		out[i] = b
	}
	return nil
}

func writeGuestByte(ctx Context, addr uint32, b byte) bool {
	return ctx.WriteGuestByte(addr, b)
}

func errGuestRead(ecall string, addr uint32) error {
	return fmt.Errorf("%s ecall: cannot read guest memory at %#08x", ecall, addr)
}

func errGuestWrite(ecall string, addr uint32) error {
	return fmt.Errorf("%s ecall: cannot write guest memory at %#08x", ecall, addr)
}
