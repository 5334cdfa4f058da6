/*
 * r0vm - Word-level (de)serialization for the GDB register and memory
 * transfer wire format.
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

// Package serializer packs and unpacks the little-endian 32-bit words the
// GDB remote protocol moves around: register dumps (g/G), single registers
// (p/P), and raw memory ranges (m/M), each represented on the wire as plain
// hex digit pairs, one per byte, in target byte order.
package serializer

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// NumRegisters is the register set size a single-thread RV32 target reports
// to GDB: 32 general-purpose registers followed by pc.
const NumRegisters = 33

// EncodeWordsLE renders words as lowercase hex, 8 digits each, little-endian
// byte order, concatenated with no separator -- the format GDB expects for
// a 'g' register dump.
func EncodeWordsLE(words []uint32) string {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return hex.EncodeToString(buf)
}

// DecodeWordsLE parses the hex produced by EncodeWordsLE back into words.
// It returns an error if the input length is not a multiple of 8 hex
// digits (4 bytes).
func DecodeWordsLE(s string) ([]uint32, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex in register payload: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("register payload length %d is not a multiple of 4 bytes", len(raw))
	}
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return words, nil
}

// EncodeMemory renders a raw memory range as hex bytes, target byte order
// (i.e. as stored), for an 'm' command reply.
func EncodeMemory(data []byte) string {
	return hex.EncodeToString(data)
}

// DecodeMemory parses the hex payload of an 'M' or 'X' write command back
// into raw bytes.
func DecodeMemory(s string) ([]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex in memory payload: %w", err)
	}
	return raw, nil
}

// RegisterSet is the flat register dump order GDB's RV32 target description
// expects: x0-x31 followed by pc.
type RegisterSet struct {
	GPR [32]uint32
	PC  uint32
}

// Encode renders the full register set for a 'g' reply.
func (r RegisterSet) Encode() string {
	words := make([]uint32, NumRegisters)
	copy(words, r.GPR[:])
	words[32] = r.PC
	return EncodeWordsLE(words)
}

// Decode parses a 'G' payload into a RegisterSet.
func Decode(s string) (RegisterSet, error) {
	words, err := DecodeWordsLE(s)
	if err != nil {
		return RegisterSet{}, err
	}
	if len(words) != NumRegisters {
		return RegisterSet{}, fmt.Errorf("expected %d registers, got %d", NumRegisters, len(words))
	}
	var r RegisterSet
	copy(r.GPR[:], words[:32])
	r.PC = words[32]
	return r, nil
}

// CopyToBuf copies as much of data into buf as fits, returning the number of
// bytes copied. Used by qXfer:_object_:read handlers, which are given a
// caller-supplied buffer of fixed size.
func CopyToBuf(data, buf []byte) int {
	n := len(buf)
	if len(data) < n {
		n = len(data)
	}
	copy(buf[:n], data[:n])
	return n
}

// CopyRangeToBuf copies data[offset:offset+length] (clamped to data's
// bounds) into buf, returning the number of bytes copied. offset beyond
// data's length yields 0, the GDB convention for "past end of object".
func CopyRangeToBuf(data []byte, offset, length int, buf []byte) int {
	if offset > len(data) {
		return 0
	}
	end := offset + length
	if end > len(data) {
		end = len(data)
	}
	return CopyToBuf(data[offset:end], buf)
}
