/*
 * r0vm - 256-bit modular multiplication for the BIGINT ecall.
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
	"math/big"
)

// bigIntWords is the word width of the guest's big-integer type: 256 bits.
const bigIntWords = 8

// bigIntOverflow is 2^256, the overflow boundary for the n==0 plain-multiply
// case.
var bigIntOverflow = new(big.Int).Lsh(big.NewInt(1), 256)

// HandleBigInt implements the BIGINT ecall: compute z = x*y mod n, or a plain
// x*y when n is zero (in which case the guest is responsible for ensuring
// the product does not overflow 256 bits). x, y, n and the result z are all
// 256-bit values stored little-endian as 8 words of 4 bytes in guest memory.
// It returns the extra cycle cost charged for this ecall.
func HandleBigInt(ctx Context, zPtr, op, xPtr, yPtr, nPtr uint32) (extraCycles int, err error) {
	if op != 0 {
		return 0, fmt.Errorf("BIGINT ecall: op must be 0, got %d", op)
	}

	x, err := loadBigIntLE(ctx, xPtr)
	if err != nil {
		return 0, fmt.Errorf("BIGINT ecall: %w", err)
	}
	y, err := loadBigIntLE(ctx, yPtr)
	if err != nil {
		return 0, fmt.Errorf("BIGINT ecall: %w", err)
	}
	n, err := loadBigIntLE(ctx, nPtr)
	if err != nil {
		return 0, fmt.Errorf("BIGINT ecall: %w", err)
	}

	z := new(big.Int).Mul(x, y)
	if n.Sign() == 0 {
		if z.Cmp(bigIntOverflow) >= 0 {
			return 0, fmt.Errorf("BIGINT ecall: non-overflowing multiplication required when n = 0")
		}
	} else {
		z.Mod(z, n)
	}

	if err := storeBigIntLE(ctx, zPtr, z); err != nil {
		return 0, fmt.Errorf("BIGINT ecall: %w", err)
	}

	return 9, nil
}

func loadBigIntLE(ctx Context, ptr uint32) (*big.Int, error) {
	buf := make([]byte, bigIntWords*4)
	for i := range buf {
		b, ok := ctx.ReadGuestByte(ptr + uint32(i))
		if !ok {
			return nil, fmt.Errorf("cannot read guest memory at %#08x", ptr+uint32(i))
		}
		buf[i] = b
	}
	reverseBytes(buf)
	return new(big.Int).SetBytes(buf), nil
}

func storeBigIntLE(ctx Context, ptr uint32, v *big.Int) error {
	be := v.Bytes()
	buf := make([]byte, bigIntWords*4)
	copy(buf[len(buf)-len(be):], be)
	reverseBytes(buf)
	for i, b := range buf {
		if ok := ctx.WriteGuestByte(ptr+uint32(i), b); !ok {
			return fmt.Errorf("cannot write guest memory at %#08x", ptr+uint32(i))
		}
	}
	return nil
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
