/*
 * r0vm - GDB remote serial protocol packet framing.
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
)

// checksum is the mod-256 sum of a packet payload, as required between the
// '$' and '#' delimiters of every GDB remote packet.
func checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum += b
	}
	return sum
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'a' + (n - 10)
}

// frame wraps payload as "$<payload>#<checksum>".
func frame(payload []byte) []byte {
	sum := checksum(payload)
	out := make([]byte, 0, len(payload)+4)
	out = append(out, '$')
	out = append(out, payload...)
	out = append(out, '#')
	out = append(out, hexDigit(sum>>4), hexDigit(sum&0xf))
	return out
}

// conn is the minimal byte-stream surface packetReader/sendPacket need to
// write replies; a net.Conn or an in-memory buffer both satisfy it.
type conn interface {
	Write(p []byte) (int, error)
}

// packetReader pulls one complete GDB packet (ack/nak bytes are swallowed,
// "$...#xx" packets are validated and unescaped) off the wire. ctrlC is
// reported separately since it arrives outside of packet framing.
type packetReader struct {
	r        *bufio.Reader
	noAck    bool
	writer   conn
}

func newPacketReader(r *bufio.Reader, w conn) *packetReader {
	return &packetReader{r: r, writer: w}
}

// errCtrlC is returned by ReadPacket when a bare 0x03 interrupt byte arrives
// instead of a framed packet.
var errCtrlC = fmt.Errorf("ctrl-c interrupt byte received")

// ReadPacket blocks for the next complete packet and returns its unescaped
// payload. It replies with '+' once the checksum validates (unless
// no-acknowledgment mode is active).
func (p *packetReader) ReadPacket() ([]byte, error) {
	for {
		b, err := p.r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case '+', '-':
			continue
		case 0x03:
			return nil, errCtrlC
		case '$':
			payload, gotSum, err := p.readUntilChecksum()
			if err != nil {
				return nil, err
			}
			if checksum(payload) != gotSum {
				if !p.noAck {
					p.writer.Write([]byte{'-'})
				}
				continue
			}
			if !p.noAck {
				p.writer.Write([]byte{'+'})
			}
			return payload, nil
		default:
			continue
		}
	}
}

func (p *packetReader) readUntilChecksum() (payload []byte, sum byte, err error) {
	for {
		b, err := p.r.ReadByte()
		if err != nil {
			return nil, 0, err
		}
		if b == '#' {
			hi, err := p.r.ReadByte()
			if err != nil {
				return nil, 0, err
			}
			lo, err := p.r.ReadByte()
			if err != nil {
				return nil, 0, err
			}
			return payload, unhex(hi)<<4 | unhex(lo), nil
		}
		if b == '}' {
			// Escaped byte: XOR the following byte with 0x20.
			esc, err := p.r.ReadByte()
			if err != nil {
				return nil, 0, err
			}
			payload = append(payload, esc^0x20)
			continue
		}
		payload = append(payload, b)
	}
}

func unhex(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10
	default:
		return 0
	}
}

// sendPacket writes a full reply, retrying until the peer acks unless
// no-acknowledgment mode is active.
func sendPacket(w conn, r *bufio.Reader, noAck bool, payload []byte) error {
	framed := frame(payload)
	if _, err := w.Write(framed); err != nil {
		return err
	}
	if noAck {
		return nil
	}
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b == '+' {
			return nil
		}
		if b == '-' {
			if _, err := w.Write(framed); err != nil {
				return err
			}
			continue
		}
	}
}
