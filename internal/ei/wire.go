package ei

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Every message starts with a 16 byte header: object id (u64), total length
// in bytes including the header (u32) and opcode (u32). Arguments follow,
// each padded to 4 bytes. The protocol uses host byte order; all supported
// Linux targets are little endian.
const headerSize = 16

// maxMessageSize bounds a single message so a corrupt length cannot make the
// reader buffer grow without limit.
const maxMessageSize = 64 * 1024

var order = binary.LittleEndian

type message struct {
	object uint64
	opcode uint32
	body   []byte
}

// encoder builds one outgoing message.
type encoder struct {
	buf []byte
}

func newMessage(object uint64, opcode uint32) *encoder {
	e := &encoder{buf: make([]byte, headerSize, 64)}
	order.PutUint64(e.buf[0:], object)
	order.PutUint32(e.buf[12:], opcode)
	return e
}

func (e *encoder) uint32(v uint32) *encoder {
	e.buf = order.AppendUint32(e.buf, v)
	return e
}

func (e *encoder) uint64(v uint64) *encoder {
	e.buf = order.AppendUint64(e.buf, v)
	return e
}

func (e *encoder) float(v float32) *encoder {
	return e.uint32(math.Float32bits(v))
}

// string writes the length including the NUL terminator, the bytes, the
// terminator and padding. The empty string is encoded as a zero length.
func (e *encoder) string(s string) *encoder {
	if s == "" {
		return e.uint32(0)
	}
	e.uint32(uint32(len(s) + 1))
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
	for len(e.buf)%4 != 0 {
		e.buf = append(e.buf, 0)
	}
	return e
}

// bytes finalises the length field and returns the wire bytes.
func (e *encoder) bytes() []byte {
	order.PutUint32(e.buf[8:], uint32(len(e.buf)))
	return e.buf
}

// decoder reads arguments from a message body. The first failure sticks;
// callers check err once after reading every argument.
type decoder struct {
	b   []byte
	off int
	err error
}

func newDecoder(body []byte) *decoder {
	return &decoder{b: body}
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if d.off+n > len(d.b) {
		d.err = fmt.Errorf("%w: short message body (%d+%d > %d)", ErrProtocol, d.off, n, len(d.b))
		return false
	}
	return true
}

func (d *decoder) uint32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := order.Uint32(d.b[d.off:])
	d.off += 4
	return v
}

func (d *decoder) uint64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := order.Uint64(d.b[d.off:])
	d.off += 8
	return v
}

func (d *decoder) float() float32 {
	return math.Float32frombits(d.uint32())
}

func (d *decoder) string() string {
	n := int(d.uint32())
	if n == 0 || d.err != nil {
		return ""
	}
	padded := (n + 3) &^ 3
	if !d.need(padded) {
		return ""
	}
	raw := d.b[d.off : d.off+n]
	d.off += padded
	if raw[n-1] != 0 {
		d.err = fmt.Errorf("%w: string not NUL terminated", ErrProtocol)
		return ""
	}
	return string(raw[:n-1])
}

// splitMessages cuts complete messages off the front of buf. It returns the
// messages and the unconsumed tail.
func splitMessages(buf []byte) ([]message, []byte, error) {
	var msgs []message
	for len(buf) >= headerSize {
		length := order.Uint32(buf[8:])
		if length < headerSize || length%4 != 0 || length > maxMessageSize {
			return msgs, buf, fmt.Errorf("%w: invalid message length %d", ErrProtocol, length)
		}
		if uint32(len(buf)) < length {
			break
		}
		msgs = append(msgs, message{
			object: order.Uint64(buf[0:]),
			opcode: order.Uint32(buf[12:]),
			body:   buf[headerSize:length],
		})
		buf = buf[length:]
	}
	return msgs, buf, nil
}
