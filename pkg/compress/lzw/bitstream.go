package lzw

import (
	"bufio"
	"io"
)

// BitReader reads MSB-first codes from a byte stream.
type BitReader struct {
	r    *bufio.Reader
	buf  uint32 // Bit buffer
	bits int    // Number of valid bits in buffer (0-32)
}

// NewBitReader creates a new bit reader
func NewBitReader(r io.Reader) *BitReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &BitReader{r: br}
}

// ReadBits reads n bits (n <= 24). A short read at the end of the stream
// returns io.EOF and leaves the partial bits unusable.
func (b *BitReader) ReadBits(n int) (uint32, error) {
	for b.bits < n {
		c, err := b.r.ReadByte()
		if err != nil {
			return 0, err
		}
		b.buf = (b.buf << 8) | uint32(c)
		b.bits += 8
	}
	b.bits -= n
	return (b.buf >> b.bits) & ((1 << n) - 1), nil
}

// BitWriter writes MSB-first codes to a byte stream.
type BitWriter struct {
	w    *bufio.Writer
	buf  uint32 // Bit buffer
	bits int    // Number of valid bits in buffer
}

// NewBitWriter creates a new bit writer
func NewBitWriter(w io.Writer) *BitWriter {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}
	return &BitWriter{w: bw}
}

// WriteBits writes the low n bits of val (n <= 24)
func (b *BitWriter) WriteBits(val uint32, n int) error {
	b.buf = (b.buf << n) | (val & ((1 << n) - 1))
	b.bits += n
	for b.bits >= 8 {
		shift := b.bits - 8
		if err := b.w.WriteByte(byte(b.buf >> shift)); err != nil {
			return err
		}
		b.bits = shift
		b.buf &= (1 << shift) - 1
	}
	return nil
}

// Flush pads remaining bits with zeros and flushes
func (b *BitWriter) Flush() error {
	if b.bits > 0 {
		if err := b.w.WriteByte(byte(b.buf << (8 - b.bits))); err != nil {
			return err
		}
		b.bits = 0
		b.buf = 0
	}
	return b.w.Flush()
}
