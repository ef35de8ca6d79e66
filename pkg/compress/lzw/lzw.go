// Package lzw implements the adaptive-dictionary compressor used for the
// paper data stream.
//
// Codes start at 9 bits and grow by one bit each time the dictionary
// doubles. When the dictionary reaches 2^16 entries both sides reset it at
// the same code, so the stream never carries an explicit clear code.
package lzw

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxBits is the widest code, and log2 of the dictionary ceiling.
	MaxBits = 16
	// MinBits is the code width right after a reset.
	MinBits = 9

	literals = 1 << 8
	maxDict  = 1 << MaxBits
)

// ErrCorruptStream is returned when a code refers past the end of the dictionary.
var ErrCorruptStream = errors.New("lzw: corrupt stream")

// Encoder compresses data written to it in any number of pieces.
type Encoder struct {
	bw      *BitWriter
	dict    map[uint32]uint16 // prefix<<8|symbol -> code
	ndict   int
	codelen int
	curr    int // code of the current string, -1 before the first byte
	closed  bool
}

// NewEncoder returns an encoder writing codes to w. Close must be called to
// emit the final code.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{
		bw:   NewBitWriter(w),
		dict: make(map[uint32]uint16, maxDict),
		curr: -1,
	}
	e.reset()
	return e
}

func (e *Encoder) reset() {
	clear(e.dict)
	e.ndict = literals
	e.codelen = MinBits
}

// Write feeds more input to the encoder.
func (e *Encoder) Write(p []byte) (int, error) {
	if e.closed {
		return 0, errors.New("lzw: write after close")
	}
	for _, c := range p {
		if e.curr < 0 {
			e.curr = int(c)
			continue
		}
		key := uint32(e.curr)<<8 | uint32(c)
		if code, ok := e.dict[key]; ok {
			e.curr = int(code)
			continue
		}
		if err := e.bw.WriteBits(uint32(e.curr), e.codelen); err != nil {
			return 0, err
		}
		e.dict[key] = uint16(e.ndict)
		e.ndict++
		if e.ndict == 1<<e.codelen {
			e.codelen++
		}
		if e.ndict == maxDict {
			e.reset()
		}
		e.curr = int(c)
	}
	return len(p), nil
}

// Close writes the pending code and pads the last byte with zero bits.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if e.curr >= 0 {
		if err := e.bw.WriteBits(uint32(e.curr), e.codelen); err != nil {
			return err
		}
	}
	return e.bw.Flush()
}

// Compress returns the compressed form of in. Empty input compresses to an
// empty stream.
func Compress(in []byte) []byte {
	if len(in) == 0 {
		return nil
	}
	var out bytes.Buffer
	out.Grow(len(in)/2 + 16)
	enc := NewEncoder(&out)
	// Writes to a bytes.Buffer cannot fail.
	_, _ = enc.Write(in)
	_ = enc.Close()
	return out.Bytes()
}

// Decompress expands a stream produced by Compress. When hint is positive
// decoding stops as soon as hint bytes are produced and the output is cut to
// that length, which lets callers pass streams followed by zero padding.
func Decompress(in []byte, hint int) ([]byte, error) {
	if len(in) == 0 {
		return []byte{}, nil
	}
	prefix := make([]uint16, maxDict)
	suffix := make([]byte, maxDict)
	stack := make([]byte, 0, 256)
	out := make([]byte, 0, max(hint, 2*len(in)))
	br := NewBitReader(bytes.NewReader(in))

	// emit appends the string for code and returns its first byte.
	emit := func(code int) byte {
		stack = stack[:0]
		for code >= literals {
			stack = append(stack, suffix[code])
			code = int(prefix[code])
		}
		stack = append(stack, byte(code))
		for i := len(stack) - 1; i >= 0; i-- {
			out = append(out, stack[i])
		}
		return byte(code)
	}
	done := func() bool { return hint > 0 && len(out) >= hint }

	ndict, codelen := literals, MinBits
	first := func() (int, bool, error) {
		v, err := br.ReadBits(codelen)
		if err != nil {
			return 0, false, nil
		}
		if v >= literals {
			return 0, false, fmt.Errorf("%w: first code %d is not a literal", ErrCorruptStream, v)
		}
		return int(v), true, nil
	}

	prev, ok, err := first()
	if err != nil {
		return nil, err
	}
	if !ok {
		return out, nil
	}
	firstChar := emit(prev)
	for !done() {
		v, rerr := br.ReadBits(codelen)
		if rerr != nil {
			break
		}
		curr := int(v)
		if curr > ndict {
			return nil, fmt.Errorf("%w: code %d beyond dictionary size %d", ErrCorruptStream, curr, ndict)
		}
		if curr < ndict {
			firstChar = emit(curr)
		} else {
			// The code being defined right now: previous string plus its own first byte.
			firstChar = emit(prev)
			out = append(out, firstChar)
		}
		if ndict == maxDict-2 {
			ndict, codelen = literals, MinBits
			if done() {
				break
			}
			if prev, ok, err = first(); err != nil {
				return nil, err
			} else if !ok {
				break
			}
			firstChar = emit(prev)
			continue
		}
		prefix[ndict] = uint16(prev)
		suffix[ndict] = firstChar
		ndict++
		if ndict+1 == 1<<codelen {
			codelen++
		}
		prev = curr
	}
	if hint > 0 && len(out) > hint {
		out = out[:hint]
	}
	return out, nil
}
