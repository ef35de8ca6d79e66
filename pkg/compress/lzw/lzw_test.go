package lzw

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRandom(n int, alphabet int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(rng.Intn(alphabet))
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"single byte", []byte{0x42}},
		{"two bytes", []byte("ab")},
		{"kwkwk", []byte("aaaaaaaaaaaaaaaaaaaaaaaaa")},
		{"text", bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 200)},
		{"zeros", make([]byte, 100000)},
		{"small alphabet", makeRandom(50000, 3, 1)},
		{"random", makeRandom(20000, 256, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed := Compress(tt.in)
			out, err := Decompress(packed, len(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.in, out)

			out, err = Decompress(packed, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.in, out)
		})
	}
}

func TestRepetitiveShrinks(t *testing.T) {
	in := bytes.Repeat([]byte("PaperBack "), 5000)
	packed := Compress(in)
	assert.Less(t, len(packed), len(in)/10)
}

func TestDictionaryReset(t *testing.T) {
	// Enough incompressible input to fill the dictionary several times.
	in := makeRandom(400000, 256, 3)
	packed := Compress(in)
	out, err := Decompress(packed, len(in))
	require.NoError(t, err)
	require.Equal(t, len(in), len(out))
	assert.True(t, bytes.Equal(in, out))

	in = makeRandom(1<<20, 16, 4)
	out, err = Decompress(Compress(in), len(in))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(in, out))
}

func TestIncrementalEncoder(t *testing.T) {
	in := makeRandom(70000, 8, 5)
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for off := 0; off < len(in); off += 4096 {
		end := min(off+4096, len(in))
		_, err := enc.Write(in[off:end])
		require.NoError(t, err)
	}
	require.NoError(t, enc.Close())
	assert.Equal(t, Compress(in), buf.Bytes())

	_, err := enc.Write([]byte{1})
	assert.Error(t, err)
}

func TestHintStopsBeforePadding(t *testing.T) {
	in := []byte("hello hello hello paper")
	packed := Compress(in)
	padded := append(append([]byte{}, packed...), make([]byte, 15)...)
	out, err := Decompress(padded, len(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEmpty(t *testing.T) {
	assert.Empty(t, Compress(nil))
	out, err := Decompress(nil, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCorruptStream(t *testing.T) {
	t.Run("first code not literal", func(t *testing.T) {
		_, err := Decompress([]byte{0xFF, 0xFF, 0x00}, 0)
		assert.ErrorIs(t, err, ErrCorruptStream)
	})
	t.Run("code beyond dictionary", func(t *testing.T) {
		var buf bytes.Buffer
		bw := NewBitWriter(&buf)
		require.NoError(t, bw.WriteBits('A', 9))
		require.NoError(t, bw.WriteBits(300, 9))
		require.NoError(t, bw.Flush())
		_, err := Decompress(buf.Bytes(), 0)
		assert.ErrorIs(t, err, ErrCorruptStream)
	})
}

func TestBitstream(t *testing.T) {
	var buf bytes.Buffer
	bw := NewBitWriter(&buf)
	codes := []struct {
		v uint32
		n int
	}{{0x1FF, 9}, {0, 9}, {0x3FF, 10}, {0xABCD, 16}, {1, 12}}
	for _, c := range codes {
		require.NoError(t, bw.WriteBits(c.v, c.n))
	}
	require.NoError(t, bw.Flush())
	// 56 bits fill exactly seven bytes.
	assert.Len(t, buf.Bytes(), 7)

	br := NewBitReader(bytes.NewReader(buf.Bytes()))
	for _, c := range codes {
		v, err := br.ReadBits(c.n)
		require.NoError(t, err)
		assert.Equal(t, c.v, v)
	}
}
