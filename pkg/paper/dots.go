package paper

import "encoding/binary"

// Rows alternate between these masks so that long runs of equal bytes still
// print as a mix of dots and gaps.
const (
	evenRowMask = 0x55555555
	oddRowMask  = 0xAAAAAAAA
)

// Dots is a 32x32 dot matrix. Bit i of row j is the dot in column i, set
// means printed.
type Dots [NDot]uint32

func rowMask(j int) uint32 {
	if j&1 == 0 {
		return evenRowMask
	}
	return oddRowMask
}

// Dots lays the serialized block out as a dot matrix, one little-endian
// word per row.
func (b *Block) Dots() Dots {
	raw := b.Bytes()
	return DotsOf(raw[:])
}

// DotsOf converts 128 raw bytes to a dot matrix.
func DotsOf(raw []byte) Dots {
	var d Dots
	for j := range d {
		d[j] = binary.LittleEndian.Uint32(raw[4*j:]) ^ rowMask(j)
	}
	return d
}

// Raw converts a dot matrix back to the 128 block bytes.
func (d *Dots) Raw() [BlockSize]byte {
	var raw [BlockSize]byte
	for j, w := range d {
		binary.LittleEndian.PutUint32(raw[4*j:], w^rowMask(j))
	}
	return raw
}

// Dot reports whether the dot in column x of row y is set.
func (d *Dots) Dot(x, y int) bool { return d[y]>>uint(x)&1 != 0 }

// Set sets or clears the dot in column x of row y.
func (d *Dots) Set(x, y int, on bool) {
	if on {
		d[y] |= 1 << uint(x)
	} else {
		d[y] &^= 1 << uint(x)
	}
}

// Transform returns the matrix as seen after one of the eight rotations and
// mirrors of the square: t&4 transposes, t&2 flips rows, t&1 flips columns.
func (d *Dots) Transform(t int) Dots {
	var out Dots
	for y := 0; y < NDot; y++ {
		for x := 0; x < NDot; x++ {
			sx, sy := x, y
			if t&4 != 0 {
				sx, sy = sy, sx
			}
			if t&2 != 0 {
				sy = NDot - 1 - sy
			}
			if t&1 != 0 {
				sx = NDot - 1 - sx
			}
			if d.Dot(sx, sy) {
				out.Set(x, y, true)
			}
		}
	}
	return out
}
