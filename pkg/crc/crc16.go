// Package crc implements the 16-bit CCITT checksum used on paper blocks.
package crc

// Poly is the CCITT generator polynomial x^16 + x^12 + x^5 + 1.
const Poly = 0x1021

var table = makeTable(Poly)

func makeTable(poly uint16) [256]uint16 {
	var t [256]uint16
	for i := range t {
		c := uint16(i) << 8
		for k := 0; k < 8; k++ {
			if c&0x8000 != 0 {
				c = c<<1 ^ poly
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}

// Checksum returns the CRC of b, MSB first with a zero initial value.
func Checksum(b []byte) uint16 {
	return Update(0, b)
}

// Update continues a running checksum with more data.
func Update(crc uint16, b []byte) uint16 {
	for _, c := range b {
		crc = crc<<8 ^ table[byte(crc>>8)^c]
	}
	return crc
}
