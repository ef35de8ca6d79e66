// Package paper defines the 128-byte block that is printed as one 32x32 dot
// cell, the superblock that identifies a file on every page, and the
// redundancy groups that let a single lost block be rebuilt by XOR.
package paper

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jpfielding/paperbak.go/pkg/crc"
	"github.com/jpfielding/paperbak.go/pkg/ecc"
)

const (
	NDot      = 32         // block X and Y size, dots
	NData     = 90         // data bytes in a block
	BlockSize = 128        // bytes in a block, including CRC and ECC
	MaxSize   = 0x0FFFFF80 // largest stream a backup can address
	SuperAddr = 0xFFFFFFFF // address of a superblock

	NGroupMin     = 2
	NGroupMax     = 10
	NGroupDefault = 5

	crcMask    = 0x55AA
	crcSpan    = 4 + NData // addr and data
	addrMask   = 0x0FFFFFFF
	groupShift = 28
)

var (
	ErrBadAddress = errors.New("paper: address out of range")
	ErrAlignment  = errors.New("paper: address not aligned to block data")
	ErrChecksum   = errors.New("paper: block checksum mismatch")
	ErrShortBlock = errors.New("paper: short block")
)

// Kind classifies a block by its address.
type Kind int

const (
	KindData Kind = iota
	KindRecovery
	KindSuper
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindRecovery:
		return "recovery"
	case KindSuper:
		return "superblock"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Block is the on-paper unit. The serialized form is little-endian:
// addr(4) data(90) crc(2) ecc(32).
type Block struct {
	Addr uint32
	Data [NData]byte
	CRC  uint16
	ECC  [ecc.NRoots]byte
}

// NewDataBlock returns a sealed block carrying payload at offset. Payloads
// shorter than NData are zero padded.
func NewDataBlock(offset uint32, payload []byte) Block {
	b := Block{Addr: offset}
	copy(b.Data[:], payload)
	b.Seal()
	return b
}

// Kind reports what the address says this block is.
func (b *Block) Kind() Kind {
	switch {
	case b.Addr == SuperAddr:
		return KindSuper
	case b.Addr>>groupShift != 0:
		return KindRecovery
	}
	return KindData
}

// Offset is the stream offset with the group bits stripped.
func (b *Block) Offset() uint32 { return b.Addr & addrMask }

// GroupSize is the redundancy encoded in a recovery block address, 0 for data.
func (b *Block) GroupSize() int {
	if b.Addr == SuperAddr {
		return 0
	}
	return int(b.Addr >> groupShift)
}

// Seal computes the CRC and the Reed-Solomon parity.
func (b *Block) Seal() {
	var raw [BlockSize]byte
	b.put(raw[:])
	b.CRC = checksum(raw[:])
	binary.LittleEndian.PutUint16(raw[crcSpan:], b.CRC)
	b.ECC = ecc.Encode(raw[:ecc.MessageSize])
}

// Bytes returns the 128-byte wire form.
func (b *Block) Bytes() [BlockSize]byte {
	var raw [BlockSize]byte
	b.put(raw[:])
	return raw
}

func (b *Block) MarshalBinary() ([]byte, error) {
	raw := b.Bytes()
	return raw[:], nil
}

func (b *Block) UnmarshalBinary(raw []byte) error {
	if len(raw) < BlockSize {
		return fmt.Errorf("%w: %d bytes", ErrShortBlock, len(raw))
	}
	b.Addr = binary.LittleEndian.Uint32(raw[0:])
	copy(b.Data[:], raw[4:4+NData])
	b.CRC = binary.LittleEndian.Uint16(raw[crcSpan:])
	copy(b.ECC[:], raw[ecc.MessageSize:BlockSize])
	return nil
}

func (b *Block) put(raw []byte) {
	binary.LittleEndian.PutUint32(raw[0:], b.Addr)
	copy(raw[4:], b.Data[:])
	binary.LittleEndian.PutUint16(raw[crcSpan:], b.CRC)
	copy(raw[ecc.MessageSize:], b.ECC[:])
}

func checksum(raw []byte) uint16 {
	return crc.Checksum(raw[:crcSpan]) ^ crcMask
}

// Validate runs error correction over a demodulated block and then checks the
// CRC. It returns the repaired block and the number of corrected bytes. Any
// failure means the block must be dropped.
func Validate(raw []byte) (Block, int, error) {
	var b Block
	if len(raw) < BlockSize {
		return b, 0, fmt.Errorf("%w: %d bytes", ErrShortBlock, len(raw))
	}
	var buf [BlockSize]byte
	copy(buf[:], raw)
	n, err := ecc.Decode(buf[:], nil)
	if err != nil {
		return b, 0, fmt.Errorf("%w: %w", ErrChecksum, err)
	}
	_ = b.UnmarshalBinary(buf[:])
	if checksum(buf[:]) != b.CRC {
		return b, n, fmt.Errorf("%w: crc %04x", ErrChecksum, b.CRC)
	}
	return b, n, nil
}

// CheckBounds verifies a data or recovery block against the size of the
// stream it belongs to.
func (b *Block) CheckBounds(datasize uint32) error {
	switch b.Kind() {
	case KindSuper:
		return nil
	case KindRecovery:
		if g := b.GroupSize(); g < NGroupMin || g > NGroupMax {
			return fmt.Errorf("%w: group size %d", ErrBadAddress, g)
		}
	}
	off := b.Offset()
	if off%NData != 0 {
		return fmt.Errorf("%w: offset %d", ErrAlignment, off)
	}
	if off >= datasize {
		return fmt.Errorf("%w: offset %d, size %d", ErrBadAddress, off, datasize)
	}
	return nil
}
