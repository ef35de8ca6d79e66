package paper

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// Mode bits.
const (
	ModeCompressed = 0x01
	ModeEncrypted  = 0x02
)

// File attribute bits as stored on paper.
const (
	AttrReadOnly = 0x01
	AttrHidden   = 0x02
	AttrSystem   = 0x04
	AttrArchive  = 0x20
	AttrNormal   = 0x80
)

// NameSize is the width of the name field.
const NameSize = 64

// 100ns intervals between 1601-01-01 and 1970-01-01.
const filetimeEpoch = 116444736000000000

// Superblock describes the file a page belongs to. Its 90-byte payload is
// datasize(4) pagesize(4) origsize(4) mode(1) attributes(1) page(2)
// modified(8) filecrc(2) name(64).
type Superblock struct {
	DataSize   uint32 // aligned size of the stream on paper
	PageSize   uint32 // stream bytes per full page
	OrigSize   uint32 // size of the original file
	Mode       uint8
	Attributes uint8
	Page       uint16 // 1-based
	Modified   time.Time
	FileCRC    uint16
	Name       [NameSize]byte // not necessarily text past the terminator
}

// SetName stores the base name, truncated to the field.
func (s *Superblock) SetName(name string) {
	s.Name = [NameSize]byte{}
	base := filepath.Base(name)
	if len(base) > NameSize {
		cut := NameSize
		for cut > 0 && !utf8.RuneStart(base[cut]) {
			cut--
		}
		base = base[:cut]
	}
	copy(s.Name[:], base)
}

// FileName returns the printable part of the name field: bytes up to the
// first NUL, stripped of path separators and control characters. Trailing
// bytes after the terminator are ignored.
func (s *Superblock) FileName() string {
	raw := s.Name[:]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	var sb strings.Builder
	for len(raw) > 0 {
		r, n := utf8.DecodeRune(raw)
		raw = raw[n:]
		switch {
		case r == utf8.RuneError && n == 1:
			sb.WriteByte('_')
		case r < 0x20 || r == 0x7F || r == '/' || r == '\\' || r == ':':
			sb.WriteByte('_')
		default:
			sb.WriteRune(r)
		}
	}
	name := strings.TrimSpace(sb.String())
	if name == "" || name == "." || name == ".." {
		return "noname"
	}
	return name
}

// Compressed reports whether the stream is LZW packed.
func (s *Superblock) Compressed() bool { return s.Mode&ModeCompressed != 0 }

// Encrypted reports whether the stream was encrypted by the producer.
func (s *Superblock) Encrypted() bool { return s.Mode&ModeEncrypted != 0 }

// Block packs the superblock into a sealed block.
func (s *Superblock) Block() Block {
	b := Block{Addr: SuperAddr}
	d := b.Data[:]
	binary.LittleEndian.PutUint32(d[0:], s.DataSize)
	binary.LittleEndian.PutUint32(d[4:], s.PageSize)
	binary.LittleEndian.PutUint32(d[8:], s.OrigSize)
	d[12] = s.Mode
	d[13] = s.Attributes
	binary.LittleEndian.PutUint16(d[14:], s.Page)
	binary.LittleEndian.PutUint64(d[16:], ToFiletime(s.Modified))
	binary.LittleEndian.PutUint16(d[24:], s.FileCRC)
	copy(d[26:], s.Name[:])
	b.Seal()
	return b
}

func (s *Superblock) MarshalBinary() ([]byte, error) {
	b := s.Block()
	return b.MarshalBinary()
}

func (s *Superblock) UnmarshalBinary(raw []byte) error {
	var b Block
	if err := b.UnmarshalBinary(raw); err != nil {
		return err
	}
	sb, err := ParseSuperblock(&b)
	if err != nil {
		return err
	}
	*s = sb
	return nil
}

// ParseSuperblock decodes a block already classified as KindSuper.
func ParseSuperblock(b *Block) (Superblock, error) {
	var s Superblock
	if b.Addr != SuperAddr {
		return s, fmt.Errorf("%w: %08x is not a superblock", ErrBadAddress, b.Addr)
	}
	d := b.Data[:]
	s.DataSize = binary.LittleEndian.Uint32(d[0:])
	s.PageSize = binary.LittleEndian.Uint32(d[4:])
	s.OrigSize = binary.LittleEndian.Uint32(d[8:])
	s.Mode = d[12]
	s.Attributes = d[13]
	s.Page = binary.LittleEndian.Uint16(d[14:])
	s.Modified = FromFiletime(binary.LittleEndian.Uint64(d[16:]))
	s.FileCRC = binary.LittleEndian.Uint16(d[24:])
	copy(s.Name[:], d[26:])
	if s.DataSize == 0 || s.DataSize > MaxSize {
		return s, fmt.Errorf("%w: datasize %d", ErrBadAddress, s.DataSize)
	}
	if s.OrigSize == 0 || s.OrigSize > MaxSize {
		return s, fmt.Errorf("%w: origsize %d", ErrBadAddress, s.OrigSize)
	}
	if s.Page == 0 {
		return s, fmt.Errorf("%w: page 0", ErrBadAddress)
	}
	return s, nil
}

// ToFiletime converts to 100ns ticks since 1601. The zero time maps to 0.
func ToFiletime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/100 + filetimeEpoch)
}

// FromFiletime is the inverse of ToFiletime.
func FromFiletime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	ticks := int64(ft) - filetimeEpoch
	return time.Unix(ticks/10000000, (ticks%10000000)*100).UTC()
}
