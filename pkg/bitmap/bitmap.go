// Package bitmap moves page images between files and 8-bit gray buffers.
package bitmap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/draw"
	_ "image/png"
	"io"
	"os"

	"golang.org/x/image/bmp"
)

// Offsets of the resolution fields in a BMP file with a BITMAPINFOHEADER.
const (
	xPelsOffset = 14 + 24
	yPelsOffset = 14 + 28
)

// Read decodes a BMP (or PNG) image and converts it to gray. Color pixels
// are reduced to the plain average of their channels.
func Read(r io.Reader) (*image.Gray, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode bitmap: %w", err)
	}
	return ToGray(img), nil
}

// ReadFile reads a bitmap from disk.
func ReadFile(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// ToGray converts any image to an 8-bit gray image with origin 0,0.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	switch src := img.(type) {
	case *image.Gray:
		draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
	default:
		for y := 0; y < b.Dy(); y++ {
			row := out.Pix[y*out.Stride:]
			for x := 0; x < b.Dx(); x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				row[x] = uint8((r + g + bl) / 3 >> 8)
			}
		}
	}
	return out
}

// Write encodes img as an 8-bit BMP with a gray palette, recording ppi as
// the resolution when positive.
func Write(w io.Writer, img *image.Gray, ppi int) error {
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to encode bitmap: %w", err)
	}
	raw := buf.Bytes()
	if ppi > 0 && len(raw) > yPelsOffset+4 {
		ppm := uint32(ppi * 10000 / 254)
		binary.LittleEndian.PutUint32(raw[xPelsOffset:], ppm)
		binary.LittleEndian.PutUint32(raw[yPelsOffset:], ppm)
	}
	_, err := w.Write(raw)
	return err
}

// WriteFile writes a bitmap to disk.
func WriteFile(path string, img *image.Gray, ppi int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, img, ppi); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Resolution reports the pixels per inch stored in a BMP header, 0 if unset.
func Resolution(raw []byte) int {
	if len(raw) < yPelsOffset+4 || raw[0] != 'B' || raw[1] != 'M' {
		return 0
	}
	ppm := binary.LittleEndian.Uint32(raw[xPelsOffset:])
	return int((ppm*254 + 5000) / 10000)
}
