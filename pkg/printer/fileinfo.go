package printer

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/jpfielding/paperbak.go/pkg/paper"
)

// FileInfo is the metadata of the file being backed up.
type FileInfo struct {
	Name       string
	Size       int64
	Modified   time.Time
	Attributes uint8 // paper.Attr* bits
}

// InfoFromFS converts OS metadata, mapping permissions onto the attribute
// bits stored on paper.
func InfoFromFS(fi fs.FileInfo) FileInfo {
	return FileInfo{
		Name:       fi.Name(),
		Size:       fi.Size(),
		Modified:   fi.ModTime(),
		Attributes: Attributes(fi.Name(), fi.Mode()),
	}
}

// Attributes derives paper attribute bits from a name and file mode.
func Attributes(name string, mode fs.FileMode) uint8 {
	var a uint8
	if mode.Perm()&0o222 == 0 {
		a |= paper.AttrReadOnly
	}
	if strings.HasPrefix(filepath.Base(name), ".") {
		a |= paper.AttrHidden
	}
	if !mode.IsRegular() {
		a |= paper.AttrSystem
	}
	if a == 0 {
		a = paper.AttrNormal
	}
	return a
}
