package loader

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/evanphx/nkern/memory"
	"github.com/pkg/errors"
)

// Magic starts every executable image.
var Magic = [4]byte{0x7f, 'K', 'X', 'E'}

const Version = 1

// MaxPages bounds the address space an image may ask for.
const MaxPages = 1024

var (
	ErrBadMagic   = errors.New("not an executable image")
	ErrBadVersion = errors.New("unsupported image version")
	ErrBadHeader  = errors.New("malformed image header")
	ErrBadEntry   = errors.New("entry name too long")
)

// MaxEntryLen is the longest entry name the header can describe.
const MaxEntryLen = math.MaxUint16

type fixedHeader struct {
	Magic    [4]byte
	Version  uint16
	Pages    uint16
	EntryLen uint16
}

// Header is the decoded form of an image. The entry names a program
// registered with the loader; the code itself lives in the kernel binary.
type Header struct {
	Version uint16
	Pages   uint16
	Entry   string
}

func (h *Header) MemorySize() int32 {
	return int32(h.Pages) * memory.PageSize
}

// Encode renders an image file for entry that asks for pages pages of
// memory. It panics if entry is longer than MaxEntryLen.
func Encode(entry string, pages uint16) []byte {
	if len(entry) > MaxEntryLen {
		panic(errors.Wrapf(ErrBadEntry, "entry is %d bytes", len(entry)))
	}

	var buf bytes.Buffer

	err := binary.Write(&buf, binary.LittleEndian, fixedHeader{
		Magic:    Magic,
		Version:  Version,
		Pages:    pages,
		EntryLen: uint16(len(entry)),
	})
	if err != nil {
		panic(err)
	}

	buf.WriteString(entry)

	return buf.Bytes()
}

// Decode parses an image file.
func Decode(data []byte) (*Header, error) {
	var fh fixedHeader

	r := bytes.NewReader(data)

	err := binary.Read(r, binary.LittleEndian, &fh)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrBadMagic
		}

		return nil, err
	}

	if fh.Magic != Magic {
		return nil, ErrBadMagic
	}

	if fh.Version != Version {
		return nil, errors.Wrapf(ErrBadVersion, "version %d", fh.Version)
	}

	if fh.Pages == 0 || fh.Pages > MaxPages {
		return nil, errors.Wrapf(ErrBadHeader, "%d pages", fh.Pages)
	}

	if fh.EntryLen == 0 || int(fh.EntryLen) != r.Len() {
		return nil, errors.Wrapf(ErrBadHeader, "entry length %d with %d bytes left", fh.EntryLen, r.Len())
	}

	entry := make([]byte, fh.EntryLen)
	r.Read(entry)

	return &Header{
		Version: fh.Version,
		Pages:   fh.Pages,
		Entry:   string(entry),
	}, nil
}
