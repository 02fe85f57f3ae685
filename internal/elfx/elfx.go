// Package elfx parses ELF container headers and locates named sections
// inside an in-memory image.
package elfx

import (
	"bytes"
	"errors"
	"fmt"
	"os"
)

// Parse and locate failures. Callers match with errors.Is; wrapped forms
// carry the offending value.
var (
	ErrNotELF              = errors.New("not an ELF image")
	ErrTooShort            = errors.New("image too short for ELF header")
	ErrUnknownClass        = errors.New("unknown ELF class")
	ErrUnsupportedClass    = errors.New("section table requires a 64-bit image")
	ErrNoSectionTable      = errors.New("no section header table")
	ErrBadStringTableIndex = errors.New("section string table index out of range")
	ErrSectionNotFound     = errors.New("section not found")
	ErrRegionOutOfBounds   = errors.New("region exceeds image bounds")
)

var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

// Fixed header sizes implied by the class byte.
const (
	HeaderSize32 = 52
	HeaderSize64 = 64
)

// shdrSize64 is the size of one Elf64_Shdr table entry. The table is
// walked with this fixed stride; Shentsize is surfaced for reporting but
// does not change the layout of the entries themselves.
const shdrSize64 = 64

// Class is the file's address width, from e_ident[4].
type Class byte

const (
	Class32 Class = 1
	Class64 Class = 2
)

// Data is the declared byte order, from e_ident[5].
type Data byte

const (
	DataLittle Data = 1
	DataBig    Data = 2
)

// Header holds every file-header field of either class. Entry, Phoff and
// Shoff are widened to uint64 so the two layouts share one shape. It is
// immutable once parsed.
type Header struct {
	Magic      [4]byte
	Class      Class
	Data       Data
	Version    byte
	OSABI      byte
	ABIVersion byte

	Type        uint16
	Machine     uint16
	FileVersion uint32
	Entry       uint64
	Phoff       uint64
	Shoff       uint64
	Flags       uint32
	Ehsize      uint16
	Phentsize   uint16
	Phnum       uint16
	Shentsize   uint16
	Shnum       uint16
	Shstrndx    uint16
}

// Is64 reports whether the image declares the 64-bit layout.
func (h Header) Is64() bool {
	return h.Class == Class64
}

// SectionHeader is one decoded section table entry, with its name already
// resolved through the string table section.
type SectionHeader struct {
	Name      string
	NameOff   uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

// Region is a byte range inside the image.
type Region struct {
	Offset uint64
	Size   uint64
}

// Image is a whole executable file resident in memory. All parsing and
// decoding works on Data; nothing reads the file again after Load.
type Image struct {
	Path string
	Data []byte
}

// Load reads the file at path fully into memory.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return &Image{Path: path, Data: data}, nil
}

// IsELF reports whether data starts with the ELF magic bytes.
func IsELF(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], elfMagic[:])
}

// ParseHeader decodes the file header at the start of data. The class
// byte selects the 32- or 64-bit layout and its fixed size; every field
// is read at its class-specific offset with an explicit width.
//
// Multi-byte fields are decoded little-endian regardless of the declared
// Data encoding; the encoding byte is surfaced for reporting only, so a
// big-endian image parses with byte-swapped field values.
func ParseHeader(data []byte) (Header, error) {
	if !IsELF(data) {
		return Header{}, ErrNotELF
	}
	if len(data) < 5 {
		return Header{}, fmt.Errorf("%w: class byte missing", ErrTooShort)
	}

	var h Header
	copy(h.Magic[:], data[:4])

	switch Class(data[4]) {
	case Class32, Class64:
		h.Class = Class(data[4])
	default:
		return Header{}, fmt.Errorf("%w: 0x%02x", ErrUnknownClass, data[4])
	}

	size := HeaderSize64
	if h.Class == Class32 {
		size = HeaderSize32
	}
	if len(data) < size {
		return Header{}, fmt.Errorf("%w: %d bytes, %s header needs %d", ErrTooShort, len(data), h.Class, size)
	}

	h.Data = Data(data[5])
	h.Version = data[6]
	h.OSABI = data[7]
	h.ABIVersion = data[8]

	h.Type = read16(data, 16)
	h.Machine = read16(data, 18)
	h.FileVersion = read32(data, 20)

	// The layouts agree through e_version and then diverge: entry, phoff
	// and shoff widen from 32 to 64 bits, shifting everything after them.
	if h.Class == Class64 {
		h.Entry = read64(data, 24)
		h.Phoff = read64(data, 32)
		h.Shoff = read64(data, 40)
		h.Flags = read32(data, 48)
		h.Ehsize = read16(data, 52)
		h.Phentsize = read16(data, 54)
		h.Phnum = read16(data, 56)
		h.Shentsize = read16(data, 58)
		h.Shnum = read16(data, 60)
		h.Shstrndx = read16(data, 62)
	} else {
		h.Entry = uint64(read32(data, 24))
		h.Phoff = uint64(read32(data, 28))
		h.Shoff = uint64(read32(data, 32))
		h.Flags = read32(data, 36)
		h.Ehsize = read16(data, 40)
		h.Phentsize = read16(data, 42)
		h.Phnum = read16(data, 44)
		h.Shentsize = read16(data, 46)
		h.Shnum = read16(data, 48)
		h.Shstrndx = read16(data, 50)
	}
	return h, nil
}

// Sections decodes the whole section header table with resolved names.
// Only the 64-bit table layout is supported; a 32-bit image still parses
// for header reporting but cannot be walked.
func Sections(data []byte, hdr Header) ([]SectionHeader, error) {
	if !hdr.Is64() {
		return nil, ErrUnsupportedClass
	}
	// Offset 0 means absent: a real table is never at the very start of
	// the image.
	if hdr.Shoff == 0 || hdr.Shnum == 0 {
		return nil, ErrNoSectionTable
	}
	if hdr.Shstrndx >= hdr.Shnum {
		return nil, fmt.Errorf("%w: %d of %d", ErrBadStringTableIndex, hdr.Shstrndx, hdr.Shnum)
	}

	tableSize := uint64(hdr.Shnum) * shdrSize64
	if _, err := ExtractRegion(data, Region{Offset: hdr.Shoff, Size: tableSize}); err != nil {
		return nil, fmt.Errorf("section table: %w", err)
	}

	secs := make([]SectionHeader, hdr.Shnum)
	for i := range secs {
		secs[i] = parseShdr64(data, int(hdr.Shoff)+i*shdrSize64)
	}

	strtab := secs[hdr.Shstrndx]
	pool, err := ExtractRegion(data, Region{Offset: strtab.Offset, Size: strtab.Size})
	if err != nil {
		return nil, fmt.Errorf("string table: %w", err)
	}
	for i := range secs {
		name, err := poolString(pool, secs[i].NameOff)
		if err != nil {
			return nil, err
		}
		secs[i].Name = name
	}
	return secs, nil
}

// FindSection returns the file range of the first section, in ascending
// table order, whose resolved name equals name byte-for-byte. Table order
// is the tie-break when names repeat.
func FindSection(data []byte, hdr Header, name string) (Region, error) {
	secs, err := Sections(data, hdr)
	if err != nil {
		return Region{}, err
	}
	for _, s := range secs {
		if s.Name == name {
			return Region{Offset: s.Offset, Size: s.Size}, nil
		}
	}
	return Region{}, fmt.Errorf("%w: %s", ErrSectionNotFound, name)
}

// ExtractRegion returns the subslice of data covered by r. Bounds are
// checked before any byte is touched; the arithmetic is split to avoid
// offset+size wrapping.
func ExtractRegion(data []byte, r Region) ([]byte, error) {
	if r.Offset > uint64(len(data)) || r.Size > uint64(len(data))-r.Offset {
		return nil, fmt.Errorf("%w: offset 0x%x size 0x%x image 0x%x", ErrRegionOutOfBounds, r.Offset, r.Size, len(data))
	}
	return data[r.Offset : r.Offset+r.Size], nil
}

// poolString reads the zero-terminated name starting at off inside the
// string table pool. An offset at or past the pool end, or a run with no
// terminator, is a bounds error rather than a read past the section.
func poolString(pool []byte, off uint32) (string, error) {
	if uint64(off) >= uint64(len(pool)) {
		return "", fmt.Errorf("%w: name offset 0x%x in pool of 0x%x", ErrRegionOutOfBounds, off, len(pool))
	}
	end := bytes.IndexByte(pool[off:], 0)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated name at 0x%x", ErrRegionOutOfBounds, off)
	}
	return string(pool[off : int(off)+end]), nil
}

func parseShdr64(data []byte, off int) SectionHeader {
	return SectionHeader{
		NameOff:   read32(data, off),
		Type:      read32(data, off+4),
		Flags:     read64(data, off+8),
		Addr:      read64(data, off+16),
		Offset:    read64(data, off+24),
		Size:      read64(data, off+32),
		Link:      read32(data, off+40),
		Info:      read32(data, off+44),
		Addralign: read64(data, off+48),
		Entsize:   read64(data, off+56),
	}
}

// Little-endian field readers. Callers bound-check the enclosing window
// first; these never re-check.

func read16(b []byte, off int) uint16 {
	return uint16(b[off]) | uint16(b[off+1])<<8
}

func read32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

func read64(b []byte, off int) uint64 {
	return uint64(b[off]) | uint64(b[off+1])<<8 | uint64(b[off+2])<<16 | uint64(b[off+3])<<24 |
		uint64(b[off+4])<<32 | uint64(b[off+5])<<40 | uint64(b[off+6])<<48 | uint64(b[off+7])<<56
}
