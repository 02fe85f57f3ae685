package cmd

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"elfscope/internal/decode"
	"elfscope/internal/elfx"
)

func put16(b []byte, off int, v uint16) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
}

func put32(b []byte, off int, v uint32) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
	b[off+2] = byte(v >> 16)
	b[off+3] = byte(v >> 24)
}

func put64(b []byte, off int, v uint64) {
	put32(b, off, uint32(v))
	put32(b, off+4, uint32(v>>32))
}

type testSection struct {
	name string
	data []byte
}

const shdrSize = 64

// buildImage64 assembles a minimal ELF64 image: file header, section
// contents, the name pool, then the section header table.
func buildImage64(sections []testSection) []byte {
	type placed struct {
		nameOff uint32
		off     uint64
		size    uint64
	}

	var body []byte
	pool := []byte{0}
	placedSecs := make([]placed, len(sections))
	for i, s := range sections {
		placedSecs[i].nameOff = uint32(len(pool))
		pool = append(pool, s.name...)
		pool = append(pool, 0)
		placedSecs[i].off = uint64(elfx.HeaderSize64 + len(body))
		placedSecs[i].size = uint64(len(s.data))
		body = append(body, s.data...)
	}
	strtabNameOff := uint32(len(pool))
	pool = append(pool, ".shstrtab"...)
	pool = append(pool, 0)

	poolOff := uint64(elfx.HeaderSize64 + len(body))
	shoff := poolOff + uint64(len(pool))
	shnum := uint16(1 + len(sections) + 1)
	shstrndx := shnum - 1

	img := make([]byte, shoff+uint64(shnum)*shdrSize)
	copy(img, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	put16(img, 16, 2)    // ET_EXEC
	put16(img, 18, 0x3e) // EM_X86_64
	put32(img, 20, 1)
	put64(img, 40, shoff)
	put16(img, 52, elfx.HeaderSize64)
	put16(img, 58, shdrSize)
	put16(img, 60, shnum)
	put16(img, 62, shstrndx)

	copy(img[elfx.HeaderSize64:], body)
	copy(img[poolOff:], pool)

	for i, p := range placedSecs {
		off := int(shoff) + (1+i)*shdrSize
		put32(img, off, p.nameOff)
		put32(img, off+4, 1) // SHT_PROGBITS
		put64(img, off+24, p.off)
		put64(img, off+32, p.size)
	}
	strOff := int(shoff) + int(shstrndx)*shdrSize
	put32(img, strOff, strtabNameOff)
	put32(img, strOff+4, 3) // SHT_STRTAB
	put64(img, strOff+24, poolOff)
	put64(img, strOff+32, uint64(len(pool)))

	return img
}

func writeImage(t *testing.T, img []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.bin")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w

	runErr := fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String(), runErr
}

func TestRunInspect(t *testing.T) {
	t.Setenv("ELFSCOPE_NO_COLOR", "1")

	path := writeImage(t, buildImage64([]testSection{
		{name: ".text", data: []byte{0xb8, 0x01, 0x00, 0x00, 0x00, 0x90}},
	}))

	output, err := captureStdout(t, func() error {
		return runInspect(path, ".text", decode.AMD64, 0)
	})
	if err != nil {
		t.Fatalf("runInspect() error = %v", err)
	}

	want := strings.Join([]string{
		"File is an ELF64 file",
		"Magic: 7f 45 4c 46",
		"Class: ELF64",
		"Data: little endian",
		"Version: 1",
		"OS/ABI: 0",
		"Type: 0x2 (executable file)",
		"Machine: 0x3e (AMD x86-64)",
		"Entry: 0x0",
		"",
		"Found .text section at offset 0x40 with size 0x6",
		"",
		"Disassembly of .text section:",
		"0000: mov rax, 0x1",
		"0005: nop",
		"",
	}, "\n")
	if output != want {
		t.Errorf("output mismatch:\ngot:\n%s\nwant:\n%s", output, want)
	}
}

func TestRunInspectI386(t *testing.T) {
	t.Setenv("ELFSCOPE_NO_COLOR", "1")

	path := writeImage(t, buildImage64([]testSection{
		{name: ".text", data: []byte{0xb8, 0x01, 0x00, 0x00, 0x00, 0xc3}},
	}))

	output, err := captureStdout(t, func() error {
		return runInspect(path, ".text", decode.I386, 0)
	})
	if err != nil {
		t.Fatalf("runInspect() error = %v", err)
	}

	for _, want := range []string{"0000: mov eax, 0x1", "0005: ret"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestRunInspectBaseAddress(t *testing.T) {
	t.Setenv("ELFSCOPE_NO_COLOR", "1")

	path := writeImage(t, buildImage64([]testSection{
		{name: ".text", data: []byte{0x90}},
	}))

	output, err := captureStdout(t, func() error {
		return runInspect(path, ".text", decode.AMD64, 0x1000)
	})
	if err != nil {
		t.Fatalf("runInspect() error = %v", err)
	}
	if !strings.Contains(output, "1000: nop") {
		t.Errorf("output missing rebased line:\n%s", output)
	}
}

func TestRunInspectErrors(t *testing.T) {
	t.Setenv("ELFSCOPE_NO_COLOR", "1")

	notELF := append([]byte("MZ"), make([]byte, 80)...)

	elf32 := make([]byte, elfx.HeaderSize32)
	copy(elf32, []byte{0x7f, 'E', 'L', 'F', 1, 1, 1, 0})

	withText := buildImage64([]testSection{
		{name: ".text", data: []byte{0x90}},
	})
	truncatedImm := buildImage64([]testSection{
		{name: ".text", data: []byte{0x90, 0xb8, 0x01}},
	})

	tests := []struct {
		name    string
		img     []byte
		section string
		wantErr error
	}{
		{"not an ELF image", notELF, ".text", elfx.ErrNotELF},
		{"32-bit image", elf32, ".text", elfx.ErrUnsupportedClass},
		{"section missing", withText, ".data", elfx.ErrSectionNotFound},
		{"truncated immediate", truncatedImm, ".text", decode.ErrTruncatedOperand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeImage(t, tt.img)
			_, err := captureStdout(t, func() error {
				return runInspect(path, tt.section, decode.AMD64, 0)
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("runInspect() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunSections(t *testing.T) {
	t.Setenv("ELFSCOPE_NO_COLOR", "1")

	path := writeImage(t, buildImage64([]testSection{
		{name: ".text", data: []byte{0x90}},
		{name: ".rodata", data: []byte{1, 2, 3}},
	}))

	output, err := captureStdout(t, func() error {
		return runSections(path)
	})
	if err != nil {
		t.Fatalf("runSections() error = %v", err)
	}

	if !strings.HasPrefix(output, "Section headers (4 entries):") {
		t.Errorf("missing count line:\n%s", output)
	}
	for _, want := range []string{".text", ".rodata", ".shstrtab", "PROGBITS", "STRTAB", "NULL"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestIsaProfile(t *testing.T) {
	tests := []struct {
		name     string
		isa      string
		wantName string
		wantErr  bool
	}{
		{"amd64", "amd64", "amd64", false},
		{"i386", "i386", "i386", false},
		{"unknown", "arm64", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := isaProfile(tt.isa)
			if (err != nil) != tt.wantErr {
				t.Fatalf("isaProfile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Name != tt.wantName {
				t.Errorf("profile = %q, want %q", p.Name, tt.wantName)
			}
		})
	}
}

func TestParseBase(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    uint64
		wantErr bool
	}{
		{"zero", "0", 0, false},
		{"decimal", "4096", 4096, false},
		{"hex", "0x400000", 0x400000, false},
		{"garbage", "zzz", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBase(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseBase() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("parseBase() = 0x%x, want 0x%x", got, tt.want)
			}
		})
	}
}

func TestHeaderLinesMachineFallback(t *testing.T) {
	hdr := elfx.Header{
		Magic:   [4]byte{0x7f, 'E', 'L', 'F'},
		Class:   elfx.Class64,
		Data:    elfx.DataLittle,
		Version: 1,
		Type:    0x03,
		Machine: 0xb00,
		Entry:   0x1234,
	}

	lines := headerLines(hdr)
	joined := strings.Join(lines, "\n")

	if !strings.Contains(joined, "Type: 0x3 (shared object)") {
		t.Errorf("missing type line:\n%s", joined)
	}
	// 0xb00 has no name, so the raw code stands alone
	if !strings.Contains(joined, "Machine: 0xb00") {
		t.Errorf("missing machine line:\n%s", joined)
	}
	if strings.Contains(joined, "Machine: 0xb00 (") {
		t.Errorf("machine should have no name annotation:\n%s", joined)
	}
}
