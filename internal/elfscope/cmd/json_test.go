package cmd

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"elfscope/internal/decode"
	"elfscope/internal/elfx"
)

func TestRunJSON(t *testing.T) {
	t.Setenv("ELFSCOPE_NO_COLOR", "1")

	img := buildImage64([]testSection{
		{name: ".text", data: []byte{0xb8, 0x01, 0x00, 0x00, 0x00, 0x90, 0xff}},
	})
	path := writeImage(t, img)

	output, err := captureStdout(t, func() error {
		return runJSON(path, ".text", decode.AMD64, 0)
	})
	if err != nil {
		t.Fatalf("runJSON() error = %v", err)
	}

	var got JSONOutput
	if err := json.Unmarshal([]byte(output), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, output)
	}

	wantDigest := fmt.Sprintf("%x", sha256.Sum256(img))
	if got.Digest != wantDigest {
		t.Errorf("digest = %s, want %s", got.Digest, wantDigest)
	}
	if got.File != path {
		t.Errorf("file = %s, want %s", got.File, path)
	}

	if got.Header.Class != "ELF64" {
		t.Errorf("header class = %q, want ELF64", got.Header.Class)
	}
	if got.Header.Data != "little endian" {
		t.Errorf("header data = %q, want little endian", got.Header.Data)
	}
	if got.Header.TypeName != "executable file" {
		t.Errorf("header type name = %q, want executable file", got.Header.TypeName)
	}
	if got.Header.MachineName != "AMD x86-64" {
		t.Errorf("header machine name = %q, want AMD x86-64", got.Header.MachineName)
	}
	if got.Header.Shnum != 3 {
		t.Errorf("header shnum = %d, want 3", got.Header.Shnum)
	}

	if got.Section.Name != ".text" || got.Section.Offset != "0x40" || got.Section.Size != "0x7" {
		t.Errorf("section = %+v, want .text at 0x40 size 0x7", got.Section)
	}

	wantInsts := []instructionJSON{
		{Address: "0x0", Op: "mov", Operands: "rax, 0x1", Width: 5, Text: "0000: mov rax, 0x1"},
		{Address: "0x5", Op: "nop", Width: 1, Text: "0005: nop"},
		{Address: "0x6", Op: "db", Operands: "0xff", Width: 1, Text: "0006: db 0xff"},
	}
	if len(got.Instructions) != len(wantInsts) {
		t.Fatalf("got %d instructions, want %d", len(got.Instructions), len(wantInsts))
	}
	for i, want := range wantInsts {
		if got.Instructions[i] != want {
			t.Errorf("instruction %d = %+v, want %+v", i, got.Instructions[i], want)
		}
	}
}

func TestRunJSONSectionMissing(t *testing.T) {
	t.Setenv("ELFSCOPE_NO_COLOR", "1")

	path := writeImage(t, buildImage64([]testSection{
		{name: ".text", data: []byte{0x90}},
	}))

	_, err := captureStdout(t, func() error {
		return runJSON(path, ".data", decode.AMD64, 0)
	})
	if !errors.Is(err, elfx.ErrSectionNotFound) {
		t.Errorf("runJSON() error = %v, want ErrSectionNotFound", err)
	}
}
