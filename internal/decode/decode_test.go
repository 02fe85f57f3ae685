package decode

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestDisassembleMovNop(t *testing.T) {
	code := []byte{0xb8, 0x01, 0x00, 0x00, 0x00, 0x90}

	insts, err := Disassemble(code, 0, AMD64)
	if err != nil {
		t.Fatalf("Disassemble failed: %v", err)
	}

	want := []Inst{
		{Addr: 0, Op: "mov", Operands: "rax, 0x1", Width: 5},
		{Addr: 5, Op: "nop", Width: 1},
	}
	if !reflect.DeepEqual(insts, want) {
		t.Errorf("got %+v, want %+v", insts, want)
	}
	if line := insts[0].String(); line != "0000: mov rax, 0x1" {
		t.Errorf("got line %q, want %q", line, "0000: mov rax, 0x1")
	}
	if line := insts[1].String(); line != "0005: nop" {
		t.Errorf("got line %q, want %q", line, "0005: nop")
	}
}

func TestDisassembleTruncated(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"opcode alone", []byte{0xb8}},
		{"three operand bytes", []byte{0xbf, 0x01, 0x02, 0x03}},
		{"truncated after nop", []byte{0x90, 0xbb, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insts, err := Disassemble(tt.code, 0, AMD64)
			if !errors.Is(err, ErrTruncatedOperand) {
				t.Fatalf("got err %v, want ErrTruncatedOperand", err)
			}
			if insts != nil {
				t.Errorf("got %d instructions, want none", len(insts))
			}
		})
	}
}

func TestScannerStopsAtTruncation(t *testing.T) {
	s := NewScanner([]byte{0x90, 0xb8, 0x01}, 0, AMD64)

	if !s.Next() {
		t.Fatal("Next returned false before the truncation point")
	}
	if got := s.Inst().Op; got != "nop" {
		t.Errorf("got op %q, want %q", got, "nop")
	}
	if s.Next() {
		t.Error("Next returned true past the truncation point")
	}
	if !errors.Is(s.Err(), ErrTruncatedOperand) {
		t.Errorf("got err %v, want ErrTruncatedOperand", s.Err())
	}
	if s.Next() {
		t.Error("Next returned true after reporting an error")
	}
}

func TestDisassembleUnknownByte(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want string
	}{
		{"high byte", []byte{0xff}, "0000: db 0xff"},
		{"low byte pads to two digits", []byte{0x05}, "0000: db 0x05"},
		{"ret outside i386", []byte{0xc3}, "0000: db 0xc3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insts, err := Disassemble(tt.code, 0, AMD64)
			if err != nil {
				t.Fatalf("Disassemble failed: %v", err)
			}
			if len(insts) != 1 {
				t.Fatalf("got %d instructions, want 1", len(insts))
			}
			if got := insts[0].String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if insts[0].Width != 1 {
				t.Errorf("got width %d, want 1", insts[0].Width)
			}
		})
	}
}

func TestRegisterNames(t *testing.T) {
	tests := []struct {
		profile Profile
		want    [8]string
	}{
		{AMD64, [8]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi"}},
		{I386, [8]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}},
	}

	for _, tt := range tests {
		t.Run(tt.profile.Name, func(t *testing.T) {
			for i := 0; i < 8; i++ {
				code := []byte{0xb8 + byte(i), 0x2a, 0x00, 0x00, 0x00}
				insts, err := Disassemble(code, 0, tt.profile)
				if err != nil {
					t.Fatalf("opcode 0x%02x: %v", 0xb8+i, err)
				}
				want := fmt.Sprintf("%s, 0x2a", tt.want[i])
				if insts[0].Operands != want {
					t.Errorf("opcode 0x%02x: got %q, want %q", 0xb8+i, insts[0].Operands, want)
				}
			}
		})
	}
}

func TestRetOnlyInI386(t *testing.T) {
	insts, err := Disassemble([]byte{0xc3}, 0, I386)
	if err != nil {
		t.Fatalf("Disassemble failed: %v", err)
	}
	if got := insts[0].String(); got != "0000: ret" {
		t.Errorf("got %q, want %q", got, "0000: ret")
	}
}

func TestImmediateLittleEndian(t *testing.T) {
	code := []byte{0xb9, 0x78, 0x56, 0x34, 0x12}

	insts, err := Disassemble(code, 0, AMD64)
	if err != nil {
		t.Fatalf("Disassemble failed: %v", err)
	}
	if got := insts[0].Operands; got != "rcx, 0x12345678" {
		t.Errorf("got %q, want %q", got, "rcx, 0x12345678")
	}
}

func TestBaseAddress(t *testing.T) {
	code := []byte{0x90, 0xb8, 0x00, 0x00, 0x00, 0x00, 0x90}

	insts, err := Disassemble(code, 0x1000, AMD64)
	if err != nil {
		t.Fatalf("Disassemble failed: %v", err)
	}

	wantAddrs := []uint64{0x1000, 0x1001, 0x1006}
	for i, want := range wantAddrs {
		if insts[i].Addr != want {
			t.Errorf("instruction %d: got addr 0x%x, want 0x%x", i, insts[i].Addr, want)
		}
	}
	if got := insts[2].String(); got != "1006: nop" {
		t.Errorf("got %q, want %q", got, "1006: nop")
	}
}

func TestDisassembleDeterministic(t *testing.T) {
	code := []byte{0xb8, 0x01, 0x00, 0x00, 0x00, 0x90, 0xff, 0xc3}

	first, err := Disassemble(code, 0, I386)
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	second, err := Disassemble(code, 0, I386)
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("passes differ: %+v vs %+v", first, second)
	}
}

func TestDisassembleEmpty(t *testing.T) {
	insts, err := Disassemble(nil, 0, AMD64)
	if err != nil {
		t.Fatalf("Disassemble failed: %v", err)
	}
	if len(insts) != 0 {
		t.Errorf("got %d instructions, want none", len(insts))
	}
}

func TestWidthsCoverInput(t *testing.T) {
	code := []byte{0xb8, 0x01, 0x00, 0x00, 0x00, 0x90, 0xff}

	insts, err := Disassemble(code, 0, AMD64)
	if err != nil {
		t.Fatalf("Disassemble failed: %v", err)
	}

	total := 0
	for _, in := range insts {
		total += in.Width
	}
	if total != len(code) {
		t.Errorf("widths sum to %d, want %d", total, len(code))
	}
}
