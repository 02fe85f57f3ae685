// Package decode turns raw code bytes into a linear instruction listing
// using a small fixed opcode set.
package decode

import (
	"errors"
	"fmt"
)

// ErrTruncatedOperand reports a load-immediate opcode with fewer than
// four operand bytes remaining. The whole decode stops at that point; no
// partial record is emitted for the truncated instruction.
var ErrTruncatedOperand = errors.New("truncated immediate operand")

// Inst is one decoded instruction.
type Inst struct {
	Addr     uint64 // base-relative address of the first byte
	Op       string // mnemonic in lowercase
	Operands string // formatted operand text, possibly empty
	Width    int    // bytes consumed: 1 or 5
}

// String renders the listing line: four hex digits of address, the
// mnemonic, and the operands when present.
func (in Inst) String() string {
	if in.Operands == "" {
		return fmt.Sprintf("%04x: %s", in.Addr, in.Op)
	}
	return fmt.Sprintf("%04x: %s %s", in.Addr, in.Op, in.Operands)
}

// Profile selects the register names for the 0xb8..0xbf immediate loads
// and any extra single-byte opcodes recognized beyond them. Profiles are
// immutable; decoding never modifies one.
type Profile struct {
	Name  string
	Regs  [8]string
	Extra map[byte]string
}

var (
	// AMD64 names the 64-bit registers. 0xc3 is not part of its opcode
	// set and falls through to the db directive.
	AMD64 = Profile{
		Name:  "amd64",
		Regs:  [8]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi"},
		Extra: map[byte]string{0x90: "nop"},
	}

	// I386 names the 32-bit registers and additionally decodes ret.
	I386 = Profile{
		Name:  "i386",
		Regs:  [8]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"},
		Extra: map[byte]string{0x90: "nop", 0xc3: "ret"},
	}
)

// Scanner decodes src one instruction per Next call, in the manner of
// bufio.Scanner. The cursor only moves forward and never resynchronizes;
// a decode error stops iteration and is reported by Err.
type Scanner struct {
	src     []byte
	base    uint64
	profile Profile
	cursor  int
	inst    Inst
	err     error
}

// NewScanner returns a Scanner over src. Decoded instructions report
// base plus their cursor offset as the address.
func NewScanner(src []byte, base uint64, profile Profile) *Scanner {
	return &Scanner{src: src, base: base, profile: profile}
}

// Next decodes the instruction at the cursor. It returns false when the
// input is exhausted or decoding failed.
func (s *Scanner) Next() bool {
	if s.err != nil || s.cursor >= len(s.src) {
		return false
	}

	addr := s.base + uint64(s.cursor)
	opcode := s.src[s.cursor]

	switch {
	case opcode >= 0xb8 && opcode <= 0xbf:
		if len(s.src)-s.cursor-1 < 4 {
			s.err = fmt.Errorf("%w: opcode 0x%02x at 0x%x", ErrTruncatedOperand, opcode, addr)
			return false
		}
		imm := read32(s.src, s.cursor+1)
		s.inst = Inst{
			Addr:     addr,
			Op:       "mov",
			Operands: fmt.Sprintf("%s, 0x%x", s.profile.Regs[opcode-0xb8], imm),
			Width:    5,
		}
	default:
		if op, ok := s.profile.Extra[opcode]; ok {
			s.inst = Inst{Addr: addr, Op: op, Width: 1}
		} else {
			s.inst = Inst{Addr: addr, Op: "db", Operands: fmt.Sprintf("0x%02x", opcode), Width: 1}
		}
	}

	s.cursor += s.inst.Width
	return true
}

// Inst returns the instruction decoded by the last successful Next.
func (s *Scanner) Inst() Inst {
	return s.inst
}

// Err returns the error that stopped iteration, if any.
func (s *Scanner) Err() error {
	return s.err
}

// Disassemble runs a Scanner over src to completion. A decode error
// discards the partial listing: the failure is fatal for the whole
// region, not a skip.
func Disassemble(src []byte, base uint64, profile Profile) ([]Inst, error) {
	s := NewScanner(src, base, profile)
	var insts []Inst
	for s.Next() {
		insts = append(insts, s.Inst())
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return insts, nil
}

// read32 assembles a little-endian 32-bit value. The caller has already
// checked that four bytes remain at off.
func read32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}
