package elfx

import "fmt"

func (c Class) String() string {
	switch c {
	case Class32:
		return "ELF32"
	case Class64:
		return "ELF64"
	default:
		return fmt.Sprintf("unknown class 0x%02x", byte(c))
	}
}

func (d Data) String() string {
	switch d {
	case DataLittle:
		return "little endian"
	case DataBig:
		return "big endian"
	default:
		return fmt.Sprintf("unknown encoding 0x%02x", byte(d))
	}
}

// TypeName maps an e_type code to its conventional description.
func TypeName(t uint16) string {
	switch t {
	case 0x00:
		return "none"
	case 0x01:
		return "relocatable file"
	case 0x02:
		return "executable file"
	case 0x03:
		return "shared object"
	case 0x04:
		return "core file"
	default:
		return "other"
	}
}

// MachineName maps an e_machine code to its architecture name. Codes
// outside the short list come back empty so reports can fall back to the
// raw value.
func MachineName(m uint16) string {
	switch m {
	case 0x03:
		return "Intel 80386"
	case 0x28:
		return "ARM"
	case 0x3e:
		return "AMD x86-64"
	case 0xb7:
		return "AArch64"
	case 0xf3:
		return "RISC-V"
	default:
		return ""
	}
}

// SectionTypeName maps an sh_type code to its SHT_* mnemonic.
func SectionTypeName(t uint32) string {
	switch t {
	case 0x00:
		return "NULL"
	case 0x01:
		return "PROGBITS"
	case 0x02:
		return "SYMTAB"
	case 0x03:
		return "STRTAB"
	case 0x04:
		return "RELA"
	case 0x05:
		return "HASH"
	case 0x06:
		return "DYNAMIC"
	case 0x07:
		return "NOTE"
	case 0x08:
		return "NOBITS"
	case 0x09:
		return "REL"
	case 0x0a:
		return "SHLIB"
	case 0x0b:
		return "DYNSYM"
	default:
		return "other"
	}
}
