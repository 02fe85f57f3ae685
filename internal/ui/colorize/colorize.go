package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// getAssemblyLexer returns an appropriate assembly lexer with fallbacks
func getAssemblyLexer() chroma.Lexer {
	// Try lexers in order of preference (Intel syntax first)
	candidates := []string{"nasm", "gas", "GAS", "Gas", "armasm"}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	// Try our custom style first, then fallbacks
	candidates := []string{"disasm-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	// Try high-color first, then fallback
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// ColorizeListing applies syntax highlighting to a multi-line listing
func ColorizeListing(code string) (string, error) {
	// Check if colors are disabled
	if os.Getenv("ELFSCOPE_NO_COLOR") != "" {
		return code, nil
	}

	lexer := getAssemblyLexer()
	if lexer == nil {
		// Return plain text if no assembly lexer available
		return code, nil
	}

	style := getDisasmStyle()
	formatter := getTerminalFormatter()

	// Tokenize the code
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}

	// Format the tokens
	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code, err
	}

	return buf.String(), nil
}

// ColorizeInstructionLine colorizes a single listing line while keeping
// the address column in gray.
// Format: "0000: mnemonic operands" or "0005: db 0xff"
func ColorizeInstructionLine(line string) string {
	// Check if colors are disabled
	if os.Getenv("ELFSCOPE_NO_COLOR") != "" {
		return line
	}

	// Split off the address column. It is hex digits followed by a colon.
	addr, rest, found := strings.Cut(line, ": ")
	if !found || !isHexString(addr) {
		// Not a listing line, colorize it whole
		return colorizeFullLine(line)
	}

	// Color address in gray (79, 79, 79)
	addrColored := fmt.Sprintf("\033[38;2;79;79;79m%s:\033[0m", addr)

	// Use Chroma for the rest of the line
	colorized := colorizeFullLine(rest)

	return fmt.Sprintf("%s %s", addrColored, colorized)
}

// isHexChar checks if a character is a hexadecimal digit
func isHexChar(ch byte) bool {
	return (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

// isHexString checks that s is non-empty and all hex digits
func isHexString(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isHexChar(s[i]) {
			return false
		}
	}
	return true
}

// colorizeFullLine uses Chroma to colorize an assembly line
func colorizeFullLine(line string) string {
	// Check if colors are disabled
	if os.Getenv("ELFSCOPE_NO_COLOR") != "" {
		return line
	}

	// Use nasm lexer which matches the Intel operand syntax
	lexer := lexers.Get("nasm")
	if lexer == nil {
		lexer = lexers.Get("gas")
		if lexer == nil {
			// Return plain text if no lexer available
			return line
		}
	}

	// Make sure our custom style is registered
	_ = DisasmDark // Force registration

	style := getDisasmStyle()
	formatter := getTerminalFormatter()

	// Tokenize the line
	iterator, err := lexer.Tokenise(nil, line)
	if err != nil {
		return line
	}

	// Format the tokens
	var buf strings.Builder
	err = formatter.Format(&buf, style, iterator)
	if err != nil {
		return line
	}

	return buf.String()
}

// StripANSI removes ANSI escape codes and returns the plain string
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
		} else if inEscape {
			if r == 'm' {
				inEscape = false
			}
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}
