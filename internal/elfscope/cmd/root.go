package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"runtime/pprof"
	"strconv"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"elfscope/internal/decode"
	"elfscope/internal/elfscope/log"
	"elfscope/internal/elfx"
	"elfscope/internal/logging"
	"elfscope/internal/ui/colorize"
)

// JSONOutput represents the JSON output structure for regression testing
type JSONOutput struct {
	Digest       string            `json:"digest"`
	File         string            `json:"file"`
	Header       headerJSON        `json:"header"`
	Section      sectionJSON       `json:"section"`
	Instructions []instructionJSON `json:"instructions"`
}

type headerJSON struct {
	Class       string `json:"class"`
	Data        string `json:"data"`
	Version     uint8  `json:"version"`
	OSABI       uint8  `json:"osabi"`
	Type        uint16 `json:"type"`
	TypeName    string `json:"type_name"`
	Machine     uint16 `json:"machine"`
	MachineName string `json:"machine_name,omitempty"`
	Entry       string `json:"entry"`
	Shoff       string `json:"shoff"`
	Shnum       uint16 `json:"shnum"`
	Shstrndx    uint16 `json:"shstrndx"`
}

type sectionJSON struct {
	Name   string `json:"name"`
	Offset string `json:"offset"`
	Size   string `json:"size"`
}

type instructionJSON struct {
	Address  string `json:"address"`
	Op       string `json:"op"`
	Operands string `json:"operands,omitempty"`
	Width    int    `json:"width"`
	Text     string `json:"text"`
}

// isaProfile maps the --isa flag to a decoder profile
func isaProfile(name string) (decode.Profile, error) {
	switch name {
	case "amd64":
		return decode.AMD64, nil
	case "i386":
		return decode.I386, nil
	default:
		return decode.Profile{}, fmt.Errorf("unknown isa %q (expected amd64 or i386)", name)
	}
}

// parseBase accepts decimal or 0x-prefixed listing base addresses
func parseBase(s string) (uint64, error) {
	base, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid base address %q", s)
	}
	return base, nil
}

// headerLines renders the labeled header report shared by the plain
// report, the JSON mode, and the TUI overview
func headerLines(hdr elfx.Header) []string {
	lines := []string{
		fmt.Sprintf("Magic: %02x %02x %02x %02x", hdr.Magic[0], hdr.Magic[1], hdr.Magic[2], hdr.Magic[3]),
		fmt.Sprintf("Class: %s", hdr.Class),
		fmt.Sprintf("Data: %s", hdr.Data),
		fmt.Sprintf("Version: %d", hdr.Version),
		fmt.Sprintf("OS/ABI: %d", hdr.OSABI),
		fmt.Sprintf("Type: 0x%x (%s)", hdr.Type, elfx.TypeName(hdr.Type)),
	}

	if name := elfx.MachineName(hdr.Machine); name != "" {
		lines = append(lines, fmt.Sprintf("Machine: 0x%x (%s)", hdr.Machine, name))
	} else {
		lines = append(lines, fmt.Sprintf("Machine: 0x%x", hdr.Machine))
	}

	lines = append(lines, fmt.Sprintf("Entry: 0x%x", hdr.Entry))
	return lines
}

// runInspect prints the header report and the section listing without the TUI
func runInspect(filePath, section string, profile decode.Profile, base uint64) error {
	img, err := elfx.Load(filePath)
	if err != nil {
		return err
	}

	hdr, err := elfx.ParseHeader(img.Data)
	if err != nil {
		return err
	}

	fmt.Printf("File is an %s file\n", hdr.Class)
	for _, line := range headerLines(hdr) {
		fmt.Println(line)
	}
	fmt.Println()

	region, err := elfx.FindSection(img.Data, hdr, section)
	if err != nil {
		return err
	}
	fmt.Printf("Found %s section at offset 0x%x with size 0x%x\n\n", section, region.Offset, region.Size)

	code, err := elfx.ExtractRegion(img.Data, region)
	if err != nil {
		return err
	}

	insts, err := decode.Disassemble(code, base, profile)
	if err != nil {
		return err
	}

	fmt.Printf("Disassembly of %s section:\n", section)
	for _, in := range insts {
		fmt.Println(colorize.ColorizeInstructionLine(in.String()))
	}
	return nil
}

// runSections prints the whole section header table with resolved names
func runSections(filePath string) error {
	img, err := elfx.Load(filePath)
	if err != nil {
		return err
	}

	hdr, err := elfx.ParseHeader(img.Data)
	if err != nil {
		return err
	}

	secs, err := elfx.Sections(img.Data, hdr)
	if err != nil {
		return err
	}

	fmt.Printf("Section headers (%d entries):\n", len(secs))
	for i, sec := range secs {
		fmt.Printf("  [%2d] %-20s %-9s offset 0x%-8x size 0x%x\n",
			i, sec.Name, elfx.SectionTypeName(sec.Type), sec.Offset, sec.Size)
	}
	return nil
}

func runJSON(filePath, section string, profile decode.Profile, base uint64) error {
	img, err := elfx.Load(filePath)
	if err != nil {
		return err
	}

	digest := sha256.Sum256(img.Data)

	hdr, err := elfx.ParseHeader(img.Data)
	if err != nil {
		return err
	}

	region, err := elfx.FindSection(img.Data, hdr, section)
	if err != nil {
		return err
	}

	code, err := elfx.ExtractRegion(img.Data, region)
	if err != nil {
		return err
	}

	insts, err := decode.Disassemble(code, base, profile)
	if err != nil {
		return err
	}

	output := JSONOutput{
		Digest: fmt.Sprintf("%x", digest),
		File:   filePath,
		Header: headerJSON{
			Class:       hdr.Class.String(),
			Data:        hdr.Data.String(),
			Version:     hdr.Version,
			OSABI:       hdr.OSABI,
			Type:        hdr.Type,
			TypeName:    elfx.TypeName(hdr.Type),
			Machine:     hdr.Machine,
			MachineName: elfx.MachineName(hdr.Machine),
			Entry:       fmt.Sprintf("0x%x", hdr.Entry),
			Shoff:       fmt.Sprintf("0x%x", hdr.Shoff),
			Shnum:       hdr.Shnum,
			Shstrndx:    hdr.Shstrndx,
		},
		Section: sectionJSON{
			Name:   section,
			Offset: fmt.Sprintf("0x%x", region.Offset),
			Size:   fmt.Sprintf("0x%x", region.Size),
		},
	}

	for _, in := range insts {
		output.Instructions = append(output.Instructions, instructionJSON{
			Address:  fmt.Sprintf("0x%x", in.Addr),
			Op:       in.Op,
			Operands: in.Operands,
			Width:    in.Width,
			Text:     in.String(),
		})
	}

	jsonData, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %v", err)
	}

	fmt.Println(string(jsonData))
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().StringP("section", "s", ".text", "Section to disassemble")
	rootCmd.Flags().String("isa", "amd64", "Register naming profile (amd64 or i386)")
	rootCmd.Flags().StringP("base", "b", "0", "Base address for listing addresses")
	rootCmd.Flags().Bool("sections", false, "List all section headers instead of disassembling")
	rootCmd.Flags().BoolP("no-tui", "n", false, "Show the report without TUI")
	rootCmd.Flags().BoolP("json", "j", false, "Output results as JSON for regression testing")
	rootCmd.Flags().String("cpuprofile", "", "Write CPU profile to file")
	rootCmd.Flags().String("memprofile", "", "Write memory profile to file")
}

var rootCmd = &cobra.Command{
	Use:   "elfscope [file]",
	Short: "Terminal-based ELF inspector and toy disassembler",
	Long: `Elfscope inspects ELF container files and disassembles a named section
using a deliberately small x86 opcode set. It provides an interactive TUI
for exploring the header, the section table, and the listing, plus plain
and JSON output modes for scripting.`,
	Example: `
# Inspect a binary interactively
elfscope /path/to/binary

# Print the report without the TUI
elfscope -n /path/to/binary

# Disassemble another section with 32-bit register names
elfscope --section .init --isa i386 /path/to/binary
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup CPU profiling if requested
		cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
		if cpuprofile != "" {
			f, err := os.Create(cpuprofile)
			if err != nil {
				return fmt.Errorf("could not create CPU profile: %v", err)
			}
			defer f.Close()
			if err := pprof.StartCPUProfile(f); err != nil {
				return fmt.Errorf("could not start CPU profile: %v", err)
			}
			defer pprof.StopCPUProfile()
		}

		// Setup memory profiling if requested
		memprofile, _ := cmd.Flags().GetString("memprofile")
		if memprofile != "" {
			defer func() {
				f, err := os.Create(memprofile)
				if err != nil {
					fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
					return
				}
				defer f.Close()
				if err := pprof.WriteHeapProfile(f); err != nil {
					fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
				}
			}()
		}

		debug, _ := cmd.Flags().GetBool("debug")
		log.Setup("", debug || logging.IsDebug())

		file := args[0]

		// Get absolute path
		absPath, err := pathpkg.Abs(file)
		if err != nil {
			return fmt.Errorf("failed to resolve path: %v", err)
		}

		// Check if file exists
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", file)
			}
			return fmt.Errorf("cannot access file: %v", err)
		}

		section, _ := cmd.Flags().GetString("section")
		isa, _ := cmd.Flags().GetString("isa")
		baseFlag, _ := cmd.Flags().GetString("base")
		listSections, _ := cmd.Flags().GetBool("sections")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		noTUI, _ := cmd.Flags().GetBool("no-tui")

		profile, err := isaProfile(isa)
		if err != nil {
			return err
		}

		base, err := parseBase(baseFlag)
		if err != nil {
			return err
		}

		// --sections implies --no-tui
		if listSections {
			noTUI = true
		}

		// Also use no-tui mode when output is being piped
		if !term.IsTerminal(os.Stdout.Fd()) {
			noTUI = true
			os.Setenv("ELFSCOPE_NO_COLOR", "1")
		}

		// Disable coloring when using --no-tui to avoid garbled output
		if noTUI {
			os.Setenv("ELFSCOPE_NO_COLOR", "1")
		}

		if jsonOutput {
			// JSON output mode
			return runJSON(absPath, section, profile, base)
		}

		if listSections {
			return runSections(absPath)
		}

		if noTUI {
			// Non-interactive mode
			return runInspect(absPath, section, profile, base)
		}

		// Set up the TUI.
		program := tea.NewProgram(
			NewModel(absPath, section, profile, base),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
			// Mouse tracking disabled to allow native text selection
		)

		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	},
}

func Execute() {
	// Check if a plain-output flag is present, or if output is being piped,
	// to bypass fang's markdown rendering
	noTUI := false
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" || arg == "--json" || arg == "-j" || arg == "--sections" {
			noTUI = true
			break
		}
	}

	// Also bypass fang when output is being piped
	if !noTUI && !term.IsTerminal(os.Stdout.Fd()) {
		noTUI = true
	}

	if noTUI {
		// Use cobra directly to avoid fang's automatic markdown rendering
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
	} else {
		// Use fang for enhanced CLI experience with markdown rendering
		if err := fang.Execute(
			context.Background(),
			rootCmd,
			fang.WithNotifySignal(os.Interrupt),
		); err != nil {
			os.Exit(1)
		}
	}
}
