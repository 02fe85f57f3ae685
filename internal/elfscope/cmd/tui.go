package cmd

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	pathpkg "path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"elfscope/internal/decode"
	"elfscope/internal/elfscope/styles"
	"elfscope/internal/elfx"
	"elfscope/internal/ui/colorize"
)

type viewMode int

const (
	viewOverview viewMode = iota
	viewListing
	viewSections
)

type sectionItem struct {
	index int
	sec   elfx.SectionHeader
}

func (i sectionItem) Title() string {
	return fmt.Sprintf("%-20s %-9s 0x%x", i.sec.Name, elfx.SectionTypeName(i.sec.Type), i.sec.Size)
}

func (i sectionItem) Description() string { return "" }

func (i sectionItem) FilterValue() string { return i.sec.Name }

// Custom item delegate for the sections list
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(sectionItem)
	if !ok {
		return
	}

	// Style the name differently for selected items
	var nameStyle lipgloss.Style
	cursor := " "
	if index == m.Index() {
		nameStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170")) // Purple for selected name
		cursor = ">"
	} else {
		nameStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252")) // Light gray for normal name
	}

	idxStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))  // Gray for table index
	typeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("81"))  // Cyan for section type
	sizeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // Orange for size

	fmt.Fprintf(w, "%s %s %s %s %s",
		cursor,
		idxStyle.Render(fmt.Sprintf("[%2d]", i.index)),
		nameStyle.Render(fmt.Sprintf("%-20s", i.sec.Name)),
		typeStyle.Render(fmt.Sprintf("%-9s", elfx.SectionTypeName(i.sec.Type))),
		sizeStyle.Render(fmt.Sprintf("0x%x", i.sec.Size)),
	)
}

type model struct {
	viewport       viewport.Model
	listingView    viewport.Model
	sectionsList   list.Model
	spinner        spinner.Model
	mode           viewMode
	filepath       string
	section        string
	profile        decode.Profile
	base           uint64
	digest         string
	img            *elfx.Image
	header         *elfx.Header
	headerErr      error
	sections       []elfx.SectionHeader
	region         *elfx.Region
	listing        []string
	listingErr     error
	loadingDigest  bool
	loadingImage   bool
	loadingListing bool
	width          int
	height         int
}

// Message types
type digestCalculatedMsg struct {
	digest string
}

type imageParsedMsg struct {
	img      *elfx.Image
	header   elfx.Header
	sections []elfx.SectionHeader
	err      error
}

type listingMsg struct {
	section string
	region  *elfx.Region
	lines   []string
	err     error
}

// Commands
func calculateDigestCmd(filepath string) tea.Cmd {
	return func() tea.Msg {
		// Check if file exists first
		if _, err := os.Stat(filepath); err != nil {
			return digestCalculatedMsg{digest: fmt.Sprintf("file not found: %s", filepath)}
		}

		file, err := os.Open(filepath)
		if err != nil {
			return digestCalculatedMsg{digest: fmt.Sprintf("error: %v", err)}
		}
		defer file.Close()

		hash := sha256.New()
		if _, err := io.Copy(hash, file); err != nil {
			return digestCalculatedMsg{digest: fmt.Sprintf("error: %v", err)}
		}

		return digestCalculatedMsg{digest: fmt.Sprintf("%x", hash.Sum(nil))}
	}
}

func parseImageCmd(filepath string) tea.Cmd {
	return func() tea.Msg {
		img, err := elfx.Load(filepath)
		if err != nil {
			return imageParsedMsg{err: err}
		}

		hdr, err := elfx.ParseHeader(img.Data)
		if err != nil {
			return imageParsedMsg{err: err}
		}

		// Header views work without a section table; the listing command
		// reports its own failure for images where sections are missing
		secs, err := elfx.Sections(img.Data, hdr)
		if err != nil {
			secs = nil
		}

		return imageParsedMsg{img: img, header: hdr, sections: secs}
	}
}

func disassembleCmd(img *elfx.Image, hdr elfx.Header, section string, profile decode.Profile, base uint64) tea.Cmd {
	return func() tea.Msg {
		region, err := elfx.FindSection(img.Data, hdr, section)
		if err != nil {
			return listingMsg{section: section, err: err}
		}

		code, err := elfx.ExtractRegion(img.Data, region)
		if err != nil {
			return listingMsg{section: section, region: &region, err: err}
		}

		insts, err := decode.Disassemble(code, base, profile)
		if err != nil {
			return listingMsg{section: section, region: &region, err: err}
		}

		lines := make([]string, 0, len(insts))
		for _, in := range insts {
			lines = append(lines, colorize.ColorizeInstructionLine(in.String()))
		}
		return listingMsg{section: section, region: &region, lines: lines}
	}
}

func NewModel(filepath, section string, profile decode.Profile, base uint64) model {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	lv := viewport.New()
	lv.SetWidth(80)
	lv.SetHeight(24)

	// Create custom item delegate
	delegate := itemDelegate{}

	sectionsList := list.New([]list.Item{}, delegate, 80, 24)
	sectionsList.SetShowStatusBar(false)
	sectionsList.SetFilteringEnabled(true)
	sectionsList.Title = "Sections"
	sectionsList.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("99")).
		MarginLeft(2)
	sectionsList.SetShowHelp(true)

	// Create spinner
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	m := model{
		viewport:      vp,
		listingView:   lv,
		sectionsList:  sectionsList,
		spinner:       s,
		mode:          viewOverview,
		filepath:      filepath,
		section:       section,
		profile:       profile,
		base:          base,
		digest:        "",
		loadingDigest: true,
		loadingImage:  true,
		width:         80,
		height:        24,
	}

	// Set initial content
	m.updateContent()
	m.updateListing()

	return m
}

func (m model) Init() tea.Cmd {
	// Start calculating the digest, parsing the image, and the spinner
	return tea.Batch(
		calculateDigestCmd(m.filepath),
		parseImageCmd(m.filepath),
		m.spinner.Tick,
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case digestCalculatedMsg:
		m.digest = msg.digest
		m.loadingDigest = false
		// Update the content with the digest
		m.updateContent()
		return m, nil

	case imageParsedMsg:
		m.loadingImage = false
		if msg.err != nil {
			m.headerErr = msg.err
			m.updateContent()
			return m, nil
		}
		hdr := msg.header
		m.img = msg.img
		m.header = &hdr
		m.sections = msg.sections
		m.updateSectionsList()
		m.updateContent()
		// Kick off the listing for the requested section
		m.loadingListing = true
		return m, disassembleCmd(m.img, hdr, m.section, m.profile, m.base)

	case listingMsg:
		m.loadingListing = false
		m.section = msg.section
		m.region = msg.region
		m.listing = msg.lines
		m.listingErr = msg.err
		m.updateListing()
		m.updateContent()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		// Only continue spinner if we're still loading something
		if m.loadingDigest || m.loadingImage || m.loadingListing {
			m.updateContent()
			return m, cmd
		}
		return m, nil

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.viewport.SetWidth(msg.Width)
			m.viewport.SetHeight(msg.Height - 2)
			m.listingView.SetWidth(msg.Width)
			m.listingView.SetHeight(msg.Height - 2)
			m.sectionsList.SetWidth(msg.Width)
			m.sectionsList.SetHeight(msg.Height - 2)

			m.updateContent()
		}

	case tea.KeyMsg:
		// If we're in sections view and the list is filtering, let it handle the keys first
		if m.mode == viewSections && m.sectionsList.FilterState() == list.Filtering {
			// Only handle essential keys that should work even during filtering
			switch msg.String() {
			case "q", "ctrl+c":
				return m, tea.Quit
			case "esc":
				// Let the list handle ESC to exit filtering
				break
			default:
				// Pass all other keys to the list when filtering
				break
			}
		} else {
			// Normal key handling when not filtering
			switch msg.String() {
			case "q", "ctrl+c":
				return m, tea.Quit
			case "o":
				// Show overview
				m.mode = viewOverview
				return m, nil
			case "l":
				// Show listing view once a decode attempt finished
				if m.listing != nil || m.listingErr != nil {
					m.mode = viewListing
				}
				return m, nil
			case "s":
				// Show sections view if we have sections
				if len(m.sections) > 0 {
					m.mode = viewSections
				}
				return m, nil
			case "enter":
				// If in sections view, disassemble the selected section
				if m.mode == viewSections {
					if selectedItem := m.sectionsList.SelectedItem(); selectedItem != nil {
						if item, ok := selectedItem.(sectionItem); ok && m.img != nil && item.sec.Name != "" {
							m.section = item.sec.Name
							m.loadingListing = true
							m.mode = viewListing
							m.updateListing()
							return m, tea.Batch(
								disassembleCmd(m.img, *m.header, m.section, m.profile, m.base),
								m.spinner.Tick,
							)
						}
					}
				}
				return m, nil
			case "tab":
				// Cycle forward through views
				switch m.mode {
				case viewOverview:
					if m.listing != nil || m.listingErr != nil {
						m.mode = viewListing
					} else if len(m.sections) > 0 {
						m.mode = viewSections
					}
				case viewListing:
					if len(m.sections) > 0 {
						m.mode = viewSections
					} else {
						m.mode = viewOverview
					}
				case viewSections:
					m.mode = viewOverview
				}
				return m, nil
			case "shift+tab":
				// Cycle backward through views
				switch m.mode {
				case viewOverview:
					if len(m.sections) > 0 {
						m.mode = viewSections
					} else if m.listing != nil || m.listingErr != nil {
						m.mode = viewListing
					}
				case viewListing:
					m.mode = viewOverview
				case viewSections:
					if m.listing != nil || m.listingErr != nil {
						m.mode = viewListing
					} else {
						m.mode = viewOverview
					}
				}
				return m, nil
			}
		}
	}

	// Update the active view
	switch m.mode {
	case viewSections:
		m.sectionsList, cmd = m.sectionsList.Update(msg)
	case viewListing:
		m.listingView, cmd = m.listingView.Update(msg)
	default:
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m model) View() string {
	var content string
	switch m.mode {
	case viewSections:
		content = m.sectionsList.View()
	case viewListing:
		content = m.listingView.View()
	default:
		content = m.viewport.View()
	}

	// Add menu bar at the bottom
	var menu string
	switch m.mode {
	case viewSections:
		menu = " Enter: disassemble • O: overview • L: listing • Tab: cycle • Q: quit "
	case viewListing:
		menu = " O: overview • S: sections • Tab: cycle • Q: quit "
	default: // viewOverview
		if len(m.sections) > 0 {
			menu = " L: listing • S: sections • Tab: cycle • Q: quit "
		} else {
			menu = " Q: quit "
		}
	}

	// Style the menu bar
	menuStyle := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1).
		Width(m.width)

	return content + "\n" + menuStyle.Render(menu)
}

func (m *model) updateContent() {
	// Get relative path from current directory
	relPath := m.filepath
	if cwd, err := os.Getwd(); err == nil {
		if rel, err := pathpkg.Rel(cwd, m.filepath); err == nil {
			relPath = rel
		}
	}

	var lines []string

	// Split path into directory and filename
	dir := pathpkg.Dir(relPath)
	base := pathpkg.Base(relPath)

	// Add directory path
	if dir != "." {
		lines = append(lines, fmt.Sprintf("; %s/", dir))
	}

	lines = append(lines, fmt.Sprintf("; %s", base))

	// Add digest
	if m.digest != "" {
		lines = append(lines, fmt.Sprintf("; %s", m.digest))
	} else if m.loadingDigest {
		lines = append(lines, "; Calculating digest...")
	}

	markdown := fmt.Sprintf("# Elfscope\n\n```\n%s\n```", strings.Join(lines, "\n"))

	// Add the header report once parsed
	if m.headerErr != nil {
		markdown += fmt.Sprintf("\n\n## Header\n\n%v", m.headerErr)
	} else if m.header != nil {
		hdrBlock := fmt.Sprintf("File is an %s file\n%s",
			m.header.Class, strings.Join(headerLines(*m.header), "\n"))
		markdown += fmt.Sprintf("\n\n## Header\n\n```\n%s\n```", hdrBlock)
	}

	// Add section status once the decode attempt finished
	if m.listingErr != nil {
		markdown += fmt.Sprintf("\n\n## Listing\n\n%v", m.listingErr)
	} else if m.region != nil {
		markdown += fmt.Sprintf("\n\n## Listing\n\nFound %s section at offset 0x%x with size 0x%x. Press L for the listing.",
			m.section, m.region.Offset, m.region.Size)
	}

	// Add loading spinner after the code block if needed
	if m.loadingImage {
		markdown += fmt.Sprintf("\n\n%s Parsing image...", m.spinner.View())
	}
	if m.loadingListing {
		markdown += fmt.Sprintf("\n\n%s Disassembling %s...", m.spinner.View(), m.section)
	}
	if m.loadingDigest && m.digest == "" {
		markdown += fmt.Sprintf("\n\n%s Calculating digest...", m.spinner.View())
	}

	// Render markdown using glamour
	width := m.width
	if width == 0 {
		width = 80
	}
	renderer := styles.GetMarkdownRenderer(width - 2)
	rendered, _ := renderer.Render(markdown)
	m.viewport.SetContent(strings.TrimSuffix(rendered, "\n"))
}

func (m *model) updateListing() {
	if m.loadingListing {
		m.listingView.SetContent(fmt.Sprintf("Disassembling %s...", m.section))
		return
	}
	if m.listingErr != nil {
		m.listingView.SetContent(fmt.Sprintf("Cannot disassemble %s: %v", m.section, m.listingErr))
		return
	}
	if m.listing == nil {
		m.listingView.SetContent("No listing available")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Disassembly of %s section:\n\n", m.section)
	for _, line := range m.listing {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	m.listingView.SetContent(b.String())
	m.listingView.GotoTop()
}

func (m *model) updateSectionsList() {
	items := make([]list.Item, 0, len(m.sections))
	for i, sec := range m.sections {
		items = append(items, sectionItem{index: i, sec: sec})
	}
	m.sectionsList.SetItems(items)
}
