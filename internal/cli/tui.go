package cli

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/tilecraft/pkg/feature"
)

// List styles
var (
	listSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	listNormalStyle   = lipgloss.NewStyle().Foreground(colorWhite)
	listDimStyle      = lipgloss.NewStyle().Foreground(colorDim)
)

// =============================================================================
// CategoryPickerModel - Interactive feature category selection
// =============================================================================

// CategoryPickerModel is the bubbletea model for picking feature categories.
type CategoryPickerModel struct {
	Categories []feature.Category
	Picked     map[string]bool
	Cursor     int
	Height     int
	Offset     int

	// Done is set when the selection was confirmed; quitting leaves it false.
	Done bool
}

// NewCategoryPickerModel creates a picker over categories with the given
// names preselected.
func NewCategoryPickerModel(categories []feature.Category, preselected []string) CategoryPickerModel {
	picked := make(map[string]bool, len(preselected))
	for _, name := range preselected {
		picked[name] = true
	}
	return CategoryPickerModel{
		Categories: categories,
		Picked:     picked,
		Height:     15,
	}
}

// Selection returns the picked category names in catalogue order.
func (m CategoryPickerModel) Selection() []string {
	var names []string
	for _, c := range m.Categories {
		if m.Picked[c.Name] {
			names = append(names, c.Name)
		}
	}
	return names
}

func (m CategoryPickerModel) Init() tea.Cmd {
	return nil
}

func (m CategoryPickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.Cursor > 0 {
				m.Cursor--
				if m.Cursor < m.Offset {
					m.Offset = m.Cursor
				}
			}
		case "down", "j":
			if m.Cursor < len(m.Categories)-1 {
				m.Cursor++
				if m.Cursor >= m.Offset+m.Height {
					m.Offset = m.Cursor - m.Height + 1
				}
			}
		case " ", "x":
			if len(m.Categories) > 0 {
				name := m.Categories[m.Cursor].Name
				m.Picked = toggled(m.Picked, name)
			}
		case "g":
			// Toggle the whole group under the cursor.
			if len(m.Categories) > 0 {
				m.Picked = m.toggleGroup(m.Categories[m.Cursor].Group)
			}
		case "enter":
			if len(m.Selection()) == 0 {
				return m, nil
			}
			m.Done = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.Height = msg.Height - 8
		if m.Height < 5 {
			m.Height = 5
		}
	}
	return m, nil
}

// toggled returns a copy of picked with name flipped, so earlier model
// values stay unchanged.
func toggled(picked map[string]bool, name string) map[string]bool {
	out := make(map[string]bool, len(picked)+1)
	for k, v := range picked {
		out[k] = v
	}
	if out[name] {
		delete(out, name)
	} else {
		out[name] = true
	}
	return out
}

// toggleGroup picks every category of group, or clears them all when they
// are already picked.
func (m CategoryPickerModel) toggleGroup(group string) map[string]bool {
	all := true
	for _, c := range m.Categories {
		if c.Group == group && !m.Picked[c.Name] {
			all = false
			break
		}
	}
	out := make(map[string]bool, len(m.Picked))
	for k, v := range m.Picked {
		out[k] = v
	}
	for _, c := range m.Categories {
		if c.Group != group {
			continue
		}
		if all {
			delete(out, c.Name)
		} else {
			out[c.Name] = true
		}
	}
	return out
}

func (m CategoryPickerModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Select Feature Categories"))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ navigate  space toggle  g toggle group  ⏎ confirm  q quit"))
	b.WriteString("\n\n")

	end := min(m.Offset+m.Height, len(m.Categories))

	rows := [][]string{}
	for i := m.Offset; i < end; i++ {
		c := m.Categories[i]

		cursor := "  "
		if i == m.Cursor {
			cursor = "▸ "
		}
		check := "[ ]"
		if m.Picked[c.Name] {
			check = "[x]"
		}
		rows = append(rows, []string{cursor, check, c.Name, c.Group, ruleSummary(c, 40)})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("", "", "Category", "Group", "Tags").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return StyleHeader
			}
			idx := m.Offset + row
			if idx >= len(m.Categories) {
				return lipgloss.NewStyle()
			}
			c := m.Categories[idx]
			switch {
			case idx == m.Cursor:
				return listSelectedStyle
			case col == 4:
				return listDimStyle
			case m.Picked[c.Name]:
				return listNormalStyle.Foreground(colorGreen)
			default:
				return listNormalStyle
			}
		})

	b.WriteString(t.Render())
	b.WriteString("\n\n")
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d]  %d selected", m.Cursor+1, len(m.Categories), len(m.Selection()))))

	return b.String()
}

// ruleSummary renders a category's rules, cut to width runes.
func ruleSummary(c feature.Category, width int) string {
	parts := make([]string, len(c.Rules))
	for i, r := range c.Rules {
		parts[i] = r.String()
	}
	s := strings.Join(parts, " ")
	if r := []rune(s); len(r) > width {
		s = string(r[:width-1]) + "…"
	}
	return s
}

// runCategoryPicker shows the picker and returns the confirmed selection.
// It returns nil when the user quits without confirming.
func runCategoryPicker(preselected []string) ([]string, error) {
	model := NewCategoryPickerModel(feature.Builtin(), preselected)
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return nil, err
	}
	m := final.(CategoryPickerModel)
	if !m.Done {
		return nil, nil
	}
	return m.Selection(), nil
}
