// Package render formats configuration views for the terminal.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/nano-cluster/nano-compose/pkg/capability"
)

// Cell markers
const (
	Allowed = "✓"
	Denied  = "·"
)

// styles are bound to the renderer of the output stream so colors are only
// emitted when it is a terminal
type styles struct {
	header  lipgloss.Style
	caller  lipgloss.Style
	allowed lipgloss.Style
	denied  lipgloss.Style
	border  lipgloss.Style
	title   lipgloss.Style
	muted   lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("86")).Padding(0, 1),
		caller:  r.NewStyle().Foreground(lipgloss.Color("252")).Padding(0, 1),
		allowed: r.NewStyle().Foreground(lipgloss.Color("86")).Align(lipgloss.Center).Padding(0, 1),
		denied:  r.NewStyle().Foreground(lipgloss.Color("241")).Align(lipgloss.Center).Padding(0, 1),
		border:  r.NewStyle().Foreground(lipgloss.Color("238")),
		title:   r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("243")),
	}
}

// CapabilityMatrix writes the caller-by-callee table of g to w. Rows are
// callers, columns are callees.
func CapabilityMatrix(w io.Writer, g *capability.Graph) error {
	s := newStyles(lipgloss.NewRenderer(w))
	m := g.Matrix()

	headers := append([]string{"caller \\ callee"}, m.Modules...)
	rows := make([][]string, len(m.Modules))
	for i, from := range m.Modules {
		row := make([]string, 0, len(m.Modules)+1)
		row = append(row, from)
		for j := range m.Modules {
			if m.Allowed[i][j] {
				row = append(row, Allowed)
			} else {
				row = append(row, Denied)
			}
		}
		rows[i] = row
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(s.border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return s.header
			case col == 0:
				return s.caller
			case rows[row][col] == Allowed:
				return s.allowed
			default:
				return s.denied
			}
		})

	var b strings.Builder
	b.WriteString(s.title.Render("Capability matrix"))
	b.WriteString("\n")
	b.WriteString(t.String())
	b.WriteString("\n")
	b.WriteString(s.muted.Render(restrictionSummary(g)))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func restrictionSummary(g *capability.Graph) string {
	var lines []string
	for _, name := range g.Modules() {
		callers, restricted, _ := g.OnlyFrom(name)
		if !restricted {
			continue
		}
		if len(callers) == 0 {
			lines = append(lines, fmt.Sprintf("%s accepts no callers", name))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s only accepts %s", name, strings.Join(callers, ", ")))
	}
	if len(lines) == 0 {
		return "no module restricts its callers"
	}
	return strings.Join(lines, "\n")
}
