package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/agent-smeder/internal/audit"
	"github.com/kingrea/agent-smeder/internal/catalog"
	"github.com/kingrea/agent-smeder/internal/traceability"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB347")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	boxStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

func statusStyle(status audit.Status) lipgloss.Style {
	switch status {
	case audit.StatusOrdered, audit.StatusNothingToDo:
		return okStyle
	case audit.StatusDryRun:
		return warnStyle
	default:
		return failStyle
	}
}

// Summary renders the short post-run box printed by `smeder order`.
func Summary(report *audit.Report) string {
	lines := []string{
		titleStyle.Render("smeder " + report.Agent),
		fmt.Sprintf("run:    %s", report.RunID),
		fmt.Sprintf("status: %s", statusStyle(report.Status).Render(string(report.Status))),
	}
	if report.Path != "" {
		lines = append(lines, fmt.Sprintf("report: %s", report.Path))
	} else {
		lines = append(lines, hintStyle.Render("no report file written"))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// ValidationSummary renders the outcome of `smeder validate`.
func ValidationSummary(agent string, report *traceability.Report, findings []string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("validate "+agent) + "\n")
	if report.IsValid() && len(findings) == 0 {
		b.WriteString(okStyle.Render("valid") + "\n")
		return b.String()
	}
	for _, err := range report.Errors() {
		b.WriteString(failStyle.Render("✗ ") + err.Error() + "\n")
	}
	for _, f := range findings {
		b.WriteString(warnStyle.Render("! ") + f + "\n")
	}
	return b.String()
}

// CatalogTable renders cataloged files as aligned columns.
func CatalogTable(refs []catalog.Reference) string {
	width := 0
	for _, ref := range refs {
		if len(ref.Path) > width {
			width = len(ref.Path)
		}
	}
	var b strings.Builder
	for _, ref := range refs {
		owner := ref.Agent
		if owner == "" && ref.Candidate != "" {
			owner = "?" + ref.Candidate
		}
		form := ""
		if ref.Form != nil {
			form = ref.Form.String()
		}
		fmt.Fprintf(&b, "%-*s  %-10s %-28s %s\n", width, ref.Path, ref.Kind, owner, hintStyle.Render(form))
	}
	return b.String()
}
