// internal/tui/picker.go
//
// The candidate picker asks the operator which unowned files belong to the
// agent being ordered. It is a bubbletea program around a bubbles list:
//
//	space toggles a candidate, a selects all, enter confirms, esc aborts.

package tui

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/agent-smeder/internal/catalog"
)

// ErrAborted is returned when the operator leaves the picker without confirming.
var ErrAborted = errors.New("tui: candidate confirmation aborted")

// candidateItem implements list.Item for one candidate file.
type candidateItem struct {
	path     string
	kind     string
	selected bool
}

func (i candidateItem) Title() string {
	mark := "[ ]"
	if i.selected {
		mark = "[x]"
	}
	return mark + " " + i.path
}
func (i candidateItem) Description() string { return i.kind }
func (i candidateItem) FilterValue() string { return i.path }

var pickerKeys = struct {
	toggle, all, confirm, abort key.Binding
}{
	toggle:  key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "toggle")),
	all:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "all")),
	confirm: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "confirm")),
	abort:   key.NewBinding(key.WithKeys("esc", "ctrl+c"), key.WithHelp("esc", "abort")),
}

// Picker is the bubbletea model of the candidate picker.
type Picker struct {
	agent     string
	list      list.Model
	confirmed bool
	aborted   bool
}

// NewPicker builds a picker for agent's candidates. Nothing is preselected.
func NewPicker(agent string, candidates []catalog.Candidate) *Picker {
	items := make([]list.Item, len(candidates))
	for i, c := range candidates {
		items[i] = candidateItem{path: c.Path, kind: fmt.Sprintf("%s, %s match", c.Kind, c.Match)}
	}
	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = fmt.Sprintf("Which files belong to %s?", agent)
	l.Styles.Title = titleStyle
	l.SetFilteringEnabled(false)
	l.AdditionalShortHelpKeys = func() []key.Binding {
		return []key.Binding{pickerKeys.toggle, pickerKeys.all, pickerKeys.confirm, pickerKeys.abort}
	}
	return &Picker{agent: agent, list: l}
}

// Init implements tea.Model.
func (p *Picker) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (p *Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.list.SetSize(msg.Width, msg.Height-2)
		return p, nil
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, pickerKeys.abort):
			p.aborted = true
			return p, tea.Quit
		case key.Matches(msg, pickerKeys.confirm):
			p.confirmed = true
			return p, tea.Quit
		case key.Matches(msg, pickerKeys.toggle):
			p.toggle(p.list.Index())
			return p, nil
		case key.Matches(msg, pickerKeys.all):
			p.selectAll()
			return p, nil
		}
	}
	var cmd tea.Cmd
	p.list, cmd = p.list.Update(msg)
	return p, cmd
}

func (p *Picker) toggle(idx int) {
	items := p.list.Items()
	if idx < 0 || idx >= len(items) {
		return
	}
	item := items[idx].(candidateItem)
	item.selected = !item.selected
	p.list.SetItem(idx, item)
}

func (p *Picker) selectAll() {
	for i, it := range p.list.Items() {
		item := it.(candidateItem)
		item.selected = true
		p.list.SetItem(i, item)
	}
}

// View implements tea.Model.
func (p *Picker) View() string {
	return p.list.View()
}

// Selected returns the chosen paths in list order.
func (p *Picker) Selected() []string {
	var out []string
	for _, it := range p.list.Items() {
		if item := it.(candidateItem); item.selected {
			out = append(out, item.path)
		}
	}
	return out
}

// Result returns the selection once the picker has quit.
func (p *Picker) Result() ([]string, error) {
	if p.aborted || !p.confirmed {
		return nil, ErrAborted
	}
	return p.Selected(), nil
}

// ConfirmCandidates runs the picker on in/out and returns the confirmed paths.
func ConfirmCandidates(in io.Reader, out io.Writer) func(agent string, candidates []catalog.Candidate) ([]string, error) {
	return func(agent string, candidates []catalog.Candidate) ([]string, error) {
		if len(candidates) == 0 {
			return nil, nil
		}
		fmt.Fprintln(out, candidateHint(agent, len(candidates)))
		picker := NewPicker(agent, candidates)
		model, err := tea.NewProgram(picker, tea.WithInput(in), tea.WithOutput(out), tea.WithAltScreen()).Run()
		if err != nil {
			return nil, fmt.Errorf("tui: %w", err)
		}
		return model.(*Picker).Result()
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))
	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))
)

// candidateHint renders the one-line notice printed before the picker opens.
func candidateHint(agent string, n int) string {
	noun := "files"
	if n == 1 {
		noun = "file"
	}
	return hintStyle.Render(strings.TrimSpace(fmt.Sprintf("%d unowned %s look like they belong to %s.", n, noun, agent)))
}
