package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/agent-smeder/internal/audit"
	"github.com/kingrea/agent-smeder/internal/catalog"
	"github.com/kingrea/agent-smeder/internal/pathgrammar"
)

func testCandidates(t *testing.T) []catalog.Candidate {
	t.Helper()
	g, err := pathgrammar.New(pathgrammar.DefaultConventions())
	if err != nil {
		t.Fatal(err)
	}
	var out []catalog.Candidate
	for _, p := range []string{"inbox/agent-smeder.charter.md", "inbox/agent-smeder.orden.agent.md"} {
		out = append(out, catalog.Candidate{Reference: catalog.Reference{Location: g.Parse(p)}, Match: catalog.MatchExact})
	}
	return out
}

func press(p *Picker, msgs ...tea.Msg) *Picker {
	var model tea.Model = p
	for _, msg := range msgs {
		model, _ = model.Update(msg)
	}
	return model.(*Picker)
}

var (
	space = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	down  = tea.KeyMsg{Type: tea.KeyDown}
	enter = tea.KeyMsg{Type: tea.KeyEnter}
	esc   = tea.KeyMsg{Type: tea.KeyEsc}
)

func TestPickerTogglesAndConfirms(t *testing.T) {
	p := NewPicker("agent-smeder", testCandidates(t))
	p = press(p, tea.WindowSizeMsg{Width: 80, Height: 20}, down, space, enter)
	got, err := p.Result()
	if err != nil {
		t.Fatalf("Result returned error: %v", err)
	}
	if len(got) != 1 || got[0] != "inbox/agent-smeder.orden.agent.md" {
		t.Fatalf("selected = %v", got)
	}
}

func TestPickerSelectAll(t *testing.T) {
	p := NewPicker("agent-smeder", testCandidates(t))
	p = press(p, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}}, enter)
	got, err := p.Result()
	if err != nil || len(got) != 2 {
		t.Fatalf("selected = %v, err = %v", got, err)
	}
}

func TestPickerAbort(t *testing.T) {
	p := NewPicker("agent-smeder", testCandidates(t))
	p = press(p, space, esc)
	if _, err := p.Result(); !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
}

func TestSummaryMentionsReportPath(t *testing.T) {
	out := Summary(&audit.Report{Agent: "agent-smeder", RunID: "run-1", Status: audit.StatusOrdered, Path: audit.Path("agent-smeder")})
	if !strings.Contains(out, "orden-agent-agent-smeder.md") || !strings.Contains(out, "ordered") {
		t.Fatalf("unexpected summary:\n%s", out)
	}
}
