package audit

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/agent-smeder/internal/artifact"
	smerr "github.com/kingrea/agent-smeder/internal/errors"
	"github.com/kingrea/agent-smeder/internal/fs"
	"github.com/kingrea/agent-smeder/internal/relocation"
	"github.com/kingrea/agent-smeder/internal/traceability"
)

var (
	started  = time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC)
	finished = started.Add(2 * time.Second)
)

func samplePlan() *relocation.Plan {
	return &relocation.Plan{
		Agent: "agent-smeder",
		Entries: []relocation.Entry{
			{Source: "aeo.02.agent-smeder/agent-smeder.charter.md", Destination: "artefacten/aeo.02.agent-smeder/agent-smeder.charter.md"},
		},
		Assumptions: []string{"value stream inferred from folder"},
		Missing: []traceability.MissingEdge{{
			Edge: traceability.Edge{
				From: traceability.Slot{Kind: artifact.KindCharter},
				To:   traceability.Slot{Kind: artifact.KindContract, Intent: artifact.Intent{Name: "orden"}},
			},
			Absent:  traceability.Slot{Kind: artifact.KindContract, Intent: artifact.Intent{Name: "orden"}},
			Present: []string{"aeo.02.agent-smeder/agent-smeder.charter.md"},
		}},
		Conflicts: []relocation.Conflict{
			{Code: smerr.EDuplicateCharter, Slot: "charter", Paths: []string{"a.charter.md", "b.charter.md"}, Reason: "two charters"},
		},
	}
}

func TestRenderSectionsInFixedOrder(t *testing.T) {
	plan := samplePlan()
	report := Render(Input{
		RunID:      "run-1",
		Agent:      "agent-smeder",
		Inputs:     []string{"agent: agent-smeder"},
		Read:       []string{"b.md", "a.md", "b.md"},
		Plan:       plan,
		Result:     &relocation.Result{Moved: plan.Entries},
		StartedAt:  started,
		FinishedAt: finished,
	})
	if report.Status != StatusOrdered {
		t.Fatalf("status = %s", report.Status)
	}
	doc := string(report.Block)
	order := []string{"## Inputs", "## Files read", "## Files moved", "## Files rewritten", "## Assumptions", "## Conflicts", "## Outcome"}
	last := -1
	for _, heading := range order {
		idx := strings.Index(doc, heading)
		if idx <= last {
			t.Fatalf("%s out of order in:\n%s", heading, doc)
		}
		last = idx
	}
	if !strings.Contains(doc, "- a.md\n- b.md\n\n") {
		t.Fatalf("files read must be sorted and unique:\n%s", doc)
	}
	assumptions := doc[strings.Index(doc, "## Assumptions"):strings.Index(doc, "## Conflicts")]
	conflicts := doc[strings.Index(doc, "## Conflicts"):strings.Index(doc, "## Outcome")]
	if !strings.Contains(conflicts, "E_DUPLICATE_CHARTER `charter`") {
		t.Fatalf("conflict missing:\n%s", doc)
	}
	if strings.Contains(conflicts, "E_MISSING_EDGE") {
		t.Fatalf("missing edges are not conflicts:\n%s", doc)
	}
	if !strings.Contains(assumptions, "E_MISSING_EDGE `charter -> contract[orden]`: no contract[orden] yet; ordered `aeo.02.agent-smeder/agent-smeder.charter.md` without it") {
		t.Fatalf("missing edge must be an assumption:\n%s", doc)
	}
	if !strings.Contains(doc, "`aeo.02.agent-smeder/agent-smeder.charter.md` -> `artefacten/aeo.02.agent-smeder/agent-smeder.charter.md`") {
		t.Fatalf("move missing:\n%s", doc)
	}
}

func TestRenderOutcomes(t *testing.T) {
	empty := &relocation.Plan{Agent: "agent-smeder", Entries: []relocation.Entry{{Source: "x", Destination: "x"}}}
	tests := []struct {
		name   string
		in     Input
		status Status
		text   string
	}{
		{"no-op", Input{Plan: empty, Result: &relocation.Result{}}, StatusNothingToDo, "No relocation needed."},
		{"dry-run", Input{Plan: samplePlan(), DryRun: true}, StatusDryRun, "(planned, not executed)"},
		{"rolled-back", Input{Plan: samplePlan(), Result: &relocation.Result{RolledBack: true}, Fatal: errors.New("disk full"), FatalCode: "E_STAGING_FAILURE"}, StatusRolledBack, "E_STAGING_FAILURE: disk full"},
		{"commit-failed", Input{
			Plan:      samplePlan(),
			Result:    &relocation.Result{States: map[string]relocation.FileState{"a.md": relocation.StateDuplicated}},
			Fatal:     errors.New("permission denied"),
			FatalCode: "E_COMMIT_FAILURE",
		}, StatusCommitFailed, "- `a.md`: duplicated"},
		{"fatal", Input{Fatal: errors.New("bad name"), FatalCode: "E_INVALID_AGENT_NAME"}, StatusFailed, "Stopped before any file was changed."},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.in.Agent = "agent-smeder"
			report := Render(test.in)
			if report.Status != test.status {
				t.Fatalf("status = %s, want %s", report.Status, test.status)
			}
			if !strings.Contains(string(report.Block), test.text) {
				t.Fatalf("expected %q in:\n%s", test.text, report.Block)
			}
		})
	}
}

func TestWriteAppendsRuns(t *testing.T) {
	root := t.TempDir()
	fsys := fs.NewOS()
	first := Render(Input{RunID: "run-1", Agent: "agent-smeder", Plan: samplePlan(), DryRun: true})
	if err := Write(fsys, root, first, started); err != nil {
		t.Fatalf("write first: %v", err)
	}
	second := Render(Input{RunID: "run-2", Agent: "agent-smeder", Fatal: errors.New("locked"), FatalCode: "E_LOCKED"})
	if err := Write(fsys, root, second, finished); err != nil {
		t.Fatalf("write second: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "docs", "resultaten", "agent-smeder", "orden-agent-agent-smeder.md"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var header Header
	body, err := artifact.ParseFrontMatter(data, &header)
	if err != nil {
		t.Fatalf("parse report: %v", err)
	}
	if header.Runs != 2 || header.LastRunID != "run-2" || header.LastStatus != StatusFailed {
		t.Fatalf("header = %+v", header)
	}
	text := string(body)
	if strings.Index(text, "run run-1") < 0 || strings.Index(text, "run run-1") > strings.Index(text, "run run-2") {
		t.Fatalf("runs must be kept in order:\n%s", text)
	}
}
