package traceability

import (
	"testing"

	"github.com/kingrea/agent-smeder/internal/artifact"
	"github.com/kingrea/agent-smeder/internal/catalog"
	"github.com/kingrea/agent-smeder/internal/pathgrammar"
)

func refs(t *testing.T, paths ...string) []catalog.Reference {
	t.Helper()
	g, err := pathgrammar.New(pathgrammar.DefaultConventions())
	if err != nil {
		t.Fatalf("grammar: %v", err)
	}
	out := make([]catalog.Reference, 0, len(paths))
	for _, p := range paths {
		loc := g.Parse(p)
		ref := catalog.Reference{Location: loc}
		ref.Ambiguous = loc.Agent != "" && loc.Folder != "" && artifact.StrictTokenPrefix(loc.Agent, loc.Folder)
		out = append(out, ref)
	}
	return out
}

const folder = "artefacten/aeo.02.agent-smeder/"

func TestValidateCompleteAgent(t *testing.T) {
	report := Validate(refs(t,
		"agent-boundaries/agent-smeder.boundary.md",
		folder+"agent-smeder.charter.md",
		folder+"agent-smeder.orden.agent.md",
		folder+"mandarin.agent-smeder.orden.prompt.md",
		"scripts/runners/agent-smeder.py",
		folder+"other-agent.orden.agent.md",
	), "agent-smeder")
	if !report.IsValid() {
		t.Fatalf("expected valid report, got %v", report.Errors())
	}
	if len(report.Intents) != 1 || report.Intents[0].Name != "orden" {
		t.Fatalf("intents = %+v", report.Intents)
	}
}

func TestValidateReportsFindings(t *testing.T) {
	tests := []struct {
		name       string
		paths      []string
		missing    []string
		duplicates []string
		ambiguous  int
	}{
		{
			name: "duplicate-charter",
			paths: []string{
				"agent-boundaries/agent-smeder.boundary.md",
				folder + "agent-smeder.charter.md",
				"aeo.02.agent-smeder/agent-smeder.charter.md",
			},
			duplicates: []string{"charter"},
		},
		{
			name: "contract-without-prompt",
			paths: []string{
				"agent-boundaries/agent-smeder.boundary.md",
				folder + "agent-smeder.charter.md",
				folder + "agent-smeder.3.schrijf-runner.agent.md",
			},
			missing: []string{"prompt[3.schrijf-runner]"},
		},
		{
			name: "prompt-without-contract-and-no-charter",
			paths: []string{
				folder + "mandarin.agent-smeder-2.orden.prompt.md",
			},
			missing: []string{"charter", "boundary", "contract[2.orden]"},
		},
		{
			name: "duplicate-contract-for-intent",
			paths: []string{
				"agent-boundaries/agent-smeder.boundary.md",
				folder + "agent-smeder.charter.md",
				folder + "agent-smeder.orden.agent.md",
				"aeo.02.agent-smeder/agent-smeder.orden.agent.md",
				folder + "mandarin.agent-smeder.orden.prompt.md",
			},
			duplicates: []string{"contract[orden]"},
		},
		{
			name: "ambiguous-owner",
			paths: []string{
				"agent-boundaries/agent-smeder.boundary.md",
				folder + "agent-smeder.charter.md",
				"artefacten/aeo.02.agent-smeder-validator/agent-smeder.charter.md",
			},
			ambiguous: 1,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			report := Validate(refs(t, test.paths...), "agent-smeder")
			if report.IsValid() {
				t.Fatalf("expected invalid report")
			}
			var missing []string
			for _, m := range report.MissingEdges {
				missing = append(missing, m.Absent.String())
			}
			if !equal(missing, test.missing) {
				t.Fatalf("missing = %v, want %v", missing, test.missing)
			}
			var dups []string
			for _, d := range report.DuplicateEdges {
				dups = append(dups, d.Slot.String())
				if len(d.Paths) != 2 {
					t.Fatalf("duplicate %s paths = %v", d.Slot, d.Paths)
				}
			}
			if !equal(dups, test.duplicates) {
				t.Fatalf("duplicates = %v, want %v", dups, test.duplicates)
			}
			if len(report.AmbiguousOwnership) != test.ambiguous {
				t.Fatalf("ambiguous = %+v", report.AmbiguousOwnership)
			}
			if got := len(report.Errors()); got != len(missing)+len(dups)+test.ambiguous {
				t.Fatalf("errors = %d", got)
			}
		})
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
