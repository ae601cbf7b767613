package artifact

import (
	"errors"
	"strings"
	"testing"
)

func TestSplitStep(t *testing.T) {
	tests := []struct {
		head      string
		wantAgent string
		wantStep  int
	}{
		{"agent-smeder", "agent-smeder", 0},
		{"agent-smeder-1", "agent-smeder", 1},
		{"agent-smeder-12", "agent-smeder", 12},
		{"agent-smeder-validator", "agent-smeder-validator", 0},
		{"agent-smeder-0", "agent-smeder-0", 0},
		{"steward", "steward", 0},
		{"x-", "x-", 0},
	}
	for _, test := range tests {
		agent, step := SplitStep(test.head)
		if agent != test.wantAgent || step != test.wantStep {
			t.Fatalf("SplitStep(%q) = (%q, %d), want (%q, %d)", test.head, agent, step, test.wantAgent, test.wantStep)
		}
		if step > 0 && JoinStep(agent, step) != test.head {
			t.Fatalf("JoinStep(%q, %d) did not restore %q", agent, step, test.head)
		}
	}
}

func TestTokenPrefix(t *testing.T) {
	if !TokenPrefix("agent-smeder", "agent-smeder-validator") {
		t.Fatalf("agent-smeder should be a token prefix of agent-smeder-validator")
	}
	if TokenPrefix("agent-sme", "agent-smeder") {
		t.Fatalf("substring without token boundary must not match")
	}
	if !StrictTokenPrefix("agent-smeder", "agent-smeder-validator") {
		t.Fatalf("agent-smeder should be a strict token prefix of agent-smeder-validator")
	}
	if StrictTokenPrefix("agent-smeder-validator", "agent-smeder") {
		t.Fatalf("a longer name is never a prefix")
	}
	if StrictTokenPrefix("agent-smeder", "agent-smeder") {
		t.Fatalf("identical names are equal, not prefixes")
	}
}

func TestIntentString(t *testing.T) {
	if got := (Intent{Step: 3, Name: "schrijf-runner"}).String(); got != "3.schrijf-runner" {
		t.Fatalf("intent string = %q", got)
	}
	if got := (Intent{Name: "schrijf-charter"}).String(); got != "schrijf-charter" {
		t.Fatalf("intent string = %q", got)
	}
}

func TestParsePromptFrontMatter(t *testing.T) {
	doc := strings.Join([]string{
		"---",
		"agent: agent-smeder",
		"intent: schrijf-charter",
		"charter: artefacten/aeo.02.agent-smeder/agent-smeder.charter.md",
		"---",
		"",
		"# Prompt Metadata",
	}, "\r\n")
	var meta PromptMetadata
	body, err := ParseFrontMatter([]byte(doc), &meta)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if meta.Agent != "agent-smeder" || meta.Intent != "schrijf-charter" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta.CharterPath() != "artefacten/aeo.02.agent-smeder/agent-smeder.charter.md" {
		t.Fatalf("charter alias not honored: %q", meta.CharterPath())
	}
	if !strings.Contains(string(body), "# Prompt Metadata") {
		t.Fatalf("body lost: %q", body)
	}
}

func TestParseFrontMatterErrors(t *testing.T) {
	var meta PromptMetadata
	if _, err := ParseFrontMatter([]byte("# no fence"), &meta); !errors.Is(err, ErrMissingFrontMatter) {
		t.Fatalf("expected ErrMissingFrontMatter, got %v", err)
	}
	if _, err := ParseFrontMatter([]byte("---\nagent: x\n"), &meta); !errors.Is(err, ErrMalformedFrontMatter) {
		t.Fatalf("expected ErrMalformedFrontMatter, got %v", err)
	}
	if _, err := ParseFrontMatter([]byte("---\nagent: [\n---\n"), &meta); !errors.Is(err, ErrMalformedFrontMatter) {
		t.Fatalf("expected ErrMalformedFrontMatter for bad yaml, got %v", err)
	}
}

func TestBoundaryPhaseKeepsLeadingZero(t *testing.T) {
	var meta BoundaryMetadata
	if _, err := ParseFrontMatter([]byte("---\nagent: agent-smeder\nvalue_stream: aeo\nfase: 02\n---\n"), &meta); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if meta.Phase != "02" {
		t.Fatalf("phase = %q, want 02", meta.Phase)
	}
}

func TestWriteFrontMatterRoundTrip(t *testing.T) {
	in := PromptMetadata{Agent: "agent-smeder", Intent: "schrijf-runner", CharterRef: "artefacten/aeo.02.agent-smeder/agent-smeder.charter.md"}
	data, err := WriteFrontMatter(in, []byte("body\n"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	var out PromptMetadata
	body, err := ParseFrontMatter(data, &out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
	if strings.TrimSpace(string(body)) != "body" {
		t.Fatalf("body mismatch: %q", body)
	}
}
