package order

import (
	"testing"

	"github.com/kingrea/agent-smeder/internal/artifact"
	"github.com/kingrea/agent-smeder/internal/catalog"
	"github.com/kingrea/agent-smeder/internal/config"
	smerr "github.com/kingrea/agent-smeder/internal/errors"
	"github.com/kingrea/agent-smeder/internal/pathgrammar"
)

func TestDeclarationPrecedence(t *testing.T) {
	grammar, err := pathgrammar.New(pathgrammar.DefaultConventions())
	if err != nil {
		t.Fatal(err)
	}
	boundary := catalog.Reference{
		Location: grammar.Parse("agent-boundaries/agent-smeder.boundary.md"),
		Boundary: &artifact.BoundaryMetadata{
			Agent: "agent-smeder", ValueStream: "sfw", Phase: "3",
			Classification: map[string]string{"rol": "smid"},
		},
	}
	folder := catalog.Reference{Location: grammar.Parse("aeo.02.agent-smeder/agent-smeder.charter.md")}

	cases := []struct {
		name       string
		refs       []catalog.Reference
		agents     map[string]config.AgentConfig
		hints      Hints
		wantStream string
		wantRol    string
		assumed    bool
		wantCode   smerr.Code
	}{
		{name: "hint wins", refs: []catalog.Reference{boundary}, hints: Hints{Stream: "kpu.5"}, wantStream: "kpu.05", wantRol: "smid"},
		{name: "config before boundary", refs: []catalog.Reference{boundary},
			agents:     map[string]config.AgentConfig{"agent-smeder": {ValueStream: "aeo", Phase: "02"}},
			wantStream: "aeo.02", wantRol: "smid"},
		{name: "boundary front-matter", refs: []catalog.Reference{boundary, folder}, wantStream: "sfw.03", wantRol: "smid"},
		{name: "inferred from folder", refs: []catalog.Reference{folder}, wantStream: "aeo.02", assumed: true},
		{name: "hint classification overrides", refs: []catalog.Reference{boundary},
			hints: Hints{Classification: map[string]string{"rol": "steward"}}, wantStream: "sfw.03", wantRol: "steward"},
		{name: "nothing declared", wantCode: smerr.EUnresolvableLocation},
		{name: "bad hint", hints: Hints{Stream: "sfw"}, wantCode: smerr.EUnresolvableLocation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Agents = tc.agents
			svc := &Service{Config: cfg, Grammar: grammar}
			cat := catalog.New(t.TempDir(), grammar, tc.refs)
			decl, assumption, err := svc.declaration(cat, "agent-smeder", tc.hints)
			if tc.wantCode != "" {
				if smerr.GetCode(err) != tc.wantCode {
					t.Fatalf("expected %s, got %v", tc.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("declaration returned error: %v", err)
			}
			if got := decl.ValueStream + "." + decl.Phase; got != tc.wantStream {
				t.Fatalf("stream = %s, want %s", got, tc.wantStream)
			}
			if decl.Classification["rol"] != tc.wantRol {
				t.Fatalf("rol = %q, want %q", decl.Classification["rol"], tc.wantRol)
			}
			if (assumption != "") != tc.assumed {
				t.Fatalf("assumption = %q", assumption)
			}
		})
	}
}

func TestInferFolderRejectsDisagreement(t *testing.T) {
	grammar, err := pathgrammar.New(pathgrammar.DefaultConventions())
	if err != nil {
		t.Fatal(err)
	}
	refs := []catalog.Reference{
		{Location: grammar.Parse("aeo.02.agent-smeder/agent-smeder.charter.md")},
		{Location: grammar.Parse("sfw.03.agent-smeder/agent-smeder.orden.agent.md")},
	}
	if _, err := inferFolder(refs, "agent-smeder"); smerr.GetCode(err) != smerr.EUnresolvableLocation {
		t.Fatalf("expected E_UNRESOLVABLE_LOCATION, got %v", err)
	}
}
