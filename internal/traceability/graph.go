// Package traceability checks that one agent's artifacts form a complete,
// non-contradictory set: boundary → charter → contract[intent] →
// prompt[intent], with an optional runner.
package traceability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kingrea/agent-smeder/internal/artifact"
	"github.com/kingrea/agent-smeder/internal/catalog"
)

// Slot is a position that must be filled by exactly one file.
type Slot struct {
	Kind   artifact.Kind
	Intent artifact.Intent
}

// String renders the slot as kind or kind[intent].
func (s Slot) String() string {
	if s.Intent.IsZero() {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s[%s]", s.Kind, s.Intent)
}

// Edge is a required link between two slots of one agent.
type Edge struct {
	From Slot
	To   Slot
}

// String renders the edge as from -> to.
func (e Edge) String() string {
	return e.From.String() + " -> " + e.To.String()
}

// MissingEdge is a required edge with an absent endpoint.
type MissingEdge struct {
	Edge
	// Absent is the endpoint that has no file.
	Absent Slot
	// Present lists the files on the other end, if any.
	Present []string
}

// DuplicateEdge is a slot claimed by more than one file.
type DuplicateEdge struct {
	Slot  Slot
	Paths []string
}

// Ambiguity is a file whose folder and file name point at two related agents.
type Ambiguity struct {
	Path   string
	Agent  string
	Folder string
}

// Report captures validation results for one agent.
type Report struct {
	Agent              string
	Intents            []artifact.Intent
	Nodes              map[Slot][]string
	MissingEdges       []MissingEdge
	DuplicateEdges     []DuplicateEdge
	AmbiguousOwnership []Ambiguity
}

// IsValid reports whether every required edge exists exactly once and no
// file has ambiguous ownership.
func (r *Report) IsValid() bool {
	return r != nil && len(r.MissingEdges) == 0 && len(r.DuplicateEdges) == 0 && len(r.AmbiguousOwnership) == 0
}

// Errors flattens the report into one error per finding.
func (r *Report) Errors() []error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, d := range r.DuplicateEdges {
		errs = append(errs, fmt.Errorf("duplicate %s: %s", d.Slot, strings.Join(d.Paths, ", ")))
	}
	for _, m := range r.MissingEdges {
		errs = append(errs, fmt.Errorf("missing %s for edge %s", m.Absent, m.Edge))
	}
	for _, a := range r.AmbiguousOwnership {
		errs = append(errs, fmt.Errorf("%s could belong to %s or %s", a.Path, a.Agent, a.Folder))
	}
	return errs
}

// Duplicated reports whether slot has more than one file.
func (r *Report) Duplicated(slot Slot) bool {
	return len(r.Nodes[slot]) > 1
}

// Validate builds the graph for agent from refs. Refs naming other agents
// are ignored; ambiguous refs are reported and kept out of the slots.
func Validate(refs []catalog.Reference, agent string) *Report {
	report := &Report{Agent: agent, Nodes: map[Slot][]string{}}
	intents := map[artifact.Intent]bool{}
	for _, ref := range refs {
		if ref.Ambiguous {
			report.AmbiguousOwnership = append(report.AmbiguousOwnership, Ambiguity{Path: ref.Path, Agent: ref.Agent, Folder: ref.Folder})
			continue
		}
		if ref.Agent != agent || !ref.Kind.Owned() {
			continue
		}
		slot := Slot{Kind: ref.Kind}
		if ref.Kind.IntentScoped() {
			slot.Intent = ref.Intent
			intents[ref.Intent] = true
		}
		report.Nodes[slot] = append(report.Nodes[slot], ref.Path)
	}
	for intent := range intents {
		report.Intents = append(report.Intents, intent)
	}
	sort.Slice(report.Intents, func(i, j int) bool {
		a, b := report.Intents[i], report.Intents[j]
		if a.Step != b.Step {
			return a.Step < b.Step
		}
		return a.Name < b.Name
	})

	boundary := Slot{Kind: artifact.KindBoundary}
	charter := Slot{Kind: artifact.KindCharter}
	report.require(Edge{From: boundary, To: charter})
	for _, intent := range report.Intents {
		contract := Slot{Kind: artifact.KindContract, Intent: intent}
		prompt := Slot{Kind: artifact.KindPrompt, Intent: intent}
		report.require(Edge{From: charter, To: contract})
		report.require(Edge{From: contract, To: prompt})
	}

	for _, slot := range report.slots() {
		paths := report.Nodes[slot]
		sort.Strings(paths)
		if len(paths) > 1 {
			report.DuplicateEdges = append(report.DuplicateEdges, DuplicateEdge{Slot: slot, Paths: paths})
		}
	}
	sort.Slice(report.AmbiguousOwnership, func(i, j int) bool {
		return report.AmbiguousOwnership[i].Path < report.AmbiguousOwnership[j].Path
	})
	return report
}

// require records edge as missing for each absent endpoint. An absent slot
// is reported once, on the first edge that needs it.
func (r *Report) require(edge Edge) {
	from, to := r.Nodes[edge.From], r.Nodes[edge.To]
	if len(to) == 0 && !r.reported(edge.To) {
		r.MissingEdges = append(r.MissingEdges, MissingEdge{Edge: edge, Absent: edge.To, Present: from})
	}
	if len(from) == 0 && !r.reported(edge.From) {
		r.MissingEdges = append(r.MissingEdges, MissingEdge{Edge: edge, Absent: edge.From, Present: to})
	}
}

func (r *Report) reported(slot Slot) bool {
	for _, m := range r.MissingEdges {
		if m.Absent == slot {
			return true
		}
	}
	return false
}

func (r *Report) slots() []Slot {
	slots := make([]Slot, 0, len(r.Nodes))
	for slot := range r.Nodes {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].String() < slots[j].String()
	})
	return slots
}
