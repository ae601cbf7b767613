// Package relocation plans and executes the move of one agent's artifacts
// into its canonical folder. Planning only reads; Execute is the only code
// path that writes to the workspace.
package relocation

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kingrea/agent-smeder/internal/artifact"
	"github.com/kingrea/agent-smeder/internal/catalog"
	smerr "github.com/kingrea/agent-smeder/internal/errors"
	"github.com/kingrea/agent-smeder/internal/fs"
	"github.com/kingrea/agent-smeder/internal/pathgrammar"
	"github.com/kingrea/agent-smeder/internal/traceability"
)

var (
	// ErrInvalidAgentName is returned for names that are not lowercase-hyphen tokens.
	ErrInvalidAgentName = errors.New("relocation: invalid agent name")
	// ErrUnresolvableLocation is returned when the declaration or an operator
	// hint does not map onto the path grammar.
	ErrUnresolvableLocation = errors.New("relocation: unresolvable location")
)

// Target is the agent being ordered and the operator's decisions about it.
type Target struct {
	Decl pathgrammar.Declaration
	// Accept lists candidate paths the operator confirmed for this agent.
	Accept []string
	// AutoClaim claims exact-match candidates without confirmation.
	AutoClaim bool
}

// Rewrite is one path literal substitution inside a file.
type Rewrite struct {
	Old string
	New string
}

// Entry is one planned file. Source == Destination with no rewrites is a
// no-op that is kept so the report can show the file was considered.
type Entry struct {
	Source      string
	Destination string
	Kind        artifact.Kind
	Rewrites    []Rewrite
}

// Moves reports whether the entry changes the file's location.
func (e Entry) Moves() bool {
	return e.Source != e.Destination
}

// Touches reports whether executing the entry writes anything.
func (e Entry) Touches() bool {
	return e.Moves() || len(e.Rewrites) > 0
}

// Conflict is a file set kept out of the plan.
type Conflict struct {
	Code   smerr.Code
	Slot   string
	Paths  []string
	Reason string
}

// Plan is the outcome of planning one agent.
type Plan struct {
	Agent       string
	Decl        pathgrammar.Declaration
	Entries     []Entry
	Conflicts   []Conflict
	Missing     []traceability.MissingEdge
	Assumptions []string
	// Read lists files whose content was read while looking for path literals.
	Read       []string
	Validation *traceability.Report
}

// Moves returns the entries that relocate a file.
func (p *Plan) Moves() []Entry {
	var out []Entry
	for _, e := range p.Entries {
		if e.Moves() {
			out = append(out, e)
		}
	}
	return out
}

// Rewritten returns the entries whose content changes.
func (p *Plan) Rewritten() []Entry {
	var out []Entry
	for _, e := range p.Entries {
		if len(e.Rewrites) > 0 {
			out = append(out, e)
		}
	}
	return out
}

// Empty reports whether executing the plan would change nothing.
func (p *Plan) Empty() bool {
	for _, e := range p.Entries {
		if e.Touches() {
			return false
		}
	}
	return true
}

// Assume records an assumption made while planning.
func (p *Plan) Assume(format string, args ...any) {
	p.Assumptions = append(p.Assumptions, fmt.Sprintf(format, args...))
}

// Planner computes relocation plans against a workspace.
type Planner struct {
	Root    string
	FS      fs.FS
	Grammar *pathgrammar.Grammar
}

// Plan computes the move-set for target from the catalog. Unique-slot
// duplicates and ambiguous files are excluded and reported as conflicts;
// missing halves are reported without blocking the half that exists.
func (p *Planner) Plan(ctx context.Context, cat *catalog.Catalog, target Target) (*Plan, error) {
	decl := target.Decl
	if err := pathgrammar.ValidateAgentName(decl.Agent); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAgentName, err)
	}
	if err := p.Grammar.ValidateDeclaration(decl); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnresolvableLocation, err)
	}
	plan := &Plan{Agent: decl.Agent, Decl: decl}

	refs := cat.ForAgent(decl.Agent)
	claimed, err := p.claimCandidates(cat, target, plan)
	if err != nil {
		return nil, err
	}
	refs = append(refs, claimed...)

	report := traceability.Validate(refs, decl.Agent)
	plan.Validation = report
	plan.Missing = report.MissingEdges
	excluded := p.exclusions(report, plan)

	occupied := map[string][]string{}
	var entries []Entry
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if excluded[ref.Path] || ref.Agent != decl.Agent || !ref.Kind.Owned() {
			continue
		}
		dest := p.Grammar.Destination(ref.Location, decl)
		if ref.Form.Canonical() && ref.Kind != artifact.KindRunner && dest != ref.Path {
			plan.Assume("%s is canonical for %s.%s; moving it to %s", ref.Path, ref.ValueStream, ref.Phase, dest)
		}
		switch {
		case ref.Form.Canonical() || ref.Folder == "" || ref.Folder == decl.Agent:
		case artifact.StrictTokenPrefix(ref.Folder, decl.Agent):
			plan.Assume("%s sits in folder %s; taken as owned by %s, the longest exact token match of its file name", ref.Path, ref.Folder, decl.Agent)
		default:
			plan.Assume("%s sits in collection folder %s; taken as owned by %s from its file name", ref.Path, ref.Folder, decl.Agent)
		}
		occupied[dest] = append(occupied[dest], ref.Path)
		entries = append(entries, Entry{Source: ref.Path, Destination: dest, Kind: ref.Kind})
	}

	var kept []Entry
	for _, e := range entries {
		if srcs := occupied[e.Destination]; len(srcs) > 1 {
			plan.conflict(smerr.EDestinationOccupied, e.Destination, srcs, "several files resolve to the same destination")
			continue
		}
		kept = append(kept, e)
	}
	kept, err = p.dropOccupied(kept, plan)
	if err != nil {
		return nil, err
	}

	if err := p.planRewrites(kept, plan); err != nil {
		return nil, err
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Source < kept[j].Source })
	plan.Entries = kept
	sort.Slice(plan.Conflicts, func(i, j int) bool {
		if plan.Conflicts[i].Slot != plan.Conflicts[j].Slot {
			return plan.Conflicts[i].Slot < plan.Conflicts[j].Slot
		}
		return plan.Conflicts[i].Code < plan.Conflicts[j].Code
	})
	return plan, nil
}

func (p *Planner) claimCandidates(cat *catalog.Catalog, target Target, plan *Plan) ([]catalog.Reference, error) {
	accepted := map[string]bool{}
	for _, path := range target.Accept {
		accepted[cleanRel(path)] = true
	}
	var claimed []catalog.Reference
	for _, cand := range cat.Candidates(target.Decl.Agent) {
		confirmed := accepted[cand.Path]
		delete(accepted, cand.Path)
		if cand.Ambiguous() {
			plan.conflict(smerr.EOwnershipAmbiguous, cand.Path, []string{cand.Path},
				fmt.Sprintf("file name %s matches %s only as a prefix", cand.Candidate, target.Decl.Agent))
			continue
		}
		switch {
		case confirmed:
			plan.Assume("%s claimed for %s on operator confirmation", cand.Path, target.Decl.Agent)
		case target.AutoClaim:
			plan.Assume("%s claimed for %s automatically by exact name match", cand.Path, target.Decl.Agent)
		default:
			plan.Assume("%s looks like a %s of %s but was not confirmed; left in place", cand.Path, cand.Kind, target.Decl.Agent)
			continue
		}
		ref := cand.Reference
		ref.Agent = target.Decl.Agent
		ref.Candidate = ""
		claimed = append(claimed, ref)
	}
	if len(accepted) > 0 {
		var rest []string
		for path := range accepted {
			rest = append(rest, path)
		}
		sort.Strings(rest)
		return nil, fmt.Errorf("%w: %s is not a candidate file of %s", ErrUnresolvableLocation, strings.Join(rest, ", "), target.Decl.Agent)
	}
	return claimed, nil
}

// exclusions turns duplicate slots and ambiguous files into conflicts and
// returns the set of paths kept out of the plan. A duplicated contract or
// prompt excludes the whole intent pair.
func (p *Planner) exclusions(report *traceability.Report, plan *Plan) map[string]bool {
	excluded := map[string]bool{}
	for _, dup := range report.DuplicateEdges {
		code := smerr.EDuplicateIntentPair
		slots := []traceability.Slot{dup.Slot}
		switch dup.Slot.Kind {
		case artifact.KindCharter:
			code = smerr.EDuplicateCharter
		case artifact.KindRunner:
			code = smerr.EDuplicateRunner
		case artifact.KindBoundary:
			code = smerr.EDuplicateBoundary
		default:
			slots = []traceability.Slot{
				{Kind: artifact.KindContract, Intent: dup.Slot.Intent},
				{Kind: artifact.KindPrompt, Intent: dup.Slot.Intent},
			}
		}
		var paths []string
		for _, slot := range slots {
			for _, path := range report.Nodes[slot] {
				if !excluded[path] {
					excluded[path] = true
					paths = append(paths, path)
				}
			}
		}
		if len(paths) == 0 {
			continue
		}
		sort.Strings(paths)
		plan.conflict(code, dup.Slot.String(), paths, "more than one file claims this slot; none is moved")
	}
	for _, amb := range report.AmbiguousOwnership {
		excluded[amb.Path] = true
		plan.conflict(smerr.EOwnershipAmbiguous, amb.Path, []string{amb.Path},
			fmt.Sprintf("folder names %s but file name names %s", amb.Folder, amb.Agent))
	}
	return excluded
}

// dropOccupied removes entries whose destination exists on disk and is not
// vacated by another kept entry. Dropping an entry keeps its source in place,
// so the check repeats until no more entries fall out.
func (p *Planner) dropOccupied(entries []Entry, plan *Plan) ([]Entry, error) {
	for {
		sources := map[string]bool{}
		for _, e := range entries {
			sources[e.Source] = true
		}
		var kept []Entry
		for _, e := range entries {
			if e.Moves() && !sources[e.Destination] {
				exists, err := p.exists(e.Destination)
				if err != nil {
					return nil, err
				}
				if exists {
					plan.conflict(smerr.EDestinationOccupied, e.Destination, []string{e.Source}, "destination already exists and is not part of this agent's plan")
					continue
				}
			}
			kept = append(kept, e)
		}
		if len(kept) == len(entries) {
			return kept, nil
		}
		entries = kept
	}
}

func (p *Plan) conflict(code smerr.Code, slot string, paths []string, reason string) {
	p.Conflicts = append(p.Conflicts, Conflict{Code: code, Slot: slot, Paths: paths, Reason: reason})
}

// planRewrites finds, inside every planned file, the literal source paths of
// moving entries and records their replacement by the destination path.
func (p *Planner) planRewrites(entries []Entry, plan *Plan) error {
	var olds []Rewrite
	for _, e := range entries {
		if e.Moves() {
			olds = append(olds, Rewrite{Old: e.Source, New: e.Destination})
		}
	}
	if len(olds) == 0 {
		return nil
	}
	// Longer literals first so a path is never matched inside a longer one.
	sort.Slice(olds, func(i, j int) bool { return len(olds[i].Old) > len(olds[j].Old) })
	for i := range entries {
		data, err := p.FS.ReadFile(p.abs(entries[i].Source))
		if err != nil {
			return fmt.Errorf("read %s: %w", entries[i].Source, err)
		}
		plan.Read = append(plan.Read, entries[i].Source)
		text := string(data)
		for _, rw := range olds {
			if containsLiteral(text, rw.Old) {
				entries[i].Rewrites = append(entries[i].Rewrites, rw)
			}
		}
	}
	sort.Strings(plan.Read)
	return nil
}

func (p *Planner) exists(rel string) (bool, error) {
	_, err := p.FS.Stat(p.abs(rel))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, iofs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", rel, err)
}

func (p *Planner) abs(rel string) string {
	return filepath.Join(p.Root, filepath.FromSlash(rel))
}

func cleanRel(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	p = filepath.ToSlash(filepath.Clean(p))
	return strings.TrimPrefix(p, "./")
}
