// Package audit renders the evidence of one ordering run and appends it to
// the agent's report file. A run block is rendered in full before anything
// is written, and the file is replaced atomically.
package audit

import (
	"bytes"
	"errors"
	"fmt"
	iofs "io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kingrea/agent-smeder/internal/artifact"
	"github.com/kingrea/agent-smeder/internal/fs"
	"github.com/kingrea/agent-smeder/internal/relocation"
)

// Dir is the workspace-relative directory holding the reports.
const Dir = "docs/resultaten/agent-smeder"

// Status summarizes how a run ended.
type Status string

const (
	StatusOrdered      Status = "ordered"
	StatusNothingToDo  Status = "no-relocation-needed"
	StatusDryRun       Status = "dry-run"
	StatusRolledBack   Status = "rolled-back"
	StatusCommitFailed Status = "commit-failed"
	StatusFailed       Status = "failed"
)

// Input is everything a report is rendered from. Plan and Result are nil
// when the run stopped before planning or execution.
type Input struct {
	RunID      string
	Agent      string
	Inputs     []string
	Read       []string
	Plan       *relocation.Plan
	Result     *relocation.Result
	Findings   []string
	DryRun     bool
	Fatal      error
	FatalCode  string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Report is a rendered run block and where it was stored.
type Report struct {
	Path   string
	RunID  string
	Agent  string
	Status Status
	Block  []byte
}

// Path returns the report path of agent.
func Path(agent string) string {
	return path.Join(Dir, "orden-agent-"+agent+".md")
}

// StatusOf derives the run status from the input.
func StatusOf(in Input) Status {
	switch {
	case in.Result != nil && in.Result.RolledBack:
		return StatusRolledBack
	case in.Fatal != nil && in.Result != nil && !in.Result.RolledBack:
		return StatusCommitFailed
	case in.Fatal != nil:
		return StatusFailed
	case in.Plan != nil && in.Plan.Empty():
		return StatusNothingToDo
	case in.DryRun:
		return StatusDryRun
	default:
		return StatusOrdered
	}
}

// Render produces the run block: inputs, files read, files moved, files
// rewritten, assumptions, conflicts, then the outcome.
func Render(in Input) *Report {
	status := StatusOf(in)
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Orden agent %s, run %s\n\n", in.Agent, in.RunID)
	fmt.Fprintf(&b, "- status: %s\n", status)
	fmt.Fprintf(&b, "- started: %s\n", in.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- finished: %s\n\n", in.FinishedAt.UTC().Format(time.RFC3339))

	section(&b, "Inputs", in.Inputs)
	section(&b, "Files read", unique(in.Read))

	var moved []string
	switch {
	case in.Result != nil:
		for _, e := range in.Result.Moved {
			moved = append(moved, fmt.Sprintf("`%s` -> `%s`", e.Source, e.Destination))
		}
	case in.Plan != nil && in.DryRun:
		for _, e := range in.Plan.Moves() {
			moved = append(moved, fmt.Sprintf("`%s` -> `%s` (planned, not executed)", e.Source, e.Destination))
		}
	}
	section(&b, "Files moved", moved)

	var rewritten []string
	var rewrittenEntries []relocation.Entry
	switch {
	case in.Result != nil:
		rewrittenEntries = in.Result.Rewritten
	case in.Plan != nil && in.DryRun:
		rewrittenEntries = in.Plan.Rewritten()
	}
	for _, e := range rewrittenEntries {
		var subs []string
		for _, rw := range e.Rewrites {
			subs = append(subs, fmt.Sprintf("`%s` => `%s`", rw.Old, rw.New))
		}
		rewritten = append(rewritten, fmt.Sprintf("`%s`: %s", e.Destination, strings.Join(subs, "; ")))
	}
	section(&b, "Files rewritten", rewritten)

	// Missing halves never block the half that exists, so they are recorded
	// as assumptions rather than conflicts.
	var assumptions []string
	if in.Plan != nil {
		assumptions = append(assumptions, in.Plan.Assumptions...)
		for _, m := range in.Plan.Missing {
			line := fmt.Sprintf("E_MISSING_EDGE `%s`: no %s yet", m.Edge, m.Absent)
			if len(m.Present) > 0 {
				line += fmt.Sprintf("; ordered %s without it", quoteAll(m.Present))
			}
			assumptions = append(assumptions, line)
		}
	}
	section(&b, "Assumptions", assumptions)

	var conflicts []string
	if in.Plan != nil {
		for _, c := range in.Plan.Conflicts {
			conflicts = append(conflicts, fmt.Sprintf("%s `%s`: %s (%s)", c.Code, c.Slot, c.Reason, quoteAll(c.Paths)))
		}
	}
	for _, f := range in.Findings {
		conflicts = append(conflicts, "content check: "+f)
	}
	section(&b, "Conflicts", conflicts)

	b.WriteString("## Outcome\n\n")
	b.WriteString(outcome(in, status))
	b.WriteString("\n")
	return &Report{Path: Path(in.Agent), RunID: in.RunID, Agent: in.Agent, Status: status, Block: b.Bytes()}
}

func outcome(in Input, status Status) string {
	switch status {
	case StatusNothingToDo:
		return "No relocation needed.\n"
	case StatusDryRun:
		return fmt.Sprintf("Dry run: %d moves and %d rewrites planned, nothing written.\n", len(in.Plan.Moves()), len(in.Plan.Rewritten()))
	case StatusOrdered:
		moved := 0
		if in.Result != nil {
			moved = len(in.Result.Moved)
		}
		return fmt.Sprintf("Ordered: %d files moved.\n", moved)
	case StatusRolledBack:
		return fmt.Sprintf("%s: %v\n\nRolled back. No source file was deleted.\n", in.FatalCode, in.Fatal)
	case StatusCommitFailed:
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %v\n\nManual reconciliation required. File states:\n\n", in.FatalCode, in.Fatal)
		var sources []string
		for src := range in.Result.States {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		for _, src := range sources {
			fmt.Fprintf(&b, "- `%s`: %s\n", src, in.Result.States[src])
		}
		return b.String()
	default:
		code := in.FatalCode
		if code == "" {
			code = "E_INTERNAL"
		}
		return fmt.Sprintf("%s: %v\n\nStopped before any file was changed.\n", code, in.Fatal)
	}
}

func section(b *bytes.Buffer, title string, items []string) {
	fmt.Fprintf(b, "## %s\n\n", title)
	if len(items) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

func quoteAll(paths []string) string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = "`" + p + "`"
	}
	return strings.Join(out, ", ")
}

func unique(items []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}

// Header is the front-matter of a report file.
type Header struct {
	Agent      string    `yaml:"agent"`
	LastRunID  string    `yaml:"last_run_id"`
	LastStatus Status    `yaml:"last_status"`
	Runs       int       `yaml:"runs"`
	UpdatedAt  time.Time `yaml:"updated_at"`
}

// Write appends report's block to the agent's report file. Earlier runs are
// kept; the whole file is replaced in one rename.
func Write(fsys fs.FS, root string, report *Report, now time.Time) error {
	target := filepath.Join(root, filepath.FromSlash(report.Path))
	var header Header
	var body []byte
	existing, err := fsys.ReadFile(target)
	switch {
	case err == nil:
		rest, perr := artifact.ParseFrontMatter(existing, &header)
		if perr != nil {
			return fmt.Errorf("audit: existing report %s: %w", report.Path, perr)
		}
		body = bytes.TrimLeft(rest, "\n")
	case errors.Is(err, iofs.ErrNotExist):
	default:
		return fmt.Errorf("audit: read %s: %w", report.Path, err)
	}
	header.Agent = report.Agent
	header.LastRunID = report.RunID
	header.LastStatus = report.Status
	header.Runs++
	header.UpdatedAt = now.UTC()

	if len(body) > 0 && !bytes.HasSuffix(body, []byte("\n\n")) {
		body = append(bytes.TrimRight(body, "\n"), '\n', '\n')
	}
	body = append(body, report.Block...)
	doc, err := artifact.WriteFrontMatter(header, body)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if err := fs.WriteFileAtomic(fsys, target, doc, 0o644); err != nil {
		return fmt.Errorf("audit: write %s: %w", report.Path, err)
	}
	return nil
}
