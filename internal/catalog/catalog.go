// Package catalog scans a workspace once and indexes every artifact file by
// kind and owning agent. Scanning is read-only.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kingrea/agent-smeder/internal/artifact"
	"github.com/kingrea/agent-smeder/internal/pathgrammar"
)

// DefaultIgnore lists workspace-relative directories the scan never enters.
// Hidden directories are always skipped.
var DefaultIgnore = []string{"docs/resultaten", "logs", "temp", "node_modules"}

// Reference is one cataloged file. The catalog owns these for the duration
// of a run; later stages only read them.
type Reference struct {
	pathgrammar.Location
	Size int64
	// Ambiguous marks a file whose file name names an agent that is a
	// strict token prefix of the agent its folder names.
	Ambiguous bool
	Prompt    *artifact.PromptMetadata
	Boundary  *artifact.BoundaryMetadata
	// Issues collects non-fatal problems found while reading front-matter.
	Issues []string
}

// Options configures Build.
type Options struct {
	// Root is the workspace root. All reference paths are relative to it.
	Root string
	// Dirs restricts the scan to these workspace-relative directories.
	// Empty means the whole workspace.
	Dirs    []string
	Ignore  []string
	Grammar *pathgrammar.Grammar
	// Workers bounds parallel directory walks. Zero picks a default.
	Workers int
}

// Catalog is the in-memory index built by Build.
type Catalog struct {
	root    string
	refs    []Reference
	byPath  map[string]int
	byAgent map[string][]int
	grammar *pathgrammar.Grammar
}

// Build scans the configured directories and classifies every regular file.
// Top-level directories are walked in parallel.
func Build(ctx context.Context, opts Options) (*Catalog, error) {
	if opts.Grammar == nil {
		return nil, fmt.Errorf("catalog: grammar is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("catalog: resolve root: %w", err)
	}
	ignore := map[string]bool{}
	for _, dir := range append(append([]string{}, DefaultIgnore...), opts.Ignore...) {
		ignore[cleanRel(dir)] = true
	}
	starts, err := scanStarts(root, opts.Dirs, ignore)
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 8
	}

	var (
		mu   sync.Mutex
		refs []Reference
	)
	collect := func(ref Reference) {
		mu.Lock()
		refs = append(refs, ref)
		mu.Unlock()
	}
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for _, start := range starts {
		start := start
		group.Go(func() error {
			return walk(gctx, root, start, ignore, opts.Grammar, collect)
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return newCatalog(root, opts.Grammar, refs), nil
}

// New builds a catalog from already classified references. Tests and
// callers that re-catalog a plan's destinations use it.
func New(root string, grammar *pathgrammar.Grammar, refs []Reference) *Catalog {
	return newCatalog(root, grammar, append([]Reference(nil), refs...))
}

func newCatalog(root string, grammar *pathgrammar.Grammar, refs []Reference) *Catalog {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	c := &Catalog{
		root:    root,
		refs:    refs,
		byPath:  make(map[string]int, len(refs)),
		byAgent: map[string][]int{},
		grammar: grammar,
	}
	for i := range refs {
		c.byPath[refs[i].Path] = i
		if refs[i].Agent != "" {
			c.byAgent[refs[i].Agent] = append(c.byAgent[refs[i].Agent], i)
		}
	}
	return c
}

// Root returns the absolute workspace root.
func (c *Catalog) Root() string {
	return c.root
}

// Grammar returns the grammar the catalog was classified with.
func (c *Catalog) Grammar() *pathgrammar.Grammar {
	return c.grammar
}

// Files returns every scanned file in path order.
func (c *Catalog) Files() []Reference {
	return append([]Reference(nil), c.refs...)
}

// Lookup returns the reference at a workspace-relative path.
func (c *Catalog) Lookup(rel string) (Reference, bool) {
	idx, ok := c.byPath[cleanRel(rel)]
	if !ok {
		return Reference{}, false
	}
	return c.refs[idx], true
}

// Agents returns every agent named by at least one resolved reference.
func (c *Catalog) Agents() []string {
	out := make([]string, 0, len(c.byAgent))
	for agent := range c.byAgent {
		out = append(out, agent)
	}
	sort.Strings(out)
	return out
}

// Read returns every file whose content the scan opened: prompts and
// boundaries, whose front-matter is parsed while cataloging.
func (c *Catalog) Read() []string {
	var out []string
	for _, ref := range c.refs {
		if ref.Kind == artifact.KindPrompt || ref.Kind == artifact.KindBoundary {
			out = append(out, ref.Path)
		}
	}
	return out
}

// ForAgent returns the references naming agent, plus ambiguous references
// whose folder names it.
func (c *Catalog) ForAgent(agent string) []Reference {
	var out []Reference
	for i := range c.refs {
		ref := c.refs[i]
		if ref.Agent == agent || (ref.Ambiguous && ref.Folder == agent) {
			out = append(out, ref)
		}
	}
	return out
}

// Unresolved returns files with a kind suffix but no agent hint.
func (c *Catalog) Unresolved() []Reference {
	var out []Reference
	for _, ref := range c.refs {
		if ref.Kind.Owned() && ref.Agent == "" {
			out = append(out, ref)
		}
	}
	return out
}

func scanStarts(root string, dirs []string, ignore map[string]bool) ([]string, error) {
	if len(dirs) > 0 {
		out := make([]string, 0, len(dirs))
		for _, dir := range dirs {
			rel := cleanRel(dir)
			info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return nil, fmt.Errorf("catalog: stat %s: %w", rel, err)
			}
			if !info.IsDir() {
				return nil, fmt.Errorf("catalog: %s is not a directory", rel)
			}
			out = append(out, rel)
		}
		return out, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("catalog: read root: %w", err)
	}
	// "." walks only the files directly under root; each sub directory gets
	// its own walker.
	out := []string{"."}
	for _, entry := range entries {
		if entry.IsDir() && !skipDir(entry.Name(), entry.Name(), ignore) {
			out = append(out, entry.Name())
		}
	}
	return out, nil
}

func walk(ctx context.Context, root, start string, ignore map[string]bool, g *pathgrammar.Grammar, collect func(Reference)) error {
	base := filepath.Join(root, filepath.FromSlash(start))
	return filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("catalog: walk %s: %w", p, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		relOS, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(relOS)
		if d.IsDir() {
			if p == base {
				return nil
			}
			if start == "." || skipDir(d.Name(), rel, ignore) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("catalog: stat %s: %w", rel, err)
		}
		collect(classify(root, rel, info.Size(), g))
		return nil
	})
}

func skipDir(name, rel string, ignore map[string]bool) bool {
	return strings.HasPrefix(name, ".") || ignore[rel]
}

func classify(root, rel string, size int64, g *pathgrammar.Grammar) Reference {
	ref := Reference{Location: g.Parse(rel), Size: size}
	// A head that extends the folder name is the longest exact match and
	// owns the file. A head cut short of the folder name may be a truncated
	// name of the folder's agent.
	if ref.Agent != "" && ref.Folder != "" && artifact.StrictTokenPrefix(ref.Agent, ref.Folder) {
		ref.Ambiguous = true
	}
	switch ref.Kind {
	case artifact.KindPrompt:
		var meta artifact.PromptMetadata
		if err := readFrontMatter(root, rel, &meta); err != nil {
			ref.Issues = append(ref.Issues, err.Error())
		} else {
			ref.Prompt = &meta
		}
	case artifact.KindBoundary:
		var meta artifact.BoundaryMetadata
		if err := readFrontMatter(root, rel, &meta); err != nil {
			if !errors.Is(err, artifact.ErrMissingFrontMatter) {
				ref.Issues = append(ref.Issues, err.Error())
			}
		} else {
			ref.Boundary = &meta
		}
	}
	return ref
}

func readFrontMatter(root, rel string, out any) error {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}
	if _, err := artifact.ParseFrontMatter(data, out); err != nil {
		return fmt.Errorf("%s: %w", rel, err)
	}
	return nil
}

func cleanRel(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	return strings.TrimPrefix(path.Clean(p), "./")
}

// Match describes how a candidate file name relates to the agent it is
// offered to.
type Match string

const (
	// MatchExact means the file name head equals the agent name.
	MatchExact Match = "exact"
	// MatchPrefix means the agent name is only a token prefix of the head,
	// so the file may as well belong to an agent that does not exist yet.
	MatchPrefix Match = "prefix"
)

// Candidate is an unowned file offered to an agent.
type Candidate struct {
	Reference
	Match Match
}

// Ambiguous reports whether the candidate could belong to another agent.
func (c Candidate) Ambiguous() bool {
	return c.Match != MatchExact
}

// Candidates returns the unresolved files whose longest exact hyphen-token
// match among the known agents (plus agent itself) is agent.
func (c *Catalog) Candidates(agent string) []Candidate {
	known := map[string]bool{agent: true}
	for name := range c.byAgent {
		known[name] = true
	}
	var out []Candidate
	for _, ref := range c.Unresolved() {
		if ref.Candidate == "" {
			continue
		}
		best := longestMatch(ref.Candidate, known)
		if best != agent {
			continue
		}
		match := MatchPrefix
		if best == ref.Candidate {
			match = MatchExact
		}
		out = append(out, Candidate{Reference: ref, Match: match})
	}
	return out
}

func longestMatch(head string, known map[string]bool) string {
	best := ""
	bestTokens := 0
	for name := range known {
		if name != head && !artifact.TokenPrefix(name, head) {
			continue
		}
		if n := len(artifact.Tokens(name)); n > bestTokens {
			best, bestTokens = name, n
		}
	}
	return best
}
