package pathgrammar

import (
	"path"
	"strings"

	"github.com/kingrea/agent-smeder/internal/artifact"
)

// Layout names a legacy directory arrangement.
type Layout string

const (
	// LayoutAgentFolder is a <vs>.<phase>.<agent> folder outside the artifacts dir.
	LayoutAgentFolder Layout = "agent-folder"
	// LayoutNested is an agent folder with sub folders (prompts/, agent-contracten/).
	LayoutNested Layout = "nested-folder"
	// LayoutCollection is a flat <vs>.<phase>.<name> folder holding files of other agents.
	LayoutCollection Layout = "collection-folder"
	// LayoutLoose is a file with a kind suffix but no agent folder around it.
	LayoutLoose Layout = "loose"
)

// Form tags a location as canonical or as one of the legacy layouts. New
// legacy layouts are added as recognizers without touching the callers.
type Form interface {
	Canonical() bool
	String() string
	isForm()
}

// CanonicalForm is the per-agent layout Resolve produces.
type CanonicalForm struct{}

func (CanonicalForm) Canonical() bool { return true }
func (CanonicalForm) String() string  { return "canonical" }
func (CanonicalForm) isForm()         {}

// LegacyForm is any accepted non-canonical layout.
type LegacyForm struct {
	Layout Layout
}

func (LegacyForm) Canonical() bool  { return false }
func (f LegacyForm) String() string { return "legacy/" + string(f.Layout) }
func (LegacyForm) isForm()          {}

// Location is the parse result for one path.
type Location struct {
	Path string
	Kind artifact.Kind
	// Agent is the owning agent named by the path. Empty when the file name
	// matches a kind suffix but nothing around it hints at an agent.
	Agent string
	// Candidate is the agent the file name suggests when Agent is empty.
	Candidate   string
	Intent      artifact.Intent
	ValueStream string
	Phase       string
	// Folder is the name segment of the nearest <vs>.<phase>.<name> folder.
	Folder string
	// Template is the template name for KindTemplate.
	Template string
	Form     Form
}

// Resolved reports whether the location names an owning agent.
func (l Location) Resolved() bool {
	return l.Agent != ""
}

// Coordinates returns the tuple encoded by the location.
func (l Location) Coordinates() Coordinates {
	agent := l.Agent
	if agent == "" {
		agent = l.Candidate
	}
	return Coordinates{
		Kind:        l.Kind,
		Agent:       agent,
		ValueStream: l.ValueStream,
		Phase:       l.Phase,
		Intent:      l.Intent,
		Name:        l.Template,
	}
}

type nameParts struct {
	kind     artifact.Kind
	head     string
	tail     string
	plainPy  bool
	template string
}

type dirContext struct {
	dir       string
	dirs      []string
	folderIdx int
	folder    Folder
}

func (c dirContext) hasFolder() bool {
	return c.folderIdx >= 0
}

type recognizer func(rel string, np nameParts, ctx dirContext) (Location, bool)

// Parse recognizes a relative path. Paths matching no convention come back
// with KindUnresolved; Parse never fails.
func (g *Grammar) Parse(p string) Location {
	rel := cleanRel(p)
	np := g.parseName(path.Base(rel))
	if np.kind == artifact.KindUnresolved {
		return unresolved(rel)
	}
	ctx := g.dirContext(path.Dir(rel))
	for _, rec := range g.recognizers {
		if loc, ok := rec(rel, np, ctx); ok {
			return loc
		}
	}
	return unresolved(rel)
}

func unresolved(rel string) Location {
	return Location{Path: rel, Kind: artifact.KindUnresolved, Form: LegacyForm{Layout: LayoutLoose}}
}

func (g *Grammar) parseName(base string) nameParts {
	none := nameParts{kind: artifact.KindUnresolved}
	promptPrefix := g.conv.PromptPrefix + "."
	switch {
	case strings.HasSuffix(base, ".template.md"):
		name := strings.TrimSuffix(base, ".template.md")
		if name == "" {
			return none
		}
		return nameParts{kind: artifact.KindTemplate, template: name}
	case strings.HasPrefix(base, promptPrefix) && strings.HasSuffix(base, ".prompt.md"):
		stem := strings.TrimSuffix(strings.TrimPrefix(base, promptPrefix), ".prompt.md")
		return intentParts(artifact.KindPrompt, stem)
	case strings.HasSuffix(base, ".agent.md"):
		return intentParts(artifact.KindContract, strings.TrimSuffix(base, ".agent.md"))
	case strings.HasSuffix(base, ".charter.md"):
		return agentParts(artifact.KindCharter, strings.TrimSuffix(base, ".charter.md"), false)
	case strings.HasSuffix(base, ".boundary.md"):
		return agentParts(artifact.KindBoundary, strings.TrimSuffix(base, ".boundary.md"), false)
	case strings.HasSuffix(base, ".runner.py"):
		return agentParts(artifact.KindRunner, strings.TrimSuffix(base, ".runner.py"), false)
	case strings.HasSuffix(base, ".py"):
		return agentParts(artifact.KindRunner, strings.TrimSuffix(base, ".py"), true)
	default:
		return none
	}
}

func intentParts(kind artifact.Kind, stem string) nameParts {
	head, tail, ok := strings.Cut(stem, ".")
	if !ok || tail == "" || !ValidAgentName(head) {
		return nameParts{kind: artifact.KindUnresolved}
	}
	return nameParts{kind: kind, head: head, tail: tail}
}

func agentParts(kind artifact.Kind, head string, plainPy bool) nameParts {
	if !ValidAgentName(head) {
		return nameParts{kind: artifact.KindUnresolved}
	}
	return nameParts{kind: kind, head: head, plainPy: plainPy}
}

func (g *Grammar) dirContext(dir string) dirContext {
	ctx := dirContext{dir: dir, folderIdx: -1}
	if dir == "." || dir == "" {
		ctx.dir = "."
		return ctx
	}
	ctx.dirs = strings.Split(dir, "/")
	for i := len(ctx.dirs) - 1; i >= 0; i-- {
		if folder, ok := g.parseFolderSegment(ctx.dirs[i]); ok {
			ctx.folderIdx = i
			ctx.folder = folder
			break
		}
	}
	return ctx
}

// ownerOf splits the file name head into agent and intent. A head equal to
// the surrounding folder name is taken whole so agents whose names end in a
// number keep it.
func ownerOf(np nameParts, folderName string) (string, artifact.Intent) {
	if !np.kind.IntentScoped() {
		return np.head, artifact.Intent{}
	}
	if np.head == folderName {
		return np.head, artifact.Intent{Name: np.tail}
	}
	agent, step := artifact.SplitStep(np.head)
	return agent, artifact.Intent{Step: step, Name: np.tail}
}

func (g *Grammar) recognizeCanonical(rel string, np nameParts, ctx dirContext) (Location, bool) {
	loc := Location{Path: rel, Kind: np.kind, Form: CanonicalForm{}}
	switch np.kind {
	case artifact.KindTemplate:
		if ctx.dir != cleanRel(g.conv.TemplatesDir) {
			return Location{}, false
		}
		loc.Template = np.template
		return loc, true
	case artifact.KindBoundary:
		if ctx.dir != cleanRel(g.conv.BoundariesDir) {
			return Location{}, false
		}
		loc.Agent = np.head
		return loc, true
	case artifact.KindRunner:
		if !np.plainPy || !g.runnerDirs[ctx.dir] {
			return Location{}, false
		}
		loc.Agent = np.head
		return loc, true
	}
	if !ctx.hasFolder() || ctx.folderIdx != len(ctx.dirs)-1 {
		return Location{}, false
	}
	if ctx.dir != path.Join(cleanRel(g.conv.ArtifactsDir), ctx.dirs[ctx.folderIdx]) {
		return Location{}, false
	}
	agent, intent := ownerOf(np, ctx.folder.Name)
	if agent != ctx.folder.Name || !g.phaseAllowed(ctx.folder.ValueStream, ctx.folder.Phase) {
		return Location{}, false
	}
	loc.Agent = agent
	loc.Intent = intent
	loc.ValueStream = ctx.folder.ValueStream
	loc.Phase = ctx.folder.Phase
	loc.Folder = ctx.folder.Name
	return loc, true
}

func (g *Grammar) recognizeAgentFolder(rel string, np nameParts, ctx dirContext) (Location, bool) {
	if !ctx.hasFolder() || np.kind == artifact.KindTemplate {
		return Location{}, false
	}
	agent, intent := ownerOf(np, ctx.folder.Name)
	if agent != ctx.folder.Name {
		return Location{}, false
	}
	layout := LayoutAgentFolder
	if ctx.folderIdx < len(ctx.dirs)-1 {
		layout = LayoutNested
	}
	return Location{
		Path:        rel,
		Kind:        np.kind,
		Agent:       agent,
		Intent:      intent,
		ValueStream: ctx.folder.ValueStream,
		Phase:       ctx.folder.Phase,
		Folder:      ctx.folder.Name,
		Form:        LegacyForm{Layout: layout},
	}, true
}

func (g *Grammar) recognizeCollectionFolder(rel string, np nameParts, ctx dirContext) (Location, bool) {
	if !ctx.hasFolder() || np.plainPy || np.kind == artifact.KindTemplate {
		return Location{}, false
	}
	agent, intent := ownerOf(np, ctx.folder.Name)
	return Location{
		Path:        rel,
		Kind:        np.kind,
		Agent:       agent,
		Intent:      intent,
		ValueStream: ctx.folder.ValueStream,
		Phase:       ctx.folder.Phase,
		Folder:      ctx.folder.Name,
		Form:        LegacyForm{Layout: LayoutCollection},
	}, true
}

func (g *Grammar) recognizeLoose(rel string, np nameParts, ctx dirContext) (Location, bool) {
	if np.plainPy {
		return Location{}, false
	}
	loc := Location{Path: rel, Kind: np.kind, Form: LegacyForm{Layout: LayoutLoose}}
	if np.kind == artifact.KindTemplate {
		loc.Template = np.template
		return loc, true
	}
	agent, intent := ownerOf(np, "")
	loc.Intent = intent
	if g.hintedDir(ctx.dir) {
		loc.Agent = agent
	} else {
		loc.Candidate = agent
	}
	return loc, true
}

// hintedDir reports whether dir is one of the convention directories. A file
// name there is trusted to name its agent even outside an agent folder.
func (g *Grammar) hintedDir(dir string) bool {
	if g.runnerDirs[dir] {
		return true
	}
	return dir == cleanRel(g.conv.BoundariesDir) || dir == cleanRel(g.conv.ArtifactsDir)
}
