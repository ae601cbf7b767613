// Package pathgrammar translates (agent, value stream, phase, intent, kind)
// tuples into canonical artifact paths and recognizes existing paths, in
// both the canonical per-agent layout and the legacy layouts, as the same
// tuples.
package pathgrammar

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/kingrea/agent-smeder/internal/artifact"
)

// Coordinates identify one artifact slot.
type Coordinates struct {
	Kind        artifact.Kind
	Agent       string
	ValueStream string
	Phase       string
	Intent      artifact.Intent
	// Name is only used for templates.
	Name string
}

// Declaration is an agent as declared by the capability boundary / charter
// authoring step: where it lives and how it is classified.
type Declaration struct {
	Agent          string
	ValueStream    string
	Phase          string
	Classification map[string]string
}

// Folder is a parsed <vs>.<phase>.<name> directory segment.
type Folder struct {
	ValueStream string
	Phase       string
	Name        string
}

// String renders the folder segment.
func (f Folder) String() string {
	return f.ValueStream + "." + f.Phase + "." + f.Name
}

// Grammar resolves and parses artifact paths under a set of conventions.
type Grammar struct {
	conv        Conventions
	streams     map[string]map[string]bool
	runnerDirs  map[string]bool
	recognizers []recognizer
}

// New builds a grammar. The conventions are validated up front so Resolve
// can stay a pure templating function.
func New(conv Conventions) (*Grammar, error) {
	if err := conv.Validate(); err != nil {
		return nil, fmt.Errorf("pathgrammar: %w", err)
	}
	g := &Grammar{
		conv:       conv,
		streams:    make(map[string]map[string]bool, len(conv.ValueStreams)),
		runnerDirs: make(map[string]bool, len(conv.RunnerDirs)),
	}
	for _, vs := range conv.ValueStreams {
		phases := make(map[string]bool, len(vs.Phases))
		for _, p := range vs.Phases {
			phases[p] = true
		}
		g.streams[vs.Code] = phases
	}
	for _, dir := range conv.RunnerDirs {
		g.runnerDirs[cleanRel(dir)] = true
	}
	g.recognizers = []recognizer{
		g.recognizeCanonical,
		g.recognizeAgentFolder,
		g.recognizeCollectionFolder,
		g.recognizeLoose,
	}
	return g, nil
}

// Conventions returns the conventions the grammar was built with.
func (g *Grammar) Conventions() Conventions {
	return g.conv
}

// Resolve returns the canonical relative path for the coordinates. It never
// fails; callers validate declarations with ValidateDeclaration first.
func (g *Grammar) Resolve(c Coordinates) string {
	folder := path.Join(g.conv.ArtifactsDir, Folder{ValueStream: c.ValueStream, Phase: c.Phase, Name: c.Agent}.String())
	switch c.Kind {
	case artifact.KindContract:
		return path.Join(folder, artifact.JoinStep(c.Agent, c.Intent.Step)+"."+c.Intent.Name+".agent.md")
	case artifact.KindPrompt:
		return path.Join(folder, g.conv.PromptPrefix+"."+artifact.JoinStep(c.Agent, c.Intent.Step)+"."+c.Intent.Name+".prompt.md")
	case artifact.KindCharter:
		return path.Join(folder, c.Agent+".charter.md")
	case artifact.KindBoundary:
		return path.Join(g.conv.BoundariesDir, c.Agent+".boundary.md")
	case artifact.KindRunner:
		return path.Join(g.conv.RunnerDirs[0], c.Agent+".py")
	case artifact.KindTemplate:
		return path.Join(g.conv.TemplatesDir, c.Name+".template.md")
	default:
		return ""
	}
}

// AgentFolder returns the canonical folder of a declared agent.
func (g *Grammar) AgentFolder(decl Declaration) string {
	return path.Join(g.conv.ArtifactsDir, Folder{ValueStream: decl.ValueStream, Phase: decl.Phase, Name: decl.Agent}.String())
}

// Destination returns where loc belongs for the declared agent. Runners that
// already sit in any canonical runner directory stay where they are.
func (g *Grammar) Destination(loc Location, decl Declaration) string {
	if loc.Kind == artifact.KindRunner && loc.Form.Canonical() {
		return loc.Path
	}
	return g.Resolve(Coordinates{
		Kind:        loc.Kind,
		Agent:       decl.Agent,
		ValueStream: decl.ValueStream,
		Phase:       decl.Phase,
		Intent:      loc.Intent,
	})
}

// ValidateDeclaration checks an agent declaration against the conventions.
func (g *Grammar) ValidateDeclaration(decl Declaration) error {
	if err := ValidateAgentName(decl.Agent); err != nil {
		return err
	}
	phases, ok := g.streams[decl.ValueStream]
	if len(g.streams) > 0 && !ok {
		return fmt.Errorf("value stream %q is not configured (known: %s)", decl.ValueStream, strings.Join(g.streamCodes(), ", "))
	}
	if !valueStreamPattern.MatchString(decl.ValueStream) {
		return fmt.Errorf("value stream %q must be lowercase letters", decl.ValueStream)
	}
	if !phasePattern.MatchString(decl.Phase) {
		return fmt.Errorf("phase %q must be two digits", decl.Phase)
	}
	if len(phases) > 0 && !phases[decl.Phase] {
		return fmt.Errorf("phase %s is not allowed for value stream %s", decl.Phase, decl.ValueStream)
	}
	for axisName, value := range decl.Classification {
		if value == "" {
			continue
		}
		axis, ok := g.axis(axisName)
		if !ok {
			return fmt.Errorf("unknown classification axis %q", axisName)
		}
		if !contains(axis.Values, value) {
			return fmt.Errorf("classification %s=%q is not one of %s", axisName, value, strings.Join(axis.Values, ", "))
		}
	}
	return nil
}

// ParseFolder recognizes a directory path whose last segment is a
// <vs>.<phase>.<name> folder, with or without the artifacts dir prefix.
func (g *Grammar) ParseFolder(dir string) (Folder, bool) {
	dir = cleanRel(dir)
	if dir == "" || dir == "." {
		return Folder{}, false
	}
	return g.parseFolderSegment(path.Base(dir))
}

var folderPattern = regexp.MustCompile(`^([a-z]+)\.([0-9]{2})\.([a-z][a-z0-9]*(?:-[a-z0-9]+)*)$`)

func (g *Grammar) parseFolderSegment(segment string) (Folder, bool) {
	m := folderPattern.FindStringSubmatch(segment)
	if m == nil {
		return Folder{}, false
	}
	if len(g.streams) > 0 {
		if _, ok := g.streams[m[1]]; !ok {
			return Folder{}, false
		}
	}
	return Folder{ValueStream: m[1], Phase: m[2], Name: m[3]}, true
}

func (g *Grammar) phaseAllowed(vs, phase string) bool {
	phases, ok := g.streams[vs]
	if !ok {
		return len(g.streams) == 0
	}
	return len(phases) == 0 || phases[phase]
}

func (g *Grammar) axis(name string) (Axis, bool) {
	for _, a := range g.conv.Axes {
		if a.Name == name {
			return a, true
		}
	}
	return Axis{}, false
}

func (g *Grammar) streamCodes() []string {
	codes := make([]string, 0, len(g.streams))
	for code := range g.streams {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func cleanRel(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	p = path.Clean(p)
	return strings.TrimPrefix(p, "./")
}
