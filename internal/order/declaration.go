package order

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kingrea/agent-smeder/internal/artifact"
	"github.com/kingrea/agent-smeder/internal/catalog"
	smerr "github.com/kingrea/agent-smeder/internal/errors"
	"github.com/kingrea/agent-smeder/internal/pathgrammar"
)

// declaration resolves where agent lives. Precedence: the --stream hint, the
// config file, the boundary front-matter, then the folders the agent's files
// already sit in. The last source is returned with an assumption.
func (s *Service) declaration(cat *catalog.Catalog, agent string, hints Hints) (pathgrammar.Declaration, string, error) {
	decl := pathgrammar.Declaration{Agent: agent}
	assumption := ""
	boundary := boundaryMetadata(cat.ForAgent(agent))

	switch {
	case hints.Stream != "":
		vs, phase, err := pathgrammar.ParseStream(hints.Stream)
		if err != nil {
			return decl, "", smerr.Wrap(smerr.EUnresolvableLocation, fmt.Sprintf("stream hint %q", hints.Stream), err)
		}
		decl.ValueStream, decl.Phase = vs, phase
	case s.configured(agent):
		configured, _ := s.Config.Declaration(agent)
		decl = configured
	case boundary != nil && boundary.ValueStream != "" && boundary.Phase != "":
		phase, err := pathgrammar.NormalizePhase(boundary.Phase)
		if err != nil {
			return decl, "", smerr.Wrap(smerr.EUnresolvableLocation, "boundary front-matter", err)
		}
		decl.ValueStream = strings.ToLower(strings.TrimSpace(boundary.ValueStream))
		decl.Phase = phase
	default:
		folder, err := inferFolder(cat.ForAgent(agent), agent)
		if err != nil {
			return decl, "", err
		}
		decl.ValueStream, decl.Phase = folder.ValueStream, folder.Phase
		assumption = fmt.Sprintf("no declaration found for %s; location %s taken from the folders its files sit in", agent, folder)
	}

	decl.Classification = map[string]string{}
	if boundary != nil {
		for axis, value := range boundary.Classification {
			decl.Classification[axis] = value
		}
	}
	if configured, ok := s.Config.Declaration(agent); ok {
		for axis, value := range configured.Classification {
			decl.Classification[axis] = value
		}
	}
	for axis, value := range hints.Classification {
		decl.Classification[axis] = value
	}
	return decl, assumption, nil
}

func (s *Service) configured(agent string) bool {
	_, ok := s.Config.Declaration(agent)
	return ok
}

func boundaryMetadata(refs []catalog.Reference) *artifact.BoundaryMetadata {
	for _, ref := range refs {
		if ref.Kind == artifact.KindBoundary && ref.Boundary != nil && !ref.Ambiguous {
			return ref.Boundary
		}
	}
	return nil
}

// inferFolder returns the single <vs>.<phase> location of the folders named
// after agent. Files in collection folders say nothing about the agent.
func inferFolder(refs []catalog.Reference, agent string) (pathgrammar.Folder, error) {
	seen := map[string]pathgrammar.Folder{}
	for _, ref := range refs {
		if ref.Folder != agent || ref.ValueStream == "" || ref.Phase == "" {
			continue
		}
		f := pathgrammar.Folder{ValueStream: ref.ValueStream, Phase: ref.Phase, Name: agent}
		seen[f.String()] = f
	}
	switch len(seen) {
	case 1:
		for _, f := range seen {
			return f, nil
		}
	case 0:
		return pathgrammar.Folder{}, smerr.Newf(smerr.EUnresolvableLocation,
			"no value stream and phase declared for %s; pass --stream <code>.<phase>, add it to the config or to its boundary front-matter", agent)
	}
	var names []string
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return pathgrammar.Folder{}, smerr.Newf(smerr.EUnresolvableLocation,
		"%s has files in several folders (%s); pass --stream to choose", agent, strings.Join(names, ", "))
}
