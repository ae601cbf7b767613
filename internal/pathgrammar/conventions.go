package pathgrammar

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ValueStream declares one value-stream code and the phases it allows.
// An empty phase list accepts any two-digit phase.
type ValueStream struct {
	Code   string
	Phases []string
}

// Axis is one classification axis: a small enum whose values are mutually
// exclusive. An agent may leave an axis empty.
type Axis struct {
	Name   string
	Values []string
}

// Conventions is the naming policy the grammar applies. It is configuration,
// not mechanism: codes, phases, axes and directory names all come from here.
type Conventions struct {
	ArtifactsDir  string
	BoundariesDir string
	// RunnerDirs lists directories where runners are canonical. Resolve
	// places new runners in the first one.
	RunnerDirs   []string
	TemplatesDir string
	PromptPrefix string
	ValueStreams []ValueStream
	Axes         []Axis
}

// DefaultConventions mirrors the layout the agent-smeder charter prescribes.
func DefaultConventions() Conventions {
	return Conventions{
		ArtifactsDir:  "artefacten",
		BoundariesDir: "agent-boundaries",
		RunnerDirs:    []string{"scripts/runners", "scripts"},
		TemplatesDir:  "templates",
		PromptPrefix:  "mandarin",
		ValueStreams: []ValueStream{
			{Code: "aeo"},
			{Code: "sfw"},
			{Code: "kpu"},
			{Code: "fnd", Phases: []string{"00", "01"}},
		},
		Axes: []Axis{
			{Name: "rol", Values: []string{"steward", "smid", "uitvoerder"}},
			{Name: "bereik", Values: []string{"value-stream", "workspace", "platform"}},
			{Name: "autonomie", Values: []string{"handmatig", "begeleid", "autonoom"}},
			{Name: "levensfase", Values: []string{"concept", "actief", "uitgefaseerd"}},
		},
	}
}

var agentNamePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// ValidAgentName reports whether name is a lowercase-hyphen token.
func ValidAgentName(name string) bool {
	return agentNamePattern.MatchString(name)
}

// ValidateAgentName returns an error describing why name is not a valid agent name.
func ValidateAgentName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("agent name is required")
	}
	if !ValidAgentName(name) {
		return fmt.Errorf("agent name %q must be a lowercase-hyphen token such as agent-smeder", name)
	}
	return nil
}

// NormalizePhase zero-pads a numeric phase to two digits ("2" -> "02").
func NormalizePhase(phase string) (string, error) {
	phase = strings.TrimSpace(phase)
	n, err := strconv.Atoi(phase)
	if err != nil || n < 0 || n > 99 {
		return "", fmt.Errorf("phase %q must be a number between 00 and 99", phase)
	}
	return fmt.Sprintf("%02d", n), nil
}

// ParseStream splits a "<code>.<phase>" value such as "sfw.3" into a
// lowercase code and a two-digit phase.
func ParseStream(value string) (string, string, error) {
	code, phase, ok := strings.Cut(strings.TrimSpace(value), ".")
	if !ok {
		return "", "", fmt.Errorf("use the form <code>.<phase>, for example sfw.03")
	}
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return "", "", fmt.Errorf("value stream code is empty in %q", value)
	}
	normalized, err := NormalizePhase(phase)
	if err != nil {
		return "", "", err
	}
	return code, normalized, nil
}

// Validate checks the conventions for internal consistency.
func (c Conventions) Validate() error {
	if strings.TrimSpace(c.ArtifactsDir) == "" {
		return fmt.Errorf("artifacts dir is required")
	}
	if strings.TrimSpace(c.BoundariesDir) == "" {
		return fmt.Errorf("boundaries dir is required")
	}
	if len(c.RunnerDirs) == 0 {
		return fmt.Errorf("at least one runner dir is required")
	}
	if strings.TrimSpace(c.PromptPrefix) == "" || strings.Contains(c.PromptPrefix, ".") {
		return fmt.Errorf("prompt prefix must be a single dot-free token")
	}
	seen := map[string]bool{}
	for i, vs := range c.ValueStreams {
		if !valueStreamPattern.MatchString(vs.Code) {
			return fmt.Errorf("value_streams[%d]: code %q must be lowercase letters", i, vs.Code)
		}
		if seen[vs.Code] {
			return fmt.Errorf("value_streams[%d]: duplicate code %q", i, vs.Code)
		}
		seen[vs.Code] = true
		for _, phase := range vs.Phases {
			if !phasePattern.MatchString(phase) {
				return fmt.Errorf("value_streams[%d]: phase %q must be two digits", i, phase)
			}
		}
	}
	if len(c.Axes) > 4 {
		return fmt.Errorf("at most four classification axes are supported, got %d", len(c.Axes))
	}
	axes := map[string]bool{}
	for i, axis := range c.Axes {
		if axis.Name == "" {
			return fmt.Errorf("axes[%d]: name is required", i)
		}
		if axes[axis.Name] {
			return fmt.Errorf("axes[%d]: duplicate axis %q", i, axis.Name)
		}
		axes[axis.Name] = true
		if len(axis.Values) == 0 {
			return fmt.Errorf("axes[%d]: %s needs at least one value", i, axis.Name)
		}
	}
	return nil
}

var (
	valueStreamPattern = regexp.MustCompile(`^[a-z]+$`)
	phasePattern       = regexp.MustCompile(`^[0-9]{2}$`)
)
