// Package artifact defines the file kinds that make up an agent (boundary,
// contract, prompt metadata, charter, runner) and the YAML front-matter some
// of them carry. Bodies are opaque; only names and front-matter are inspected.
package artifact

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies an artifact file by its naming convention.
type Kind string

const (
	// KindBoundary is the capability boundary an agent is designed against.
	KindBoundary Kind = "boundary"
	// KindContract is the per-intent agent contract (<agent>.<intent>.agent.md).
	KindContract Kind = "contract"
	// KindPrompt is the per-intent prompt metadata (mandarin.<agent>.<intent>.prompt.md).
	KindPrompt Kind = "prompt"
	// KindCharter is the single per-agent charter.
	KindCharter Kind = "charter"
	// KindRunner is the optional runner script.
	KindRunner Kind = "runner"
	// KindTemplate is an agent-less authoring template.
	KindTemplate Kind = "template"
	// KindUnresolved marks a file that matches no naming convention.
	KindUnresolved Kind = "unresolved"
)

// Kinds lists every kind in report order.
var Kinds = []Kind{KindBoundary, KindCharter, KindContract, KindPrompt, KindRunner, KindTemplate, KindUnresolved}

// IntentScoped reports whether artifacts of this kind belong to an intent.
func (k Kind) IntentScoped() bool {
	return k == KindContract || k == KindPrompt
}

// AgentScoped reports whether artifacts of this kind belong to an agent as a whole.
func (k Kind) AgentScoped() bool {
	return k == KindBoundary || k == KindCharter || k == KindRunner
}

// Owned reports whether artifacts of this kind can have an owning agent.
func (k Kind) Owned() bool {
	return k.IntentScoped() || k.AgentScoped()
}

// Intent identifies one operation of an agent. Legacy flat layouts carry a
// step number in the filename head (agent-smeder-1.<intent>); the step is
// kept so resolved names match the originals.
type Intent struct {
	Step int
	Name string
}

// IsZero reports whether the intent is unset.
func (i Intent) IsZero() bool {
	return i.Step == 0 && i.Name == ""
}

// String renders the intent as <step>.<name>, or just the name without a step.
func (i Intent) String() string {
	if i.Step > 0 {
		return strconv.Itoa(i.Step) + "." + i.Name
	}
	return i.Name
}

// SplitStep splits a filename head like "agent-smeder-2" into the agent name
// and step. Heads without a trailing numeric token return step 0.
func SplitStep(head string) (string, int) {
	idx := strings.LastIndex(head, "-")
	if idx <= 0 || idx == len(head)-1 {
		return head, 0
	}
	step, err := strconv.Atoi(head[idx+1:])
	if err != nil || step <= 0 {
		return head, 0
	}
	return head[:idx], step
}

// JoinStep is the inverse of SplitStep.
func JoinStep(agent string, step int) string {
	if step > 0 {
		return fmt.Sprintf("%s-%d", agent, step)
	}
	return agent
}

// Tokens splits a hyphen-delimited agent name into its tokens.
func Tokens(name string) []string {
	if name == "" {
		return nil
	}
	return strings.Split(name, "-")
}

// TokenPrefix reports whether the tokens of prefix are a leading run of the
// tokens of name. "agent-smeder" is a token prefix of "agent-smeder-validator";
// "agent-sme" is not.
func TokenPrefix(prefix, name string) bool {
	p := Tokens(prefix)
	n := Tokens(name)
	if len(p) == 0 || len(p) > len(n) {
		return false
	}
	for i := range p {
		if p[i] != n[i] {
			return false
		}
	}
	return true
}

// StrictTokenPrefix reports whether prefix is a token prefix of name and
// shorter than it.
func StrictTokenPrefix(prefix, name string) bool {
	return prefix != name && TokenPrefix(prefix, name)
}
