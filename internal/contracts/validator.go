package contracts

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/kingrea/agent-smeder/internal/artifact"
	"github.com/kingrea/agent-smeder/internal/pathgrammar"
)

// CheckPrompt compares prompt front-matter with the location it was found
// at. The legacy charter key is accepted in place of charter_ref.
func CheckPrompt(meta *artifact.PromptMetadata, loc pathgrammar.Location) []error {
	if meta == nil {
		return []error{fmt.Errorf("prompt metadata is missing")}
	}
	var errs []error
	agent := loc.Agent
	if agent == "" {
		agent = loc.Candidate
	}
	switch strings.TrimSpace(meta.Agent) {
	case "":
		errs = append(errs, fmt.Errorf("agent is required"))
	case agent:
	default:
		errs = append(errs, fmt.Errorf("agent %q does not match file name agent %q", meta.Agent, agent))
	}
	switch intent := strings.TrimSpace(meta.Intent); intent {
	case "":
		errs = append(errs, fmt.Errorf("intent is required"))
	case loc.Intent.Name, loc.Intent.String():
	default:
		errs = append(errs, fmt.Errorf("intent %q does not match file name intent %q", intent, loc.Intent))
	}
	if meta.CharterPath() == "" {
		errs = append(errs, fmt.Errorf("charter_ref is required"))
	}
	return errs
}

// CheckContract reports the required sections missing from a contract body.
// Section text is never inspected.
func CheckContract(body []byte) []error {
	contract, _ := ContractForKind(artifact.KindContract)
	present := headings(body)
	var errs []error
	for _, section := range contract.Sections {
		if !present[strings.ToLower(section)] {
			errs = append(errs, fmt.Errorf("missing required section %q", "## "+section))
		}
	}
	return errs
}

func headings(body []byte) map[string]bool {
	found := map[string]bool{}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "## ") {
			continue
		}
		found[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "## ")))] = true
	}
	return found
}
