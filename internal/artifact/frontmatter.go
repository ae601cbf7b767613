package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("artifact: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("artifact: malformed frontmatter")
)

// PromptMetadata is the front-matter of a prompt metadata file. Older
// generators wrote charter/contract keys; charter_ref is the current name.
type PromptMetadata struct {
	Agent      string `yaml:"agent"`
	Intent     string `yaml:"intent"`
	CharterRef string `yaml:"charter_ref,omitempty"`
	Charter    string `yaml:"charter,omitempty"`
	Contract   string `yaml:"contract,omitempty"`
}

// CharterPath returns the referenced charter, preferring charter_ref.
func (m PromptMetadata) CharterPath() string {
	if ref := strings.TrimSpace(m.CharterRef); ref != "" {
		return ref
	}
	return strings.TrimSpace(m.Charter)
}

// BoundaryMetadata is the optional front-matter of a capability boundary. It
// is where the authoring step declares the agent's value stream and phase.
type BoundaryMetadata struct {
	Agent          string            `yaml:"agent"`
	ValueStream    string            `yaml:"value_stream"`
	Phase          string            `yaml:"fase"`
	Classification map[string]string `yaml:"classificatie,omitempty"`
}

// ParseFrontMatter decodes the YAML block fenced by `---` lines into out and
// returns the remaining body.
func ParseFrontMatter(content []byte, out any) ([]byte, error) {
	if len(content) == 0 {
		return nil, ErrMissingFrontMatter
	}
	normalized := normalizeNewlines(content)
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	var metaBytes, body []byte
	if bytes.HasPrefix(rest, []byte("---\n")) {
		body = rest[4:]
	} else {
		parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
		if len(parts) < 2 {
			if !bytes.HasSuffix(rest, []byte("\n---")) {
				return nil, ErrMalformedFrontMatter
			}
			parts = [][]byte{bytes.TrimSuffix(rest, []byte("\n---")), nil}
		}
		metaBytes, body = parts[0], parts[1]
	}
	if err := yaml.Unmarshal(metaBytes, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrontMatter, err)
	}
	return body, nil
}

// WriteFrontMatter renders meta + body with YAML fences.
func WriteFrontMatter(meta any, body []byte) ([]byte, error) {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("artifact: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

func normalizeNewlines(content []byte) []byte {
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}
