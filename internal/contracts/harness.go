package contracts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kingrea/agent-smeder/internal/artifact"
	"github.com/kingrea/agent-smeder/internal/catalog"
)

// Report captures check results for one artifact file.
type Report struct {
	Path   string
	Kind   artifact.Kind
	Errors []error
}

// CheckFile reads ref under root and checks it against the contract for its
// kind. Kinds without a contract always pass.
func CheckFile(root string, ref catalog.Reference) (*Report, error) {
	report := &Report{Path: ref.Path, Kind: ref.Kind}
	if _, ok := ContractForKind(ref.Kind); !ok {
		return report, nil
	}
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(ref.Path)))
	if err != nil {
		return nil, fmt.Errorf("read artifact file: %w", err)
	}
	switch ref.Kind {
	case artifact.KindPrompt:
		var meta artifact.PromptMetadata
		if _, err := artifact.ParseFrontMatter(data, &meta); err != nil {
			if errors.Is(err, artifact.ErrMissingFrontMatter) {
				report.Errors = append(report.Errors, fmt.Errorf("front-matter is required"))
				return report, nil
			}
			report.Errors = append(report.Errors, err)
			return report, nil
		}
		report.Errors = CheckPrompt(&meta, ref.Location)
	case artifact.KindContract:
		report.Errors = CheckContract(data)
	}
	return report, nil
}

// CheckAll runs CheckFile over refs and keeps only failing reports.
func CheckAll(root string, refs []catalog.Reference) ([]*Report, error) {
	var out []*Report
	for _, ref := range refs {
		report, err := CheckFile(root, ref)
		if err != nil {
			return nil, err
		}
		if !report.IsValid() {
			out = append(out, report)
		}
	}
	return out, nil
}

// IsValid reports whether the check passed.
func (r *Report) IsValid() bool {
	return r != nil && len(r.Errors) == 0
}
