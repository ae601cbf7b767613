package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// workspaceDirs are the folders every ordered workspace needs.
var workspaceDirs = []string{
	".github/prompts",
	"charters-agents",
	"scripts/runners",
	"docs/resultaten",
	"logs",
	"temp",
	SmederDir + "/locks",
	SmederDir + "/staging",
}

var ignoredPaths = []string{"logs/", "temp/", SmederDir + "/staging/", SmederDir + "/locks/"}

const configHeader = `# smeder workspace configuration.
# Environment variables prefixed with SMEDER_ override these values; use a
# double underscore between levels, e.g. SMEDER_LOG__LEVEL=debug.
`

// InitWorkspace creates the workspace folders, the default config file and
// the .gitignore entries. Existing files are left alone. It returns the
// workspace-relative paths it created or changed.
func InitWorkspace(root string) ([]string, error) {
	var changed []string
	for _, dir := range workspaceDirs {
		abs := filepath.Join(root, filepath.FromSlash(dir))
		if _, err := os.Stat(abs); err == nil {
			continue
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return changed, fmt.Errorf("create %s: %w", dir, err)
		}
		changed = append(changed, dir+"/")
	}
	created, err := ensureConfigFile(root)
	if err != nil {
		return changed, err
	}
	if created {
		changed = append(changed, SmederDir+"/config.yaml")
	}
	updated, err := ensureGitignore(root)
	if err != nil {
		return changed, err
	}
	if updated {
		changed = append(changed, ".gitignore")
	}
	return changed, nil
}

func ensureConfigFile(root string) (bool, error) {
	path := filepath.Join(root, SmederDir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat config: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return false, fmt.Errorf("render default config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0o644); err != nil {
		return false, fmt.Errorf("write config: %w", err)
	}
	return true, nil
}

func ensureGitignore(root string) (bool, error) {
	path := filepath.Join(root, ".gitignore")
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("read .gitignore: %w", err)
	}
	present := map[string]bool{}
	for _, line := range strings.Split(string(existing), "\n") {
		present[strings.TrimSpace(line)] = true
	}
	var missing []string
	for _, entry := range ignoredPaths {
		if !present[entry] {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return false, nil
	}
	content := string(existing)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += strings.Join(missing, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write .gitignore: %w", err)
	}
	return true, nil
}
