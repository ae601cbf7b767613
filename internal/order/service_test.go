package order

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/agent-smeder/internal/audit"
	"github.com/kingrea/agent-smeder/internal/catalog"
	"github.com/kingrea/agent-smeder/internal/config"
	smerr "github.com/kingrea/agent-smeder/internal/errors"
	"github.com/kingrea/agent-smeder/internal/fs"
)

const (
	legacyContract = "aeo.02.agent-smeder/agent-smeder-1.leg-agent-contract-vast.agent.md"
	legacyPrompt   = "aeo.02.agent-smeder/mandarin.agent-smeder-1.leg-agent-contract-vast.prompt.md"
	canonicalDir   = "artefacten/aeo.02.agent-smeder/"
)

func newService(t *testing.T, files map[string]string) *Service {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		writeFile(t, root, rel, content)
	}
	cfg, err := config.Load(root)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	n := 0
	svc.NewRunID = func() string {
		n++
		return "run-" + string(rune('0'+n))
	}
	svc.Now = func() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) }
	return svc
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(root, rel string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil
}

func readReport(t *testing.T, svc *Service, agent string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(svc.Config.Root, filepath.FromSlash(audit.Path(agent))))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	return string(data)
}

func legacyFiles() map[string]string {
	return map[string]string{
		legacyContract: "## Input\n## Output\n## Foutafhandeling\n## Herkomstverantwoording\n",
		legacyPrompt:   "---\nagent: agent-smeder\nintent: 1.leg-agent-contract-vast\ncharter_ref: artefacten/aeo.02.agent-smeder/agent-smeder.charter.md\n---\n",
	}
}

func TestOrderMovesLegacyFilesAndWritesReport(t *testing.T) {
	files := legacyFiles()
	files["agent-boundaries/planner.boundary.md"] = "scope\n"
	svc := newService(t, files)
	report, err := svc.Order(context.Background(), "agent-smeder", Hints{})
	if err != nil {
		t.Fatalf("Order returned error: %v", err)
	}
	if report.Status != audit.StatusOrdered {
		t.Fatalf("status = %s", report.Status)
	}
	root := svc.Config.Root
	for _, src := range []string{legacyContract, legacyPrompt} {
		dest := canonicalDir + filepath.Base(src)
		if exists(root, src) || !exists(root, dest) {
			t.Fatalf("%s was not moved to %s", src, dest)
		}
	}
	if exists(root, "aeo.02.agent-smeder") {
		t.Fatalf("emptied legacy folder should be pruned")
	}
	doc := readReport(t, svc, "agent-smeder")
	if strings.Count(doc, "` -> `") != 2 {
		t.Fatalf("report should list two moves:\n%s", doc)
	}
	if !strings.Contains(doc, "taken from the folders its files sit in") {
		t.Fatalf("inferred declaration must be an assumption:\n%s", doc)
	}
	if !strings.Contains(doc, "## Conflicts\n\n- none\n") {
		t.Fatalf("missing charter and boundary must not count as conflicts:\n%s", doc)
	}
	assumptions := doc[strings.Index(doc, "## Assumptions"):strings.Index(doc, "## Conflicts")]
	if !strings.Contains(assumptions, "no charter yet") || !strings.Contains(assumptions, "no boundary yet") {
		t.Fatalf("missing halves must be listed as assumptions:\n%s", doc)
	}
	read := doc[strings.Index(doc, "## Files read"):strings.Index(doc, "## Files moved")]
	if !strings.Contains(read, "agent-boundaries/planner.boundary.md") {
		t.Fatalf("files read while cataloging must include other agents' front-matter:\n%s", doc)
	}
	lines, _ := svc.Journal.Tail(1)
	if len(lines) != 1 || !strings.Contains(lines[0], "agent=agent-smeder") {
		t.Fatalf("journal entry missing: %v", lines)
	}
}

func TestOrderDuplicateChartersMoveNothing(t *testing.T) {
	svc := newService(t, map[string]string{
		"aeo.02.agent-smeder/agent-smeder.charter.md":       "one\n",
		"inbox/aeo.02.agent-smeder/agent-smeder.charter.md": "two\n",
	})
	report, err := svc.Order(context.Background(), "agent-smeder", Hints{Stream: "aeo.2"})
	if err != nil {
		t.Fatalf("Order returned error: %v", err)
	}
	if report.Status != audit.StatusNothingToDo {
		t.Fatalf("status = %s", report.Status)
	}
	root := svc.Config.Root
	if !exists(root, "aeo.02.agent-smeder/agent-smeder.charter.md") || !exists(root, "inbox/aeo.02.agent-smeder/agent-smeder.charter.md") {
		t.Fatalf("duplicates must stay in place")
	}
	if !strings.Contains(readReport(t, svc, "agent-smeder"), "E_DUPLICATE_CHARTER") {
		t.Fatalf("report must list the duplicate charter conflict")
	}
}

func TestOrderMovesContractWithMissingPrompt(t *testing.T) {
	svc := newService(t, map[string]string{
		"aeo.02.agent-smeder/agent-smeder.3.schrijf-runner.agent.md": "## Input\n",
	})
	if _, err := svc.Order(context.Background(), "agent-smeder", Hints{}); err != nil {
		t.Fatalf("Order returned error: %v", err)
	}
	if !exists(svc.Config.Root, canonicalDir+"agent-smeder.3.schrijf-runner.agent.md") {
		t.Fatalf("contract should still be moved")
	}
	doc := readReport(t, svc, "agent-smeder")
	if !strings.Contains(doc, "E_MISSING_EDGE") || !strings.Contains(doc, "no prompt[3.schrijf-runner] yet") {
		t.Fatalf("report must list the missing prompt:\n%s", doc)
	}
}

func TestOrderTwiceReportsNoRelocationNeeded(t *testing.T) {
	svc := newService(t, legacyFiles())
	if _, err := svc.Order(context.Background(), "agent-smeder", Hints{}); err != nil {
		t.Fatalf("first Order returned error: %v", err)
	}
	report, err := svc.Order(context.Background(), "agent-smeder", Hints{Stream: "aeo.02"})
	if err != nil {
		t.Fatalf("second Order returned error: %v", err)
	}
	if report.Status != audit.StatusNothingToDo {
		t.Fatalf("status = %s", report.Status)
	}
	doc := readReport(t, svc, "agent-smeder")
	if !strings.Contains(doc, "No relocation needed.") || !strings.Contains(doc, "runs: 2") {
		t.Fatalf("report must keep both runs:\n%s", doc)
	}
}

type failingStage struct {
	*fs.OS
	suffix string
}

func (f failingStage) WriteFile(path string, data []byte, perm os.FileMode) error {
	if strings.Contains(filepath.ToSlash(path), "/staging/") && strings.HasSuffix(path, f.suffix) {
		return errors.New("disk full")
	}
	return f.OS.WriteFile(path, data, perm)
}

func TestOrderStagingFailureRollsBack(t *testing.T) {
	svc := newService(t, legacyFiles())
	svc.FS = failingStage{OS: fs.NewOS(), suffix: ".prompt.md"}
	report, err := svc.Order(context.Background(), "agent-smeder", Hints{})
	if smerr.GetCode(err) != smerr.EStagingFailure {
		t.Fatalf("expected E_STAGING_FAILURE, got %v", err)
	}
	if report.Status != audit.StatusRolledBack {
		t.Fatalf("status = %s", report.Status)
	}
	root := svc.Config.Root
	for _, src := range []string{legacyContract, legacyPrompt} {
		if !exists(root, src) {
			t.Fatalf("source %s must survive a rollback", src)
		}
	}
	if exists(root, canonicalDir) {
		t.Fatalf("nothing may be promoted after a staging failure")
	}
	if !strings.Contains(readReport(t, svc, "agent-smeder"), "E_STAGING_FAILURE") {
		t.Fatalf("report must carry the staging failure")
	}
}

func TestOrderDryRunWritesOnlyTheReport(t *testing.T) {
	svc := newService(t, legacyFiles())
	report, err := svc.Order(context.Background(), "agent-smeder", Hints{DryRun: true})
	if err != nil {
		t.Fatalf("Order returned error: %v", err)
	}
	if report.Status != audit.StatusDryRun {
		t.Fatalf("status = %s", report.Status)
	}
	if !exists(svc.Config.Root, legacyContract) {
		t.Fatalf("dry run must not move files")
	}
	if !strings.Contains(readReport(t, svc, "agent-smeder"), "(planned, not executed)") {
		t.Fatalf("dry-run report must list planned moves")
	}
}

func TestOrderRefusesInvalidNameWithoutReportFile(t *testing.T) {
	svc := newService(t, nil)
	report, err := svc.Order(context.Background(), "Agent_Smeder", Hints{})
	if smerr.GetCode(err) != smerr.EInvalidAgentName {
		t.Fatalf("expected E_INVALID_AGENT_NAME, got %v", err)
	}
	if report == nil || report.Path != "" || report.Status != audit.StatusFailed {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestOrderRefusesLockedAgent(t *testing.T) {
	svc := newService(t, legacyFiles())
	unlock, err := svc.Lock.Lock("agent-smeder", "other-run", "test")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()
	_, err = svc.Order(context.Background(), "agent-smeder", Hints{})
	if smerr.GetCode(err) != smerr.ELocked {
		t.Fatalf("expected E_LOCKED, got %v", err)
	}
	if !exists(svc.Config.Root, legacyContract) {
		t.Fatalf("a locked agent must not be touched")
	}
}

func TestOrderUnresolvableWithoutDeclaration(t *testing.T) {
	svc := newService(t, map[string]string{
		"inbox/agent-smeder.charter.md": "charter\n",
	})
	_, err := svc.Order(context.Background(), "agent-smeder", Hints{})
	if smerr.GetCode(err) != smerr.EUnresolvableLocation {
		t.Fatalf("expected E_UNRESOLVABLE_LOCATION, got %v", err)
	}
	if !strings.Contains(readReport(t, svc, "agent-smeder"), "Stopped before any file was changed.") {
		t.Fatalf("fatal runs still leave a report")
	}
}

func TestOrderConfirmsCandidates(t *testing.T) {
	svc := newService(t, map[string]string{
		"inbox/agent-smeder.charter.md": "charter\n",
	})
	var offered []catalog.Candidate
	confirm := func(agent string, cands []catalog.Candidate) ([]string, error) {
		offered = cands
		return []string{cands[0].Path}, nil
	}
	if _, err := svc.Order(context.Background(), "agent-smeder", Hints{Stream: "aeo.02", Confirm: confirm}); err != nil {
		t.Fatalf("Order returned error: %v", err)
	}
	if len(offered) != 1 || offered[0].Path != "inbox/agent-smeder.charter.md" {
		t.Fatalf("offered = %+v", offered)
	}
	if !exists(svc.Config.Root, canonicalDir+"agent-smeder.charter.md") {
		t.Fatalf("confirmed candidate should be moved")
	}
}
