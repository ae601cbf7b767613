// Package order runs the "order this agent" operation end to end: catalog
// the workspace, resolve the agent's declaration, plan, execute, and always
// leave an audit report behind.
package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/kingrea/agent-smeder/internal/artifact"
	"github.com/kingrea/agent-smeder/internal/audit"
	"github.com/kingrea/agent-smeder/internal/catalog"
	"github.com/kingrea/agent-smeder/internal/config"
	"github.com/kingrea/agent-smeder/internal/contracts"
	smerr "github.com/kingrea/agent-smeder/internal/errors"
	"github.com/kingrea/agent-smeder/internal/fs"
	"github.com/kingrea/agent-smeder/internal/lock"
	"github.com/kingrea/agent-smeder/internal/logbook"
	"github.com/kingrea/agent-smeder/internal/pathgrammar"
	"github.com/kingrea/agent-smeder/internal/relocation"
	"github.com/kingrea/agent-smeder/internal/telemetry"
	"github.com/kingrea/agent-smeder/internal/traceability"
)

// ConfirmFunc asks the operator which candidate files belong to agent and
// returns the confirmed paths.
type ConfirmFunc func(agent string, candidates []catalog.Candidate) ([]string, error)

// Hints are the operator's explicit inputs to one run.
type Hints struct {
	// Stream overrides the declared location, in the form <code>.<phase>.
	Stream string
	// Classification overrides declared axis values.
	Classification map[string]string
	// Accept lists candidate paths confirmed up front.
	Accept []string
	// AutoClaim claims exact-match candidates without asking. It is OR-ed
	// with the configured default.
	AutoClaim bool
	DryRun    bool
	// Confirm is consulted for candidates not already accepted. Nil skips it.
	Confirm ConfirmFunc
}

// Service carries everything an ordering run needs.
type Service struct {
	Config    *config.Config
	Grammar   *pathgrammar.Grammar
	FS        fs.FS
	Logger    *zap.Logger
	Journal   *logbook.Logbook
	Telemetry *telemetry.Telemetry
	Lock      lock.AgentLock
	Now       func() time.Time
	NewRunID  func() string
	// Command is recorded in lock files.
	Command string
}

// New wires a service for cfg with quiet defaults. Callers replace Logger,
// Journal and Telemetry as needed.
func New(cfg *config.Config) (*Service, error) {
	grammar, err := pathgrammar.New(cfg.PathConventions())
	if err != nil {
		return nil, smerr.Wrap(smerr.EConfig, "invalid conventions", err)
	}
	journal, err := logbook.New(cfg.JournalPath())
	if err != nil {
		return nil, smerr.Wrap(smerr.EConfig, "open action journal", err)
	}
	lk := lock.New(cfg.LocksDir())
	lk.StaleAfter = cfg.Ordering.StaleLockAfter
	return &Service{
		Config:    cfg,
		Grammar:   grammar,
		FS:        fs.NewOS(),
		Logger:    zap.NewNop(),
		Journal:   journal,
		Telemetry: telemetry.Nop(),
		Lock:      lk,
		Now:       time.Now,
		NewRunID:  uuid.NewString,
		Command:   "smeder order",
	}, nil
}

// run is the mutable state of one Order call.
type run struct {
	in   audit.Input
	log  *zap.Logger
	read map[string]bool
}

func (r *run) markRead(paths ...string) {
	for _, p := range paths {
		r.read[p] = true
	}
}

// Order orders agent. The returned report is never nil. The error is a coded
// error for fatal outcomes; conflicts alone are not an error.
func (s *Service) Order(ctx context.Context, agent string, hints Hints) (*audit.Report, error) {
	runID := s.NewRunID()
	r := &run{
		in: audit.Input{
			RunID:     runID,
			Agent:     agent,
			Inputs:    describeInputs(agent, hints),
			DryRun:    hints.DryRun,
			StartedAt: s.Now(),
		},
		log:  s.Logger.With(zap.String("run_id", runID), zap.String("agent", agent)),
		read: map[string]bool{},
	}
	ctx, span := s.Telemetry.Start(ctx, "smeder.order",
		attribute.String("agent", agent), attribute.String("run_id", runID), attribute.Bool("dry_run", hints.DryRun))

	err := s.order(ctx, r, agent, hints)
	report, err := s.finish(ctx, r, err)
	telemetry.End(span, err)
	return report, err
}

func (s *Service) order(ctx context.Context, r *run, agent string, hints Hints) error {
	if err := pathgrammar.ValidateAgentName(agent); err != nil {
		return smerr.Wrap(smerr.EInvalidAgentName, err.Error(), relocation.ErrInvalidAgentName)
	}
	unlock, err := s.Lock.Lock(agent, r.in.RunID, s.Command)
	if err != nil {
		var locked *lock.ErrLocked
		if errors.As(err, &locked) {
			return smerr.Wrap(smerr.ELocked, locked.Error(), err)
		}
		return smerr.Wrap(smerr.EInternal, "acquire agent lock", err)
	}
	defer func() {
		if err := unlock(); err != nil {
			r.log.Warn("lock not released", zap.Error(err))
		}
	}()

	cat, err := s.buildCatalog(ctx)
	if err != nil {
		return err
	}
	r.markRead(cat.Read()...)

	decl, assumption, err := s.declaration(cat, agent, hints)
	if err != nil {
		return err
	}
	r.log.Info("declaration resolved", zap.String("value_stream", decl.ValueStream), zap.String("phase", decl.Phase))

	target := relocation.Target{
		Decl:      decl,
		Accept:    append([]string(nil), hints.Accept...),
		AutoClaim: hints.AutoClaim || s.Config.Ordering.AutoClaimCandidates,
	}
	if hints.Confirm != nil && !target.AutoClaim {
		confirmed, err := s.confirm(cat, agent, target.Accept, hints.Confirm)
		if err != nil {
			return err
		}
		target.Accept = append(target.Accept, confirmed...)
	}

	if s.Config.Ordering.CheckContent {
		refs := cat.ForAgent(agent)
		findings, err := s.checkContent(cat, refs)
		if err != nil {
			return err
		}
		r.in.Findings = findings
		for _, ref := range refs {
			if ref.Kind == artifact.KindPrompt || ref.Kind == artifact.KindContract {
				r.markRead(ref.Path)
			}
		}
	}

	pctx, pspan := s.Telemetry.Start(ctx, "smeder.plan")
	planner := relocation.Planner{Root: cat.Root(), FS: s.FS, Grammar: s.Grammar}
	plan, err := planner.Plan(pctx, cat, target)
	telemetry.End(pspan, err)
	if err != nil {
		return planError(err)
	}
	if assumption != "" {
		plan.Assumptions = append([]string{assumption}, plan.Assumptions...)
	}
	r.in.Plan = plan
	r.markRead(plan.Read...)
	r.log.Info("plan computed",
		zap.Int("moves", len(plan.Moves())),
		zap.Int("rewrites", len(plan.Rewritten())),
		zap.Int("conflicts", len(plan.Conflicts)),
		zap.Int("missing_edges", len(plan.Missing)))

	if hints.DryRun || plan.Empty() {
		return nil
	}

	xctx, xspan := s.Telemetry.Start(ctx, "smeder.execute", attribute.Int("moves", len(plan.Moves())))
	exec := relocation.Executor{
		Root:       cat.Root(),
		StagingDir: s.Config.StagingDir(),
		RunID:      r.in.RunID,
		FS:         s.FS,
		Logger:     r.log,
		Workers:    s.Config.Ordering.Workers,
		Keep:       s.Config.KeepDirs(),
	}
	result, err := exec.Execute(xctx, plan)
	telemetry.End(xspan, err)
	r.in.Result = result
	if err != nil {
		return executeError(err)
	}
	return nil
}

func (s *Service) buildCatalog(ctx context.Context) (*catalog.Catalog, error) {
	ctx, span := s.Telemetry.Start(ctx, "smeder.catalog")
	cat, err := catalog.Build(ctx, catalog.Options{
		Root:    s.Config.Root,
		Dirs:    s.Config.Scan.Dirs,
		Ignore:  append([]string{config.SmederDir}, s.Config.Scan.Ignore...),
		Grammar: s.Grammar,
		Workers: s.Config.Ordering.Workers,
	})
	telemetry.End(span, err)
	if err != nil {
		if isCanceled(err) {
			return nil, smerr.Wrap(smerr.ECanceled, "cataloging canceled", err)
		}
		return nil, smerr.Wrap(smerr.EInternal, "catalog workspace", err)
	}
	return cat, nil
}

func (s *Service) confirm(cat *catalog.Catalog, agent string, accepted []string, confirm ConfirmFunc) ([]string, error) {
	skip := map[string]bool{}
	for _, p := range accepted {
		skip[p] = true
	}
	var ask []catalog.Candidate
	for _, cand := range cat.Candidates(agent) {
		if !cand.Ambiguous() && !skip[cand.Path] {
			ask = append(ask, cand)
		}
	}
	if len(ask) == 0 {
		return nil, nil
	}
	confirmed, err := confirm(agent, ask)
	if err != nil {
		if isCanceled(err) {
			return nil, smerr.Wrap(smerr.ECanceled, "candidate confirmation canceled", err)
		}
		return nil, smerr.Wrap(smerr.EUsage, "candidate confirmation failed", err)
	}
	return confirmed, nil
}

func (s *Service) checkContent(cat *catalog.Catalog, refs []catalog.Reference) ([]string, error) {
	reports, err := contracts.CheckAll(cat.Root(), refs)
	if err != nil {
		return nil, smerr.Wrap(smerr.EInternal, "content checks", err)
	}
	var findings []string
	for _, rep := range reports {
		for _, e := range rep.Errors {
			findings = append(findings, fmt.Sprintf("`%s`: %v", rep.Path, e))
		}
	}
	return findings, nil
}

// finish renders the report, writes it when the run got far enough to own
// the agent's report file, and records the journal entry.
func (s *Service) finish(ctx context.Context, r *run, runErr error) (*audit.Report, error) {
	r.in.FinishedAt = s.Now()
	if runErr != nil {
		r.in.Fatal = runErr
		r.in.FatalCode = string(smerr.GetCode(runErr))
	}
	r.in.Read = sortedKeys(r.read)
	report := audit.Render(r.in)

	code := smerr.GetCode(runErr)
	if code == smerr.EInvalidAgentName || code == smerr.ELocked {
		// No report file: the name is unsafe as a path or another run owns it.
		report.Path = ""
		r.log.Warn("run refused", zap.Error(runErr))
		return report, runErr
	}
	if err := audit.Write(s.FS, s.Config.Root, report, r.in.FinishedAt); err != nil {
		r.log.Error("audit report not written", zap.Error(err))
		if runErr == nil {
			runErr = smerr.Wrap(smerr.EInternal, "write audit report", err)
		}
	}

	moved := 0
	var created, modified []string
	if r.in.Result != nil {
		moved = len(r.in.Result.Moved)
		for _, e := range r.in.Result.Moved {
			created = append(created, e.Destination)
		}
		for _, e := range r.in.Result.Rewritten {
			if !e.Moves() {
				modified = append(modified, e.Destination)
			}
		}
	}
	created = append(created, report.Path)
	if err := s.Journal.Record(logbook.Action{
		Agent: r.in.Agent, RunID: r.in.RunID, Read: r.in.Read, Modified: modified, Created: created,
	}); err != nil {
		r.log.Warn("journal entry not written", zap.Error(err))
	}

	conflicts := 0
	if r.in.Plan != nil {
		conflicts = len(r.in.Plan.Conflicts)
	}
	s.Telemetry.RecordRun(ctx, r.in.Agent, string(report.Status), moved, conflicts)

	if runErr != nil {
		r.log.Error("run failed", zap.String("status", string(report.Status)), zap.Error(runErr))
	} else {
		r.log.Info("run finished", zap.String("status", string(report.Status)), zap.Int("moved", moved))
	}
	return report, runErr
}

// Validate checks agent's artifact set without planning or writing anything.
func (s *Service) Validate(ctx context.Context, agent string) (*traceability.Report, []*contracts.Report, error) {
	if err := pathgrammar.ValidateAgentName(agent); err != nil {
		return nil, nil, smerr.Wrap(smerr.EInvalidAgentName, err.Error(), relocation.ErrInvalidAgentName)
	}
	cat, err := s.buildCatalog(ctx)
	if err != nil {
		return nil, nil, err
	}
	refs := cat.ForAgent(agent)
	checks, err := contracts.CheckAll(cat.Root(), refs)
	if err != nil {
		return nil, nil, smerr.Wrap(smerr.EInternal, "content checks", err)
	}
	return traceability.Validate(refs, agent), checks, nil
}

// Catalog scans the workspace with the configured conventions.
func (s *Service) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	return s.buildCatalog(ctx)
}

func planError(err error) error {
	switch {
	case errors.Is(err, relocation.ErrInvalidAgentName):
		return smerr.Wrap(smerr.EInvalidAgentName, err.Error(), err)
	case errors.Is(err, relocation.ErrUnresolvableLocation):
		return smerr.Wrap(smerr.EUnresolvableLocation, err.Error(), err)
	case isCanceled(err):
		return smerr.Wrap(smerr.ECanceled, "planning canceled", err)
	default:
		return smerr.Wrap(smerr.EInternal, "plan relocation", err)
	}
}

func executeError(err error) error {
	switch {
	case errors.Is(err, relocation.ErrCommit):
		return smerr.Wrap(smerr.ECommitFailure, "sources could not all be deleted; manual reconciliation required", err)
	case errors.Is(err, relocation.ErrStaging):
		return smerr.Wrap(smerr.EStagingFailure, "staging failed; workspace rolled back", err)
	case isCanceled(err):
		return smerr.Wrap(smerr.ECanceled, "canceled before commit; workspace rolled back", err)
	default:
		return smerr.Wrap(smerr.EInternal, "execute plan", err)
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func describeInputs(agent string, hints Hints) []string {
	inputs := []string{"agent: " + agent}
	if hints.Stream != "" {
		inputs = append(inputs, "stream: "+hints.Stream)
	}
	if len(hints.Classification) > 0 {
		var pairs []string
		for axis, value := range hints.Classification {
			pairs = append(pairs, axis+"="+value)
		}
		sort.Strings(pairs)
		inputs = append(inputs, "classification: "+strings.Join(pairs, ", "))
	}
	for _, p := range hints.Accept {
		inputs = append(inputs, "accept: "+p)
	}
	if hints.AutoClaim {
		inputs = append(inputs, "auto-claim: true")
	}
	if hints.DryRun {
		inputs = append(inputs, "dry-run: true")
	}
	return inputs
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
