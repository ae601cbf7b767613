package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/kingrea/agent-smeder/internal/artifact"
	"github.com/kingrea/agent-smeder/internal/config"
	smerr "github.com/kingrea/agent-smeder/internal/errors"
	"github.com/kingrea/agent-smeder/internal/logging"
	"github.com/kingrea/agent-smeder/internal/order"
	"github.com/kingrea/agent-smeder/internal/pathgrammar"
	"github.com/kingrea/agent-smeder/internal/telemetry"
	"github.com/kingrea/agent-smeder/internal/tui"
)

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", "", "workspace root (defaults to the current directory)")
	return fs, root
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return smerr.New(smerr.EUsage, "help requested")
		}
		return smerr.Wrap(smerr.EUsage, "invalid flags", err)
	}
	return nil
}

// agentArg takes the agent name from the first positional argument and
// parses the flags that follow it.
func agentArg(fs *flag.FlagSet, args []string) (string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", smerr.Newf(smerr.EUsage, "usage: smeder %s <agent> [flags]", fs.Name())
	}
	if err := parse(fs, args[1:]); err != nil {
		return "", err
	}
	if fs.NArg() > 0 {
		return "", smerr.Newf(smerr.EUsage, "unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return args[0], nil
}

func runInit(args []string, stdout io.Writer) error {
	fs, rootFlag := newFlagSet("init", stdout)
	if err := parse(fs, args); err != nil {
		return err
	}
	root, err := workspaceRoot(*rootFlag)
	if err != nil {
		return err
	}
	changed, err := config.InitWorkspace(root)
	if err != nil {
		return smerr.Wrap(smerr.EConfig, "initialize workspace", err)
	}
	if len(changed) == 0 {
		fmt.Fprintln(stdout, "workspace already initialized")
		return nil
	}
	for _, p := range changed {
		fmt.Fprintf(stdout, "created %s\n", p)
	}
	return nil
}

// setup loads config and wires the order service with logging and telemetry.
func setup(rootFlag string, stderr io.Writer) (*order.Service, func(), error) {
	root, err := workspaceRoot(rootFlag)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, nil, smerr.Wrap(smerr.EConfig, "load config", err)
	}
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.LogPath(), Console: stderr})
	if err != nil {
		return nil, nil, smerr.Wrap(smerr.EConfig, "set up logging", err)
	}
	tel, err := telemetry.Init(telemetry.Config{
		Exporter:    cfg.Telemetry.Exporter,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Writer:      stderr,
	})
	if err != nil {
		_ = log.Close()
		return nil, nil, smerr.Wrap(smerr.EConfig, "set up telemetry", err)
	}
	svc, err := order.New(cfg)
	if err != nil {
		_ = log.Close()
		return nil, nil, err
	}
	svc.Logger = log.Logger
	svc.Telemetry = tel
	cleanup := func() {
		_ = tel.Shutdown(context.Background())
		_ = log.Close()
	}
	return svc, cleanup, nil
}

func runOrder(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs, rootFlag := newFlagSet("order", stderr)
	stream := fs.String("stream", "", "value stream and phase, e.g. aeo.02")
	classes := keyValueFlag{}
	fs.Var(&classes, "class", "classification axis=value (repeatable)")
	var accept listFlag
	fs.Var(&accept, "accept", "claim a candidate file for the agent (repeatable)")
	autoClaim := fs.Bool("auto-claim", false, "claim exact-match candidate files without asking")
	dryRun := fs.Bool("dry-run", false, "plan and report without changing files")
	interactive := fs.Bool("interactive", false, "pick candidate files in a terminal UI")
	agent, err := agentArg(fs, args)
	if err != nil {
		return err
	}
	svc, cleanup, err := setup(*rootFlag, stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	hints := order.Hints{
		Stream:         *stream,
		Classification: classes,
		Accept:         accept,
		AutoClaim:      *autoClaim,
		DryRun:         *dryRun,
	}
	if *interactive {
		hints.Confirm = tui.ConfirmCandidates(stdin, stderr)
	}
	report, err := svc.Order(ctx, agent, hints)
	if report != nil {
		fmt.Fprintln(stdout, tui.Summary(report))
	}
	return err
}

func runValidate(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, rootFlag := newFlagSet("validate", stderr)
	agent, err := agentArg(fs, args)
	if err != nil {
		return err
	}
	svc, cleanup, err := setup(*rootFlag, stderr)
	if err != nil {
		return err
	}
	defer cleanup()
	report, checks, err := svc.Validate(ctx, agent)
	if err != nil {
		return err
	}
	var findings []string
	for _, c := range checks {
		for _, e := range c.Errors {
			findings = append(findings, fmt.Sprintf("%s: %v", c.Path, e))
		}
	}
	fmt.Fprint(stdout, tui.ValidationSummary(agent, report, findings))
	if !report.IsValid() || len(findings) > 0 {
		return smerr.Newf(smerr.EMissingEdge, "%s has an incomplete or contradictory artifact set", agent)
	}
	return nil
}

func runCatalog(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, rootFlag := newFlagSet("catalog", stderr)
	agent := fs.String("agent", "", "only list files owned by this agent or offered to it")
	if err := parse(fs, args); err != nil {
		return err
	}
	svc, cleanup, err := setup(*rootFlag, stderr)
	if err != nil {
		return err
	}
	defer cleanup()
	cat, err := svc.Catalog(ctx)
	if err != nil {
		return err
	}
	refs := cat.Files()
	if *agent != "" {
		refs = cat.ForAgent(*agent)
		for _, c := range cat.Candidates(*agent) {
			refs = append(refs, c.Reference)
		}
	}
	fmt.Fprint(stdout, tui.CatalogTable(refs))
	return nil
}

func runResolve(args []string, stdout io.Writer) error {
	fs, rootFlag := newFlagSet("resolve", stdout)
	stream := fs.String("stream", "", "value stream and phase, e.g. aeo.02 (required)")
	kind := fs.String("kind", string(artifact.KindContract), "artifact kind: contract, prompt, charter, boundary or runner")
	intent := fs.String("intent", "", "intent name for contracts and prompts")
	step := fs.Int("step", 0, "legacy step number kept in the file name (agent-1.<intent>)")
	agent, err := agentArg(fs, args)
	if err != nil {
		return err
	}
	if err := pathgrammar.ValidateAgentName(agent); err != nil {
		return smerr.Wrap(smerr.EInvalidAgentName, err.Error(), err)
	}
	vs, phase, err := pathgrammar.ParseStream(*stream)
	if err != nil {
		return smerr.Wrap(smerr.EUnresolvableLocation, "--stream", err)
	}
	k := artifact.Kind(*kind)
	if !k.Owned() {
		return smerr.Newf(smerr.EUsage, "unknown kind %q", *kind)
	}
	coords := pathgrammar.Coordinates{Kind: k, Agent: agent, ValueStream: vs, Phase: phase}
	if k.IntentScoped() {
		if *intent == "" {
			return smerr.Newf(smerr.EUsage, "--intent is required for %s", k)
		}
		coords.Intent = artifact.Intent{Step: *step, Name: *intent}
	}
	root, err := workspaceRoot(*rootFlag)
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return smerr.Wrap(smerr.EConfig, "load config", err)
	}
	grammar, err := pathgrammar.New(cfg.PathConventions())
	if err != nil {
		return smerr.Wrap(smerr.EConfig, "invalid conventions", err)
	}
	decl := pathgrammar.Declaration{Agent: agent, ValueStream: vs, Phase: phase}
	if err := grammar.ValidateDeclaration(decl); err != nil {
		return smerr.Wrap(smerr.EUnresolvableLocation, err.Error(), err)
	}
	fmt.Fprintln(stdout, grammar.Resolve(coords))
	return nil
}
