// cmd/smeder/main.go
//
// This is the entry point for the smeder CLI. It orders the artifacts of one
// agent into its canonical folder and leaves an audit report behind.
//
//	smeder init
//	smeder order <agent> [--stream aeo.02] [--accept path]... [--dry-run]
//	smeder validate <agent>
//	smeder catalog [--agent name]
//	smeder resolve <agent> --stream aeo.02 --kind contract --intent orden

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	smerr "github.com/kingrea/agent-smeder/internal/errors"
)

var version = "dev"

const usage = `usage: smeder <command> [flags]

commands:
  init       create the workspace folders and .smeder/config.yaml
  order      move one agent's artifacts into its canonical folder
  validate   check one agent's artifact set without changing anything
  catalog    list the artifacts smeder recognizes
  resolve    print the canonical path of one artifact
  version    print the version`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		smerr.Print(os.Stderr, err)
	}
	os.Exit(smerr.ExitCode(err))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return smerr.New(smerr.EUsage, "a command is required")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "init":
		return runInit(rest, stdout)
	case "order":
		return runOrder(ctx, rest, stdin, stdout, stderr)
	case "validate":
		return runValidate(ctx, rest, stdout, stderr)
	case "catalog":
		return runCatalog(ctx, rest, stdout, stderr)
	case "resolve":
		return runResolve(rest, stdout)
	case "version":
		fmt.Fprintln(stdout, version)
		return nil
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage)
		return nil
	default:
		fmt.Fprintln(stderr, usage)
		return smerr.Newf(smerr.EUsage, "unknown command %q", cmd)
	}
}

// workspaceRoot resolves --root and loads the workspace .env, if any.
func workspaceRoot(root string) (string, error) {
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", smerr.Wrap(smerr.EInternal, "determine working directory", err)
		}
		root = cwd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", smerr.Wrap(smerr.EUsage, "resolve workspace root", err)
	}
	if err := godotenv.Load(filepath.Join(abs, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", smerr.Wrap(smerr.EConfig, "load .env", err)
	}
	return abs, nil
}
