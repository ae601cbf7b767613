package relocation

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	iofs "io/fs"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/agent-smeder/internal/fs"
)

var (
	// ErrStaging means a copy could not be staged, verified or promoted. The
	// workspace was rolled back and every source is untouched.
	ErrStaging = errors.New("relocation: staging failed")
	// ErrCommit means a source could not be deleted after its destination was
	// written. Both copies exist; Result.States says which.
	ErrCommit = errors.New("relocation: commit failed")
)

// FileState is where one planned file ended up.
type FileState string

const (
	StatePending    FileState = "pending"
	StateStaged     FileState = "staged"
	StatePromoted   FileState = "promoted"
	StateCommitted  FileState = "committed"
	StateRolledBack FileState = "rolled-back"
	// StateDuplicated means the destination was written but the source could
	// not be removed.
	StateDuplicated FileState = "duplicated"
)

// Result is the outcome of Execute.
type Result struct {
	RunID      string
	Moved      []Entry
	Rewritten  []Entry
	RolledBack bool
	Errors     []error
	// States is keyed by source path.
	States map[string]FileState
	// Pruned lists directories removed because they became empty.
	Pruned []string
}

// Executor applies plans. Staging happens under StagingDir/<run id>, which
// must be on the same filesystem as Root so promotion is a rename.
type Executor struct {
	Root       string
	StagingDir string
	RunID      string
	FS         fs.FS
	Logger     *zap.Logger
	Workers    int
	// Keep lists workspace-relative directories never pruned.
	Keep []string
}

type staged struct {
	entry  Entry
	path   string
	backup string
}

// Execute stages every touched entry in parallel, then promotes them and
// deletes the moved sources. Cancellation is honored until all copies are
// staged; after that the run goes to completion.
func (x *Executor) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	log := x.Logger
	if log == nil {
		log = zap.NewNop()
	}
	result := &Result{RunID: x.RunID, States: map[string]FileState{}}
	var work []Entry
	for _, e := range plan.Entries {
		if e.Touches() {
			work = append(work, e)
			result.States[e.Source] = StatePending
		}
	}
	if len(work) == 0 {
		return result, nil
	}
	runDir := filepath.Join(x.StagingDir, x.RunID)

	items, err := x.stage(ctx, runDir, work, result)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		x.discard(runDir, result, log)
		for src := range result.States {
			result.States[src] = StateRolledBack
		}
		result.RolledBack = true
		result.Errors = append(result.Errors, err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return result, err
		}
		return result, fmt.Errorf("%w: %v", ErrStaging, err)
	}
	log.Info("all copies staged", zap.String("run_id", x.RunID), zap.Int("files", len(items)))

	// Barrier passed: promote, then delete sources.
	promoted, err := x.promote(runDir, items, result)
	if err != nil {
		x.rollbackPromoted(promoted, log)
		x.discard(runDir, result, log)
		for src := range result.States {
			result.States[src] = StateRolledBack
		}
		result.RolledBack = true
		result.Errors = append(result.Errors, err)
		return result, fmt.Errorf("%w: %v", ErrStaging, err)
	}

	destinations := map[string]bool{}
	for _, item := range items {
		destinations[item.entry.Destination] = true
	}
	var commitErrs []error
	for _, item := range items {
		e := item.entry
		if !e.Moves() {
			result.States[e.Source] = StateCommitted
			result.Rewritten = append(result.Rewritten, e)
			continue
		}
		if destinations[e.Source] {
			// Another entry was promoted onto this source; nothing to delete.
			result.States[e.Source] = StateCommitted
			result.Moved = append(result.Moved, e)
			if len(e.Rewrites) > 0 {
				result.Rewritten = append(result.Rewritten, e)
			}
			continue
		}
		if err := x.FS.Remove(x.abs(e.Source)); err != nil && !errors.Is(err, iofs.ErrNotExist) {
			result.States[e.Source] = StateDuplicated
			commitErrs = append(commitErrs, fmt.Errorf("delete %s: %w", e.Source, err))
			log.Error("source not deleted", zap.String("source", e.Source), zap.Error(err))
			continue
		}
		result.States[e.Source] = StateCommitted
		result.Moved = append(result.Moved, e)
		if len(e.Rewrites) > 0 {
			result.Rewritten = append(result.Rewritten, e)
		}
	}
	if err := x.FS.RemoveAll(runDir); err != nil {
		log.Warn("staging directory not removed", zap.String("dir", runDir), zap.Error(err))
	}
	result.Pruned = x.prune(result.Moved)
	if len(commitErrs) > 0 {
		result.Errors = append(result.Errors, commitErrs...)
		return result, fmt.Errorf("%w: %v", ErrCommit, errors.Join(commitErrs...))
	}
	return result, nil
}

func (x *Executor) stage(ctx context.Context, runDir string, work []Entry, result *Result) ([]staged, error) {
	items := make([]staged, len(work))
	var mu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)
	workers := x.Workers
	if workers <= 0 {
		workers = 8
	}
	group.SetLimit(workers)
	for i, e := range work {
		i, e := i, e
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := x.FS.ReadFile(x.abs(e.Source))
			if err != nil {
				return fmt.Errorf("read %s: %w", e.Source, err)
			}
			want := applyRewrites(data, e.Rewrites)
			target := filepath.Join(runDir, "files", filepath.FromSlash(e.Destination))
			if err := x.FS.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("stage %s: %w", e.Source, err)
			}
			if err := x.FS.WriteFile(target, want, 0o644); err != nil {
				return fmt.Errorf("stage %s: %w", e.Source, err)
			}
			got, err := x.FS.ReadFile(target)
			if err != nil {
				return fmt.Errorf("verify %s: %w", e.Source, err)
			}
			if sha256.Sum256(got) != sha256.Sum256(want) {
				return fmt.Errorf("verify %s: staged copy differs from source", e.Source)
			}
			items[i] = staged{entry: e, path: target}
			mu.Lock()
			result.States[e.Source] = StateStaged
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func (x *Executor) promote(runDir string, items []staged, result *Result) ([]staged, error) {
	sources := map[string]bool{}
	for _, item := range items {
		sources[item.entry.Source] = true
	}
	var done []staged
	for _, item := range items {
		e := item.entry
		dest := x.abs(e.Destination)
		_, statErr := x.FS.Stat(dest)
		exists := statErr == nil
		if exists && e.Moves() && !sources[e.Destination] {
			return done, fmt.Errorf("promote %s: destination %s appeared after planning", e.Source, e.Destination)
		}
		if exists {
			// The destination is itself a planned source; keep it for rollback.
			item.backup = filepath.Join(runDir, "backup", filepath.FromSlash(e.Destination))
			if err := x.FS.MkdirAll(filepath.Dir(item.backup), 0o755); err != nil {
				return done, fmt.Errorf("back up %s: %w", e.Destination, err)
			}
			if err := x.FS.Rename(dest, item.backup); err != nil {
				return done, fmt.Errorf("back up %s: %w", e.Destination, err)
			}
		} else if err := x.FS.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return done, fmt.Errorf("promote %s: %w", e.Source, err)
		}
		if err := x.FS.Rename(item.path, dest); err != nil {
			if item.backup != "" {
				if rerr := x.FS.Rename(item.backup, dest); rerr != nil {
					err = errors.Join(err, rerr)
				}
			}
			return done, fmt.Errorf("promote %s: %w", e.Source, err)
		}
		result.States[e.Source] = StatePromoted
		done = append(done, item)
	}
	return done, nil
}

func (x *Executor) rollbackPromoted(done []staged, log *zap.Logger) {
	for i := len(done) - 1; i >= 0; i-- {
		item := done[i]
		dest := x.abs(item.entry.Destination)
		var err error
		if item.backup != "" {
			err = x.FS.Rename(item.backup, dest)
		} else {
			err = x.FS.Remove(dest)
		}
		if err != nil {
			log.Error("rollback step failed", zap.String("path", item.entry.Destination), zap.Error(err))
		}
	}
	var moved []Entry
	for _, item := range done {
		if item.entry.Moves() {
			moved = append(moved, Entry{Source: item.entry.Destination})
		}
	}
	x.prune(moved)
}

func (x *Executor) discard(runDir string, result *Result, log *zap.Logger) {
	if err := x.FS.RemoveAll(runDir); err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("remove staging: %w", err))
		log.Error("staging directory not removed", zap.String("dir", runDir), zap.Error(err))
	}
}

// prune removes directories left empty by moved sources, walking up until
// a non-empty or kept directory.
func (x *Executor) prune(moved []Entry) []string {
	keep := map[string]bool{".": true}
	for _, dir := range x.Keep {
		keep[cleanRel(dir)] = true
	}
	seen := map[string]bool{}
	var pruned []string
	for _, e := range moved {
		for dir := path.Dir(e.Source); !keep[dir] && !seen[dir]; dir = path.Dir(dir) {
			entries, err := x.FS.ReadDir(x.abs(dir))
			if err != nil || len(entries) > 0 {
				break
			}
			if err := x.FS.Remove(x.abs(dir)); err != nil {
				break
			}
			seen[dir] = true
			pruned = append(pruned, dir)
		}
	}
	sort.Strings(pruned)
	return pruned
}

func (x *Executor) abs(rel string) string {
	return filepath.Join(x.Root, filepath.FromSlash(rel))
}
