// Package lock scopes one ordering run per agent. The lock is a file created
// with O_EXCL under .smeder/locks; locks left behind by dead processes or
// older than StaleAfter are taken over.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

// Info is the content of a lock file.
type Info struct {
	PID       int       `yaml:"pid"`
	RunID     string    `yaml:"run_id,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
	Cmd       string    `yaml:"cmd,omitempty"`
}

// ErrLocked is returned when another live run holds the agent.
type ErrLocked struct {
	Agent string
	Info  *Info
	Path  string
}

func (e *ErrLocked) Error() string {
	if e.Info != nil {
		return fmt.Sprintf("agent %s is being ordered by pid %d since %s (lock file: %s)",
			e.Agent, e.Info.PID, e.Info.CreatedAt.Format(time.RFC3339), e.Path)
	}
	return fmt.Sprintf("agent %s is locked (lock file: %s)", e.Agent, e.Path)
}

// AgentLock hands out per-agent run locks.
type AgentLock struct {
	Dir        string
	StaleAfter time.Duration
	Now        func() time.Time
	IsPIDAlive func(pid int) bool
}

// New returns an AgentLock storing lock files in dir.
func New(dir string) AgentLock {
	return AgentLock{
		Dir:        dir,
		StaleAfter: time.Hour,
		Now:        time.Now,
		IsPIDAlive: isPIDAlive,
	}
}

// Path returns the lock file of agent.
func (l AgentLock) Path(agent string) string {
	return filepath.Join(l.Dir, agent+".lock")
}

// Lock acquires the lock for agent and returns the function releasing it.
func (l AgentLock) Lock(agent, runID, cmd string) (func() error, error) {
	path := l.Path(agent)
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			data, _ := yaml.Marshal(Info{PID: os.Getpid(), RunID: runID, CreatedAt: l.Now().UTC(), Cmd: cmd})
			if _, werr := f.Write(data); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("write lock file: %w", werr)
			}
			if cerr := f.Close(); cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("close lock file: %w", cerr)
			}
			return func() error {
				if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
					return err
				}
				return nil
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		info, readErr := readInfo(path)
		stale := false
		if readErr != nil {
			stat, statErr := os.Stat(path)
			if statErr != nil {
				// Removed between open and stat; try again.
				continue
			}
			stale = l.Now().Sub(stat.ModTime()) > l.StaleAfter
		} else {
			stale = l.stale(info)
		}
		if !stale {
			return nil, &ErrLocked{Agent: agent, Info: info, Path: path}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, &ErrLocked{Agent: agent, Info: info, Path: path}
		}
	}
	return nil, &ErrLocked{Agent: agent, Path: path}
}

func readInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	if info.PID == 0 {
		return nil, fmt.Errorf("lock file %s has no pid", path)
	}
	return &info, nil
}

func (l AgentLock) stale(info *Info) bool {
	if !l.IsPIDAlive(info.PID) {
		return true
	}
	return l.Now().Sub(info.CreatedAt) > l.StaleAfter
}

// isPIDAlive uses signal 0; EPERM still means the process exists.
func isPIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
