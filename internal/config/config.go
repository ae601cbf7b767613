// internal/config/config.go
//
// This package handles configuration and the .smeder directory structure.
// Every workspace ordered by smeder gets a .smeder/ folder in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kingrea/agent-smeder/internal/pathgrammar"
)

const (
	// SmederDir is the name of the directory we create in each workspace.
	SmederDir = ".smeder"

	// EnvPrefix prefixes environment overrides. A double underscore separates
	// levels: SMEDER_ORDERING__AUTO_CLAIM_CANDIDATES -> ordering.auto_claim_candidates.
	EnvPrefix = "SMEDER_"
)

// ValueStreamConfig declares one value stream and its allowed phases.
type ValueStreamConfig struct {
	Code   string   `koanf:"code" yaml:"code"`
	Phases []string `koanf:"phases" yaml:"phases,omitempty"`
}

// ConventionsConfig is the naming policy handed to the path grammar.
type ConventionsConfig struct {
	ArtifactsDir  string              `koanf:"artifacts_dir" yaml:"artifacts_dir"`
	BoundariesDir string              `koanf:"boundaries_dir" yaml:"boundaries_dir"`
	RunnerDirs    []string            `koanf:"runner_dirs" yaml:"runner_dirs"`
	TemplatesDir  string              `koanf:"templates_dir" yaml:"templates_dir"`
	PromptPrefix  string              `koanf:"prompt_prefix" yaml:"prompt_prefix"`
	ValueStreams  []ValueStreamConfig `koanf:"value_streams" yaml:"value_streams"`
	Axes          map[string][]string `koanf:"axes" yaml:"axes"`
}

// AgentConfig declares where an agent lives when no boundary says so.
type AgentConfig struct {
	ValueStream    string            `koanf:"value_stream" yaml:"value_stream"`
	Phase          string            `koanf:"fase" yaml:"fase"`
	Classification map[string]string `koanf:"classificatie" yaml:"classificatie,omitempty"`
}

// OrderingConfig tunes the order operation.
type OrderingConfig struct {
	AutoClaimCandidates bool          `koanf:"auto_claim_candidates" yaml:"auto_claim_candidates"`
	StaleLockAfter      time.Duration `koanf:"stale_lock_after" yaml:"stale_lock_after"`
	Workers             int           `koanf:"workers" yaml:"workers"`
	CheckContent        bool          `koanf:"check_content" yaml:"check_content"`
}

// ScanConfig restricts cataloging.
type ScanConfig struct {
	Dirs   []string `koanf:"dirs" yaml:"dirs,omitempty"`
	Ignore []string `koanf:"ignore" yaml:"ignore,omitempty"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `koanf:"level" yaml:"level"`
	File  string `koanf:"file" yaml:"file"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	Exporter    string `koanf:"exporter" yaml:"exporter"`
	ServiceName string `koanf:"service_name" yaml:"service_name"`
}

// File models .smeder/config.yaml.
type File struct {
	Version     int                    `koanf:"version" yaml:"version"`
	Conventions ConventionsConfig      `koanf:"conventions" yaml:"conventions"`
	Agents      map[string]AgentConfig `koanf:"agents" yaml:"agents"`
	Ordering    OrderingConfig         `koanf:"ordering" yaml:"ordering"`
	Scan        ScanConfig             `koanf:"scan" yaml:"scan"`
	Log         LogConfig              `koanf:"log" yaml:"log"`
	Telemetry   TelemetryConfig        `koanf:"telemetry" yaml:"telemetry"`
}

// Config holds the runtime configuration for one workspace.
type Config struct {
	// Root is the workspace root smeder was pointed at.
	Root string
	File
}

// Load reads .smeder/config.yaml under root (if present), then SMEDER_*
// environment overrides, on top of the built-in defaults.
func Load(root string) (*Config, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("config: resolve root: %w", err)
	}
	k := koanf.New(".")
	setDefaults(k)

	path := filepath.Join(abs, SmederDir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	cfg := &Config{Root: abs}
	if err := k.Unmarshal("", &cfg.File); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func setDefaults(k *koanf.Koanf) {
	k.Set("version", 1)
	k.Set("ordering.auto_claim_candidates", false)
	k.Set("ordering.stale_lock_after", "1h")
	k.Set("ordering.workers", 8)
	k.Set("ordering.check_content", true)
	k.Set("log.level", "info")
	k.Set("log.file", "logs/smeder.log")
	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.service_name", "smeder")
}

// Default returns the configuration written by InitWorkspace.
func Default() File {
	conv := pathgrammar.DefaultConventions()
	f := File{
		Version:     1,
		Conventions: conventionsConfig(conv),
		Agents:      map[string]AgentConfig{},
		Ordering:    OrderingConfig{StaleLockAfter: time.Hour, Workers: 8, CheckContent: true},
		Log:         LogConfig{Level: "info", File: "logs/smeder.log"},
		Telemetry:   TelemetryConfig{Exporter: "none", ServiceName: "smeder"},
	}
	return f
}

func conventionsConfig(conv pathgrammar.Conventions) ConventionsConfig {
	out := ConventionsConfig{
		ArtifactsDir:  conv.ArtifactsDir,
		BoundariesDir: conv.BoundariesDir,
		RunnerDirs:    append([]string(nil), conv.RunnerDirs...),
		TemplatesDir:  conv.TemplatesDir,
		PromptPrefix:  conv.PromptPrefix,
		Axes:          map[string][]string{},
	}
	for _, vs := range conv.ValueStreams {
		out.ValueStreams = append(out.ValueStreams, ValueStreamConfig{Code: vs.Code, Phases: append([]string(nil), vs.Phases...)})
	}
	for _, axis := range conv.Axes {
		out.Axes[axis.Name] = append([]string(nil), axis.Values...)
	}
	return out
}

func (c *Config) applyDefaults() {
	def := pathgrammar.DefaultConventions()
	conv := &c.Conventions
	if conv.ArtifactsDir == "" {
		conv.ArtifactsDir = def.ArtifactsDir
	}
	if conv.BoundariesDir == "" {
		conv.BoundariesDir = def.BoundariesDir
	}
	if len(conv.RunnerDirs) == 0 {
		conv.RunnerDirs = append([]string(nil), def.RunnerDirs...)
	}
	if conv.TemplatesDir == "" {
		conv.TemplatesDir = def.TemplatesDir
	}
	if conv.PromptPrefix == "" {
		conv.PromptPrefix = def.PromptPrefix
	}
	if len(conv.ValueStreams) == 0 {
		conv.ValueStreams = conventionsConfig(def).ValueStreams
	}
	if conv.Axes == nil {
		conv.Axes = conventionsConfig(def).Axes
	}
	if c.Agents == nil {
		c.Agents = map[string]AgentConfig{}
	}
	if c.Ordering.Workers <= 0 {
		c.Ordering.Workers = 8
	}
	if c.Ordering.StaleLockAfter <= 0 {
		c.Ordering.StaleLockAfter = time.Hour
	}
}

func (c *Config) normalize() error {
	for i := range c.Conventions.ValueStreams {
		vs := &c.Conventions.ValueStreams[i]
		vs.Code = strings.ToLower(strings.TrimSpace(vs.Code))
		for j, phase := range vs.Phases {
			normalized, err := pathgrammar.NormalizePhase(phase)
			if err != nil {
				return fmt.Errorf("conventions.value_streams[%d]: %w", i, err)
			}
			vs.Phases[j] = normalized
		}
	}
	for name, agent := range c.Agents {
		agent.ValueStream = strings.ToLower(strings.TrimSpace(agent.ValueStream))
		if agent.Phase != "" {
			phase, err := pathgrammar.NormalizePhase(agent.Phase)
			if err != nil {
				return fmt.Errorf("agents[%s]: %w", name, err)
			}
			agent.Phase = phase
		}
		c.Agents[name] = agent
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Telemetry.Exporter = strings.ToLower(strings.TrimSpace(c.Telemetry.Exporter))
	return nil
}

func (c *Config) validate() error {
	if c.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if err := c.PathConventions().Validate(); err != nil {
		return fmt.Errorf("conventions: %w", err)
	}
	for name := range c.Agents {
		if err := pathgrammar.ValidateAgentName(name); err != nil {
			return fmt.Errorf("agents: %w", err)
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("telemetry.exporter must be 'none' or 'stdout'")
	}
	return nil
}

// PathConventions converts the configured conventions for the grammar.
// Axes are ordered by name.
func (c *Config) PathConventions() pathgrammar.Conventions {
	conv := pathgrammar.Conventions{
		ArtifactsDir:  c.Conventions.ArtifactsDir,
		BoundariesDir: c.Conventions.BoundariesDir,
		RunnerDirs:    append([]string(nil), c.Conventions.RunnerDirs...),
		TemplatesDir:  c.Conventions.TemplatesDir,
		PromptPrefix:  c.Conventions.PromptPrefix,
	}
	for _, vs := range c.Conventions.ValueStreams {
		conv.ValueStreams = append(conv.ValueStreams, pathgrammar.ValueStream{Code: vs.Code, Phases: vs.Phases})
	}
	names := make([]string, 0, len(c.Conventions.Axes))
	for name := range c.Conventions.Axes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		conv.Axes = append(conv.Axes, pathgrammar.Axis{Name: name, Values: c.Conventions.Axes[name]})
	}
	return conv
}

// Declaration returns the configured declaration of agent, if any.
func (c *Config) Declaration(agent string) (pathgrammar.Declaration, bool) {
	a, ok := c.Agents[agent]
	if !ok || a.ValueStream == "" || a.Phase == "" {
		return pathgrammar.Declaration{}, false
	}
	return pathgrammar.Declaration{
		Agent:          agent,
		ValueStream:    a.ValueStream,
		Phase:          a.Phase,
		Classification: a.Classification,
	}, true
}

// SmederPath returns root/.smeder.
func (c *Config) SmederPath() string {
	return filepath.Join(c.Root, SmederDir)
}

// ConfigPath returns the on-disk location of the config file.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.SmederPath(), "config.yaml")
}

// StagingDir returns the directory holding per-run staging areas.
func (c *Config) StagingDir() string {
	return filepath.Join(c.SmederPath(), "staging")
}

// LocksDir returns the directory holding per-agent lock files.
func (c *Config) LocksDir() string {
	return filepath.Join(c.SmederPath(), "locks")
}

// JournalPath returns the action journal file.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Root, "logs", "agent-acties.log")
}

// LogPath returns the absolute zap log file, or "" when file logging is off.
func (c *Config) LogPath() string {
	if strings.TrimSpace(c.Log.File) == "" {
		return ""
	}
	if filepath.IsAbs(c.Log.File) {
		return c.Log.File
	}
	return filepath.Join(c.Root, filepath.FromSlash(c.Log.File))
}

// KeepDirs lists the convention directories that are never pruned.
func (c *Config) KeepDirs() []string {
	dirs := []string{c.Conventions.ArtifactsDir, c.Conventions.BoundariesDir, c.Conventions.TemplatesDir}
	return append(dirs, c.Conventions.RunnerDirs...)
}
