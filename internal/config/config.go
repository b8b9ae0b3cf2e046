// Package config loads GatewayConfig, the single YAML-tagged settings
// struct the core engines read their tunables from.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GatewayConfig holds the tunables spec.md leaves as implementation
// constants: where recordings land, which bytes count as a PS1 terminator,
// how generous the inbound gate's wait budget is, the default pty geometry,
// and where to watch for instruction graphs.
type GatewayConfig struct {
	// RecordingRoot is the directory recordings are written under, one
	// sub-directory per session id: <RecordingRoot>/ssh/<id>/recording.cast.
	RecordingRoot string `yaml:"recording_root"`

	// PS1Terminators are the bytes PipeManager treats as "this line is a
	// completed prompt" when scanning bottom-up for PS1; any byte of the
	// set ends a prompt line. PS1Char returns the first byte of the set.
	PS1Terminators string `yaml:"ps1_terminators"`

	// WaitTimes bounds how many 20ms polls the inbound gate spends waiting
	// for the direction gate (and, before a trailing \r, for the echo
	// counter to drain) before giving up and forwarding anyway. The wait
	// for a first PS1 is not bounded by it.
	WaitTimes int `yaml:"wait_times"`

	// DefaultCols/DefaultRows seed the pty-req sent on channel open, before
	// any client-driven ResizePty.
	DefaultCols int `yaml:"default_cols"`
	DefaultRows int `yaml:"default_rows"`

	// InstructionGraphDir names a directory of instruction-graph files.
	// cmd/gatewayd does not read it: --watch-graph watches the directory
	// holding the --graph file.
	InstructionGraphDir string `yaml:"instruction_graph_dir"`

	// AllowInsecureAlgos is the config-file form of
	// TargetSpec.AllowInsecureAlgos (legacy kex algorithms for old
	// appliances). session.Open and cmd/gatewayd do not read it; each
	// connection uses its TargetSpec's own flag.
	AllowInsecureAlgos bool `yaml:"allow_insecure_algos"`
}

// Default returns the configuration used when no file is present.
func Default() GatewayConfig {
	return GatewayConfig{
		RecordingRoot:       "./recordings",
		PS1Terminators:      "$#>",
		WaitTimes:           100,
		DefaultCols:         80,
		DefaultRows:         24,
		InstructionGraphDir: "./graphs",
		AllowInsecureAlgos:  false,
	}
}

// PS1Char returns the default prompt terminator byte PipeManager scans for,
// the first rune of PS1Terminators.
func (c GatewayConfig) PS1Char() byte {
	if c.PS1Terminators == "" {
		return '$'
	}
	return c.PS1Terminators[0]
}

// Load reads a GatewayConfig from a YAML file at path, filling any zero
// field from Default(). A missing file is not an error: Load returns
// Default() unchanged, matching the teacher's "config is optional" stance.
func Load(path string) (GatewayConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.RecordingRoot == "" {
		cfg.RecordingRoot = Default().RecordingRoot
	}
	if cfg.PS1Terminators == "" {
		cfg.PS1Terminators = Default().PS1Terminators
	}
	if cfg.WaitTimes <= 0 {
		cfg.WaitTimes = Default().WaitTimes
	}
	if cfg.DefaultCols <= 0 {
		cfg.DefaultCols = Default().DefaultCols
	}
	if cfg.DefaultRows <= 0 {
		cfg.DefaultRows = Default().DefaultRows
	}
	if cfg.InstructionGraphDir == "" {
		cfg.InstructionGraphDir = Default().InstructionGraphDir
	}

	return cfg, nil
}
