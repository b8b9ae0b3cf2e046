package instruct

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML-authored GraphData from path and compiles it with
// Build. Pairs with config.WatchInstructionGraphs, which notifies the
// caller of a path to reload whenever the instruction-graph directory
// changes.
func LoadFile(path string) (*Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("instruct: read %s: %w", path, err)
	}

	var data GraphData
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("instruct: parse %s: %w", path, err)
	}

	g, err := Build(data)
	if err != nil {
		return nil, fmt.Errorf("instruct: build graph from %s: %w", path, err)
	}
	return g, nil
}
