package instruct

import (
	"fmt"
	"sync"
)

// GlobalParams is the multiple-reader, single-writer string map scoped to
// one instruction run, per spec §3: per-node inputs
// (node-<id>-cmd-input) and outputs (node-<id>-cmd-output) read by
// matcher closures.
type GlobalParams struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewGlobalParams returns an empty params bag.
func NewGlobalParams() *GlobalParams {
	return &GlobalParams{m: make(map[string]string)}
}

func (p *GlobalParams) Get(key string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.m[key]
}

func (p *GlobalParams) Set(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[key] = value
}

// CmdInputKey and CmdOutputKey build the canonical per-node keys.
func CmdInputKey(nodeID string) string  { return fmt.Sprintf("node-%s-cmd-input", nodeID) }
func CmdOutputKey(nodeID string) string { return fmt.Sprintf("node-%s-cmd-output", nodeID) }
