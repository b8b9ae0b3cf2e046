package instruct

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pesgel/gateway/internal/execstate"
)

// waitTick is the wait-loop's refresh/evaluate cadence, per spec §5 and
// §4.6.1 ("Deadline tick (3 s)").
const waitTick = 3 * time.Second

// RunStatus classifies how an engine run ended, per spec §7.
type RunStatus int

const (
	StatusSuccess RunStatus = iota
	StatusError
	StatusManualStop
)

func (s RunStatus) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusManualStop:
		return "ManualStop"
	default:
		return "Error"
	}
}

// ExpiredError is returned when a node's deadline elapses with no matching
// child, per spec §4.6.1's "execute expired" record.
type ExpiredError struct {
	NodeID          string
	NodeDescription string
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("execute expired for node[id:%s des:%s]", e.NodeID, e.NodeDescription)
}

// Engine drives one instruction-graph run over a live session: it sends
// each node's cmd to Input, consumes Command/End events from Events, and
// branches using the post-condition matchers built from each node's
// children.
type Engine struct {
	Graph  *Graph
	Params *GlobalParams

	Input  chan<- []byte
	Events <-chan execstate.State

	// OnExpire is invoked when a node's deadline elapses, so the caller can
	// signal cancellation at the session level, per spec §4.6.1.
	OnExpire func(err *ExpiredError)

	Log *slog.Logger
}

// NewEngine constructs an Engine over a built Graph.
func NewEngine(g *Graph, input chan<- []byte, events <-chan execstate.State, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		Graph:  g,
		Params: NewGlobalParams(),
		Input:  input,
		Events: events,
		Log:    log,
	}
}

// Run walks the graph from its root, returning the terminal RunStatus.
func (e *Engine) Run(ctx context.Context) (RunStatus, error) {
	err := e.runNode(ctx, e.Graph.Root)
	switch {
	case err == nil:
		return StatusSuccess, nil
	case ctx.Err() != nil:
		return StatusManualStop, ctx.Err()
	default:
		return StatusError, err
	}
}

func (e *Engine) runNode(ctx context.Context, node *ExecuteNode) error {
	cmd := node.Node.Cmd
	if !strings.HasSuffix(cmd, "\r") {
		cmd += "\r"
	}
	e.Params.Set(CmdInputKey(node.Node.ID), cmd)

	select {
	case e.Input <- []byte(cmd):
	case <-ctx.Done():
		return ctx.Err()
	}

	if len(node.Children) == 0 {
		return nil
	}

	var deadline <-chan time.Time
	if node.Node.ExpireSeconds > 0 {
		deadline = time.After(time.Duration(node.Node.ExpireSeconds) * time.Second)
	}

	ticker := time.NewTicker(waitTick)
	defer ticker.Stop()

	outKey := CmdOutputKey(node.Node.ID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-deadline:
			expErr := &ExpiredError{NodeID: node.Node.ID, NodeDescription: node.Node.Description}
			e.Log.Warn(expErr.Error())
			if e.OnExpire != nil {
				e.OnExpire(expErr)
			}
			return expErr

		case <-ticker.C:
			output := e.Params.Get(outKey)
			if child, ok := firstMatch(node.Children, output); ok {
				return e.runNode(ctx, child)
			}

		case ev, ok := <-e.Events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case execstate.Command:
				e.Params.Set(outKey, ev.Command.Output)
				if child, ok := firstMatch(node.Children, ev.Command.Output); ok {
					return e.runNode(ctx, child)
				}
			case execstate.End:
				return nil
			}
		}
	}
}
