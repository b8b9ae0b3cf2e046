package instruct

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesgel/gateway/internal/execstate"
)

func TestBuildSelectsInDegreeZeroRoot(t *testing.T) {
	g, err := Build(GraphData{
		Nodes: []Node{{ID: "1"}, {ID: "2"}},
		Edges: []Edge{{Source: "1", Target: "2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "1", g.Root.Node.ID)
}

func TestBuildFallsBackToIDOneOnAmbiguousRoot(t *testing.T) {
	g, err := Build(GraphData{
		Nodes: []Node{{ID: "1"}, {ID: "2"}, {ID: "3"}},
		// both 1 and 2 have in-degree zero: ambiguous, fall back to "1"
		Edges: []Edge{{Source: "2", Target: "3"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "1", g.Root.Node.ID)
}

func TestBuildRejectsDanglingEdge(t *testing.T) {
	_, err := Build(GraphData{
		Nodes: []Node{{ID: "1"}},
		Edges: []Edge{{Source: "1", Target: "missing"}},
	})
	require.Error(t, err)
}

func TestBuildRejectsCycle(t *testing.T) {
	_, err := Build(GraphData{
		Nodes: []Node{{ID: "1"}, {ID: "2"}},
		Edges: []Edge{{Source: "1", Target: "2"}, {Source: "2", Target: "1"}},
	})
	require.Error(t, err)
}

func TestEvaluateContainsIsCaseInsensitive(t *testing.T) {
	assert.True(t, Evaluate(MatchItem{Kind: Contains, Value: "HOME"}, "user is at /home/alice"))
	assert.False(t, Evaluate(MatchItem{Kind: NotContains, Value: "home"}, "user is at /home/alice"))
}

func TestEvaluateRegexRE2Dialect(t *testing.T) {
	assert.True(t, Evaluate(MatchItem{Kind: Regex, Value: `^/root`}, "/root"))
}

func TestFirstMatchPicksFirstFullyMatchingChild(t *testing.T) {
	g, err := Build(GraphData{
		Nodes: []Node{
			{ID: "1", Cmd: "pwd"},
			{ID: "2", Pre: []MatchItem{{Kind: Contains, Value: "home"}}},
			{ID: "3", Pre: []MatchItem{{Kind: Contains, Value: "/root"}}},
		},
		Edges: []Edge{{Source: "1", Target: "2"}, {Source: "1", Target: "3"}},
	})
	require.NoError(t, err)

	child, ok := firstMatch(g.Root.Children, "/root")
	require.True(t, ok)
	assert.Equal(t, "3", child.Node.ID)
}

func TestEngineRunFollowsInstructionBranch(t *testing.T) {
	g, err := Build(GraphData{
		Nodes: []Node{
			{ID: "1", Cmd: "pwd"},
			{ID: "2", Pre: []MatchItem{{Kind: Contains, Value: "home"}}},
			{ID: "3", Pre: []MatchItem{{Kind: Contains, Value: "/root"}}},
		},
		Edges: []Edge{{Source: "1", Target: "2"}, {Source: "1", Target: "3"}},
	})
	require.NoError(t, err)

	input := make(chan []byte, 4)
	events := make(chan execstate.State, 4)
	e := NewEngine(g, input, events, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan RunStatus, 1)
	go func() {
		status, _ := e.Run(ctx)
		done <- status
	}()

	require.Equal(t, "pwd\r", string(<-input))
	events <- execstate.NewCommand("pwd", "/root")

	select {
	case status := <-done:
		assert.Equal(t, StatusSuccess, status)
	case <-time.After(time.Second):
		t.Fatal("engine did not finish")
	}
}

func TestEngineRunExpires(t *testing.T) {
	g, err := Build(GraphData{
		Nodes: []Node{
			{ID: "1", Cmd: "sleep 10", ExpireSeconds: 1},
			{ID: "2", Pre: []MatchItem{{Kind: Eq, Value: "never"}}},
		},
		Edges: []Edge{{Source: "1", Target: "2"}},
	})
	require.NoError(t, err)

	input := make(chan []byte, 4)
	events := make(chan execstate.State)
	var expired *ExpiredError
	e := NewEngine(g, input, events, nil)
	e.OnExpire = func(err *ExpiredError) { expired = err }

	ctx := context.Background()
	status, err := e.Run(ctx)
	assert.Equal(t, StatusError, status)
	require.Error(t, err)
	require.NotNil(t, expired)
	assert.True(t, strings.Contains(expired.Error(), "id:1"))
}

func TestGraphDump(t *testing.T) {
	g, err := Build(GraphData{
		Nodes: []Node{{ID: "1", Description: "root", Cmd: "pwd"}},
	})
	require.NoError(t, err)

	var buf strings.Builder
	g.Dump(&buf)
	assert.Contains(t, buf.String(), "[1] root: pwd")
}
