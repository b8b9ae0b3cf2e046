package pipe

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesgel/gateway/internal/eventhub"
	"github.com/pesgel/gateway/internal/execstate"
)

func TestIsCursorPositionReport(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want bool
	}{
		{"valid report", []byte("\x1b[24;80R"), true},
		{"no semicolon", []byte("\x1b[2480R"), false},
		{"two semicolons", []byte("\x1b[24;80;1R"), false},
		{"wrong terminator", []byte("\x1b[24;80M"), false},
		{"too short", []byte("\x1b[R"), false},
		{"not escape", []byte("24;80R"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, IsCursorPositionReport(c.in))
		})
	}
}

func TestSplitOnCRDropsEmptySegments(t *testing.T) {
	segs := splitOnCR([]byte("a\rb\rc"))
	require.Equal(t, []string{"a\r", "b\r", "c"}, segs)
}

func TestSplitOnCRHandlesBareCR(t *testing.T) {
	segs := splitOnCR([]byte("\r"))
	require.Equal(t, []string{"\r"}, segs)
}

func TestExtractPS1FromOSC(t *testing.T) {
	data := append([]byte("\x1b]0;title\x07"), []byte("user@host:~$ ")...)
	val, ok := ExtractPS1FromOSC(data)
	require.True(t, ok)
	require.Equal(t, "user@host:~$ ", val)
}

func TestExtractPS1FromOSCNoEnvelope(t *testing.T) {
	_, ok := ExtractPS1FromOSC([]byte("plain text"))
	require.False(t, ok)
}

func newTestManager(t *testing.T) (*Manager, chan execstate.State) {
	t.Helper()
	events := make(chan execstate.State, 32)
	m := New(80, 24, "#$>", 10, eventhub.New(), events, nil)
	t.Cleanup(m.Close)
	return m, events
}

func TestProcessOutboundExtractsCommandEvent(t *testing.T) {
	m, events := newTestManager(t)
	ctx := context.Background()

	// Seed PS1 and direction as if a prior prompt had already been seen.
	m.setPS1("seed")
	m.setState(Input)

	m.ProcessOutbound(ctx, []byte("ls\r\n"))
	// The inbound pump flips the gate to Output when it forwards the
	// trailing \r, so the command's output lands on the output screen.
	m.setState(Output)
	m.ProcessOutbound(ctx, []byte("file1 file2\r\n"))
	// extractPS1 only considers lines carrying an escape sequence (mirrors
	// the original's `!line.contains(&0x1b)` skip), so the simulated prompt
	// needs real color codes, not bare text.
	m.ProcessOutbound(ctx, []byte("\x1b[32muser@host:~$\x1b[0m "))

	select {
	case ev := <-drainUntilCommand(events):
		require.Equal(t, execstate.Command, ev.Kind)
		require.Equal(t, "ls", ev.Command.Input)
		require.Equal(t, "file1 file2", ev.Command.Output)
	case <-time.After(time.Second):
		t.Fatal("expected a Command event")
	}
}

func TestProcessOutboundCapturesOutputLongerThanScreen(t *testing.T) {
	m, events := newTestManager(t)
	ctx := context.Background()

	m.setPS1("seed")
	m.setState(Input)

	m.ProcessOutbound(ctx, []byte("seq 1 40\r\n"))
	m.setState(Output)
	for i := 1; i <= 40; i++ {
		m.ProcessOutbound(ctx, []byte(fmt.Sprintf("line-%d\r\n", i)))
	}
	m.ProcessOutbound(ctx, []byte("\x1b[32muser@host:~$\x1b[0m "))

	select {
	case ev := <-drainUntilCommand(events):
		require.Equal(t, "seq 1 40", ev.Command.Input)
		require.Contains(t, ev.Command.Output, "line-1\n")
		require.Contains(t, ev.Command.Output, "line-40")
	case <-time.After(time.Second):
		t.Fatal("expected a Command event")
	}
}

// drainUntilCommand returns a channel yielding the first Command-kind event
// found among already-buffered events, to keep the test independent of how
// many RawBytes events precede it.
func drainUntilCommand(events chan execstate.State) chan execstate.State {
	out := make(chan execstate.State, 1)
	go func() {
		for {
			select {
			case ev := <-events:
				if ev.Kind == execstate.Command {
					out <- ev
					return
				}
			case <-time.After(time.Second):
				return
			}
		}
	}()
	return out
}

func TestCursorPositionReportDoesNotConsumeEchoBudget(t *testing.T) {
	m, _ := newTestManager(t)
	m.setPS1("seed")
	m.setState(Input)

	before := m.PendingEcho()
	require.NoError(t, m.ProcessInbound(context.Background(), []byte("\x1b[24;80R"), func([]byte) error { return nil }))
	require.Equal(t, before, m.PendingEcho())
}

func TestEmptyFrameIsSwallowed(t *testing.T) {
	m, _ := newTestManager(t)
	called := false
	require.NoError(t, m.ProcessInbound(context.Background(), nil, func([]byte) error {
		called = true
		return nil
	}))
	assert.False(t, called)
}

func TestBareCRIsBareTerminator(t *testing.T) {
	m, _ := newTestManager(t)
	m.setPS1("seed")
	m.setState(Input)

	var got []byte
	require.NoError(t, m.ProcessInbound(context.Background(), []byte("\r"), func(d []byte) error {
		got = d
		return nil
	}))
	require.Equal(t, []byte("\r"), got)
	require.Equal(t, Output, m.State())
}
