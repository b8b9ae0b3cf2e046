// Package pipe implements the interactive pipe, spec component C4: two
// half-duplex pumps between a user and a remote shell that throttle input
// against output, detect the shell prompt (PS1), and emit structured
// command events. Grounded on
// _examples/original_source/genesis-process/src/pipe.rs (PipeManger,
// do_process_in, do_process_out, is_cursor_position_report,
// extract_command_after_bell), translated from tokio tasks and
// RwLock<String>/atomic counters into goroutines, an atomic PipeState, and
// an atomic echo counter.
package pipe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pesgel/gateway/internal/eventhub"
	"github.com/pesgel/gateway/internal/execstate"
	"github.com/pesgel/gateway/internal/vterm"
)

// State mirrors the PipeState enum of spec §3: Output is the zero value,
// matching the Rust #[default] on PipeState::Out.
type State int32

const (
	Output State = iota
	Input
)

func (s State) String() string {
	if s == Input {
		return "input"
	}
	return "output"
}

// pollInterval is the inbound gate's poll granularity, per spec §5.
const pollInterval = 20 * time.Millisecond

// DefaultSplitCRSettleDelay is the pause between sending a split frame's
// prefix and its trailing \r. Spec §9 calls this a tuning constant, not a
// correctness contract.
const DefaultSplitCRSettleDelay = 100 * time.Millisecond

// scratchCols is the width given to the disposable parser extractPS1 feeds
// one candidate line through; wide enough that no realistic PS1 line wraps.
const scratchCols = 1024

// Manager owns one session's pipe state: the canonical PS1, the direction
// gate, the alternate-screen flag, the echo counter, and the three parallel
// VT100 screens described in spec §4.3.
type Manager struct {
	PS1Chars           string
	WaitTimes          int
	SplitCRSettleDelay time.Duration

	ps1mu     sync.Mutex
	ps1       string
	promptBuf []byte

	state       atomic.Int32
	alternate   atomic.Bool
	pendingEcho atomic.Int32

	running *vterm.Screen
	input   *vterm.Screen
	output  *vterm.Screen

	hub    *eventhub.Hub
	events chan<- execstate.State

	log *slog.Logger
}

// New builds a Manager for a cols×rows terminal. hub receives every raw
// outbound frame (wired to the Recorder and any other byte-level
// subscriber); events receives the structured ExecutionState stream
// returned to the orchestrator's caller. Either may be nil.
func New(cols, rows int, ps1Chars string, waitTimes int, hub *eventhub.Hub, events chan<- execstate.State, log *slog.Logger) *Manager {
	if ps1Chars == "" {
		ps1Chars = "#$>"
	}
	if waitTimes <= 0 {
		waitTimes = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		PS1Chars:           ps1Chars,
		WaitTimes:          waitTimes,
		SplitCRSettleDelay: DefaultSplitCRSettleDelay,
		running:            vterm.New(cols, rows),
		input:              vterm.New(cols, rows),
		output:             vterm.New(cols, rows),
		hub:                hub,
		events:             events,
		log:                log,
	}
}

// Close releases the three VT100 screens.
func (m *Manager) Close() {
	m.running.Close()
	m.input.Close()
	m.output.Close()
}

// PS1 returns the canonical prompt string observed so far, empty if none
// has been seen yet.
func (m *Manager) PS1() string {
	m.ps1mu.Lock()
	defer m.ps1mu.Unlock()
	return m.ps1
}

func (m *Manager) setPS1(s string) {
	m.ps1mu.Lock()
	m.ps1 = s
	m.ps1mu.Unlock()
}

// State returns the current direction gate.
func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) setState(s State) { m.state.Store(int32(s)) }

// Alternate reports whether the running screen is currently in
// alternate-screen mode (vim, less, top, ...).
func (m *Manager) Alternate() bool { return m.alternate.Load() }

// PendingEcho returns the current echo counter, exported for tests.
func (m *Manager) PendingEcho() int32 { return m.pendingEcho.Load() }

func (m *Manager) incEcho() { m.pendingEcho.Add(1) }

func (m *Manager) decEcho() {
	for {
		cur := m.pendingEcho.Load()
		if cur <= 0 {
			return
		}
		if m.pendingEcho.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Sender forwards a gated frame toward the remote shell.
type Sender func(d []byte) error

// ProcessInbound runs the inbound-pump algorithm (spec §4.4.1) for one
// frame read from the user. It blocks on the PS1 gate, the direction gate
// (skipped while in alternate-screen mode), and the trailing-CR echo
// drain, then forwards via send. Empty frames are swallowed.
func (m *Manager) ProcessInbound(ctx context.Context, d []byte, send Sender) error {
	if len(d) == 0 {
		return nil
	}

	if err := m.waitForPS1(ctx); err != nil {
		return err
	}

	if !m.Alternate() {
		if err := m.waitForDirection(ctx, Input); err != nil {
			return err
		}
	}

	if bytes.HasSuffix(d, []byte("\r")) {
		if err := m.waitForEchoDrain(ctx); err != nil {
			return err
		}

		if len(d) > 1 {
			prefix := d[:len(d)-1]
			m.setState(Input)
			m.incEcho()
			if err := send(prefix); err != nil {
				return err
			}

			select {
			case <-time.After(m.settleDelay()):
			case <-ctx.Done():
				return ctx.Err()
			}

			m.setState(Output)
			m.incEcho()
			return send([]byte("\r"))
		}

		m.setState(Output)
		m.incEcho()
		return send(d)
	}

	m.setState(Input)
	if !IsCursorPositionReport(d) {
		m.incEcho()
	}
	return send(d)
}

func (m *Manager) settleDelay() time.Duration {
	if m.SplitCRSettleDelay <= 0 {
		return DefaultSplitCRSettleDelay
	}
	return m.SplitCRSettleDelay
}

func (m *Manager) waitForPS1(ctx context.Context) error {
	for m.PS1() == "" {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return nil
}

func (m *Manager) waitForDirection(ctx context.Context, want State) error {
	for i := 0; i < m.WaitTimes; i++ {
		if m.State() == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return nil // budget exhausted: proceed anyway, per spec §4.4.1 step 2
}

func (m *Manager) waitForEchoDrain(ctx context.Context) error {
	for i := 0; i < m.WaitTimes; i++ {
		if m.PendingEcho() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return nil
}

// ProcessOutbound runs the outbound-pump algorithm (spec §4.4.2) for one
// frame read from the shell: decrements the echo counter, publishes
// RawBytes, splits on \r, feeds the running/input/output screens, and
// extracts and emits Command events across PS1 boundaries.
func (m *Manager) ProcessOutbound(ctx context.Context, d []byte) {
	m.decEcho()
	m.publishRaw(d)

	enteredAlternate := false
	for _, segment := range splitOnCR(d) {
		seg := []byte(segment)
		m.running.Process(seg)

		if m.running.AlternateScreen() {
			m.alternate.Store(true)
			enteredAlternate = true
			break
		}

		if m.State() == Input {
			m.input.Process(seg)
		} else {
			m.output.Process(seg)
		}

		m.ps1mu.Lock()
		m.promptBuf = append(m.promptBuf, seg...)
		buf := append([]byte(nil), m.promptBuf...)
		m.ps1mu.Unlock()

		if candidate, ok := extractPS1(buf, m.PS1Chars); ok {
			m.pendingEcho.Store(0)
			m.setPS1(candidate)
			m.setState(Input)

			m.ps1mu.Lock()
			m.promptBuf = m.promptBuf[:0]
			m.ps1mu.Unlock()

			inputText := strings.TrimSpace(m.input.Contents())
			if inputText == "" {
				m.output.Clear()
				continue
			}

			outputText := strings.TrimSpace(strings.ReplaceAll(m.output.FullContents(), candidate, ""))
			m.publish(execstate.NewCommand(inputText, outputText))
			m.input.Clear()
			m.output.Clear()
		}
	}

	if !enteredAlternate {
		m.alternate.Store(false)
	}
}

func (m *Manager) publishRaw(d []byte) {
	if m.hub != nil {
		cp := append([]byte(nil), d...)
		m.hub.Send(cp)
	}
	m.publish(execstate.NewRawBytes(d))
}

func (m *Manager) publish(s execstate.State) {
	if m.events == nil {
		return
	}
	select {
	case m.events <- s:
	default:
		m.log.Warn("pipe: events channel full, dropping event", "kind", s.Kind.String())
	}
}

// splitOnCR splits d on '\r', re-inserting the terminator between segments
// and dropping empty segments, per spec §4.4.2 step 3.
func splitOnCR(d []byte) []string {
	parts := strings.Split(string(d), "\r")
	segments := make([]string, 0, len(parts))
	for i, p := range parts {
		seg := p
		if i < len(parts)-1 {
			seg += "\r"
		}
		if seg == "" {
			continue
		}
		segments = append(segments, seg)
	}
	return segments
}

// extractPS1 scans buf's lines bottom-up (per spec §4.4.2 "Prompt
// extraction"), skipping empty lines and lines with no ESC byte, and
// returns the trimmed plain-text contents of the first line whose last
// non-whitespace character is in ps1Chars.
func extractPS1(buf []byte, ps1Chars string) (string, bool) {
	lines := bytes.Split(buf, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if len(line) == 0 || !bytes.ContainsRune(line, 0x1b) {
			continue
		}

		scratch := vterm.New(scratchCols, 1)
		scratch.Process(line)
		content := strings.TrimSpace(scratch.Contents())
		scratch.Close()

		if content == "" {
			continue
		}
		last := content[len(content)-1]
		if strings.IndexByte(ps1Chars, last) >= 0 {
			return content, true
		}
	}
	return "", false
}

// ExtractPS1FromOSC is the alternate PS1 extractor of SPEC_FULL §4.10 item
// 6, for shells that wrap PS1 in an OSC 0/2 title-set envelope (ESC ] ...
// BEL) instead of a trailing prompt character. Grounded on
// extract_command_after_bell_back in pipe.rs. Not wired as the default
// extractor; callers opt in explicitly.
func ExtractPS1FromOSC(data []byte) (string, bool) {
	start := lastIndexOSCStart(data)
	end := bytes.LastIndexByte(data, 0x07)
	if start < 0 || end < 0 || end <= start {
		return "", false
	}
	return string(data[end+1:]), true
}

func lastIndexOSCStart(data []byte) int {
	for i := len(data) - 2; i >= 0; i-- {
		if data[i] == 0x1b && data[i+1] == ']' {
			return i
		}
	}
	return -1
}

// IsCursorPositionReport reports whether buf is a VT100 cursor-position
// report (ESC [ row ; col R): it begins ESC '[', ends 'R', and everything
// between is ASCII digits with exactly one ';'. Such reports must not
// consume echo-counter budget, per spec §4.4.1.
func IsCursorPositionReport(buf []byte) bool {
	if len(buf) < 5 {
		return false
	}
	if buf[0] != 0x1b || buf[1] != '[' || buf[len(buf)-1] != 'R' {
		return false
	}

	middle := buf[2 : len(buf)-1]
	seenSemicolon := false
	for _, b := range middle {
		switch {
		case b >= '0' && b <= '9':
		case b == ';':
			if seenSemicolon {
				return false
			}
			seenSemicolon = true
		default:
			return false
		}
	}
	return seenSemicolon
}
