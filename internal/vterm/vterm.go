// Package vterm wraps charmbracelet/x/vt to give the pipe a conceptual
// VT100 grid it can ask "what's on screen" and "are we in alternate-screen
// mode" — the minimum TerminalParser needs, grounded on the teacher's
// internal/egg/vterm.go, including its scrollback ring (trimmed down:
// Snapshot's reconnect-replay framing is dropped since nothing here
// reconnects a browser mid-screen, but the ring itself is kept so a
// command whose output scrolls past the visible rows is still captured
// in full, per spec's Command event carrying complete output).
package vterm

import (
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/vt"
)

// maxScrollbackLines bounds the ring buffer capturing lines scrolled off
// the top of the visible grid. Far smaller than the teacher's 50000: this
// ring only needs to outlive one command's output, not a whole session.
const maxScrollbackLines = 2000

// Screen is one of the three parallel VT100 instances InteractivePipe keeps
// per session: the running screen (alternate-screen detection only), the
// input-echo screen, and the output screen.
type Screen struct {
	mu   sync.Mutex
	emu  *vt.Emulator
	cols int
	rows int
	alt  bool

	scrollback []string
	sbHead     int
	sbLen      int
}

// New creates a Screen sized cols×rows.
func New(cols, rows int) *Screen {
	s := &Screen{
		emu:        vt.NewEmulator(cols, rows),
		cols:       cols,
		rows:       rows,
		scrollback: make([]string, maxScrollbackLines),
	}
	s.emu.SetCallbacks(vt.Callbacks{
		AltScreen: func(on bool) {
			s.alt = on
		},
		ScrollOut: func(lines []uv.Line) {
			// mu already held by caller (Process/Clear)
			if s.alt {
				return
			}
			for _, line := range lines {
				if s.sbLen == len(s.scrollback) {
					s.scrollback[s.sbHead] = ""
				}
				s.scrollback[s.sbHead] = ansi.Strip(line.Render())
				s.sbHead = (s.sbHead + 1) % len(s.scrollback)
				if s.sbLen < len(s.scrollback) {
					s.sbLen++
				}
			}
		},
		ScrollbackClear: func() {
			for i := range s.scrollback {
				s.scrollback[i] = ""
			}
			s.sbHead, s.sbLen = 0, 0
		},
	})
	return s
}

// Process feeds bytes captured from the live stream into the emulator.
func (s *Screen) Process(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emu.Write(p)
}

// Contents returns the plain-text (ANSI stripped) visible grid, trailing
// blank lines trimmed. This is what PS1 extraction and input-echo capture
// scan; command-output capture uses FullContents.
func (s *Screen) Contents() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ansi.Strip(s.emu.Render())
}

// FullContents returns the scrollback ring (oldest first) followed by the
// current visible grid, all ANSI-stripped. Command-output capture scans
// this instead of Contents so a command whose output exceeds the pty's row
// count isn't truncated to whatever remains on screen.
func (s *Screen) FullContents() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for i := 0; i < s.sbLen; i++ {
		idx := (s.sbHead - s.sbLen + i + len(s.scrollback)) % len(s.scrollback)
		b.WriteString(s.scrollback[idx])
		b.WriteByte('\n')
	}
	b.WriteString(ansi.Strip(s.emu.Render()))
	return b.String()
}

// AlternateScreen reports whether the last processed frame left the
// emulator in the alternate-screen buffer (vim, less, top, ...).
func (s *Screen) AlternateScreen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alt
}

// Clear resets the screen to blank, as if ESC [ 2 J had been received, and
// drops the scrollback ring so the next command starts from an empty
// transcript.
func (s *Screen) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emu.Write([]byte("\x1b[2J\x1b[H"))
	for i := range s.scrollback {
		s.scrollback[i] = ""
	}
	s.sbHead, s.sbLen = 0, 0
}

// Resize changes the emulator's dimensions, used when the pty is resized.
func (s *Screen) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emu.Resize(cols, rows)
	s.cols, s.rows = cols, rows
}

// Close releases the emulator's resources.
func (s *Screen) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emu.Close()
}
