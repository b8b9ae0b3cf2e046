package vterm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessRendersPlainText(t *testing.T) {
	s := New(80, 24)
	defer s.Close()

	s.Process([]byte("hello world"))
	assert.True(t, strings.Contains(s.Contents(), "hello world"))
}

func TestAlternateScreenDetection(t *testing.T) {
	s := New(80, 24)
	defer s.Close()

	require.False(t, s.AlternateScreen())

	s.Process([]byte("\x1b[?1049h"))
	assert.True(t, s.AlternateScreen())

	s.Process([]byte("\x1b[?1049l"))
	assert.False(t, s.AlternateScreen())
}

func TestClearResetsContents(t *testing.T) {
	s := New(80, 24)
	defer s.Close()

	s.Process([]byte("some output"))
	s.Clear()
	assert.False(t, strings.Contains(s.Contents(), "some output"))
}

func TestFullContentsCapturesScrolledLines(t *testing.T) {
	s := New(20, 4)
	defer s.Close()

	for i := 0; i < 20; i++ {
		s.Process([]byte("line"))
		s.Process([]byte{0x0d, 0x0a})
	}

	full := s.FullContents()
	assert.True(t, strings.Contains(full, "line"))
	assert.True(t, strings.Count(full, "line") > 4,
		"expected scrollback ring to retain lines evicted from the visible grid, got %q", full)
}

func TestClearDropsScrollbackRing(t *testing.T) {
	s := New(20, 4)
	defer s.Close()

	for i := 0; i < 20; i++ {
		s.Process([]byte("scrolled\r\n"))
	}
	require.True(t, strings.Contains(s.FullContents(), "scrolled"))

	s.Clear()
	assert.False(t, strings.Contains(s.FullContents(), "scrolled"))
}
