package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestNewWritesHeaderThenData(t *testing.T) {
	root := t.TempDir()
	id := uuid.NewString()

	r, err := New(root, id, "xterm-256color", 80, 24)
	require.NoError(t, err)

	require.NoError(t, r.Write([]byte("a")))
	require.NoError(t, r.Write([]byte("b")))
	require.NoError(t, r.Close())

	path := filepath.Join(root, "ssh", id, "recording.cast")
	lines := readLines(t, path)
	require.Len(t, lines, 4) // header + a + b + end session

	var hdr Header
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &hdr))
	require.Equal(t, 2, hdr.Version)
	require.Equal(t, 80, hdr.Width)
	require.Equal(t, 24, hdr.Height)
	require.Equal(t, "xterm-256color", hdr.Env.Term)

	var lastRow []any
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &lastRow))
	require.Equal(t, "end session", lastRow[2])
}

func TestWriteSwallowsSessionMarkerPrefix(t *testing.T) {
	root := t.TempDir()
	id := uuid.NewString()

	r, err := New(root, id, "xterm", 80, 24)
	require.NoError(t, err)

	require.NoError(t, r.Write([]byte(id+" control frame")))
	require.NoError(t, r.Write([]byte("real output")))
	require.NoError(t, r.Close())

	path := filepath.Join(root, "ssh", id, "recording.cast")
	lines := readLines(t, path)
	require.Len(t, lines, 3) // header + real output + end session

	var row []any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &row))
	require.Equal(t, "real output", row[2])
}

func TestExistingSessionDirectoryIsFatal(t *testing.T) {
	root := t.TempDir()
	id := uuid.NewString()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "ssh", id), 0o755))

	_, err := New(root, id, "xterm", 80, 24)
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	root := t.TempDir()
	id := uuid.NewString()

	r, err := New(root, id, "xterm", 80, 24)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

func TestDeltaIsMonotonicNonDecreasing(t *testing.T) {
	root := t.TempDir()
	id := uuid.NewString()

	r, err := New(root, id, "xterm", 80, 24)
	require.NoError(t, err)

	require.NoError(t, r.Write([]byte("a")))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, r.Write([]byte("b")))
	require.NoError(t, r.Close())

	path := filepath.Join(root, "ssh", id, "recording.cast")
	lines := readLines(t, path)

	var prev float64
	for _, line := range lines[1:] {
		var row []any
		require.NoError(t, json.Unmarshal([]byte(line), &row))
		delta := row[0].(float64)
		require.GreaterOrEqual(t, delta, prev)
		prev = delta
	}
}
