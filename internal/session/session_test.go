package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/pesgel/gateway/internal/config"
	"github.com/pesgel/gateway/internal/execstate"
	"github.com/pesgel/gateway/internal/sshclient"
)

// fakePrompt mimics a color-coded PS1: extractPS1 only considers lines
// carrying an escape sequence, so a plain "$ " would never be recognized.
const fakePrompt = "\x1b[32m$\x1b[0m "

// fakeShellServer is a minimal in-process sshd: it accepts one session
// channel, answers pty-req/shell/window-change requests, echoes each typed
// byte back as a pty would, and on CR writes the line back prefixed with
// "out:" followed by a fresh prompt.
// Grounded on the channel-request shape _examples/ehrlich-b-wingthing's
// SSH client code sends, mirrored from the server side via
// golang.org/x/crypto/ssh directly (no teacher server exists to imitate).
func fakeShellServer(t *testing.T) (addr string, stop func()) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	serverCfg := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	serverCfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveOneConn(conn, serverCfg)
		}
	}()

	return ln.Addr().String(), func() {
		close(closed)
		_ = ln.Close()
	}
}

func serveOneConn(conn net.Conn, serverCfg *ssh.ServerConfig) {
	sc, chans, reqs, err := ssh.NewServerConn(conn, serverCfg)
	if err != nil {
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, requests)
	}
}

func serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	go func() {
		buf := make([]byte, 256)
		var line []byte
		for {
			n, err := ch.Read(buf)
			if n > 0 {
				for _, b := range buf[:n] {
					if b == '\r' {
						cmd := string(line)
						line = nil
						_, _ = ch.Write([]byte(cmd + "\r\nout:" + cmd + "\r\n" + fakePrompt))
					} else {
						line = append(line, b)
						_, _ = ch.Write([]byte{b})
					}
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for req := range requests {
		switch req.Type {
		case "pty-req", "shell", "window-change":
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			if req.Type == "shell" {
				_, _ = ch.Write([]byte(fakePrompt))
			}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func TestOpenWiresShellAndEmitsCommandEvents(t *testing.T) {
	addr, stop := fakeShellServer(t)
	defer stop()

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := config.Default()
	target := sshclient.TargetSpec{
		Host:     host,
		Port:     port,
		Username: "tester",
		AuthKind: sshclient.AuthPassword,
		Password: "anything",
		PTY:      sshclient.PTYRequest{Term: "xterm-256color", Cols: 80, Rows: 24},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := Open(ctx, cfg, target, nil)
	require.NoError(t, err)
	defer h.Close()

	select {
	case h.Input() <- []byte("pwd\r"):
	case <-time.After(2 * time.Second):
		t.Fatal("could not send input")
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-h.Events():
			if ev.Kind == execstate.Command {
				require.Contains(t, ev.Command.Output, "out:pwd")
				return
			}
		case <-deadline:
			t.Fatal("did not observe a Command event")
		}
	}
}
