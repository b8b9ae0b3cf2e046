package sshclient

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

// channelHandle is one entry of the actor's channel_pipes map: the open
// transport channel plus its lifecycle state. Reads happen on a dedicated
// goroutine (readLoop); writes are applied by the actor loop itself via
// apply. The lifecycle state is an atomic because both the actor loop
// (Closing) and readLoop (Closed) set it; no state is shared across
// channels, per spec §4.5.
type channelHandle struct {
	id      uuid.UUID
	kind    ChannelKind
	state   atomic.Int32
	ch      ssh.Channel
	reqs    <-chan *ssh.Request
	done    chan struct{}
}

func newChannelHandle(id uuid.UUID, kind ChannelKind, ch ssh.Channel, reqs <-chan *ssh.Request) *channelHandle {
	h := &channelHandle{id: id, kind: kind, ch: ch, reqs: reqs, done: make(chan struct{})}
	h.state.Store(int32(ChanOpen))
	return h
}

func (h *channelHandle) setState(s ChannelState) { h.state.Store(int32(s)) }
func (h *channelHandle) State() ChannelState      { return ChannelState(h.state.Load()) }

// readLoop forwards channel data, extended data, and out-of-band requests
// (exit-status, exit-signal) as Events until the channel closes.
func (c *Client) readLoop(h *channelHandle) {
	defer close(h.done)

	buf := make([]byte, 32*1024)
	dataDone := make(chan struct{})

	go func() {
		defer close(dataDone)
		for {
			n, err := h.ch.Read(buf)
			if n > 0 {
				out := append([]byte(nil), buf[:n]...)
				c.emit(Event{Kind: EvOutput, ChannelID: h.id, Data: out})
			}
			if err != nil {
				return
			}
		}
	}()

	extDone := make(chan struct{})
	go func() {
		defer close(extDone)
		extBuf := make([]byte, 32*1024)
		for {
			n, err := h.ch.Stderr().Read(extBuf)
			if n > 0 {
				out := append([]byte(nil), extBuf[:n]...)
				c.emit(Event{Kind: EvExtendedData, ChannelID: h.id, Data: out, ExtDataType: 1})
			}
			if err != nil {
				return
			}
		}
	}()

	for req := range h.reqs {
		switch req.Type {
		case "exit-status":
			status := int(parseUint32(req.Payload))
			c.emit(Event{Kind: EvExitStatus, ChannelID: h.id, ExitStatus: status})
		case "exit-signal":
			c.emit(Event{Kind: EvExitSignal, ChannelID: h.id, ExitSignal: string(req.Payload)})
		}
		if req.WantReply {
			req.Reply(true, nil)
		}
	}

	<-dataDone
	<-extDone
	h.setState(ChanClosed)
	c.emit(Event{Kind: EvClose, ChannelID: h.id})
}

func parseUint32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// apply runs one ChannelOp against an already-open channel, called from the
// actor loop only.
func (h *channelHandle) apply(op ChannelOp) error {
	switch op.Kind {
	case OpRequestPty:
		_, err := h.ch.SendRequest("pty-req", true, ptyPayload(op.PTY))
		return err

	case OpRequestShell:
		_, err := h.ch.SendRequest("shell", true, nil)
		return err

	case OpResizePty:
		_, err := h.ch.SendRequest("window-change", false, resizePayload(op.Resize))
		return err

	case OpData:
		_, err := h.ch.Write(op.Data)
		return err

	case OpSignal:
		_, err := h.ch.SendRequest("signal", false, ssh.Marshal(struct{ Name string }{op.Signal}))
		return err

	case OpEOF:
		return h.ch.CloseWrite()

	case OpClose:
		h.setState(ChanClosing)
		return h.ch.Close()

	default:
		return fmt.Errorf("sshclient: unknown channel op %d", op.Kind)
	}
}

// ptyPayload builds the pty-req payload, modes left empty (no raw-mode
// overrides beyond what the server defaults to).
func ptyPayload(req PTYRequest) []byte {
	type ptyReqMsg struct {
		Term     string
		Columns  uint32
		Rows     uint32
		Width    uint32
		Height   uint32
		Modelist string
	}
	return ssh.Marshal(ptyReqMsg{
		Term:    req.Term,
		Columns: uint32(req.Cols),
		Rows:    uint32(req.Rows),
	})
}

// resizePayload builds the window-change payload. SPEC_FULL §4.10 item 1:
// ResizePty re-sends only the changed dimensions, distinct from the
// initial RequestPty carrying the term string.
func resizePayload(req PTYRequest) []byte {
	type winChangeMsg struct {
		Columns uint32
		Rows    uint32
		Width   uint32
		Height  uint32
	}
	return ssh.Marshal(winChangeMsg{
		Columns: uint32(req.Cols),
		Rows:    uint32(req.Rows),
	})
}
