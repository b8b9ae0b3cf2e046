// Package sshclient implements the per-session SSH actor, spec component
// C5: a single-threaded select loop owning the transport, channel
// lifecycle, and command/reply dispatch. Grounded on
// _examples/original_source/genesis-ssh/src/client/mod.rs (ConnectionError,
// RCEvent, RCCommand, RCState, RemoteClient), built on
// golang.org/x/crypto/ssh instead of russh: channel operations go through
// Client.OpenChannel("session", nil) plus raw SendRequest calls for
// pty-req/shell/window-change/signal, rather than the higher-level
// ssh.Client.NewSession() wrapper, to keep the generic
// open/request/data/close message-passing shape the original actor uses.
package sshclient

import (
	"github.com/google/uuid"
)

// State mirrors RCState: NotInitialized/Connecting/Connected/Disconnected.
type State int32

const (
	NotInitialized State = iota
	Connecting
	Connected
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "not_initialized"
	}
}

// AuthKind selects TargetSpec's auth variant, per spec §3.
type AuthKind int

const (
	AuthPassword AuthKind = iota
	AuthPublicKey
)

// PTYRequest is the pty-req carried by TargetSpec and re-sent (with only
// dimensions changed) on ResizePty.
type PTYRequest struct {
	Term string
	Cols int
	Rows int
}

// TargetSpec is immutable after session start, per spec §3.
type TargetSpec struct {
	Host     string
	Port     int // default 22
	Username string // default "root"

	AuthKind AuthKind
	Password string

	// PrivateKey is PEM or OpenSSH-format key material, parsed with
	// ssh.ParsePrivateKey. Passphrase decrypts it if non-empty.
	PrivateKey []byte
	Passphrase string

	AllowInsecureAlgos bool
	PTY                PTYRequest
}

// Normalized returns a copy with Port/Username defaults applied.
func (t TargetSpec) Normalized() TargetSpec {
	if t.Port == 0 {
		t.Port = 22
	}
	if t.Username == "" {
		t.Username = "root"
	}
	return t
}

// ChannelKind mirrors the Channel kinds of spec §3.
type ChannelKind int

const (
	ChannelShell ChannelKind = iota
	ChannelDirectTCPIP
	ChannelForwardedTCPIP
	ChannelX11
)

// ChannelState mirrors the channel state machine of spec §4.5:
// Pending → Opening → Open{kind} → Closing → Closed.
type ChannelState int32

const (
	ChanPending ChannelState = iota
	ChanOpening
	ChanOpen
	ChanClosing
	ChanClosed
)

// DirectTCPIPParams parametrizes a direct-tcpip channel open.
type DirectTCPIPParams struct {
	Host     string
	Port     uint32
	OrigHost string
	OrigPort uint32
}

// ForwardedTCPIPParams describes a server-initiated forwarded-tcpip
// channel, surfaced via Event.Forwarded.
type ForwardedTCPIPParams struct {
	ConnectedHost string
	ConnectedPort uint32
	OriginHost    string
	OriginPort    uint32
}

// X11Params describes a server-initiated x11 channel, surfaced via
// Event.X11.
type X11Params struct {
	OriginatorHost string
	OriginatorPort uint32
}

// ChannelOpKind selects which field of ChannelOp is populated.
type ChannelOpKind int

const (
	OpOpenShell ChannelOpKind = iota
	OpOpenDirectTCPIP
	OpRequestPty
	OpRequestShell
	OpResizePty
	OpData
	OpSignal
	OpEOF
	OpClose
)

// ChannelOp is one operation applied to an identified channel, per spec
// §4.5 "Channel operations".
type ChannelOp struct {
	Kind        ChannelOpKind
	PTY         PTYRequest
	Resize      PTYRequest
	Data        []byte
	Signal      string
	DirectTCPIP DirectTCPIPParams
}

// CommandKind selects which field of Command is populated.
type CommandKind int

const (
	CmdConnect CommandKind = iota
	CmdChannel
	CmdForwardTCPIP
	CmdCancelTCPIPForward
	CmdDisconnect
)

// Command is one RCCommand submitted to the actor loop, optionally
// carrying a reply channel the loop sends nil or an error on once the
// command has been applied (or queued, while not yet connected).
type Command struct {
	Kind      CommandKind
	Target    TargetSpec
	ChannelID uuid.UUID
	Op        ChannelOp
	Addr      string
	Port      uint32
	Reply     chan<- error
}

func reply(ch chan<- error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}
