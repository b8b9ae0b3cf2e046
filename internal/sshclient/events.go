package sshclient

import (
	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

// EventKind selects which field of Event is populated, mirroring RCEvent.
type EventKind int

const (
	EvState EventKind = iota
	EvHostKeyReceived
	EvHostKeyUnknown
	EvConnectionError
	EvOutput
	EvExitStatus
	EvExitSignal
	EvExtendedData
	EvEOF
	EvClose
	EvChannelFailure
	EvSuccess
	EvForwardedTCPIP
	EvX11
	EvDone
)

func (k EventKind) String() string {
	names := [...]string{
		"state", "host_key_received", "host_key_unknown", "connection_error",
		"output", "exit_status", "exit_signal", "extended_data", "eof",
		"close", "channel_failure", "success", "forwarded_tcpip", "x11", "done",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "unknown"
}

// Event is one RCEvent published outward by the actor loop, per spec
// §4.5. Only the fields matching Kind are meaningful.
type Event struct {
	Kind EventKind

	ChannelID uuid.UUID

	State State

	HostKey      ssh.PublicKey
	HostKeyReply chan<- bool // set only on EvHostKeyUnknown

	Err *ConnectionError

	Data []byte

	ExitStatus int
	ExitSignal string

	ExtDataType uint32

	Forwarded *ForwardedTCPIPParams
	X11       *X11Params
}
