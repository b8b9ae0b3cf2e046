package sshclient

import "fmt"

// ErrorKind mirrors the Rust ConnectionError enum in
// genesis-ssh/src/client/mod.rs.
type ErrorKind int

const (
	ErrHostKeyMismatch ErrorKind = iota
	ErrIO
	ErrKey
	ErrSSH
	ErrResolve
	ErrInternal
	ErrAborted
	ErrAuthentication
)

func (k ErrorKind) String() string {
	switch k {
	case ErrHostKeyMismatch:
		return "host_key_mismatch"
	case ErrIO:
		return "io"
	case ErrKey:
		return "key"
	case ErrSSH:
		return "ssh"
	case ErrResolve:
		return "resolve"
	case ErrInternal:
		return "internal"
	case ErrAborted:
		return "aborted"
	case ErrAuthentication:
		return "authentication"
	default:
		return "unknown"
	}
}

// ConnectionError is the classified failure surfaced as RCEvent's
// ConnectionError variant, per spec §4.5 and §7.
type ConnectionError struct {
	Kind ErrorKind
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func newConnErr(kind ErrorKind, err error) *ConnectionError {
	return &ConnectionError{Kind: kind, Err: err}
}
