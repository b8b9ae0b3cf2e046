package sshclient

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// errHostKeyMismatch is returned from the HostKeyCallback (and therefore
// from ssh.Dial) when knownhosts reports the presented key does not match
// a previously recorded one; Connect classifies it into ErrHostKeyMismatch.
var errHostKeyMismatch = errors.New("sshclient: host key mismatch")

// hostKeyDecisionTimeout bounds how long Connect waits for an operator to
// answer a HostKeyUnknown event before rejecting the key.
const hostKeyDecisionTimeout = 30 * time.Second

// buildHostKeyCallback returns a callback that: emits HostKeyReceived for
// every presented key; on a knownhosts mismatch, fails closed; when the
// host is simply unknown (first contact, no knownHostsPath configured, or
// knownhosts.IsHostUnknown), emits HostKeyUnknown carrying a reply channel
// and blocks for the caller's accept/reject decision, per spec §4.5
// (RCEvent::HostKeyUnknown(key, reply-sender)).
func (c *Client) buildHostKeyCallback(knownHostsPath string) ssh.HostKeyCallback {
	var checker ssh.HostKeyCallback
	if knownHostsPath != "" {
		if cb, err := knownhosts.New(knownHostsPath); err == nil {
			checker = cb
		}
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		c.emit(Event{Kind: EvHostKeyReceived, HostKey: key})

		if checker != nil {
			err := checker(hostname, remote, key)
			switch {
			case err == nil:
				return nil
			case knownhosts.IsHostKeyChanged(err):
				return errHostKeyMismatch
			case knownhosts.IsHostUnknown(err):
				return c.askHostKeyDecision(key)
			default:
				return fmt.Errorf("sshclient: known_hosts lookup: %w", err)
			}
		}

		return c.askHostKeyDecision(key)
	}
}

func (c *Client) askHostKeyDecision(key ssh.PublicKey) error {
	reply := make(chan bool, 1)
	c.emit(Event{Kind: EvHostKeyUnknown, HostKey: key, HostKeyReply: reply})

	select {
	case ok := <-reply:
		if ok {
			return nil
		}
		return errHostKeyMismatch
	case <-time.After(hostKeyDecisionTimeout):
		return errHostKeyMismatch
	}
}
