package sshclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

const dialTimeout = 15 * time.Second

// Client is the per-session SSH actor: a single-threaded select loop
// consuming Commands and publishing Events, per spec §4.5. The zero value
// is not usable; construct with New.
type Client struct {
	ID uuid.UUID

	cmds  chan Command
	abort chan struct{}

	events chan Event

	state atomic.Int32

	conn *ssh.Client

	chMu     sync.Mutex
	channels map[uuid.UUID]*channelHandle

	pendingOps      []Command
	pendingForwards []Command

	log *slog.Logger
}

// New constructs an actor in state NotInitialized.
func New(log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		ID:       uuid.New(),
		cmds:     make(chan Command, 64),
		abort:    make(chan struct{}),
		events:   make(chan Event, 256),
		channels: make(map[uuid.UUID]*channelHandle),
		log:      log,
	}
}

// Events returns the actor's outward event stream.
func (c *Client) Events() <-chan Event { return c.events }

// State returns the actor's current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	c.emit(Event{Kind: EvState, State: s})
}

// Submit enqueues a command for the actor loop, blocking until accepted,
// ctx is canceled, or the actor has aborted.
func (c *Client) Submit(ctx context.Context, cmd Command) error {
	select {
	case c.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.abort:
		return errors.New("sshclient: actor aborted")
	}
}

// Abort signals the actor loop to disconnect and stop.
func (c *Client) Abort() {
	select {
	case <-c.abort:
	default:
		close(c.abort)
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("sshclient: event channel full, dropping event", "kind", ev.Kind.String())
	}
}

// Run drives the actor loop until ctx is canceled or Abort is called, at
// which point it disconnects, emits Done, and returns.
func (c *Client) Run(ctx context.Context) {
	defer func() {
		c.disconnect()
		c.emit(Event{Kind: EvDone})
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.abort:
			return
		case cmd := <-c.cmds:
			c.handleCommand(ctx, cmd)
		}
	}
}

func (c *Client) handleCommand(ctx context.Context, cmd Command) {
	switch cmd.Kind {
	case CmdConnect:
		c.connect(ctx, cmd)

	case CmdChannel:
		if c.State() != Connected {
			c.pendingOps = append(c.pendingOps, cmd)
			reply(cmd.Reply, nil)
			return
		}
		c.handleChannelCmd(cmd)

	case CmdForwardTCPIP:
		if c.State() != Connected {
			c.pendingForwards = append(c.pendingForwards, cmd)
			reply(cmd.Reply, nil)
			return
		}
		c.forwardTCPIP(cmd)

	case CmdCancelTCPIPForward:
		if c.State() != Connected {
			reply(cmd.Reply, fmt.Errorf("sshclient: not connected"))
			return
		}
		c.cancelForward(cmd)

	case CmdDisconnect:
		c.disconnect()
		reply(cmd.Reply, nil)
	}
}

// connect performs the transport handshake and authentication described in
// spec §4.5's Connect command: resolve, kex preference, handshake,
// authenticate (password or, as an enrichment over the original's
// unconditional AuthenticationFailed, a real public-key path), then flush
// queued ops and forwards.
func (c *Client) connect(ctx context.Context, cmd Command) {
	target := cmd.Target.Normalized()
	c.setState(Connecting)

	authMethod, err := authMethod(target)
	if err != nil {
		c.fail(ErrKey, err, cmd.Reply)
		return
	}

	config := &ssh.ClientConfig{
		User:            target.Username,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: c.buildHostKeyCallback(""),
		Timeout:         dialTimeout,
	}
	config.KeyExchanges = kexAlgos(target.AllowInsecureAlgos)

	addr := net.JoinHostPort(target.Host, fmt.Sprintf("%d", target.Port))
	conn, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		c.fail(classifyDialError(err), err, cmd.Reply)
		return
	}

	c.conn = conn
	c.listenForwardedChannels()

	c.setState(Connected)
	reply(cmd.Reply, nil)

	for _, p := range c.pendingOps {
		c.handleChannelCmd(p)
	}
	c.pendingOps = nil

	for _, p := range c.pendingForwards {
		if p.Kind == CmdForwardTCPIP {
			c.forwardTCPIP(p)
		} else {
			c.cancelForward(p)
		}
	}
	c.pendingForwards = nil
}

func (c *Client) fail(kind ErrorKind, err error, replyCh chan<- error) {
	cerr := newConnErr(kind, err)
	c.emit(Event{Kind: EvConnectionError, Err: cerr})
	c.setState(Disconnected)
	reply(replyCh, cerr)
}

func authMethod(t TargetSpec) (ssh.AuthMethod, error) {
	switch t.AuthKind {
	case AuthPassword:
		return ssh.Password(t.Password), nil

	case AuthPublicKey:
		var signer ssh.Signer
		var err error
		if t.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(t.PrivateKey, []byte(t.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(t.PrivateKey)
		}
		if err != nil {
			return nil, fmt.Errorf("sshclient: parse private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil

	default:
		return nil, fmt.Errorf("sshclient: unknown auth kind %d", t.AuthKind)
	}
}

// classifyDialError maps a failed ssh.Dial into spec §7's transport error
// taxonomy: resolve, TCP, kex/protocol, host-key mismatch, or auth failure.
func classifyDialError(err error) ErrorKind {
	if errors.Is(err, errHostKeyMismatch) {
		return ErrHostKeyMismatch
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrResolve
	}

	var authErr *ssh.ServerAuthError
	if errors.As(err, &authErr) {
		return ErrAuthentication
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return ErrAuthentication
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrIO
	}

	return ErrSSH
}

func (c *Client) handleChannelCmd(cmd Command) {
	switch cmd.Op.Kind {
	case OpOpenShell:
		c.openChannel(cmd.ChannelID, ChannelShell, "session", nil, cmd.Reply)

	case OpOpenDirectTCPIP:
		payload := ssh.Marshal(struct {
			Host     string
			Port     uint32
			OrigHost string
			OrigPort uint32
		}{
			Host:     cmd.Op.DirectTCPIP.Host,
			Port:     cmd.Op.DirectTCPIP.Port,
			OrigHost: cmd.Op.DirectTCPIP.OrigHost,
			OrigPort: cmd.Op.DirectTCPIP.OrigPort,
		})
		c.openChannel(cmd.ChannelID, ChannelDirectTCPIP, "direct-tcpip", payload, cmd.Reply)

	default:
		c.chMu.Lock()
		h, ok := c.channels[cmd.ChannelID]
		c.chMu.Unlock()
		if !ok {
			reply(cmd.Reply, fmt.Errorf("sshclient: unknown channel %s", cmd.ChannelID))
			return
		}
		reply(cmd.Reply, h.apply(cmd.Op))
	}
}

func (c *Client) openChannel(id uuid.UUID, kind ChannelKind, chType string, payload []byte, replyCh chan<- error) {
	ch, reqs, err := c.conn.OpenChannel(chType, payload)
	if err != nil {
		c.emit(Event{Kind: EvChannelFailure, ChannelID: id})
		reply(replyCh, err)
		return
	}

	h := newChannelHandle(id, kind, ch, reqs)
	c.chMu.Lock()
	c.channels[id] = h
	c.chMu.Unlock()

	go c.readLoop(h)
	reply(replyCh, nil)
}

func (c *Client) forwardTCPIP(cmd Command) {
	payload := ssh.Marshal(struct {
		Addr string
		Port uint32
	}{cmd.Addr, cmd.Port})

	_, _, err := c.conn.SendRequest("tcpip-forward", true, payload)
	reply(cmd.Reply, err)
}

func (c *Client) cancelForward(cmd Command) {
	payload := ssh.Marshal(struct {
		Addr string
		Port uint32
	}{cmd.Addr, cmd.Port})

	_, _, err := c.conn.SendRequest("cancel-tcpip-forward", true, payload)
	reply(cmd.Reply, err)
}

// listenForwardedChannels wires server-initiated forwarded-tcpip and x11
// channels to EvForwardedTCPIP / EvX11 events. Must be called right after
// a successful Dial: x/crypto/ssh auto-rejects channel types with no
// registered handler.
func (c *Client) listenForwardedChannels() {
	fwd := c.conn.HandleChannelOpen("forwarded-tcpip")
	go func() {
		for newCh := range fwd {
			var params struct {
				ConnectedHost string
				ConnectedPort uint32
				OriginHost    string
				OriginPort    uint32
			}
			_ = ssh.Unmarshal(newCh.ExtraData(), &params)

			id := uuid.New()
			ch, reqs, err := newCh.Accept()
			if err != nil {
				continue
			}
			h := newChannelHandle(id, ChannelForwardedTCPIP, ch, reqs)
			c.chMu.Lock()
			c.channels[id] = h
			c.chMu.Unlock()
			go c.readLoop(h)

			c.emit(Event{Kind: EvForwardedTCPIP, ChannelID: id, Forwarded: &ForwardedTCPIPParams{
				ConnectedHost: params.ConnectedHost,
				ConnectedPort: params.ConnectedPort,
				OriginHost:    params.OriginHost,
				OriginPort:    params.OriginPort,
			}})
		}
	}()

	x11 := c.conn.HandleChannelOpen("x11")
	go func() {
		for newCh := range x11 {
			var params struct {
				OriginatorAddress string
				OriginatorPort    uint32
			}
			_ = ssh.Unmarshal(newCh.ExtraData(), &params)

			id := uuid.New()
			ch, reqs, err := newCh.Accept()
			if err != nil {
				continue
			}
			h := newChannelHandle(id, ChannelX11, ch, reqs)
			c.chMu.Lock()
			c.channels[id] = h
			c.chMu.Unlock()
			go c.readLoop(h)

			c.emit(Event{Kind: EvX11, ChannelID: id, X11: &X11Params{
				OriginatorHost: params.OriginatorAddress,
				OriginatorPort: params.OriginatorPort,
			}})
		}
	}()
}

// disconnect sends disconnect with reason ByApplication (modeled as
// closing the transport, since x/crypto/ssh does not expose sending a
// disconnect message directly), transitions to Disconnected, and drops
// every channel, per spec §4.5 Disconnect command.
func (c *Client) disconnect() {
	if c.State() == Disconnected || c.State() == NotInitialized {
		return
	}

	c.chMu.Lock()
	for id, h := range c.channels {
		h.setState(ChanClosing)
		h.ch.Close()
		delete(c.channels, id)
	}
	c.chMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}

	c.setState(Disconnected)
}
