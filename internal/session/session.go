// Package session implements the session orchestrator, spec component C7:
// it composes C1–C6 for one session, owns the cancellation token, and
// exposes the external contract of spec §6 — an input sink, an
// ExecutionState stream, and a control sink. Grounded on
// _examples/original_source/genesis-process/src/sshm/process.rs
// (ProcessManager.run: connect, subscribe the hub, wire Pipe through
// PipeManger, spawn do_interactive, spawn do_recording).
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesgel/gateway/internal/config"
	"github.com/pesgel/gateway/internal/eventhub"
	"github.com/pesgel/gateway/internal/execstate"
	"github.com/pesgel/gateway/internal/logger"
	"github.com/pesgel/gateway/internal/pipe"
	"github.com/pesgel/gateway/internal/recorder"
	"github.com/pesgel/gateway/internal/sshclient"
)

const recorderFlushInterval = 3 * time.Second

// ControlKind selects which field of ControlMsg is populated, mirroring
// the ControlMsg variants of spec §6.
type ControlKind int

const (
	CtrlResize ControlKind = iota
	CtrlSignal
	CtrlEOF
	CtrlClose
)

// ControlMsg is one out-of-band instruction from the caller: window
// resize, signal delivery, EOF, or close.
type ControlMsg struct {
	Kind    ControlKind
	Cols    int
	Rows    int
	PixCols int
	PixRows int
	Signal  string
}

// RecordingConfig enables the Recorder for a session; a nil *RecordingConfig
// passed to Open means "no recording", per spec §6 open_session's Option.
type RecordingConfig struct {
	Root string
}

// Handle is the external contract of spec §6: a sink for user bytes, a
// stream of ExecutionState events, and a sink for control messages.
type Handle struct {
	ID uuid.UUID

	input   chan []byte
	events  chan execstate.State
	control chan ControlMsg

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// Input returns the sink for user keystrokes and pastes.
func (h *Handle) Input() chan<- []byte { return h.input }

// Events returns the ExecutionState stream.
func (h *Handle) Events() <-chan execstate.State { return h.events }

// Control returns the sink for resize/signal/eof/close messages.
func (h *Handle) Control() chan<- ControlMsg { return h.control }

// Close trips the session's cancellation token and blocks until every
// owned task has drained, per spec §5's shutdown path.
func (h *Handle) Close() {
	h.cancel()
	<-h.done
}

// Open creates a session: it dials target, opens one shell channel with a
// PTY derived from target.PTY, wires the InteractivePipe between the
// returned Handle and the SshClient, attaches a Recorder if rec is
// non-nil, and returns once the channel is open and ready for input.
func Open(ctx context.Context, cfg config.GatewayConfig, target sshclient.TargetSpec, rec *RecordingConfig) (*Handle, error) {
	target = target.Normalized()
	if target.PTY.Cols == 0 {
		target.PTY.Cols = cfg.DefaultCols
	}
	if target.PTY.Rows == 0 {
		target.PTY.Rows = cfg.DefaultRows
	}

	sessionID := uuid.New()
	log := logger.ForSession(sessionID.String())

	sessCtx, cancel := context.WithCancel(ctx)

	h := &Handle{
		ID:      sessionID,
		input:   make(chan []byte, 256),
		events:  make(chan execstate.State, 256),
		control: make(chan ControlMsg, 16),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	client := sshclient.New(log)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		client.Run(sessCtx)
	}()

	// channelID is minted before Connect so the event router below can be
	// listening (and auto-answering HostKeyUnknown, trust-on-first-use)
	// before the dial's host key callback blocks on a reply, per spec §4.5.
	channelID := uuid.New()
	hub := eventhub.New()
	pipeMgr := pipe.New(target.PTY.Cols, target.PTY.Rows, cfg.PS1Terminators, cfg.WaitTimes, hub, h.events, log)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		routeClientEvents(sessCtx, client, channelID, pipeMgr, log)
	}()

	connectReply := make(chan error, 1)
	if err := client.Submit(sessCtx, sshclient.Command{Kind: sshclient.CmdConnect, Target: target, Reply: connectReply}); err != nil {
		cancel()
		return nil, fmt.Errorf("session: submit connect: %w", err)
	}
	select {
	case err := <-connectReply:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("session: connect: %w", err)
		}
	case <-sessCtx.Done():
		cancel()
		return nil, sessCtx.Err()
	}

	if err := openShell(sessCtx, client, channelID, target.PTY); err != nil {
		cancel()
		return nil, err
	}

	var activeRecorder *recorder.Recorder
	if rec != nil {
		r, err := recorder.New(rec.Root, sessionID.String(), target.PTY.Term, target.PTY.Cols, target.PTY.Rows)
		if err != nil {
			log.Warn("session: recorder disabled", "error", err)
		} else {
			activeRecorder = r
			sub := hub.Subscribe(nil, 0)
			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				for frame := range sub.C {
					if err := r.Write(frame); err != nil {
						log.Warn("session: recorder write failed", "error", err)
						return
					}
				}
			}()
			go func() {
				defer h.wg.Done()
				stop := make(chan struct{})
				go func() {
					<-sessCtx.Done()
					close(stop)
				}()
				if err := r.RunFlushLoop(stop, recorderFlushInterval); err != nil {
					log.Warn("session: recorder flush loop ended", "error", err)
				}
			}()
		}
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		pumpInbound(sessCtx, h.input, pipeMgr, client, channelID)
	}()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		pumpControl(sessCtx, h.control, client, channelID, cancel)
	}()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		<-sessCtx.Done()
		client.Abort()
		pipeMgr.Close()
		hub.Close()
		if activeRecorder != nil {
			activeRecorder.Close()
		}
	}()

	go func() {
		h.wg.Wait()
		close(h.done)
	}()

	return h, nil
}

func openShell(ctx context.Context, client *sshclient.Client, channelID uuid.UUID, pty sshclient.PTYRequest) error {
	steps := []sshclient.ChannelOp{
		{Kind: sshclient.OpOpenShell},
		{Kind: sshclient.OpRequestPty, PTY: pty},
		{Kind: sshclient.OpRequestShell},
	}
	for _, op := range steps {
		replyCh := make(chan error, 1)
		if err := client.Submit(ctx, sshclient.Command{Kind: sshclient.CmdChannel, ChannelID: channelID, Op: op, Reply: replyCh}); err != nil {
			return err
		}
		select {
		case err := <-replyCh:
			if err != nil {
				return fmt.Errorf("session: channel op %d: %w", op.Kind, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// routeClientEvents is the session's sole consumer of the actor's event
// stream. It trusts-on-first-use every presented host key (this gateway
// has no interactive operator prompt, per spec's Non-goals on outer
// surfaces) and feeds this session's channel output into the pipe.
func routeClientEvents(ctx context.Context, client *sshclient.Client, channelID uuid.UUID, pipeMgr *pipe.Manager, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case sshclient.EvHostKeyUnknown:
				select {
				case ev.HostKeyReply <- true:
				default:
				}
			case sshclient.EvConnectionError:
				if ev.Err != nil {
					log.Warn("session: connection error", "error", ev.Err)
				}
			case sshclient.EvOutput:
				if ev.ChannelID == channelID {
					pipeMgr.ProcessOutbound(ctx, ev.Data)
				}
			case sshclient.EvClose:
				if ev.ChannelID == channelID {
					return
				}
			case sshclient.EvDone:
				return
			}
		}
	}
}

func pumpInbound(ctx context.Context, input <-chan []byte, pipeMgr *pipe.Manager, client *sshclient.Client, channelID uuid.UUID) {
	send := func(d []byte) error {
		return client.Submit(ctx, sshclient.Command{Kind: sshclient.CmdChannel, ChannelID: channelID, Op: sshclient.ChannelOp{Kind: sshclient.OpData, Data: d}})
	}
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-input:
			if !ok {
				return
			}
			_ = pipeMgr.ProcessInbound(ctx, d, send)
		}
	}
}

func pumpControl(ctx context.Context, control <-chan ControlMsg, client *sshclient.Client, channelID uuid.UUID, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-control:
			if !ok {
				return
			}
			switch msg.Kind {
			case CtrlResize:
				_ = client.Submit(ctx, sshclient.Command{Kind: sshclient.CmdChannel, ChannelID: channelID, Op: sshclient.ChannelOp{
					Kind:   sshclient.OpResizePty,
					Resize: sshclient.PTYRequest{Cols: msg.Cols, Rows: msg.Rows},
				}})
			case CtrlSignal:
				_ = client.Submit(ctx, sshclient.Command{Kind: sshclient.CmdChannel, ChannelID: channelID, Op: sshclient.ChannelOp{Kind: sshclient.OpSignal, Signal: msg.Signal}})
			case CtrlEOF:
				_ = client.Submit(ctx, sshclient.Command{Kind: sshclient.CmdChannel, ChannelID: channelID, Op: sshclient.ChannelOp{Kind: sshclient.OpEOF}})
			case CtrlClose:
				_ = client.Submit(ctx, sshclient.Command{Kind: sshclient.CmdChannel, ChannelID: channelID, Op: sshclient.ChannelOp{Kind: sshclient.OpClose}})
				cancel()
			}
		}
	}
}
