// Package wsadapter implements the wire envelope at the user boundary
// (spec §6, "the adapter convention"): a JSON envelope with version/type/
// payload fields carried over an already-upgraded WebSocket connection. It
// owns no routing, authentication, or TLS termination, per spec's
// Non-goals — those are the caller's concern. Grounded on
// internal/relay/pty_relay.go's handlePTYWS (websocket.Accept, conn.Read/
// Write, json.Unmarshal envelope dispatch) and internal/ws/protocol.go's
// Envelope shape, narrowed to the two message kinds spec §6 defines.
package wsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/pesgel/gateway/internal/execstate"
	"github.com/pesgel/gateway/internal/session"
)

// protocolVersion is the only version this adapter understands, per spec
// §6's wire frame.
const protocolVersion = "1.0"

const (
	typeRaw    = "r" // raw keystrokes / paste, forwarded to Handle.Input
	typeResize = "w" // "<cols>:<rows>", forwarded to Handle.Control
)

// envelope is the JSON shape of every inbound frame, per spec §6.
type envelope struct {
	Version string `json:"version"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// Serve pumps one WebSocket connection against one session Handle until
// either side closes: inbound envelopes are decoded and routed to Input/
// Control, and the session's RawBytes events are mirrored back to the
// browser as binary frames, per spec §4.2 step 2's "websocket mirror".
// conn is assumed already upgraded (websocket.Accept or equivalent) — this
// package does no HTTP routing of its own.
func Serve(ctx context.Context, conn *websocket.Conn, h *session.Handle, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	go func() {
		errCh <- pumpOutbound(ctx, conn, h)
	}()
	go func() {
		errCh <- pumpInboundFrames(ctx, conn, h, log)
	}()

	err := <-errCh
	cancel()
	return err
}

func pumpInboundFrames(ctx context.Context, conn *websocket.Conn, h *session.Handle, log *slog.Logger) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn("wsadapter: malformed envelope", "error", err)
			continue
		}
		if env.Version != "" && env.Version != protocolVersion {
			log.Warn("wsadapter: unsupported version", "version", env.Version)
			continue
		}

		switch env.Type {
		case typeRaw:
			select {
			case h.Input() <- []byte(env.Payload):
			case <-ctx.Done():
				return ctx.Err()
			}

		case typeResize:
			cols, rows, err := parseResize(env.Payload)
			if err != nil {
				log.Warn("wsadapter: bad resize payload", "payload", env.Payload, "error", err)
				continue
			}
			select {
			case h.Control() <- session.ControlMsg{Kind: session.CtrlResize, Cols: cols, Rows: rows}:
			case <-ctx.Done():
				return ctx.Err()
			}

		default:
			log.Warn("wsadapter: unknown frame type", "type", env.Type)
		}
	}
}

// parseResize decodes the "<cols>:<rows>" payload of a type=="w" frame.
func parseResize(payload string) (cols, rows int, err error) {
	parts := strings.SplitN(payload, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("wsadapter: expected \"cols:rows\", got %q", payload)
	}
	cols, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	rows, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return cols, rows, nil
}

func pumpOutbound(ctx context.Context, conn *websocket.Conn, h *session.Handle) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-h.Events():
			if !ok {
				return nil
			}
			if ev.Kind != execstate.RawBytes {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageBinary, ev.Bytes); err != nil {
				return err
			}
		}
	}
}
